package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Attachment pipeline defaults. Sizes are MiB in the YAML file and converted
// to bytes through the accessor methods.
const (
	DefaultMaxAttachments   = 10
	DefaultMaxTotalSizeMB   = 50
	DefaultMaxFileSizeMB    = 10
	DefaultMaxImageSizeMB   = 5
	DefaultMaxDragSizeMB    = 50
	DefaultDetectionWindow  = 3000 // milliseconds
	DefaultPollInterval     = 500  // milliseconds
	DefaultSettleDelay      = 1500 // milliseconds
	DefaultStabilityRetries = 3
)

// Config captures the tunable runtime settings for the client.
type Config struct {
	ConfigVersion       int      `yaml:"config_version"`
	MaxAttachments      int      `yaml:"max_attachments"`
	MaxTotalSizeMB      int      `yaml:"max_total_size_mb"`
	MaxFileSizeMB       int      `yaml:"max_file_size_mb"`
	MaxImageSizeMB      int      `yaml:"max_image_size_mb"`
	MaxDragSizeMB       int      `yaml:"max_drag_size_mb"`
	ScratchDir          string   `yaml:"scratch_dir"`
	DetectionWindowMs   int      `yaml:"detection_window_ms"`
	PollIntervalMs      int      `yaml:"poll_interval_ms"`
	SettleDelayMs       int      `yaml:"settle_delay_ms"`
	StabilityRetries    int      `yaml:"stability_retries"`
	WatchDirs           []string `yaml:"watch_dirs"`
	HistoryPath         string   `yaml:"history_path"`
	HistoryLimit        int      `yaml:"history_limit"`
	LedgerPath          string   `yaml:"ledger_path"`
	FetchTimeoutSeconds int      `yaml:"fetch_timeout_seconds"`
	FetchMaxSizeMB      int      `yaml:"fetch_max_size_mb"`
	LogJSON             bool     `yaml:"log_json"`
}

// EnsureDefaultConfig creates config.yaml with defaults if it doesn't exist.
func EnsureDefaultConfig() error {
	configDir := GetConfigDir()
	configPath := filepath.Join(configDir, "config.yaml")

	if _, err := os.Stat(configPath); err == nil {
		return nil
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	cfg := Config{}
	cfg.applyDefaults()

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// LoadUserConfig loads configuration from ~/.parley/config.yaml.
// Checks PARLEY_CONFIG_PATH environment variable first.
// If the file doesn't exist, returns defaults.
func LoadUserConfig() (Config, error) {
	configPath := os.Getenv("PARLEY_CONFIG_PATH")
	if configPath == "" {
		configPath = filepath.Join(GetConfigDir(), "config.yaml")
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := Config{}
		cfg.applyDefaults()
		return cfg, nil
	}

	return Load(configPath)
}

// Load reads the YAML configuration from disk and injects sane defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyDefaults fills in optional values to keep the YAML file concise.
func (c *Config) applyDefaults() {
	if c.ConfigVersion <= 0 {
		// Literal rather than migrate.CurrentVersion to avoid an import cycle.
		c.ConfigVersion = 1
	}
	if c.MaxAttachments <= 0 {
		c.MaxAttachments = DefaultMaxAttachments
	}
	if c.MaxTotalSizeMB <= 0 {
		c.MaxTotalSizeMB = DefaultMaxTotalSizeMB
	}
	if c.MaxFileSizeMB <= 0 {
		c.MaxFileSizeMB = DefaultMaxFileSizeMB
	}
	if c.MaxImageSizeMB <= 0 {
		c.MaxImageSizeMB = DefaultMaxImageSizeMB
	}
	if c.MaxDragSizeMB <= 0 {
		c.MaxDragSizeMB = DefaultMaxDragSizeMB
	}
	if strings.TrimSpace(c.ScratchDir) == "" {
		c.ScratchDir = filepath.Join(os.TempDir(), "parley-attachments")
	}
	if c.DetectionWindowMs <= 0 {
		c.DetectionWindowMs = DefaultDetectionWindow
	}
	if c.PollIntervalMs <= 0 {
		c.PollIntervalMs = DefaultPollInterval
	}
	if c.SettleDelayMs <= 0 {
		c.SettleDelayMs = DefaultSettleDelay
	}
	if c.StabilityRetries <= 0 {
		c.StabilityRetries = DefaultStabilityRetries
	}
	if strings.TrimSpace(c.HistoryPath) == "" {
		c.HistoryPath = filepath.Join(GetConfigDir(), "history")
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 500
	}
	if strings.TrimSpace(c.LedgerPath) == "" {
		c.LedgerPath = filepath.Join(GetConfigDir(), "ledger.db")
	}
	if c.FetchTimeoutSeconds <= 0 {
		c.FetchTimeoutSeconds = 30
	}
	if c.FetchMaxSizeMB <= 0 {
		c.FetchMaxSizeMB = 2
	}
}

func (c Config) validate() error {
	if c.MaxAttachments > 100 {
		return fmt.Errorf("max_attachments cannot exceed 100 (got %d)", c.MaxAttachments)
	}
	if c.MaxFileSizeMB > c.MaxTotalSizeMB {
		return fmt.Errorf("max_file_size_mb (%d) cannot exceed max_total_size_mb (%d)", c.MaxFileSizeMB, c.MaxTotalSizeMB)
	}
	if c.MaxImageSizeMB > c.MaxFileSizeMB {
		return fmt.Errorf("max_image_size_mb (%d) cannot exceed max_file_size_mb (%d)", c.MaxImageSizeMB, c.MaxFileSizeMB)
	}
	if c.PollIntervalMs > 1000 {
		return fmt.Errorf("poll_interval_ms cannot exceed 1000 (got %d)", c.PollIntervalMs)
	}
	if c.SettleDelayMs > 10000 {
		return fmt.Errorf("settle_delay_ms cannot exceed 10000 (got %d)", c.SettleDelayMs)
	}
	if c.DetectionWindowMs > 60000 {
		return fmt.Errorf("detection_window_ms cannot exceed 60000 (got %d)", c.DetectionWindowMs)
	}
	if c.FetchTimeoutSeconds > 600 {
		return fmt.Errorf("fetch_timeout_seconds cannot exceed 600 (10 minutes)")
	}
	return nil
}

// MaxTotalSizeBytes converts the MiB ceiling into bytes for the registry.
func (c Config) MaxTotalSizeBytes() int64 {
	return int64(c.MaxTotalSizeMB) << 20
}

// MaxFileSizeBytes is the generic per-file ceiling in bytes.
func (c Config) MaxFileSizeBytes() int64 {
	return int64(c.MaxFileSizeMB) << 20
}

// MaxImageSizeBytes is the per-image ceiling in bytes.
func (c Config) MaxImageSizeBytes() int64 {
	return int64(c.MaxImageSizeMB) << 20
}

// MaxDragSizeBytes is the ceiling for drag-sourced files in bytes.
func (c Config) MaxDragSizeBytes() int64 {
	return int64(c.MaxDragSizeMB) << 20
}

// FetchMaxSizeBytes caps page downloads for the fetch command.
func (c Config) FetchMaxSizeBytes() int64 {
	return int64(c.FetchMaxSizeMB) << 20
}

// DetectionWindow turns the integer value into a duration for the drag engine.
func (c Config) DetectionWindow() time.Duration {
	return time.Duration(c.DetectionWindowMs) * time.Millisecond
}

// PollInterval exposes the configured duration between directory scans.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// SettleDelay exposes the initial stability settle interval.
func (c Config) SettleDelay() time.Duration {
	return time.Duration(c.SettleDelayMs) * time.Millisecond
}

// FetchTimeout turns the integer value into a duration for HTTP clients.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

func GetConfigDir() string {
	if configDir := os.Getenv("PARLEY_CONFIG_DIR"); configDir != "" {
		return configDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".parley"
	}
	return filepath.Join(home, ".parley")
}

// Save writes the config to the user's config file.
func Save(c Config) error {
	configPath := os.Getenv("PARLEY_CONFIG_PATH")
	if configPath == "" {
		configPath = filepath.Join(GetConfigDir(), "config.yaml")
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
