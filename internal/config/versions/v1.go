package versions

// ConfigV1 is the first versioned layout.
// Changes from v0:
// - Added ConfigVersion field
// - Size ceilings moved from raw bytes to whole MiB
// - Renamed temp_dir to scratch_dir, window_ms to detection_window_ms,
//   poll_ms to poll_interval_ms, settle_ms to settle_delay_ms
// - Renamed history_file/ledger_file to history_path/ledger_path
type ConfigV1 struct {
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
