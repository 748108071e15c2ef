package versions

// ConfigV0 is the unversioned layout from before the config_version field
// existed. Size ceilings were raw byte counts and several keys carried
// different names than the current layout.
type ConfigV0 struct {
	MaxAttachments      int      `yaml:"max_attachments"`
	MaxTotalSizeBytes   int64    `yaml:"max_total_size_bytes"`
	MaxFileSizeBytes    int64    `yaml:"max_file_size_bytes"`
	MaxImageSizeBytes   int64    `yaml:"max_image_size_bytes"`
	MaxDragSizeBytes    int64    `yaml:"max_drag_size_bytes"`
	TempDir             string   `yaml:"temp_dir"`
	WindowMs            int      `yaml:"window_ms"`
	PollMs              int      `yaml:"poll_ms"`
	SettleMs            int      `yaml:"settle_ms"`
	StabilityRetries    int      `yaml:"stability_retries"`
	WatchDirs           []string `yaml:"watch_dirs"`
	HistoryFile         string   `yaml:"history_file"`
	HistoryLimit        int      `yaml:"history_limit"`
	LedgerFile          string   `yaml:"ledger_file"`
	FetchTimeoutSeconds int      `yaml:"fetch_timeout_seconds"`
	FetchMaxBytes       int64    `yaml:"fetch_max_bytes"`
	LogJSON             bool     `yaml:"log_json"`
}
