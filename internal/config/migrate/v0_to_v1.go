package migrate

import (
	"gopkg.in/yaml.v3"

	"parley/internal/config/versions"
)

// MigrationV0toV1 migrates from unversioned config to v1
type MigrationV0toV1 struct{}

func (m *MigrationV0toV1) FromVersion() int { return Version0 }
func (m *MigrationV0toV1) ToVersion() int   { return Version1 }
func (m *MigrationV0toV1) Description() string {
	return "Add versioning, convert size ceilings from bytes to MiB, rename timing and path keys"
}

// bytesToMB converts a v0 byte ceiling to whole MiB, rounding up so a
// migrated limit never sits below what the user had. Zero or negative
// means unset and stays zero for the default pass below.
func bytesToMB(b int64) int {
	if b <= 0 {
		return 0
	}
	return int((b + (1 << 20) - 1) >> 20)
}

func (m *MigrationV0toV1) Migrate(data []byte) ([]byte, error) {
	// Parse v0 config
	var v0 versions.ConfigV0
	if err := yaml.Unmarshal(data, &v0); err != nil {
		return nil, err
	}

	// Create v1 with same data, converting units and renaming keys
	v1 := versions.ConfigV1{
		ConfigVersion:       Version1,
		MaxAttachments:      v0.MaxAttachments,
		MaxTotalSizeMB:      bytesToMB(v0.MaxTotalSizeBytes),
		MaxFileSizeMB:       bytesToMB(v0.MaxFileSizeBytes),
		MaxImageSizeMB:      bytesToMB(v0.MaxImageSizeBytes),
		MaxDragSizeMB:       bytesToMB(v0.MaxDragSizeBytes),
		ScratchDir:          v0.TempDir,
		DetectionWindowMs:   v0.WindowMs,
		PollIntervalMs:      v0.PollMs,
		SettleDelayMs:       v0.SettleMs,
		StabilityRetries:    v0.StabilityRetries,
		WatchDirs:           v0.WatchDirs,
		HistoryPath:         v0.HistoryFile,
		HistoryLimit:        v0.HistoryLimit,
		LedgerPath:          v0.LedgerFile,
		FetchTimeoutSeconds: v0.FetchTimeoutSeconds,
		FetchMaxSizeMB:      bytesToMB(v0.FetchMaxBytes),
		LogJSON:             v0.LogJSON,
	}

	// Apply fixes for common v0 issues

	// 1. Fill missing size ceilings with current defaults
	if v1.MaxAttachments <= 0 {
		v1.MaxAttachments = 10
	}
	if v1.MaxTotalSizeMB <= 0 {
		v1.MaxTotalSizeMB = 50
	}
	if v1.MaxFileSizeMB <= 0 {
		v1.MaxFileSizeMB = 10
	}
	if v1.MaxImageSizeMB <= 0 {
		v1.MaxImageSizeMB = 5
	}
	if v1.MaxDragSizeMB <= 0 {
		v1.MaxDragSizeMB = 50
	}

	// 2. Enforce image <= file <= total by raising the outer ceiling,
	// never by shrinking a limit the user chose
	if v1.MaxImageSizeMB > v1.MaxFileSizeMB {
		v1.MaxFileSizeMB = v1.MaxImageSizeMB
	}
	if v1.MaxFileSizeMB > v1.MaxTotalSizeMB {
		v1.MaxTotalSizeMB = v1.MaxFileSizeMB
	}

	// 3. Cap max_attachments at the validation maximum
	if v1.MaxAttachments > 100 {
		v1.MaxAttachments = 100
	}

	// 4. Fill and clamp timing keys
	if v1.DetectionWindowMs <= 0 {
		v1.DetectionWindowMs = 3000
	} else if v1.DetectionWindowMs > 60000 {
		v1.DetectionWindowMs = 60000
	}
	if v1.PollIntervalMs <= 0 {
		v1.PollIntervalMs = 500
	} else if v1.PollIntervalMs > 1000 {
		v1.PollIntervalMs = 1000
	}
	if v1.SettleDelayMs <= 0 {
		v1.SettleDelayMs = 1500
	} else if v1.SettleDelayMs > 10000 {
		v1.SettleDelayMs = 10000
	}

	// 5. Fix stability retries
	if v1.StabilityRetries <= 0 {
		v1.StabilityRetries = 3
	}

	// 6. Fix history limit
	if v1.HistoryLimit <= 0 {
		v1.HistoryLimit = 500
	}

	// 7. Fix fetch limits
	if v1.FetchTimeoutSeconds <= 0 {
		v1.FetchTimeoutSeconds = 30
	} else if v1.FetchTimeoutSeconds > 600 {
		v1.FetchTimeoutSeconds = 600
	}
	if v1.FetchMaxSizeMB <= 0 {
		v1.FetchMaxSizeMB = 2
	}

	// ScratchDir, HistoryPath and LedgerPath stay as written, including
	// empty. Blank values are resolved at load time against the config
	// directory, and baking an absolute path in here would freeze it.

	// Marshal to YAML
	return yaml.Marshal(&v1)
}
