package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// RunState records whether the previous process run shut down cleanly. A
// run that never marked its exit clean may have left orphaned files in the
// scratch directory; startup sweeps them before building a fresh registry.
type RunState struct {
	StartedAt   time.Time `json:"startedAt"`
	LastVersion string    `json:"lastVersion"`
	CleanExit   bool      `json:"cleanExit"`
}

const runStateFile = "run-state.json"

// LoadRunState loads the previous run's state from disk. A missing file
// means there was no previous run, which counts as a clean exit; an
// unreadable one counts as unclean so the scratch sweep still happens.
func LoadRunState() (*RunState, error) {
	path := filepath.Join(GetConfigDir(), runStateFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &RunState{CleanExit: true}, nil
		}
		return nil, err
	}
	var state RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return &RunState{}, nil
	}
	return &state, nil
}

// BeginRun stamps the state for the current process and persists it with
// CleanExit unset. Until MarkCleanExit runs, any later startup treats this
// run as having crashed.
func (s *RunState) BeginRun(version string) error {
	s.StartedAt = time.Now()
	s.LastVersion = version
	s.CleanExit = false
	return s.Save()
}

// MarkCleanExit persists the clean-shutdown flag.
func (s *RunState) MarkCleanExit() error {
	s.CleanExit = true
	return s.Save()
}

// Save persists run state to disk.
func (s *RunState) Save() error {
	path := filepath.Join(GetConfigDir(), runStateFile)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
