package attach

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"
)

// Scratch is the subsystem-owned temp directory where buffers and decoded
// payloads are materialized. Files are named <timestamp>-<originalFilename>
// so the drag engine's ignore filter can recognize them.
type Scratch struct {
	dir string
}

// NewScratch creates the scratch directory if needed.
func NewScratch(dir string) (*Scratch, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve scratch dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	return &Scratch{dir: abs}, nil
}

// Dir returns the absolute scratch directory path.
func (s *Scratch) Dir() string {
	return s.dir
}

// Contains reports whether path lives under the scratch directory.
func (s *Scratch) Contains(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(s.dir, abs)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Materialize writes data to a fresh temp file and returns its path. The
// caller's attachment becomes the exclusive owner of the file.
func (s *Scratch) Materialize(data []byte, originalName string) (string, error) {
	name := sanitizeFilename(originalName)
	if name == "" {
		name = "attachment.bin"
	}
	base := fmt.Sprintf("%d-%s", time.Now().UnixNano(), name)
	path := filepath.Join(s.dir, base)

	// The nanosecond prefix makes collisions unlikely; rename on the off
	// chance two writers land on the same tick.
	for i := 1; ; i++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		path = filepath.Join(s.dir, fmt.Sprintf("%d-%d-%s", time.Now().UnixNano(), i, name))
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", &IngestError{Type: ErrorTypeIO, Path: path, Message: "materialize buffer", Err: err}
	}
	return path, nil
}

// Sweep removes every file under the scratch directory, best effort. It
// returns the number of entries removed; failures are reported through the
// returned error slice and never abort the sweep.
func (s *Scratch) Sweep() (int, []error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, []error{fmt.Errorf("read scratch dir: %w", err)}
	}

	removed := 0
	var errs []error
	for _, entry := range entries {
		path := filepath.Join(s.dir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", path, err))
			continue
		}
		removed++
	}
	return removed, errs
}

// sanitizeFilename strips path separators and control characters so a
// hostile original name cannot escape the scratch directory.
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == string(filepath.Separator) {
		return ""
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsControl(r):
			continue
		case r == '/' || r == '\\' || r == ':':
			b.WriteRune('-')
		default:
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), ". ")
}

// formatBytes renders a byte count for diagnostics.
func formatBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1fMB", float64(n)/float64(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1fKB", float64(n)/float64(1<<10))
	default:
		return fmt.Sprintf("%dB", n)
	}
}
