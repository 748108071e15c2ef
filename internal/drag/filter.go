package drag

import (
	"path/filepath"
	"regexp"
	"strings"
)

// scratchNamePattern matches the pipeline's own materialized temp files,
// named <nanosecond timestamp>-<original name>. Millisecond-scale prefixes
// are matched too so foreign tools with the same habit stay out.
var scratchNamePattern = regexp.MustCompile(`^\d{13,}-`)

// partialSuffixes mark files another process is still producing. Browsers
// and download managers rename these away when the payload is complete.
var partialSuffixes = []string{".part", ".crdownload", ".download", ".tmp", ".partial"}

// swapSuffixes are editor working files that show up in watched directories.
var swapSuffixes = []string{".swp", ".swo", ".swx"}

// Filter decides which discovered paths can never be drop candidates.
// Without it the directory poll re-discovers the pipeline's own temp files
// and feeds them back into ingestion, creating a loop.
type Filter struct {
	scratchDir string
}

// NewFilter builds a filter that unconditionally rejects anything under the
// given scratch directory.
func NewFilter(scratchDir string) *Filter {
	abs, err := filepath.Abs(scratchDir)
	if err != nil {
		abs = scratchDir
	}
	return &Filter{scratchDir: abs}
}

// Ignore reports whether path must be dropped before candidate handling,
// with a short reason for the dev log.
func (f *Filter) Ignore(path string) (bool, string) {
	base := filepath.Base(path)

	if f.scratchDir != "" && underDir(f.scratchDir, path) {
		return true, "inside scratch directory"
	}
	if strings.HasPrefix(base, ".") {
		return true, "hidden file"
	}
	if scratchNamePattern.MatchString(base) {
		return true, "scratch naming pattern"
	}
	if strings.HasSuffix(base, "~") {
		return true, "backup suffix"
	}
	if strings.HasPrefix(base, "#") && strings.HasSuffix(base, "#") {
		return true, "autosave file"
	}

	lower := strings.ToLower(base)
	for _, suffix := range partialSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true, "partial download"
		}
	}
	for _, suffix := range swapSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true, "editor swap file"
		}
	}

	// A drop always carries the original filename; extensionless names in
	// temp directories are almost always another program's work files.
	if filepath.Ext(base) == "" {
		return true, "no extension"
	}
	return false, ""
}

// underDir reports whether path sits at or below dir.
func underDir(dir, path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(dir, abs)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
