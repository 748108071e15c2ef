package attach

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

func TestScratchMaterialize(t *testing.T) {
	scratch := newTestScratch(t)

	path, err := scratch.Materialize([]byte("payload"), "report.pdf")
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read materialized file: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("Content mismatch: %q", data)
	}

	base := filepath.Base(path)
	if matched, _ := regexp.MatchString(`^\d+-report\.pdf$`, base); !matched {
		t.Errorf("Expected <timestamp>-report.pdf naming, got %q", base)
	}
	if !scratch.Contains(path) {
		t.Errorf("Contains should report its own file %s", path)
	}
}

func TestScratchSanitizesHostileNames(t *testing.T) {
	scratch := newTestScratch(t)

	tests := []struct {
		name string
	}{
		{"../../etc/passwd"},
		{"nested/dir/file.txt"},
		{"  spaced.txt  "},
		{""},
	}
	for _, tt := range tests {
		path, err := scratch.Materialize([]byte("x"), tt.name)
		if err != nil {
			t.Fatalf("Materialize(%q) failed: %v", tt.name, err)
		}
		if !scratch.Contains(path) {
			t.Errorf("Materialize(%q) escaped the scratch dir: %s", tt.name, path)
		}
		if strings.Contains(filepath.Base(path), "..") {
			t.Errorf("Materialize(%q) kept traversal in name: %s", tt.name, path)
		}
	}
}

func TestScratchContains(t *testing.T) {
	scratch := newTestScratch(t)

	outside := filepath.Join(t.TempDir(), "outside.txt")
	if scratch.Contains(outside) {
		t.Errorf("Contains should reject %s", outside)
	}
	sibling := scratch.Dir() + "-sibling/file.txt"
	if scratch.Contains(sibling) {
		t.Errorf("Contains should reject prefix-sibling %s", sibling)
	}
}

func TestScratchSweep(t *testing.T) {
	scratch := newTestScratch(t)

	for i := 0; i < 3; i++ {
		if _, err := scratch.Materialize([]byte("x"), "f.bin"); err != nil {
			t.Fatalf("Materialize failed: %v", err)
		}
	}

	removed, errs := scratch.Sweep()
	if len(errs) != 0 {
		t.Fatalf("Sweep errors: %v", errs)
	}
	if removed != 3 {
		t.Errorf("Expected 3 removed, got %d", removed)
	}

	entries, err := os.ReadDir(scratch.Dir())
	if err != nil {
		t.Fatalf("read scratch dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected empty scratch dir, found %d entries", len(entries))
	}

	// Sweeping an already-empty dir is not an error
	if removed, errs := scratch.Sweep(); removed != 0 || len(errs) != 0 {
		t.Errorf("Second sweep should be a no-op, got %d removed %v", removed, errs)
	}
}
