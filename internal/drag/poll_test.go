package drag

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestPoller(dirs []string) *poller {
	return newPoller(dirs, 100*time.Millisecond, 2*time.Second, NewFilter("/nonexistent/scratch"))
}

func TestPollerScanOffersFreshFilesOnce(t *testing.T) {
	dir := t.TempDir()
	p := newTestPoller([]string{dir})

	if batch := p.scan(time.Now()); len(batch) != 0 {
		t.Fatalf("Empty dir produced batch %v", batch)
	}

	path := writeDropFile(t, dir, "fresh.txt")
	batch := p.scan(time.Now())
	if len(batch) != 1 || batch[0] != path {
		t.Fatalf("Expected [%s], got %v", path, batch)
	}

	if batch := p.scan(time.Now()); len(batch) != 0 {
		t.Errorf("Unchanged file re-offered: %v", batch)
	}
}

func TestPollerScanReoffersOnModification(t *testing.T) {
	dir := t.TempDir()
	p := newTestPoller([]string{dir})

	path := writeDropFile(t, dir, "doc.txt")
	if batch := p.scan(time.Now()); len(batch) != 1 {
		t.Fatal("Expected initial offer")
	}

	later := time.Now().Add(50 * time.Millisecond)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	batch := p.scan(time.Now().Add(100 * time.Millisecond))
	if len(batch) != 1 || batch[0] != path {
		t.Errorf("Modified file not re-offered: %v", batch)
	}
}

func TestPollerScanSkipsStaleFiles(t *testing.T) {
	dir := t.TempDir()
	p := newTestPoller([]string{dir})

	path := writeDropFile(t, dir, "old.txt")
	stale := time.Now().Add(-time.Minute)
	if err := os.Chtimes(path, stale, stale); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if batch := p.scan(time.Now()); len(batch) != 0 {
		t.Errorf("File older than the window offered: %v", batch)
	}
}

func TestPollerScanRespectsFilter(t *testing.T) {
	dir := t.TempDir()
	p := newTestPoller([]string{dir})

	writeDropFile(t, dir, ".hidden.txt")
	writeDropFile(t, dir, "video.mp4.part")
	good := writeDropFile(t, dir, "good.txt")

	batch := p.scan(time.Now())
	if len(batch) != 1 || batch[0] != good {
		t.Errorf("Filter not applied during scan, got %v", batch)
	}
}

func TestPollerScanSkipsMissingDirs(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent")
	p := newTestPoller([]string{missing})
	if batch := p.scan(time.Now()); len(batch) != 0 {
		t.Errorf("Missing dir produced batch %v", batch)
	}
}

func TestPollerPrunesBookkeeping(t *testing.T) {
	dir := t.TempDir()
	p := newPoller([]string{dir}, 50*time.Millisecond, 100*time.Millisecond, NewFilter("/nonexistent/scratch"))

	writeDropFile(t, dir, "a.txt")
	p.scan(time.Now())
	if len(p.known) != 1 {
		t.Fatalf("Expected one bookkeeping entry, have %d", len(p.known))
	}

	// well past ten windows the entry is dropped
	p.scan(time.Now().Add(2 * time.Second))
	if len(p.known) != 0 {
		t.Errorf("Stale bookkeeping kept: %d entries", len(p.known))
	}
}
