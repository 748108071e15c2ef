package attach

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *eventRecorder) callback() EventCallback {
	return func(event string, data any) {
		r.mu.Lock()
		r.events = append(r.events, event)
		r.mu.Unlock()
	}
}

func (r *eventRecorder) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == event {
			n++
		}
	}
	return n
}

func newTestCoordinator(t *testing.T, opts Options) (*Coordinator, *eventRecorder) {
	t.Helper()
	rec := &eventRecorder{}
	if opts.ScratchDir == "" {
		opts.ScratchDir = filepath.Join(t.TempDir(), "scratch")
	}
	if opts.SettleDelay == 0 {
		opts.SettleDelay = 10 * time.Millisecond
	}
	if opts.StabilityRetries == 0 {
		opts.StabilityRetries = 2
	}
	opts.OnEvent = rec.callback()
	coord, err := NewCoordinator(opts)
	if err != nil {
		t.Fatalf("NewCoordinator failed: %v", err)
	}
	t.Cleanup(coord.Shutdown)
	return coord, rec
}

func writeFixture(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture %s: %v", name, err)
	}
	return path
}

func TestSubmitFilePathEndToEnd(t *testing.T) {
	dir := t.TempDir()
	path := writeFixture(t, dir, "notes.txt", "meeting notes")
	coord, rec := newTestCoordinator(t, Options{})

	att, err := coord.SubmitFilePath(context.Background(), path)
	if err != nil {
		t.Fatalf("SubmitFilePath failed: %v", err)
	}
	if att.ID == "" {
		t.Error("Expected an assigned id")
	}
	if att.Kind != KindFile || att.IsTempFile {
		t.Errorf("Expected plain file attachment, got kind=%s temp=%v", att.Kind, att.IsTempFile)
	}
	if string(att.Data) != "meeting notes" {
		t.Errorf("Content mismatch: %q", att.Data)
	}
	if att.Source.Origin != OriginFileRef {
		t.Errorf("Expected file-reference origin, got %s", att.Source.Origin)
	}
	if !filepath.IsAbs(att.Source.OriginalPath) {
		t.Errorf("Expected absolute original path, got %s", att.Source.OriginalPath)
	}
	if rec.count(EventAttachmentAdded) != 1 {
		t.Errorf("Expected one attachment-added event")
	}
	if stats := coord.Stats(); stats.Count != 1 || stats.FileCount != 1 {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestConcurrentDoubleSubmissionYieldsOneAttachment(t *testing.T) {
	dir := t.TempDir()
	path := writeFixture(t, dir, "shared.txt", "raced content")
	coord, _ := newTestCoordinator(t, Options{})

	const workers = 8
	var wg sync.WaitGroup
	results := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			_, results[slot] = coord.SubmitFilePath(context.Background(), path)
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range results {
		if err == nil {
			successes++
			continue
		}
		if ie, ok := IsIngestError(err); !ok || ie.Type != ErrorTypeAlreadyRegistered {
			t.Errorf("Expected already_registered for losers, got %v", err)
		}
	}
	if successes != 1 {
		t.Fatalf("Expected exactly one winning submission, got %d", successes)
	}
	if stats := coord.Stats(); stats.Count != 1 {
		t.Errorf("Expected one attachment, got %d", stats.Count)
	}
}

func TestAttachmentLimitScenario(t *testing.T) {
	dir := t.TempDir()
	coord, _ := newTestCoordinator(t, Options{MaxAttachments: 2})

	var err error
	for i := 0; i < 2; i++ {
		path := writeFixture(t, dir, fmt.Sprintf("doc%d.txt", i), "content")
		if _, err = coord.SubmitFilePath(context.Background(), path); err != nil {
			t.Fatalf("submission %d failed: %v", i, err)
		}
	}

	third := writeFixture(t, dir, "doc2.txt", "content")
	_, err = coord.SubmitFilePath(context.Background(), third)
	ie, ok := IsIngestError(err)
	if !ok || ie.Type != ErrorTypeQuotaExceeded {
		t.Fatalf("Expected quota_exceeded on third submission, got %v", err)
	}
	if stats := coord.Stats(); stats.Count != 2 {
		t.Errorf("Expected count 2, got %d", stats.Count)
	}
}

func TestRejectionLeavesNoProcessingState(t *testing.T) {
	coord, _ := newTestCoordinator(t, Options{})
	missing := filepath.Join(t.TempDir(), "missing.txt")

	for attempt := 0; attempt < 2; attempt++ {
		_, err := coord.SubmitFilePath(context.Background(), missing)
		ie, ok := IsIngestError(err)
		if !ok || ie.Type != ErrorTypeNotFound {
			t.Fatalf("attempt %d: expected not_found, got %v", attempt, err)
		}
	}
	if stats := coord.Stats(); stats.Count != 0 {
		t.Errorf("Expected empty registry after rejections, got %d", stats.Count)
	}
}

func TestSubmitUnstableCandidateDropped(t *testing.T) {
	dir := t.TempDir()
	path := writeFixture(t, dir, "stream.bin", "x")
	coord, _ := newTestCoordinator(t, Options{SettleDelay: 15 * time.Millisecond, StabilityRetries: 2})

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-time.After(4 * time.Millisecond):
				f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
				if err != nil {
					return
				}
				f.Write([]byte("xxxx"))
				f.Close()
			}
		}
	}()

	_, err := coord.SubmitFilePath(context.Background(), path)
	ie, ok := IsIngestError(err)
	if !ok || ie.Type != ErrorTypeStabilityTimeout {
		t.Fatalf("Expected stability_timeout, got %v", err)
	}
	if stats := coord.Stats(); stats.Count != 0 {
		t.Errorf("Unstable candidate must not register, got count %d", stats.Count)
	}
}

func TestSubmitBufferMaterializesToScratch(t *testing.T) {
	coord, rec := newTestCoordinator(t, Options{})

	att, err := coord.SubmitBuffer([]byte("fetched page"), "page.md", "text/markdown", Source{Origin: OriginUpload})
	if err != nil {
		t.Fatalf("SubmitBuffer failed: %v", err)
	}
	if !att.IsTempFile || att.TempPath == "" {
		t.Fatal("Expected buffer to materialize as an owned temp file")
	}
	if len(att.Data) != 0 {
		t.Error("Temp-file attachment must not also hold in-memory bytes")
	}
	if !strings.HasPrefix(att.TempPath, coord.ScratchDir()) {
		t.Errorf("Temp file %s is outside scratch %s", att.TempPath, coord.ScratchDir())
	}
	data, err := os.ReadFile(att.TempPath)
	if err != nil {
		t.Fatalf("read temp file: %v", err)
	}
	if string(data) != "fetched page" {
		t.Errorf("Temp content mismatch: %q", data)
	}
	if rec.count(EventAttachmentAdded) != 1 {
		t.Error("Expected attachment-added event")
	}
}

func TestSubmitBufferRejectionLeavesNothingBehind(t *testing.T) {
	coord, _ := newTestCoordinator(t, Options{MaxAttachments: 1})

	if _, err := coord.SubmitBuffer([]byte("first"), "a.txt", "", Source{Origin: OriginUpload}); err != nil {
		t.Fatalf("first buffer failed: %v", err)
	}
	_, err := coord.SubmitBuffer([]byte("second"), "b.txt", "", Source{Origin: OriginUpload})
	ie, ok := IsIngestError(err)
	if !ok || ie.Type != ErrorTypeQuotaExceeded {
		t.Fatalf("Expected quota_exceeded, got %v", err)
	}

	entries, err := os.ReadDir(coord.ScratchDir())
	if err != nil {
		t.Fatalf("read scratch: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("Rejected buffer left debris: %d scratch entries", len(entries))
	}
}

func TestSubmitBufferSizeCeilings(t *testing.T) {
	coord, _ := newTestCoordinator(t, Options{
		MaxFileBytes:  100,
		MaxImageBytes: 50,
		MaxDragBytes:  200,
		MaxTotalBytes: 10 << 20,
	})

	tests := []struct {
		name     string
		size     int
		filename string
		origin   Origin
		wantErr  bool
	}{
		{"file within ceiling", 80, "ok.txt", OriginUpload, false},
		{"file over ceiling", 150, "big.txt", OriginUpload, true},
		{"image over image ceiling", 80, "big.png", OriginUpload, true},
		{"drag allowance raises ceiling", 150, "dragged.txt", OriginDrag, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := coord.SubmitBuffer(make([]byte, tt.size), tt.filename, "", Source{Origin: tt.origin})
			if tt.wantErr {
				ie, ok := IsIngestError(err)
				if !ok || ie.Type != ErrorTypeTooLarge {
					t.Fatalf("Expected too_large, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected success, got %v", err)
			}
		})
	}
}

func TestRemoveDeletesTempFile(t *testing.T) {
	coord, rec := newTestCoordinator(t, Options{})

	att, err := coord.SubmitBuffer([]byte("temp content"), "t.txt", "", Source{Origin: OriginUpload})
	if err != nil {
		t.Fatalf("SubmitBuffer failed: %v", err)
	}

	if _, err := coord.Remove(att.ID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := os.Stat(att.TempPath); !os.IsNotExist(err) {
		t.Errorf("Expected temp file removed with attachment")
	}
	if rec.count(EventAttachmentRemoved) != 1 {
		t.Error("Expected attachment-removed event")
	}

	if _, err := coord.Remove(att.ID); err == nil {
		t.Error("Expected error on removing unknown id")
	}
}

func TestClearDeletesAllTempFiles(t *testing.T) {
	coord, rec := newTestCoordinator(t, Options{})

	var paths []string
	for i := 0; i < 3; i++ {
		att, err := coord.SubmitBuffer([]byte("x"), fmt.Sprintf("c%d.txt", i), "", Source{Origin: OriginUpload})
		if err != nil {
			t.Fatalf("SubmitBuffer failed: %v", err)
		}
		paths = append(paths, att.TempPath)
	}

	if n := coord.Clear(); n != 3 {
		t.Fatalf("Expected 3 cleared, got %d", n)
	}
	for _, path := range paths {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("Expected %s removed by Clear", path)
		}
	}
	if rec.count(EventAttachmentRemoved) != 3 {
		t.Errorf("Expected 3 removed events, got %d", rec.count(EventAttachmentRemoved))
	}
}

func TestShutdownSweepsScratchDirectory(t *testing.T) {
	scratchDir := filepath.Join(t.TempDir(), "scratch")
	coord, _ := newTestCoordinator(t, Options{ScratchDir: scratchDir})

	if _, err := coord.SubmitBuffer([]byte("left behind"), "orphan.txt", "", Source{Origin: OriginUpload}); err != nil {
		t.Fatalf("SubmitBuffer failed: %v", err)
	}

	// Simulated termination path: signal handler calls Shutdown
	coord.Shutdown()

	entries, err := os.ReadDir(scratchDir)
	if err != nil {
		t.Fatalf("read scratch: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected scratch dir swept on shutdown, found %d entries", len(entries))
	}

	if _, err := coord.SubmitBuffer([]byte("x"), "late.txt", "", Source{Origin: OriginUpload}); err == nil {
		t.Error("Expected submissions to fail after shutdown")
	}
	// Second shutdown is a no-op
	coord.Shutdown()
}

func TestSubmitFromClipboardTwoPaths(t *testing.T) {
	dir := t.TempDir()
	report := writeFixture(t, dir, "report.pdf", "pdf bytes")
	notes := writeFixture(t, dir, "notes.txt", "note bytes")

	coord, _ := newTestCoordinator(t, Options{})
	coord.clipboard.read = func() (string, error) {
		return report + "\n" + notes, nil
	}

	atts, text, err := coord.SubmitFromClipboard(context.Background())
	if err != nil {
		t.Fatalf("SubmitFromClipboard failed: %v", err)
	}
	if text != "" {
		t.Errorf("Expected no text for file list, got %q", text)
	}
	if len(atts) != 2 {
		t.Fatalf("Expected 2 attachments, got %d", len(atts))
	}
	for _, att := range atts {
		if att.Kind != KindFile {
			t.Errorf("Expected file kind, got %s for %s", att.Kind, att.Filename)
		}
		if att.Source.Origin != OriginPaste {
			t.Errorf("Expected paste origin, got %s", att.Source.Origin)
		}
	}
}

func TestSubmitFromClipboardImage(t *testing.T) {
	coord, rec := newTestCoordinator(t, Options{})
	coord.clipboard.read = func() (string, error) {
		return "data:image/png;base64,aW1hZ2UgYnl0ZXM=", nil
	}

	atts, _, err := coord.SubmitFromClipboard(context.Background())
	if err != nil {
		t.Fatalf("SubmitFromClipboard failed: %v", err)
	}
	if len(atts) != 1 {
		t.Fatalf("Expected 1 attachment, got %d", len(atts))
	}
	att := atts[0]
	if att.Kind != KindImage || !att.IsTempFile {
		t.Errorf("Expected temp-file image, got kind=%s temp=%v", att.Kind, att.IsTempFile)
	}
	if !strings.HasPrefix(att.TempPath, coord.ScratchDir()) {
		t.Errorf("Image temp %s not under scratch", att.TempPath)
	}
	if rec.count(EventAttachmentAdded) != 1 {
		t.Error("Expected attachment-added event")
	}
}

func TestSubmitFromClipboardImageTooLarge(t *testing.T) {
	coord, rec := newTestCoordinator(t, Options{MaxImageBytes: 1024})
	payload := base64.StdEncoding.EncodeToString(make([]byte, 4096))
	coord.clipboard.read = func() (string, error) {
		return "data:image/png;base64," + payload, nil
	}

	atts, _, err := coord.SubmitFromClipboard(context.Background())
	if err == nil {
		t.Fatal("Expected rejection for oversized clipboard image")
	}
	if ie, ok := IsIngestError(err); !ok || ie.Type != ErrorTypeTooLarge {
		t.Fatalf("Expected too_large, got %v", err)
	}
	if len(atts) != 0 {
		t.Errorf("Expected no attachments, got %d", len(atts))
	}
	if stats := coord.Stats(); stats.Count != 0 {
		t.Errorf("Registry should stay empty, got %+v", stats)
	}
	if rec.count(EventAttachmentAdded) != 0 {
		t.Error("Expected no attachment-added event")
	}
	// The materialized temp file must not linger after the rejection.
	entries, readErr := os.ReadDir(coord.ScratchDir())
	if readErr != nil {
		t.Fatalf("read scratch dir: %v", readErr)
	}
	if len(entries) != 0 {
		t.Errorf("Expected empty scratch dir, found %d entries", len(entries))
	}
}

func TestSubmitFromClipboardText(t *testing.T) {
	coord, _ := newTestCoordinator(t, Options{})
	coord.clipboard.read = func() (string, error) {
		return "just pasted prose", nil
	}

	atts, text, err := coord.SubmitFromClipboard(context.Background())
	if err != nil {
		t.Fatalf("SubmitFromClipboard failed: %v", err)
	}
	if len(atts) != 0 {
		t.Errorf("Expected no attachments for prose, got %d", len(atts))
	}
	if text != "just pasted prose" {
		t.Errorf("Expected text back, got %q", text)
	}
}

func TestSubmitFromClipboardPartialRejection(t *testing.T) {
	dir := t.TempDir()
	good := writeFixture(t, dir, "good.txt", "fine")
	huge := writeFixture(t, dir, "huge.bin", strings.Repeat("x", 300))

	coord, _ := newTestCoordinator(t, Options{MaxFileBytes: 100, MaxImageBytes: 50})
	coord.clipboard.read = func() (string, error) {
		return good + "\n" + huge, nil
	}

	atts, _, err := coord.SubmitFromClipboard(context.Background())
	if len(atts) != 1 || atts[0].Filename != "good.txt" {
		t.Fatalf("Expected the good file to land, got %v", atts)
	}
	if err == nil {
		t.Fatal("Expected joined rejection for the oversized file")
	}
	if ie, ok := IsIngestError(err); !ok || ie.Type != ErrorTypeTooLarge {
		t.Errorf("Expected too_large in joined error, got %v", err)
	}
}

func TestRawBytesForwardToSink(t *testing.T) {
	coord, _ := newTestCoordinator(t, Options{})

	var got []byte
	coord.SetRawSink(func(data []byte) { got = append(got, data...) })
	coord.SubmitRawTerminalBytes([]byte("\x1b[<0;10;20M"))

	if string(got) != "\x1b[<0;10;20M" {
		t.Errorf("Raw bytes not forwarded, got %q", got)
	}

	// No sink registered is a quiet drop
	coord.SetRawSink(nil)
	coord.SubmitRawTerminalBytes([]byte("ignored"))
}
