package drag

import (
	"context"
	"encoding/base64"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"parley/internal/attach"
)

type fakeIngestor struct {
	scratch string
	limit   int64
	reject  func(path string) error

	mu      sync.Mutex
	cands   []attach.Candidate
	buffers map[string][]byte
	events  []emission
}

func newFakeIngestor(t *testing.T) *fakeIngestor {
	t.Helper()
	return &fakeIngestor{
		scratch: filepath.Join(t.TempDir(), "scratch"),
		limit:   50 << 20,
		buffers: make(map[string][]byte),
	}
}

func (f *fakeIngestor) Submit(ctx context.Context, cand attach.Candidate) (*attach.Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject != nil {
		if err := f.reject(cand.Path); err != nil {
			return nil, err
		}
	}
	f.cands = append(f.cands, cand)
	return &attach.Attachment{ID: "fake", Filename: filepath.Base(cand.Path), Source: cand.Source}, nil
}

func (f *fakeIngestor) SubmitBuffer(data []byte, filename, mimeType string, src attach.Source) (*attach.Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buffers[filename] = append([]byte(nil), data...)
	return &attach.Attachment{ID: "fake-buffer", Filename: filename, Source: src}, nil
}

func (f *fakeIngestor) ScratchDir() string   { return f.scratch }
func (f *fakeIngestor) DragByteLimit() int64 { return f.limit }

func (f *fakeIngestor) Emit(event string, data any) {
	f.mu.Lock()
	f.events = append(f.events, emission{event, data})
	f.mu.Unlock()
}

func (f *fakeIngestor) candidates() []attach.Candidate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]attach.Candidate(nil), f.cands...)
}

func (f *fakeIngestor) bufferData(name string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buffers[name]
}

func (f *fakeIngestor) eventCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, em := range f.events {
		if em.event == name {
			n++
		}
	}
	return n
}

func (f *fakeIngestor) totalEvents() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func newTestEngine(t *testing.T, ing Ingestor, window time.Duration) *Engine {
	t.Helper()
	eng := New(ing, Options{
		WatchDirs:       []string{t.TempDir()},
		DetectionWindow: window,
		PollInterval:    50 * time.Millisecond,
	})
	eng.Start()
	t.Cleanup(eng.Stop)
	return eng
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestEngineIngestsDroppedPathText(t *testing.T) {
	dir := t.TempDir()
	path := writeDropFile(t, dir, "dropped.txt")
	ing := newFakeIngestor(t)
	eng := newTestEngine(t, ing, 150*time.Millisecond)

	eng.Feed([]byte(path + "\n"))

	waitFor(t, "submission", func() bool { return len(ing.candidates()) == 1 })
	cand := ing.candidates()[0]
	if cand.Path != path {
		t.Errorf("Submitted %s, want %s", cand.Path, path)
	}
	if cand.Source.Origin != attach.OriginDrag {
		t.Errorf("Expected drag origin, got %s", cand.Source.Origin)
	}
	if cand.MaxBytes != ing.limit {
		t.Errorf("Expected drag byte limit %d, got %d", ing.limit, cand.MaxBytes)
	}

	waitFor(t, "session completion", func() bool {
		return ing.eventCount(attach.EventDragSessionCompleted) == 1
	})
	if ing.eventCount(attach.EventDragSessionStarted) != 1 {
		t.Errorf("Expected one started event")
	}
	if ing.eventCount(attach.EventDragSessionProgress) != 1 {
		t.Errorf("Expected one progress event")
	}
}

func TestEngineSuppressesDuplicateObservations(t *testing.T) {
	dir := t.TempDir()
	path := writeDropFile(t, dir, "dup.txt")
	ing := newFakeIngestor(t)
	eng := newTestEngine(t, ing, 300*time.Millisecond)

	eng.Feed([]byte(path + "\n"))
	eng.Feed([]byte(path + "\n"))

	waitFor(t, "first submission", func() bool { return len(ing.candidates()) >= 1 })
	time.Sleep(100 * time.Millisecond)
	if n := len(ing.candidates()); n != 1 {
		t.Errorf("Duplicate observation submitted %d times", n)
	}
}

func TestEngineGroupsPressAndRelease(t *testing.T) {
	dir := t.TempDir()
	a := writeDropFile(t, dir, "a.txt")
	b := writeDropFile(t, dir, "b.txt")
	ing := newFakeIngestor(t)
	// long window: completion must come from the release, not expiry
	eng := newTestEngine(t, ing, 5*time.Second)

	eng.Feed([]byte("\x1b[<0;1;1M '" + a + "' '" + b + "' \x1b[<0;1;1m"))

	waitFor(t, "both submissions", func() bool { return len(ing.candidates()) == 2 })
	waitFor(t, "completion on release", func() bool {
		return ing.eventCount(attach.EventDragSessionCompleted) == 1
	})
	if ing.eventCount(attach.EventDragSessionStarted) != 1 {
		t.Errorf("Expected a single grouped session")
	}
}

func TestEngineInlineTransferFlowsToBuffer(t *testing.T) {
	ing := newFakeIngestor(t)
	eng := newTestEngine(t, ing, 150*time.Millisecond)

	payload := []byte("binary payload")
	seq := "\x1b]1337;File=name=" + base64.StdEncoding.EncodeToString([]byte("chart.png")) +
		";size=" + strconv.Itoa(len(payload)) + ":" +
		base64.StdEncoding.EncodeToString(payload) + "\x07"
	eng.Feed([]byte(seq))

	waitFor(t, "buffer submission", func() bool { return ing.bufferData("chart.png") != nil })
	if got := ing.bufferData("chart.png"); string(got) != string(payload) {
		t.Errorf("Buffer mismatch: %q", got)
	}
	waitFor(t, "completion", func() bool {
		return ing.eventCount(attach.EventDragSessionCompleted) == 1
	})
}

func TestEngineEmitsErrorWhenAllRejected(t *testing.T) {
	dir := t.TempDir()
	path := writeDropFile(t, dir, "big.bin")
	ing := newFakeIngestor(t)
	ing.reject = func(p string) error {
		return &attach.IngestError{Type: attach.ErrorTypeTooLarge, Path: p, Message: "too big"}
	}
	eng := newTestEngine(t, ing, 150*time.Millisecond)

	eng.Feed([]byte(path + "\n"))

	waitFor(t, "session error", func() bool {
		return ing.eventCount(attach.EventDragSessionError) == 1
	})
	if ing.eventCount(attach.EventDragSessionCompleted) != 0 {
		t.Error("No completion event when nothing was ingested")
	}
}

func TestEngineQuietWhenAlreadyRegistered(t *testing.T) {
	dir := t.TempDir()
	path := writeDropFile(t, dir, "seen.txt")
	ing := newFakeIngestor(t)
	ing.reject = func(p string) error {
		return &attach.IngestError{Type: attach.ErrorTypeAlreadyRegistered, Path: p, Message: "already registered"}
	}
	eng := newTestEngine(t, ing, 100*time.Millisecond)

	eng.Feed([]byte(path + "\n"))

	time.Sleep(400 * time.Millisecond)
	if n := ing.eventCount(attach.EventDragSessionError); n != 0 {
		t.Errorf("Duplicate-only session emitted %d error events", n)
	}
	if n := ing.eventCount(attach.EventDragSessionCompleted); n != 0 {
		t.Errorf("Duplicate-only session emitted %d completed events", n)
	}
}

func TestEngineBareClickStaysSilent(t *testing.T) {
	ing := newFakeIngestor(t)
	eng := newTestEngine(t, ing, 100*time.Millisecond)

	eng.Feed([]byte("\x1b[<0;2;2M\x1b[<0;2;2m"))

	time.Sleep(300 * time.Millisecond)
	if n := ing.totalEvents(); n != 0 {
		t.Errorf("Bare click produced %d events", n)
	}
}

func TestEnginePollPickup(t *testing.T) {
	watch := t.TempDir()
	ing := newFakeIngestor(t)
	eng := New(ing, Options{
		WatchDirs:       []string{watch},
		DetectionWindow: 500 * time.Millisecond,
		PollInterval:    50 * time.Millisecond,
	})
	eng.Start()
	t.Cleanup(eng.Stop)

	// give the startup seed scan a moment, then land a file
	time.Sleep(120 * time.Millisecond)
	path := writeDropFile(t, watch, "landed.pdf")

	waitFor(t, "poll submission", func() bool { return len(ing.candidates()) == 1 })
	if got := ing.candidates()[0].Path; got != path {
		t.Errorf("Submitted %s, want %s", got, path)
	}
	waitFor(t, "poll completion", func() bool {
		return ing.eventCount(attach.EventDragSessionCompleted) == 1
	})
}

func TestEngineStopIsIdempotent(t *testing.T) {
	ing := newFakeIngestor(t)
	eng := newTestEngine(t, ing, 100*time.Millisecond)

	eng.Stop()
	eng.Stop()
}
