// Package drag detects files dropped onto the terminal. Drops surface in
// inconsistent ways depending on the emulator: as mouse tracking around the
// gesture, as an inline OSC 1337 transfer, as a bracketed paste, as bare
// path text, or only as a file appearing in a well-known directory. The
// engine runs all detectors at once, groups what they observe into sessions,
// and hands candidates to the ingestion pipeline, which owns de-duplication,
// stability checks and quotas.
package drag

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"parley/internal/attach"
	"parley/internal/logging"
)

// Ingestor is the slice of the ingestion pipeline the engine drives.
// *attach.Coordinator satisfies it.
type Ingestor interface {
	Submit(ctx context.Context, cand attach.Candidate) (*attach.Attachment, error)
	SubmitBuffer(data []byte, filename, mimeType string, src attach.Source) (*attach.Attachment, error)
	ScratchDir() string
	DragByteLimit() int64
	Emit(event string, data any)
}

// Options tunes the engine.
type Options struct {
	WatchDirs       []string
	DetectionWindow time.Duration
	PollInterval    time.Duration
	Logger          *log.Logger
	LogJSON         bool
}

func (o *Options) applyDefaults(scratchDir string) {
	if o.DetectionWindow <= 0 {
		o.DetectionWindow = 3 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 500 * time.Millisecond
	}
	if len(o.WatchDirs) == 0 {
		o.WatchDirs = DefaultWatchDirs(scratchDir)
	}
	if o.Logger == nil {
		o.Logger = log.New(io.Discard, "", 0)
	}
}

type emission struct {
	event string
	data  any
}

// Engine coordinates the detectors. A single run loop serializes their
// observations; submissions fan out to goroutines because a stability wait
// takes seconds.
type Engine struct {
	ing     Ingestor
	window  time.Duration
	filter  *Filter
	scanner *streamScanner
	poller  *poller
	slog    *logging.StructuredLogger

	feedCh    chan []byte
	expiredCh chan *Session

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	active *Session
	// seen suppresses re-offering a path within the detection window, so a
	// drop observed by several detectors reaches the pipeline once and the
	// journal stays free of duplicate-rejection noise.
	seen map[string]time.Time
}

func New(ing Ingestor, opts Options) *Engine {
	opts.applyDefaults(ing.ScratchDir())

	dirs := make([]string, 0, len(opts.WatchDirs))
	for _, dir := range opts.WatchDirs {
		if abs, err := filepath.Abs(dir); err == nil {
			dir = abs
		}
		dirs = append(dirs, dir)
	}
	filter := NewFilter(ing.ScratchDir())

	// carry must hold one base64-encoded transfer at the drag size limit
	maxCarry := 0
	if limit := ing.DragByteLimit(); limit > 0 {
		maxCarry = int(limit) + int(limit)/3 + 64<<10
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		ing:       ing,
		window:    opts.DetectionWindow,
		filter:    filter,
		scanner:   newStreamScanner(maxCarry),
		poller:    newPoller(dirs, opts.PollInterval, opts.DetectionWindow, filter),
		slog:      logging.NewStructuredLogger(opts.Logger, "drag", opts.LogJSON),
		feedCh:    make(chan []byte, 16),
		expiredCh: make(chan *Session, 8),
		ctx:       ctx,
		cancel:    cancel,
		seen:      make(map[string]time.Time),
	}
}

// Start launches the run loop and the directory poller.
func (e *Engine) Start() {
	batches := make(chan []string, 4)
	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		e.poller.run(e.ctx, batches)
	}()
	go func() {
		defer e.wg.Done()
		e.run(batches)
	}()
}

// Feed hands raw terminal bytes to the engine. Safe from any goroutine; the
// chunk is copied because callers reuse their buffers.
func (e *Engine) Feed(data []byte) {
	if len(data) == 0 {
		return
	}
	buf := append([]byte(nil), data...)
	select {
	case e.feedCh <- buf:
	case <-e.ctx.Done():
	}
}

// Stop halts detection and waits for in-flight submissions to unwind.
func (e *Engine) Stop() {
	e.cancel()
	e.mu.Lock()
	if e.active != nil {
		e.active.stopExpiry()
		e.active = nil
	}
	e.mu.Unlock()
	e.wg.Wait()
}

func (e *Engine) run(batches <-chan []string) {
	for {
		select {
		case <-e.ctx.Done():
			return
		case data := <-e.feedCh:
			e.handleRaw(data)
		case batch := <-batches:
			e.handleBatch(batch)
		case s := <-e.expiredCh:
			e.windowClosed(s)
		}
	}
}

func (e *Engine) handleRaw(data []byte) {
	for _, ev := range e.scanner.scan(data) {
		switch ev.kind {
		case eventPress:
			e.gesturePressed()
		case eventRelease:
			e.gestureReleased()
		case eventPath:
			e.observePath(ev.path, "path")
		case eventTransfer:
			if ev.err != nil {
				e.transferFailed(ev.err)
				continue
			}
			e.observeTransfer(ev.transfer)
		}
	}
}

// gesturePressed opens a session for a mouse gesture, or extends the one in
// progress. The session stays unannounced until a candidate shows up, so
// ordinary clicking in mouse-tracking mode stays silent.
func (e *Engine) gesturePressed() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s := e.active; s != nil && s.Status == StatusCollecting {
		if s.expiry != nil {
			s.expiry.Reset(e.window)
		}
		return
	}
	e.active = e.openSessionLocked("press")
}

// gestureReleased ends the collection phase of a press-opened session. The
// drop payload normally arrives before the release within the same chunk, so
// by now the candidates are in.
func (e *Engine) gestureReleased() {
	e.mu.Lock()
	s := e.active
	if s == nil || s.Status != StatusCollecting || s.Trigger != "press" {
		e.mu.Unlock()
		return
	}
	e.closeWindowLocked(s)
	emits := e.maybeFinishLocked(s)
	e.mu.Unlock()
	e.emitAll(emits)
}

// windowClosed fires when a session's detection window elapses with no
// further observations.
func (e *Engine) windowClosed(s *Session) {
	e.mu.Lock()
	if s.windowDone {
		e.mu.Unlock()
		return
	}
	e.closeWindowLocked(s)
	emits := e.maybeFinishLocked(s)
	e.mu.Unlock()
	e.emitAll(emits)
}

// observePath routes one candidate path into the current session, opening an
// implicit one when no gesture anchors it.
func (e *Engine) observePath(path, trigger string) {
	now := time.Now()

	e.mu.Lock()
	if !e.markSeenLocked(path, now) {
		e.mu.Unlock()
		return
	}
	if skip, reason := e.filter.Ignore(path); skip {
		e.mu.Unlock()
		logging.DevLog("ignoring dropped path %s: %s", path, reason)
		return
	}
	s := e.currentSessionLocked(trigger)
	if !s.add(path) {
		e.mu.Unlock()
		return
	}
	s.pending++
	emits := e.announceLocked(s)
	emits = append(emits, emission{attach.EventDragSessionProgress, map[string]any{
		"session":    s.ID,
		"path":       path,
		"candidates": len(s.Candidates),
	}})
	e.mu.Unlock()

	e.emitAll(emits)
	e.submitPath(s, path)
}

// observeTransfer ingests an inline transfer. The bytes are already in hand,
// so no stability wait applies, but the submission still settles through the
// session like every other candidate.
func (e *Engine) observeTransfer(tr *inlineTransfer) {
	e.mu.Lock()
	s := e.currentSessionLocked("transfer")
	s.Candidates = append(s.Candidates, tr.Name)
	s.pending++
	emits := e.announceLocked(s)
	emits = append(emits, emission{attach.EventDragSessionProgress, map[string]any{
		"session":    s.ID,
		"path":       tr.Name,
		"candidates": len(s.Candidates),
	}})
	e.mu.Unlock()
	e.emitAll(emits)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		_, err := e.ing.SubmitBuffer(tr.Data, tr.Name, attach.MimeForPath(tr.Name), attach.Source{
			Origin:     attach.OriginDrag,
			ObservedAt: time.Now(),
		})
		e.settle(s, tr.Name, err)
	}()
}

// transferFailed records an undecodable inline transfer. Inside a session it
// counts as a rejection; on its own it surfaces as a session-less error so
// the user learns the drop went nowhere.
func (e *Engine) transferFailed(err error) {
	logging.ErrorLog("inline transfer rejected: %v", err)
	e.mu.Lock()
	if s := e.active; s != nil && s.Status == StatusCollecting {
		s.rejected++
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
	e.emitAll([]emission{{attach.EventDragSessionError, map[string]any{
		"reason": err.Error(),
	}}})
}

// handleBatch folds one poll tick's arrivals into the current session.
func (e *Engine) handleBatch(batch []string) {
	now := time.Now()

	e.mu.Lock()
	var s *Session
	var accepted []string
	for _, path := range batch {
		if !e.markSeenLocked(path, now) {
			continue
		}
		if s == nil {
			s = e.currentSessionLocked("poll")
		}
		if !s.add(path) {
			continue
		}
		s.pending++
		accepted = append(accepted, path)
	}
	if len(accepted) == 0 {
		e.mu.Unlock()
		return
	}
	emits := e.announceLocked(s)
	for _, path := range accepted {
		emits = append(emits, emission{attach.EventDragSessionProgress, map[string]any{
			"session":    s.ID,
			"path":       path,
			"candidates": len(s.Candidates),
		}})
	}
	e.mu.Unlock()

	e.emitAll(emits)
	for _, path := range accepted {
		e.submitPath(s, path)
	}
}

// currentSessionLocked returns the collecting session, opening one with the
// given trigger if needed. Any observation extends the window.
func (e *Engine) currentSessionLocked(trigger string) *Session {
	if s := e.active; s != nil && s.Status == StatusCollecting {
		if s.expiry != nil {
			s.expiry.Reset(e.window)
		}
		return s
	}
	e.active = e.openSessionLocked(trigger)
	return e.active
}

func (e *Engine) openSessionLocked(trigger string) *Session {
	s := newSession(trigger)
	s.expiry = time.AfterFunc(e.window, func() {
		select {
		case e.expiredCh <- s:
		case <-e.ctx.Done():
		}
	})
	e.slog.WithSession(s.ID).Debug("drop session opened", map[string]interface{}{
		"trigger": trigger,
	})
	return s
}

func (e *Engine) closeWindowLocked(s *Session) {
	s.stopExpiry()
	s.windowDone = true
	if s.Status == StatusCollecting {
		s.Status = StatusSettling
	}
}

// announceLocked emits the started event once, on the first candidate.
func (e *Engine) announceLocked(s *Session) []emission {
	if s.announced {
		return nil
	}
	s.announced = true
	return []emission{{attach.EventDragSessionStarted, s.snapshot()}}
}

// markSeenLocked claims a path for the current window. Stale entries are
// pruned on the way through.
func (e *Engine) markSeenLocked(path string, now time.Time) bool {
	for p, t := range e.seen {
		if now.Sub(t) > e.window {
			delete(e.seen, p)
		}
	}
	if t, ok := e.seen[path]; ok && now.Sub(t) <= e.window {
		return false
	}
	e.seen[path] = now
	return true
}

// submitPath runs one candidate through the pipeline off the run loop.
func (e *Engine) submitPath(s *Session, path string) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		_, err := e.ing.Submit(e.ctx, attach.Candidate{
			Path:     path,
			MaxBytes: e.ing.DragByteLimit(),
			Source: attach.Source{
				Origin:       attach.OriginDrag,
				OriginalPath: path,
				ObservedAt:   time.Now(),
			},
		})
		e.settle(s, path, err)
	}()
}

// settle books the result of one submission into its session and finishes
// the session when it was the last one out.
func (e *Engine) settle(s *Session, name string, err error) {
	e.mu.Lock()
	s.pending--
	switch {
	case err == nil:
		s.ingested++
	case attach.RejectionType(err) == attach.ErrorTypeAlreadyRegistered:
		// another detector or the user got there first; not a failure
		logging.DevLog("drop candidate %s already registered", name)
	default:
		s.rejected++
		e.slog.WithSession(s.ID).Warn("drop candidate rejected", map[string]interface{}{
			"path":  name,
			"error": err.Error(),
		})
	}
	emits := e.maybeFinishLocked(s)
	e.mu.Unlock()
	e.emitAll(emits)
}

// maybeFinishLocked finalizes a session once its window has closed and no
// submission is still in flight. Sessions in which nothing actually happened
// expire silently; a bare click or a duplicate-only batch is not worth an
// event.
func (e *Engine) maybeFinishLocked(s *Session) []emission {
	if !s.windowDone || s.pending > 0 {
		return nil
	}
	if s.Status == StatusCommitted || s.Status == StatusExpired {
		return nil
	}
	if e.active == s {
		e.active = nil
	}
	if s.ingested == 0 && s.rejected == 0 {
		s.Status = StatusExpired
		logging.DevLog("drop session %s expired with nothing to ingest", s.ID)
		return nil
	}
	s.Status = StatusCommitted
	e.slog.WithSession(s.ID).Info("drop session finished", map[string]interface{}{
		"ingested": s.ingested,
		"rejected": s.rejected,
	})
	if s.ingested == 0 {
		data := s.snapshot()
		data["reason"] = "no candidate could be ingested"
		return []emission{{attach.EventDragSessionError, data}}
	}
	return []emission{{attach.EventDragSessionCompleted, s.snapshot()}}
}

func (e *Engine) emitAll(emits []emission) {
	if len(emits) == 0 || e.ctx.Err() != nil {
		return
	}
	for _, em := range emits {
		e.ing.Emit(em.event, em.data)
	}
}

// DefaultWatchDirs lists the directories terminals and desktops commonly
// drop files into: the system temp directory, tmp and dropped-files under
// the working directory, and the user's Downloads and Desktop.
func DefaultWatchDirs(scratchDir string) []string {
	var dirs []string
	add := func(path string) {
		if path == "" {
			return
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return
		}
		if abs == scratchDir {
			return
		}
		for _, d := range dirs {
			if d == abs {
				return
			}
		}
		dirs = append(dirs, abs)
	}

	add(os.TempDir())
	if cwd, err := os.Getwd(); err == nil {
		add(filepath.Join(cwd, "tmp"))
		add(filepath.Join(cwd, "dropped-files"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		add(filepath.Join(home, "Downloads"))
		add(filepath.Join(home, "Desktop"))
	}
	return dirs
}
