package attach

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"parley/internal/logging"
)

// EventCallback receives pipeline notifications for the UI layer.
type EventCallback func(event string, data any)

// Event names emitted by the pipeline.
const (
	EventAttachmentAdded      = "attachment-added"
	EventAttachmentRemoved    = "attachment-removed"
	EventDragSessionStarted   = "drag-session-started"
	EventDragSessionProgress  = "drag-session-progress"
	EventDragSessionCompleted = "drag-session-completed"
	EventDragSessionError     = "drag-session-error"
)

// Options configures a Coordinator and the components it builds.
type Options struct {
	MaxAttachments   int
	MaxTotalBytes    int64
	MaxFileBytes     int64
	MaxImageBytes    int64
	MaxDragBytes     int64
	ScratchDir       string
	SettleDelay      time.Duration
	StabilityRetries int
	Logger           *log.Logger
	LogJSON          bool
	OnEvent          EventCallback
	Journal          JournalFunc
}

func (o *Options) applyDefaults() {
	if o.MaxAttachments <= 0 {
		o.MaxAttachments = 10
	}
	if o.MaxTotalBytes <= 0 {
		o.MaxTotalBytes = 50 << 20
	}
	if o.MaxFileBytes <= 0 {
		o.MaxFileBytes = 10 << 20
	}
	if o.MaxImageBytes <= 0 {
		o.MaxImageBytes = 5 << 20
	}
	if o.MaxDragBytes <= 0 {
		o.MaxDragBytes = 50 << 20
	}
	if o.ScratchDir == "" {
		o.ScratchDir = filepath.Join(os.TempDir(), "parley-attachments")
	}
	if o.Logger == nil {
		o.Logger = log.New(io.Discard, "", 0)
	}
}

// Coordinator orchestrates the pipeline: it receives candidates from every
// source, runs stability and content checks, de-duplicates, and commits into
// the registry. A given path is ingested at most once per detection window;
// the processing set and the registry's path index enforce that here, no
// matter which detector proposed the path.
type Coordinator struct {
	registry  *Registry
	reader    *Reader
	stability *StabilityTracker
	clipboard *ClipboardSource
	scratch   *Scratch

	maxDragBytes int64
	logger       *log.Logger
	slog         *logging.StructuredLogger

	mu         sync.Mutex
	onEvent    EventCallback
	journal    JournalFunc
	processing map[string]bool
	rawSink    func([]byte)
	closed     bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewCoordinator builds the pipeline. The scratch directory is created on
// the spot; failure to do so is the only construction error.
func NewCoordinator(opts Options) (*Coordinator, error) {
	opts.applyDefaults()

	scratch, err := NewScratch(opts.ScratchDir)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		registry:     NewRegistry(opts.MaxAttachments, opts.MaxTotalBytes, scratch, opts.Logger),
		reader:       NewReader(opts.MaxFileBytes, opts.MaxImageBytes),
		stability:    NewStabilityTracker(opts.SettleDelay, opts.StabilityRetries),
		clipboard:    NewClipboardSource(scratch),
		scratch:      scratch,
		maxDragBytes: opts.MaxDragBytes,
		logger:       opts.Logger,
		slog:         logging.NewStructuredLogger(opts.Logger, "ingest", opts.LogJSON),
		onEvent:      opts.OnEvent,
		journal:      opts.Journal,
		processing:   make(map[string]bool),
		ctx:          ctx,
		cancel:       cancel,
	}
	return c, nil
}

// ScratchDir exposes the pipeline-owned temp directory.
func (c *Coordinator) ScratchDir() string {
	return c.scratch.Dir()
}

// DragByteLimit is the ceiling applied to drag-sourced candidates.
func (c *Coordinator) DragByteLimit() int64 {
	return c.maxDragBytes
}

// Submit runs the full pipeline for a path candidate: dedup, stability,
// content read, quota check, commit. On any failure the processing mark is
// cleared and a typed rejection is returned, leaving no partial state.
// Every attempt lands in the journal either way.
func (c *Coordinator) Submit(ctx context.Context, cand Candidate) (*Attachment, error) {
	att, err := c.submitPath(ctx, cand)
	if err != nil {
		c.record(cand.Source.Origin, filepath.Base(cand.Path), cand.KnownSize, OutcomeRejected, rejectionDetail(err))
		return nil, err
	}
	c.record(att.Source.Origin, att.Filename, att.SizeBytes, OutcomeRegistered, att.ID)
	return att, nil
}

func (c *Coordinator) submitPath(ctx context.Context, cand Candidate) (*Attachment, error) {
	if c.isClosed() {
		return nil, fmt.Errorf("coordinator is shut down")
	}
	abs, err := filepath.Abs(cand.Path)
	if err != nil {
		return nil, &IngestError{Type: ErrorTypeIO, Path: cand.Path, Message: "resolve path", Err: err}
	}

	if err := c.beginProcessing(abs); err != nil {
		return nil, err
	}
	defer c.endProcessing(abs)

	runCtx, stop := c.joinShutdown(ctx)
	defer stop()

	initial := cand.KnownSize
	if initial <= 0 {
		initial = -1
	}
	stable, err := c.stability.AwaitStable(runCtx, abs, initial)
	if err != nil {
		if RejectionType(err) == ErrorTypeStabilityTimeout {
			logging.DevLog("dropping unstable candidate %s", abs)
		}
		return nil, err
	}

	content, err := c.reader.ReadWithLimit(abs, cand.MaxBytes)
	if err != nil {
		return nil, err
	}

	src := cand.Source
	src.OriginalPath = abs
	if src.ObservedAt.IsZero() {
		src.ObservedAt = time.Now()
	}

	att := &Attachment{
		Filename:  content.Filename,
		Data:      content.Data,
		MimeType:  content.MimeType,
		SizeBytes: content.SizeBytes,
		Kind:      content.Kind,
		Source:    src,
	}
	if err := c.registry.Add(att); err != nil {
		return nil, err
	}

	c.slog.Info("attachment registered", map[string]interface{}{
		"id":     att.ID,
		"origin": string(src.Origin),
		"size":   stable.Size,
	})
	c.emit(EventAttachmentAdded, att)
	return att, nil
}

// SubmitBuffer materializes in-memory content to a fresh scratch temp file
// and registers it, so attachment content is uniformly either pure bytes or
// an owned temp file, never a caller-owned path.
func (c *Coordinator) SubmitBuffer(data []byte, filename, mimeType string, src Source) (*Attachment, error) {
	att, err := c.submitBuffer(data, filename, mimeType, src)
	if err != nil {
		c.record(src.Origin, filename, int64(len(data)), OutcomeRejected, rejectionDetail(err))
		return nil, err
	}
	c.record(att.Source.Origin, att.Filename, att.SizeBytes, OutcomeRegistered, att.ID)
	return att, nil
}

func (c *Coordinator) submitBuffer(data []byte, filename, mimeType string, src Source) (*Attachment, error) {
	if c.isClosed() {
		return nil, fmt.Errorf("coordinator is shut down")
	}
	if mimeType == "" {
		mimeType = MimeForPath(filename)
	}
	kind := KindForMime(mimeType)

	ceiling := c.reader.maxFileBytes
	if kind == KindImage {
		ceiling = c.reader.maxImageBytes
	}
	if src.Origin == OriginDrag {
		ceiling = c.maxDragBytes
	}
	if ceiling > 0 && int64(len(data)) > ceiling {
		return nil, &IngestError{
			Type:    ErrorTypeTooLarge,
			Path:    filename,
			Message: sizeMessage(int64(len(data)), ceiling),
		}
	}

	tempPath, err := c.scratch.Materialize(data, filename)
	if err != nil {
		return nil, err
	}

	if src.ObservedAt.IsZero() {
		src.ObservedAt = time.Now()
	}
	att := &Attachment{
		Filename:   filename,
		TempPath:   tempPath,
		MimeType:   mimeType,
		SizeBytes:  int64(len(data)),
		Kind:       kind,
		Source:     src,
		IsTempFile: true,
	}
	if err := c.registry.Add(att); err != nil {
		// The file never became attachment-owned; discard it here so a
		// rejected buffer leaves nothing behind.
		if rmErr := os.Remove(tempPath); rmErr != nil && !os.IsNotExist(rmErr) {
			c.logger.Printf("[ERROR] discard rejected buffer %s: %v", tempPath, rmErr)
		}
		return nil, err
	}

	c.emit(EventAttachmentAdded, att)
	return att, nil
}

// SubmitFilePath ingests an explicit file or image reference typed by the
// user.
func (c *Coordinator) SubmitFilePath(ctx context.Context, path string) (*Attachment, error) {
	return c.Submit(ctx, Candidate{
		Path: path,
		Source: Source{
			Origin:       OriginFileRef,
			OriginalPath: path,
			ObservedAt:   time.Now(),
		},
	})
}

// SubmitFromClipboard classifies the clipboard and ingests whatever it
// holds. Plain text comes back as the string return; rejected entries are
// joined into the error while successful ones are still returned.
func (c *Coordinator) SubmitFromClipboard(ctx context.Context) ([]*Attachment, string, error) {
	if c.isClosed() {
		return nil, "", fmt.Errorf("coordinator is shut down")
	}
	content := c.clipboard.Read()

	switch content.Kind {
	case ClipboardImage:
		// Pasted images bypass the reader, so the per-image ceiling is
		// enforced here before the registry ever sees the candidate.
		if max := c.reader.maxImageBytes; max > 0 && content.SizeBytes > max {
			if rmErr := os.Remove(content.ImagePath); rmErr != nil && !os.IsNotExist(rmErr) {
				c.logger.Printf("[ERROR] discard oversized clipboard image %s: %v", content.ImagePath, rmErr)
			}
			err := &IngestError{
				Type:    ErrorTypeTooLarge,
				Path:    content.Filename,
				Message: sizeMessage(content.SizeBytes, max),
			}
			c.record(OriginPaste, content.Filename, content.SizeBytes, OutcomeRejected, rejectionDetail(err))
			return nil, "", err
		}
		att := &Attachment{
			Filename:   content.Filename,
			TempPath:   content.ImagePath,
			MimeType:   content.MimeType,
			SizeBytes:  content.SizeBytes,
			Kind:       KindImage,
			Source:     Source{Origin: OriginPaste, ObservedAt: time.Now()},
			IsTempFile: true,
		}
		if err := c.registry.Add(att); err != nil {
			if rmErr := os.Remove(content.ImagePath); rmErr != nil && !os.IsNotExist(rmErr) {
				c.logger.Printf("[ERROR] discard rejected clipboard image %s: %v", content.ImagePath, rmErr)
			}
			c.record(OriginPaste, att.Filename, att.SizeBytes, OutcomeRejected, rejectionDetail(err))
			return nil, "", err
		}
		c.emit(EventAttachmentAdded, att)
		c.record(OriginPaste, att.Filename, att.SizeBytes, OutcomeRegistered, att.ID)
		return []*Attachment{att}, "", nil

	case ClipboardFile, ClipboardFileList:
		var atts []*Attachment
		var rejections []error
		for _, path := range content.Paths {
			att, err := c.Submit(ctx, Candidate{
				Path: path,
				Source: Source{
					Origin:       OriginPaste,
					OriginalPath: path,
					ObservedAt:   time.Now(),
				},
			})
			if err != nil {
				rejections = append(rejections, err)
				continue
			}
			atts = append(atts, att)
		}
		return atts, "", errors.Join(rejections...)

	default:
		return nil, content.Text, nil
	}
}

// SubmitRawTerminalBytes feeds raw terminal input to the drag detection
// engine registered through SetRawSink. Without a sink the bytes are
// dropped.
func (c *Coordinator) SubmitRawTerminalBytes(data []byte) {
	c.mu.Lock()
	sink := c.rawSink
	c.mu.Unlock()
	if sink != nil {
		sink(data)
	}
}

// SetRawSink registers the consumer of raw terminal bytes.
func (c *Coordinator) SetRawSink(fn func([]byte)) {
	c.mu.Lock()
	c.rawSink = fn
	c.mu.Unlock()
}

// Remove drops one attachment and deletes its owned temp file.
func (c *Coordinator) Remove(id string) (*Attachment, error) {
	att, err := c.registry.Remove(id)
	if err != nil {
		return nil, err
	}
	c.emit(EventAttachmentRemoved, att)
	c.record(att.Source.Origin, att.Filename, att.SizeBytes, OutcomeRemoved, att.ID)
	return att, nil
}

// Clear drops every attachment and returns how many were removed.
func (c *Coordinator) Clear() int {
	removed := c.registry.Clear()
	for _, att := range removed {
		c.emit(EventAttachmentRemoved, att)
		c.record(att.Source.Origin, att.Filename, att.SizeBytes, OutcomeCleared, att.ID)
	}
	return len(removed)
}

// Get looks up a single attachment.
func (c *Coordinator) Get(id string) (*Attachment, bool) {
	return c.registry.Get(id)
}

// List returns the registered attachments in insertion order.
func (c *Coordinator) List() []*Attachment {
	return c.registry.List()
}

// Stats summarizes the registry.
func (c *Coordinator) Stats() Stats {
	return c.registry.Stats()
}

// Emit forwards a pipeline event to the registered callback. The drag
// engine shares the coordinator's event surface through this.
func (c *Coordinator) Emit(event string, data any) {
	c.emit(event, data)
}

// SetEventCallback registers the event receiver. The client layer is built
// after the coordinator, so the callback arrives late.
func (c *Coordinator) SetEventCallback(cb EventCallback) {
	c.mu.Lock()
	c.onEvent = cb
	c.mu.Unlock()
}

// Shutdown cancels in-flight submissions and sweeps the scratch directory.
// Safe to call more than once; the signal handler and the REPL exit path
// both funnel here.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	removed := c.registry.Sweep()
	if removed > 0 {
		logging.DevLog("termination sweep removed %d scratch entries", removed)
	}
}

func (c *Coordinator) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// beginProcessing marks a path as mid-ingestion. Concurrent submissions of
// the same path lose here with a typed rejection, yielding exactly one
// attachment.
func (c *Coordinator) beginProcessing(abs string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.processing[abs] {
		return &IngestError{Type: ErrorTypeAlreadyRegistered, Path: abs, Message: "ingestion in progress"}
	}
	if id, ok := c.registry.LookupPath(abs); ok {
		return &IngestError{Type: ErrorTypeAlreadyRegistered, Path: abs, Message: fmt.Sprintf("already registered as %s", id)}
	}
	c.processing[abs] = true
	return nil
}

func (c *Coordinator) endProcessing(abs string) {
	c.mu.Lock()
	delete(c.processing, abs)
	c.mu.Unlock()
}

// joinShutdown derives a context that is cancelled either by the caller or
// by Shutdown, so no stability timer fires into a torn-down registry.
func (c *Coordinator) joinShutdown(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	joined, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-c.ctx.Done():
			cancel()
		case <-joined.Done():
		}
	}()
	return joined, cancel
}

func (c *Coordinator) emit(event string, data any) {
	c.mu.Lock()
	cb := c.onEvent
	c.mu.Unlock()
	if cb != nil {
		cb(event, data)
	}
}
