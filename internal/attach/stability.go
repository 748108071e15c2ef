package attach

import (
	"context"
	"fmt"
	"os"
	"time"
)

// StableFile is the final observation of a candidate that stopped growing.
type StableFile struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// StabilityTracker decides whether a candidate file is still being written.
// A drop is often observed before the producing process finishes writing;
// ingesting a growing file risks truncated content.
type StabilityTracker struct {
	settleDelay time.Duration
	maxRetries  int
}

// NewStabilityTracker constructs a tracker. settleDelay is the initial wait
// between size samples; each re-arm backs the delay off by half again.
func NewStabilityTracker(settleDelay time.Duration, maxRetries int) *StabilityTracker {
	if settleDelay <= 0 {
		settleDelay = 1500 * time.Millisecond
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &StabilityTracker{
		settleDelay: settleDelay,
		maxRetries:  maxRetries,
	}
}

// AwaitStable samples (size, mtime) after the settle delay. An unchanged
// size means the file is stable; a changed size re-arms the wait with
// backoff until the retry cap, then the candidate is rejected with a
// stability timeout. Pass a negative initialSize to have the tracker take
// the first sample itself.
func (t *StabilityTracker) AwaitStable(ctx context.Context, path string, initialSize int64) (*StableFile, error) {
	prevSize := initialSize
	if prevSize < 0 {
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, &IngestError{Type: ErrorTypeNotFound, Path: path, Message: "vanished before stability check"}
			}
			return nil, &IngestError{Type: ErrorTypeIO, Path: path, Message: "stat", Err: err}
		}
		prevSize = info.Size()
	}

	delay := t.settleDelay
	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		if err := sleepContext(ctx, delay); err != nil {
			return nil, err
		}

		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, &IngestError{Type: ErrorTypeNotFound, Path: path, Message: "vanished during stability check"}
			}
			return nil, &IngestError{Type: ErrorTypeIO, Path: path, Message: "stat", Err: err}
		}

		if info.Size() == prevSize {
			return &StableFile{
				Path:    path,
				Size:    info.Size(),
				ModTime: info.ModTime(),
			}, nil
		}

		prevSize = info.Size()
		delay = delay + delay/2
	}

	return nil, &IngestError{
		Type:    ErrorTypeStabilityTimeout,
		Path:    path,
		Message: fmt.Sprintf("still growing after %d checks", t.maxRetries+1),
	}
}

// sleepContext waits for d or until the context is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
