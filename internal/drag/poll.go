package drag

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"parley/internal/logging"
)

// poller discovers files that land in the watched directories. A periodic
// scan compares modification times against a trailing window, so it works
// even where inotify does not; fsnotify events only pull the next scan
// forward.
type poller struct {
	dirs     []string
	interval time.Duration
	window   time.Duration
	filter   *Filter

	// known maps absolute path to the mtime already reported for it, so a
	// file is offered once per change rather than once per tick.
	known map[string]time.Time
}

func newPoller(dirs []string, interval, window time.Duration, filter *Filter) *poller {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if interval > time.Second {
		interval = time.Second
	}
	if window <= 0 {
		window = 3 * time.Second
	}
	return &poller{
		dirs:     dirs,
		interval: interval,
		window:   window,
		filter:   filter,
		known:    make(map[string]time.Time),
	}
}

// run scans until the context ends, sending each tick's fresh arrivals as one
// batch. Batches arrive at most once per interval even when fsnotify fires
// rapidly.
func (p *poller) run(ctx context.Context, batches chan<- []string) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logging.DevLog("drop watcher unavailable, relying on polling only: %v", err)
		watcher = nil
	}
	watched := make(map[string]bool)
	if watcher != nil {
		defer watcher.Close()
		p.addWatches(watcher, watched)
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// seed known with what is already present so startup leftovers are not
	// mistaken for drops
	p.scan(time.Now())

	var wakeup *time.Timer
	var wakeupCh <-chan time.Time
	var events chan fsnotify.Event
	var errs chan error
	if watcher != nil {
		events = watcher.Events
		errs = watcher.Errors
	}

	for {
		select {
		case <-ctx.Done():
			if wakeup != nil {
				wakeup.Stop()
			}
			return

		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if skip, _ := p.filter.Ignore(event.Name); skip {
				continue
			}
			// debounce: one early scan shortly after a burst of events
			if wakeup == nil {
				wakeup = time.NewTimer(100 * time.Millisecond)
				wakeupCh = wakeup.C
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			logging.DevLog("drop watcher error: %v", err)

		case <-wakeupCh:
			wakeup = nil
			wakeupCh = nil
			p.deliver(ctx, batches, p.scan(time.Now()))

		case now := <-ticker.C:
			if watcher != nil {
				p.addWatches(watcher, watched)
			}
			p.deliver(ctx, batches, p.scan(now))
		}
	}
}

func (p *poller) deliver(ctx context.Context, batches chan<- []string, batch []string) {
	if len(batch) == 0 {
		return
	}
	select {
	case batches <- batch:
	case <-ctx.Done():
	}
}

// addWatches registers any directories that were missing earlier. Watch
// directories may appear after startup, a download folder for instance.
func (p *poller) addWatches(watcher *fsnotify.Watcher, watched map[string]bool) {
	for _, dir := range p.dirs {
		if watched[dir] {
			continue
		}
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			logging.DevLog("cannot watch %s: %v", dir, err)
			continue
		}
		watched[dir] = true
	}
}

// scan walks the watch directories once and returns files whose mtime falls
// inside the trailing window and that have not been offered at that mtime
// before. Stale bookkeeping is pruned as a side effect.
func (p *poller) scan(now time.Time) []string {
	cutoff := now.Add(-p.window)
	var batch []string

	for _, dir := range p.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			if skip, _ := p.filter.Ignore(path); skip {
				continue
			}
			info, err := entry.Info()
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
			mtime := info.ModTime()
			if prev, ok := p.known[path]; ok && prev.Equal(mtime) {
				continue
			}
			p.known[path] = mtime
			if mtime.Before(cutoff) {
				continue
			}
			batch = append(batch, path)
		}
	}

	for path, mtime := range p.known {
		if now.Sub(mtime) > 10*p.window {
			delete(p.known, path)
		}
	}
	return batch
}
