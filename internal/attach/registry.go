package attach

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

// Registry owns confirmed attachments. It enforces the count and total-size
// quotas atomically with respect to concurrent submissions and is the only
// component allowed to delete temp files: on Remove, on Clear, and in the
// termination Sweep of its scratch directory.
type Registry struct {
	mu             sync.RWMutex
	maxAttachments int
	maxTotalBytes  int64
	items          map[string]*Attachment
	order          []string
	tempOwners     map[string]string // temp path -> attachment id
	pathIndex      map[string]string // original abs path -> attachment id
	totalSize      int64
	nextID         int
	scratch        *Scratch
	logger         *log.Logger
}

// NewRegistry sets up an empty registry bound to a scratch directory.
func NewRegistry(maxAttachments int, maxTotalBytes int64, scratch *Scratch, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Registry{
		maxAttachments: maxAttachments,
		maxTotalBytes:  maxTotalBytes,
		items:          make(map[string]*Attachment),
		tempOwners:     make(map[string]string),
		pathIndex:      make(map[string]string),
		scratch:        scratch,
		logger:         logger,
	}
}

// Add assigns the attachment its id and commits it, or rejects it without
// any state change. IDs count up for the registry's lifetime and are never
// reused, even after Remove or Clear.
func (r *Registry) Add(att *Attachment) error {
	if att == nil {
		return fmt.Errorf("attachment is nil")
	}
	if att.IsTempFile && att.TempPath == "" {
		return fmt.Errorf("temp attachment without a path")
	}
	if att.IsTempFile && len(att.Data) > 0 {
		return fmt.Errorf("attachment content must be bytes or a temp file, not both")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.items)+1 > r.maxAttachments {
		return &IngestError{
			Type:    ErrorTypeQuotaExceeded,
			Path:    att.Source.OriginalPath,
			Message: fmt.Sprintf("attachment limit %d reached", r.maxAttachments),
		}
	}
	if r.totalSize+att.SizeBytes > r.maxTotalBytes {
		return &IngestError{
			Type: ErrorTypeQuotaExceeded,
			Path: att.Source.OriginalPath,
			Message: fmt.Sprintf("total size would exceed %s (current %s, adding %s)",
				formatBytes(r.maxTotalBytes), formatBytes(r.totalSize), formatBytes(att.SizeBytes)),
		}
	}
	if att.IsTempFile {
		if owner, taken := r.tempOwners[att.TempPath]; taken {
			return &IngestError{
				Type:    ErrorTypeAlreadyRegistered,
				Path:    att.TempPath,
				Message: fmt.Sprintf("temp file already owned by %s", owner),
			}
		}
	}
	if att.Source.OriginalPath != "" {
		if owner, taken := r.pathIndex[att.Source.OriginalPath]; taken {
			return &IngestError{
				Type:    ErrorTypeAlreadyRegistered,
				Path:    att.Source.OriginalPath,
				Message: fmt.Sprintf("already registered as %s", owner),
			}
		}
	}

	r.nextID++
	att.ID = fmt.Sprintf("att-%d", r.nextID)

	r.items[att.ID] = att
	r.order = append(r.order, att.ID)
	r.totalSize += att.SizeBytes
	if att.IsTempFile {
		r.tempOwners[att.TempPath] = att.ID
	}
	if att.Source.OriginalPath != "" {
		r.pathIndex[att.Source.OriginalPath] = att.ID
	}
	return nil
}

// Remove unlinks the attachment's owned temp file, then drops the entry.
// Unlink failures are logged and swallowed; cleanup never fails a removal.
func (r *Registry) Remove(id string) (*Attachment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	att, ok := r.items[id]
	if !ok {
		return nil, &IngestError{Type: ErrorTypeNotFound, Message: fmt.Sprintf("no attachment %s", id)}
	}
	r.unlinkTempLocked(att)
	r.dropLocked(att)
	return att, nil
}

// Clear removes every attachment, best-effort unlinking each temp file, and
// returns the removed entries in insertion order.
func (r *Registry) Clear() []*Attachment {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := make([]*Attachment, 0, len(r.order))
	for _, id := range r.order {
		att, ok := r.items[id]
		if !ok {
			continue
		}
		r.unlinkTempLocked(att)
		removed = append(removed, att)
	}
	r.items = make(map[string]*Attachment)
	r.order = r.order[:0]
	r.tempOwners = make(map[string]string)
	r.pathIndex = make(map[string]string)
	r.totalSize = 0
	return removed
}

// Get looks up a single attachment by id.
func (r *Registry) Get(id string) (*Attachment, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	att, ok := r.items[id]
	return att, ok
}

// List returns the attachments in insertion order.
func (r *Registry) List() []*Attachment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Attachment, 0, len(r.order))
	for _, id := range r.order {
		if att, ok := r.items[id]; ok {
			out = append(out, att)
		}
	}
	return out
}

// LookupPath reports whether an original path is already registered.
func (r *Registry) LookupPath(path string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.pathIndex[path]
	return id, ok
}

// Stats summarizes the current contents.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{
		Count:     len(r.items),
		TotalSize: r.totalSize,
	}
	for _, att := range r.items {
		switch att.Kind {
		case KindImage:
			stats.ImageCount++
		default:
			stats.FileCount++
		}
		if att.IsTempFile {
			stats.TempFileCount++
		}
	}
	return stats
}

// Sweep best-effort clears the scratch directory. Called on process
// termination; entries already removed are not an error.
func (r *Registry) Sweep() int {
	if r.scratch == nil {
		return 0
	}
	removed, errs := r.scratch.Sweep()
	for _, err := range errs {
		r.logger.Printf("[ERROR] scratch sweep: %v", err)
	}
	return removed
}

// unlinkTempLocked deletes the attachment's temp file if it owns one.
func (r *Registry) unlinkTempLocked(att *Attachment) {
	if !att.IsTempFile || att.TempPath == "" {
		return
	}
	if err := os.Remove(att.TempPath); err != nil && !os.IsNotExist(err) {
		r.logger.Printf("[ERROR] unlink temp file %s: %v", att.TempPath, err)
	}
}

// dropLocked removes the entry from every index.
func (r *Registry) dropLocked(att *Attachment) {
	delete(r.items, att.ID)
	for i, id := range r.order {
		if id == att.ID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.totalSize -= att.SizeBytes
	if att.IsTempFile {
		delete(r.tempOwners, att.TempPath)
	}
	if att.Source.OriginalPath != "" {
		delete(r.pathIndex, att.Source.OriginalPath)
	}
}
