package attach

import "time"

// Journal outcomes.
const (
	OutcomeRegistered = "registered"
	OutcomeRejected   = "rejected"
	OutcomeRemoved    = "removed"
	OutcomeCleared    = "cleared"
)

// JournalEntry describes the outcome of one ingestion attempt or removal.
// For registered entries Detail carries the attachment ID; for rejections it
// carries the rejection type.
type JournalEntry struct {
	At        time.Time
	Origin    Origin
	Filename  string
	SizeBytes int64
	Outcome   string
	Detail    string
}

// JournalFunc receives journal entries. The hook must not block; the ledger
// wires itself in through this.
type JournalFunc func(JournalEntry)

// record forwards one entry to the journal hook, if any. Nothing is recorded
// once shutdown has begun, so the hook never outlives its backing store.
func (c *Coordinator) record(origin Origin, filename string, size int64, outcome, detail string) {
	c.mu.Lock()
	journal := c.journal
	closed := c.closed
	c.mu.Unlock()
	if journal == nil || closed {
		return
	}
	if size < 0 {
		size = 0
	}
	journal(JournalEntry{
		At:        time.Now(),
		Origin:    origin,
		Filename:  filename,
		SizeBytes: size,
		Outcome:   outcome,
		Detail:    detail,
	})
}

// rejectionDetail reduces an ingestion error to a journal-friendly string.
func rejectionDetail(err error) string {
	if ie, ok := IsIngestError(err); ok {
		return string(ie.Type)
	}
	return err.Error()
}
