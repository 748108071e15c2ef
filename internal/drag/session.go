package drag

import (
	"time"

	"github.com/google/uuid"
)

// Status of a drop session.
type Status string

const (
	StatusCollecting Status = "collecting"
	StatusSettling   Status = "settling"
	StatusCommitted  Status = "committed"
	StatusExpired    Status = "expired"
)

// Session groups the candidates of one drop gesture. Observations arriving
// within the detection window of each other belong to the same session
// regardless of which detector produced them. Fields are guarded by the
// engine's mutex.
type Session struct {
	ID         string
	Trigger    string // "press", "path", "transfer" or "poll"
	StartedAt  time.Time
	Status     Status
	Candidates []string

	ingested   int
	rejected   int
	pending    int
	windowDone bool
	announced  bool
	expiry     *time.Timer
}

func newSession(trigger string) *Session {
	return &Session{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		StartedAt: time.Now(),
		Status:    StatusCollecting,
	}
}

// add records a candidate path, refusing duplicates and late arrivals.
func (s *Session) add(path string) bool {
	if s.Status != StatusCollecting {
		return false
	}
	for _, existing := range s.Candidates {
		if existing == path {
			return false
		}
	}
	s.Candidates = append(s.Candidates, path)
	return true
}

func (s *Session) stopExpiry() {
	if s.expiry != nil {
		s.expiry.Stop()
		s.expiry = nil
	}
}

// snapshot renders the session for an event payload.
func (s *Session) snapshot() map[string]any {
	return map[string]any{
		"session":    s.ID,
		"trigger":    s.Trigger,
		"status":     string(s.Status),
		"candidates": append([]string(nil), s.Candidates...),
		"ingested":   s.ingested,
		"rejected":   s.rejected,
	}
}
