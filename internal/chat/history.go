package chat

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// inputHistory persists prompt lines across runs. Lines append to the file;
// once the in-memory list doubles the cap the file is rewritten with the
// newest cap entries.
type inputHistory struct {
	path    string
	limit   int
	entries []string
	mu      sync.Mutex
}

func loadInputHistory(path string, limit int) *inputHistory {
	if limit <= 0 {
		limit = 500
	}
	h := &inputHistory{path: path, limit: limit}
	if path == "" {
		return h
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return h
	}
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}
		h.entries = append(h.entries, line)
	}
	if len(h.entries) > h.limit {
		h.entries = append([]string(nil), h.entries[len(h.entries)-h.limit:]...)
	}
	return h
}

func (h *inputHistory) Entries() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	cpy := make([]string, len(h.entries))
	copy(cpy, h.entries)
	return cpy
}

func (h *inputHistory) Add(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, line)
	if len(h.entries) >= h.limit*2 {
		h.entries = append([]string(nil), h.entries[len(h.entries)-h.limit:]...)
		h.rewriteLocked()
		return
	}
	h.appendLocked(line)
}

func (h *inputHistory) appendLocked(line string) {
	if h.path == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(h.path), 0o755); err != nil {
		return
	}
	f, err := os.OpenFile(h.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = fmt.Fprintln(f, line)
}

func (h *inputHistory) rewriteLocked() {
	if h.path == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(h.path), 0o755); err != nil {
		return
	}
	_ = os.WriteFile(h.path, []byte(strings.Join(h.entries, "\n")+"\n"), 0o600)
}
