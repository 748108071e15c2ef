package drag

import (
	"bytes"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"parley/internal/attach"
)

// The raw-stream strategy watches the terminal byte feed for four shapes a
// drop can take: SGR mouse tracking around the gesture, an inline file
// transfer (OSC 1337), a bracketed-paste block, and bare path text typed in
// by the emulator.
var (
	sgrMousePattern = regexp.MustCompile(`\x1b\[<(\d+);(\d+);(\d+)([Mm])`)

	// OSC 1337 File=<args>:<base64>, terminated by BEL or ST
	inlineTransferPattern = regexp.MustCompile(`\x1b\]1337;File=([^:\x07\x1b]*):([A-Za-z0-9+/=\r\n]*)(?:\x07|\x1b\\)`)

	pasteBlockPattern = regexp.MustCompile(`(?s)\x1b\[200~(.*?)\x1b\[201~`)

	// ANSI/OSC noise stripped before text heuristics run
	escapePattern = regexp.MustCompile(`\x1b\[[0-9;<]*[a-zA-Z~]|\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)|\x1b.`)

	fileURIPattern      = regexp.MustCompile(`file://([^\s"']+)`)
	quotedPathPattern   = regexp.MustCompile(`["']([^"'\n]+)["']`)
	absolutePathPattern = regexp.MustCompile(`(/(?:[^\s\\]|\\ )+\.[A-Za-z0-9]{1,10})`)
	homePathPattern     = regexp.MustCompile(`(~(?:[^\s\\]|\\ )+\.[A-Za-z0-9]{1,10})`)
)

var (
	inlineTransferPrefix = []byte("\x1b]1337;File=")
	pasteBegin           = []byte("\x1b[200~")
	pasteEnd             = []byte("\x1b[201~")
	oscBel               = []byte{0x07}
	oscSt                = []byte{0x1b, '\\'}
)

type eventKind int

const (
	eventPress eventKind = iota
	eventRelease
	eventPath
	eventTransfer
)

// streamEvent is one detection extracted from the byte feed. pos preserves
// the order things happened in, which matters: a release must commit the
// paths that came before it, not after.
type streamEvent struct {
	kind     eventKind
	pos      int
	path     string
	transfer *inlineTransfer
	err      error
}

// streamScanner accumulates raw terminal bytes and extracts detection
// events. Sequences split across reads are carried until their terminator
// arrives, capped so a missing terminator cannot hoard memory forever.
type streamScanner struct {
	carry    []byte
	maxCarry int
}

func newStreamScanner(maxCarry int) *streamScanner {
	if maxCarry <= 0 {
		maxCarry = 8 << 20
	}
	return &streamScanner{maxCarry: maxCarry}
}

// scan consumes the next chunk and returns the events completed by it, in
// stream order.
func (s *streamScanner) scan(data []byte) []streamEvent {
	buf := data
	if len(s.carry) > 0 {
		buf = append(s.carry, data...)
		s.carry = nil
	}

	process, carry := splitIncomplete(buf)
	if len(carry) > 0 && len(carry) <= s.maxCarry {
		s.carry = append([]byte(nil), carry...)
	}
	return scanComplete(process)
}

// pending reports whether a partial sequence is waiting for more input.
func (s *streamScanner) pending() bool {
	return len(s.carry) > 0
}

// splitIncomplete separates the scannable prefix from a trailing partial
// sequence. Inline transfers and paste blocks can be arbitrarily long, so
// their unterminated starts push everything after them into the carry.
func splitIncomplete(buf []byte) (process, carry []byte) {
	if idx := lastUnterminated(buf, inlineTransferPrefix, oscBel, oscSt); idx >= 0 {
		return buf[:idx], buf[idx:]
	}
	if idx := lastUnterminated(buf, pasteBegin, pasteEnd); idx >= 0 {
		return buf[:idx], buf[idx:]
	}
	if idx := partialEscapeStart(buf); idx >= 0 {
		return buf[:idx], buf[idx:]
	}
	return buf, nil
}

// lastUnterminated returns the offset of the final occurrence of prefix that
// no terminator follows, or -1.
func lastUnterminated(buf, prefix []byte, terminators ...[]byte) int {
	idx := bytes.LastIndex(buf, prefix)
	if idx < 0 {
		return -1
	}
	rest := buf[idx+len(prefix):]
	for _, term := range terminators {
		if bytes.Contains(rest, term) {
			return -1
		}
	}
	return idx
}

// partialEscapeStart finds a short unfinished escape sequence at the end of
// the buffer.
func partialEscapeStart(buf []byte) int {
	start := len(buf) - 64
	if start < 0 {
		start = 0
	}
	for i := len(buf) - 1; i >= start; i-- {
		if buf[i] != 0x1b {
			continue
		}
		if escapeComplete(buf[i:]) {
			return -1
		}
		return i
	}
	return -1
}

// escapeComplete reports whether the sequence starting at ESC has its final
// byte already.
func escapeComplete(seq []byte) bool {
	if len(seq) < 2 {
		return false
	}
	switch seq[1] {
	case '[':
		for _, b := range seq[2:] {
			if b >= 0x40 && b <= 0x7e {
				return true
			}
		}
		return false
	case ']':
		rest := seq[2:]
		return bytes.IndexByte(rest, 0x07) >= 0 || bytes.Contains(rest, oscSt)
	default:
		return true
	}
}

// scanComplete extracts every event from a buffer known to hold only
// complete sequences.
func scanComplete(buf []byte) []streamEvent {
	if len(buf) == 0 {
		return nil
	}

	var events []streamEvent
	type span struct{ start, end int }
	var structural []span

	for _, m := range inlineTransferPattern.FindAllSubmatchIndex(buf, -1) {
		args := string(buf[m[2]:m[3]])
		payload := string(buf[m[4]:m[5]])
		ev := streamEvent{kind: eventTransfer, pos: m[0]}
		ev.transfer, ev.err = parseInlineTransfer(args, payload)
		events = append(events, ev)
		structural = append(structural, span{m[0], m[1]})
	}

	for _, m := range pasteBlockPattern.FindAllSubmatchIndex(buf, -1) {
		inner := escapePattern.ReplaceAll(buf[m[2]:m[3]], nil)
		paths, _ := ExtractPaths(string(inner))
		for _, p := range paths {
			events = append(events, streamEvent{kind: eventPath, pos: m[0], path: p})
		}
		structural = append(structural, span{m[0], m[1]})
	}

	for _, m := range sgrMousePattern.FindAllSubmatchIndex(buf, -1) {
		button, _ := strconv.Atoi(string(buf[m[2]:m[3]]))
		final := buf[m[8]]
		structural = append(structural, span{m[0], m[1]})
		switch {
		case final == 'm':
			events = append(events, streamEvent{kind: eventRelease, pos: m[0]})
		case button&32 != 0:
			// drag motion keeps the session alive but adds nothing
		case button < 3:
			// plain button press; wheel and extended buttons are not gestures
			events = append(events, streamEvent{kind: eventPress, pos: m[0]})
		}
	}

	// Colon-prefixed lines are client commands; their arguments are handled
	// by the command layer, not the drop heuristics.
	plain := escapePattern.ReplaceAll(buf, nil)
	if !bytes.HasPrefix(bytes.TrimLeft(plain, " \t\r\n"), []byte(":")) {
		sort.Slice(structural, func(i, j int) bool { return structural[i].start < structural[j].start })
		cursor := 0
		for _, sp := range append(structural, span{len(buf), len(buf)}) {
			if sp.start > cursor {
				segment := escapePattern.ReplaceAll(buf[cursor:sp.start], nil)
				paths, _ := ExtractPaths(string(segment))
				for _, p := range paths {
					events = append(events, streamEvent{kind: eventPath, pos: cursor, path: p})
				}
			}
			if sp.end > cursor {
				cursor = sp.end
			}
		}
	}

	sort.SliceStable(events, func(i, j int) bool { return events[i].pos < events[j].pos })
	return events
}

// ExtractPaths pulls existing file paths out of a piece of terminal text and
// returns them, in the order they appear, with whatever text is left over.
// The chat layer uses the remainder to decide whether an input line was
// fully consumed by a drop.
func ExtractPaths(text string) (paths []string, remainder string) {
	if strings.TrimSpace(text) == "" {
		return nil, strings.TrimSpace(text)
	}

	type hit struct {
		start, end int
		resolved   string
	}
	covered := make([]bool, len(text))
	var hits []hit

	claim := func(start, end int, candidate string) {
		for i := start; i < end; i++ {
			if covered[i] {
				return
			}
		}
		resolved, ok := resolveCandidate(candidate)
		if !ok {
			return
		}
		for i := start; i < end; i++ {
			covered[i] = true
		}
		hits = append(hits, hit{start, end, resolved})
	}

	// higher-confidence shapes claim their text first
	for _, m := range fileURIPattern.FindAllStringSubmatchIndex(text, -1) {
		raw := text[m[2]:m[3]]
		if unescaped, err := url.PathUnescape(raw); err == nil {
			raw = unescaped
		}
		claim(m[0], m[1], raw)
	}
	for _, m := range quotedPathPattern.FindAllStringSubmatchIndex(text, -1) {
		claim(m[0], m[1], text[m[2]:m[3]])
	}
	for _, m := range absolutePathPattern.FindAllStringSubmatchIndex(text, -1) {
		claim(m[0], m[1], text[m[2]:m[3]])
	}
	for _, m := range homePathPattern.FindAllStringSubmatchIndex(text, -1) {
		claim(m[0], m[1], text[m[2]:m[3]])
	}

	if len(hits) == 0 {
		return nil, strings.TrimSpace(text)
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].start < hits[j].start })
	seen := make(map[string]bool)
	for _, h := range hits {
		if !seen[h.resolved] {
			seen[h.resolved] = true
			paths = append(paths, h.resolved)
		}
	}

	var b strings.Builder
	for i := 0; i < len(text); i++ {
		if !covered[i] {
			b.WriteByte(text[i])
		}
	}
	remainder = strings.Join(strings.Fields(b.String()), " ")
	return paths, remainder
}

// resolveCandidate normalizes one extracted token and keeps it only when it
// names an existing regular file.
func resolveCandidate(raw string) (string, bool) {
	candidate := strings.ReplaceAll(strings.TrimSpace(raw), `\ `, " ")
	if candidate == "" {
		return "", false
	}
	return attach.ResolveExistingPath(candidate)
}
