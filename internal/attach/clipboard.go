package attach

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/atotto/clipboard"
)

// ClipboardKind classifies what the clipboard held.
type ClipboardKind string

const (
	ClipboardText     ClipboardKind = "text"
	ClipboardFile     ClipboardKind = "file"
	ClipboardFileList ClipboardKind = "file-list"
	ClipboardImage    ClipboardKind = "image"
)

// ClipboardContent is the classified result of one clipboard read.
type ClipboardContent struct {
	Kind      ClipboardKind
	Text      string
	Paths     []string
	ImagePath string // scratch temp file holding a decoded image payload
	Filename  string
	MimeType  string
	SizeBytes int64
}

// dataURIPattern matches base64 data URIs. Checked before any path
// heuristic: payloads can contain path-like substrings.
var dataURIPattern = regexp.MustCompile(`(?is)^data:([a-z0-9.+-]+/[a-z0-9.+-]+);base64,(.+)$`)

// ClipboardSource classifies system clipboard content. It never returns an
// error; internal failures yield empty text.
type ClipboardSource struct {
	scratch *Scratch
	read    func() (string, error)
}

// NewClipboardSource binds the source to the scratch directory used for
// materializing image payloads.
func NewClipboardSource(scratch *Scratch) *ClipboardSource {
	return &ClipboardSource{
		scratch: scratch,
		read:    clipboard.ReadAll,
	}
}

// Read classifies the current clipboard content. Order matters: image data
// URIs first, then a single existing path, then a multi-line file list,
// otherwise plain text.
func (s *ClipboardSource) Read() ClipboardContent {
	raw, err := s.read()
	if err != nil || raw == "" {
		return ClipboardContent{Kind: ClipboardText}
	}

	trimmed := strings.TrimSpace(raw)
	if m := dataURIPattern.FindStringSubmatch(trimmed); m != nil {
		mimeType := strings.ToLower(m[1])
		if strings.HasPrefix(mimeType, "image/") {
			return s.materializeImage(mimeType, m[2])
		}
		// Non-image payloads stay text; the data: prefix keeps the path
		// heuristics below from ever matching them.
		return ClipboardContent{Kind: ClipboardText, Text: raw}
	}

	lines := nonBlankLines(raw)
	if len(lines) == 1 {
		if path, ok := ResolveExistingPath(lines[0]); ok {
			return ClipboardContent{Kind: ClipboardFile, Paths: []string{path}}
		}
	}
	if len(lines) >= 2 {
		paths := make([]string, 0, len(lines))
		seen := make(map[string]bool)
		for _, line := range lines {
			path, ok := ResolveExistingPath(line)
			if !ok || seen[path] {
				continue
			}
			seen[path] = true
			paths = append(paths, path)
		}
		if len(paths) >= 2 {
			return ClipboardContent{Kind: ClipboardFileList, Paths: paths}
		}
	}

	return ClipboardContent{Kind: ClipboardText, Text: raw}
}

// materializeImage decodes a base64 image payload into a scratch temp file.
func (s *ClipboardSource) materializeImage(mimeType, payload string) ClipboardContent {
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return ClipboardContent{Kind: ClipboardText}
	}
	name := "clipboard-" + time.Now().Format("150405") + ExtensionForMime(mimeType)
	path, err := s.scratch.Materialize(decoded, name)
	if err != nil {
		return ClipboardContent{Kind: ClipboardText}
	}
	return ClipboardContent{
		Kind:      ClipboardImage,
		ImagePath: path,
		Filename:  name,
		MimeType:  mimeType,
		SizeBytes: int64(len(decoded)),
	}
}

// nonBlankLines splits raw clipboard text, dropping empty lines.
func nonBlankLines(raw string) []string {
	var lines []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// ResolveExistingPath applies path heuristics to a line of text: strip
// quotes and file:// prefixes, expand ~, and require the result to be an
// existing regular file. Returns the absolute path.
func ResolveExistingPath(line string) (string, bool) {
	candidate := strings.TrimSpace(line)
	if candidate == "" {
		return "", false
	}
	candidate = stripQuotes(candidate)
	candidate = strings.TrimPrefix(candidate, "file://")
	candidate = ExpandHome(candidate)

	if !looksLikePath(candidate) {
		return "", false
	}

	abs, err := filepath.Abs(candidate)
	if err != nil {
		return "", false
	}
	info, err := os.Stat(abs)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	return abs, true
}

func stripQuotes(s string) string {
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '\'' && last == '\'') || (first == '"' && last == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// ExpandHome rewrites a leading ~ to the user home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}

// looksLikePath rejects prose before we ever touch the filesystem.
func looksLikePath(s string) bool {
	if strings.ContainsAny(s, "\n\t") {
		return false
	}
	if filepath.IsAbs(s) {
		return true
	}
	if strings.HasPrefix(s, "./") || strings.HasPrefix(s, "../") {
		return true
	}
	return strings.ContainsRune(s, filepath.Separator) && !strings.Contains(s, " ")
}
