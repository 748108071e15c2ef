package attach

import (
	"os"
	"path/filepath"
)

// Content is the validated result of reading a candidate path.
type Content struct {
	AbsPath   string
	Filename  string
	Data      []byte
	MimeType  string
	SizeBytes int64
	Kind      Kind
}

// Reader validates and loads candidate files. It is stateless and safe for
// concurrent use.
type Reader struct {
	maxFileBytes  int64
	maxImageBytes int64
}

// NewReader constructs a reader with per-kind size ceilings in bytes.
func NewReader(maxFileBytes, maxImageBytes int64) *Reader {
	return &Reader{
		maxFileBytes:  maxFileBytes,
		maxImageBytes: maxImageBytes,
	}
}

// Read resolves path to absolute form, validates existence, file type and
// size against the per-kind ceiling, and returns the loaded content.
func (r *Reader) Read(path string) (*Content, error) {
	return r.ReadWithLimit(path, 0)
}

// ReadWithLimit behaves like Read but, when limit is positive, replaces the
// per-kind ceiling. Drag-sourced candidates use this to carry their larger
// allowance.
func (r *Reader) ReadWithLimit(path string, limit int64) (*Content, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, &IngestError{Type: ErrorTypeIO, Path: path, Message: "resolve path", Err: err}
	}

	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &IngestError{Type: ErrorTypeNotFound, Path: absPath, Message: "no such file"}
		}
		return nil, &IngestError{Type: ErrorTypeIO, Path: absPath, Message: "stat", Err: err}
	}
	if !info.Mode().IsRegular() {
		msg := "not a regular file"
		if info.IsDir() {
			msg = "is a directory"
		}
		return nil, &IngestError{Type: ErrorTypeNotAFile, Path: absPath, Message: msg}
	}

	mimeType := MimeForPath(absPath)
	kind := KindForMime(mimeType)

	ceiling := r.maxFileBytes
	if kind == KindImage {
		ceiling = r.maxImageBytes
	}
	if limit > 0 {
		ceiling = limit
	}
	if ceiling > 0 && info.Size() > ceiling {
		return nil, &IngestError{
			Type:    ErrorTypeTooLarge,
			Path:    absPath,
			Message: sizeMessage(info.Size(), ceiling),
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, &IngestError{Type: ErrorTypeIO, Path: absPath, Message: "read", Err: err}
	}

	return &Content{
		AbsPath:   absPath,
		Filename:  filepath.Base(absPath),
		Data:      data,
		MimeType:  mimeType,
		SizeBytes: int64(len(data)),
		Kind:      kind,
	}, nil
}

func sizeMessage(size, ceiling int64) string {
	return "size " + formatBytes(size) + " exceeds limit " + formatBytes(ceiling)
}
