package attach

import (
	"time"
)

// Kind distinguishes image attachments from generic files.
type Kind string

const (
	KindImage Kind = "image"
	KindFile  Kind = "file"
)

// Origin records which detector produced an attachment.
type Origin string

const (
	OriginPaste   Origin = "paste"
	OriginDrag    Origin = "drag"
	OriginUpload  Origin = "upload"
	OriginFileRef Origin = "file-reference"
)

// Source describes where a candidate came from.
type Source struct {
	Origin       Origin
	OriginalPath string
	ObservedAt   time.Time
}

// Attachment is a registered, quota-counted file or image ready to hand to a
// downstream request. Content is either in-memory bytes or an owned temp
// file, never both. When IsTempFile is set, TempPath exists on disk and is
// exclusively owned by this attachment; only the registry may unlink it.
type Attachment struct {
	ID         string
	Filename   string
	Data       []byte
	TempPath   string
	MimeType   string
	SizeBytes  int64
	Kind       Kind
	Source     Source
	IsTempFile bool
}

// Stats summarizes the registry contents.
type Stats struct {
	Count         int
	TotalSize     int64
	FileCount     int
	ImageCount    int
	TempFileCount int
}

// Candidate is a path proposed by a detector, not yet validated or
// committed. MaxBytes overrides the per-kind ceiling when positive
// (drag-sourced files carry a larger allowance). KnownSize is the file size
// at observation time; zero means the stability tracker samples it fresh.
type Candidate struct {
	Path      string
	Source    Source
	MaxBytes  int64
	KnownSize int64
}
