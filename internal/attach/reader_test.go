package attach

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestReaderRead(t *testing.T) {
	dir := t.TempDir()

	textPath := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(textPath, []byte("hello attachments"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	bigPath := filepath.Join(dir, "big.bin")
	if err := os.WriteFile(bigPath, make([]byte, 2048), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	imgPath := filepath.Join(dir, "shot.png")
	if err := os.WriteFile(imgPath, make([]byte, 600), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	reader := NewReader(1024, 512)

	tests := []struct {
		name      string
		path      string
		limit     int64
		wantType  ErrorType
		wantMime  string
		wantKind  Kind
		wantBytes []byte
	}{
		{
			name:      "regular text file",
			path:      textPath,
			wantMime:  "text/plain",
			wantKind:  KindFile,
			wantBytes: []byte("hello attachments"),
		},
		{
			name:     "missing file",
			path:     filepath.Join(dir, "nope.txt"),
			wantType: ErrorTypeNotFound,
		},
		{
			name:     "directory",
			path:     dir,
			wantType: ErrorTypeNotAFile,
		},
		{
			name:     "file over generic ceiling",
			path:     bigPath,
			wantType: ErrorTypeTooLarge,
		},
		{
			name:     "image over image ceiling",
			path:     imgPath,
			wantType: ErrorTypeTooLarge,
		},
		{
			name:     "image under raised limit",
			path:     imgPath,
			limit:    4096,
			wantMime: "image/png",
			wantKind: KindImage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content, err := reader.ReadWithLimit(tt.path, tt.limit)
			if tt.wantType != "" {
				ie, ok := IsIngestError(err)
				if !ok {
					t.Fatalf("Expected IngestError, got %v", err)
				}
				if ie.Type != tt.wantType {
					t.Fatalf("Expected %s, got %s", tt.wantType, ie.Type)
				}
				return
			}
			if err != nil {
				t.Fatalf("Read failed: %v", err)
			}
			if content.MimeType != tt.wantMime {
				t.Errorf("Expected mime %s, got %s", tt.wantMime, content.MimeType)
			}
			if content.Kind != tt.wantKind {
				t.Errorf("Expected kind %s, got %s", tt.wantKind, content.Kind)
			}
			if !filepath.IsAbs(content.AbsPath) {
				t.Errorf("Expected absolute path, got %s", content.AbsPath)
			}
			if tt.wantBytes != nil && !bytes.Equal(content.Data, tt.wantBytes) {
				t.Errorf("Content mismatch: got %q", content.Data)
			}
			if content.SizeBytes != int64(len(content.Data)) {
				t.Errorf("SizeBytes %d does not match data length %d", content.SizeBytes, len(content.Data))
			}
		})
	}
}

func TestMimeForPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"report.pdf", "application/pdf"},
		{"photo.JPG", "image/jpeg"},
		{"diagram.webp", "image/webp"},
		{"notes.md", "text/markdown"},
		{"data.json", "application/json"},
		{"main.go", "text/plain"},
		{"mystery.xyz", DefaultMimeType},
		{"noextension", DefaultMimeType},
	}
	for _, tt := range tests {
		if got := MimeForPath(tt.path); got != tt.want {
			t.Errorf("MimeForPath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestKindForMime(t *testing.T) {
	if KindForMime("image/png") != KindImage {
		t.Error("image/png should bucket as image")
	}
	if KindForMime("application/pdf") != KindFile {
		t.Error("application/pdf should bucket as file")
	}
	if KindForMime(DefaultMimeType) != KindFile {
		t.Error("octet-stream should bucket as file")
	}
}
