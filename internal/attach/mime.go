package attach

import (
	"path/filepath"
	"strings"
)

// DefaultMimeType is used when the extension table has no entry.
const DefaultMimeType = "application/octet-stream"

// MimeForPath maps a filename extension to a mime type. Unknown extensions
// fall back to application/octet-stream.
func MimeForPath(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".bmp":
		return "image/bmp"
	case ".svg":
		return "image/svg+xml"
	case ".pdf":
		return "application/pdf"
	case ".txt", ".log":
		return "text/plain"
	case ".md", ".markdown":
		return "text/markdown"
	case ".csv":
		return "text/csv"
	case ".html", ".htm":
		return "text/html"
	case ".json":
		return "application/json"
	case ".yaml", ".yml":
		return "application/yaml"
	case ".xml":
		return "application/xml"
	case ".zip":
		return "application/zip"
	case ".gz":
		return "application/gzip"
	case ".tar":
		return "application/x-tar"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".mp4":
		return "video/mp4"
	case ".go", ".py", ".js", ".ts", ".rs", ".c", ".h", ".cpp", ".java", ".rb", ".sh":
		return "text/plain"
	default:
		return DefaultMimeType
	}
}

// KindForMime buckets a mime type into image or generic file.
func KindForMime(mimeType string) Kind {
	if strings.HasPrefix(mimeType, "image/") {
		return KindImage
	}
	return KindFile
}

// ExtensionForMime returns a filename extension for a mime type, used when
// materializing decoded payloads that arrive without a name.
func ExtensionForMime(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/bmp":
		return ".bmp"
	case "text/markdown":
		return ".md"
	case "text/plain":
		return ".txt"
	case "application/pdf":
		return ".pdf"
	default:
		return ".bin"
	}
}
