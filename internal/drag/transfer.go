package drag

import (
	"encoding/base64"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"parley/internal/attach"
)

// inlineTransfer is a decoded OSC 1337 file transfer. Terminals that support
// the protocol send the file body itself, so no path on disk is involved.
type inlineTransfer struct {
	Name string
	Size int64
	Data []byte
}

// parseInlineTransfer decodes the argument list and base64 payload of an
// OSC 1337 File sequence.
func parseInlineTransfer(args, payload string) (*inlineTransfer, error) {
	tr := &inlineTransfer{Name: "transfer.bin", Size: -1}

	for _, part := range strings.Split(args, ";") {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "name":
			decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(value))
			if err != nil {
				// some emulators send the name unencoded
				tr.Name = sanitizeTransferName(value)
				continue
			}
			tr.Name = sanitizeTransferName(string(decoded))
		case "size":
			if n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
				tr.Size = n
			}
		}
	}

	cleaned := strings.Map(func(r rune) rune {
		if r == '\r' || r == '\n' {
			return -1
		}
		return r
	}, payload)

	data, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return nil, &attach.IngestError{
			Type:    attach.ErrorTypeUnsupportedType,
			Path:    tr.Name,
			Message: fmt.Sprintf("inline transfer payload is not valid base64: %v", err),
			Err:     err,
		}
	}
	tr.Data = data
	if tr.Size >= 0 && int64(len(data)) != tr.Size {
		// advisory only; the decoded length wins
		tr.Size = int64(len(data))
	}
	if tr.Size < 0 {
		tr.Size = int64(len(data))
	}
	return tr, nil
}

// sanitizeTransferName reduces a declared filename to a safe base name.
func sanitizeTransferName(name string) string {
	name = strings.TrimSpace(name)
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	if name == "" || name == "." || name == "/" {
		return "transfer.bin"
	}
	return name
}
