package docroot

import (
	"mime"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
)

// sniffLen bounds how much of a file is inspected when its extension is not
// conclusive.
const sniffLen = 3072

const defaultContentType = "application/octet-stream"

// detectContentType prefers the extension table and falls back to sniffing
// the leading bytes of the file.
func detectContentType(path string, data []byte) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	if len(data) == 0 {
		return defaultContentType
	}
	if len(data) > sniffLen {
		data = data[:sniffLen]
	}
	return mimetype.Detect(data).String()
}
