package storage

import (
	"mime"
	"path/filepath"
	"strings"
)

const (
	// ExtNDJSON is the extension of archive batches.
	ExtNDJSON = ".ndjson"

	// ContentTypeNDJSON is the media type of newline-delimited JSON.
	ContentTypeNDJSON = "application/x-ndjson"

	contentTypeDefault = "application/octet-stream"
)

// DetectContentType returns providedType when set, otherwise a type derived
// from the key's extension, falling back to application/octet-stream.
func DetectContentType(providedType, key string) string {
	if providedType != "" {
		return providedType
	}

	ext := strings.ToLower(filepath.Ext(key))
	if ext == ExtNDJSON {
		return ContentTypeNDJSON
	}
	if contentType := mime.TypeByExtension(ext); contentType != "" {
		return contentType
	}
	return contentTypeDefault
}
