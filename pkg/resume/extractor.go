// Package resume extracts plain text from uploaded resume files for use in
// interviewer prompts.
package resume

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/parleyhq/parley/pkg/models"
)

// MaxTextBytes bounds the extracted text kept in the session config.
const MaxTextBytes = 64 << 10

var textMimeTypes = map[string]bool{
	"text/plain":    true,
	"text/markdown": true,
	"":              true, // browsers often omit the type for .txt uploads
}

// Extractor turns uploaded resume bytes into prompt-ready text. Only plain
// text formats are supported; binary formats are rejected with a
// validation error.
type Extractor struct{}

// New creates an extractor.
func New() *Extractor { return &Extractor{} }

// Extract validates and normalizes the upload. The MIME type is the
// client-declared content type, checked against the payload.
func (e *Extractor) Extract(data []byte, mimeType string) (string, error) {
	if len(data) == 0 {
		return "", models.NewValidationError("file", "is empty")
	}

	base := mimeType
	if i := strings.Index(base, ";"); i >= 0 {
		base = strings.TrimSpace(base[:i])
	}
	if !textMimeTypes[strings.ToLower(base)] {
		return "", models.NewValidationError("file", fmt.Sprintf("unsupported content type %q; upload plain text", base))
	}
	if !utf8.Valid(data) {
		return "", models.NewValidationError("file", "is not valid UTF-8 text")
	}

	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.TrimSpace(text)
	if text == "" {
		return "", models.NewValidationError("file", "contains no text")
	}
	if len(text) > MaxTextBytes {
		text = truncateUTF8(text, MaxTextBytes)
	}
	return text, nil
}

// truncateUTF8 cuts text at or below limit without splitting a rune.
func truncateUTF8(text string, limit int) string {
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	return text[:limit]
}
