package resume

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/pkg/models"
)

func TestExtract(t *testing.T) {
	e := New()

	t.Run("plain text", func(t *testing.T) {
		text, err := e.Extract([]byte("Jane Doe\r\nBackend Engineer\r\n"), "text/plain")
		require.NoError(t, err)
		assert.Equal(t, "Jane Doe\nBackend Engineer", text)
	})

	t.Run("charset parameter accepted", func(t *testing.T) {
		text, err := e.Extract([]byte("resume body"), "text/plain; charset=utf-8")
		require.NoError(t, err)
		assert.Equal(t, "resume body", text)
	})

	t.Run("missing content type accepted", func(t *testing.T) {
		_, err := e.Extract([]byte("resume body"), "")
		assert.NoError(t, err)
	})

	t.Run("binary type rejected", func(t *testing.T) {
		_, err := e.Extract([]byte("%PDF-1.7"), "application/pdf")
		assert.True(t, models.IsValidationError(err))
	})

	t.Run("invalid utf8 rejected", func(t *testing.T) {
		_, err := e.Extract([]byte{0xff, 0xfe, 0x00}, "text/plain")
		assert.True(t, models.IsValidationError(err))
	})

	t.Run("empty upload rejected", func(t *testing.T) {
		_, err := e.Extract(nil, "text/plain")
		assert.True(t, models.IsValidationError(err))
	})

	t.Run("whitespace only rejected", func(t *testing.T) {
		_, err := e.Extract([]byte("   \n\n  "), "text/plain")
		assert.True(t, models.IsValidationError(err))
	})

	t.Run("oversized text truncated on rune boundary", func(t *testing.T) {
		body := strings.Repeat("é", MaxTextBytes) // 2 bytes per rune
		text, err := e.Extract([]byte(body), "text/plain")
		require.NoError(t, err)
		assert.LessOrEqual(t, len(text), MaxTextBytes)
		assert.True(t, strings.HasSuffix(text, "é"))
	})
}
