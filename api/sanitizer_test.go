package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeMessageContent(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain text passes through", "hello world", "hello world"},
		{"script tags stripped", "<script>alert(1)</script>hi", "hi"},
		{"markup stripped but text kept", "<b>bold</b> claim", "bold claim"},
		{"whitespace trimmed", "  spaced  ", "spaced"},
		{"only markup becomes empty", "<img src=x onerror=alert(1)>", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeMessageContent(tt.input))
		})
	}
}
