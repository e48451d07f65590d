package textcheck

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateDisplayName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"plain ascii", "alice", false},
		{"accented", "José", false},
		{"cjk", "田中太郎", false},
		{"zero width space", "ali\u200Bce", true},
		{"zero width joiner", "ali\u200Dce", true},
		{"zero width no-break space", "ali\uFEFFce", true},
		{"rtl override", "evil\u202Etxt.exe", true},
		{"isolate", "\u2066hidden\u2069", true},
		{"control char", "ali\x00ce", true},
		{"tab rejected in names", "ali\tce", true},
		{"zalgo", "h́̂̃̄ello", true},
		{"few combining marks ok", "\u00E9\u0302", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDisplayName(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateDisplayNameNFD(t *testing.T) {
	// Decomposed form: 'e' followed by a combining acute accent.
	err := ValidateDisplayName("Jose\u0301")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NFC")
}

func TestValidateMessageContent(t *testing.T) {
	assert.NoError(t, ValidateMessageContent("hello there"))
	assert.NoError(t, ValidateMessageContent("line one\nline two\ttabbed"))
	assert.NoError(t, ValidateMessageContent("café crème"))

	assert.Error(t, ValidateMessageContent("hid\u200Bden"))
	assert.Error(t, ValidateMessageContent("swap\u202Eme"))
	assert.Error(t, ValidateMessageContent("nul\x00byte"))
	assert.Error(t, ValidateMessageContent("ź̂̃̄algo"))
}

func TestNormalizeDisplayName(t *testing.T) {
	assert.Equal(t, "Jos\u00E9", NormalizeDisplayName("  Jose\u0301  "))
	assert.Equal(t, "alice", NormalizeDisplayName("alice"))
}
