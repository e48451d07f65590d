package api

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrame(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
		check   func(t *testing.T, f Frame)
	}{
		{
			name:  "valid chat message",
			input: `{"type":"chat_message","content":"hello","session_id":7}`,
			check: func(t *testing.T, f Frame) {
				assert.Equal(t, FrameChatMessage, f.Type)
				assert.Equal(t, "hello", f.Content)
				require.NotNil(t, f.SessionID)
				assert.Equal(t, int64(7), *f.SessionID)
			},
		},
		{
			name:  "chat message without session falls back to binding",
			input: `{"type":"chat_message","content":"hello"}`,
			check: func(t *testing.T, f Frame) {
				assert.Nil(t, f.SessionID)
			},
		},
		{
			name:  "ping",
			input: `{"type":"ping"}`,
			check: func(t *testing.T, f Frame) {
				assert.Equal(t, FramePing, f.Type)
			},
		},
		{
			name:    "not json",
			input:   `{"type":`,
			wantErr: ErrFrameNotJSON,
		},
		{
			name:    "plain text",
			input:   `hello there`,
			wantErr: ErrFrameNotJSON,
		},
		{
			name:    "empty content",
			input:   `{"type":"chat_message","content":""}`,
			wantErr: ErrFrameEmptyContent,
		},
		{
			name:    "whitespace content",
			input:   `{"type":"chat_message","content":"   "}`,
			wantErr: ErrFrameEmptyContent,
		},
		{
			name:    "missing type",
			input:   `{"content":"hello"}`,
			wantErr: ErrFrameUnknownType,
		},
		{
			name:    "unknown type",
			input:   `{"type":"shutdown","content":"x"}`,
			wantErr: ErrFrameUnknownType,
		},
		{
			name:    "server-only type rejected inbound",
			input:   `{"type":"system_message","content":"x"}`,
			wantErr: ErrFrameUnknownType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseFrame([]byte(tt.input))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			if tt.check != nil {
				tt.check(t, f)
			}
		})
	}
}

func TestFrameMarshal(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	frame := NewChatFrame("hi", 3, ts)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(frame.Marshal(), &decoded))

	assert.Equal(t, "chat_message", decoded["type"])
	assert.Equal(t, "hi", decoded["content"])
	assert.Equal(t, float64(3), decoded["session_id"])
	assert.Contains(t, decoded, "timestamp")
}

func TestFrameConstructors(t *testing.T) {
	pong := NewPongFrame()
	assert.Equal(t, FramePong, pong.Type)
	assert.Equal(t, "pong", pong.Content)
	assert.NotNil(t, pong.Timestamp)

	errFrame := NewErrorFrame("bad input")
	assert.Equal(t, FrameError, errFrame.Type)
	assert.Equal(t, "bad input", errFrame.Content)
	assert.Nil(t, errFrame.SessionID)

	sid := int64(9)
	sys := NewSystemFrame("welcome", &sid)
	assert.Equal(t, FrameSystemMessage, sys.Type)
	require.NotNil(t, sys.SessionID)
	assert.Equal(t, int64(9), *sys.SessionID)
}
