package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// FrameType is the discriminator carried by every frame
type FrameType string

const (
	// FrameChatMessage carries one chat message (both directions)
	FrameChatMessage FrameType = "chat_message"
	// FramePing is a client liveness probe
	FramePing FrameType = "ping"
	// FramePong answers a ping (server to client only)
	FramePong FrameType = "pong"
	// FrameSystemMessage carries server notices (server to client only)
	FrameSystemMessage FrameType = "system_message"
	// FrameError reports a per-frame failure to the sender (server to
	// client only)
	FrameError FrameType = "error"
)

// Frame is one discrete JSON message exchanged over the stream
type Frame struct {
	Type      FrameType  `json:"type"`
	Content   string     `json:"content"`
	SessionID *int64     `json:"session_id,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// Parse failures are reported back to the sender verbatim, so the messages
// stay generic and carry no internals.
var (
	ErrFrameNotJSON      = errors.New("invalid JSON format")
	ErrFrameUnknownType  = errors.New("unknown frame type")
	ErrFrameEmptyContent = errors.New("content must not be empty")
)

// ParseFrame decodes an inbound frame and validates its discriminator.
// Malformed input yields an error value, never a panic; the caller maps it
// to an error frame and keeps the connection open.
func ParseFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, ErrFrameNotJSON
	}

	switch f.Type {
	case FrameChatMessage:
		if strings.TrimSpace(f.Content) == "" {
			return Frame{}, ErrFrameEmptyContent
		}
		return f, nil
	case FramePing:
		return f, nil
	case "":
		return Frame{}, fmt.Errorf("%w: missing type", ErrFrameUnknownType)
	default:
		// pong/error/system_message are server-to-client only
		return Frame{}, fmt.Errorf("%w: %q", ErrFrameUnknownType, f.Type)
	}
}

// Marshal encodes the frame for the wire. Frames are built from internal
// state, so failure is a programming error and yields a minimal error
// payload instead.
func (f Frame) Marshal() []byte {
	data, err := json.Marshal(f)
	if err != nil {
		return []byte(`{"type":"error","content":"internal encoding error"}`)
	}
	return data
}

func now() *time.Time {
	t := time.Now().UTC()
	return &t
}

// NewChatFrame builds an outbound chat_message frame
func NewChatFrame(content string, sessionID int64, ts time.Time) Frame {
	ts = ts.UTC()
	return Frame{Type: FrameChatMessage, Content: content, SessionID: &sessionID, Timestamp: &ts}
}

// NewSystemFrame builds a system_message frame
func NewSystemFrame(content string, sessionID *int64) Frame {
	return Frame{Type: FrameSystemMessage, Content: content, SessionID: sessionID, Timestamp: now()}
}

// NewErrorFrame builds a sender-only error frame
func NewErrorFrame(content string) Frame {
	return Frame{Type: FrameError, Content: content, Timestamp: now()}
}

// NewPongFrame answers a ping
func NewPongFrame() Frame {
	return Frame{Type: FramePong, Content: "pong", Timestamp: now()}
}
