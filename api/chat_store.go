package api

import (
	"context"
	"errors"

	"github.com/insurge/chatd/api/models"
)

// Store sentinels. Handlers map these to HTTP statuses and the websocket
// handler maps them to error frames; raw database errors never cross either
// boundary.
var (
	// ErrSessionNotFound covers both missing sessions and sessions the
	// caller has no right to see
	ErrSessionNotFound = errors.New("session not found")
	// ErrUserNotFound means the referenced user does not exist or is inactive
	ErrUserNotFound = errors.New("user not found")
	// ErrNotParticipant means the user has no active membership in the session
	ErrNotParticipant = errors.New("not a participant")
	// ErrForbidden means the participant's role does not allow the operation
	ErrForbidden = errors.New("permission denied")
	// ErrSessionFull means the session is at max_participants
	ErrSessionFull = errors.New("session is full")
	// ErrSessionNotJoinable means the session is inactive or not public
	ErrSessionNotJoinable = errors.New("session is not joinable")
	// ErrAlreadyParticipant means the user already holds an active membership
	ErrAlreadyParticipant = errors.New("already a participant")
	// ErrOwnerImmutable means the operation would demote, remove, or leave
	// the owner
	ErrOwnerImmutable = errors.New("the session owner cannot be demoted, removed, or leave")
)

// CreateSessionInput carries the fields for creating a session. An empty
// title defaults to DefaultSessionTitle and is replaced by a generated
// title when the first message arrives.
type CreateSessionInput struct {
	Title           string             `json:"title" binding:"max=255"`
	Description     *string            `json:"description"`
	SessionType     models.SessionType `json:"session_type"`
	MaxParticipants int                `json:"max_participants"`
}

// UpdateSessionInput carries optional fields for updating a session
type UpdateSessionInput struct {
	Title           *string             `json:"title"`
	Description     *string             `json:"description"`
	SessionType     *models.SessionType `json:"session_type"`
	MaxParticipants *int                `json:"max_participants"`
}

// SessionSummary is a session list row with aggregate counts
type SessionSummary struct {
	Session          models.ChatSession
	MessageCount     int64
	ParticipantCount int64
}

// ChatTurn is one entry of conversation history handed to the responder
type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatStore is the persistence collaborator for sessions, participants and
// messages. It owns all Session/Participant/Message records; callers never
// cache them beyond handling one request or frame.
type ChatStore interface {
	// Sessions
	CreateSession(ctx context.Context, ownerID int64, in CreateSessionInput) (*models.ChatSession, error)
	GetSessionForUser(ctx context.Context, sessionID, userID int64) (*models.ChatSession, error)
	ListUserSessions(ctx context.Context, userID int64, offset, limit int) ([]SessionSummary, error)
	ListPublicSessions(ctx context.Context, userID int64, offset, limit int) ([]models.ChatSession, int64, error)
	UpdateSession(ctx context.Context, sessionID, actorID int64, in UpdateSessionInput) (*models.ChatSession, error)
	// SetSessionTitle renames a session without a role gate; used for
	// auto-titling from the first message.
	SetSessionTitle(ctx context.Context, sessionID int64, title string) error
	SoftDeleteSession(ctx context.Context, sessionID, actorID int64) error

	// Participants
	JoinSession(ctx context.Context, sessionID, userID int64) (*models.ChatParticipant, error)
	LeaveSession(ctx context.Context, sessionID, userID int64) error
	InviteUser(ctx context.Context, sessionID, actorID, targetUserID int64, role models.ParticipantRole) (*models.ChatParticipant, error)
	UpdateParticipantRole(ctx context.Context, sessionID, actorID, targetUserID int64, role models.ParticipantRole) (*models.ChatParticipant, error)
	RemoveParticipant(ctx context.Context, sessionID, actorID, targetUserID int64) error
	GetParticipant(ctx context.Context, sessionID, userID int64) (*models.ChatParticipant, error)
	ActiveParticipants(ctx context.Context, sessionID int64) ([]models.ChatParticipant, error)
	CountActiveParticipants(ctx context.Context, sessionID int64) (int64, error)

	// Messages
	AddUserMessage(ctx context.Context, sessionID, userID int64, content string) (*models.ChatMessage, error)
	AddGeneratedMessage(ctx context.Context, sessionID int64, role models.MessageRole, content string) (*models.ChatMessage, error)
	ListMessages(ctx context.Context, sessionID, userID int64, offset, limit int) ([]models.ChatMessage, error)
	RecentHistory(ctx context.Context, sessionID int64, window int) ([]ChatTurn, error)
	CountMessages(ctx context.Context, sessionID int64) (int64, error)
}
