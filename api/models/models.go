// Package models defines GORM models for the chatd database schema.
// These models work across PostgreSQL, MySQL, SQL Server and SQLite through
// GORM's dialect abstraction.
package models

import (
	"time"
)

// SessionType controls who may see and join a chat session
type SessionType string

const (
	// SessionTypePrivate is accessible only to existing participants
	SessionTypePrivate SessionType = "private"
	// SessionTypePublic is joinable by any active user
	SessionTypePublic SessionType = "public"
	// SessionTypeInviteOnly is joinable only via an invite from an admin
	SessionTypeInviteOnly SessionType = "invite_only"
)

// Valid reports whether the session type is one of the three known types
func (t SessionType) Valid() bool {
	switch t {
	case SessionTypePrivate, SessionTypePublic, SessionTypeInviteOnly:
		return true
	}
	return false
}

// ParticipantRole is the per-session role of a user
type ParticipantRole string

const (
	// RoleOwner is the user who created the session
	RoleOwner ParticipantRole = "owner"
	// RoleAdmin can manage the session and its participants
	RoleAdmin ParticipantRole = "admin"
	// RoleMember can send messages
	RoleMember ParticipantRole = "member"
	// RoleViewer can only read messages
	RoleViewer ParticipantRole = "viewer"
)

// Valid reports whether the role is one of the four known roles
func (r ParticipantRole) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember, RoleViewer:
		return true
	}
	return false
}

// MessageRole tags who authored a message
type MessageRole string

const (
	// MessageRoleUser marks a message posted by a participant
	MessageRoleUser MessageRole = "user"
	// MessageRoleAssistant marks a generated reply (no author)
	MessageRoleAssistant MessageRole = "assistant"
	// MessageRoleSystem marks server-generated notices
	MessageRoleSystem MessageRole = "system"
)

// User represents an authenticated user in the system
type User struct {
	ID             int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Email          string    `gorm:"column:email;type:varchar(255);not null;uniqueIndex"`
	Username       string    `gorm:"column:username;type:varchar(100);not null;uniqueIndex"`
	HashedPassword string    `gorm:"column:hashed_password;type:varchar(255);not null"`
	FirstName      *string   `gorm:"column:first_name;type:varchar(100)"`
	LastName       *string   `gorm:"column:last_name;type:varchar(100)"`
	IsActive       bool      `gorm:"column:is_active;not null;default:true"`
	CreatedAt      time.Time `gorm:"column:created_at;not null;autoCreateTime"`
	ModifiedAt     time.Time `gorm:"column:modified_at;not null;autoUpdateTime"`
}

// TableName specifies the table name for User
func (User) TableName() string {
	return "users"
}

// ChatSession represents a chat room with a visibility kind and capacity
type ChatSession struct {
	ID              int64       `gorm:"column:id;primaryKey;autoIncrement"`
	Title           string      `gorm:"column:title;type:varchar(200);not null"`
	Description     *string     `gorm:"column:description;type:text"`
	OwnerID         int64       `gorm:"column:owner_id;not null;index"`
	SessionType     SessionType `gorm:"column:session_type;type:varchar(20);not null;default:private"`
	MaxParticipants int         `gorm:"column:max_participants;not null;default:10"`
	IsActive        bool        `gorm:"column:is_active;not null;default:true"`
	CreatedAt       time.Time   `gorm:"column:created_at;not null;autoCreateTime"`
	ModifiedAt      time.Time   `gorm:"column:modified_at;not null;autoUpdateTime"`

	Owner        User              `gorm:"foreignKey:OwnerID"`
	Participants []ChatParticipant `gorm:"foreignKey:SessionID"`
	Messages     []ChatMessage     `gorm:"foreignKey:SessionID"`
}

// TableName specifies the table name for ChatSession
func (ChatSession) TableName() string {
	return "chat_sessions"
}

// ChatParticipant is a user's membership record in a session.
// Removed or departed participants are deactivated, never deleted, so the
// (session_id, user_id) pair stays unique for the life of the session.
type ChatParticipant struct {
	ID        int64           `gorm:"column:id;primaryKey;autoIncrement"`
	SessionID int64           `gorm:"column:session_id;not null;uniqueIndex:idx_session_user"`
	UserID    int64           `gorm:"column:user_id;not null;uniqueIndex:idx_session_user"`
	Role      ParticipantRole `gorm:"column:role;type:varchar(20);not null;default:member"`
	IsActive  bool            `gorm:"column:is_active;not null;default:true"`
	JoinedAt  time.Time       `gorm:"column:joined_at;not null;autoCreateTime"`

	Session ChatSession `gorm:"foreignKey:SessionID"`
	User    User        `gorm:"foreignKey:UserID"`
}

// TableName specifies the table name for ChatParticipant
func (ChatParticipant) TableName() string {
	return "chat_participants"
}

// ChatMessage is one immutable transcript entry. UserID is nil for
// assistant and system messages.
type ChatMessage struct {
	ID        int64       `gorm:"column:id;primaryKey;autoIncrement"`
	SessionID int64       `gorm:"column:session_id;not null;index"`
	UserID    *int64      `gorm:"column:user_id"`
	Role      MessageRole `gorm:"column:role;type:varchar(20);not null"`
	Content   string      `gorm:"column:content;type:text;not null"`
	CreatedAt time.Time   `gorm:"column:created_at;not null;autoCreateTime;index"`

	Session ChatSession `gorm:"foreignKey:SessionID"`
	User    *User       `gorm:"foreignKey:UserID"`
}

// TableName specifies the table name for ChatMessage
func (ChatMessage) TableName() string {
	return "chat_messages"
}

// AllModels returns every model for migration
func AllModels() []interface{} {
	return []interface{}{
		&User{},
		&ChatSession{},
		&ChatParticipant{},
		&ChatMessage{},
	}
}
