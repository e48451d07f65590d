package api

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/insurge/chatd/api/models"
	"github.com/insurge/chatd/internal/slogging"
)

// GormChatStore implements ChatStore using GORM
type GormChatStore struct {
	db *gorm.DB
}

// NewGormChatStore creates a new GORM-backed chat store
func NewGormChatStore(db *gorm.DB) *GormChatStore {
	return &GormChatStore{db: db}
}

// CreateSession creates a session and its owner participant in one
// transaction; both rows exist or neither does.
func (s *GormChatStore) CreateSession(ctx context.Context, ownerID int64, in CreateSessionInput) (*models.ChatSession, error) {
	logger := slogging.Get()

	session := models.ChatSession{
		Title:           in.Title,
		Description:     in.Description,
		OwnerID:         ownerID,
		SessionType:     in.SessionType,
		MaxParticipants: in.MaxParticipants,
		IsActive:        true,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&session).Error; err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
		owner := models.ChatParticipant{
			SessionID: session.ID,
			UserID:    ownerID,
			Role:      models.RoleOwner,
			IsActive:  true,
		}
		if err := tx.Create(&owner).Error; err != nil {
			return fmt.Errorf("failed to create owner participant: %w", err)
		}
		return nil
	})
	if err != nil {
		logger.Error("Failed to create session for user %d: %v", ownerID, err)
		return nil, err
	}

	logger.Debug("Created session %d owner=%d type=%s", session.ID, ownerID, session.SessionType)
	return &session, nil
}

// GetSessionForUser returns the session if the user is an active viewing
// participant. Missing sessions and sessions the user may not see are
// indistinguishable to the caller.
func (s *GormChatStore) GetSessionForUser(ctx context.Context, sessionID, userID int64) (*models.ChatSession, error) {
	var session models.ChatSession
	err := s.db.WithContext(ctx).
		Joins("JOIN chat_participants ON chat_participants.session_id = chat_sessions.id").
		Where("chat_sessions.id = ? AND chat_sessions.is_active = ?", sessionID, true).
		Where("chat_participants.user_id = ? AND chat_participants.is_active = ?", userID, true).
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %d: %w", sessionID, err)
	}
	return &session, nil
}

// ListUserSessions returns the sessions the user participates in, newest
// activity first, with message and participant counts.
func (s *GormChatStore) ListUserSessions(ctx context.Context, userID int64, offset, limit int) ([]SessionSummary, error) {
	if limit <= 0 {
		limit = 100
	}

	var sessions []models.ChatSession
	err := s.db.WithContext(ctx).
		Joins("JOIN chat_participants ON chat_participants.session_id = chat_sessions.id").
		Where("chat_participants.user_id = ? AND chat_participants.is_active = ?", userID, true).
		Where("chat_sessions.is_active = ?", true).
		Order("chat_sessions.modified_at DESC").
		Offset(offset).Limit(limit).
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions for user %d: %w", userID, err)
	}

	summaries := make([]SessionSummary, 0, len(sessions))
	for _, session := range sessions {
		var msgCount, partCount int64
		if err := s.db.WithContext(ctx).Model(&models.ChatMessage{}).
			Where("session_id = ?", session.ID).Count(&msgCount).Error; err != nil {
			return nil, fmt.Errorf("failed to count messages: %w", err)
		}
		if err := s.db.WithContext(ctx).Model(&models.ChatParticipant{}).
			Where("session_id = ? AND is_active = ?", session.ID, true).Count(&partCount).Error; err != nil {
			return nil, fmt.Errorf("failed to count participants: %w", err)
		}
		summaries = append(summaries, SessionSummary{
			Session:          session,
			MessageCount:     msgCount,
			ParticipantCount: partCount,
		})
	}
	return summaries, nil
}

// ListPublicSessions returns joinable public sessions the user is not
// already in, plus the total count.
func (s *GormChatStore) ListPublicSessions(ctx context.Context, userID int64, offset, limit int) ([]models.ChatSession, int64, error) {
	if limit <= 0 {
		limit = 100
	}

	joined := s.db.WithContext(ctx).Model(&models.ChatParticipant{}).
		Select("session_id").
		Where("user_id = ? AND is_active = ?", userID, true)

	base := s.db.WithContext(ctx).Model(&models.ChatSession{}).
		Where("session_type = ? AND is_active = ?", models.SessionTypePublic, true).
		Where("id NOT IN (?)", joined)

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count public sessions: %w", err)
	}

	var sessions []models.ChatSession
	err := base.Session(&gorm.Session{}).
		Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&sessions).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list public sessions: %w", err)
	}
	return sessions, total, nil
}

// UpdateSession applies the given fields; only administering participants
// may update.
func (s *GormChatStore) UpdateSession(ctx context.Context, sessionID, actorID int64, in UpdateSessionInput) (*models.ChatSession, error) {
	actor, err := s.GetParticipant(ctx, sessionID, actorID)
	if err != nil {
		return nil, err
	}
	if !CanAdminister(actor) {
		return nil, ErrForbidden
	}

	var session models.ChatSession
	err = s.db.WithContext(ctx).
		Where("id = ? AND is_active = ?", sessionID, true).
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %d: %w", sessionID, err)
	}

	updates := map[string]interface{}{}
	if in.Title != nil {
		updates["title"] = *in.Title
	}
	if in.Description != nil {
		updates["description"] = *in.Description
	}
	if in.SessionType != nil {
		updates["session_type"] = *in.SessionType
	}
	if in.MaxParticipants != nil {
		updates["max_participants"] = *in.MaxParticipants
	}
	if len(updates) == 0 {
		return &session, nil
	}
	if err := s.db.WithContext(ctx).Model(&session).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update session %d: %w", sessionID, err)
	}
	if err := s.db.WithContext(ctx).First(&session, sessionID).Error; err != nil {
		return nil, fmt.Errorf("failed to reload session %d: %w", sessionID, err)
	}
	return &session, nil
}

// SetSessionTitle renames a session. No role gate: this path serves the
// auto-title on first message, not user-initiated renames (those go
// through UpdateSession).
func (s *GormChatStore) SetSessionTitle(ctx context.Context, sessionID int64, title string) error {
	result := s.db.WithContext(ctx).Model(&models.ChatSession{}).
		Where("id = ? AND is_active = ?", sessionID, true).
		Update("title", title)
	if result.Error != nil {
		return fmt.Errorf("failed to rename session %d: %w", sessionID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// SoftDeleteSession deactivates a session. Owner only; rows are never
// hard-deleted.
func (s *GormChatStore) SoftDeleteSession(ctx context.Context, sessionID, actorID int64) error {
	actor, err := s.GetParticipant(ctx, sessionID, actorID)
	if err != nil {
		return err
	}
	if !IsOwner(actor) {
		return ErrForbidden
	}

	result := s.db.WithContext(ctx).Model(&models.ChatSession{}).
		Where("id = ? AND is_active = ?", sessionID, true).
		Update("is_active", false)
	if result.Error != nil {
		return fmt.Errorf("failed to deactivate session %d: %w", sessionID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	slogging.Get().Info("Session %d soft-deleted by user %d", sessionID, actorID)
	return nil
}

// JoinSession adds the user to a public session as a member, reactivating a
// previously-left membership in place. A duplicate-key error from a racing
// join is a concurrency signal, not a failure: the loser observes the
// already-active row.
func (s *GormChatStore) JoinSession(ctx context.Context, sessionID, userID int64) (*models.ChatParticipant, error) {
	var participant *models.ChatParticipant

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session models.ChatSession
		err := tx.Where("id = ? AND is_active = ?", sessionID, true).First(&session).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load session %d: %w", sessionID, err)
		}
		if session.SessionType != models.SessionTypePublic {
			return ErrSessionNotJoinable
		}

		var existing models.ChatParticipant
		err = tx.Where("session_id = ? AND user_id = ?", sessionID, userID).First(&existing).Error
		switch {
		case err == nil:
			if existing.IsActive {
				return ErrAlreadyParticipant
			}
			// previously left or removed: reactivate in place
			if err := checkCapacity(tx, &session); err != nil {
				return err
			}
			if err := tx.Model(&existing).Update("is_active", true).Error; err != nil {
				return fmt.Errorf("failed to reactivate participant: %w", err)
			}
			existing.IsActive = true
			participant = &existing
			return nil
		case errors.Is(err, gorm.ErrRecordNotFound):
			// fall through to insert
		default:
			return fmt.Errorf("failed to load participant: %w", err)
		}

		if err := checkCapacity(tx, &session); err != nil {
			return err
		}

		fresh := models.ChatParticipant{
			SessionID: sessionID,
			UserID:    userID,
			Role:      models.RoleMember,
			IsActive:  true,
		}
		if err := tx.Create(&fresh).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				// lost a race with a simultaneous join for the same pair
				return ErrAlreadyParticipant
			}
			return fmt.Errorf("failed to create participant: %w", err)
		}
		participant = &fresh
		return nil
	})
	if err != nil {
		return nil, err
	}

	slogging.Get().Debug("User %d joined session %d", userID, sessionID)
	return participant, nil
}

// LeaveSession deactivates the caller's own membership. The owner can
// never leave.
func (s *GormChatStore) LeaveSession(ctx context.Context, sessionID, userID int64) error {
	p, err := s.GetParticipant(ctx, sessionID, userID)
	if err != nil {
		return err
	}
	if p == nil || !p.IsActive {
		return ErrNotParticipant
	}
	if !CanLeave(p) {
		return ErrOwnerImmutable
	}

	if err := s.db.WithContext(ctx).Model(p).Update("is_active", false).Error; err != nil {
		return fmt.Errorf("failed to deactivate participant: %w", err)
	}
	return nil
}

// InviteUser adds (or reactivates) a participant with the given role.
// Administering actors only; nobody is invited as owner.
func (s *GormChatStore) InviteUser(ctx context.Context, sessionID, actorID, targetUserID int64, role models.ParticipantRole) (*models.ChatParticipant, error) {
	if !role.Valid() || role == models.RoleOwner {
		return nil, ErrForbidden
	}

	var participant *models.ChatParticipant

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var actor models.ChatParticipant
		err := tx.Where("session_id = ? AND user_id = ?", sessionID, actorID).First(&actor).Error
		if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && !CanAdminister(&actor)) {
			return ErrForbidden
		}
		if err != nil {
			return fmt.Errorf("failed to load actor participant: %w", err)
		}

		var session models.ChatSession
		err = tx.Where("id = ? AND is_active = ?", sessionID, true).First(&session).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load session %d: %w", sessionID, err)
		}

		var user models.User
		err = tx.Where("id = ? AND is_active = ?", targetUserID, true).First(&user).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUserNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load user %d: %w", targetUserID, err)
		}

		var existing models.ChatParticipant
		err = tx.Where("session_id = ? AND user_id = ?", sessionID, targetUserID).First(&existing).Error
		switch {
		case err == nil:
			if existing.IsActive {
				return ErrAlreadyParticipant
			}
			if err := checkCapacity(tx, &session); err != nil {
				return err
			}
			// reactivate and re-role the previously-removed participant
			if err := tx.Model(&existing).Updates(map[string]interface{}{
				"is_active": true,
				"role":      role,
			}).Error; err != nil {
				return fmt.Errorf("failed to reactivate participant: %w", err)
			}
			existing.IsActive = true
			existing.Role = role
			participant = &existing
			return nil
		case errors.Is(err, gorm.ErrRecordNotFound):
			// fall through to insert
		default:
			return fmt.Errorf("failed to load participant: %w", err)
		}

		if err := checkCapacity(tx, &session); err != nil {
			return err
		}

		fresh := models.ChatParticipant{
			SessionID: sessionID,
			UserID:    targetUserID,
			Role:      role,
			IsActive:  true,
		}
		if err := tx.Create(&fresh).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrAlreadyParticipant
			}
			return fmt.Errorf("failed to create participant: %w", err)
		}
		participant = &fresh
		return nil
	})
	if err != nil {
		return nil, err
	}

	slogging.Get().Debug("User %d invited to session %d as %s by %d", targetUserID, sessionID, role, actorID)
	return participant, nil
}

// UpdateParticipantRole changes a participant's role under the access
// policy. Promoting to owner transfers ownership: the acting owner is
// demoted to admin in the same transaction so exactly one active owner
// remains.
func (s *GormChatStore) UpdateParticipantRole(ctx context.Context, sessionID, actorID, targetUserID int64, role models.ParticipantRole) (*models.ChatParticipant, error) {
	if !role.Valid() {
		return nil, ErrForbidden
	}

	var updated *models.ChatParticipant

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var actor models.ChatParticipant
		err := tx.Where("session_id = ? AND user_id = ?", sessionID, actorID).First(&actor).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrForbidden
		}
		if err != nil {
			return fmt.Errorf("failed to load actor participant: %w", err)
		}

		var target models.ChatParticipant
		err = tx.Where("session_id = ? AND user_id = ? AND is_active = ?", sessionID, targetUserID, true).First(&target).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotParticipant
		}
		if err != nil {
			return fmt.Errorf("failed to load target participant: %w", err)
		}

		if !CanChangeRole(&actor, &target, role) {
			if target.Role == models.RoleOwner {
				return ErrOwnerImmutable
			}
			return ErrForbidden
		}

		if err := tx.Model(&target).Update("role", role).Error; err != nil {
			return fmt.Errorf("failed to update role: %w", err)
		}
		target.Role = role

		if role == models.RoleOwner {
			if err := tx.Model(&actor).Update("role", models.RoleAdmin).Error; err != nil {
				return fmt.Errorf("failed to demote previous owner: %w", err)
			}
			if err := tx.Model(&models.ChatSession{}).
				Where("id = ?", sessionID).
				Update("owner_id", targetUserID).Error; err != nil {
				return fmt.Errorf("failed to move session ownership: %w", err)
			}
			slogging.Get().Info("Session %d ownership transferred from %d to %d", sessionID, actorID, targetUserID)
		}

		updated = &target
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// RemoveParticipant deactivates another participant's membership. The owner
// is immune.
func (s *GormChatStore) RemoveParticipant(ctx context.Context, sessionID, actorID, targetUserID int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var actor models.ChatParticipant
		err := tx.Where("session_id = ? AND user_id = ?", sessionID, actorID).First(&actor).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrForbidden
		}
		if err != nil {
			return fmt.Errorf("failed to load actor participant: %w", err)
		}

		var target models.ChatParticipant
		err = tx.Where("session_id = ? AND user_id = ? AND is_active = ?", sessionID, targetUserID, true).First(&target).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotParticipant
		}
		if err != nil {
			return fmt.Errorf("failed to load target participant: %w", err)
		}

		if !CanRemove(&actor, &target) {
			if target.Role == models.RoleOwner {
				return ErrOwnerImmutable
			}
			return ErrForbidden
		}

		if err := tx.Model(&target).Update("is_active", false).Error; err != nil {
			return fmt.Errorf("failed to deactivate participant: %w", err)
		}
		return nil
	})
}

// GetParticipant returns the membership row regardless of its active flag,
// or nil when the user has never been in the session.
func (s *GormChatStore) GetParticipant(ctx context.Context, sessionID, userID int64) (*models.ChatParticipant, error) {
	var p models.ChatParticipant
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND user_id = ?", sessionID, userID).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load participant: %w", err)
	}
	return &p, nil
}

// ActiveParticipants returns the active membership rows for a session
func (s *GormChatStore) ActiveParticipants(ctx context.Context, sessionID int64) ([]models.ChatParticipant, error) {
	var participants []models.ChatParticipant
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND is_active = ?", sessionID, true).
		Order("joined_at").
		Find(&participants).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	return participants, nil
}

// CountActiveParticipants returns the number of active participants
func (s *GormChatStore) CountActiveParticipants(ctx context.Context, sessionID int64) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.ChatParticipant{}).
		Where("session_id = ? AND is_active = ?", sessionID, true).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count participants: %w", err)
	}
	return count, nil
}

// AddUserMessage persists a participant-authored message. Posting requires
// an active non-viewer membership.
func (s *GormChatStore) AddUserMessage(ctx context.Context, sessionID, userID int64, content string) (*models.ChatMessage, error) {
	p, err := s.GetParticipant(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if !CanPost(p) {
		return nil, ErrForbidden
	}

	var session models.ChatSession
	err = s.db.WithContext(ctx).Where("id = ? AND is_active = ?", sessionID, true).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %d: %w", sessionID, err)
	}

	msg := models.ChatMessage{
		SessionID: sessionID,
		UserID:    &userID,
		Role:      models.MessageRoleUser,
		Content:   content,
	}
	if err := s.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	metricMessagesPersisted.WithLabelValues(string(models.MessageRoleUser)).Inc()
	return &msg, nil
}

// AddGeneratedMessage persists an assistant or system message with no
// author. These bypass the participant gate.
func (s *GormChatStore) AddGeneratedMessage(ctx context.Context, sessionID int64, role models.MessageRole, content string) (*models.ChatMessage, error) {
	msg := models.ChatMessage{
		SessionID: sessionID,
		UserID:    nil,
		Role:      role,
		Content:   content,
	}
	if err := s.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return nil, fmt.Errorf("failed to create %s message: %w", role, err)
	}
	metricMessagesPersisted.WithLabelValues(string(role)).Inc()
	return &msg, nil
}

// ListMessages returns a session's transcript in chronological order;
// viewing membership required.
func (s *GormChatStore) ListMessages(ctx context.Context, sessionID, userID int64, offset, limit int) ([]models.ChatMessage, error) {
	p, err := s.GetParticipant(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if !CanView(p) {
		return nil, ErrNotParticipant
	}

	if limit <= 0 {
		limit = 100
	}

	var messages []models.ChatMessage
	err = s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at").Order("id").
		Offset(offset).Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}

// RecentHistory returns the last `window` messages as conversation turns,
// oldest first, for the response generator.
func (s *GormChatStore) RecentHistory(ctx context.Context, sessionID int64, window int) ([]ChatTurn, error) {
	if window <= 0 {
		window = 10
	}

	var messages []models.ChatMessage
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC").Order("id DESC").
		Limit(window).
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	// reverse into chronological order
	turns := make([]ChatTurn, len(messages))
	for i, msg := range messages {
		turns[len(messages)-1-i] = ChatTurn{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
	}
	return turns, nil
}

// CountMessages returns the persisted message count for a session
func (s *GormChatStore) CountMessages(ctx context.Context, sessionID int64) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.ChatMessage{}).
		Where("session_id = ?", sessionID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

// checkCapacity enforces max_participants inside the caller's transaction
func checkCapacity(tx *gorm.DB, session *models.ChatSession) error {
	var current int64
	if err := tx.Model(&models.ChatParticipant{}).
		Where("session_id = ? AND is_active = ?", session.ID, true).
		Count(&current).Error; err != nil {
		return fmt.Errorf("failed to count participants: %w", err)
	}
	if current >= int64(session.MaxParticipants) {
		return ErrSessionFull
	}
	return nil
}
