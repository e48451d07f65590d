package api

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/insurge/chatd/api/models"
	"github.com/insurge/chatd/auth/db"
)

type storeFixture struct {
	store *GormChatStore
	db    *gorm.DB
	ctx   context.Context
}

func newStoreFixture(t *testing.T) *storeFixture {
	t.Helper()
	tdb := db.MustCreateTestDB(t)
	t.Cleanup(tdb.Cleanup)
	return &storeFixture{
		store: NewGormChatStore(tdb.DB),
		db:    tdb.DB,
		ctx:   context.Background(),
	}
}

func (f *storeFixture) createUser(t *testing.T, name string) *models.User {
	t.Helper()
	user := models.User{
		Email:          name + "@example.com",
		Username:       name,
		HashedPassword: "x",
		IsActive:       true,
	}
	require.NoError(t, f.db.Create(&user).Error)
	return &user
}

func (f *storeFixture) createSession(t *testing.T, ownerID int64, sessionType models.SessionType, maxParticipants int) *models.ChatSession {
	t.Helper()
	session, err := f.store.CreateSession(f.ctx, ownerID, CreateSessionInput{
		Title:           "test session",
		SessionType:     sessionType,
		MaxParticipants: maxParticipants,
	})
	require.NoError(t, err)
	return session
}

func TestCreateSessionCreatesOwnerParticipant(t *testing.T) {
	f := newStoreFixture(t)
	owner := f.createUser(t, "alice")

	session := f.createSession(t, owner.ID, models.SessionTypePrivate, 10)
	assert.Equal(t, owner.ID, session.OwnerID)
	assert.True(t, session.IsActive)

	p, err := f.store.GetParticipant(f.ctx, session.ID, owner.ID)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, models.RoleOwner, p.Role)
	assert.True(t, p.IsActive)

	count, err := f.store.CountActiveParticipants(f.ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestGetSessionForUserHidesInaccessibleSessions(t *testing.T) {
	f := newStoreFixture(t)
	owner := f.createUser(t, "alice")
	outsider := f.createUser(t, "bob")
	session := f.createSession(t, owner.ID, models.SessionTypePrivate, 10)

	got, err := f.store.GetSessionForUser(f.ctx, session.ID, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)

	// non-participant gets the same error as a missing session
	_, err = f.store.GetSessionForUser(f.ctx, session.ID, outsider.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = f.store.GetSessionForUser(f.ctx, 9999, owner.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestJoinSession(t *testing.T) {
	f := newStoreFixture(t)
	owner := f.createUser(t, "alice")
	joiner := f.createUser(t, "bob")

	t.Run("public session joinable as member", func(t *testing.T) {
		session := f.createSession(t, owner.ID, models.SessionTypePublic, 10)

		p, err := f.store.JoinSession(f.ctx, session.ID, joiner.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RoleMember, p.Role)
		assert.True(t, p.IsActive)
	})

	t.Run("double join rejected", func(t *testing.T) {
		session := f.createSession(t, owner.ID, models.SessionTypePublic, 10)

		_, err := f.store.JoinSession(f.ctx, session.ID, joiner.ID)
		require.NoError(t, err)
		_, err = f.store.JoinSession(f.ctx, session.ID, joiner.ID)
		assert.ErrorIs(t, err, ErrAlreadyParticipant)
	})

	t.Run("private session not joinable", func(t *testing.T) {
		session := f.createSession(t, owner.ID, models.SessionTypePrivate, 10)

		_, err := f.store.JoinSession(f.ctx, session.ID, joiner.ID)
		assert.ErrorIs(t, err, ErrSessionNotJoinable)
	})

	t.Run("missing session", func(t *testing.T) {
		_, err := f.store.JoinSession(f.ctx, 9999, joiner.ID)
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("capacity enforced", func(t *testing.T) {
		session := f.createSession(t, owner.ID, models.SessionTypePublic, 2)

		_, err := f.store.JoinSession(f.ctx, session.ID, joiner.ID)
		require.NoError(t, err)

		third := f.createUser(t, "carol")
		_, err = f.store.JoinSession(f.ctx, session.ID, third.ID)
		assert.ErrorIs(t, err, ErrSessionFull)
	})

	t.Run("rejoining after leaving reactivates the old row", func(t *testing.T) {
		session := f.createSession(t, owner.ID, models.SessionTypePublic, 10)

		_, err := f.store.JoinSession(f.ctx, session.ID, joiner.ID)
		require.NoError(t, err)
		require.NoError(t, f.store.LeaveSession(f.ctx, session.ID, joiner.ID))

		p, err := f.store.JoinSession(f.ctx, session.ID, joiner.ID)
		require.NoError(t, err)
		assert.True(t, p.IsActive)

		// exactly one membership row was ever created
		var rows int64
		require.NoError(t, f.db.Model(&models.ChatParticipant{}).
			Where("session_id = ? AND user_id = ?", session.ID, joiner.ID).
			Count(&rows).Error)
		assert.Equal(t, int64(1), rows)
	})
}

func TestLeaveSession(t *testing.T) {
	f := newStoreFixture(t)
	owner := f.createUser(t, "alice")
	member := f.createUser(t, "bob")
	session := f.createSession(t, owner.ID, models.SessionTypePublic, 10)

	_, err := f.store.JoinSession(f.ctx, session.ID, member.ID)
	require.NoError(t, err)

	require.NoError(t, f.store.LeaveSession(f.ctx, session.ID, member.ID))

	p, err := f.store.GetParticipant(f.ctx, session.ID, member.ID)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.False(t, p.IsActive)

	// owner can never leave
	err = f.store.LeaveSession(f.ctx, session.ID, owner.ID)
	assert.ErrorIs(t, err, ErrOwnerImmutable)

	// leaving twice fails
	err = f.store.LeaveSession(f.ctx, session.ID, member.ID)
	assert.ErrorIs(t, err, ErrNotParticipant)
}

func TestInviteUser(t *testing.T) {
	f := newStoreFixture(t)
	owner := f.createUser(t, "alice")
	invitee := f.createUser(t, "bob")
	bystander := f.createUser(t, "carol")
	session := f.createSession(t, owner.ID, models.SessionTypeInviteOnly, 10)

	t.Run("admin invites with role", func(t *testing.T) {
		p, err := f.store.InviteUser(f.ctx, session.ID, owner.ID, invitee.ID, models.RoleViewer)
		require.NoError(t, err)
		assert.Equal(t, models.RoleViewer, p.Role)
	})

	t.Run("non-admin cannot invite", func(t *testing.T) {
		_, err := f.store.InviteUser(f.ctx, session.ID, invitee.ID, bystander.ID, models.RoleMember)
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("nobody is invited as owner", func(t *testing.T) {
		_, err := f.store.InviteUser(f.ctx, session.ID, owner.ID, bystander.ID, models.RoleOwner)
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := f.store.InviteUser(f.ctx, session.ID, owner.ID, 9999, models.RoleMember)
		assert.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("reinvite after removal changes role in place", func(t *testing.T) {
		require.NoError(t, f.store.RemoveParticipant(f.ctx, session.ID, owner.ID, invitee.ID))

		p, err := f.store.InviteUser(f.ctx, session.ID, owner.ID, invitee.ID, models.RoleAdmin)
		require.NoError(t, err)
		assert.Equal(t, models.RoleAdmin, p.Role)
		assert.True(t, p.IsActive)
	})
}

func TestUpdateParticipantRole(t *testing.T) {
	f := newStoreFixture(t)
	owner := f.createUser(t, "alice")
	member := f.createUser(t, "bob")

	t.Run("admin promotes member", func(t *testing.T) {
		session := f.createSession(t, owner.ID, models.SessionTypePublic, 10)
		_, err := f.store.JoinSession(f.ctx, session.ID, member.ID)
		require.NoError(t, err)

		p, err := f.store.UpdateParticipantRole(f.ctx, session.ID, owner.ID, member.ID, models.RoleAdmin)
		require.NoError(t, err)
		assert.Equal(t, models.RoleAdmin, p.Role)
	})

	t.Run("owner role is immutable", func(t *testing.T) {
		session := f.createSession(t, owner.ID, models.SessionTypePublic, 10)
		_, err := f.store.JoinSession(f.ctx, session.ID, member.ID)
		require.NoError(t, err)
		_, err = f.store.UpdateParticipantRole(f.ctx, session.ID, owner.ID, member.ID, models.RoleAdmin)
		require.NoError(t, err)

		// even another admin cannot demote the owner
		_, err = f.store.UpdateParticipantRole(f.ctx, session.ID, member.ID, owner.ID, models.RoleMember)
		assert.ErrorIs(t, err, ErrOwnerImmutable)
	})

	t.Run("promotion to owner transfers ownership", func(t *testing.T) {
		session := f.createSession(t, owner.ID, models.SessionTypePublic, 10)
		_, err := f.store.JoinSession(f.ctx, session.ID, member.ID)
		require.NoError(t, err)

		p, err := f.store.UpdateParticipantRole(f.ctx, session.ID, owner.ID, member.ID, models.RoleOwner)
		require.NoError(t, err)
		assert.Equal(t, models.RoleOwner, p.Role)

		// previous owner is demoted to admin in the same transaction
		prev, err := f.store.GetParticipant(f.ctx, session.ID, owner.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RoleAdmin, prev.Role)

		var reloaded models.ChatSession
		require.NoError(t, f.db.First(&reloaded, session.ID).Error)
		assert.Equal(t, member.ID, reloaded.OwnerID)
	})

	t.Run("only the owner grants ownership", func(t *testing.T) {
		session := f.createSession(t, owner.ID, models.SessionTypePublic, 10)
		_, err := f.store.JoinSession(f.ctx, session.ID, member.ID)
		require.NoError(t, err)
		_, err = f.store.UpdateParticipantRole(f.ctx, session.ID, owner.ID, member.ID, models.RoleAdmin)
		require.NoError(t, err)

		third := f.createUser(t, fmt.Sprintf("dave-%d", session.ID))
		_, err = f.store.JoinSession(f.ctx, session.ID, third.ID)
		require.NoError(t, err)

		_, err = f.store.UpdateParticipantRole(f.ctx, session.ID, member.ID, third.ID, models.RoleOwner)
		assert.ErrorIs(t, err, ErrForbidden)
	})
}

func TestRemoveParticipant(t *testing.T) {
	f := newStoreFixture(t)
	owner := f.createUser(t, "alice")
	member := f.createUser(t, "bob")
	session := f.createSession(t, owner.ID, models.SessionTypePublic, 10)

	_, err := f.store.JoinSession(f.ctx, session.ID, member.ID)
	require.NoError(t, err)

	// a member cannot remove anyone
	err = f.store.RemoveParticipant(f.ctx, session.ID, member.ID, owner.ID)
	assert.Error(t, err)

	// the owner cannot be removed
	admin := f.createUser(t, "carol")
	_, err = f.store.InviteUser(f.ctx, session.ID, owner.ID, admin.ID, models.RoleAdmin)
	require.NoError(t, err)
	err = f.store.RemoveParticipant(f.ctx, session.ID, admin.ID, owner.ID)
	assert.ErrorIs(t, err, ErrOwnerImmutable)

	require.NoError(t, f.store.RemoveParticipant(f.ctx, session.ID, owner.ID, member.ID))
	p, err := f.store.GetParticipant(f.ctx, session.ID, member.ID)
	require.NoError(t, err)
	assert.False(t, p.IsActive)
}

func TestSoftDeleteSession(t *testing.T) {
	f := newStoreFixture(t)
	owner := f.createUser(t, "alice")
	member := f.createUser(t, "bob")
	session := f.createSession(t, owner.ID, models.SessionTypePublic, 10)

	_, err := f.store.JoinSession(f.ctx, session.ID, member.ID)
	require.NoError(t, err)

	// non-owner cannot delete
	err = f.store.SoftDeleteSession(f.ctx, session.ID, member.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	require.NoError(t, f.store.SoftDeleteSession(f.ctx, session.ID, owner.ID))

	// the row survives with is_active = false
	var reloaded models.ChatSession
	require.NoError(t, f.db.First(&reloaded, session.ID).Error)
	assert.False(t, reloaded.IsActive)

	_, err = f.store.GetSessionForUser(f.ctx, session.ID, owner.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSetSessionTitle(t *testing.T) {
	f := newStoreFixture(t)
	owner := f.createUser(t, "alice")
	session := f.createSession(t, owner.ID, models.SessionTypePrivate, 10)

	require.NoError(t, f.store.SetSessionTitle(f.ctx, session.ID, "Widget Troubleshooting"))

	reloaded, err := f.store.GetSessionForUser(f.ctx, session.ID, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, "Widget Troubleshooting", reloaded.Title)

	t.Run("missing session", func(t *testing.T) {
		err := f.store.SetSessionTitle(f.ctx, 99999, "whatever")
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("inactive session", func(t *testing.T) {
		require.NoError(t, f.store.SoftDeleteSession(f.ctx, session.ID, owner.ID))
		err := f.store.SetSessionTitle(f.ctx, session.ID, "too late")
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})
}

func TestMessages(t *testing.T) {
	f := newStoreFixture(t)
	owner := f.createUser(t, "alice")
	viewer := f.createUser(t, "bob")
	outsider := f.createUser(t, "carol")
	session := f.createSession(t, owner.ID, models.SessionTypePrivate, 10)

	_, err := f.store.InviteUser(f.ctx, session.ID, owner.ID, viewer.ID, models.RoleViewer)
	require.NoError(t, err)

	t.Run("member posts, viewer cannot", func(t *testing.T) {
		msg, err := f.store.AddUserMessage(f.ctx, session.ID, owner.ID, "hello")
		require.NoError(t, err)
		assert.Equal(t, models.MessageRoleUser, msg.Role)
		require.NotNil(t, msg.UserID)
		assert.Equal(t, owner.ID, *msg.UserID)

		_, err = f.store.AddUserMessage(f.ctx, session.ID, viewer.ID, "sneaky")
		assert.ErrorIs(t, err, ErrForbidden)

		_, err = f.store.AddUserMessage(f.ctx, session.ID, outsider.ID, "nope")
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("generated messages have no author", func(t *testing.T) {
		msg, err := f.store.AddGeneratedMessage(f.ctx, session.ID, models.MessageRoleAssistant, "reply")
		require.NoError(t, err)
		assert.Nil(t, msg.UserID)
		assert.Equal(t, models.MessageRoleAssistant, msg.Role)
	})

	t.Run("viewer can read, outsider cannot", func(t *testing.T) {
		msgs, err := f.store.ListMessages(f.ctx, session.ID, viewer.ID, 0, 50)
		require.NoError(t, err)
		assert.Len(t, msgs, 2)
		assert.Equal(t, "hello", msgs[0].Content)
		assert.Equal(t, "reply", msgs[1].Content)

		_, err = f.store.ListMessages(f.ctx, session.ID, outsider.ID, 0, 50)
		assert.ErrorIs(t, err, ErrNotParticipant)
	})

	t.Run("count", func(t *testing.T) {
		count, err := f.store.CountMessages(f.ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)
	})
}

func TestRecentHistoryWindow(t *testing.T) {
	f := newStoreFixture(t)
	owner := f.createUser(t, "alice")
	session := f.createSession(t, owner.ID, models.SessionTypePrivate, 10)

	for i := 0; i < 15; i++ {
		_, err := f.store.AddUserMessage(f.ctx, session.ID, owner.ID, fmt.Sprintf("msg-%02d", i))
		require.NoError(t, err)
	}

	turns, err := f.store.RecentHistory(f.ctx, session.ID, 10)
	require.NoError(t, err)
	require.Len(t, turns, 10)

	// the window holds the 10 most recent, oldest first
	assert.Equal(t, "msg-05", turns[0].Content)
	assert.Equal(t, "msg-14", turns[9].Content)
	assert.Equal(t, "user", turns[0].Role)
}

func TestListUserSessions(t *testing.T) {
	f := newStoreFixture(t)
	alice := f.createUser(t, "alice")
	bob := f.createUser(t, "bob")

	s1 := f.createSession(t, alice.ID, models.SessionTypePublic, 10)
	f.createSession(t, bob.ID, models.SessionTypePrivate, 10)

	_, err := f.store.AddUserMessage(f.ctx, s1.ID, alice.ID, "hi")
	require.NoError(t, err)

	summaries, err := f.store.ListUserSessions(f.ctx, alice.ID, 0, 50)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, s1.ID, summaries[0].Session.ID)
	assert.Equal(t, int64(1), summaries[0].MessageCount)
	assert.Equal(t, int64(1), summaries[0].ParticipantCount)
}

func TestListPublicSessions(t *testing.T) {
	f := newStoreFixture(t)
	alice := f.createUser(t, "alice")
	bob := f.createUser(t, "bob")

	public := f.createSession(t, alice.ID, models.SessionTypePublic, 10)
	f.createSession(t, alice.ID, models.SessionTypePrivate, 10)
	joined := f.createSession(t, alice.ID, models.SessionTypePublic, 10)
	_, err := f.store.JoinSession(f.ctx, joined.ID, bob.ID)
	require.NoError(t, err)

	sessions, total, err := f.store.ListPublicSessions(f.ctx, bob.ID, 0, 50)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, sessions, 1)
	assert.Equal(t, public.ID, sessions[0].ID)
}
