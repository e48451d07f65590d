package api

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/insurge/chatd/api/models"
)

func participant(role models.ParticipantRole, active bool) *models.ChatParticipant {
	return &models.ChatParticipant{Role: role, IsActive: active}
}

func TestCanView(t *testing.T) {
	assert.True(t, CanView(participant(models.RoleOwner, true)))
	assert.True(t, CanView(participant(models.RoleViewer, true)))
	assert.False(t, CanView(participant(models.RoleMember, false)))
	assert.False(t, CanView(nil))
}

func TestCanPost(t *testing.T) {
	assert.True(t, CanPost(participant(models.RoleOwner, true)))
	assert.True(t, CanPost(participant(models.RoleAdmin, true)))
	assert.True(t, CanPost(participant(models.RoleMember, true)))
	assert.False(t, CanPost(participant(models.RoleViewer, true)))
	assert.False(t, CanPost(participant(models.RoleMember, false)))
	assert.False(t, CanPost(nil))
}

func TestCanAdminister(t *testing.T) {
	assert.True(t, CanAdminister(participant(models.RoleOwner, true)))
	assert.True(t, CanAdminister(participant(models.RoleAdmin, true)))
	assert.False(t, CanAdminister(participant(models.RoleMember, true)))
	assert.False(t, CanAdminister(participant(models.RoleAdmin, false)))
}

func TestCanChangeRole(t *testing.T) {
	owner := participant(models.RoleOwner, true)
	admin := participant(models.RoleAdmin, true)
	member := participant(models.RoleMember, true)

	// owner is never a valid target, even for the owner
	assert.False(t, CanChangeRole(owner, owner, models.RoleMember))
	assert.False(t, CanChangeRole(admin, owner, models.RoleMember))

	// only the owner can grant ownership
	assert.True(t, CanChangeRole(owner, member, models.RoleOwner))
	assert.False(t, CanChangeRole(admin, member, models.RoleOwner))

	// admins can manage non-owner roles
	assert.True(t, CanChangeRole(admin, member, models.RoleAdmin))
	assert.True(t, CanChangeRole(owner, admin, models.RoleViewer))
	assert.False(t, CanChangeRole(member, member, models.RoleAdmin))
}

func TestCanRemoveAndLeave(t *testing.T) {
	owner := participant(models.RoleOwner, true)
	admin := participant(models.RoleAdmin, true)
	member := participant(models.RoleMember, true)

	assert.True(t, CanRemove(admin, member))
	assert.True(t, CanRemove(owner, admin))
	assert.False(t, CanRemove(admin, owner))
	assert.False(t, CanRemove(member, member))

	assert.True(t, CanLeave(member))
	assert.True(t, CanLeave(admin))
	assert.False(t, CanLeave(owner))
	assert.False(t, CanLeave(nil))
}
