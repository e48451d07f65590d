package api

import (
	"github.com/insurge/chatd/api/models"
)

// Session access policy. Every lifecycle and posting decision goes through
// these functions so permission logic has one source of truth.
//
// A nil participant means the user has no membership record for the session.

// CanView reports whether the participant may read a session's messages
func CanView(p *models.ChatParticipant) bool {
	return p != nil && p.IsActive
}

// CanPost reports whether the participant may post messages. Viewers are
// read-only.
func CanPost(p *models.ChatParticipant) bool {
	if p == nil || !p.IsActive {
		return false
	}
	switch p.Role {
	case models.RoleOwner, models.RoleAdmin, models.RoleMember:
		return true
	}
	return false
}

// CanAdminister reports whether the participant may manage the session and
// its participants
func CanAdminister(p *models.ChatParticipant) bool {
	if p == nil || !p.IsActive {
		return false
	}
	return p.Role == models.RoleOwner || p.Role == models.RoleAdmin
}

// IsOwner reports whether the participant is the session's active owner
func IsOwner(p *models.ChatParticipant) bool {
	return p != nil && p.IsActive && p.Role == models.RoleOwner
}

// CanChangeRole reports whether actor may set target's role to newRole.
// The current owner can never be demoted, and promoting someone to owner
// (an ownership transfer) requires the actor to already be owner.
func CanChangeRole(actor, target *models.ChatParticipant, newRole models.ParticipantRole) bool {
	if !CanAdminister(actor) || target == nil || !target.IsActive {
		return false
	}
	if target.Role == models.RoleOwner {
		return false
	}
	if newRole == models.RoleOwner {
		return IsOwner(actor)
	}
	return true
}

// CanRemove reports whether actor may remove target from the session. The
// owner can never be removed.
func CanRemove(actor, target *models.ChatParticipant) bool {
	if !CanAdminister(actor) || target == nil || !target.IsActive {
		return false
	}
	return target.Role != models.RoleOwner
}

// CanLeave reports whether the participant may leave on their own. The owner
// can never leave their session; they can only soft-delete it.
func CanLeave(p *models.ChatParticipant) bool {
	if p == nil || !p.IsActive {
		return false
	}
	return p.Role != models.RoleOwner
}
