package types

import (
	"github.com/angelmondragon/evtrade-backend/pkg/enums"
	"github.com/google/uuid"
)

// Actor is the authenticated caller of a domain operation. Services receive it
// explicitly; nothing reads the caller from ambient request state.
type Actor struct {
	UserID uuid.UUID
	Role   enums.MemberRole
}

// SystemActor identifies scheduler-driven operations.
var SystemActor = Actor{}

// IsSystem reports whether the actor is a background job.
func (a Actor) IsSystem() bool {
	return a.UserID == uuid.Nil
}

// IsStaff reports whether the actor may run staff operations.
func (a Actor) IsStaff() bool {
	return !a.IsSystem() && a.Role.IsStaff()
}

// UserIDPtr returns nil for the system actor.
func (a Actor) UserIDPtr() *uuid.UUID {
	if a.IsSystem() {
		return nil
	}
	id := a.UserID
	return &id
}

// RoleString is the role label carried on outbox envelopes.
func (a Actor) RoleString() string {
	if a.IsSystem() {
		return "system"
	}
	return string(a.Role)
}
