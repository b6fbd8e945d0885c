package domain

import "time"

type RoomID string

type UserID string

// Role distinguishes the two participant types. The doctor side is always the
// call initiator, which removes simultaneous-offer glare from negotiation.
type Role string

const (
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
)

// Initiator reports whether this role places the first offer.
func (r Role) Initiator() bool {
	return r == RoleDoctor
}

// Participant is one connected member of a room. It is owned by the room and
// removed when its transport handle closes. A user id maps to at most one
// active handle per room; a reconnect replaces the previous handle.
type Participant struct {
	UserID   UserID
	Role     Role
	JoinedAt time.Time
}

// Room is a process-local consultation room. Rooms are created implicitly on
// first join and deleted when the last participant leaves; nothing survives a
// restart.
type Room struct {
	ID        RoomID
	CreatedAt time.Time
}
