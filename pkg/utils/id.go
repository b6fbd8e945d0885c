package utils

import (
	"strings"

	"github.com/google/uuid"
)

// NewRoomID returns a fresh consultation room identifier. The prefix keeps
// room ids recognizable in logs next to user ids.
func NewRoomID() string {
	return "room_" + uuid.NewString()
}

// NewUserID returns an identifier for an anonymous participant.
func NewUserID(role string) string {
	return role + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
