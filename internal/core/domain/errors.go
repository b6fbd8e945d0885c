package domain

import "errors"

var (
	ErrRoomNotFound        = errors.New("room not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrMediaAccessDenied   = errors.New("media access denied")
	ErrDeviceUnavailable   = errors.New("media device unavailable")
	ErrCallClosed          = errors.New("call already closed")
	ErrNotInitiator        = errors.New("operation requires the initiator role")
	ErrSetupTimeout        = errors.New("call setup timed out")
	ErrAvatarUnavailable   = errors.New("avatar generation unavailable")
)
