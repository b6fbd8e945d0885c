package domain

// CallState tracks the lifecycle of one negotiated peer connection. It is
// owned by the negotiator and mutated only by transport lifecycle callbacks.
type CallState string

const (
	CallStateNew          CallState = "new"
	CallStateConnecting   CallState = "connecting"
	CallStateConnected    CallState = "connected"
	CallStateDisconnected CallState = "disconnected"
	CallStateFailed       CallState = "failed"
	CallStateClosed       CallState = "closed"
)

// Terminal reports whether no further transitions are possible. A fresh
// negotiator instance is required to retry after a terminal state.
func (s CallState) Terminal() bool {
	return s == CallStateClosed
}

// Mode is the presentation mode of a call. Transitions are mirrored to the
// remote peer so both sides render consistently.
type Mode string

const (
	ModeVideo  Mode = "video"
	ModeAvatar Mode = "avatar"
)
