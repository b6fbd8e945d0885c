package ports

import (
	"context"

	"telecare/internal/core/domain"
)

// ClientConn is the relay's handle to one connected client transport. The
// registry addresses participants exclusively through this interface, which
// keeps it testable without sockets.
type ClientConn interface {
	// Send delivers one envelope. Delivery is best effort; an error affects
	// only this recipient.
	Send(env domain.Envelope) error
	// Close tears the transport down. Safe to call more than once.
	Close() error
}

// Registry tracks which transport handles belong to which room. One instance
// is constructed at process start and injected wherever needed; there is no
// ambient package-level state.
type Registry interface {
	// Join registers conn under roomID, creating the room if needed. Existing
	// participants are notified and the joining handle receives the current
	// participant list. A second join with the same user id replaces the
	// earlier handle (last write wins).
	Join(ctx context.Context, roomID domain.RoomID, userID domain.UserID, role domain.Role, conn ClientConn) error
	// Leave removes the participant owning conn, wherever it is registered,
	// notifies the remainder and deletes the room if it became empty. It is a
	// no-op for unknown handles.
	Leave(ctx context.Context, conn ClientConn)
	// Broadcast forwards env to every handle in the room except sender.
	// Per-recipient failures are isolated. Unknown rooms are a no-op.
	Broadcast(roomID domain.RoomID, sender ClientConn, env domain.Envelope)
	// BroadcastAll is Broadcast including the sender, used for chat fan-out.
	BroadcastAll(roomID domain.RoomID, env domain.Envelope)
	// Participants returns a snapshot of the room's membership, or nil for an
	// unknown room.
	Participants(roomID domain.RoomID) []domain.ParticipantInfo
	// RoomCount returns the number of live rooms.
	RoomCount() int
}

// Presence mirrors room membership to an external store for observability.
// The registry remains authoritative; presence failures never affect relay
// behaviour.
type Presence interface {
	Track(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error
	Untrack(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error
	List(ctx context.Context, roomID domain.RoomID) ([]domain.UserID, error)
	Close() error
}

// EnvelopeSender is the client-side outbound half of the signaling channel.
type EnvelopeSender interface {
	Send(env domain.Envelope) error
}

// LocalStream is the negotiator's view of its acquired camera/microphone
// tracks. Tracks belong exclusively to the negotiator that acquired them.
type LocalStream interface {
	// SetAudioEnabled flips the audio track flag without renegotiating and
	// returns the new disabled state.
	SetAudioEnabled(enabled bool)
	// SetVideoEnabled flips the video track flag without renegotiating.
	SetVideoEnabled(enabled bool)
	AudioEnabled() bool
	VideoEnabled() bool
	// StopAll releases every track. Idempotent.
	StopAll()
}

// MediaConstraints describes the requested capture configuration.
type MediaConstraints struct {
	Audio            bool
	Video            bool
	Width            int
	Height           int
	FrameRate        int
	EchoCancellation bool
}

// MediaDevices acquires local capture tracks. Failures map to the domain
// sentinels ErrMediaAccessDenied and ErrDeviceUnavailable and leave nothing
// half-initialized, so a retry is always safe.
type MediaDevices interface {
	GetUserMedia(ctx context.Context, constraints MediaConstraints) (LocalStream, error)
}

// MediaSession abstracts the underlying peer connection so the negotiator's
// protocol logic is independent of pion and testable in-process.
type MediaSession interface {
	CreateOffer(ctx context.Context) (domain.SessionDescriptionPayload, error)
	CreateAnswer(ctx context.Context) (domain.SessionDescriptionPayload, error)
	SetLocalDescription(desc domain.SessionDescriptionPayload) error
	SetRemoteDescription(desc domain.SessionDescriptionPayload) error
	// RemoteDescriptionSet reports whether a remote description has been
	// applied; the negotiator's duplicate guards key off this.
	RemoteDescriptionSet() bool
	AddICECandidate(cand domain.ICECandidatePayload) error
	AttachStream(stream LocalStream) error
	// OnICECandidate registers a callback for locally gathered candidates.
	// A nil-equivalent zero candidate signals end of gathering.
	OnICECandidate(fn func(domain.ICECandidatePayload))
	// OnStateChange registers a callback for transport lifecycle transitions.
	OnStateChange(fn func(domain.CallState))
	// Stats returns a cumulative transport snapshot for the bandwidth monitor.
	Stats() (domain.TransportStats, error)
	Close() error
}

// AvatarGenerator is the external text-to-video collaborator. Implementations
// must bound their wait; on failure the UI layer degrades to local speech
// synthesis.
type AvatarGenerator interface {
	Generate(ctx context.Context, req AvatarRequest) (AvatarResult, error)
}

type AvatarRequest struct {
	Text       string
	AvatarType string
	Voice      string
}

type AvatarResult struct {
	VideoURL string
}
