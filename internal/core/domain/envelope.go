package domain

import "encoding/json"

// EnvelopeKind identifies the kind of signaling envelope. The set is closed:
// the relay rejects unknown kinds and every consumer switches exhaustively.
type EnvelopeKind string

const (
	KindJoinRoom         EnvelopeKind = "join-room"
	KindRoomParticipants EnvelopeKind = "room-participants"
	KindUserJoined       EnvelopeKind = "user-joined"
	KindUserLeft         EnvelopeKind = "user-left"
	KindOffer            EnvelopeKind = "offer"
	KindAnswer           EnvelopeKind = "answer"
	KindICECandidate     EnvelopeKind = "ice-candidate"
	KindBandwidthUpdate  EnvelopeKind = "bandwidth-update"
	KindLowBandwidth     EnvelopeKind = "low-bandwidth-alert"
	KindActivateAvatar   EnvelopeKind = "activate-text2video"
	KindDeactivateAvatar EnvelopeKind = "deactivate-text2video"
	KindChatMessage      EnvelopeKind = "chat-message"
	KindError            EnvelopeKind = "error"
)

// Envelope is the unit of exchange over the signaling channel. Envelopes are
// ephemeral: relayed once and discarded, never persisted or buffered for
// offline peers.
type Envelope struct {
	Kind     EnvelopeKind    `json:"kind"`
	RoomID   RoomID          `json:"room_id,omitempty"`
	SenderID UserID          `json:"sender_id,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

type JoinRoomPayload struct {
	UserType Role `json:"user_type"`
}

type RoomParticipantsPayload struct {
	Participants []ParticipantInfo `json:"participants"`
}

type ParticipantInfo struct {
	UserID   UserID `json:"user_id"`
	UserType Role   `json:"user_type"`
}

type UserJoinedPayload struct {
	UserID           UserID `json:"user_id"`
	UserType         Role   `json:"user_type"`
	ParticipantCount int    `json:"participant_count"`
}

type UserLeftPayload struct {
	UserID           UserID `json:"user_id"`
	ParticipantCount int    `json:"participant_count"`
}

// SessionDescriptionPayload carries an SDP blob for offer and answer envelopes.
type SessionDescriptionPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidatePayload carries one trickled candidate. SDPMid and
// SDPMLineIndex mirror the browser ICECandidateInit shape.
type ICECandidatePayload struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdp_mid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdp_mline_index,omitempty"`
}

type BandwidthUpdatePayload struct {
	BandwidthKbps float64 `json:"bandwidth_kbps"`
	RTTMillis     float64 `json:"rtt_ms"`
	Quality       Quality `json:"quality"`
	Timestamp     int64   `json:"timestamp"`
}

type LowBandwidthPayload struct {
	UserID         UserID  `json:"user_id"`
	BandwidthKbps  float64 `json:"bandwidth_kbps"`
	Recommendation string  `json:"recommendation"`
}

// RecommendationSwitchToAvatar is the only recommendation the relay issues.
const RecommendationSwitchToAvatar = "switch-to-avatar"

type AvatarModePayload struct {
	UserID UserID `json:"user_id"`
	Reason string `json:"reason,omitempty"`
}

const (
	ReasonLowBandwidth = "low-bandwidth"
	ReasonUserRequest  = "user-request"
)

type ChatMessagePayload struct {
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// NewEnvelope marshals payload and wraps it. Marshalling of the known payload
// structs cannot fail, so the error is confined to this constructor.
func NewEnvelope(kind EnvelopeKind, roomID RoomID, senderID UserID, payload interface{}) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Kind: kind, RoomID: roomID, SenderID: senderID, Payload: raw}, nil
}

// MustEnvelope is NewEnvelope for payloads built from static structs, where a
// marshal failure is a programming error.
func MustEnvelope(kind EnvelopeKind, roomID RoomID, senderID UserID, payload interface{}) Envelope {
	env, err := NewEnvelope(kind, roomID, senderID, payload)
	if err != nil {
		panic(err)
	}
	return env
}
