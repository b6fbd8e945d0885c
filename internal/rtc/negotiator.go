package rtc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"telecare/internal/core/domain"
	"telecare/internal/core/ports"

	"go.uber.org/zap"
)

// NegotiatorConfig identifies the call and fixes the negotiation policy.
type NegotiatorConfig struct {
	RoomID domain.RoomID
	UserID domain.UserID
	Role   domain.Role

	Constraints ports.MediaConstraints

	// SetupTimeout bounds how long the call may stay in connecting before it
	// is failed. Zero disables the timer.
	SetupTimeout time.Duration
}

// Negotiator drives the offer/answer/ICE exchange for exactly one call
// against one remote peer. The relay delivers envelopes at most once but
// possibly duplicated and reordered, so every apply operation is guarded by
// an explicit state check rather than by error swallowing. A negotiator is
// single-use: after Close a fresh instance is required.
type Negotiator struct {
	cfg     NegotiatorConfig
	session ports.MediaSession
	devices ports.MediaDevices
	sender  ports.EnvelopeSender
	logger  *zap.SugaredLogger

	mu           sync.Mutex
	state        domain.CallState
	stream       ports.LocalStream
	offerSent    bool
	pending      []domain.ICECandidatePayload
	setupTimer   *time.Timer
	stateSubs    []func(domain.CallState)
	teardownSubs []func()
	closed       bool
}

func NewNegotiator(cfg NegotiatorConfig, session ports.MediaSession, devices ports.MediaDevices, sender ports.EnvelopeSender, logger *zap.SugaredLogger) *Negotiator {
	n := &Negotiator{
		cfg:     cfg,
		session: session,
		devices: devices,
		sender:  sender,
		logger:  logger,
		state:   domain.CallStateNew,
	}

	session.OnStateChange(n.handleTransportState)
	session.OnICECandidate(func(cand domain.ICECandidatePayload) {
		if cand.Candidate == "" {
			return
		}
		env, err := domain.NewEnvelope(domain.KindICECandidate, cfg.RoomID, cfg.UserID, cand)
		if err != nil {
			logger.Warnw("failed to build ice envelope", "error", err)
			return
		}
		if err := n.sender.Send(env); err != nil {
			logger.Warnw("failed to trickle ice candidate", "error", err)
		}
	})

	return n
}

// State returns the current call state.
func (n *Negotiator) State() domain.CallState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// OnStateChange subscribes to call state transitions.
func (n *Negotiator) OnStateChange(fn func(domain.CallState)) {
	n.mu.Lock()
	n.stateSubs = append(n.stateSubs, fn)
	n.mu.Unlock()
}

// OnTeardown registers a hook run exactly once when the call ends. The
// bandwidth monitor hangs its cancellation here.
func (n *Negotiator) OnTeardown(fn func()) {
	n.mu.Lock()
	n.teardownSubs = append(n.teardownSubs, fn)
	n.mu.Unlock()
}

// Initialize acquires local media per the configured constraints and attaches
// it to the session. A failed acquisition leaves the negotiator exactly as it
// was, so the call is safe to retry.
func (n *Negotiator) Initialize(ctx context.Context) (ports.LocalStream, error) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil, domain.ErrCallClosed
	}
	if n.stream != nil {
		stream := n.stream
		n.mu.Unlock()
		return stream, nil
	}
	n.mu.Unlock()

	stream, err := n.devices.GetUserMedia(ctx, n.cfg.Constraints)
	if err != nil {
		return nil, err
	}
	if err := n.session.AttachStream(stream); err != nil {
		stream.StopAll()
		return nil, fmt.Errorf("attach stream: %w", err)
	}

	n.mu.Lock()
	if n.closed {
		// Closed while acquiring; release immediately.
		n.mu.Unlock()
		stream.StopAll()
		return nil, domain.ErrCallClosed
	}
	n.stream = stream
	n.mu.Unlock()
	return stream, nil
}

// CreateOffer starts negotiation. Only the initiator role may offer; the
// fixed assignment removes simultaneous-offer glare entirely.
func (n *Negotiator) CreateOffer(ctx context.Context) error {
	if !n.cfg.Role.Initiator() {
		return domain.ErrNotInitiator
	}
	if _, err := n.Initialize(ctx); err != nil {
		return err
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return domain.ErrCallClosed
	}
	if n.offerSent {
		n.mu.Unlock()
		return nil // already negotiating
	}
	n.offerSent = true
	n.mu.Unlock()

	offer, err := n.session.CreateOffer(ctx)
	if err != nil {
		n.mu.Lock()
		n.offerSent = false
		n.mu.Unlock()
		return err
	}
	if err := n.session.SetLocalDescription(offer); err != nil {
		n.mu.Lock()
		n.offerSent = false
		n.mu.Unlock()
		return err
	}

	n.setState(domain.CallStateConnecting)
	n.armSetupTimer()

	env, err := domain.NewEnvelope(domain.KindOffer, n.cfg.RoomID, n.cfg.UserID, offer)
	if err != nil {
		return err
	}
	n.logger.Infow("offer sent", "room_id", n.cfg.RoomID, "sdp_length", len(offer.SDP))
	return n.sender.Send(env)
}

// HandleRemoteOffer answers an incoming offer. Guards: non-initiator only,
// self-echo ignored, and a second offer after a remote description is set is
// dropped so duplicate relay delivery cannot start a renegotiation storm.
func (n *Negotiator) HandleRemoteOffer(ctx context.Context, env domain.Envelope) error {
	if n.cfg.Role.Initiator() {
		n.logger.Debugw("initiator ignoring remote offer", "sender_id", env.SenderID)
		return nil
	}
	if env.SenderID == n.cfg.UserID {
		n.logger.Debugw("ignoring self-echoed offer")
		return nil
	}
	if n.session.RemoteDescriptionSet() {
		n.logger.Debugw("ignoring duplicate offer", "sender_id", env.SenderID)
		return nil
	}

	var offer domain.SessionDescriptionPayload
	if err := json.Unmarshal(env.Payload, &offer); err != nil {
		return fmt.Errorf("invalid offer payload: %w", err)
	}

	// The non-initiator acquires media lazily, on the first offer.
	if _, err := n.Initialize(ctx); err != nil {
		return err
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return domain.ErrCallClosed
	}
	n.mu.Unlock()

	if err := n.session.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("apply remote offer: %w", err)
	}
	n.drainPendingCandidates()

	answer, err := n.session.CreateAnswer(ctx)
	if err != nil {
		return err
	}
	if err := n.session.SetLocalDescription(answer); err != nil {
		return err
	}

	n.setState(domain.CallStateConnecting)
	n.armSetupTimer()

	reply, err := domain.NewEnvelope(domain.KindAnswer, n.cfg.RoomID, n.cfg.UserID, answer)
	if err != nil {
		return err
	}
	n.logger.Infow("answer sent", "room_id", n.cfg.RoomID, "sdp_length", len(answer.SDP))
	return n.sender.Send(reply)
}

// HandleRemoteAnswer applies an answer. Guards: only the side that actually
// offered applies answers, and only the first one wins.
func (n *Negotiator) HandleRemoteAnswer(env domain.Envelope) error {
	if env.SenderID == n.cfg.UserID {
		n.logger.Debugw("ignoring self-echoed answer")
		return nil
	}

	n.mu.Lock()
	offered := n.offerSent
	closed := n.closed
	n.mu.Unlock()
	if closed {
		return domain.ErrCallClosed
	}
	if !offered {
		n.logger.Debugw("ignoring answer: no offer outstanding", "sender_id", env.SenderID)
		return nil
	}
	if n.session.RemoteDescriptionSet() {
		n.logger.Debugw("ignoring duplicate answer", "sender_id", env.SenderID)
		return nil
	}

	var answer domain.SessionDescriptionPayload
	if err := json.Unmarshal(env.Payload, &answer); err != nil {
		return fmt.Errorf("invalid answer payload: %w", err)
	}

	if err := n.session.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("apply remote answer: %w", err)
	}
	n.drainPendingCandidates()
	return nil
}

// HandleRemoteICECandidate applies a trickled candidate, queueing it when the
// remote description has not landed yet. Candidates outrunning their
// description is normal under the relay's ordering model and never fails the
// call.
func (n *Negotiator) HandleRemoteICECandidate(env domain.Envelope) error {
	if env.SenderID == n.cfg.UserID {
		return nil
	}

	var cand domain.ICECandidatePayload
	if err := json.Unmarshal(env.Payload, &cand); err != nil {
		return fmt.Errorf("invalid ice-candidate payload: %w", err)
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	if !n.session.RemoteDescriptionSet() {
		n.pending = append(n.pending, cand)
		n.mu.Unlock()
		return nil
	}
	n.mu.Unlock()

	if err := n.session.AddICECandidate(cand); err != nil {
		n.logger.Warnw("failed to apply ice candidate", "error", err)
	}
	return nil
}

func (n *Negotiator) drainPendingCandidates() {
	n.mu.Lock()
	pending := n.pending
	n.pending = nil
	n.mu.Unlock()

	for _, cand := range pending {
		if err := n.session.AddICECandidate(cand); err != nil {
			n.logger.Warnw("failed to apply queued ice candidate", "error", err)
		}
	}
}

// ToggleMute flips the local audio track and returns the new disabled state.
func (n *Negotiator) ToggleMute() bool {
	n.mu.Lock()
	stream := n.stream
	n.mu.Unlock()
	if stream == nil {
		return false
	}
	enabled := !stream.AudioEnabled()
	stream.SetAudioEnabled(enabled)
	return !enabled
}

// ToggleVideo flips the local video track and returns the new disabled state.
func (n *Negotiator) ToggleVideo() bool {
	n.mu.Lock()
	stream := n.stream
	n.mu.Unlock()
	if stream == nil {
		return false
	}
	enabled := !stream.VideoEnabled()
	stream.SetVideoEnabled(enabled)
	return !enabled
}

// LocalStream returns the acquired stream, or nil before Initialize.
func (n *Negotiator) LocalStream() ports.LocalStream {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stream
}

// Close ends the call: stops local tracks, closes the transport and fires the
// teardown hooks. Idempotent; a second call is a no-op.
func (n *Negotiator) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	stream := n.stream
	timer := n.setupTimer
	n.setupTimer = nil
	teardown := n.teardownSubs
	n.teardownSubs = nil
	n.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	for _, fn := range teardown {
		fn()
	}
	if stream != nil {
		stream.StopAll()
	}
	err := n.session.Close()
	n.setState(domain.CallStateClosed)
	return err
}

func (n *Negotiator) handleTransportState(state domain.CallState) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	if state == domain.CallStateConnected && n.setupTimer != nil {
		n.setupTimer.Stop()
		n.setupTimer = nil
	}
	n.mu.Unlock()
	n.setState(state)
}

func (n *Negotiator) setState(state domain.CallState) {
	n.mu.Lock()
	if n.state == state || n.state.Terminal() {
		n.mu.Unlock()
		return
	}
	n.state = state
	subs := make([]func(domain.CallState), len(n.stateSubs))
	copy(subs, n.stateSubs)
	n.mu.Unlock()

	n.logger.Infow("call state changed", "room_id", n.cfg.RoomID, "state", state)
	for _, fn := range subs {
		fn(state)
	}
}

// armSetupTimer fails the call if it never leaves connecting within the
// configured window.
func (n *Negotiator) armSetupTimer() {
	if n.cfg.SetupTimeout <= 0 {
		return
	}
	n.mu.Lock()
	if n.setupTimer != nil || n.closed {
		n.mu.Unlock()
		return
	}
	n.setupTimer = time.AfterFunc(n.cfg.SetupTimeout, func() {
		if n.State() != domain.CallStateConnecting {
			return
		}
		n.logger.Warnw("call setup timed out",
			"room_id", n.cfg.RoomID, "timeout", n.cfg.SetupTimeout)
		n.setState(domain.CallStateFailed)
	})
	n.mu.Unlock()
}
