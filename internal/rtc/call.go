package rtc

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"telecare/internal/core/domain"
	"telecare/internal/core/ports"
	"telecare/pkg/config"

	"go.uber.org/zap"
)

// CallConfig collects everything one consultation call needs.
type CallConfig struct {
	RoomID domain.RoomID
	UserID domain.UserID
	Role   domain.Role

	Constraints ports.MediaConstraints

	SetupTimeout     time.Duration
	SampleInterval   time.Duration
	Thresholds       domain.QualityThresholds
	LowThresholdKbps float64
}

// CallConfigFrom derives per-call settings from the application config.
func CallConfigFrom(cfg *config.Config, roomID domain.RoomID, userID domain.UserID, role domain.Role) CallConfig {
	return CallConfig{
		RoomID: roomID,
		UserID: userID,
		Role:   role,
		Constraints: ports.MediaConstraints{
			Audio:            true,
			Video:            true,
			Width:            1280,
			Height:           720,
			FrameRate:        30,
			EchoCancellation: true,
		},
		SetupTimeout:   cfg.WebRTC.SetupTimeout,
		SampleInterval: cfg.Bandwidth.SampleInterval,
		Thresholds: domain.QualityThresholds{
			ExcellentKbps: cfg.Bandwidth.ExcellentKbps,
			GoodKbps:      cfg.Bandwidth.GoodKbps,
			FairKbps:      cfg.Bandwidth.FairKbps,
		},
		LowThresholdKbps: cfg.Bandwidth.LowThresholdKbps,
	}
}

// Call composes one consultation: the signaling channel, the negotiator, the
// bandwidth monitor and the mode controller, wired so that the monitor starts
// when the transport connects and everything stops together on hangup. Calls
// are single-use.
type Call struct {
	cfg    CallConfig
	signal *SignalClient
	logger *zap.SugaredLogger

	negotiator *Negotiator
	monitor    *BandwidthMonitor
	modes      *ModeController

	mu           sync.Mutex
	peerID       domain.UserID
	peerKbps     float64
	peerAlerted  bool
	monitorOnce  sync.Once
	chatHandler  func(domain.UserID, domain.ChatMessagePayload)
	alertHandler func(domain.LowBandwidthPayload)
}

// NewCall wires the call components together. The avatar generator may be nil
// when the deployment has no text-to-video backend; SubmitText then fails
// with ErrAvatarUnavailable.
func NewCall(cfg CallConfig, signal *SignalClient, session ports.MediaSession, devices ports.MediaDevices, avatar ports.AvatarGenerator, logger *zap.SugaredLogger) *Call {
	c := &Call{
		cfg:    cfg,
		signal: signal,
		logger: logger,
	}

	c.negotiator = NewNegotiator(NegotiatorConfig{
		RoomID:       cfg.RoomID,
		UserID:       cfg.UserID,
		Role:         cfg.Role,
		Constraints:  cfg.Constraints,
		SetupTimeout: cfg.SetupTimeout,
	}, session, devices, signal, logger)

	c.monitor = NewBandwidthMonitor(MonitorConfig{
		RoomID:     cfg.RoomID,
		UserID:     cfg.UserID,
		Interval:   cfg.SampleInterval,
		Thresholds: cfg.Thresholds,
	}, session, signal, logger)

	c.modes = NewModeController(ModeControllerConfig{
		RoomID:           cfg.RoomID,
		UserID:           cfg.UserID,
		LowThresholdKbps: cfg.LowThresholdKbps,
	}, signal, avatar, logger)

	c.monitor.OnSample(c.modes.HandleSample)

	// Monitoring runs only while media actually flows.
	c.negotiator.OnStateChange(func(state domain.CallState) {
		if state == domain.CallStateConnected {
			c.monitorOnce.Do(func() {
				c.monitor.Start(context.Background())
			})
		}
	})
	c.negotiator.OnTeardown(c.monitor.Stop)

	return c
}

// Start joins the room, acquires media and, for the initiator, kicks off the
// offer exchange once the peer arrives. It blocks in the envelope dispatch
// loop until the signaling channel closes or ctx is cancelled.
func (c *Call) Start(ctx context.Context) error {
	if err := c.signal.Join(c.cfg.RoomID, c.cfg.UserID, c.cfg.Role); err != nil {
		return err
	}

	stream, err := c.negotiator.Initialize(ctx)
	if err != nil {
		return err
	}
	c.modes.BindStream(stream)

	return c.signal.Listen(ctx, func(env domain.Envelope) {
		c.dispatch(ctx, env)
	})
}

func (c *Call) dispatch(ctx context.Context, env domain.Envelope) {
	switch env.Kind {
	case domain.KindRoomParticipants:
		c.handleRoster(ctx, env)
	case domain.KindUserJoined:
		c.handlePeerJoined(ctx, env)
	case domain.KindUserLeft:
		c.handlePeerLeft(env)
	case domain.KindOffer:
		if err := c.negotiator.HandleRemoteOffer(ctx, env); err != nil {
			c.logger.Errorw("failed to handle offer", "error", err)
		}
	case domain.KindAnswer:
		if err := c.negotiator.HandleRemoteAnswer(env); err != nil {
			c.logger.Errorw("failed to handle answer", "error", err)
		}
	case domain.KindICECandidate:
		if err := c.negotiator.HandleRemoteICECandidate(env); err != nil {
			c.logger.Warnw("failed to handle ice candidate", "error", err)
		}
	case domain.KindBandwidthUpdate:
		c.handlePeerBandwidth(env)
	case domain.KindLowBandwidth:
		c.handleLowBandwidthAlert(env)
	case domain.KindActivateAvatar:
		if env.SenderID != c.cfg.UserID {
			c.modes.HandleRemoteActivate(env)
		}
	case domain.KindDeactivateAvatar:
		if env.SenderID != c.cfg.UserID {
			c.modes.HandleRemoteDeactivate(env)
		}
	case domain.KindChatMessage:
		c.handleChat(env)
	case domain.KindError:
		var payload domain.ErrorPayload
		if err := json.Unmarshal(env.Payload, &payload); err == nil {
			c.logger.Warnw("relay reported error", "message", payload.Message)
		}
	default:
		c.logger.Debugw("ignoring envelope", "kind", env.Kind)
	}
}

// handleRoster reacts to the membership snapshot sent on join. A doctor
// finding the patient already present offers immediately.
func (c *Call) handleRoster(ctx context.Context, env domain.Envelope) {
	var payload domain.RoomParticipantsPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		c.logger.Warnw("invalid participants payload", "error", err)
		return
	}
	for _, p := range payload.Participants {
		if p.UserID == c.cfg.UserID {
			continue
		}
		c.mu.Lock()
		c.peerID = p.UserID
		c.mu.Unlock()
		c.maybeOffer(ctx)
		return
	}
}

func (c *Call) handlePeerJoined(ctx context.Context, env domain.Envelope) {
	var payload domain.UserJoinedPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		c.logger.Warnw("invalid user-joined payload", "error", err)
		return
	}
	if payload.UserID == c.cfg.UserID {
		return
	}

	c.mu.Lock()
	c.peerID = payload.UserID
	c.mu.Unlock()
	c.logger.Infow("peer joined",
		"room_id", c.cfg.RoomID, "peer_id", payload.UserID, "peer_type", payload.UserType)
	c.maybeOffer(ctx)
}

func (c *Call) handlePeerLeft(env domain.Envelope) {
	var payload domain.UserLeftPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return
	}
	c.mu.Lock()
	if c.peerID == payload.UserID {
		c.peerID = ""
	}
	c.mu.Unlock()
	c.logger.Infow("peer left", "room_id", c.cfg.RoomID, "peer_id", payload.UserID)
}

// maybeOffer starts negotiation when this side is the initiator. CreateOffer
// is internally idempotent, so duplicate peer notifications are harmless.
func (c *Call) maybeOffer(ctx context.Context) {
	if !c.cfg.Role.Initiator() {
		return
	}
	if err := c.negotiator.CreateOffer(ctx); err != nil {
		c.logger.Errorw("failed to create offer", "error", err)
	}
}

func (c *Call) handlePeerBandwidth(env domain.Envelope) {
	if env.SenderID == c.cfg.UserID {
		return
	}
	var payload domain.BandwidthUpdatePayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return
	}
	c.mu.Lock()
	c.peerKbps = payload.BandwidthKbps
	c.mu.Unlock()
	c.logger.Debugw("peer bandwidth",
		"peer_id", env.SenderID, "kbps", payload.BandwidthKbps, "quality", payload.Quality)
}

func (c *Call) handleLowBandwidthAlert(env domain.Envelope) {
	var payload domain.LowBandwidthPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return
	}
	c.logger.Warnw("low bandwidth alert",
		"user_id", payload.UserID, "kbps", payload.BandwidthKbps,
		"recommendation", payload.Recommendation)

	c.mu.Lock()
	handler := c.alertHandler
	c.peerAlerted = payload.UserID != c.cfg.UserID
	c.mu.Unlock()
	if handler != nil {
		handler(payload)
	}
}

func (c *Call) handleChat(env domain.Envelope) {
	var payload domain.ChatMessagePayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return
	}
	c.mu.Lock()
	handler := c.chatHandler
	c.mu.Unlock()
	if handler != nil {
		handler(env.SenderID, payload)
	}
}

// OnChatMessage registers the chat consumer. Messages arrive for every room
// member including the local sender, stamped by the relay.
func (c *Call) OnChatMessage(fn func(from domain.UserID, msg domain.ChatMessagePayload)) {
	c.mu.Lock()
	c.chatHandler = fn
	c.mu.Unlock()
}

// OnLowBandwidthAlert registers a consumer for relay-issued alerts.
func (c *Call) OnLowBandwidthAlert(fn func(domain.LowBandwidthPayload)) {
	c.mu.Lock()
	c.alertHandler = fn
	c.mu.Unlock()
}

// SendChat relays a chat message to the room. The relay stamps the timestamp.
func (c *Call) SendChat(text string) error {
	env, err := domain.NewEnvelope(domain.KindChatMessage, c.cfg.RoomID, c.cfg.UserID,
		domain.ChatMessagePayload{Text: text})
	if err != nil {
		return err
	}
	return c.signal.Send(env)
}

// ToggleMute flips local audio and returns the new muted state.
func (c *Call) ToggleMute() bool { return c.negotiator.ToggleMute() }

// ToggleVideo flips local video and returns the new disabled state.
func (c *Call) ToggleVideo() bool { return c.negotiator.ToggleVideo() }

// State returns the current call state.
func (c *Call) State() domain.CallState { return c.negotiator.State() }

// Mode returns the active display mode.
func (c *Call) Mode() domain.Mode { return c.modes.Mode() }

// Modes exposes the mode controller for avatar activation and text submission.
func (c *Call) Modes() *ModeController { return c.modes }

// Bandwidth returns the latest local sample.
func (c *Call) Bandwidth() (domain.BandwidthSample, bool) { return c.monitor.Last() }

// PeerBandwidth reports the peer's last self-reported throughput and whether
// the relay has flagged the peer as bandwidth-constrained.
func (c *Call) PeerBandwidth() (kbps float64, constrained bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerKbps, c.peerAlerted
}

// PeerID returns the remote participant's id, or "" before the peer joins.
func (c *Call) PeerID() domain.UserID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerID
}

// Hangup ends the call and closes the signaling channel. Idempotent through
// the negotiator and client guards.
func (c *Call) Hangup() error {
	err := c.negotiator.Close()
	if cerr := c.signal.Close(); err == nil {
		err = cerr
	}
	return err
}
