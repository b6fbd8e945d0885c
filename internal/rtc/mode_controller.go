package rtc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"telecare/internal/core/domain"
	"telecare/internal/core/ports"
	"telecare/pkg/validation"

	"go.uber.org/zap"
)

// ModeControllerConfig fixes the fallback policy for one call.
type ModeControllerConfig struct {
	RoomID domain.RoomID
	UserID domain.UserID

	// LowThresholdKbps triggers the avatar fallback. Unit is kbps end-to-end.
	LowThresholdKbps float64
}

// ModeController decides whether the call runs live video or the text-driven
// avatar fallback. Notifications fire only on actual transitions: a sample
// merely confirming the current mode never re-emits, so a flapping link does
// not spam the peer.
type ModeController struct {
	cfg    ModeControllerConfig
	sender ports.EnvelopeSender
	avatar ports.AvatarGenerator
	logger *zap.SugaredLogger

	mu         sync.Mutex
	mode       domain.Mode
	reason     string
	stream     ports.LocalStream
	lastText   string
	subscriber func(domain.Mode, string)
}

func NewModeController(cfg ModeControllerConfig, sender ports.EnvelopeSender, avatar ports.AvatarGenerator, logger *zap.SugaredLogger) *ModeController {
	if cfg.LowThresholdKbps <= 0 {
		cfg.LowThresholdKbps = 1000
	}
	return &ModeController{
		cfg:    cfg,
		sender: sender,
		avatar: avatar,
		logger: logger,
		mode:   domain.ModeVideo,
	}
}

// BindStream gives the controller the local stream whose video track it
// suspends in avatar mode. The stream stays owned by the negotiator.
func (c *ModeController) BindStream(stream ports.LocalStream) {
	c.mu.Lock()
	c.stream = stream
	c.mu.Unlock()
}

// OnModeChange subscribes the UI layer to transitions.
func (c *ModeController) OnModeChange(fn func(mode domain.Mode, reason string)) {
	c.mu.Lock()
	c.subscriber = fn
	c.mu.Unlock()
}

// Mode returns the current presentation mode.
func (c *ModeController) Mode() domain.Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// LastText returns the most recently submitted avatar script.
func (c *ModeController) LastText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastText
}

// HandleSample applies threshold logic to one bandwidth sample. Sustained
// sub-threshold throughput activates avatar mode; recovery deactivates it,
// but only when the activation was bandwidth-driven — a user choice sticks
// until the user reverses it.
func (c *ModeController) HandleSample(sample domain.BandwidthSample) {
	c.mu.Lock()
	mode := c.mode
	reason := c.reason
	c.mu.Unlock()

	switch {
	case sample.BandwidthKbps < c.cfg.LowThresholdKbps && mode == domain.ModeVideo:
		c.transition(domain.ModeAvatar, domain.ReasonLowBandwidth, true)
	case sample.BandwidthKbps >= c.cfg.LowThresholdKbps && mode == domain.ModeAvatar && reason == domain.ReasonLowBandwidth:
		c.transition(domain.ModeVideo, domain.ReasonLowBandwidth, true)
	}
}

// Activate switches to avatar mode on explicit user request.
func (c *ModeController) Activate() {
	c.transition(domain.ModeAvatar, domain.ReasonUserRequest, true)
}

// Deactivate returns to live video on explicit user request.
func (c *ModeController) Deactivate() {
	c.transition(domain.ModeVideo, domain.ReasonUserRequest, true)
}

// HandleRemoteActivate applies a mode switch announced by the peer or relay.
// It is not re-broadcast, which keeps two controllers from ping-ponging.
func (c *ModeController) HandleRemoteActivate(env domain.Envelope) {
	var payload domain.AvatarModePayload
	reason := domain.ReasonLowBandwidth
	if err := json.Unmarshal(env.Payload, &payload); err == nil && payload.Reason != "" {
		reason = payload.Reason
	}
	c.transition(domain.ModeAvatar, reason, false)
}

// HandleRemoteDeactivate applies a peer-announced return to video.
func (c *ModeController) HandleRemoteDeactivate(env domain.Envelope) {
	c.transition(domain.ModeVideo, domain.ReasonUserRequest, false)
}

// transition performs the state change. It is the single funnel: no video
// suspension and no notification happens anywhere else, which is what makes
// the controller monotonic.
func (c *ModeController) transition(target domain.Mode, reason string, notifyPeer bool) {
	c.mu.Lock()
	if c.mode == target {
		c.mu.Unlock()
		return
	}
	c.mode = target
	c.reason = reason
	stream := c.stream
	subscriber := c.subscriber
	c.mu.Unlock()

	// Suspend rather than remove the track so resume is instant.
	if stream != nil {
		stream.SetVideoEnabled(target == domain.ModeVideo)
	}

	c.logger.Infow("mode changed",
		"room_id", c.cfg.RoomID, "mode", target, "reason", reason)

	if notifyPeer {
		kind := domain.KindDeactivateAvatar
		if target == domain.ModeAvatar {
			kind = domain.KindActivateAvatar
		}
		env, err := domain.NewEnvelope(kind, c.cfg.RoomID, c.cfg.UserID, domain.AvatarModePayload{
			UserID: c.cfg.UserID,
			Reason: reason,
		})
		if err == nil {
			if err := c.sender.Send(env); err != nil {
				c.logger.Warnw("failed to announce mode change", "error", err)
			}
		}
	}

	if subscriber != nil {
		subscriber(target, reason)
	}
}

// SubmitText sends one avatar script to the generation collaborator and
// returns the playable media URL. On collaborator failure the caller falls
// back to local speech synthesis; the consultation itself never aborts.
func (c *ModeController) SubmitText(ctx context.Context, text, avatarType, voice string) (string, error) {
	if err := validation.ValidateAvatarScript(text); err != nil {
		return "", err
	}

	c.mu.Lock()
	c.lastText = text
	c.mu.Unlock()

	result, err := c.avatar.Generate(ctx, ports.AvatarRequest{
		Text:       text,
		AvatarType: avatarType,
		Voice:      voice,
	})
	if err != nil {
		c.logger.Warnw("avatar generation failed", "error", err)
		return "", fmt.Errorf("%w: %v", domain.ErrAvatarUnavailable, err)
	}
	return result.VideoURL, nil
}
