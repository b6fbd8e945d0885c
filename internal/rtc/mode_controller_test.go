package rtc

import (
	"context"
	"errors"
	"testing"
	"time"

	"telecare/internal/core/domain"
	"telecare/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeAvatar struct {
	err      error
	requests []ports.AvatarRequest
}

func (a *fakeAvatar) Generate(ctx context.Context, req ports.AvatarRequest) (ports.AvatarResult, error) {
	a.requests = append(a.requests, req)
	if a.err != nil {
		return ports.AvatarResult{}, a.err
	}
	return ports.AvatarResult{VideoURL: "https://cdn.example.com/clip.mp4"}, nil
}

func newTestModeController(t *testing.T) (*ModeController, *fakeSender, *fakeAvatar) {
	t.Helper()
	sender := &fakeSender{}
	avatar := &fakeAvatar{}
	c := NewModeController(ModeControllerConfig{
		RoomID:           "room_1",
		UserID:           "local",
		LowThresholdKbps: 1000,
	}, sender, avatar, zaptest.NewLogger(t).Sugar())
	return c, sender, avatar
}

func sampleAt(kbps float64) domain.BandwidthSample {
	return domain.BandwidthSample{
		Timestamp:     time.Now(),
		BandwidthKbps: kbps,
		Quality:       domain.DefaultQualityThresholds().Bucket(kbps),
	}
}

func TestModeTransitionsFireOnlyOnActualChange(t *testing.T) {
	c, sender, _ := newTestModeController(t)

	var notifications []domain.Mode
	c.OnModeChange(func(mode domain.Mode, reason string) {
		notifications = append(notifications, mode)
	})

	for _, kbps := range []float64{2000, 1800, 900, 850, 1500} {
		c.HandleSample(sampleAt(kbps))
	}

	// 900 activates, 1500 deactivates; 850 merely confirms and must not
	// re-notify.
	require.Equal(t, []domain.Mode{domain.ModeAvatar, domain.ModeVideo}, notifications)
	assert.Len(t, sender.byKind(domain.KindActivateAvatar), 1)
	assert.Len(t, sender.byKind(domain.KindDeactivateAvatar), 1)
}

func TestLowBandwidthSuspendsVideoTrack(t *testing.T) {
	c, _, _ := newTestModeController(t)
	stream := newFakeStream()
	c.BindStream(stream)

	c.HandleSample(sampleAt(500))
	assert.Equal(t, domain.ModeAvatar, c.Mode())
	assert.False(t, stream.VideoEnabled(), "video suspends, track is kept")

	c.HandleSample(sampleAt(1500))
	assert.Equal(t, domain.ModeVideo, c.Mode())
	assert.True(t, stream.VideoEnabled())
}

func TestUserRequestedAvatarSticksThroughRecovery(t *testing.T) {
	c, _, _ := newTestModeController(t)

	c.Activate()
	assert.Equal(t, domain.ModeAvatar, c.Mode())

	// Bandwidth recovery must not override an explicit user choice.
	c.HandleSample(sampleAt(3000))
	assert.Equal(t, domain.ModeAvatar, c.Mode())

	c.Deactivate()
	assert.Equal(t, domain.ModeVideo, c.Mode())
}

func TestRemoteActivateIsNotRebroadcast(t *testing.T) {
	c, sender, _ := newTestModeController(t)

	env := domain.MustEnvelope(domain.KindActivateAvatar, "room_1", "remote",
		domain.AvatarModePayload{UserID: "remote", Reason: domain.ReasonLowBandwidth})
	c.HandleRemoteActivate(env)

	assert.Equal(t, domain.ModeAvatar, c.Mode())
	assert.Empty(t, sender.byKind(domain.KindActivateAvatar), "remote switches must not echo back")

	c.HandleRemoteDeactivate(domain.MustEnvelope(domain.KindDeactivateAvatar, "room_1", "remote",
		domain.AvatarModePayload{UserID: "remote"}))
	assert.Equal(t, domain.ModeVideo, c.Mode())
	assert.Empty(t, sender.byKind(domain.KindDeactivateAvatar))
}

func TestBandwidthRecoveryRestoresAfterRemoteLowBandwidthActivate(t *testing.T) {
	c, _, _ := newTestModeController(t)

	env := domain.MustEnvelope(domain.KindActivateAvatar, "room_1", "remote",
		domain.AvatarModePayload{UserID: "remote", Reason: domain.ReasonLowBandwidth})
	c.HandleRemoteActivate(env)
	require.Equal(t, domain.ModeAvatar, c.Mode())

	c.HandleSample(sampleAt(2200))
	assert.Equal(t, domain.ModeVideo, c.Mode())
}

func TestSubmitTextReturnsClipURL(t *testing.T) {
	c, _, avatar := newTestModeController(t)

	url, err := c.SubmitText(context.Background(), "Your test results look good.", "", "")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/clip.mp4", url)
	assert.Equal(t, "Your test results look good.", c.LastText())
	require.Len(t, avatar.requests, 1)
}

func TestSubmitTextWrapsGenerationFailure(t *testing.T) {
	c, _, avatar := newTestModeController(t)
	avatar.err = errors.New("upstream 500")

	_, err := c.SubmitText(context.Background(), "hello", "", "")
	assert.ErrorIs(t, err, domain.ErrAvatarUnavailable)
}

func TestSubmitTextRejectsEmptyScript(t *testing.T) {
	c, _, avatar := newTestModeController(t)

	_, err := c.SubmitText(context.Background(), "", "", "")
	assert.Error(t, err)
	assert.Empty(t, avatar.requests)
}
