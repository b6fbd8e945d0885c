package webrtc

import (
	"context"
	"testing"
	"time"

	"telecare/internal/core/domain"
	"telecare/internal/core/ports"

	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestDevices(t *testing.T) *Devices {
	t.Helper()
	return NewDevices(zaptest.NewLogger(t).Sugar())
}

func TestGetUserMediaAcquiresRequestedTracks(t *testing.T) {
	stream, err := newTestDevices(t).GetUserMedia(context.Background(),
		ports.MediaConstraints{Audio: true, Video: true, Width: 1280, Height: 720, FrameRate: 30})
	require.NoError(t, err)

	assert.True(t, stream.AudioEnabled())
	assert.True(t, stream.VideoEnabled())

	ds, ok := stream.(*deviceStream)
	require.True(t, ok)
	assert.Len(t, ds.Tracks(), 2)
}

func TestGetUserMediaAudioOnly(t *testing.T) {
	stream, err := newTestDevices(t).GetUserMedia(context.Background(), ports.MediaConstraints{Audio: true})
	require.NoError(t, err)

	assert.True(t, stream.AudioEnabled())
	assert.False(t, stream.VideoEnabled())
	assert.Len(t, stream.(*deviceStream).Tracks(), 1)
}

func TestGetUserMediaRejectsEmptyRequest(t *testing.T) {
	_, err := newTestDevices(t).GetUserMedia(context.Background(), ports.MediaConstraints{})
	assert.ErrorIs(t, err, domain.ErrDeviceUnavailable)
}

func TestStreamTogglesWithoutRemovingTracks(t *testing.T) {
	stream, err := newTestDevices(t).GetUserMedia(context.Background(), ports.MediaConstraints{Audio: true, Video: true})
	require.NoError(t, err)

	stream.SetVideoEnabled(false)
	assert.False(t, stream.VideoEnabled())
	assert.True(t, stream.AudioEnabled())
	// The track stays on the connection; only sample forwarding stops.
	assert.Len(t, stream.(*deviceStream).Tracks(), 2)

	stream.SetVideoEnabled(true)
	assert.True(t, stream.VideoEnabled())
}

func TestWriteSamplesDroppedWhileDisabled(t *testing.T) {
	stream, err := newTestDevices(t).GetUserMedia(context.Background(), ports.MediaConstraints{Audio: true, Video: true})
	require.NoError(t, err)
	ds := stream.(*deviceStream)

	sample := media.Sample{Data: []byte{0x01}, Duration: 20 * time.Millisecond}

	require.NoError(t, ds.WriteAudioSample(sample))

	ds.SetAudioEnabled(false)
	assert.NoError(t, ds.WriteAudioSample(sample))

	ds.StopAll()
	assert.NoError(t, ds.WriteAudioSample(sample))
	assert.NoError(t, ds.WriteVideoSample(sample))
	assert.False(t, ds.AudioEnabled())
	assert.False(t, ds.VideoEnabled())
}

func TestAttachStreamRequiresPionTracks(t *testing.T) {
	s := newTestSession(t)
	err := s.AttachStream(&foreignStream{})
	assert.Error(t, err)
}

// foreignStream satisfies the port without exposing pion tracks.
type foreignStream struct{}

func (foreignStream) SetAudioEnabled(bool) {}
func (foreignStream) SetVideoEnabled(bool) {}
func (foreignStream) AudioEnabled() bool   { return false }
func (foreignStream) VideoEnabled() bool   { return false }
func (foreignStream) StopAll()             {}
