package webrtc

import (
	"context"
	"fmt"
	"sync"

	"telecare/internal/core/domain"
	"telecare/internal/core/ports"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"go.uber.org/zap"
)

// deviceStream is the pion-backed local stream. Toggling disables sample
// forwarding without removing the track from the connection, so resume is
// instant and never renegotiates.
type deviceStream struct {
	audio *webrtc.TrackLocalStaticSample
	video *webrtc.TrackLocalStaticSample

	mu           sync.Mutex
	audioEnabled bool
	videoEnabled bool
	stopped      bool
}

func (d *deviceStream) Tracks() []webrtc.TrackLocal {
	tracks := make([]webrtc.TrackLocal, 0, 2)
	if d.audio != nil {
		tracks = append(tracks, d.audio)
	}
	if d.video != nil {
		tracks = append(tracks, d.video)
	}
	return tracks
}

func (d *deviceStream) SetAudioEnabled(enabled bool) {
	d.mu.Lock()
	d.audioEnabled = enabled
	d.mu.Unlock()
}

func (d *deviceStream) SetVideoEnabled(enabled bool) {
	d.mu.Lock()
	d.videoEnabled = enabled
	d.mu.Unlock()
}

func (d *deviceStream) AudioEnabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.audioEnabled
}

func (d *deviceStream) VideoEnabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.videoEnabled
}

func (d *deviceStream) StopAll() {
	d.mu.Lock()
	d.stopped = true
	d.audioEnabled = false
	d.videoEnabled = false
	d.mu.Unlock()
}

// WriteAudioSample feeds one captured audio sample. Samples are dropped while
// the track is muted or the stream stopped.
func (d *deviceStream) WriteAudioSample(sample media.Sample) error {
	d.mu.Lock()
	ok := d.audioEnabled && !d.stopped && d.audio != nil
	d.mu.Unlock()
	if !ok {
		return nil
	}
	return d.audio.WriteSample(sample)
}

// WriteVideoSample feeds one captured video frame.
func (d *deviceStream) WriteVideoSample(sample media.Sample) error {
	d.mu.Lock()
	ok := d.videoEnabled && !d.stopped && d.video != nil
	d.mu.Unlock()
	if !ok {
		return nil
	}
	return d.video.WriteSample(sample)
}

// Devices acquires local capture tracks. The capture pipeline that feeds
// Write*Sample is owned by the embedding application; this layer only
// guarantees track lifecycle and the domain error mapping.
type Devices struct {
	logger *zap.SugaredLogger
}

func NewDevices(logger *zap.SugaredLogger) *Devices {
	return &Devices{logger: logger}
}

func (d *Devices) GetUserMedia(ctx context.Context, constraints ports.MediaConstraints) (ports.LocalStream, error) {
	if !constraints.Audio && !constraints.Video {
		return nil, fmt.Errorf("%w: no audio or video requested", domain.ErrDeviceUnavailable)
	}

	stream := &deviceStream{}

	if constraints.Audio {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
			"audio",
			"telecare-audio",
		)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrDeviceUnavailable, err)
		}
		stream.audio = track
		stream.audioEnabled = true
	}

	if constraints.Video {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
			"video",
			"telecare-video",
		)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrDeviceUnavailable, err)
		}
		stream.video = track
		stream.videoEnabled = true
	}

	d.logger.Infow("local media acquired",
		"audio", constraints.Audio, "video", constraints.Video,
		"width", constraints.Width, "height", constraints.Height,
		"frame_rate", constraints.FrameRate)
	return stream, nil
}
