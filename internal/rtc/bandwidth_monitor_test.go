package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"telecare/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestMonitor(t *testing.T, session *fakeSession) (*BandwidthMonitor, *fakeSender) {
	t.Helper()
	sender := &fakeSender{}
	m := NewBandwidthMonitor(MonitorConfig{
		RoomID: "room_1",
		UserID: "local",
	}, session, sender, zaptest.NewLogger(t).Sugar())
	return m, sender
}

func TestFirstTickRecordsBaselineOnly(t *testing.T) {
	session := &fakeSession{}
	session.stats = domain.TransportStats{BytesSent: 50000, BytesReceived: 25000}
	m, sender := newTestMonitor(t, session)

	m.tick(time.Now())

	_, ok := m.Last()
	assert.False(t, ok, "first tick has no delta to report")
	assert.Empty(t, sender.byKind(domain.KindBandwidthUpdate))
}

func TestTickDerivesKbpsFromByteDelta(t *testing.T) {
	session := &fakeSession{}
	m, sender := newTestMonitor(t, session)

	start := time.Now()
	session.stats = domain.TransportStats{BytesSent: 100000, BytesReceived: 0}
	m.tick(start)

	// 125000 bytes in exactly one second is 1000 kbps.
	session.stats = domain.TransportStats{BytesSent: 200000, BytesReceived: 25000}
	m.tick(start.Add(time.Second))

	sample, ok := m.Last()
	require.True(t, ok)
	assert.InDelta(t, 1000.0, sample.BandwidthKbps, 0.001)
	assert.Equal(t, domain.QualityFair, sample.Quality)

	updates := sender.byKind(domain.KindBandwidthUpdate)
	require.Len(t, updates, 1)
	var payload domain.BandwidthUpdatePayload
	require.NoError(t, json.Unmarshal(updates[0].Payload, &payload))
	assert.InDelta(t, 1000.0, payload.BandwidthKbps, 0.001)
}

func TestQualityBuckets(t *testing.T) {
	thresholds := domain.DefaultQualityThresholds()
	tests := []struct {
		kbps float64
		want domain.Quality
	}{
		{3000, domain.QualityExcellent},
		{2500, domain.QualityExcellent},
		{2000, domain.QualityGood},
		{1500, domain.QualityGood},
		{1000, domain.QualityFair},
		{800, domain.QualityFair},
		{500, domain.QualityPoor},
		{0, domain.QualityPoor},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, thresholds.Bucket(tt.kbps), "kbps=%v", tt.kbps)
	}
}

func TestStatsErrorSkipsTick(t *testing.T) {
	session := &fakeSession{}
	m, sender := newTestMonitor(t, session)

	start := time.Now()
	session.stats = domain.TransportStats{BytesSent: 100000}
	m.tick(start)

	session.statsErr = errors.New("connection closing")
	m.tick(start.Add(time.Second))

	_, ok := m.Last()
	assert.False(t, ok, "failed tick must not emit")
	assert.Empty(t, sender.byKind(domain.KindBandwidthUpdate))

	// Recovery: the next good tick measures against the old baseline.
	session.statsErr = nil
	session.stats = domain.TransportStats{BytesSent: 350000}
	m.tick(start.Add(2 * time.Second))

	sample, ok := m.Last()
	require.True(t, ok)
	assert.InDelta(t, 1000.0, sample.BandwidthKbps, 0.001)
}

func TestSampleReachesConsumer(t *testing.T) {
	session := &fakeSession{}
	m, _ := newTestMonitor(t, session)

	var got []domain.BandwidthSample
	m.OnSample(func(s domain.BandwidthSample) { got = append(got, s) })

	start := time.Now()
	session.stats = domain.TransportStats{BytesSent: 0}
	m.tick(start)
	session.stats = domain.TransportStats{BytesSent: 250000}
	m.tick(start.Add(time.Second))

	require.Len(t, got, 1)
	assert.InDelta(t, 2000.0, got[0].BandwidthKbps, 0.001)
}

func TestStopIsIdempotent(t *testing.T) {
	session := &fakeSession{}
	m, _ := newTestMonitor(t, session)

	ctx := context.Background()
	m.Start(ctx)
	m.Stop()
	m.Stop()
}
