package rtc

import (
	"context"
	"sync"
	"time"

	"telecare/internal/core/domain"
	"telecare/internal/core/ports"

	"go.uber.org/zap"
)

// MonitorConfig tunes the sampling loop.
type MonitorConfig struct {
	RoomID domain.RoomID
	UserID domain.UserID

	Interval   time.Duration
	Thresholds domain.QualityThresholds
}

// BandwidthMonitor periodically pulls transport statistics from the live
// session and derives a throughput estimate. Samples go to the registered
// consumer (the mode controller) and out over the relay as bandwidth-update
// envelopes; only the most recent one is retained.
type BandwidthMonitor struct {
	cfg     MonitorConfig
	session ports.MediaSession
	sender  ports.EnvelopeSender
	logger  *zap.SugaredLogger

	mu       sync.Mutex
	onSample func(domain.BandwidthSample)
	last     *domain.BandwidthSample
	baseline struct {
		total uint64
		at    time.Time
		valid bool
	}

	cancel   context.CancelFunc
	stopOnce sync.Once
}

func NewBandwidthMonitor(cfg MonitorConfig, session ports.MediaSession, sender ports.EnvelopeSender, logger *zap.SugaredLogger) *BandwidthMonitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.Thresholds == (domain.QualityThresholds{}) {
		cfg.Thresholds = domain.DefaultQualityThresholds()
	}
	return &BandwidthMonitor{
		cfg:     cfg,
		session: session,
		sender:  sender,
		logger:  logger,
	}
}

// OnSample registers the sample consumer. Must be set before Start.
func (m *BandwidthMonitor) OnSample(fn func(domain.BandwidthSample)) {
	m.mu.Lock()
	m.onSample = fn
	m.mu.Unlock()
}

// Start launches the sampling loop. The loop stops when ctx is cancelled or
// Stop is called.
func (m *BandwidthMonitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	go m.run(ctx)
}

// Stop cancels the sampling loop. Safe to call more than once; teardown must
// not leave a dangling timer referencing a closed connection.
func (m *BandwidthMonitor) Stop() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		cancel := m.cancel
		m.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	})
}

// Last returns the most recent sample, or false before the first emission.
func (m *BandwidthMonitor) Last() (domain.BandwidthSample, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return domain.BandwidthSample{}, false
	}
	return *m.last, true
}

func (m *BandwidthMonitor) run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(time.Now())
		}
	}
}

// tick takes one measurement. A stats failure (connection closing underneath
// the timer) skips the tick; monitoring itself never aborts on it.
func (m *BandwidthMonitor) tick(now time.Time) {
	stats, err := m.session.Stats()
	if err != nil {
		m.logger.Debugw("skipping bandwidth tick", "error", err)
		return
	}

	total := stats.BytesSent + stats.BytesReceived

	m.mu.Lock()
	if !m.baseline.valid {
		// First tick after establishment has no prior sample to delta
		// against; record the baseline and emit nothing.
		m.baseline.total = total
		m.baseline.at = now
		m.baseline.valid = true
		m.mu.Unlock()
		return
	}

	elapsed := now.Sub(m.baseline.at)
	if elapsed <= 0 {
		m.mu.Unlock()
		return
	}

	var delta uint64
	if total >= m.baseline.total {
		delta = total - m.baseline.total
	}
	m.baseline.total = total
	m.baseline.at = now
	m.mu.Unlock()

	kbps := float64(delta) * 8 / elapsed.Seconds() / 1000

	sample := domain.BandwidthSample{
		Timestamp:     now,
		BandwidthKbps: kbps,
		RTT:           stats.RTT,
		Quality:       m.cfg.Thresholds.Bucket(kbps),
	}

	m.mu.Lock()
	m.last = &sample
	consumer := m.onSample
	m.mu.Unlock()

	if consumer != nil {
		consumer(sample)
	}

	env, err := domain.NewEnvelope(domain.KindBandwidthUpdate, m.cfg.RoomID, m.cfg.UserID, domain.BandwidthUpdatePayload{
		BandwidthKbps: sample.BandwidthKbps,
		RTTMillis:     float64(sample.RTT.Microseconds()) / 1000,
		Quality:       sample.Quality,
		Timestamp:     now.UnixMilli(),
	})
	if err != nil {
		m.logger.Warnw("failed to build bandwidth envelope", "error", err)
		return
	}
	if err := m.sender.Send(env); err != nil {
		m.logger.Debugw("failed to report bandwidth", "error", err)
	}
}
