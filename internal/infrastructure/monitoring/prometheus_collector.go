package monitoring

import (
	"telecare/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector exposes relay-level metrics. One instance per process;
// promauto registers on the default registry picked up by /metrics.
type PrometheusCollector struct {
	roomsActive         prometheus.Gauge
	participantsActive  prometheus.Gauge
	envelopesRelayed    *prometheus.CounterVec
	lowBandwidthAlerts  prometheus.Counter
	modeSwitches        *prometheus.CounterVec
	relayedBandwidth    prometheus.Histogram
	connectionDurations prometheus.Histogram
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		roomsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "telecare_rooms_active",
			Help: "Number of live consultation rooms",
		}),

		participantsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "telecare_participants_connected",
			Help: "Number of participants currently connected to the relay",
		}),

		envelopesRelayed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "telecare_envelopes_relayed_total",
			Help: "Signaling envelopes relayed, by kind",
		}, []string{"kind"}),

		lowBandwidthAlerts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "telecare_low_bandwidth_alerts_total",
			Help: "Low-bandwidth alerts synthesized by the relay",
		}),

		modeSwitches: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "telecare_mode_switches_total",
			Help: "Avatar mode activations and deactivations relayed",
		}, []string{"direction"}),

		relayedBandwidth: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "telecare_reported_bandwidth_kbps",
			Help:    "Bandwidth estimates reported by clients",
			Buckets: prometheus.ExponentialBuckets(125, 2, 10),
		}),

		connectionDurations: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "telecare_signal_connection_duration_seconds",
			Help:    "Lifetime of signaling connections",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
}

func (c *PrometheusCollector) SetRoomsActive(n int) {
	c.roomsActive.Set(float64(n))
}

func (c *PrometheusCollector) ParticipantConnected() {
	c.participantsActive.Inc()
}

func (c *PrometheusCollector) ParticipantDisconnected(durationSeconds float64) {
	c.participantsActive.Dec()
	c.connectionDurations.Observe(durationSeconds)
}

func (c *PrometheusCollector) EnvelopeRelayed(kind domain.EnvelopeKind) {
	c.envelopesRelayed.WithLabelValues(string(kind)).Inc()
}

func (c *PrometheusCollector) LowBandwidthAlert() {
	c.lowBandwidthAlerts.Inc()
}

func (c *PrometheusCollector) ModeSwitch(activated bool) {
	direction := "deactivate"
	if activated {
		direction = "activate"
	}
	c.modeSwitches.WithLabelValues(direction).Inc()
}

func (c *PrometheusCollector) BandwidthReported(kbps float64) {
	c.relayedBandwidth.Observe(kbps)
}
