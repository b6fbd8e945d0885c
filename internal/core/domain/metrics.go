package domain

import "time"

// Quality is the qualitative bucket derived from a throughput estimate.
type Quality string

const (
	QualityExcellent Quality = "excellent"
	QualityGood      Quality = "good"
	QualityFair      Quality = "fair"
	QualityPoor      Quality = "poor"
)

// BandwidthSample is one instantaneous estimate produced by the bandwidth
// monitor. Only the most recent sample is ever retained; consumers act on it
// immediately and discard it.
type BandwidthSample struct {
	Timestamp     time.Time
	BandwidthKbps float64
	RTT           time.Duration
	Quality       Quality
}

// TransportStats is a cumulative snapshot of the media transport, pulled once
// per monitor tick. Byte counters are monotonic since connection start.
type TransportStats struct {
	BytesSent     uint64
	BytesReceived uint64
	RTT           time.Duration
	PacketLoss    float64
}

// QualityThresholds maps throughput in kbps to a bucket.
type QualityThresholds struct {
	ExcellentKbps float64
	GoodKbps      float64
	FairKbps      float64
}

// DefaultQualityThresholds returns the production ladder.
func DefaultQualityThresholds() QualityThresholds {
	return QualityThresholds{
		ExcellentKbps: 2500,
		GoodKbps:      1500,
		FairKbps:      800,
	}
}

// Bucket classifies a throughput estimate.
func (t QualityThresholds) Bucket(kbps float64) Quality {
	switch {
	case kbps >= t.ExcellentKbps:
		return QualityExcellent
	case kbps >= t.GoodKbps:
		return QualityGood
	case kbps >= t.FairKbps:
		return QualityFair
	default:
		return QualityPoor
	}
}
