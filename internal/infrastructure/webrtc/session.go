package webrtc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"telecare/internal/core/domain"
	"telecare/internal/core/ports"
	"telecare/pkg/config"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Config holds peer connection construction options.
type Config struct {
	ICEServers []webrtc.ICEServer
}

// DefaultConfig falls back to Google STUN when no ICE servers are configured.
func DefaultConfig() Config {
	return Config{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302", "stun:stun1.l.google.com:19302"}},
		},
	}
}

// ConfigFrom maps the application's ICE server list into a session config.
func ConfigFrom(cfg *config.Config) Config {
	servers := make([]webrtc.ICEServer, 0, len(cfg.WebRTC.ICEServers))
	for _, s := range cfg.WebRTC.ICEServers {
		servers = append(servers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return Config{ICEServers: servers}
}

// Session is the pion-backed media session behind the negotiator. It owns one
// PeerConnection, tracks transport statistics from three sources (GetStats,
// RTCP receiver reports read off the RTP senders, and raw RTP byte counting
// on remote tracks) and exposes them as one snapshot.
type Session struct {
	pc     *webrtc.PeerConnection
	logger *zap.SugaredLogger

	mu            sync.Mutex
	rtpBytesIn    uint64
	rtcpRTT       time.Duration
	rtcpLoss      float64
	closed        bool
	stateCallback func(domain.CallState)
}

func NewSession(cfg Config, logger *zap.SugaredLogger) (*Session, error) {
	if len(cfg.ICEServers) == 0 {
		cfg = DefaultConfig()
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers:   cfg.ICEServers,
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlanWithFallback,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	s := &Session{pc: pc, logger: logger}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.logger.Infow("peer connection state changed", "state", state.String())
		s.mu.Lock()
		fn := s.stateCallback
		s.mu.Unlock()
		if fn != nil {
			fn(mapConnectionState(state))
		}
	})

	pc.OnTrack(s.handleRemoteTrack)

	return s, nil
}

func mapConnectionState(state webrtc.PeerConnectionState) domain.CallState {
	switch state {
	case webrtc.PeerConnectionStateNew:
		return domain.CallStateNew
	case webrtc.PeerConnectionStateConnecting:
		return domain.CallStateConnecting
	case webrtc.PeerConnectionStateConnected:
		return domain.CallStateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return domain.CallStateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return domain.CallStateFailed
	default:
		return domain.CallStateClosed
	}
}

func (s *Session) CreateOffer(ctx context.Context) (domain.SessionDescriptionPayload, error) {
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return domain.SessionDescriptionPayload{}, fmt.Errorf("create offer: %w", err)
	}
	return domain.SessionDescriptionPayload{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

func (s *Session) CreateAnswer(ctx context.Context) (domain.SessionDescriptionPayload, error) {
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescriptionPayload{}, fmt.Errorf("create answer: %w", err)
	}
	return domain.SessionDescriptionPayload{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

func (s *Session) SetLocalDescription(desc domain.SessionDescriptionPayload) error {
	return s.pc.SetLocalDescription(webrtc.SessionDescription{
		Type: webrtc.NewSDPType(desc.Type),
		SDP:  desc.SDP,
	})
}

func (s *Session) SetRemoteDescription(desc domain.SessionDescriptionPayload) error {
	return s.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.NewSDPType(desc.Type),
		SDP:  desc.SDP,
	})
}

func (s *Session) RemoteDescriptionSet() bool {
	return s.pc.RemoteDescription() != nil
}

func (s *Session) AddICECandidate(cand domain.ICECandidatePayload) error {
	return s.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     cand.Candidate,
		SDPMid:        cand.SDPMid,
		SDPMLineIndex: cand.SDPMLineIndex,
	})
}

// trackProvider is satisfied by the pion-backed local stream; AttachStream
// needs the raw pion tracks that the transport-agnostic port hides.
type trackProvider interface {
	Tracks() []webrtc.TrackLocal
}

func (s *Session) AttachStream(stream ports.LocalStream) error {
	provider, ok := stream.(trackProvider)
	if !ok {
		return fmt.Errorf("stream does not expose pion tracks")
	}

	for _, track := range provider.Tracks() {
		sender, err := s.pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("add track %s: %w", track.ID(), err)
		}
		go s.readSenderRTCP(sender)
	}
	return nil
}

func (s *Session) OnICECandidate(fn func(domain.ICECandidatePayload)) {
	s.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			// End of gathering; nothing to trickle.
			return
		}
		init := c.ToJSON()
		fn(domain.ICECandidatePayload{
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		})
	})
}

func (s *Session) OnStateChange(fn func(domain.CallState)) {
	s.mu.Lock()
	s.stateCallback = fn
	s.mu.Unlock()
}

// readSenderRTCP drains receiver reports coming back for the tracks we send;
// they carry RTT and fraction-lost from the remote's perspective.
func (s *Session) readSenderRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		n, _, err := sender.Read(buf)
		if err != nil {
			return // sender closed with the connection
		}

		packets, err := rtcp.Unmarshal(buf[:n])
		if err != nil {
			s.logger.Debugw("error unmarshaling rtcp", "error", err)
			continue
		}

		for _, packet := range packets {
			rr, ok := packet.(*rtcp.ReceiverReport)
			if !ok {
				continue
			}
			for _, report := range rr.Reports {
				loss := float64(report.FractionLost) / 255.0
				var rtt time.Duration
				if report.LastSenderReport != 0 && report.Delay != 0 {
					rtt = time.Duration(report.Delay) * time.Second / 65536
				}
				s.mu.Lock()
				s.rtcpLoss = loss
				if rtt > 0 {
					s.rtcpRTT = rtt
				}
				s.mu.Unlock()
			}
		}
	}
}

// handleRemoteTrack counts received media bytes; GetStats inbound counters
// lag behind the interceptor pipeline, so the raw RTP reader is the source of
// truth for the monitor's throughput delta.
func (s *Session) handleRemoteTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	s.logger.Infow("remote track started",
		"track_id", track.ID(), "codec", track.Codec().MimeType)

	buf := make([]byte, 1500)
	pkt := &rtp.Packet{}
	for {
		n, _, err := track.Read(buf)
		if err != nil {
			return
		}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			s.logger.Debugw("error unmarshaling rtp packet", "track_id", track.ID(), "error", err)
			continue
		}
		s.mu.Lock()
		s.rtpBytesIn += uint64(n)
		s.mu.Unlock()
	}
}

func (s *Session) Stats() (domain.TransportStats, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.TransportStats{}, domain.ErrCallClosed
	}
	stats := domain.TransportStats{
		BytesReceived: s.rtpBytesIn,
		RTT:           s.rtcpRTT,
		PacketLoss:    s.rtcpLoss,
	}
	s.mu.Unlock()

	report := s.pc.GetStats()
	for _, stat := range report {
		switch v := stat.(type) {
		case webrtc.TransportStats:
			stats.BytesSent += v.BytesSent
			if v.BytesReceived > stats.BytesReceived {
				stats.BytesReceived = v.BytesReceived
			}
		case webrtc.ICECandidatePairStats:
			if v.State == webrtc.StatsICECandidatePairStateSucceeded && v.CurrentRoundTripTime > 0 {
				stats.RTT = time.Duration(v.CurrentRoundTripTime * float64(time.Second))
			}
		}
	}
	return stats, nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.pc.Close()
}
