package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"telecare/internal/core/domain"
	"telecare/internal/core/ports"
	"telecare/internal/infrastructure/monitoring"
	"telecare/pkg/validation"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // origin policy is enforced by the auth middleware
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Config holds the relay's transport and policy knobs.
type Config struct {
	PingInterval    time.Duration
	PongTimeout     time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxMessageBytes int64

	// LowThresholdKbps is the relay-side alert threshold. Reported bandwidth
	// below it makes the relay synthesize a low-bandwidth-alert for the room.
	LowThresholdKbps float64

	RateLimitEnabled  bool
	MessagesPerSecond float64
	MessageBurst      int
}

// Server terminates one WebSocket per client and routes envelopes between
// room members. It never interprets media content; delivery is at-most-once
// and unordered across sockets.
type Server struct {
	registry  ports.Registry
	collector *monitoring.PrometheusCollector
	cfg       Config
	logger    *zap.SugaredLogger
}

func NewServer(registry ports.Registry, collector *monitoring.PrometheusCollector, cfg Config, logger *zap.SugaredLogger) *Server {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 60 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.LowThresholdKbps <= 0 {
		cfg.LowThresholdKbps = 1000
	}
	return &Server{
		registry:  registry,
		collector: collector,
		cfg:       cfg,
		logger:    logger,
	}
}

// clientConn wraps one websocket with serialized writes; gorilla permits a
// single concurrent writer and broadcasts arrive from other connections'
// loops.
type clientConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool

	// userID is set once the client joins; for logging only.
	userID domain.UserID
}

func (c *clientConn) Send(env domain.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("connection closed")
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteJSON(env)
}

func (c *clientConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// HandleWebSocket upgrades the request and runs the connection's event loop
// until the socket drops. Each inbound envelope is handled as one unit of
// work; outbound fan-out is fire-and-forget.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}

	client := &clientConn{conn: conn, writeTimeout: s.cfg.WriteTimeout}
	connectedAt := time.Now()
	s.collector.ParticipantConnected()

	if s.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(s.cfg.MaxMessageBytes)
	}
	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	var limiter *rate.Limiter
	if s.cfg.RateLimitEnabled {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.MessagesPerSecond), s.cfg.MessageBurst)
	}

	pingTicker := time.NewTicker(s.cfg.PingInterval)
	defer pingTicker.Stop()

	// done keeps the reader from outliving the event loop: the loop can exit
	// on a ping failure while the reader holds an undelivered envelope, and
	// without the signal that send would block forever.
	done := make(chan struct{})
	defer close(done)
	envelopeChan, errorChan := s.readPump(conn, done)

	for {
		select {
		case env, ok := <-envelopeChan:
			if !ok {
				select {
				case err := <-errorChan:
					if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
						s.logger.Infow("error reading envelope", "user_id", client.userID, "error", err)
					}
				default:
				}
				goto cleanup
			}
			if limiter != nil && !limiter.Allow() {
				s.sendError(client, "message rate limit exceeded")
				continue
			}
			if err := s.handleEnvelope(r.Context(), client, env); err != nil {
				s.logger.Infow("error handling envelope",
					"kind", env.Kind, "room_id", env.RoomID,
					"sender_id", env.SenderID, "error", err)
				s.sendError(client, err.Error())
			}

		case <-pingTicker.C:
			client.mu.Lock()
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			client.mu.Unlock()
			if err != nil {
				s.logger.Infow("error sending ping", "user_id", client.userID, "error", err)
				goto cleanup
			}
		}
	}

cleanup:
	// A dropped socket never crashes the relay: clean up membership and let
	// the registry notify whoever remains.
	s.registry.Leave(context.Background(), client)
	client.Close()
	s.collector.ParticipantDisconnected(time.Since(connectedAt).Seconds())
	s.collector.SetRoomsActive(s.registry.RoomCount())
	s.logger.Infow("client disconnected", "user_id", client.userID)
}

// readPump decodes envelopes off the socket into a channel the event loop
// consumes. The envelope channel is closed when the pump exits, which happens
// on a read error (reported through the error channel) or when done closes.
func (s *Server) readPump(conn *websocket.Conn, done <-chan struct{}) (<-chan domain.Envelope, <-chan error) {
	envelopes := make(chan domain.Envelope, 10)
	errs := make(chan error, 1)

	go func() {
		defer close(envelopes)
		for {
			var env domain.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				errs <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
			select {
			case envelopes <- env:
			case <-done:
				return
			}
		}
	}()
	return envelopes, errs
}

// handleEnvelope routes one client envelope. The switch is exhaustive over
// the client-originated members of the envelope union; server-originated
// kinds arriving from a client are rejected.
func (s *Server) handleEnvelope(ctx context.Context, client *clientConn, env domain.Envelope) error {
	if env.Kind == "" {
		return fmt.Errorf("envelope kind is required")
	}
	if err := validation.ValidateRoomID(string(env.RoomID)); err != nil {
		return err
	}

	s.collector.EnvelopeRelayed(env.Kind)

	switch env.Kind {
	case domain.KindJoinRoom:
		return s.handleJoin(ctx, client, env)
	case domain.KindOffer, domain.KindAnswer:
		return s.handleDescription(client, env)
	case domain.KindICECandidate:
		return s.handleICECandidate(client, env)
	case domain.KindChatMessage:
		return s.handleChat(client, env)
	case domain.KindBandwidthUpdate:
		return s.handleBandwidthUpdate(client, env)
	case domain.KindActivateAvatar:
		s.collector.ModeSwitch(true)
		s.registry.Broadcast(env.RoomID, client, env)
		return nil
	case domain.KindDeactivateAvatar:
		s.collector.ModeSwitch(false)
		s.registry.Broadcast(env.RoomID, client, env)
		return nil
	case domain.KindRoomParticipants, domain.KindUserJoined, domain.KindUserLeft,
		domain.KindLowBandwidth, domain.KindError:
		return fmt.Errorf("kind %s is server-originated", env.Kind)
	default:
		return fmt.Errorf("unknown envelope kind: %s", env.Kind)
	}
}

func (s *Server) handleJoin(ctx context.Context, client *clientConn, env domain.Envelope) error {
	var payload domain.JoinRoomPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return fmt.Errorf("invalid join-room payload: %w", err)
	}
	if err := validation.ValidateUserID(string(env.SenderID)); err != nil {
		return err
	}
	if payload.UserType != domain.RoleDoctor && payload.UserType != domain.RolePatient {
		return fmt.Errorf("unknown user type: %s", payload.UserType)
	}

	client.userID = env.SenderID
	if err := s.registry.Join(ctx, env.RoomID, env.SenderID, payload.UserType, client); err != nil {
		return err
	}
	s.collector.SetRoomsActive(s.registry.RoomCount())

	s.logger.Infow("join routed",
		"room_id", env.RoomID, "user_id", env.SenderID, "user_type", payload.UserType)
	return nil
}

func (s *Server) handleDescription(client *clientConn, env domain.Envelope) error {
	var payload domain.SessionDescriptionPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return fmt.Errorf("invalid %s payload: %w", env.Kind, err)
	}
	if err := validation.ValidateSDP(payload.SDP); err != nil {
		return fmt.Errorf("invalid sdp in %s: %w", env.Kind, err)
	}

	s.logger.Infow("routing description",
		"kind", env.Kind, "room_id", env.RoomID,
		"sender_id", env.SenderID, "sdp_length", len(payload.SDP))

	s.registry.Broadcast(env.RoomID, client, env)
	return nil
}

func (s *Server) handleICECandidate(client *clientConn, env domain.Envelope) error {
	var payload domain.ICECandidatePayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return fmt.Errorf("invalid ice-candidate payload: %w", err)
	}
	if payload.Candidate == "" {
		return fmt.Errorf("ice candidate is required")
	}

	s.logger.Debugw("routing ice candidate", "room_id", env.RoomID, "sender_id", env.SenderID)
	s.registry.Broadcast(env.RoomID, client, env)
	return nil
}

// handleChat echoes chat to the whole room, sender included, stamping the
// server-side timestamp so both clients render one timeline.
func (s *Server) handleChat(client *clientConn, env domain.Envelope) error {
	var payload domain.ChatMessagePayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return fmt.Errorf("invalid chat-message payload: %w", err)
	}
	if err := validation.ValidateChatText(payload.Text); err != nil {
		return err
	}

	payload.Timestamp = time.Now().UnixMilli()
	stamped, err := domain.NewEnvelope(domain.KindChatMessage, env.RoomID, env.SenderID, payload)
	if err != nil {
		return err
	}

	s.registry.BroadcastAll(env.RoomID, stamped)
	return nil
}

func (s *Server) handleBandwidthUpdate(client *clientConn, env domain.Envelope) error {
	var payload domain.BandwidthUpdatePayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return fmt.Errorf("invalid bandwidth-update payload: %w", err)
	}
	if payload.BandwidthKbps < 0 {
		return fmt.Errorf("bandwidth must be >= 0")
	}

	s.collector.BandwidthReported(payload.BandwidthKbps)
	s.registry.Broadcast(env.RoomID, client, env)

	// Threshold check: the relay recommends the avatar fallback to the whole
	// room, reporter included, so both sides can switch together.
	if payload.BandwidthKbps < s.cfg.LowThresholdKbps {
		alert := domain.MustEnvelope(domain.KindLowBandwidth, env.RoomID, "", domain.LowBandwidthPayload{
			UserID:         env.SenderID,
			BandwidthKbps:  payload.BandwidthKbps,
			Recommendation: domain.RecommendationSwitchToAvatar,
		})
		s.registry.BroadcastAll(env.RoomID, alert)
		s.collector.LowBandwidthAlert()

		s.logger.Infow("low bandwidth alert",
			"room_id", env.RoomID, "user_id", env.SenderID,
			"bandwidth_kbps", payload.BandwidthKbps,
			"threshold_kbps", s.cfg.LowThresholdKbps)
	}
	return nil
}

func (s *Server) sendError(client *clientConn, message string) {
	env := domain.MustEnvelope(domain.KindError, "", "", domain.ErrorPayload{Message: message})
	if err := client.Send(env); err != nil {
		s.logger.Debugw("failed to send error envelope", "error", err)
	}
}

// HealthCheck reports relay liveness and the current room count.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"rooms":     s.registry.RoomCount(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}
