package rtc

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"telecare/internal/core/domain"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// SignalClient is the client half of the signaling channel: one persistent
// WebSocket to the relay, JSON envelopes both ways. It implements
// ports.EnvelopeSender for the negotiator, monitor and mode controller.
type SignalClient struct {
	conn   *websocket.Conn
	logger *zap.SugaredLogger

	writeMu      sync.Mutex
	writeTimeout time.Duration

	closeOnce sync.Once
}

// Dial connects to the relay. token, when non-empty, is presented as a
// bearer Authorization header for the upgrade request.
func Dial(ctx context.Context, url, token string, logger *zap.SugaredLogger) (*SignalClient, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to signaling relay: %w", err)
	}
	return &SignalClient{
		conn:         conn,
		logger:       logger,
		writeTimeout: 10 * time.Second,
	}, nil
}

// Send writes one envelope. Safe for concurrent use.
func (c *SignalClient) Send(env domain.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteJSON(env)
}

// Join announces this participant to the room.
func (c *SignalClient) Join(roomID domain.RoomID, userID domain.UserID, role domain.Role) error {
	env, err := domain.NewEnvelope(domain.KindJoinRoom, roomID, userID, domain.JoinRoomPayload{UserType: role})
	if err != nil {
		return err
	}
	return c.Send(env)
}

// Listen reads envelopes until the socket drops or ctx is cancelled, passing
// each to handler. It returns the terminating error; a server-initiated
// normal close returns nil.
func (c *SignalClient) Listen(ctx context.Context, handler func(domain.Envelope)) error {
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-done:
		}
	}()

	for {
		var env domain.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		handler(env)
	}
}

func (c *SignalClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}
