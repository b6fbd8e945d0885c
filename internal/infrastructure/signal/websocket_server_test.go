package signal

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"telecare/internal/core/domain"
	"telecare/internal/core/services"
	"telecare/internal/infrastructure/monitoring"
	"telecare/internal/infrastructure/presence"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testSDP = "v=0\r\no=- 4611731400430051336 2 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"

func unmarshalPayload(env domain.Envelope, out interface{}) error {
	return json.Unmarshal(env.Payload, out)
}

// promauto registers on the process-wide default registry, so the collector
// is shared across tests.
var (
	collectorOnce sync.Once
	testCollector *monitoring.PrometheusCollector
)

func sharedCollector() *monitoring.PrometheusCollector {
	collectorOnce.Do(func() {
		testCollector = monitoring.NewPrometheusCollector()
	})
	return testCollector
}

func newTestRelay(t *testing.T) *httptest.Server {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	registry := services.NewRegistryService(presence.NewMemoryPresence(), logger)
	server := NewServer(registry, sharedCollector(), Config{
		PingInterval:     50 * time.Millisecond,
		PongTimeout:      200 * time.Millisecond,
		ReadTimeout:      2 * time.Second,
		WriteTimeout:     time.Second,
		LowThresholdKbps: 1000,
	}, logger)

	ts := httptest.NewServer(http.HandlerFunc(server.HandleWebSocket))
	t.Cleanup(ts.Close)
	return ts
}

func dialRelay(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendEnvelope(t *testing.T, conn *websocket.Conn, env domain.Envelope) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(env))
}

func readEnvelope(t *testing.T, conn *websocket.Conn) domain.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env domain.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

// readUntil skips envelopes until one of the wanted kind arrives.
func readUntil(t *testing.T, conn *websocket.Conn, kind domain.EnvelopeKind) domain.Envelope {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		env := readEnvelope(t, conn)
		if env.Kind == kind {
			return env
		}
	}
	t.Fatalf("no %s envelope received", kind)
	return domain.Envelope{}
}

func joinRoom(t *testing.T, conn *websocket.Conn, roomID domain.RoomID, userID domain.UserID, role domain.Role) {
	t.Helper()
	sendEnvelope(t, conn, domain.MustEnvelope(domain.KindJoinRoom, roomID, userID, domain.JoinRoomPayload{UserType: role}))
	roster := readUntil(t, conn, domain.KindRoomParticipants)
	assert.Equal(t, roomID, roster.RoomID)
}

func TestRelayRoutesOfferToPeerOnly(t *testing.T) {
	ts := newTestRelay(t)
	doctor := dialRelay(t, ts)
	patient := dialRelay(t, ts)

	joinRoom(t, doctor, "room_1", "doc", domain.RoleDoctor)
	joinRoom(t, patient, "room_1", "pat", domain.RolePatient)

	sendEnvelope(t, doctor, domain.MustEnvelope(domain.KindOffer, "room_1", "doc",
		domain.SessionDescriptionPayload{Type: "offer", SDP: testSDP}))

	env := readUntil(t, patient, domain.KindOffer)
	assert.Equal(t, domain.UserID("doc"), env.SenderID)

	// The sender must not receive its own offer back.
	doctor.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var echo domain.Envelope
	for doctor.ReadJSON(&echo) == nil {
		assert.NotEqual(t, domain.KindOffer, echo.Kind)
		doctor.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	}
}

func TestRelayRejectsUnknownKind(t *testing.T) {
	ts := newTestRelay(t)
	conn := dialRelay(t, ts)
	joinRoom(t, conn, "room_1", "doc", domain.RoleDoctor)

	sendEnvelope(t, conn, domain.Envelope{Kind: "subscribe-stream", RoomID: "room_1", SenderID: "doc"})
	env := readUntil(t, conn, domain.KindError)
	assert.NotEmpty(t, env.Payload)
}

func TestRelayRejectsServerOriginatedKinds(t *testing.T) {
	ts := newTestRelay(t)
	conn := dialRelay(t, ts)
	joinRoom(t, conn, "room_1", "doc", domain.RoleDoctor)

	sendEnvelope(t, conn, domain.MustEnvelope(domain.KindUserJoined, "room_1", "doc",
		domain.UserJoinedPayload{UserID: "intruder"}))
	readUntil(t, conn, domain.KindError)
}

func TestRelayStampsAndEchoesChat(t *testing.T) {
	ts := newTestRelay(t)
	doctor := dialRelay(t, ts)
	patient := dialRelay(t, ts)

	joinRoom(t, doctor, "room_1", "doc", domain.RoleDoctor)
	joinRoom(t, patient, "room_1", "pat", domain.RolePatient)

	sendEnvelope(t, doctor, domain.MustEnvelope(domain.KindChatMessage, "room_1", "doc",
		domain.ChatMessagePayload{Text: "please describe your symptoms"}))

	for _, conn := range []*websocket.Conn{doctor, patient} {
		env := readUntil(t, conn, domain.KindChatMessage)
		var payload domain.ChatMessagePayload
		require.NoError(t, unmarshalPayload(env, &payload))
		assert.Equal(t, "please describe your symptoms", payload.Text)
		assert.Greater(t, payload.Timestamp, int64(0), "relay must stamp the timestamp")
	}
}

func TestRelaySynthesizesLowBandwidthAlert(t *testing.T) {
	ts := newTestRelay(t)
	doctor := dialRelay(t, ts)
	patient := dialRelay(t, ts)

	joinRoom(t, doctor, "room_1", "doc", domain.RoleDoctor)
	joinRoom(t, patient, "room_1", "pat", domain.RolePatient)

	sendEnvelope(t, patient, domain.MustEnvelope(domain.KindBandwidthUpdate, "room_1", "pat",
		domain.BandwidthUpdatePayload{BandwidthKbps: 750, Quality: domain.QualityPoor}))

	// Both sides receive the alert so they can switch modes together.
	for _, conn := range []*websocket.Conn{doctor, patient} {
		env := readUntil(t, conn, domain.KindLowBandwidth)
		var payload domain.LowBandwidthPayload
		require.NoError(t, unmarshalPayload(env, &payload))
		assert.Equal(t, domain.UserID("pat"), payload.UserID)
		assert.Equal(t, 750.0, payload.BandwidthKbps)
		assert.Equal(t, domain.RecommendationSwitchToAvatar, payload.Recommendation)
	}
}

func TestRelayNoAlertAboveThreshold(t *testing.T) {
	ts := newTestRelay(t)
	doctor := dialRelay(t, ts)
	patient := dialRelay(t, ts)

	joinRoom(t, doctor, "room_1", "doc", domain.RoleDoctor)
	joinRoom(t, patient, "room_1", "pat", domain.RolePatient)

	sendEnvelope(t, patient, domain.MustEnvelope(domain.KindBandwidthUpdate, "room_1", "pat",
		domain.BandwidthUpdatePayload{BandwidthKbps: 1800, Quality: domain.QualityGood}))

	env := readUntil(t, doctor, domain.KindBandwidthUpdate)
	assert.Equal(t, domain.UserID("pat"), env.SenderID)

	patient.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var extra domain.Envelope
	for patient.ReadJSON(&extra) == nil {
		assert.NotEqual(t, domain.KindLowBandwidth, extra.Kind)
		patient.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	}
}

// A pending envelope send must not keep the reader alive once the event loop
// is gone, e.g. after the loop exits through a ping failure.
func TestReadPumpStopsWithEventLoop(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	registry := services.NewRegistryService(presence.NewMemoryPresence(), logger)
	server := NewServer(registry, sharedCollector(), Config{ReadTimeout: 5 * time.Second}, logger)

	serverSide := make(chan *websocket.Conn, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		serverSide <- conn
	}))
	t.Cleanup(ts.Close)

	client := dialRelay(t, ts)
	conn := <-serverSide
	t.Cleanup(func() { conn.Close() })

	done := make(chan struct{})
	envelopes, _ := server.readPump(conn, done)

	// More envelopes than the pump buffers, with nobody consuming, so the
	// pump ends up blocked mid-send.
	for i := 0; i < 32; i++ {
		sendEnvelope(t, client, domain.Envelope{Kind: domain.KindChatMessage, RoomID: "room_1", SenderID: "doc"})
	}

	close(done)

	assert.Eventually(t, func() bool {
		for {
			select {
			case _, ok := <-envelopes:
				if !ok {
					return true
				}
			default:
				return false
			}
		}
	}, 2*time.Second, 10*time.Millisecond, "pump must drain and close after done")
}

func TestRelayNotifiesLeaveOnDisconnect(t *testing.T) {
	ts := newTestRelay(t)
	doctor := dialRelay(t, ts)
	patient := dialRelay(t, ts)

	joinRoom(t, doctor, "room_1", "doc", domain.RoleDoctor)
	joinRoom(t, patient, "room_1", "pat", domain.RolePatient)
	readUntil(t, doctor, domain.KindUserJoined)

	patient.Close()

	env := readUntil(t, doctor, domain.KindUserLeft)
	var payload domain.UserLeftPayload
	require.NoError(t, unmarshalPayload(env, &payload))
	assert.Equal(t, domain.UserID("pat"), payload.UserID)
	assert.Equal(t, 1, payload.ParticipantCount)
}
