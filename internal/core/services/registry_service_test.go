package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"telecare/internal/core/domain"
	"telecare/internal/infrastructure/presence"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeConn records every envelope delivered to it.
type fakeConn struct {
	mu       sync.Mutex
	received []domain.Envelope
	closed   bool
	sendErr  error
}

func (c *fakeConn) Send(env domain.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.received = append(c.received, env)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) envelopes() []domain.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Envelope, len(c.received))
	copy(out, c.received)
	return out
}

func (c *fakeConn) kinds() []domain.EnvelopeKind {
	var kinds []domain.EnvelopeKind
	for _, env := range c.envelopes() {
		kinds = append(kinds, env.Kind)
	}
	return kinds
}

func newTestRegistry(t *testing.T) *registryService {
	t.Helper()
	reg := NewRegistryService(presence.NewMemoryPresence(), zaptest.NewLogger(t).Sugar())
	return reg.(*registryService)
}

func TestRegistryJoinCreatesRoomAndNotifies(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	doctor := &fakeConn{}
	require.NoError(t, reg.Join(ctx, "room_1", "doc", domain.RoleDoctor, doctor))
	assert.Equal(t, 1, reg.RoomCount())

	// The joiner receives the roster, nobody else exists yet.
	require.Len(t, doctor.envelopes(), 1)
	assert.Equal(t, domain.KindRoomParticipants, doctor.envelopes()[0].Kind)

	patient := &fakeConn{}
	require.NoError(t, reg.Join(ctx, "room_1", "pat", domain.RolePatient, patient))

	// The earlier participant is told about the new arrival.
	assert.Contains(t, doctor.kinds(), domain.KindUserJoined)

	participants := reg.Participants("room_1")
	require.Len(t, participants, 2)
}

func TestRegistryJoinReplacesStaleHandle(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	first := &fakeConn{}
	second := &fakeConn{}
	require.NoError(t, reg.Join(ctx, "room_1", "doc", domain.RoleDoctor, first))
	require.NoError(t, reg.Join(ctx, "room_1", "doc", domain.RoleDoctor, second))

	assert.True(t, first.closed, "stale handle should be closed")
	require.Len(t, reg.Participants("room_1"), 1)

	// Broadcasts reach only the fresh handle.
	env := domain.MustEnvelope(domain.KindChatMessage, "room_1", "doc", domain.ChatMessagePayload{Text: "hi"})
	reg.BroadcastAll("room_1", env)
	assert.NotContains(t, first.kinds(), domain.KindChatMessage)
	assert.Contains(t, second.kinds(), domain.KindChatMessage)
}

func TestRegistryBroadcastExcludesSender(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	doctor := &fakeConn{}
	patient := &fakeConn{}
	require.NoError(t, reg.Join(ctx, "room_1", "doc", domain.RoleDoctor, doctor))
	require.NoError(t, reg.Join(ctx, "room_1", "pat", domain.RolePatient, patient))

	env := domain.MustEnvelope(domain.KindOffer, "room_1", "doc", domain.SessionDescriptionPayload{Type: "offer", SDP: "v=0\n"})
	reg.Broadcast("room_1", doctor, env)

	assert.NotContains(t, doctor.kinds(), domain.KindOffer)
	assert.Contains(t, patient.kinds(), domain.KindOffer)
}

func TestRegistryBroadcastIsolatesFailures(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	broken := &fakeConn{sendErr: errors.New("write: broken pipe")}
	healthy := &fakeConn{}
	require.NoError(t, reg.Join(ctx, "room_1", "doc", domain.RoleDoctor, broken))
	require.NoError(t, reg.Join(ctx, "room_1", "pat", domain.RolePatient, healthy))

	env := domain.MustEnvelope(domain.KindChatMessage, "room_1", "doc", domain.ChatMessagePayload{Text: "hello"})
	reg.BroadcastAll("room_1", env)

	assert.Contains(t, healthy.kinds(), domain.KindChatMessage)
}

func TestRegistryLeaveNotifiesAndDeletesEmptyRoom(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	doctor := &fakeConn{}
	patient := &fakeConn{}
	require.NoError(t, reg.Join(ctx, "room_1", "doc", domain.RoleDoctor, doctor))
	require.NoError(t, reg.Join(ctx, "room_1", "pat", domain.RolePatient, patient))

	reg.Leave(ctx, doctor)
	assert.Contains(t, patient.kinds(), domain.KindUserLeft)
	assert.Equal(t, 1, reg.RoomCount())

	reg.Leave(ctx, patient)
	assert.Equal(t, 0, reg.RoomCount())
	assert.Nil(t, reg.Participants("room_1"))

	// Leave is idempotent for unknown handles.
	reg.Leave(ctx, doctor)
	assert.Equal(t, 0, reg.RoomCount())
}

func TestRegistryUnknownRoomOperationsAreNoops(t *testing.T) {
	reg := newTestRegistry(t)

	env := domain.MustEnvelope(domain.KindChatMessage, "ghost", "doc", domain.ChatMessagePayload{Text: "?"})
	reg.Broadcast("ghost", &fakeConn{}, env)
	reg.BroadcastAll("ghost", env)
	assert.Nil(t, reg.Participants("ghost"))
}
