package services

import (
	"context"
	"sync"
	"time"

	"telecare/internal/core/domain"
	"telecare/internal/core/ports"

	"go.uber.org/zap"
)

// member binds a participant to its live transport handle.
type member struct {
	participant domain.Participant
	conn        ports.ClientConn
}

// registryService is the in-memory room table. Membership is best effort:
// operations on rooms that no longer exist are no-ops, never errors.
type registryService struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]map[ports.ClientConn]*member

	presence ports.Presence
	logger   *zap.SugaredLogger
}

// NewRegistryService creates a room registry. presence may not be nil; use
// the memory presence implementation when no external mirror is wanted.
func NewRegistryService(presence ports.Presence, logger *zap.SugaredLogger) ports.Registry {
	return &registryService{
		rooms:    make(map[domain.RoomID]map[ports.ClientConn]*member),
		presence: presence,
		logger:   logger,
	}
}

func (r *registryService) Join(ctx context.Context, roomID domain.RoomID, userID domain.UserID, role domain.Role, conn ports.ClientConn) error {
	now := time.Now()

	r.mu.Lock()
	room, ok := r.rooms[roomID]
	if !ok {
		room = make(map[ports.ClientConn]*member)
		r.rooms[roomID] = room
		r.logger.Infow("room created", "room_id", roomID)
	}

	// Last write wins on reconnect: drop any earlier handle for this user id.
	for c, m := range room {
		if m.participant.UserID == userID && c != conn {
			delete(room, c)
			c.Close()
			r.logger.Infow("replaced stale handle for reconnecting user",
				"room_id", roomID, "user_id", userID)
		}
	}

	room[conn] = &member{
		participant: domain.Participant{UserID: userID, Role: role, JoinedAt: now},
		conn:        conn,
	}

	count := len(room)
	others := make([]*member, 0, count-1)
	infos := make([]domain.ParticipantInfo, 0, count)
	for c, m := range room {
		infos = append(infos, domain.ParticipantInfo{UserID: m.participant.UserID, UserType: m.participant.Role})
		if c != conn {
			others = append(others, m)
		}
	}
	r.mu.Unlock()

	if err := r.presence.Track(ctx, roomID, userID); err != nil {
		r.logger.Warnw("presence track failed", "room_id", roomID, "user_id", userID, "error", err)
	}

	joined := domain.MustEnvelope(domain.KindUserJoined, roomID, userID, domain.UserJoinedPayload{
		UserID:           userID,
		UserType:         role,
		ParticipantCount: count,
	})
	for _, m := range others {
		if err := m.conn.Send(joined); err != nil {
			r.logger.Warnw("failed to notify participant of join",
				"room_id", roomID, "user_id", m.participant.UserID, "error", err)
		}
	}

	// The joining handle receives the current participant list.
	roster := domain.MustEnvelope(domain.KindRoomParticipants, roomID, "", domain.RoomParticipantsPayload{
		Participants: infos,
	})
	if err := conn.Send(roster); err != nil {
		r.logger.Warnw("failed to send participant list", "room_id", roomID, "user_id", userID, "error", err)
	}

	r.logger.Infow("participant joined",
		"room_id", roomID, "user_id", userID, "role", role, "participants", count)
	return nil
}

func (r *registryService) Leave(ctx context.Context, conn ports.ClientConn) {
	r.mu.Lock()
	var (
		roomID  domain.RoomID
		left    *member
		remain  []*member
		count   int
		found   bool
		deleted bool
	)
	// IDs are not unique across reconnects, so the handle is the lookup key.
	for id, room := range r.rooms {
		if m, ok := room[conn]; ok {
			roomID = id
			left = m
			found = true
			delete(room, conn)
			count = len(room)
			if count == 0 {
				delete(r.rooms, id)
				deleted = true
			} else {
				for _, rm := range room {
					remain = append(remain, rm)
				}
			}
			break
		}
	}
	r.mu.Unlock()

	if !found {
		return // already removed, Leave is idempotent
	}

	if err := r.presence.Untrack(ctx, roomID, left.participant.UserID); err != nil {
		r.logger.Warnw("presence untrack failed",
			"room_id", roomID, "user_id", left.participant.UserID, "error", err)
	}

	leftEnv := domain.MustEnvelope(domain.KindUserLeft, roomID, left.participant.UserID, domain.UserLeftPayload{
		UserID:           left.participant.UserID,
		ParticipantCount: count,
	})
	for _, m := range remain {
		if err := m.conn.Send(leftEnv); err != nil {
			r.logger.Warnw("failed to notify participant of leave",
				"room_id", roomID, "user_id", m.participant.UserID, "error", err)
		}
	}

	if deleted {
		r.logger.Infow("room deleted", "room_id", roomID)
	}
	r.logger.Infow("participant left",
		"room_id", roomID, "user_id", left.participant.UserID, "participants", count)
}

func (r *registryService) Broadcast(roomID domain.RoomID, sender ports.ClientConn, env domain.Envelope) {
	r.send(roomID, env, func(c ports.ClientConn) bool { return c != sender })
}

func (r *registryService) BroadcastAll(roomID domain.RoomID, env domain.Envelope) {
	r.send(roomID, env, func(ports.ClientConn) bool { return true })
}

func (r *registryService) send(roomID domain.RoomID, env domain.Envelope, include func(ports.ClientConn) bool) {
	r.mu.RLock()
	room, ok := r.rooms[roomID]
	if !ok {
		r.mu.RUnlock()
		return
	}
	targets := make([]*member, 0, len(room))
	for c, m := range room {
		if include(c) {
			targets = append(targets, m)
		}
	}
	r.mu.RUnlock()

	for _, m := range targets {
		if err := m.conn.Send(env); err != nil {
			// One failed recipient must not block the rest.
			r.logger.Warnw("envelope delivery failed",
				"room_id", roomID, "user_id", m.participant.UserID,
				"kind", env.Kind, "error", err)
		}
	}
}

func (r *registryService) Participants(roomID domain.RoomID) []domain.ParticipantInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	infos := make([]domain.ParticipantInfo, 0, len(room))
	for _, m := range room {
		infos = append(infos, domain.ParticipantInfo{
			UserID:   m.participant.UserID,
			UserType: m.participant.Role,
		})
	}
	return infos
}

func (r *registryService) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
