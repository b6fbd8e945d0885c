package presence

import (
	"context"
	"sync"

	"telecare/internal/core/domain"
	"telecare/internal/core/ports"
)

// memoryPresence keeps the membership mirror in-process. It exists so the
// registry can depend on a non-nil Presence when Redis is disabled.
type memoryPresence struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]map[domain.UserID]struct{}
}

func NewMemoryPresence() ports.Presence {
	return &memoryPresence{
		rooms: make(map[domain.RoomID]map[domain.UserID]struct{}),
	}
}

func (p *memoryPresence) Track(_ context.Context, roomID domain.RoomID, userID domain.UserID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	room, ok := p.rooms[roomID]
	if !ok {
		room = make(map[domain.UserID]struct{})
		p.rooms[roomID] = room
	}
	room[userID] = struct{}{}
	return nil
}

func (p *memoryPresence) Untrack(_ context.Context, roomID domain.RoomID, userID domain.UserID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	room, ok := p.rooms[roomID]
	if !ok {
		return nil
	}
	delete(room, userID)
	if len(room) == 0 {
		delete(p.rooms, roomID)
	}
	return nil
}

func (p *memoryPresence) List(_ context.Context, roomID domain.RoomID) ([]domain.UserID, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	room, ok := p.rooms[roomID]
	if !ok {
		return nil, nil
	}
	users := make([]domain.UserID, 0, len(room))
	for id := range room {
		users = append(users, id)
	}
	return users, nil
}

func (p *memoryPresence) Close() error { return nil }
