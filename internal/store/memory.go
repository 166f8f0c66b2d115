package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/tuosm9390/minionsbid/internal/engine"
)

// Memory keeps everything in process. Used by tests and the "memory" driver.
type Memory struct {
	mu       sync.RWMutex
	rooms    map[uuid.UUID]engine.State
	archives []Archive
	messages map[uuid.UUID][]Message
}

func NewMemory() *Memory {
	return &Memory{
		rooms:    make(map[uuid.UUID]engine.State),
		messages: make(map[uuid.UUID][]Message),
	}
}

func (m *Memory) CreateRoom(_ context.Context, s engine.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.Rules = engine.Rules{}
	m.rooms[s.Room.ID] = s.Clone()
	return nil
}

func (m *Memory) LoadRoom(_ context.Context, id uuid.UUID) (engine.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.rooms[id]
	if !ok {
		return engine.State{}, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *Memory) Commit(_ context.Context, prev, next engine.State) error {
	if err := checkCommit(prev, next); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rooms[next.Room.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Room.Version != prev.Room.Version {
		return ErrVersionConflict
	}
	next.Rules = engine.Rules{}
	m.rooms[next.Room.ID] = next.Clone()
	return nil
}

func (m *Memory) ActiveRoomIDs(_ context.Context) ([]uuid.UUID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []uuid.UUID
	for id, s := range m.rooms {
		if s.Room.TimerEndsAt != nil {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *Memory) DeleteRoom(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[id]; !ok {
		return ErrNotFound
	}
	delete(m.rooms, id)
	delete(m.messages, id)
	return nil
}

func (m *Memory) SaveArchive(_ context.Context, a Archive) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.archives = append(m.archives, a)
	return nil
}

func (m *Memory) ListArchives(_ context.Context, limit int) ([]Archive, error) {
	m.mu.RLock()
	out := append([]Archive(nil), m.archives...)
	m.mu.RUnlock()

	sortArchives(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) SaveMessage(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.RoomID] = append(m.messages[msg.RoomID], msg)
	return nil
}

func (m *Memory) Messages(_ context.Context, roomID uuid.UUID, limit int) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.messages[roomID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]Message(nil), msgs...), nil
}

func (m *Memory) Close() error { return nil }
