package review

import (
	"context"
	"sync"

	"leelad/pkg/types"
)

// MemoryStore is an in-process Store for tests and single-node setups.
type MemoryStore struct {
	mu     sync.Mutex
	rooms  map[string]types.ReviewRoom
	states map[string]types.ReviewRoomState
	people map[string]int
	subs   map[*memorySub]struct{}
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:  make(map[string]types.ReviewRoom),
		states: make(map[string]types.ReviewRoomState),
		people: make(map[string]int),
		subs:   make(map[*memorySub]struct{}),
	}
}

type memorySub struct {
	store    *MemoryStore
	channels map[string]struct{}
	ch       chan Message
	once     sync.Once
}

func (s *memorySub) Messages() <-chan Message { return s.ch }

func (s *memorySub) Close() error {
	s.once.Do(func() {
		s.store.mu.Lock()
		delete(s.store.subs, s)
		s.store.mu.Unlock()
		close(s.ch)
	})
	return nil
}

func (m *MemoryStore) SetRoom(_ context.Context, room types.ReviewRoom) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[room.RoomID] = room
	return nil
}

func (m *MemoryStore) GetRoom(_ context.Context, roomID string) (types.ReviewRoom, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	return room, ok, nil
}

func (m *MemoryStore) SetState(_ context.Context, roomID string, state types.ReviewRoomState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[roomID] = state
	return nil
}

func (m *MemoryStore) GetState(_ context.Context, roomID string) (types.ReviewRoomState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[roomID]
	return state, ok, nil
}

func (m *MemoryStore) SetPeople(_ context.Context, roomID string, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.people[roomID] = n
	return nil
}

func (m *MemoryStore) IncrPeople(_ context.Context, roomID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.people[roomID]++
	return m.people[roomID], nil
}

func (m *MemoryStore) DecrPeople(_ context.Context, roomID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.people[roomID]--
	return m.people[roomID], nil
}

func (m *MemoryStore) People(_ context.Context, roomID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.people[roomID], nil
}

func (m *MemoryStore) Publish(_ context.Context, channel, payload string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for sub := range m.subs {
		if _, ok := sub.channels[channel]; !ok {
			continue
		}
		// Slow subscribers drop deliveries rather than block publishers.
		select {
		case sub.ch <- Message{Channel: channel, Payload: payload}:
		default:
		}
	}
	return nil
}

func (m *MemoryStore) Subscribe(_ context.Context, channels ...string) (Subscription, error) {
	sub := &memorySub{
		store:    m,
		channels: make(map[string]struct{}, len(channels)),
		ch:       make(chan Message, 64),
	}
	for _, c := range channels {
		sub.channels[c] = struct{}{}
	}
	m.mu.Lock()
	m.subs[sub] = struct{}{}
	m.mu.Unlock()
	return sub, nil
}
