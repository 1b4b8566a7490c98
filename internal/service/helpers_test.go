package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"costudy/internal/model"
	"costudy/internal/store"
)

// fakeClock is a movable clock shared by the store and the services under
// test, so every persisted timestamp is deterministic.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakePresence is an in-memory PresenceCache double.
type fakePresence struct {
	mu     sync.Mutex
	seen   map[string]map[string]time.Time
	counts map[string]int
}

func newFakePresence() *fakePresence {
	return &fakePresence{
		seen:   make(map[string]map[string]time.Time),
		counts: make(map[string]int),
	}
}

func (f *fakePresence) Touch(ctx context.Context, roomID, participantID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen[roomID] == nil {
		f.seen[roomID] = make(map[string]time.Time)
	}
	f.seen[roomID][participantID] = at
	return nil
}

func (f *fakePresence) LastSeen(ctx context.Context, roomID, participantID string) (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	at, ok := f.seen[roomID][participantID]
	return at, ok, nil
}

func (f *fakePresence) All(ctx context.Context, roomID string) (map[string]time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]time.Time, len(f.seen[roomID]))
	for id, at := range f.seen[roomID] {
		out[id] = at
	}
	return out, nil
}

func (f *fakePresence) Remove(ctx context.Context, roomID, participantID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.seen[roomID], participantID)
	return nil
}

func (f *fakePresence) Clear(ctx context.Context, roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.seen, roomID)
	delete(f.counts, roomID)
	return nil
}

func (f *fakePresence) SetCount(ctx context.Context, roomID string, n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[roomID] = n
	return nil
}

func (f *fakePresence) GetCount(ctx context.Context, roomID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[roomID], nil
}

// testEnv wires the full service stack onto a memory store with a fake
// clock.
type testEnv struct {
	store     *store.Memory
	clock     *fakeClock
	presence  *fakePresence
	registry  *Registry
	authority *Authority
	timers    *TimerEngine
	rooms     *Rooms
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := newFakeClock()
	st := store.NewMemory(store.WithClock(clock.Now))
	presence := newFakePresence()
	registry := NewRegistry(st, presence, 5*time.Minute, clock.Now)
	authority := NewAuthority(st)
	timers := NewTimerEngine(st, DefaultTimerDurations())
	rooms := NewRooms(st, presence, registry, authority, timers, clock.Now)
	return &testEnv{
		store:     st,
		clock:     clock,
		presence:  presence,
		registry:  registry,
		authority: authority,
		timers:    timers,
		rooms:     rooms,
	}
}

// createRoom makes a room with the given host name and fails the test on
// error.
func (e *testEnv) createRoom(t *testing.T, title, hostName string) (*model.Room, *model.Participant) {
	t.Helper()
	room, host, err := e.rooms.Create(context.Background(), title, hostName)
	require.NoError(t, err)
	return room, host
}

// join adds a fresh participant and fails the test on error.
func (e *testEnv) join(t *testing.T, roomID, name string) *model.Participant {
	t.Helper()
	p, err := e.registry.Join(context.Background(), roomID, name, "")
	require.NoError(t, err)
	return p
}

// putParticipant writes a participant document directly, bypassing Join.
// Used to stage inconsistent states the services must cope with.
func (e *testEnv) putParticipant(t *testing.T, p *model.Participant) {
	t.Helper()
	require.NoError(t, e.store.Put(context.Background(), ParticipantPath(p.RoomID, p.ID), encode(p)))
}

// getParticipant reads a participant document straight from the store.
func (e *testEnv) getParticipant(t *testing.T, roomID, id string) *model.Participant {
	t.Helper()
	doc, err := e.store.Get(context.Background(), ParticipantPath(roomID, id))
	require.NoError(t, err)
	p, err := decodeParticipant(doc)
	require.NoError(t, err)
	return p
}

// getRoom reads the room document straight from the store.
func (e *testEnv) getRoom(t *testing.T, roomID string) *model.Room {
	t.Helper()
	doc, err := e.store.Get(context.Background(), RoomPath(roomID))
	require.NoError(t, err)
	room, err := decodeRoom(doc)
	require.NoError(t, err)
	return room
}
