package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"costudy/internal/model"
	"costudy/internal/store"
)

func TestCreateRoom(t *testing.T) {
	env := newTestEnv(t)
	room, host := env.createRoom(t, "Deep Work", "Alice")

	assert.Equal(t, "Deep Work", room.Title)
	assert.Equal(t, env.clock.Now(), room.CreatedAt)
	assert.Equal(t, 1, room.ParticipantsCount)
	assert.Equal(t, model.GameIdle, room.Game.Status)
	assert.Equal(t, host.ID, room.HostID)

	got, err := env.rooms.Get(context.Background(), room.ID)
	require.NoError(t, err)
	assert.Equal(t, room.ID, got.ID)
}

func TestGetUnknownRoom(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.rooms.Get(context.Background(), "r_missing")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestListOpenOrdersByCreation(t *testing.T) {
	env := newTestEnv(t)
	first, _ := env.createRoom(t, "First", "Alice")
	env.clock.Advance(time.Minute)
	second, _ := env.createRoom(t, "Second", "Bob")
	env.clock.Advance(time.Minute)
	third, _ := env.createRoom(t, "Third", "Carol")

	rooms, err := env.rooms.ListOpen(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, rooms, 3)
	assert.Equal(t, first.ID, rooms[0].ID)
	assert.Equal(t, second.ID, rooms[1].ID)
	assert.Equal(t, third.ID, rooms[2].ID)

	limited, err := env.rooms.ListOpen(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestEndByHostDeletesEverything(t *testing.T) {
	env := newTestEnv(t)
	room, host := env.createRoom(t, "Study", "Alice")
	bob := env.join(t, room.ID, "Bob")

	require.NoError(t, env.rooms.End(context.Background(), room.ID, host.ID, false))

	_, err := env.rooms.Get(context.Background(), room.ID)
	assert.ErrorIs(t, err, ErrRoomNotFound)
	_, err = env.store.Get(context.Background(), ParticipantPath(room.ID, bob.ID))
	assert.ErrorIs(t, err, store.ErrNotFound, "participant records go with the room")
}

func TestEndByNonHostRejected(t *testing.T) {
	env := newTestEnv(t)
	room, _ := env.createRoom(t, "Study", "Alice")
	bob := env.join(t, room.ID, "Bob")

	err := env.rooms.End(context.Background(), room.ID, bob.ID, false)
	assert.ErrorIs(t, err, ErrNotHost)

	_, err = env.rooms.Get(context.Background(), room.ID)
	require.NoError(t, err)
}

func TestLeaveNonHost(t *testing.T) {
	env := newTestEnv(t)
	room, host := env.createRoom(t, "Study", "Alice")
	bob := env.join(t, room.ID, "Bob")

	res, err := env.rooms.Leave(context.Background(), room.ID, bob.ID)
	require.NoError(t, err)
	assert.Empty(t, res.NewHostID)
	assert.False(t, res.RoomEnded)

	got := env.getRoom(t, room.ID)
	assert.Equal(t, host.ID, got.HostID)
	_, err = env.registry.Get(context.Background(), room.ID, bob.ID)
	assert.ErrorIs(t, err, ErrParticipantNotFound)
}

// transactHook wraps a Store and runs a one-shot callback before
// forwarding the next transaction, so tests can interleave a competing
// write at an exact point.
type transactHook struct {
	store.Store
	before func()
}

func (h *transactHook) Transact(ctx context.Context, root string, fn store.TxFunc) error {
	if before := h.before; before != nil {
		h.before = nil
		before()
	}
	return h.Store.Transact(ctx, root, fn)
}

func TestLeaveDuringHostElectionHandsOff(t *testing.T) {
	clock := newFakeClock()
	hooked := &transactHook{Store: store.NewMemory(store.WithClock(clock.Now))}
	presence := newFakePresence()
	registry := NewRegistry(hooked, presence, 5*time.Minute, clock.Now)
	authority := NewAuthority(hooked)
	timers := NewTimerEngine(hooked, DefaultTimerDurations())
	rooms := NewRooms(hooked, presence, registry, authority, timers, clock.Now)
	ctx := context.Background()

	room, alice, err := rooms.Create(ctx, "Study", "Alice")
	require.NoError(t, err)
	clock.Advance(time.Minute)
	bob, err := registry.Join(ctx, room.ID, "Bob", "")
	require.NoError(t, err)
	clock.Advance(time.Minute)
	carol, err := registry.Join(ctx, room.ID, "Carol", "")
	require.NoError(t, err)

	// Alice's departure elects Bob after Bob's own leave has read his
	// still-non-host record but before its deleting transaction runs.
	hooked.before = func() {
		winner, err := authority.Transfer(ctx, room.ID, alice.ID)
		require.NoError(t, err)
		require.Equal(t, bob.ID, winner)
	}
	res, err := rooms.Leave(ctx, room.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, carol.ID, res.NewHostID, "a freshly crowned leaver hands off, never just vanishes")
	assert.False(t, res.RoomEnded)

	got, err := rooms.Get(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, carol.ID, got.HostID)

	list, err := registry.List(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, carol.ID, list[0].ID)
	assert.True(t, list[0].IsHost)
}

func TestLeaveHostHandsOff(t *testing.T) {
	env := newTestEnv(t)
	room, alice := env.createRoom(t, "Study", "Alice")
	env.clock.Advance(time.Minute)
	bob := env.join(t, room.ID, "Bob")

	res, err := env.rooms.Leave(context.Background(), room.ID, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, bob.ID, res.NewHostID)
	assert.False(t, res.RoomEnded)

	got := env.getRoom(t, room.ID)
	assert.Equal(t, bob.ID, got.HostID)
	assert.True(t, env.getParticipant(t, room.ID, bob.ID).IsHost)
}

func TestLeaveLastHostEndsRoom(t *testing.T) {
	env := newTestEnv(t)
	room, alice := env.createRoom(t, "Study", "Alice")

	res, err := env.rooms.Leave(context.Background(), room.ID, alice.ID)
	require.NoError(t, err)
	assert.True(t, res.RoomEnded)
	assert.Empty(t, res.NewHostID)

	_, err = env.rooms.Get(context.Background(), room.ID)
	assert.ErrorIs(t, err, ErrRoomNotFound)
	_, err = env.store.Get(context.Background(), ParticipantPath(room.ID, alice.ID))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestLeaveUnknownParticipant(t *testing.T) {
	env := newTestEnv(t)
	room, _ := env.createRoom(t, "Study", "Alice")

	_, err := env.rooms.Leave(context.Background(), room.ID, "p_missing")
	assert.ErrorIs(t, err, ErrParticipantNotFound)
}

func TestCountdownSurvivesHostHandoff(t *testing.T) {
	env := newTestEnv(t)
	room, alice := env.createRoom(t, "Study", "Alice")
	env.clock.Advance(time.Minute)
	bob := env.join(t, room.ID, "Bob")
	ctx := context.Background()

	require.NoError(t, env.timers.Start(ctx, room.ID, alice.ID))
	started := env.clock.Now()
	env.clock.Advance(100 * time.Second)

	res, err := env.rooms.Leave(ctx, room.ID, alice.ID)
	require.NoError(t, err)
	require.Equal(t, bob.ID, res.NewHostID)

	timer := env.getRoom(t, room.ID).Timer
	assert.True(t, timer.IsRunning, "handoff does not touch the countdown")
	require.NotNil(t, timer.StartTime)
	assert.Equal(t, started, *timer.StartTime)
	assert.Equal(t, 1400, timer.EffectiveTimeLeft(env.clock.Now()))

	// The new host controls the timer now.
	require.NoError(t, env.timers.Pause(ctx, room.ID, bob.ID))
}

func TestRoomIDs(t *testing.T) {
	env := newTestEnv(t)
	a, _ := env.createRoom(t, "A", "Alice")
	b, _ := env.createRoom(t, "B", "Bob")
	env.join(t, a.ID, "Carol") // participant paths must not leak in

	ids, err := env.rooms.RoomIDs(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, ids)
}
