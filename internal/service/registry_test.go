package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"costudy/internal/model"
)

func TestJoinCreatesParticipant(t *testing.T) {
	env := newTestEnv(t)
	room, host := env.createRoom(t, "Study", "Alice")

	env.clock.Advance(time.Minute)
	bob := env.join(t, room.ID, "Bob")

	assert.NotEmpty(t, bob.ID)
	assert.NotEqual(t, host.ID, bob.ID)
	assert.False(t, bob.IsHost)
	assert.True(t, bob.Active)
	assert.Equal(t, env.clock.Now(), bob.JoinedAt)

	list, err := env.registry.List(context.Background(), room.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, host.ID, list[0].ID, "ordered by joinedAt ascending")
	assert.Equal(t, bob.ID, list[1].ID)
}

func TestJoinUnknownRoom(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.registry.Join(context.Background(), "r_missing", "Bob", "")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestJoinReloadReusesStoredID(t *testing.T) {
	env := newTestEnv(t)
	room, _ := env.createRoom(t, "Study", "Alice")
	bob := env.join(t, room.ID, "Bob")

	again, err := env.registry.Join(context.Background(), room.ID, "Bob", bob.ID)
	require.NoError(t, err)
	assert.Equal(t, bob.ID, again.ID)
	assert.False(t, again.IsHost)

	list, err := env.registry.List(context.Background(), room.ID)
	require.NoError(t, err)
	assert.Len(t, list, 2, "reload must not mint a second record")
}

func TestJoinReloadPreservesHostFlag(t *testing.T) {
	env := newTestEnv(t)
	room, host := env.createRoom(t, "Study", "Alice")

	again, err := env.registry.Join(context.Background(), room.ID, "Alice", host.ID)
	require.NoError(t, err)
	assert.Equal(t, host.ID, again.ID)
	assert.True(t, again.IsHost, "host reload keeps host authority")
}

func TestJoinRecoversByName(t *testing.T) {
	env := newTestEnv(t)
	room, _ := env.createRoom(t, "Study", "Alice")
	bob := env.join(t, room.ID, "Bob")

	// Local storage cleared: no stored id, same display name.
	again, err := env.registry.Join(context.Background(), room.ID, "Bob", "")
	require.NoError(t, err)
	assert.Equal(t, bob.ID, again.ID)
}

func TestJoinStaleStoredIDFallsBack(t *testing.T) {
	env := newTestEnv(t)
	room, _ := env.createRoom(t, "Study", "Alice")
	bob := env.join(t, room.ID, "Bob")

	again, err := env.registry.Join(context.Background(), room.ID, "Bob", "p_deadbeef")
	require.NoError(t, err)
	assert.Equal(t, bob.ID, again.ID, "unknown stored id falls back to name recovery")
}

func TestLeaveDeletesRecord(t *testing.T) {
	env := newTestEnv(t)
	room, _ := env.createRoom(t, "Study", "Alice")
	bob := env.join(t, room.ID, "Bob")

	require.NoError(t, env.registry.Leave(context.Background(), room.ID, bob.ID))

	_, err := env.registry.Get(context.Background(), room.ID, bob.ID)
	assert.ErrorIs(t, err, ErrParticipantNotFound)

	err = env.registry.Leave(context.Background(), room.ID, bob.ID)
	assert.ErrorIs(t, err, ErrParticipantNotFound)
}

func TestLeaveRefusesHost(t *testing.T) {
	env := newTestEnv(t)
	room, alice := env.createRoom(t, "Study", "Alice")
	env.join(t, room.ID, "Bob")

	err := env.registry.Leave(context.Background(), room.ID, alice.ID)
	assert.ErrorIs(t, err, ErrParticipantIsHost)

	// The record survives and the room's hostId still resolves.
	assert.True(t, env.getParticipant(t, room.ID, alice.ID).IsHost)
	assert.Equal(t, alice.ID, env.getRoom(t, room.ID).HostID)
}

func TestHeartbeatRefreshesActivity(t *testing.T) {
	env := newTestEnv(t)
	room, _ := env.createRoom(t, "Study", "Alice")
	bob := env.join(t, room.ID, "Bob")

	env.clock.Advance(2 * time.Minute)
	env.registry.Heartbeat(context.Background(), room.ID, bob.ID)

	got := env.getParticipant(t, room.ID, bob.ID)
	assert.Equal(t, env.clock.Now(), got.LastActivity)

	at, ok, err := env.presence.LastSeen(context.Background(), room.ID, bob.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, env.clock.Now(), at)
}

func TestReapStaleDeletesSilentParticipants(t *testing.T) {
	env := newTestEnv(t)
	room, host := env.createRoom(t, "Study", "Alice")
	bob := env.join(t, room.ID, "Bob")

	env.clock.Advance(6 * time.Minute)
	reaped, err := env.registry.ReapStale(context.Background(), room.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, reaped)

	_, err = env.registry.Get(context.Background(), room.ID, bob.ID)
	assert.ErrorIs(t, err, ErrParticipantNotFound)

	got := env.getParticipant(t, room.ID, host.ID)
	assert.True(t, got.IsHost, "host is exempt from reaping no matter how idle")
}

func TestReapStaleKeepsHeartbeatingParticipants(t *testing.T) {
	env := newTestEnv(t)
	room, _ := env.createRoom(t, "Study", "Alice")
	bob := env.join(t, room.ID, "Bob")

	env.clock.Advance(6 * time.Minute)
	env.registry.Heartbeat(context.Background(), room.ID, bob.ID)

	reaped, err := env.registry.ReapStale(context.Background(), room.ID)
	require.NoError(t, err)
	assert.Zero(t, reaped)
}

func TestReapStaleTrustsPresenceOverDocument(t *testing.T) {
	env := newTestEnv(t)
	room, _ := env.createRoom(t, "Study", "Alice")
	bob := env.join(t, room.ID, "Bob")

	// Document timestamp is stale but the presence cache saw a recent
	// heartbeat that never got persisted.
	env.clock.Advance(6 * time.Minute)
	require.NoError(t, env.presence.Touch(context.Background(), room.ID, bob.ID, env.clock.Now()))

	reaped, err := env.registry.ReapStale(context.Background(), room.ID)
	require.NoError(t, err)
	assert.Zero(t, reaped)
}

func TestCleanupDuplicateNamesKeepsMostRecent(t *testing.T) {
	env := newTestEnv(t)
	room, _ := env.createRoom(t, "Study", "Alice")
	bob := env.join(t, room.ID, "Bob")

	// A second record with the same name, more recently active. This can
	// only happen through a lost race; stage it directly.
	env.clock.Advance(time.Minute)
	dup := &model.Participant{
		ID:           "p_zzzzzzzz",
		RoomID:       room.ID,
		Name:         "Bob",
		Active:       true,
		JoinedAt:     env.clock.Now(),
		LastActivity: env.clock.Now(),
	}
	env.putParticipant(t, dup)

	require.NoError(t, env.registry.CleanupDuplicateNames(context.Background(), room.ID))

	_, err := env.registry.Get(context.Background(), room.ID, bob.ID)
	assert.ErrorIs(t, err, ErrParticipantNotFound, "older duplicate goes")
	got := env.getParticipant(t, room.ID, dup.ID)
	assert.Equal(t, "Bob", got.Name)
}

func TestCleanupDuplicateNamesNeverDeletesHost(t *testing.T) {
	env := newTestEnv(t)
	room, host := env.createRoom(t, "Study", "Alice")

	env.clock.Advance(time.Minute)
	dup := &model.Participant{
		ID:           "p_zzzzzzzz",
		RoomID:       room.ID,
		Name:         "Alice",
		Active:       true,
		JoinedAt:     env.clock.Now(),
		LastActivity: env.clock.Now(),
	}
	env.putParticipant(t, dup)

	require.NoError(t, env.registry.CleanupDuplicateNames(context.Background(), room.ID))

	got := env.getParticipant(t, room.ID, host.ID)
	assert.True(t, got.IsHost, "host survives even as the older duplicate")
}

func TestRecountParticipants(t *testing.T) {
	env := newTestEnv(t)
	room, _ := env.createRoom(t, "Study", "Alice")
	env.join(t, room.ID, "Bob")
	env.join(t, room.ID, "Carol")

	require.NoError(t, env.registry.RecountParticipants(context.Background(), room.ID))

	got := env.getRoom(t, room.ID)
	assert.Equal(t, 3, got.ParticipantsCount)

	cached, err := env.presence.GetCount(context.Background(), room.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, cached)
}
