package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type notification struct {
	roomID string
	event  string
	target string
}

// recordingNotifier captures pushed events on a channel the test can wait
// on.
type recordingNotifier struct {
	ch chan notification
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{ch: make(chan notification, 16)}
}

func (n *recordingNotifier) NotifyHost(roomID, event string, payload interface{}) {
	n.ch <- notification{roomID: roomID, event: event, target: "host"}
}

func (n *recordingNotifier) NotifyRoom(roomID, event string, payload interface{}) {
	n.ch <- notification{roomID: roomID, event: event, target: "room"}
}

func (n *recordingNotifier) wait(t *testing.T, event string, timeout time.Duration) notification {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case got := <-n.ch:
			if got.event == event {
				return got
			}
		case <-deadline:
			t.Fatalf("no %q notification within %v", event, timeout)
		}
	}
}

func TestMonitorAutoTerminatesUnconfirmedRoom(t *testing.T) {
	env := newTestEnv(t)
	room, _ := env.createRoom(t, "Study", "Alice")

	notifier := newRecordingNotifier()
	monitor := NewInactivityMonitor(env.rooms, env.authority, notifier, 30*time.Millisecond, 30*time.Millisecond, env.clock.Now)
	defer monitor.Stop()
	require.NoError(t, monitor.Run(context.Background()))

	got := notifier.wait(t, EventInactivityCheck, time.Second)
	assert.Equal(t, room.ID, got.roomID)
	assert.Equal(t, "host", got.target, "the prompt goes to the host only")

	require.Eventually(t, func() bool {
		_, err := env.rooms.Get(context.Background(), room.ID)
		return err != nil
	}, time.Second, 5*time.Millisecond, "unanswered check terminates the room")

	_, err := env.rooms.Get(context.Background(), room.ID)
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestMonitorConfirmCancelsTermination(t *testing.T) {
	env := newTestEnv(t)
	room, host := env.createRoom(t, "Study", "Alice")

	notifier := newRecordingNotifier()
	monitor := NewInactivityMonitor(env.rooms, env.authority, notifier, 50*time.Millisecond, 2*time.Second, env.clock.Now)
	defer monitor.Stop()
	require.NoError(t, monitor.Run(context.Background()))

	notifier.wait(t, EventInactivityCheck, time.Second)
	assert.True(t, monitor.Pending(room.ID))

	require.NoError(t, monitor.Confirm(context.Background(), room.ID, host.ID))
	assert.False(t, monitor.Pending(room.ID))

	got := notifier.wait(t, EventInactivityCancel, time.Second)
	assert.Equal(t, "room", got.target, "everyone learns the room stays open")

	time.Sleep(300 * time.Millisecond)
	_, err := env.rooms.Get(context.Background(), room.ID)
	require.NoError(t, err, "confirmed room survives")
}

func TestMonitorConfirmRequiresHost(t *testing.T) {
	env := newTestEnv(t)
	room, _ := env.createRoom(t, "Study", "Alice")
	bob := env.join(t, room.ID, "Bob")

	monitor := NewInactivityMonitor(env.rooms, env.authority, nil, time.Hour, time.Hour, env.clock.Now)
	defer monitor.Stop()
	monitor.Track(room.ID, room.CreatedAt)

	err := monitor.Confirm(context.Background(), room.ID, bob.ID)
	assert.ErrorIs(t, err, ErrNotHost)
}

func TestMonitorUntrackStopsTimers(t *testing.T) {
	env := newTestEnv(t)
	room, _ := env.createRoom(t, "Study", "Alice")

	notifier := newRecordingNotifier()
	monitor := NewInactivityMonitor(env.rooms, env.authority, notifier, 50*time.Millisecond, 50*time.Millisecond, env.clock.Now)
	defer monitor.Stop()
	monitor.Track(room.ID, room.CreatedAt)
	monitor.Untrack(room.ID)

	select {
	case got := <-notifier.ch:
		t.Fatalf("unexpected notification after untrack: %+v", got)
	case <-time.After(200 * time.Millisecond):
	}

	_, err := env.rooms.Get(context.Background(), room.ID)
	require.NoError(t, err)
}

func TestMonitorTracksRoomsViaSubscription(t *testing.T) {
	env := newTestEnv(t)

	notifier := newRecordingNotifier()
	monitor := NewInactivityMonitor(env.rooms, env.authority, notifier, 40*time.Millisecond, time.Hour, env.clock.Now)
	defer monitor.Stop()
	require.NoError(t, monitor.Run(context.Background()))

	// Created after Run: the store subscription must pick it up.
	room, _ := env.createRoom(t, "Late", "Alice")
	got := notifier.wait(t, EventInactivityCheck, time.Second)
	assert.Equal(t, room.ID, got.roomID)

	// Ending the room retires the watch before its deadline fires.
	require.NoError(t, env.rooms.End(context.Background(), room.ID, room.HostID, false))
	require.Eventually(t, func() bool {
		return !monitor.Pending(room.ID)
	}, time.Second, 5*time.Millisecond)
}
