package ws

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConn(h *Hub, roomID, participantID string) *Connection {
	return &Connection{
		RoomID:        roomID,
		ParticipantID: participantID,
		Send:          make(chan []byte, 8),
		Hub:           h,
	}
}

func recv(t *testing.T, conn *Connection) Message {
	t.Helper()
	select {
	case data, ok := <-conn.Send:
		require.True(t, ok, "connection closed")
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message within a second")
		return Message{}
	}
}

func assertSilent(t *testing.T, conn *Connection) {
	t.Helper()
	select {
	case data := <-conn.Send:
		t.Fatalf("unexpected message: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubBroadcastReachesRoomOnly(t *testing.T) {
	h := NewHub()
	alice := newTestConn(h, "r_1", "p_alice")
	bob := newTestConn(h, "r_1", "p_bob")
	eve := newTestConn(h, "r_2", "p_eve")
	h.Register(alice)
	h.Register(bob)
	h.Register(eve)

	h.NotifyRoom("r_1", string(MsgRoomState), map[string]string{"id": "r_1"})

	assert.Equal(t, MsgRoomState, recv(t, alice).Type)
	assert.Equal(t, MsgRoomState, recv(t, bob).Type)
	assertSilent(t, eve)
}

func TestHubHostRoutingFollowsHandoff(t *testing.T) {
	h := NewHub()
	alice := newTestConn(h, "r_1", "p_alice")
	bob := newTestConn(h, "r_1", "p_bob")
	h.Register(alice)
	h.Register(bob)
	h.SetHost("r_1", "p_alice")

	h.NotifyHost("r_1", string(MsgInactivityCheck), nil)
	assert.Equal(t, MsgInactivityCheck, recv(t, alice).Type)
	assertSilent(t, bob)

	// Host handoff: the same address now reaches Bob.
	h.SetHost("r_1", "p_bob")
	h.NotifyHost("r_1", string(MsgInactivityCheck), nil)
	assert.Equal(t, MsgInactivityCheck, recv(t, bob).Type)
	assertSilent(t, alice)
}

func TestHubReloadReplacesConnection(t *testing.T) {
	h := NewHub()
	oldTab := newTestConn(h, "r_1", "p_alice")
	h.Register(oldTab)

	newTab := newTestConn(h, "r_1", "p_alice")
	h.Register(newTab)

	// The stale tab's channel closes; the new one receives.
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-oldTab.Send:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	h.NotifyRoom("r_1", string(MsgRoomState), nil)
	assert.Equal(t, MsgRoomState, recv(t, newTab).Type)
}

func TestHubDisconnectRoomClosesEverything(t *testing.T) {
	h := NewHub()
	alice := newTestConn(h, "r_1", "p_alice")
	h.Register(alice)
	h.SetHost("r_1", "p_alice")

	// Give the register a moment to land before tearing down.
	h.NotifyRoom("r_1", string(MsgRoomState), nil)
	recv(t, alice)

	h.DisconnectRoom("r_1")
	_, ok := <-alice.Send
	assert.False(t, ok, "send channel closed on room teardown")
}
