package ws

import (
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	MsgRoomState          MessageType = "room_state"
	MsgRoomEnded          MessageType = "room_ended"
	MsgParticipantJoined  MessageType = "participant_joined"
	MsgParticipantUpdated MessageType = "participant_updated"
	MsgParticipantLeft    MessageType = "participant_left"
	MsgHostChanged        MessageType = "host_changed"
	MsgInactivityCheck    MessageType = "inactivity_check"
	MsgInactivityCancel   MessageType = "inactivity_cancel"
	MsgError              MessageType = "error"
)

// Message is the WebSocket envelope format
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Hub manages the WebSocket connections of all rooms. Host routing is
// dynamic: messages addressed "to the host" go to whichever participant
// currently holds host authority, so a handoff retargets prompts without
// re-connecting anybody.
type Hub struct {
	conns map[string]map[string]*Connection // roomID -> participantID -> conn
	hosts map[string]string                 // roomID -> current host participantID

	mu sync.RWMutex

	register   chan *Connection
	unregister chan *Connection
	broadcast  chan *BroadcastMessage

	log *logrus.Entry
}

// Connection represents one participant's WebSocket connection
type Connection struct {
	RoomID        string
	ParticipantID string
	Send          chan []byte
	Hub           *Hub
}

// BroadcastMessage is a message to fan out
type BroadcastMessage struct {
	RoomID string
	ToHost bool
	ToOne  string // specific participant; empty means everyone in the room
	Msg    *Message
}

// NewHub creates a new WebSocket hub
func NewHub() *Hub {
	h := &Hub{
		conns:      make(map[string]map[string]*Connection),
		hosts:      make(map[string]string),
		register:   make(chan *Connection),
		unregister: make(chan *Connection),
		broadcast:  make(chan *BroadcastMessage, 256),
		log:        logrus.WithField("component", "ws"),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			if h.conns[conn.RoomID] == nil {
				h.conns[conn.RoomID] = make(map[string]*Connection)
			}
			if old, ok := h.conns[conn.RoomID][conn.ParticipantID]; ok {
				// Reload: the newer tab wins the connection slot.
				close(old.Send)
			}
			h.conns[conn.RoomID][conn.ParticipantID] = conn
			h.mu.Unlock()
			h.log.WithFields(logrus.Fields{"room": conn.RoomID, "participant": conn.ParticipantID}).Debug("connected")

		case conn := <-h.unregister:
			h.mu.Lock()
			if room, ok := h.conns[conn.RoomID]; ok {
				if existing, ok := room[conn.ParticipantID]; ok && existing == conn {
					delete(room, conn.ParticipantID)
					close(conn.Send)
					if len(room) == 0 {
						delete(h.conns, conn.RoomID)
					}
				}
			}
			h.mu.Unlock()
			h.log.WithFields(logrus.Fields{"room": conn.RoomID, "participant": conn.ParticipantID}).Debug("disconnected")

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) deliver(msg *BroadcastMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	data, err := json.Marshal(msg.Msg)
	if err != nil {
		return
	}
	room, ok := h.conns[msg.RoomID]
	if !ok {
		return
	}

	target := msg.ToOne
	if msg.ToHost {
		target = h.hosts[msg.RoomID]
		if target == "" {
			return
		}
	}
	if target != "" {
		if conn, ok := room[target]; ok {
			send(conn, data)
		}
		return
	}
	for _, conn := range room {
		send(conn, data)
	}
}

func send(conn *Connection, data []byte) {
	select {
	case conn.Send <- data:
	default:
		// Drop message if buffer full
	}
}

// Register adds a connection
func (h *Hub) Register(conn *Connection) {
	h.register <- conn
}

// Unregister removes a connection
func (h *Hub) Unregister(conn *Connection) {
	h.unregister <- conn
}

// SetHost records who host-addressed messages should reach. The relay
// feeds it from room document updates.
func (h *Hub) SetHost(roomID, participantID string) {
	h.mu.Lock()
	h.hosts[roomID] = participantID
	h.mu.Unlock()
}

// DisconnectRoom drops every connection of an ended room.
func (h *Hub) DisconnectRoom(roomID string) {
	h.mu.Lock()
	if room, ok := h.conns[roomID]; ok {
		for _, conn := range room {
			close(conn.Send)
		}
		delete(h.conns, roomID)
	}
	delete(h.hosts, roomID)
	h.mu.Unlock()
}

// NotifyHost sends a message to the room's current host (implements service.Notifier)
func (h *Hub) NotifyHost(roomID string, event string, payload interface{}) {
	data, _ := json.Marshal(payload)
	h.broadcast <- &BroadcastMessage{
		RoomID: roomID,
		ToHost: true,
		Msg:    &Message{Type: MessageType(event), Payload: data},
	}
}

// NotifyRoom sends a message to everyone in the room (implements service.Notifier)
func (h *Hub) NotifyRoom(roomID string, event string, payload interface{}) {
	data, _ := json.Marshal(payload)
	h.broadcast <- &BroadcastMessage{
		RoomID: roomID,
		Msg:    &Message{Type: MessageType(event), Payload: data},
	}
}
