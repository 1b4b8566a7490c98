package ws

import (
	"encoding/json"

	"github.com/sirupsen/logrus"

	"costudy/internal/model"
	"costudy/internal/service"
	"costudy/internal/store"
)

// Relay bridges store change events into hub broadcasts: this is how the
// adapter's subscription mechanism pushes updates back to every client.
type Relay struct {
	rooms *service.Rooms
	hub   *Hub
	unsub func()
	log   *logrus.Entry
}

func NewRelay(rooms *service.Rooms, hub *Hub) *Relay {
	return &Relay{
		rooms: rooms,
		hub:   hub,
		log:   logrus.WithField("component", "relay"),
	}
}

func (r *Relay) Start() error {
	unsub, err := r.rooms.Watch(r.onEvent)
	if err != nil {
		return err
	}
	r.unsub = unsub
	return nil
}

func (r *Relay) Stop() {
	if r.unsub != nil {
		r.unsub()
		r.unsub = nil
	}
}

func (r *Relay) onEvent(ev store.Event) {
	roomID, isRoom := service.RoomIDFromPath(ev.Doc.Path)
	if roomID == "" {
		return
	}

	if isRoom {
		switch ev.Kind {
		case store.EventPut:
			var room model.Room
			if err := json.Unmarshal(ev.Doc.Data, &room); err != nil {
				r.log.WithError(err).Warn("malformed room event")
				return
			}
			r.hub.SetHost(roomID, room.HostID)
			r.hub.NotifyRoom(roomID, string(MsgRoomState), &room)
		case store.EventDelete:
			r.hub.NotifyRoom(roomID, string(MsgRoomEnded), nil)
			r.hub.DisconnectRoom(roomID)
		}
		return
	}

	// Participant document events.
	switch ev.Kind {
	case store.EventPut:
		var p model.Participant
		if err := json.Unmarshal(ev.Doc.Data, &p); err != nil {
			r.log.WithError(err).Warn("malformed participant event")
			return
		}
		msg := MsgParticipantUpdated
		if ev.Doc.Version == 1 {
			msg = MsgParticipantJoined
		}
		r.hub.NotifyRoom(roomID, string(msg), &p)
		if p.IsHost {
			r.hub.SetHost(roomID, p.ID)
			r.hub.NotifyRoom(roomID, string(MsgHostChanged), map[string]string{"hostId": p.ID})
		}
	case store.EventDelete:
		r.hub.NotifyRoom(roomID, string(MsgParticipantLeft), map[string]string{
			"participantId": participantIDFromPath(ev.Doc.Path),
		})
	}
}

func participantIDFromPath(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
