package service

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"costudy/internal/model"
	"costudy/internal/store"
)

// RoomsPrefix is the collection all room documents live under. The ws
// relay and the sweeper subscribe to it.
const RoomsPrefix = "rooms/"

func RoomPath(roomID string) string {
	return RoomsPrefix + roomID
}

func ParticipantsPrefix(roomID string) string {
	return RoomsPrefix + roomID + "/participants/"
}

func ParticipantPath(roomID, participantID string) string {
	return ParticipantsPrefix(roomID) + participantID
}

// RoomIDFromPath extracts the room id from any path under rooms/. The
// second result is false for paths deeper than the room document itself.
func RoomIDFromPath(path string) (string, bool) {
	if len(path) <= len(RoomsPrefix) || path[:len(RoomsPrefix)] != RoomsPrefix {
		return "", false
	}
	rest := path[len(RoomsPrefix):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			return rest[:i], false
		}
	}
	return rest, true
}

// Clock supplies server time for anything outside a store transaction.
// Inside transactions, Tx.Now is the authority.
type Clock func() time.Time

func newRoomID() string {
	return "r_" + uuid.New().String()[:8]
}

func newParticipantID() string {
	return "p_" + uuid.New().String()[:8]
}

func decodeRoom(doc *store.Document) (*model.Room, error) {
	var room model.Room
	if err := json.Unmarshal(doc.Data, &room); err != nil {
		return nil, fmt.Errorf("malformed room document %s: %w", doc.Path, err)
	}
	if room.ID == "" || room.CreatedAt.IsZero() {
		return nil, fmt.Errorf("malformed room document %s: missing id or createdAt", doc.Path)
	}
	return &room, nil
}

func decodeParticipant(doc *store.Document) (*model.Participant, error) {
	var p model.Participant
	if err := json.Unmarshal(doc.Data, &p); err != nil {
		return nil, fmt.Errorf("malformed participant document %s: %w", doc.Path, err)
	}
	if p.ID == "" || p.JoinedAt.IsZero() {
		return nil, fmt.Errorf("malformed participant document %s: missing id or joinedAt", doc.Path)
	}
	return &p, nil
}

func encode(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// Model types marshal cleanly; anything else is a programming error.
		panic(err)
	}
	return data
}
