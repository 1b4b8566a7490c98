package model

import "time"

// Participant represents a (room, browser-session) presence record.
// It is distinct from a platform-wide user account; the ID is handed back
// to the client on join and persisted there so a reload reuses the same
// record instead of creating a duplicate.
type Participant struct {
	ID           string    `json:"id" bson:"_id,omitempty"`
	RoomID       string    `json:"roomId" bson:"roomId"`
	Name         string    `json:"name" bson:"name"`
	IsHost       bool      `json:"isHost" bson:"isHost"`
	Active       bool      `json:"active" bson:"active"`
	JoinedAt     time.Time `json:"joinedAt" bson:"joinedAt"`
	LastActivity time.Time `json:"lastActivity" bson:"lastActivity"`
}
