package model

import "time"

type GameStatus string

const (
	GameIdle    GameStatus = "idle"
	GamePlaying GameStatus = "playing"
)

// Game is the break-time minigame block. The coordination core only
// observes it; game logic lives with the clients.
type Game struct {
	Status    GameStatus `json:"status" bson:"status"`
	StartTime *time.Time `json:"startTime,omitempty" bson:"startTime,omitempty"`
	EndTime   *time.Time `json:"endTime,omitempty" bson:"endTime,omitempty"`
}

// Room is one study session. HostID references the single participant
// authorized to control the timer and terminate the room; it is empty only
// transiently while a room is being torn down.
type Room struct {
	ID        string    `json:"id" bson:"_id,omitempty"`
	Title     string    `json:"title" bson:"title"`
	HostID    string    `json:"hostId" bson:"hostId"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`

	// ParticipantsCount is a denormalized cache recomputed by the
	// background sweep; the participant collection stays authoritative.
	ParticipantsCount int `json:"participantsCount" bson:"participantsCount"`

	Timer Timer `json:"timer" bson:"timer"`
	Game  Game  `json:"game" bson:"game"`
}
