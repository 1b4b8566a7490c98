package model

import "github.com/golang-jwt/jwt/v5"

// ParticipantClaims is the room-scoped token minted on join. It remembers
// the participant identity across requests; host privilege is never taken
// from the token, it is re-validated against the store on every privileged
// operation.
type ParticipantClaims struct {
	RoomID        string `json:"roomId"`
	ParticipantID string `json:"participantId"`
	jwt.RegisteredClaims
}
