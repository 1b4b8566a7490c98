package service

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"costudy/internal/model"
)

// Tokens mints and checks the room-scoped participant tokens handed out
// on join. A token only remembers who the caller is; it never encodes
// host privilege, which is re-validated against the store per operation.
type Tokens struct {
	secret []byte
}

func NewTokens(secret string) *Tokens {
	return &Tokens{secret: []byte(secret)}
}

// Generate creates a 24h room-scoped token for a participant.
func (t *Tokens) Generate(roomID, participantID string) (string, error) {
	claims := &model.ParticipantClaims{
		RoomID:        roomID,
		ParticipantID: participantID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Validate parses a participant token and returns its claims.
func (t *Tokens) Validate(tokenString string) (*model.ParticipantClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &model.ParticipantClaims{}, func(token *jwt.Token) (interface{}, error) {
		return t.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*model.ParticipantClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
