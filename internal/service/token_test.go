package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	tokens := NewTokens("secret")

	signed, err := tokens.Generate("r_abc12345", "p_def67890")
	require.NoError(t, err)

	claims, err := tokens.Validate(signed)
	require.NoError(t, err)
	assert.Equal(t, "r_abc12345", claims.RoomID)
	assert.Equal(t, "p_def67890", claims.ParticipantID)
}

func TestTokenWrongSecret(t *testing.T) {
	signed, err := NewTokens("secret").Generate("r_abc12345", "p_def67890")
	require.NoError(t, err)

	_, err = NewTokens("other").Validate(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenGarbage(t *testing.T) {
	_, err := NewTokens("secret").Validate("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
