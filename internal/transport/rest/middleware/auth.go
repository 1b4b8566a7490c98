package middleware

import (
	"context"
	"net/http"
	"strings"

	"costudy/internal/service"
)

type contextKey string

const (
	ParticipantIDKey contextKey = "participantId"
	RoomIDKey        contextKey = "roomId"
)

// AuthMiddleware validates the room-scoped participant token. It only
// establishes identity; host privilege is enforced by the services inside
// their own transactions.
type AuthMiddleware struct {
	tokens *service.Tokens
}

// NewAuthMiddleware creates a new auth middleware
func NewAuthMiddleware(tokens *service.Tokens) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

// RequireParticipant validates the participant JWT from the Authorization
// header or the token query param
func (m *AuthMiddleware) RequireParticipant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r)
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token == "" {
			http.Error(w, `{"error":"missing authorization"}`, http.StatusUnauthorized)
			return
		}

		claims, err := m.tokens.Validate(token)
		if err != nil {
			http.Error(w, `{"error":"invalid or expired token"}`, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), ParticipantIDKey, claims.ParticipantID)
		ctx = context.WithValue(ctx, RoomIDKey, claims.RoomID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

// GetParticipantID extracts the participant id from the request context
func GetParticipantID(ctx context.Context) string {
	if id, ok := ctx.Value(ParticipantIDKey).(string); ok {
		return id
	}
	return ""
}

// GetRoomID extracts the token's room id from the request context
func GetRoomID(ctx context.Context) string {
	if id, ok := ctx.Value(RoomIDKey).(string); ok {
		return id
	}
	return ""
}
