package rest

import (
	"net/http"
	"os"

	"github.com/gorilla/mux"

	"costudy/internal/service"
	"costudy/internal/transport/rest/handler"
	"costudy/internal/transport/rest/middleware"
	"costudy/internal/transport/ws"
)

// Container holds all dependencies for the router
type Container struct {
	Tokens   *service.Tokens
	Rooms    *service.Rooms
	Registry *service.Registry
	Timers   *service.TimerEngine
	Monitor  *service.InactivityMonitor
	WSHub    *ws.Hub
}

// NewRouter creates the API router with all endpoints
func NewRouter(c *Container) http.Handler {
	r := mux.NewRouter()

	roomHandler := handler.NewRoomHandler(c.Rooms, c.Registry, c.Monitor, c.Tokens)
	timerHandler := handler.NewTimerHandler(c.Timers, c.Rooms)
	wsHandler := ws.NewHandler(c.WSHub, c.Tokens, c.Rooms, c.Registry)

	authMW := middleware.NewAuthMiddleware(c.Tokens)

	r.Use(corsMiddleware)

	v1 := r.PathPrefix("/v1").Subrouter()

	// Public routes: the lobby and the two entry points that mint tokens.
	v1.HandleFunc("/rooms", roomHandler.Create).Methods("POST", "OPTIONS")
	v1.HandleFunc("/rooms", roomHandler.List).Methods("GET", "OPTIONS")
	v1.HandleFunc("/rooms/{roomId}", roomHandler.Get).Methods("GET", "OPTIONS")
	v1.HandleFunc("/rooms/{roomId}/join", roomHandler.Join).Methods("POST", "OPTIONS")
	v1.HandleFunc("/rooms/{roomId}/participants", roomHandler.Participants).Methods("GET", "OPTIONS")

	// WebSocket route (token in query param)
	v1.HandleFunc("/ws/rooms/{roomId}", wsHandler.RoomWS).Methods("GET")

	// Health check
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	// Participant routes (require a room-scoped token)
	participantRoutes := v1.NewRoute().Subrouter()
	participantRoutes.Use(authMW.RequireParticipant)

	participantRoutes.HandleFunc("/rooms/{roomId}/leave", roomHandler.Leave).Methods("POST", "OPTIONS")
	participantRoutes.HandleFunc("/rooms/{roomId}/heartbeat", roomHandler.Heartbeat).Methods("POST", "OPTIONS")
	participantRoutes.HandleFunc("/rooms/{roomId}/end", roomHandler.End).Methods("POST", "OPTIONS")
	participantRoutes.HandleFunc("/rooms/{roomId}/confirm-active", roomHandler.ConfirmActive).Methods("POST", "OPTIONS")

	participantRoutes.HandleFunc("/rooms/{roomId}/timer/start", timerHandler.Start).Methods("POST", "OPTIONS")
	participantRoutes.HandleFunc("/rooms/{roomId}/timer/pause", timerHandler.Pause).Methods("POST", "OPTIONS")
	participantRoutes.HandleFunc("/rooms/{roomId}/timer/finish-focus", timerHandler.FinishFocus).Methods("POST", "OPTIONS")
	participantRoutes.HandleFunc("/rooms/{roomId}/timer/start-rest", timerHandler.StartRest).Methods("POST", "OPTIONS")
	participantRoutes.HandleFunc("/rooms/{roomId}/timer/resume-focus", timerHandler.ResumeFocus).Methods("POST", "OPTIONS")
	participantRoutes.HandleFunc("/rooms/{roomId}/timer/end-session", timerHandler.EndSession).Methods("POST", "OPTIONS")
	participantRoutes.HandleFunc("/rooms/{roomId}/timer/auto-cycle", timerHandler.SetAutoCycle).Methods("POST", "OPTIONS")
	participantRoutes.HandleFunc("/rooms/{roomId}/timer/auto-advance", timerHandler.AutoAdvance).Methods("POST", "OPTIONS")

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowedOrigins := os.Getenv("CORS_ALLOWED_ORIGINS")
		if allowedOrigins == "" {
			allowedOrigins = "*"
		}

		w.Header().Set("Access-Control-Allow-Origin", allowedOrigins)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
