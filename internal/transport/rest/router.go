// Package rest exposes the match and invite HTTP API and mounts the realtime
// socket endpoint.
package rest

import (
	"net/http"
	"os"

	"github.com/gorilla/mux"

	"github.com/marsdevs/chess-arena/internal/authclient"
	"github.com/marsdevs/chess-arena/internal/invite"
	"github.com/marsdevs/chess-arena/internal/registry"
	"github.com/marsdevs/chess-arena/internal/store"
	"github.com/marsdevs/chess-arena/internal/transport/ws"
)

// Container holds the router's dependencies.
type Container struct {
	Matches     store.MatchStore
	Invites     *invite.Manager
	Registry    *registry.Registry
	Auth        authclient.Resolver
	WS          *ws.Handler
	ClockBudget int // per-side seconds for new matches; 0 means the default
}

// NewRouter builds the API router with all endpoints.
func NewRouter(c *Container) http.Handler {
	r := mux.NewRouter()
	r.Use(corsMiddleware)

	matchHandler := NewMatchHandler(c.Matches, c.Registry, c.ClockBudget)
	inviteHandler := NewInviteHandler(c.Invites, c.Registry)

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	// Socket authenticates inside the handshake so it can answer with
	// application close codes instead of HTTP statuses.
	r.Handle("/ws/matches/{id}", c.WS).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.Use(RequireUser(c.Auth))

	api.HandleFunc("/matches", matchHandler.Create).Methods("POST", "OPTIONS")
	api.HandleFunc("/matches/{id}", matchHandler.Get).Methods("GET", "OPTIONS")

	api.HandleFunc("/invites", inviteHandler.Create).Methods("POST", "OPTIONS")
	api.HandleFunc("/invites", inviteHandler.List).Methods("GET", "OPTIONS")
	api.HandleFunc("/invites/{id}/respond", inviteHandler.Respond).Methods("POST", "OPTIONS")
	api.HandleFunc("/invites/{id}/cancel", inviteHandler.Cancel).Methods("POST", "OPTIONS")

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origins := os.Getenv("CORS_ALLOWED_ORIGINS")
		if origins == "" {
			origins = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origins)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
