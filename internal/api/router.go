// Package api wires the HTTP surface: routing, middleware stack, and the
// websocket entry point.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/chatsync-protocol/chatsync/internal/api/middleware"
	"github.com/chatsync-protocol/chatsync/internal/handlers"
	"github.com/chatsync-protocol/chatsync/internal/hub"
	"github.com/chatsync-protocol/chatsync/internal/store"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, rooms store.RoomStore, messages store.MessageStore, wsHub *hub.Hub, tokens map[string]string) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(8 * 1024))
	r.Use(middleware.RequireJSON)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// CORS - clients connect from anywhere
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(rooms, messages, wsHub)
	auth := middleware.NewAuthMiddleware(tokens)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes (no auth required)
	r.Get("/health", h.Health)

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth)

		r.Post("/api/chats/create-or-get", h.CreateOrGetRoom)
		r.Get("/api/chats/{id}/messages", h.History)
		r.Post("/api/chats/{id}/send", h.Send)
		r.Get("/api/chats/{id}/presence", h.Presence)

		r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
			wsHub.ServeWS(w, r, middleware.UserID(r.Context()))
		})
	})

	return r
}
