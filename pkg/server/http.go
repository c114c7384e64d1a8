package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// HTTPHandler serves the status endpoints and the WebSocket transport.
func (s *Server) HTTPHandler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(struct {
			Clients       int     `json:"clients"`
			Games         int     `json:"games"`
			UptimeSeconds float64 `json:"uptime_seconds"`
		}{
			Clients:       s.ClientCount(),
			Games:         s.GameCount(),
			UptimeSeconds: s.Uptime().Seconds(),
		})
	})

	r.Get("/ws", s.handleWS)

	return r
}
