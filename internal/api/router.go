package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aviolabs/jblbridge/internal/jbl"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/state", s.handleState)
		r.Get("/stats", s.handleStats)
		r.Get("/history", s.handleHistory)
		r.Post("/command", s.handleCommand)
	})

	// WebSocket event stream
	wsPath := s.wsCfg.Path
	if wsPath == "" {
		wsPath = "/ws"
	}
	r.Get(wsPath, s.handleWebSocket)

	return r
}

// handleHealth returns the bridge health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.controller.Snapshot()
	connState := s.controller.ConnState()

	status := "disconnected"
	switch {
	case snapshot.LimitedControl:
		status = "limited"
	case connState == jbl.StateConnected:
		status = "online"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":          status,
		"conn_state":      connState.String(),
		"limited_control": snapshot.LimitedControl,
		"version":         s.version,
	})
}
