package server

import (
	"github.com/go-chi/chi/v5"
)

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	r := s.router

	r.Get("/health", s.health)

	// Event routes
	r.Route("/event", func(r chi.Router) {
		r.Get("/", s.streamEvents)
		r.Post("/", s.publishEvent)
		r.Get("/ws", s.streamWebSocket)
		r.Get("/recent", s.recentEvents)
		r.Post("/disconnect", s.disconnectStreams)
	})
}
