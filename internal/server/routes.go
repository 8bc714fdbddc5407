package server

import (
	"github.com/go-chi/chi/v5"
)

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	r := s.router

	// Session routes
	r.Route("/session", func(r chi.Router) {
		r.Get("/", s.listSessions)
		r.Post("/", s.createSession)
		r.Delete("/", s.clearSessions)

		r.Get("/current", s.getCurrentSession)
		r.Post("/current", s.setCurrentSession)

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Patch("/", s.renameSession)
			r.Delete("/", s.deleteSession)

			r.Get("/message", s.getMessages)
			r.Post("/message", s.sendMessage) // Fire-and-forget; result streams via SSE
			r.Post("/abort", s.abortSession)
			r.Post("/workspace", s.switchWorkspace)

			r.Post("/permissions/{permissionID}", s.respondPermission)
		})
	})

	// Event streaming (SSE); each connection is a window
	r.Get("/event", s.windowEvents)
	r.Get("/event/ball", s.floatingBallEvents)

	// Configuration
	r.Route("/config", func(r chi.Router) {
		r.Get("/", s.getConfig)
		r.Put("/", s.updateConfig)
	})

	// Authentication
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.login)
		r.Post("/logout", s.logout)
		r.Get("/user", s.getUser)
	})

	// Granted tool permissions
	r.Route("/permission", func(r chi.Router) {
		r.Get("/", s.listPermissions)
		r.Post("/", s.grantPermission)
		r.Delete("/", s.revokePermission)
		r.Post("/clear", s.clearPermissions)
	})

	// Command blacklist
	r.Route("/blacklist", func(r chi.Router) {
		r.Get("/", s.getBlacklist)
		r.Post("/", s.addBlacklistEntry)
		r.Delete("/", s.removeBlacklistEntry)
		r.Post("/reset", s.resetBlacklist)
	})
}
