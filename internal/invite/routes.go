package invite

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers invite administration routes with the Chi
// router. All routes require an authenticated session; requireOperator
// additionally gates them to operator roles.
func RegisterRoutes(r chi.Router, handler *Handler, sessionMiddleware, requireOperator func(next http.Handler) http.Handler) {
	r.Route("/invites", func(r chi.Router) {
		r.Use(sessionMiddleware)
		r.Use(requireOperator)

		// POST /api/v1/invites - Mint a new invite code
		r.Post("/", handler.Create)

		// GET /api/v1/invites - List invite codes
		r.Get("/", handler.List)

		// DELETE /api/v1/invites/{id} - Revoke an invite code
		r.Delete("/{id}", handler.Revoke)
	})
}
