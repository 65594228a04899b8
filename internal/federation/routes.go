// Package federation implements the external identity-provider login flow:
// CSRF state nonces, code exchange, group-based role derivation, and
// account linking or creation.
package federation

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers federation routes with the Chi router.
// authGuard applies the generic auth-endpoint rate limit.
func RegisterRoutes(r chi.Router, handler *Handler, authGuard func(next http.Handler) http.Handler) {
	r.Route("/oauth", func(r chi.Router) {
		r.Use(authGuard)

		// GET /api/v1/oauth/start - Redirect to the external provider
		r.Get("/start", handler.Start)

		// GET /api/v1/oauth/callback - Provider redirect target
		r.Get("/callback", handler.Callback)
	})
}
