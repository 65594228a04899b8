// Package auth provides account registration, credential verification,
// and opaque-token session management.
package auth

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers authentication routes with the Chi router.
// loginGuard applies the stricter login rate limit, authGuard the generic
// one; sessionMiddleware authenticates requests to /me.
func RegisterRoutes(r chi.Router, handler *AuthHandler, sessionMiddleware func(next http.Handler) http.Handler, authGuard func(next http.Handler) http.Handler, loginGuard func(next http.Handler) http.Handler) {
	r.Route("/auth", func(r chi.Router) {
		// POST /api/v1/auth/register - Create account with secret code
		r.With(authGuard).Post("/register", handler.Register)

		// POST /api/v1/auth/login - Authenticate and issue session token
		r.With(loginGuard).Post("/login", handler.Login)

		// POST /api/v1/auth/logout - Revoke session token (idempotent)
		r.With(authGuard).Post("/logout", handler.Logout)

		// GET /api/v1/auth/me - Authenticated account profile
		r.With(sessionMiddleware).Get("/me", handler.GetMe)

		// PUT /api/v1/auth/password - Change password, revoking all sessions
		r.With(sessionMiddleware, authGuard).Put("/password", handler.ChangePassword)
	})
}
