package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/movalabs/panelgate/internal/abuse"
	appctx "github.com/movalabs/panelgate/internal/context"
	"github.com/movalabs/panelgate/internal/repository"
)

// ErrorResponse represents the standard error response format
type ErrorResponse struct {
	Success   bool        `json:"success"`
	Error     ErrorDetail `json:"error"`
	Timestamp time.Time   `json:"timestamp"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SessionValidator validates an opaque session token and returns its
// account. Satisfied by auth.SessionManager.
type SessionValidator interface {
	Validate(ctx context.Context, token string) (*repository.Account, error)
}

// SessionMiddleware authenticates requests via opaque session tokens from
// the Authorization header
type SessionMiddleware struct {
	sessions SessionValidator
}

// NewSessionMiddleware creates a new SessionMiddleware instance
func NewSessionMiddleware(sessions SessionValidator) *SessionMiddleware {
	return &SessionMiddleware{sessions: sessions}
}

// Authenticate validates the bearer session token and injects the account
// ID, role, and client IP into the request context
func (m *SessionMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			m.writeError(w, http.StatusUnauthorized, "AUTH_TOKEN_MISSING", "Authorization header is required")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			m.writeError(w, http.StatusUnauthorized, "AUTH_TOKEN_INVALID", "Invalid authorization header format")
			return
		}

		token := parts[1]
		if token == "" {
			m.writeError(w, http.StatusUnauthorized, "AUTH_TOKEN_INVALID", "Token is empty")
			return
		}

		account, err := m.sessions.Validate(r.Context(), token)
		if err != nil {
			m.writeError(w, http.StatusUnauthorized, "AUTH_TOKEN_INVALID", "Invalid or expired session")
			return
		}

		ctx := context.WithValue(r.Context(), appctx.AccountIDKey, account.ID)
		ctx = context.WithValue(ctx, appctx.RoleKey, account.Role)
		ctx = context.WithValue(ctx, appctx.ClientIPKey, abuse.ClientIP(r))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole gates a route to accounts whose role is in the allowed set.
// Role names outside the set, including anything unrecognized from a
// federation mapping, are rejected.
func RequireRole(allowed ...string) func(next http.Handler) http.Handler {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, role := range allowed {
		allowedSet[role] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, ok := appctx.ExtractRole(r.Context())
			if !ok {
				writeJSONError(w, http.StatusUnauthorized, "AUTH_TOKEN_INVALID", "Invalid or expired session")
				return
			}
			if _, ok := allowedSet[role]; !ok {
				writeJSONError(w, http.StatusForbidden, "FORBIDDEN", "Insufficient privileges")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeError writes a JSON error response
func (m *SessionMiddleware) writeError(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSONError(w, statusCode, code, message)
}

func writeJSONError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{
		Success: false,
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
		Timestamp: time.Now().UTC(),
	})
}
