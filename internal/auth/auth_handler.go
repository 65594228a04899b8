package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/movalabs/panelgate/internal/abuse"
	appctx "github.com/movalabs/panelgate/internal/context"
)

// APIResponse represents the standard API response format
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// APIError represents the error detail in API response
type APIError struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Details map[string][]string `json:"details,omitempty"`
}

// AuthHandler handles HTTP requests for authentication endpoints
type AuthHandler struct {
	authService    *AuthService
	validate       *validator.Validate
	failurePadding time.Duration
}

// NewAuthHandler creates a new AuthHandler instance
func NewAuthHandler(authService *AuthService, failurePadding time.Duration) *AuthHandler {
	return &AuthHandler{
		authService:    authService,
		validate:       validator.New(),
		failurePadding: failurePadding,
	}
}

// Register handles account registration
// POST /api/v1/auth/register
//
// Conflict responses are padded the same way failed logins are, so timing
// cannot distinguish a taken email from a spent code.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}

	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Request validation failed",
			validatorDetails(err))
		return
	}

	response, validationErrors, err := h.authService.Register(r.Context(), req, abuse.ClientIP(r))
	if err != nil {
		switch {
		case errors.Is(err, ErrEmailTaken):
			h.padFailure(start)
			h.writeError(w, http.StatusConflict, CodeConflict, "An account with this email already exists", nil)
		case errors.Is(err, ErrNicknameTaken):
			h.padFailure(start)
			h.writeError(w, http.StatusConflict, CodeConflict, "This nickname is already taken", nil)
		case errors.Is(err, ErrInviteUsed):
			h.padFailure(start)
			h.writeError(w, http.StatusConflict, CodeConflict, "Secret code has already been used", nil)
		default:
			h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
		}
		return
	}

	if len(validationErrors) > 0 {
		details := make(map[string][]string)
		for _, ve := range validationErrors {
			details[ve.Field] = append(details[ve.Field], ve.Message)
		}
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Request validation failed", details)
		return
	}

	h.writeSuccess(w, http.StatusCreated, response)
}

// Login handles account authentication
// POST /api/v1/auth/login
//
// Failure responses are padded to a constant minimum duration measured from
// request start, so the latency of "unknown identifier" and "wrong
// password" cannot be told apart.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}

	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Request validation failed",
			validatorDetails(err))
		return
	}

	response, err := h.authService.Login(r.Context(), req, abuse.ClientIP(r), r.UserAgent())
	if err != nil {
		var locked *LockedError
		if errors.As(err, &locked) {
			h.padFailure(start)
			w.Header().Set("Retry-After", strconv.Itoa(locked.RetryAfter()))
			h.writeError(w, http.StatusLocked, CodeAccountLocked,
				"Account temporarily locked due to repeated failures", map[string][]string{
					"retry_after": {strconv.Itoa(locked.RetryAfter())},
				})
			return
		}
		if errors.Is(err, ErrInvalidCredentials) {
			h.padFailure(start)
			h.writeError(w, http.StatusUnauthorized, CodeInvalidCredentials, "Invalid identifier or password", nil)
			return
		}
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
		return
	}

	h.writeSuccess(w, http.StatusOK, response)
}

// Logout handles session revocation
// POST /api/v1/auth/logout
//
// Logout is idempotent: revoking an unknown or already-revoked token
// returns the same success response.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req LogoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}

	token := req.SessionToken
	if token == "" {
		token = bearerToken(r)
	}

	if err := h.authService.Logout(r.Context(), token); err != nil {
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]string{
		"message": "Successfully logged out",
	})
}

// ChangePassword replaces the account's password after verifying the
// current one. Every session is revoked on success, so the client must log
// in again with the new password.
// PUT /api/v1/auth/password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	accountID, ok := extractAccountID(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, CodeAuthTokenInvalid, "Invalid or expired session", nil)
		return
	}

	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Request validation failed",
			validatorDetails(err))
		return
	}

	validationErrors, err := h.authService.ChangePassword(r.Context(), accountID, req, abuse.ClientIP(r))
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			h.padFailure(start)
			h.writeError(w, http.StatusUnauthorized, CodeInvalidCredentials, "Current password is incorrect", nil)
			return
		}
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
		return
	}
	if len(validationErrors) > 0 {
		details := make(map[string][]string)
		for _, ve := range validationErrors {
			details[ve.Field] = append(details[ve.Field], ve.Message)
		}
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Request validation failed", details)
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]string{
		"message": "Password changed. Please log in again.",
	})
}

// GetMe returns the authenticated account's profile
// GET /api/v1/auth/me
func (h *AuthHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	accountID, ok := extractAccountID(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, CodeAuthTokenInvalid, "Invalid or expired session", nil)
		return
	}

	view, err := h.authService.GetAccount(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			h.writeError(w, http.StatusNotFound, "ACCOUNT_NOT_FOUND", "Account not found", nil)
			return
		}
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]interface{}{
		"account": view,
	})
}

// padFailure sleeps until the configured minimum failure duration has
// elapsed since start.
func (h *AuthHandler) padFailure(start time.Time) {
	if h.failurePadding <= 0 {
		return
	}
	if elapsed := time.Since(start); elapsed < h.failurePadding {
		time.Sleep(h.failurePadding - elapsed)
	}
}

// bearerToken extracts a token from the Authorization header, if present
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}

// extractAccountID reads the authenticated account ID placed in the request
// context by the session middleware.
func extractAccountID(r *http.Request) (int64, bool) {
	return appctx.ExtractAccountID(r.Context())
}

// validatorDetails flattens validator.ValidationErrors into a field->messages map
func validatorDetails(err error) map[string][]string {
	details := make(map[string][]string)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			details[fe.Field()] = append(details[fe.Field()], "failed validation on '"+fe.Tag()+"'")
		}
	}
	return details
}

// writeSuccess writes a JSON success response
func (h *AuthHandler) writeSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

// writeError writes a JSON error response
func (h *AuthHandler) writeError(w http.ResponseWriter, statusCode int, code, message string, details map[string][]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
		Timestamp: time.Now().UTC(),
	})
}
