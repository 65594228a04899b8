package invite

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	appctx "github.com/movalabs/panelgate/internal/context"
	"github.com/movalabs/panelgate/internal/repository"
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
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CreateRequest is the payload for minting a new invite code
type CreateRequest struct {
	MaxUses   int        `json:"max_uses" validate:"omitempty,min=1,max=100"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// CodeView is the invite-code representation returned to operators
type CodeView struct {
	ID         int64      `json:"id"`
	Code       string     `json:"code"`
	MaxUses    int        `json:"max_uses"`
	Uses       int        `json:"uses"`
	Used       bool       `json:"used"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	ConsumedBy *int64     `json:"consumed_by,omitempty"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Handler handles operator-facing invite-code administration
type Handler struct {
	service  *Service
	validate *validator.Validate
}

// NewHandler creates a new invite Handler instance
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:  service,
		validate: validator.New(),
	}
}

// Create mints a new invite code
// POST /api/v1/invites
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	accountID, ok := appctx.ExtractAccountID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "AUTH_TOKEN_INVALID", "Invalid or expired session")
		return
	}

	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Request validation failed")
		return
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(time.Now().UTC()) {
		h.writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Expiry must be in the future")
		return
	}
	if req.MaxUses == 0 {
		req.MaxUses = 1
	}

	record, err := h.service.Create(r.Context(), accountID, req.MaxUses, req.ExpiresAt)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create invite code")
		return
	}

	h.writeSuccess(w, http.StatusCreated, map[string]interface{}{
		"invite": toCodeView(record),
	})
}

// List returns all non-revoked invite codes
// GET /api/v1/invites
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.List(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list invite codes")
		return
	}

	views := make([]CodeView, 0, len(records))
	for _, record := range records {
		views = append(views, toCodeView(record))
	}

	h.writeSuccess(w, http.StatusOK, map[string]interface{}{
		"invites": views,
		"total":   len(views),
	})
}

// Revoke soft-deletes an invite code
// DELETE /api/v1/invites/{id}
func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid invite code ID")
		return
	}

	if err := h.service.Revoke(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrInviteNotFound) {
			h.writeError(w, http.StatusNotFound, "INVITE_NOT_FOUND", "Invite code not found")
			return
		}
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to revoke invite code")
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]string{
		"message": "Invite code revoked",
	})
}

func toCodeView(record *repository.InviteCode) CodeView {
	return CodeView{
		ID:         record.ID,
		Code:       record.Code,
		MaxUses:    record.MaxUses,
		Uses:       record.Uses,
		Used:       record.Used,
		ExpiresAt:  record.ExpiresAt,
		ConsumedBy: record.ConsumedBy,
		ConsumedAt: record.ConsumedAt,
		CreatedAt:  record.CreatedAt,
	}
}

// writeSuccess writes a JSON success response
func (h *Handler) writeSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

// writeError writes a JSON error response
func (h *Handler) writeError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
		},
		Timestamp: time.Now().UTC(),
	})
}
