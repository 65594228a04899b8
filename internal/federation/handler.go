package federation

import (
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/movalabs/panelgate/internal/abuse"
)

// Handler handles the browser-facing federation endpoints
type Handler struct {
	service     *Service
	frontendURL string
	logger      *slog.Logger
}

// NewHandler creates a federation Handler. frontendURL is the dashboard
// origin all callback results redirect back to.
func NewHandler(service *Service, frontendURL string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		service:     service,
		frontendURL: frontendURL,
		logger:      logger,
	}
}

// Start initiates the federation handshake
// GET /api/v1/oauth/start
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	authURL, err := h.service.Start(r.Context(), abuse.ClientIP(r))
	if err != nil {
		h.logger.Error("failed to initiate federation flow", "error", err)
		h.redirectFailure(w, r)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// Callback handles the provider redirect carrying code and state
// GET /api/v1/oauth/callback?code=...&state=...
//
// Every failure collapses to the same generic error redirect; the reason
// is logged internally only. The session token rides back to the front
// end as a query parameter.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		h.redirectFailure(w, r)
		return
	}

	flow, err := h.service.Complete(r.Context(), code, state, abuse.ClientIP(r), r.UserAgent())
	if err != nil {
		h.redirectFailure(w, r)
		return
	}

	target := h.frontendURL + "/auth/complete"
	if !flow.ProfileComplete {
		target = h.frontendURL + "/auth/complete-profile"
	}

	query := url.Values{}
	query.Set("session_token", flow.Token)
	query.Set("profile_complete", strconv.FormatBool(flow.ProfileComplete))
	http.Redirect(w, r, target+"?"+query.Encode(), http.StatusFound)
}

func (h *Handler) redirectFailure(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, h.frontendURL+"/login?error=federation_failed", http.StatusFound)
}
