package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/movalabs/panelgate/internal/abuse"
	"github.com/movalabs/panelgate/internal/invite"
	"github.com/movalabs/panelgate/internal/metrics"
	"github.com/movalabs/panelgate/internal/repository"
	"github.com/movalabs/panelgate/internal/sanitizer"
	"github.com/movalabs/panelgate/internal/securitylog"
)

// Auth service errors
var (
	ErrInvalidCredentials = errors.New("invalid identifier or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrNicknameTaken      = errors.New("nickname already taken")
	ErrInviteUsed         = errors.New("secret code already used")
	ErrAccountNotFound    = errors.New("account not found")
)

// LockedError reports a temporarily locked account. Unlike credential
// failures, the retry time is safe to disclose.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.Until.Format(time.RFC3339))
}

// RetryAfter returns the remaining lockout in whole seconds, at least 1.
func (e *LockedError) RetryAfter() int {
	secs := int(time.Until(e.Until).Seconds())
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Error codes for API responses
const (
	CodeValidationError    = "VALIDATION_ERROR"
	CodeConflict           = "CONFLICT"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeAccountLocked      = "ACCOUNT_LOCKED"
	CodeTooManyAttempts    = "TOO_MANY_ATTEMPTS"
	CodeAuthTokenMissing   = "AUTH_TOKEN_MISSING"
	CodeAuthTokenInvalid   = "AUTH_TOKEN_INVALID"
)

// RegisterRequest represents the registration request payload
type RegisterRequest struct {
	Name       string `json:"name" validate:"required,max=100"`
	Nickname   string `json:"nickname" validate:"required,min=3,max=32,alphanum"`
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required"`
	SecretCode string `json:"secret_code" validate:"required"`
}

// LoginRequest represents the login request payload
type LoginRequest struct {
	Identifier string `json:"identifier" validate:"required"`
	Password   string `json:"password" validate:"required"`
}

// LogoutRequest represents the logout request payload
type LogoutRequest struct {
	SessionToken string `json:"session_token"`
}

// ChangePasswordRequest represents the password change request payload
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required"`
}

// AccountView is the sanitized account representation returned to clients
type AccountView struct {
	ID          int64      `json:"id"`
	Email       string     `json:"email"`
	Nickname    string     `json:"nickname"`
	Name        string     `json:"name"`
	Role        string     `json:"role"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// AuthResponse represents a successful authentication response
type AuthResponse struct {
	Account   AccountView `json:"account"`
	Token     string      `json:"session_token,omitempty"`
	ExpiresAt *time.Time  `json:"expires_at,omitempty"`
}

// ValidationError represents a validation error with field details
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// AuthServiceConfig holds lockout policy parameters
type AuthServiceConfig struct {
	MaxLoginFailures int
	LockoutDuration  time.Duration
}

// AuthService handles registration, login, and logout business logic
type AuthService struct {
	accounts  repository.AccountRepository
	regStore  repository.RegistrationStore
	inviteSvc *invite.Service
	hasher    *PasswordHasher
	sessions  *SessionManager
	tracker   *abuse.Tracker
	recorder  *securitylog.Recorder
	cfg       AuthServiceConfig
	logger    *slog.Logger
}

// NewAuthService creates a new AuthService instance
func NewAuthService(
	accounts repository.AccountRepository,
	regStore repository.RegistrationStore,
	inviteSvc *invite.Service,
	hasher *PasswordHasher,
	sessions *SessionManager,
	tracker *abuse.Tracker,
	recorder *securitylog.Recorder,
	cfg AuthServiceConfig,
	logger *slog.Logger,
) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxLoginFailures <= 0 {
		cfg.MaxLoginFailures = 5
	}
	if cfg.LockoutDuration <= 0 {
		cfg.LockoutDuration = 30 * time.Minute
	}
	return &AuthService{
		accounts:  accounts,
		regStore:  regStore,
		inviteSvc: inviteSvc,
		hasher:    hasher,
		sessions:  sessions,
		tracker:   tracker,
		recorder:  recorder,
		cfg:       cfg,
		logger:    logger,
	}
}

// Register creates a new account gated by a secret code. The account insert
// and the code consumption share one transaction.
func (s *AuthService) Register(ctx context.Context, req RegisterRequest, ip string) (*AuthResponse, []ValidationError, error) {
	var validationErrors []ValidationError

	email := strings.TrimSpace(strings.ToLower(req.Email))
	if !isValidEmail(email) {
		validationErrors = append(validationErrors, ValidationError{
			Field:   "email",
			Message: "Invalid email format",
		})
	}

	for _, err := range ValidatePassword(req.Password) {
		validationErrors = append(validationErrors, ValidationError{
			Field:   err.Field,
			Message: err.Message,
		})
	}

	// Insert-time uniqueness is still authoritative; this pre-check only
	// produces a friendly conflict before the code is burned.
	nickname := strings.TrimSpace(req.Nickname)
	if taken, err := s.accounts.NicknameExists(ctx, nickname); err != nil {
		return nil, nil, err
	} else if taken {
		metrics.RegistrationsTotal.WithLabelValues("conflict").Inc()
		return nil, nil, ErrNicknameTaken
	}

	code, err := s.inviteSvc.Validate(ctx, req.SecretCode)
	if err != nil {
		switch {
		case errors.Is(err, invite.ErrCodeMalformed):
			s.recorder.Record(securitylog.Event{
				Category: securitylog.CategorySuspiciousActivity,
				IP:       ip,
				Fields:   map[string]string{"reason": "malformed secret code"},
			})
			validationErrors = append(validationErrors, ValidationError{
				Field:   "secret_code",
				Message: "Secret code contains invalid characters",
			})
		case errors.Is(err, invite.ErrCodeNotFound):
			validationErrors = append(validationErrors, ValidationError{
				Field:   "secret_code",
				Message: "Secret code is not valid",
			})
		case errors.Is(err, invite.ErrCodeExpired):
			validationErrors = append(validationErrors, ValidationError{
				Field:   "secret_code",
				Message: "Secret code has expired",
			})
		case errors.Is(err, invite.ErrCodeUsed):
			metrics.RegistrationsTotal.WithLabelValues("code_used").Inc()
			return nil, nil, ErrInviteUsed
		default:
			return nil, nil, err
		}
	}

	if len(validationErrors) > 0 {
		metrics.RegistrationsTotal.WithLabelValues("validation_failed").Inc()
		return nil, validationErrors, nil
	}

	passwordHash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, nil, err
	}

	account := &repository.Account{
		Email:        email,
		Nickname:     nickname,
		Name:         sanitizer.DisplayName(req.Name),
		PasswordHash: &passwordHash,
		Role:         "member",
	}

	if _, err := s.regStore.CreateAccountWithInvite(ctx, account, code.ID); err != nil {
		switch {
		case errors.Is(err, repository.ErrEmailTaken):
			metrics.RegistrationsTotal.WithLabelValues("conflict").Inc()
			return nil, nil, ErrEmailTaken
		case errors.Is(err, repository.ErrNicknameTaken):
			metrics.RegistrationsTotal.WithLabelValues("conflict").Inc()
			return nil, nil, ErrNicknameTaken
		case errors.Is(err, repository.ErrInviteConsumed):
			// Lost the race for the last use of the code.
			metrics.RegistrationsTotal.WithLabelValues("code_used").Inc()
			return nil, nil, ErrInviteUsed
		}
		return nil, nil, err
	}

	metrics.RegistrationsTotal.WithLabelValues("success").Inc()
	metrics.InviteConsumedTotal.Inc()
	s.recorder.Record(securitylog.Event{
		Category:  securitylog.CategoryRegistration,
		IP:        ip,
		AccountID: &account.ID,
		Fields:    map[string]string{"nickname": account.Nickname},
	})

	return &AuthResponse{Account: toAccountView(account)}, nil, nil
}

// Login authenticates by email or nickname and issues a session. Failure
// responses all collapse to the same generic error; the handler pads their
// latency and the not-found path burns a dummy hash so the two cannot be
// told apart by timing.
func (s *AuthService) Login(ctx context.Context, req LoginRequest, ip, clientInfo string) (*AuthResponse, error) {
	identifier := strings.TrimSpace(req.Identifier)

	account, err := s.lookupAccount(ctx, identifier)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			s.hasher.DummyVerify(req.Password)
			s.failedAttempt(ip, nil, "unknown identifier")
			metrics.LoginAttemptsTotal.WithLabelValues("invalid_credentials").Inc()
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	now := time.Now().UTC()
	if account.Locked(now) {
		metrics.LoginAttemptsTotal.WithLabelValues("locked").Inc()
		return nil, &LockedError{Until: *account.LockedUntil}
	}

	if account.PasswordHash == nil || !account.IsActive {
		// Federation-only or deactivated account; same generic failure.
		s.hasher.DummyVerify(req.Password)
		s.failedAttempt(ip, &account.ID, "no interactive login")
		metrics.LoginAttemptsTotal.WithLabelValues("invalid_credentials").Inc()
		return nil, ErrInvalidCredentials
	}

	if !s.hasher.Verify(*account.PasswordHash, req.Password) {
		failures, lockedUntil, rerr := s.accounts.RecordLoginFailure(
			ctx, account.ID, s.cfg.MaxLoginFailures, s.cfg.LockoutDuration)
		if rerr != nil {
			return nil, rerr
		}
		if lockedUntil != nil && failures >= s.cfg.MaxLoginFailures {
			metrics.AccountLockoutsTotal.Inc()
			s.recorder.Record(securitylog.Event{
				Category:  securitylog.CategoryAccountLockout,
				IP:        ip,
				AccountID: &account.ID,
				Fields:    map[string]string{"locked_until": lockedUntil.UTC().Format(time.RFC3339)},
			})
		}
		s.failedAttempt(ip, &account.ID, "wrong password")
		metrics.LoginAttemptsTotal.WithLabelValues("invalid_credentials").Inc()
		return nil, ErrInvalidCredentials
	}

	if err := s.accounts.ResetLoginState(ctx, account.ID); err != nil {
		return nil, err
	}

	issued, err := s.sessions.Issue(ctx, account.ID, ip, clientInfo)
	if err != nil {
		return nil, err
	}

	metrics.LoginAttemptsTotal.WithLabelValues("success").Inc()
	s.recorder.Record(securitylog.Event{
		Category:  securitylog.CategoryLoginSuccess,
		IP:        ip,
		AccountID: &account.ID,
	})

	account.FailedLogins = 0
	account.LockedUntil = nil
	lastLogin := now
	account.LastLoginAt = &lastLogin

	return &AuthResponse{
		Account:   toAccountView(account),
		Token:     issued.Token,
		ExpiresAt: &issued.ExpiresAt,
	}, nil
}

// Logout revokes the session. Revoking a token that is already gone is a
// successful no-op.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.sessions.Revoke(ctx, token)
}

// ChangePassword verifies the current password, stores the new hash, and
// revokes every session for the account. Tokens issued under the old
// credential, including the one that authorized this call, stop working.
func (s *AuthService) ChangePassword(ctx context.Context, accountID int64, req ChangePasswordRequest, ip string) ([]ValidationError, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	if account.PasswordHash == nil || !s.hasher.Verify(*account.PasswordHash, req.CurrentPassword) {
		s.failedAttempt(ip, &account.ID, "wrong current password")
		return nil, ErrInvalidCredentials
	}

	var validationErrors []ValidationError
	for _, verr := range ValidatePassword(req.NewPassword) {
		validationErrors = append(validationErrors, ValidationError{
			Field:   verr.Field,
			Message: verr.Message,
		})
	}
	if len(validationErrors) > 0 {
		return validationErrors, nil
	}

	newHash, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		return nil, err
	}
	if err := s.accounts.SetPassword(ctx, account.ID, newHash); err != nil {
		return nil, err
	}
	if err := s.sessions.RevokeAll(ctx, account.ID); err != nil {
		return nil, err
	}

	s.recorder.Record(securitylog.Event{
		Category:  securitylog.CategoryPasswordChange,
		IP:        ip,
		AccountID: &account.ID,
	})

	return nil, nil
}

// GetAccount returns the sanitized view of an account by ID
func (s *AuthService) GetAccount(ctx context.Context, id int64) (*AccountView, error) {
	account, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	view := toAccountView(account)
	return &view, nil
}

// lookupAccount resolves an identifier to an account: email when it looks
// like one, nickname otherwise.
func (s *AuthService) lookupAccount(ctx context.Context, identifier string) (*repository.Account, error) {
	if strings.Contains(identifier, "@") {
		return s.accounts.GetByEmail(ctx, identifier)
	}
	return s.accounts.GetByNickname(ctx, identifier)
}

func (s *AuthService) failedAttempt(ip string, accountID *int64, reason string) {
	s.tracker.RecordFailure(ip)
	s.recorder.Record(securitylog.Event{
		Category:  securitylog.CategoryLoginFailure,
		IP:        ip,
		AccountID: accountID,
		Fields:    map[string]string{"reason": reason},
	})
}

func toAccountView(account *repository.Account) AccountView {
	return AccountView{
		ID:          account.ID,
		Email:       account.Email,
		Nickname:    account.Nickname,
		Name:        account.Name,
		Role:        account.Role,
		LastLoginAt: account.LastLoginAt,
		CreatedAt:   account.CreatedAt,
	}
}

// isValidEmail checks if the email format is valid
func isValidEmail(email string) bool {
	if email == "" {
		return false
	}
	_, err := mail.ParseAddress(email)
	return err == nil
}
