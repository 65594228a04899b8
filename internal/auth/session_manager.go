package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/movalabs/panelgate/internal/repository"
)

// Session manager errors
var (
	ErrSessionInvalid = errors.New("invalid or expired session")
)

const sessionTokenBytes = 32

// IssuedSession is the one-time view of a freshly issued session. The raw
// token exists only here; storage holds its SHA-256 hash.
type IssuedSession struct {
	Token     string
	ExpiresAt time.Time
}

// SessionManager issues and validates opaque session tokens
type SessionManager struct {
	sessionRepo repository.SessionRepository
	accountRepo repository.AccountRepository
	ttl         time.Duration
	logger      *slog.Logger
}

// NewSessionManager creates a new SessionManager instance
func NewSessionManager(
	sessionRepo repository.SessionRepository,
	accountRepo repository.AccountRepository,
	ttl time.Duration,
	logger *slog.Logger,
) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SessionManager{
		sessionRepo: sessionRepo,
		accountRepo: accountRepo,
		ttl:         ttl,
		logger:      logger,
	}
}

// Issue creates a session for the account and returns the raw token exactly
// once. Sessions have a fixed lifetime; validation never extends expiry.
func (m *SessionManager) Issue(ctx context.Context, accountID int64, ip, clientInfo string) (*IssuedSession, error) {
	raw := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)

	expiresAt := time.Now().UTC().Add(m.ttl)
	session := &repository.Session{
		AccountID:  accountID,
		TokenHash:  HashToken(token),
		ExpiresAt:  expiresAt,
		IPAddress:  &ip,
		ClientInfo: &clientInfo,
	}

	if err := m.sessionRepo.Create(ctx, session); err != nil {
		return nil, err
	}

	return &IssuedSession{Token: token, ExpiresAt: expiresAt}, nil
}

// Validate resolves a presented token to its owning account. Expired or
// unknown tokens return ErrSessionInvalid; an expired row is deleted on the
// way out.
func (m *SessionManager) Validate(ctx context.Context, token string) (*repository.Account, error) {
	session, err := m.sessionRepo.GetByTokenHash(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, ErrSessionInvalid
		}
		return nil, err
	}

	if time.Now().UTC().After(session.ExpiresAt) {
		_ = m.sessionRepo.DeleteByTokenHash(ctx, session.TokenHash)
		return nil, ErrSessionInvalid
	}

	account, err := m.accountRepo.GetByID(ctx, session.AccountID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrSessionInvalid
		}
		return nil, err
	}
	if !account.IsActive {
		return nil, ErrSessionInvalid
	}

	return account, nil
}

// Revoke deletes the session matching the token. Revoking an absent or
// already-revoked token succeeds silently.
func (m *SessionManager) Revoke(ctx context.Context, token string) error {
	return m.sessionRepo.DeleteByTokenHash(ctx, HashToken(token))
}

// RevokeAll deletes every session belonging to the account. Used on
// password change so stolen tokens die with the old credential.
func (m *SessionManager) RevokeAll(ctx context.Context, accountID int64) error {
	return m.sessionRepo.DeleteByAccountID(ctx, accountID)
}

// StartSweep deletes expired sessions on a fixed interval until ctx ends.
func (m *SessionManager) StartSweep(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				deleted, err := m.sessionRepo.CleanupExpired(ctx)
				if err != nil {
					m.logger.Warn("session sweep failed", "error", err)
					continue
				}
				if deleted > 0 {
					m.logger.Debug("session sweep removed expired sessions", "count", deleted)
				}
			}
		}
	}()
}

// HashToken returns the hex SHA-256 of a raw session token
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
