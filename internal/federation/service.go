package federation

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/movalabs/panelgate/internal/auth"
	"github.com/movalabs/panelgate/internal/metrics"
	"github.com/movalabs/panelgate/internal/repository"
	"github.com/movalabs/panelgate/internal/sanitizer"
	"github.com/movalabs/panelgate/internal/securitylog"
)

// Federation flow errors. Handlers collapse all of them into one generic
// failure redirect; the distinction exists for logging and metrics only.
var (
	ErrInvalidState    = errors.New("invalid or expired federation state")
	ErrProviderFailure = errors.New("external provider exchange failed")
	ErrResolveFailure  = errors.New("account resolution failed")
)

// handleAttempts bounds the nickname-collision retry loop during account
// creation before falling back to an id-derived handle.
const handleAttempts = 100

// identityProvider is the slice of Provider the service needs
type identityProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	FetchIdentity(ctx context.Context, token *oauth2.Token) (*Identity, error)
}

// sessionIssuer is the slice of auth.SessionManager the service needs
type sessionIssuer interface {
	Issue(ctx context.Context, accountID int64, ip, clientInfo string) (*auth.IssuedSession, error)
}

// passwordHasher is the slice of auth.PasswordHasher the service needs
type passwordHasher interface {
	Hash(password string) (string, error)
}

// CompletedFlow is the result of a successful federation callback
type CompletedFlow struct {
	Account         *repository.Account
	Token           string
	ExpiresAt       time.Time
	ProfileComplete bool
}

// Service drives the redirect-based federation handshake: nonce issuance,
// callback validation, external identity retrieval, and account
// resolution.
type Service struct {
	provider identityProvider
	states   StateStore
	accounts repository.AccountRepository
	sessions sessionIssuer
	hasher   passwordHasher
	recorder *securitylog.Recorder
	roles    map[string]Role
	logger   *slog.Logger
}

// NewService creates a federation Service instance
func NewService(
	provider identityProvider,
	states StateStore,
	accounts repository.AccountRepository,
	sessions sessionIssuer,
	hasher passwordHasher,
	recorder *securitylog.Recorder,
	roles map[string]Role,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		provider: provider,
		states:   states,
		accounts: accounts,
		sessions: sessions,
		hasher:   hasher,
		recorder: recorder,
		roles:    roles,
		logger:   logger,
	}
}

// Start initiates a flow: stores a fresh single-use nonce bound to the
// requesting IP and returns the provider authorization URL to redirect to.
func (s *Service) Start(ctx context.Context, ip string) (string, error) {
	nonce, err := NewNonce()
	if err != nil {
		return "", err
	}
	if err := s.states.Put(ctx, nonce, ip); err != nil {
		return "", err
	}
	return s.provider.AuthCodeURL(nonce), nil
}

// Complete handles the provider callback: validates and consumes the state
// nonce, exchanges the code, fetches the external identity, resolves it to
// a local account, and issues a session. Once started it runs to
// completion or failure; there is no partial account mutation on failure.
func (s *Service) Complete(ctx context.Context, code, state, ip, clientInfo string) (*CompletedFlow, error) {
	initiatedIP, ok, err := s.states.Take(ctx, state)
	if err != nil {
		return nil, err
	}
	if !ok {
		metrics.FederationFlowsTotal.WithLabelValues("invalid_state").Inc()
		s.recorder.Record(securitylog.Event{
			Category: securitylog.CategorySuspiciousActivity,
			IP:       ip,
			Fields:   map[string]string{"reason": "invalid federation state"},
		})
		return nil, ErrInvalidState
	}
	if initiatedIP != ip {
		// The nonce itself is the CSRF proof; an IP change mid-flow is
		// common on mobile networks, so it is logged but not fatal.
		s.logger.Warn("federation callback IP differs from initiation",
			"initiated_ip", initiatedIP, "callback_ip", ip)
	}

	token, err := s.provider.Exchange(ctx, code)
	if err != nil {
		metrics.FederationFlowsTotal.WithLabelValues("provider_error").Inc()
		s.logger.Error("federation code exchange failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrProviderFailure, err)
	}

	identity, err := s.provider.FetchIdentity(ctx, token)
	if err != nil {
		metrics.FederationFlowsTotal.WithLabelValues("provider_error").Inc()
		s.logger.Error("federation identity fetch failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrProviderFailure, err)
	}

	account, err := s.resolveAccount(ctx, identity, ip)
	if err != nil {
		metrics.FederationFlowsTotal.WithLabelValues("resolution_error").Inc()
		s.logger.Error("federation account resolution failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrResolveFailure, err)
	}

	issued, err := s.sessions.Issue(ctx, account.ID, ip, clientInfo)
	if err != nil {
		metrics.FederationFlowsTotal.WithLabelValues("resolution_error").Inc()
		return nil, err
	}

	metrics.FederationFlowsTotal.WithLabelValues("completed").Inc()
	s.recorder.Record(securitylog.Event{
		Category:  securitylog.CategoryLoginSuccess,
		IP:        ip,
		AccountID: &account.ID,
		Fields:    map[string]string{"method": "federation"},
	})

	return &CompletedFlow{
		Account:         account,
		Token:           issued.Token,
		ExpiresAt:       issued.ExpiresAt,
		ProfileComplete: identity.Email != "" && identity.Verified,
	}, nil
}

// resolveAccount maps an external identity to a local account, in order of
// precedence: existing link by external id, then link by verified email,
// then create a fresh federation-only account.
func (s *Service) resolveAccount(ctx context.Context, identity *Identity, ip string) (*repository.Account, error) {
	role := DeriveRole(identity.Groups, s.roles)
	name := sanitizer.DisplayName(identity.Username)

	account, err := s.accounts.GetByExternalID(ctx, identity.ID)
	switch {
	case err == nil:
		if uerr := s.accounts.UpdateFederatedProfile(ctx, nil, account.ID, name, role.String()); uerr != nil {
			return nil, uerr
		}
		if rerr := s.accounts.ResetLoginState(ctx, account.ID); rerr != nil {
			return nil, rerr
		}
		account.Name = name
		account.Role = role.String()
		return account, nil
	case !errors.Is(err, repository.ErrAccountNotFound):
		return nil, err
	}

	if identity.Email != "" && identity.Verified {
		account, err = s.accounts.GetByEmail(ctx, identity.Email)
		switch {
		case err == nil && account.ExternalID == nil:
			if lerr := s.accounts.LinkExternalID(ctx, account.ID, identity.ID); lerr != nil {
				return nil, lerr
			}
			if uerr := s.accounts.UpdateFederatedProfile(ctx, nil, account.ID, name, role.String()); uerr != nil {
				return nil, uerr
			}
			if rerr := s.accounts.ResetLoginState(ctx, account.ID); rerr != nil {
				return nil, rerr
			}
			externalID := identity.ID
			account.ExternalID = &externalID
			account.Name = name
			account.Role = role.String()
			s.recorder.Record(securitylog.Event{
				Category:  securitylog.CategoryFederationLink,
				IP:        ip,
				AccountID: &account.ID,
				Fields:    map[string]string{"link": "existing email"},
			})
			return account, nil
		case err == nil:
			// Email matches an account already linked to a different
			// external identity; refuse rather than hijack.
			return nil, fmt.Errorf("email already linked to another external identity")
		case !errors.Is(err, repository.ErrAccountNotFound):
			return nil, err
		}
	}

	return s.createFederatedAccount(ctx, identity, name, role, ip)
}

// createFederatedAccount creates a new account for a first-time federated
// login. The password is random and never disclosed, so interactive login
// stays impossible until the user sets one. Handle collisions are resolved
// at insert time: a failed insert on the nickname index retries with the
// next suffix rather than trusting a prior existence check.
func (s *Service) createFederatedAccount(ctx context.Context, identity *Identity, name string, role Role, ip string) (*repository.Account, error) {
	passwordHash, err := s.unusablePasswordHash()
	if err != nil {
		return nil, err
	}

	email := strings.ToLower(identity.Email)
	if email == "" {
		// Provider withheld the email scope; a placeholder satisfies the
		// uniqueness constraint and the profile stays incomplete.
		email = identity.ID + "@federated.invalid"
	}

	base := handleBase(identity.Username)
	externalID := identity.ID

	for attempt := 0; attempt <= handleAttempts; attempt++ {
		nickname := base
		if attempt > 0 {
			nickname = base + strconv.Itoa(attempt)
		}
		if attempt == handleAttempts {
			// Collision budget spent; the external id is unique by
			// construction.
			nickname = "user" + externalID
		}

		account := &repository.Account{
			Email:        email,
			Nickname:     nickname,
			Name:         name,
			PasswordHash: &passwordHash,
			ExternalID:   &externalID,
			Role:         role.String(),
		}

		err := s.accounts.Create(ctx, nil, account)
		if err == nil {
			s.recorder.Record(securitylog.Event{
				Category:  securitylog.CategoryFederationLink,
				IP:        ip,
				AccountID: &account.ID,
				Fields:    map[string]string{"link": "created account"},
			})
			return account, nil
		}
		if errors.Is(err, repository.ErrNicknameTaken) {
			continue
		}
		return nil, err
	}

	return nil, fmt.Errorf("could not allocate a unique handle")
}

// unusablePasswordHash hashes a throwaway random password. Nothing ever
// learns the plaintext, so the hash can never verify.
func (s *Service) unusablePasswordHash() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return s.hasher.Hash(base64.RawStdEncoding.EncodeToString(buf))
}

// handleBase derives a handle seed from the external display name: only
// letters and digits survive, lowercased, bounded in length.
func handleBase(username string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(username) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
		if b.Len() >= 24 {
			break
		}
	}
	base := b.String()
	if len(base) < 3 {
		base = "user" + base
	}
	return base
}
