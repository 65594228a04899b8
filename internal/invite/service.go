// Package invite implements the limited-use registration code ledger.
package invite

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/movalabs/panelgate/internal/repository"
)

// Invite service errors
var (
	ErrCodeMalformed = errors.New("invite code contains invalid characters")
	ErrCodeNotFound  = errors.New("invite code not found")
	ErrCodeUsed      = errors.New("invite code already used")
	ErrCodeExpired   = errors.New("invite code expired")
)

// codeAlphabet excludes characters that read ambiguously (I, L, O, 0, 1).
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const (
	codeGroups     = 4
	codeGroupLen   = 4
	createAttempts = 5
)

// Service handles invite-code validation, generation, and administration
type Service struct {
	repo   repository.InviteRepository
	logger *slog.Logger
}

// NewService creates a new invite Service instance
func NewService(repo repository.InviteRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// Normalize uppercases and trims a submitted code and rejects any character
// outside [A-Z0-9_-] before the string goes anywhere near a query.
func Normalize(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return "", ErrCodeMalformed
	}
	for _, c := range code {
		switch {
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_' || c == '-':
		default:
			return "", ErrCodeMalformed
		}
	}
	return code, nil
}

// Validate checks that a code exists, is unused, unexpired, and has uses
// remaining. It returns the record so registration can consume it by ID in
// the same transaction as the account write.
func (s *Service) Validate(ctx context.Context, code string) (*repository.InviteCode, error) {
	normalized, err := Normalize(code)
	if err != nil {
		return nil, err
	}

	record, err := s.repo.GetByCode(ctx, normalized)
	if err != nil {
		if errors.Is(err, repository.ErrInviteNotFound) {
			return nil, ErrCodeNotFound
		}
		return nil, err
	}

	if record.Used || record.Uses >= record.MaxUses {
		return nil, ErrCodeUsed
	}
	if record.ExpiresAt != nil && !record.ExpiresAt.After(time.Now().UTC()) {
		return nil, ErrCodeExpired
	}

	return record, nil
}

// Generate produces a random code in hyphen-delimited groups, e.g.
// "G7KQ-W2MR-XA9C-T4VB".
func Generate() (string, error) {
	groups := make([]string, codeGroups)
	for g := range groups {
		chars := make([]byte, codeGroupLen)
		for i := range chars {
			n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
			if err != nil {
				return "", fmt.Errorf("generate invite code: %w", err)
			}
			chars[i] = codeAlphabet[n.Int64()]
		}
		groups[g] = string(chars)
	}
	return strings.Join(groups, "-"), nil
}

// Create generates and persists a new invite code. Uniqueness is enforced by
// the insert itself; on the (vanishingly unlikely) collision the code is
// regenerated, up to a bounded number of attempts.
func (s *Service) Create(ctx context.Context, createdBy int64, maxUses int, expiresAt *time.Time) (*repository.InviteCode, error) {
	if maxUses < 1 {
		maxUses = 1
	}

	var lastErr error
	for attempt := 0; attempt < createAttempts; attempt++ {
		code, err := Generate()
		if err != nil {
			return nil, err
		}

		record := &repository.InviteCode{
			Code:      code,
			CreatedBy: createdBy,
			ExpiresAt: expiresAt,
			MaxUses:   maxUses,
		}
		if err := s.repo.Create(ctx, record); err != nil {
			if errors.Is(err, repository.ErrInviteExists) {
				lastErr = err
				continue
			}
			return nil, err
		}
		return record, nil
	}

	return nil, fmt.Errorf("invite code collision retries exhausted: %w", lastErr)
}

// List returns all non-revoked invite codes
func (s *Service) List(ctx context.Context) ([]*repository.InviteCode, error) {
	return s.repo.List(ctx, false)
}

// Revoke soft-deletes an invite code
func (s *Service) Revoke(ctx context.Context, codeID int64) error {
	return s.repo.Revoke(ctx, codeID)
}
