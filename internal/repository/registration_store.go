package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RegistrationStore performs the combined writes that must commit or roll
// back as one unit. A code is never consumed if the account insert fails,
// and never left unconsumed if it succeeds.
type RegistrationStore interface {
	// CreateAccountWithInvite inserts the account and consumes one use of
	// the invite code in a single transaction.
	CreateAccountWithInvite(ctx context.Context, account *Account, inviteID int64) (*InviteCode, error)
}

type registrationStore struct {
	pool     *pgxpool.Pool
	accounts AccountRepository
	invites  InviteRepository
}

// NewRegistrationStore creates a RegistrationStore over the given repositories
func NewRegistrationStore(pool *pgxpool.Pool, accounts AccountRepository, invites InviteRepository) RegistrationStore {
	return &registrationStore{pool: pool, accounts: accounts, invites: invites}
}

func (s *registrationStore) CreateAccountWithInvite(ctx context.Context, account *Account, inviteID int64) (*InviteCode, error) {
	var consumed *InviteCode
	err := WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if err := s.accounts.Create(ctx, tx, account); err != nil {
			return err
		}
		invite, err := s.invites.Consume(ctx, tx, inviteID, account.ID)
		if err != nil {
			return err
		}
		consumed = invite
		return nil
	})
	if err != nil {
		return nil, err
	}
	return consumed, nil
}
