package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Invite repository errors
var (
	ErrInviteNotFound = errors.New("invite code not found")
	ErrInviteConsumed = errors.New("invite code already consumed")
	ErrInviteExists   = errors.New("invite code already exists")
)

const inviteColumns = `id, code, created_by, expires_at, max_uses, uses, used,
	consumed_by, consumed_at, revoked_at, created_at`

// InviteRepository defines the interface for invite-code data access
type InviteRepository interface {
	Create(ctx context.Context, invite *InviteCode) error
	GetByCode(ctx context.Context, code string) (*InviteCode, error)
	// Consume atomically burns one use of the code. The precondition
	// (not used, uses < max_uses) is evaluated inside the UPDATE itself,
	// so two concurrent consumers of a single-use code cannot both
	// succeed. Must run on the same transaction as the account write.
	Consume(ctx context.Context, tx pgx.Tx, codeID, consumerID int64) (*InviteCode, error)
	List(ctx context.Context, includeRevoked bool) ([]*InviteCode, error)
	Revoke(ctx context.Context, codeID int64) error
}

// inviteRepository implements InviteRepository using PostgreSQL
type inviteRepository struct {
	pool *pgxpool.Pool
}

// NewInviteRepository creates a new InviteRepository instance
func NewInviteRepository(pool *pgxpool.Pool) InviteRepository {
	return &inviteRepository{pool: pool}
}

// Create inserts a new invite code. Uniqueness is enforced at insert time by
// the DB constraint; a collision surfaces as ErrInviteExists so the caller
// can regenerate and retry.
func (r *inviteRepository) Create(ctx context.Context, invite *InviteCode) error {
	query := `
		INSERT INTO invite_codes (code, created_by, expires_at, max_uses)
		VALUES ($1, $2, $3, $4)
		RETURNING id, uses, used, created_at
	`

	err := r.pool.QueryRow(ctx, query,
		invite.Code,
		invite.CreatedBy,
		invite.ExpiresAt,
		invite.MaxUses,
	).Scan(&invite.ID, &invite.Uses, &invite.Used, &invite.CreatedAt)

	if err != nil {
		if strings.Contains(err.Error(), "idx_invite_codes_code") {
			return ErrInviteExists
		}
		return err
	}

	return nil
}

// GetByCode retrieves a non-revoked invite code by its normalized code string
func (r *inviteRepository) GetByCode(ctx context.Context, code string) (*InviteCode, error) {
	query := `
		SELECT ` + inviteColumns + `
		FROM invite_codes
		WHERE code = $1 AND revoked_at IS NULL
	`

	invite := &InviteCode{}
	err := r.pool.QueryRow(ctx, query, code).Scan(
		&invite.ID,
		&invite.Code,
		&invite.CreatedBy,
		&invite.ExpiresAt,
		&invite.MaxUses,
		&invite.Uses,
		&invite.Used,
		&invite.ConsumedBy,
		&invite.ConsumedAt,
		&invite.RevokedAt,
		&invite.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInviteNotFound
		}
		return nil, err
	}

	return invite, nil
}

// Consume burns one use of the code inside the caller's transaction.
func (r *inviteRepository) Consume(ctx context.Context, tx pgx.Tx, codeID, consumerID int64) (*InviteCode, error) {
	query := `
		UPDATE invite_codes
		SET uses = uses + 1,
		    used = (uses + 1 >= max_uses),
		    consumed_by = $2,
		    consumed_at = now()
		WHERE id = $1
		  AND NOT used
		  AND uses < max_uses
		  AND revoked_at IS NULL
		  AND (expires_at IS NULL OR expires_at > now())
		RETURNING ` + inviteColumns + `
	`

	invite := &InviteCode{}
	err := tx.QueryRow(ctx, query, codeID, consumerID).Scan(
		&invite.ID,
		&invite.Code,
		&invite.CreatedBy,
		&invite.ExpiresAt,
		&invite.MaxUses,
		&invite.Uses,
		&invite.Used,
		&invite.ConsumedBy,
		&invite.ConsumedAt,
		&invite.RevokedAt,
		&invite.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInviteConsumed
		}
		return nil, err
	}

	return invite, nil
}

// List returns invite codes, newest first
func (r *inviteRepository) List(ctx context.Context, includeRevoked bool) ([]*InviteCode, error) {
	query := `SELECT ` + inviteColumns + ` FROM invite_codes`
	if !includeRevoked {
		query += ` WHERE revoked_at IS NULL`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invites []*InviteCode
	for rows.Next() {
		invite := &InviteCode{}
		if err := rows.Scan(
			&invite.ID,
			&invite.Code,
			&invite.CreatedBy,
			&invite.ExpiresAt,
			&invite.MaxUses,
			&invite.Uses,
			&invite.Used,
			&invite.ConsumedBy,
			&invite.ConsumedAt,
			&invite.RevokedAt,
			&invite.CreatedAt,
		); err != nil {
			return nil, err
		}
		invites = append(invites, invite)
	}

	return invites, rows.Err()
}

// Revoke soft-deletes an invite code. Codes referenced by a completed
// registration stay in the table; revoking only stops further consumption.
func (r *inviteRepository) Revoke(ctx context.Context, codeID int64) error {
	result, err := r.pool.Exec(ctx,
		`UPDATE invite_codes SET revoked_at = now() WHERE id = $1 AND revoked_at IS NULL`,
		codeID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrInviteNotFound
	}
	return nil
}
