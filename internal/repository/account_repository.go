package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Common errors
var (
	ErrAccountNotFound = errors.New("account not found")
	ErrEmailTaken      = errors.New("email already registered")
	ErrNicknameTaken   = errors.New("nickname already taken")
	ErrExternalIDTaken = errors.New("external identity already linked")
)

const accountColumns = `id, email, nickname, name, password_hash, external_id, role,
	failed_logins, locked_until, last_login_at, is_active, created_at, updated_at`

// AccountRepository defines the interface for account data access
type AccountRepository interface {
	Create(ctx context.Context, tx pgx.Tx, account *Account) error
	GetByID(ctx context.Context, id int64) (*Account, error)
	GetByEmail(ctx context.Context, email string) (*Account, error)
	GetByNickname(ctx context.Context, nickname string) (*Account, error)
	GetByExternalID(ctx context.Context, externalID string) (*Account, error)
	NicknameExists(ctx context.Context, nickname string) (bool, error)
	// RecordLoginFailure atomically increments the failed-login counter and
	// sets locked_until once the counter reaches maxFailures. It returns the
	// post-update counter and lockout timestamp.
	RecordLoginFailure(ctx context.Context, id int64, maxFailures int, lockout time.Duration) (int, *time.Time, error)
	// ResetLoginState clears the failure counter and lockout and stamps
	// last_login_at in a single update.
	ResetLoginState(ctx context.Context, id int64) error
	LinkExternalID(ctx context.Context, id int64, externalID string) error
	UpdateFederatedProfile(ctx context.Context, tx pgx.Tx, id int64, name, role string) error
	SetPassword(ctx context.Context, id int64, passwordHash string) error
}

// accountRepository implements AccountRepository using PostgreSQL
type accountRepository struct {
	pool *pgxpool.Pool
}

// NewAccountRepository creates a new AccountRepository instance
func NewAccountRepository(pool *pgxpool.Pool) AccountRepository {
	return &accountRepository{pool: pool}
}

// Create inserts a new account. When tx is non-nil the insert joins the
// caller's transaction so account creation and invite-code consumption
// commit or roll back together.
func (r *accountRepository) Create(ctx context.Context, tx pgx.Tx, account *Account) error {
	query := `
		INSERT INTO accounts (email, nickname, name, password_hash, external_id, role, is_active)
		VALUES (LOWER($1), $2, $3, $4, $5, $6, true)
		RETURNING id, created_at, updated_at
	`

	var row pgx.Row
	if tx != nil {
		row = tx.QueryRow(ctx, query,
			account.Email, account.Nickname, account.Name,
			account.PasswordHash, account.ExternalID, account.Role)
	} else {
		row = r.pool.QueryRow(ctx, query,
			account.Email, account.Nickname, account.Name,
			account.PasswordHash, account.ExternalID, account.Role)
	}

	if err := row.Scan(&account.ID, &account.CreatedAt, &account.UpdatedAt); err != nil {
		return mapAccountConstraint(err)
	}

	account.Email = strings.ToLower(account.Email)
	account.IsActive = true
	return nil
}

// mapAccountConstraint translates unique-constraint violations into
// sentinel errors the service layer can dispatch on.
func mapAccountConstraint(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "idx_accounts_email"):
		return ErrEmailTaken
	case strings.Contains(msg, "idx_accounts_nickname"):
		return ErrNicknameTaken
	case strings.Contains(msg, "idx_accounts_external_id"):
		return ErrExternalIDTaken
	}
	return err
}

func (r *accountRepository) getOne(ctx context.Context, query string, arg any) (*Account, error) {
	account := &Account{}
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&account.ID,
		&account.Email,
		&account.Nickname,
		&account.Name,
		&account.PasswordHash,
		&account.ExternalID,
		&account.Role,
		&account.FailedLogins,
		&account.LockedUntil,
		&account.LastLoginAt,
		&account.IsActive,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return account, nil
}

// GetByID retrieves an account by its ID
func (r *accountRepository) GetByID(ctx context.Context, id int64) (*Account, error) {
	return r.getOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
}

// GetByEmail retrieves an account by email (case-insensitive)
func (r *accountRepository) GetByEmail(ctx context.Context, email string) (*Account, error) {
	return r.getOne(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE LOWER(email) = LOWER($1)`, email)
}

// GetByNickname retrieves an account by nickname
func (r *accountRepository) GetByNickname(ctx context.Context, nickname string) (*Account, error) {
	return r.getOne(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE nickname = $1`, nickname)
}

// GetByExternalID retrieves an account by its linked external identity
func (r *accountRepository) GetByExternalID(ctx context.Context, externalID string) (*Account, error) {
	return r.getOne(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE external_id = $1`, externalID)
}

// NicknameExists checks whether a nickname is already taken
func (r *accountRepository) NicknameExists(ctx context.Context, nickname string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM accounts WHERE nickname = $1)`, nickname).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// RecordLoginFailure increments failed_logins and applies the lockout in one
// conditional update, so concurrent failures cannot double-lock or skip the
// threshold. Increments stop once an account is already locked.
func (r *accountRepository) RecordLoginFailure(ctx context.Context, id int64, maxFailures int, lockout time.Duration) (int, *time.Time, error) {
	query := `
		UPDATE accounts
		SET failed_logins = failed_logins + 1,
		    locked_until = CASE
		        WHEN failed_logins + 1 >= $2 THEN now() + $3::interval
		        ELSE locked_until
		    END,
		    updated_at = now()
		WHERE id = $1
		  AND (locked_until IS NULL OR locked_until < now())
		RETURNING failed_logins, locked_until
	`

	var failures int
	var lockedUntil *time.Time
	err := r.pool.QueryRow(ctx, query, id, maxFailures, lockout.String()).
		Scan(&failures, &lockedUntil)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Already locked; report the standing lockout without incrementing.
			account, gerr := r.GetByID(ctx, id)
			if gerr != nil {
				return 0, nil, gerr
			}
			return account.FailedLogins, account.LockedUntil, nil
		}
		return 0, nil, err
	}

	return failures, lockedUntil, nil
}

// ResetLoginState clears the failure counter and lockout on successful login
func (r *accountRepository) ResetLoginState(ctx context.Context, id int64) error {
	query := `
		UPDATE accounts
		SET failed_logins = 0,
		    locked_until = NULL,
		    last_login_at = now(),
		    updated_at = now()
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// LinkExternalID attaches an external identity to an existing account.
// The partial unique index on external_id rejects double-linking.
func (r *accountRepository) LinkExternalID(ctx context.Context, id int64, externalID string) error {
	query := `
		UPDATE accounts
		SET external_id = $2, updated_at = now()
		WHERE id = $1 AND external_id IS NULL
	`

	result, err := r.pool.Exec(ctx, query, id, externalID)
	if err != nil {
		return mapAccountConstraint(err)
	}
	if result.RowsAffected() == 0 {
		return ErrExternalIDTaken
	}
	return nil
}

// UpdateFederatedProfile refreshes the display name and derived role from
// the external provider on each federated login.
func (r *accountRepository) UpdateFederatedProfile(ctx context.Context, tx pgx.Tx, id int64, name, role string) error {
	query := `
		UPDATE accounts
		SET name = $2, role = $3, updated_at = now()
		WHERE id = $1
	`

	var err error
	if tx != nil {
		_, err = tx.Exec(ctx, query, id, name, role)
	} else {
		_, err = r.pool.Exec(ctx, query, id, name, role)
	}
	return err
}

// SetPassword stores a new password hash for an account
func (r *accountRepository) SetPassword(ctx context.Context, id int64, passwordHash string) error {
	result, err := r.pool.Exec(ctx,
		`UPDATE accounts SET password_hash = $2, updated_at = now() WHERE id = $1`,
		id, passwordHash)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}
