// Package repository provides PostgreSQL data access for accounts, sessions,
// and invite codes.
package repository

import (
	"time"

	"github.com/google/uuid"
)

// Account represents a dashboard account.
// An account created through federation has no password hash; such an
// account must always carry an external identity ID.
type Account struct {
	ID           int64
	Email        string
	Nickname     string
	Name         string
	PasswordHash *string
	ExternalID   *string
	Role         string
	FailedLogins int
	LockedUntil  *time.Time
	LastLoginAt  *time.Time
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Locked reports whether the account is currently locked out.
func (a *Account) Locked(now time.Time) bool {
	return a.LockedUntil != nil && now.Before(*a.LockedUntil)
}

// Session represents a persisted login session. Only the SHA-256 hash of
// the opaque token is stored; the raw token is returned to the client once
// and cannot be recovered.
type Session struct {
	ID         uuid.UUID
	AccountID  int64
	TokenHash  string
	ExpiresAt  time.Time
	CreatedAt  time.Time
	IPAddress  *string
	ClientInfo *string
}

// InviteCode represents a limited-use registration code.
// Invariant: Uses <= MaxUses; once Used is set the code stays
// non-consumable regardless of later MaxUses changes.
type InviteCode struct {
	ID         int64
	Code       string
	CreatedBy  int64
	ExpiresAt  *time.Time
	MaxUses    int
	Uses       int
	Used       bool
	ConsumedBy *int64
	ConsumedAt *time.Time
	RevokedAt  *time.Time
	CreatedAt  time.Time
}

// SecurityEvent is an append-only record of an auth-relevant occurrence.
type SecurityEvent struct {
	ID        int64
	Category  string
	IPAddress string
	AccountID *int64
	Fields    map[string]string
	CreatedAt time.Time
}
