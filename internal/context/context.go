package context

import (
	"context"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// AccountIDKey is the context key for the authenticated account ID
	AccountIDKey ContextKey = "account_id"
	// RoleKey is the context key for the authenticated account's role
	RoleKey ContextKey = "role"
	// ClientIPKey is the context key for the originating client IP
	ClientIPKey ContextKey = "client_ip"
)

// ExtractAccountID extracts the account ID from the request context
func ExtractAccountID(ctx context.Context) (int64, bool) {
	accountID, ok := ctx.Value(AccountIDKey).(int64)
	return accountID, ok
}

// ExtractRole extracts the role name from the request context
func ExtractRole(ctx context.Context) (string, bool) {
	role, ok := ctx.Value(RoleKey).(string)
	return role, ok
}

// ExtractClientIP extracts the client IP from the request context
func ExtractClientIP(ctx context.Context) (string, bool) {
	ip, ok := ctx.Value(ClientIPKey).(string)
	return ip, ok
}
