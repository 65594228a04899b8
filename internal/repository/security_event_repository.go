package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SecurityEventRepository appends to the security_events audit table.
// The table is append-only; there is no update or delete path.
type SecurityEventRepository interface {
	Append(ctx context.Context, event *SecurityEvent) error
}

type securityEventRepository struct {
	pool *pgxpool.Pool
}

// NewSecurityEventRepository creates a new SecurityEventRepository instance
func NewSecurityEventRepository(pool *pgxpool.Pool) SecurityEventRepository {
	return &securityEventRepository{pool: pool}
}

// Append inserts one event. Context fields are stored as JSONB.
func (r *securityEventRepository) Append(ctx context.Context, event *SecurityEvent) error {
	fields, err := json.Marshal(event.Fields)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO security_events (category, ip_address, account_id, fields)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`

	return r.pool.QueryRow(ctx, query,
		event.Category,
		event.IPAddress,
		event.AccountID,
		fields,
	).Scan(&event.ID, &event.CreatedAt)
}
