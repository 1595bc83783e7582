package audit

import (
	"context"
	"database/sql"
)

// PostgresRepo persists audit events.
//
// NOTE: assumed table:
// - audit_events (id PK, type, actor_user_id, actor_role, ip_address,
//   wallet_user_id, call_id, message, metadata, created_at), INSERT-only.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, type, actor_user_id, actor_role, ip_address, wallet_user_id, call_id, message, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, string(e.Type), e.ActorUserID, e.ActorRole, e.IPAddress,
		e.WalletUserID, e.CallID, e.Message, e.Metadata, e.CreatedAt)
	return err
}
