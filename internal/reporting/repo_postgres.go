package reporting

import (
	"context"
	"database/sql"
	"time"

	"tuonane/internal/calls"
	"tuonane/internal/wallet"
)

// PostgresRepo reads reporting aggregates straight from the call and ledger
// tables. Queries filter by creation time; records whose status cannot be
// decoded are surfaced as errors rather than silently skipped.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) ListCalls(ctx context.Context, from, to time.Time, userID string) ([]calls.Record, error) {
	q := `
SELECT id, caller_id, recipient_id, price_per_second, status, start_time, end_time,
       duration_seconds, total_charged, is_confirmed, created_at, updated_at
FROM video_calls
WHERE created_at >= $1 AND created_at < $2`
	args := []any{from, to}
	if userID != "" {
		q += ` AND (caller_id = $3 OR recipient_id = $3)`
		args = append(args, userID)
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]calls.Record, 0)
	for rows.Next() {
		var rec calls.Record
		var rawStatus string
		if err := rows.Scan(
			&rec.ID, &rec.CallerID, &rec.RecipientID, &rec.PricePerSecond, &rawStatus,
			&rec.StartTime, &rec.EndTime, &rec.DurationSeconds, &rec.TotalCharged,
			&rec.IsConfirmed, &rec.CreatedAt, &rec.UpdatedAt,
		); err != nil {
			return nil, err
		}
		status, room, err := calls.ParseStatus(rawStatus)
		if err != nil {
			return nil, err
		}
		rec.Status = status
		rec.Room = room
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) ListLedger(ctx context.Context, from, to time.Time, userID string) ([]wallet.LedgerEntry, error) {
	q := `
SELECT id, user_id, balance, amount, external_ref, idempotency_key, created_at
FROM wallet_ledger
WHERE created_at >= $1 AND created_at < $2`
	args := []any{from, to}
	if userID != "" {
		q += ` AND user_id = $3`
		args = append(args, userID)
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]wallet.LedgerEntry, 0)
	for rows.Next() {
		var e wallet.LedgerEntry
		var ref sql.NullString
		if err := rows.Scan(&e.ID, &e.UserID, &e.Balance, &e.Amount, &ref, &e.IdempotencyKey, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ExternalRef = ref.String
		out = append(out, e)
	}
	return out, rows.Err()
}
