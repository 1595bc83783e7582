package earnings

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// PostgresStore persists earning history.
//
// NOTE: assumed table:
// - earning_history (id PK, user_id, call_id, amount NUMERIC,
//   duration_minutes, caller_name, created_at) with UNIQUE (user_id, call_id)
type PostgresStore struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, clock: time.Now}
}

func (s *PostgresStore) Append(ctx context.Context, e Entry) (Entry, error) {
	e.ID = uuid.NewString()
	e.CreatedAt = s.clock().UTC()

	// ON CONFLICT carries the uniqueness rule; a retried call-end inserts
	// nothing and is reported as a duplicate.
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO earning_history (id, user_id, call_id, amount, duration_minutes, caller_name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, call_id) DO NOTHING`,
		e.ID, e.UserID, e.CallID, e.Amount, e.DurationMinutes, e.CallerName, e.CreatedAt)
	if err != nil {
		return Entry{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Entry{}, err
	}
	if n == 0 {
		return Entry{}, ErrDuplicate
	}
	return e, nil
}

func (s *PostgresStore) ListForUser(ctx context.Context, userID string, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, call_id, amount, duration_minutes, caller_name, created_at
		FROM earning_history
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Entry, 0)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.UserID, &e.CallID, &e.Amount, &e.DurationMinutes, &e.CallerName, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
