package profiles

import (
	"context"
	"database/sql"
	"errors"

	"tuonane/internal/money"
)

// PostgresStore reads the profiles table.
//
// NOTE: assumed schema (subset):
//
//	profiles (id UUID PK, username TEXT, full_name TEXT,
//	          custom_price_per_second NUMERIC NULL, video_call_enabled BOOLEAN,
//	          is_online BOOLEAN, last_active TIMESTAMPTZ,
//	          created_at TIMESTAMPTZ, updated_at TIMESTAMPTZ)
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (s *PostgresStore) Get(ctx context.Context, userID string) (Profile, error) {
	const q = `
SELECT id, COALESCE(username, ''), COALESCE(full_name, ''),
       custom_price_per_second, COALESCE(video_call_enabled, FALSE),
       COALESCE(is_online, FALSE), last_active, created_at, updated_at
FROM profiles
WHERE id = $1
`
	var p Profile
	var rawRate sql.NullString
	err := s.db.QueryRowContext(ctx, q, userID).Scan(
		&p.ID,
		&p.Username,
		&p.DisplayName,
		&rawRate,
		&p.VideoCallEnabled,
		&p.IsOnline,
		&p.LastActive,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, err
	}
	if rawRate.Valid {
		rate, err := money.Parse(rawRate.String)
		if err != nil {
			return Profile{}, err
		}
		p.CustomPricePerSecond = &rate
	}
	return p, nil
}
