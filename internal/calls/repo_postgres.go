package calls

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"tuonane/internal/money"
	"tuonane/pkg/utils"

	"github.com/google/uuid"
)

// PostgresStore persists call records in the video_calls table.
//
// NOTE: assumed schema:
//
//	video_calls (
//	  id UUID PRIMARY KEY,
//	  caller_id UUID NOT NULL,
//	  recipient_id UUID NOT NULL,
//	  price_per_second NUMERIC NOT NULL,
//	  status TEXT NOT NULL,
//	  start_time TIMESTAMPTZ,
//	  end_time TIMESTAMPTZ,
//	  duration_seconds INT NOT NULL DEFAULT 0,
//	  total_charged NUMERIC NOT NULL DEFAULT 0,
//	  is_confirmed BOOLEAN NOT NULL DEFAULT FALSE,
//	  created_at TIMESTAMPTZ NOT NULL,
//	  updated_at TIMESTAMPTZ NOT NULL
//	)
//
// The status column carries the wire grammar ("pending", "pending:<room>:<app>",
// "accepted", ...); EncodeStatus/ParseStatus are the only codec.
type PostgresStore struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, clock: time.Now}
}

const callColumns = `
id, caller_id, recipient_id, price_per_second, status, start_time, end_time,
duration_seconds, total_charged, is_confirmed, created_at, updated_at
`

func scanRecord(row *sql.Row) (Record, error) {
	var rec Record
	var rawStatus string
	err := row.Scan(
		&rec.ID,
		&rec.CallerID,
		&rec.RecipientID,
		&rec.PricePerSecond,
		&rawStatus,
		&rec.StartTime,
		&rec.EndTime,
		&rec.DurationSeconds,
		&rec.TotalCharged,
		&rec.IsConfirmed,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	status, room, err := ParseStatus(rawStatus)
	if err != nil {
		return Record{}, err
	}
	rec.Status = status
	rec.Room = room
	return rec, nil
}

func (s *PostgresStore) Create(ctx context.Context, rec Record) (Record, error) {
	if rec.CallerID == "" || rec.RecipientID == "" {
		return Record{}, ErrInvalidRecord
	}
	if rec.CallerID == rec.RecipientID {
		return Record{}, ErrSelfCall
	}

	now := s.clock().UTC()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.Status = StatusPending
	rec.Room = nil
	rec.CreatedAt = now
	rec.UpdatedAt = now

	const q = `
INSERT INTO video_calls (
  id, caller_id, recipient_id, price_per_second, status,
  duration_seconds, total_charged, is_confirmed, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,0,0,FALSE,$6,$6)
`
	_, err := s.db.ExecContext(ctx, q,
		rec.ID, rec.CallerID, rec.RecipientID, rec.PricePerSecond, string(StatusPending), now,
	)
	if err != nil {
		return Record{}, err
	}
	rec.TotalCharged = money.Zero()
	return rec, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+callColumns+` FROM video_calls WHERE id = $1`, id)
	return scanRecord(row)
}

// lockRecord reads the row FOR UPDATE so conditional transitions serialize per call.
func (s *PostgresStore) lockRecord(ctx context.Context, tx *sql.Tx, id string) (Record, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+callColumns+` FROM video_calls WHERE id = $1 FOR UPDATE`, id)
	var rec Record
	var rawStatus string
	err := row.Scan(
		&rec.ID,
		&rec.CallerID,
		&rec.RecipientID,
		&rec.PricePerSecond,
		&rawStatus,
		&rec.StartTime,
		&rec.EndTime,
		&rec.DurationSeconds,
		&rec.TotalCharged,
		&rec.IsConfirmed,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	status, room, err := ParseStatus(rawStatus)
	if err != nil {
		return Record{}, err
	}
	rec.Status = status
	rec.Room = room
	return rec, nil
}

func (s *PostgresStore) SetRoom(ctx context.Context, id string, room RoomDescriptor) (Record, error) {
	encoded, err := EncodeStatus(StatusPending, &room)
	if err != nil {
		return Record{}, err
	}

	var out Record
	err = utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		rec, err := s.lockRecord(ctx, tx, id)
		if err != nil {
			return err
		}
		if rec.Status.IsTerminal() {
			out = rec
			return ErrCallTerminal
		}
		if rec.Status != StatusPending {
			out = rec
			return ErrNotPending
		}

		now := s.clock().UTC()
		if _, err := tx.ExecContext(ctx,
			`UPDATE video_calls SET status = $2, updated_at = $3 WHERE id = $1`,
			id, encoded, now,
		); err != nil {
			return err
		}
		rec.Room = &room
		rec.UpdatedAt = now
		out = rec
		return nil
	})
	return out, err
}

func (s *PostgresStore) Accept(ctx context.Context, id string, startAt time.Time) (Record, error) {
	var out Record
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		rec, err := s.lockRecord(ctx, tx, id)
		if err != nil {
			return err
		}
		if rec.Status.IsTerminal() {
			out = rec
			return ErrCallTerminal
		}
		if rec.Status != StatusPending {
			out = rec
			return ErrNotPending
		}
		if rec.Room == nil {
			out = rec
			return ErrRoomNotProvisioned
		}

		now := s.clock().UTC()
		start := startAt.UTC()
		if _, err := tx.ExecContext(ctx,
			`UPDATE video_calls SET status = $2, start_time = $3, updated_at = $4 WHERE id = $1`,
			id, string(StatusAccepted), start, now,
		); err != nil {
			return err
		}
		rec.Status = StatusAccepted
		rec.StartTime = &start
		rec.UpdatedAt = now
		out = rec
		return nil
	})
	return out, err
}

func (s *PostgresStore) Confirm(ctx context.Context, id string) (Record, error) {
	var out Record
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		rec, err := s.lockRecord(ctx, tx, id)
		if err != nil {
			return err
		}
		if rec.Status.IsTerminal() {
			out = rec
			return ErrCallTerminal
		}
		if rec.Status != StatusAccepted {
			out = rec
			return ErrNotPending
		}

		now := s.clock().UTC()
		if _, err := tx.ExecContext(ctx,
			`UPDATE video_calls SET is_confirmed = TRUE, duration_seconds = 0, total_charged = 0, updated_at = $2 WHERE id = $1`,
			id, now,
		); err != nil {
			return err
		}
		rec.IsConfirmed = true
		rec.DurationSeconds = 0
		rec.TotalCharged = money.Zero()
		rec.UpdatedAt = now
		out = rec
		return nil
	})
	return out, err
}

func (s *PostgresStore) UpdateBillingProgress(ctx context.Context, id string, durationSeconds int, total money.Amount) (Record, error) {
	var out Record
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		rec, err := s.lockRecord(ctx, tx, id)
		if err != nil {
			return err
		}
		if rec.Status.IsTerminal() {
			out = rec
			return ErrCallTerminal
		}
		if !rec.IsConfirmed {
			out = rec
			return ErrNotConfirmed
		}
		if durationSeconds < rec.DurationSeconds {
			out = rec
			return ErrInvalidRecord
		}

		now := s.clock().UTC()
		if _, err := tx.ExecContext(ctx,
			`UPDATE video_calls SET duration_seconds = $2, total_charged = $3, updated_at = $4 WHERE id = $1`,
			id, durationSeconds, total, now,
		); err != nil {
			return err
		}
		rec.DurationSeconds = durationSeconds
		rec.TotalCharged = total
		rec.UpdatedAt = now
		out = rec
		return nil
	})
	return out, err
}

func (s *PostgresStore) Terminate(ctx context.Context, id string, to Status, at time.Time) (Record, error) {
	if !to.IsTerminal() {
		return Record{}, ErrInvalidRecord
	}

	var out Record
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		rec, err := s.lockRecord(ctx, tx, id)
		if err != nil {
			return err
		}
		if rec.Status.IsTerminal() {
			out = rec
			return ErrCallTerminal
		}
		// cancelled and rejected only resolve a ring; an answered call can only end.
		if to != StatusEnded && rec.Status != StatusPending {
			out = rec
			return ErrNotPending
		}

		now := s.clock().UTC()
		end := at.UTC()
		if _, err := tx.ExecContext(ctx,
			`UPDATE video_calls SET status = $2, end_time = $3, updated_at = $4 WHERE id = $1`,
			id, string(to), end, now,
		); err != nil {
			return err
		}
		rec.Status = to
		rec.Room = nil
		rec.EndTime = &end
		rec.UpdatedAt = now
		out = rec
		return nil
	})
	return out, err
}

func (s *PostgresStore) ListPendingFor(ctx context.Context, recipientID string) ([]Record, error) {
	const q = `
SELECT ` + callColumns + `
FROM video_calls
WHERE recipient_id = $1 AND (status = 'pending' OR status LIKE 'pending:%')
ORDER BY created_at DESC
`
	rows, err := s.db.QueryContext(ctx, q, recipientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		var rec Record
		var rawStatus string
		if err := rows.Scan(
			&rec.ID,
			&rec.CallerID,
			&rec.RecipientID,
			&rec.PricePerSecond,
			&rawStatus,
			&rec.StartTime,
			&rec.EndTime,
			&rec.DurationSeconds,
			&rec.TotalCharged,
			&rec.IsConfirmed,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		); err != nil {
			return nil, err
		}
		status, room, err := ParseStatus(rawStatus)
		if err != nil {
			return nil, err
		}
		rec.Status = status
		rec.Room = room
		out = append(out, rec)
	}
	return out, rows.Err()
}
