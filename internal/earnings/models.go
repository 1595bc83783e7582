package earnings

import (
	"errors"
	"time"

	"tuonane/internal/money"
)

// Entry is one historical earning line for a recipient: the money a single
// finished call moved to them, plus display metadata. Entries are append-only;
// corrections are new entries, never edits.
type Entry struct {
	ID     string `json:"id" db:"id"`
	UserID string `json:"user_id" db:"user_id"`
	CallID string `json:"call_id" db:"call_id"`

	Amount money.Amount `json:"amount" db:"amount"`

	// DurationMinutes is the billed duration rounded up to whole minutes; a
	// three second call reads as one minute.
	DurationMinutes int `json:"duration_minutes" db:"duration_minutes"`

	// CallerName is denormalized at write time so history survives later
	// profile renames.
	CallerName string `json:"caller_name" db:"caller_name"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

var (
	ErrInvalidEntry = errors.New("earnings: invalid entry")
	ErrDuplicate    = errors.New("earnings: entry already recorded for call")
)
