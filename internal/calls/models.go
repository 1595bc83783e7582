package calls

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"tuonane/internal/money"
)

// Record is the authoritative persisted entity for one call attempt.
//
// Lifecycle invariant: a record transitions into a terminal status
// (ended/rejected/cancelled) at most once and is never deleted; once terminal it is a
// read-only historical fact consumed by reporting.
//
// Money invariant reminder: per-tick charging references the record id in the wallet
// ledger (external ref) rather than mutating money fields here; DurationSeconds and
// TotalCharged are billing-engine bookkeeping, recomputed each tick.
type Record struct {
	ID          string `json:"id" db:"id"`
	CallerID    string `json:"caller_id" db:"caller_id"`
	RecipientID string `json:"recipient_id" db:"recipient_id"`

	// PricePerSecond is fixed at creation from the recipient's configured rate.
	PricePerSecond money.Amount `json:"price_per_second" db:"price_per_second"`

	Status Status `json:"status" db:"status"`

	// Room is set once the media room is provisioned and the call is still awaiting
	// acceptance. It is persisted inside the status column on the wire
	// ("pending:<room>:<app>") but never conflated with lifecycle state in memory.
	Room *RoomDescriptor `json:"room,omitempty" db:"-"`

	StartTime *time.Time `json:"start_time,omitempty" db:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty" db:"end_time"`

	DurationSeconds int          `json:"duration_seconds" db:"duration_seconds"`
	TotalCharged    money.Amount `json:"total_charged" db:"total_charged"`
	IsConfirmed     bool         `json:"is_confirmed" db:"is_confirmed"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
	StatusEnded     Status = "ended"
)

// IsTerminal reports whether s may never be overwritten again.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusRejected, StatusCancelled, StatusEnded:
		return true
	default:
		return false
	}
}

// RoomDescriptor identifies where both parties join the media session.
type RoomDescriptor struct {
	RoomName string `json:"room_name"`
	AppName  string `json:"app_name"`
}

var (
	ErrMalformedStatus        = errors.New("calls: malformed status")
	ErrInvalidRoomDescriptor  = errors.New("calls: invalid room descriptor")
	ErrSelfCall               = errors.New("calls: caller and recipient must differ")
	ErrNotFound               = errors.New("calls: not found")
	ErrCallTerminal           = errors.New("calls: call already terminal")
	ErrNotPending             = errors.New("calls: call is no longer pending")
	ErrNotConfirmed           = errors.New("calls: call not confirmed")
	ErrRoomNotProvisioned     = errors.New("calls: room not provisioned")
	ErrInvalidRecord          = errors.New("calls: invalid record")
	ErrPricePerSecondRequired = errors.New("calls: price per second must be > 0")
)

// EncodeStatus renders the persisted status column.
// A pending record with a provisioned room is written as "pending:<room>:<app>".
// Room and app names containing ':' are outside the wire contract and rejected.
func EncodeStatus(s Status, room *RoomDescriptor) (string, error) {
	if s != StatusPending || room == nil {
		return string(s), nil
	}
	if room.RoomName == "" || room.AppName == "" {
		return "", ErrInvalidRoomDescriptor
	}
	if strings.Contains(room.RoomName, ":") || strings.Contains(room.AppName, ":") {
		return "", fmt.Errorf("%w: names must not contain ':'", ErrInvalidRoomDescriptor)
	}
	return string(StatusPending) + ":" + room.RoomName + ":" + room.AppName, nil
}

// ParseStatus decodes a persisted status column into a lifecycle status and, for
// room-ready pending records, the embedded room descriptor.
func ParseStatus(raw string) (Status, *RoomDescriptor, error) {
	if raw == "" {
		return "", nil, ErrMalformedStatus
	}
	if !strings.Contains(raw, ":") {
		s := Status(raw)
		switch s {
		case StatusPending, StatusAccepted, StatusRejected, StatusCancelled, StatusEnded:
			return s, nil, nil
		default:
			return "", nil, fmt.Errorf("%w: %q", ErrMalformedStatus, raw)
		}
	}

	parts := strings.Split(raw, ":")
	if len(parts) != 3 || Status(parts[0]) != StatusPending {
		return "", nil, fmt.Errorf("%w: %q", ErrMalformedStatus, raw)
	}
	if parts[1] == "" || parts[2] == "" {
		return "", nil, fmt.Errorf("%w: %q", ErrMalformedStatus, raw)
	}
	return StatusPending, &RoomDescriptor{RoomName: parts[1], AppName: parts[2]}, nil
}

// IsPendingWire reports whether a raw status column value denotes a pending record
// (either bare "pending" or room-ready "pending:<room>:<app>").
func IsPendingWire(raw string) bool {
	return raw == string(StatusPending) || strings.HasPrefix(raw, string(StatusPending)+":")
}
