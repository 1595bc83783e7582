package earnings

import (
	"context"
	"fmt"
)

// Store is the append-only persistence contract for earning history.
// Append must reject a second entry for the same (user, call) pair with
// ErrDuplicate so a retried call-end cannot double-record.
type Store interface {
	Append(ctx context.Context, e Entry) (Entry, error)
	ListForUser(ctx context.Context, userID string, limit int) ([]Entry, error)
}

type Service struct {
	store Store
}

func NewService(store Store) *Service { return &Service{store: store} }

// Record writes the earning line for one finished, charged call.
func (s *Service) Record(ctx context.Context, e Entry) (Entry, error) {
	if e.UserID == "" || e.CallID == "" {
		return Entry{}, fmt.Errorf("%w: user and call ids required", ErrInvalidEntry)
	}
	if e.Amount.IsNegative() {
		return Entry{}, fmt.Errorf("%w: amount must not be negative", ErrInvalidEntry)
	}
	if e.DurationMinutes < 0 {
		return Entry{}, fmt.Errorf("%w: duration must not be negative", ErrInvalidEntry)
	}
	return s.store.Append(ctx, e)
}

// History returns the newest entries for a user, newest first.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]Entry, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id required", ErrInvalidEntry)
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListForUser(ctx, userID, limit)
}
