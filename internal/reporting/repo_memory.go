package reporting

import (
	"context"
	"sync"
	"time"

	"tuonane/internal/calls"
	"tuonane/internal/wallet"
)

// MemoryRepo is a simple in-memory reporting repository for tests and early development.

type MemoryRepo struct {
	mu sync.Mutex

	Calls   []calls.Record
	Ledgers []wallet.LedgerEntry
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) ListCalls(ctx context.Context, from, to time.Time, userID string) ([]calls.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]calls.Record, 0)
	for _, c := range r.Calls {
		if !inRange(c.CreatedAt, from, to) {
			continue
		}
		if userID != "" && c.CallerID != userID && c.RecipientID != userID {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *MemoryRepo) ListLedger(ctx context.Context, from, to time.Time, userID string) ([]wallet.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]wallet.LedgerEntry, 0)
	for _, l := range r.Ledgers {
		if !inRange(l.CreatedAt, from, to) {
			continue
		}
		if userID != "" && l.UserID != userID {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func inRange(t, from, to time.Time) bool {
	if t.IsZero() {
		return true
	}
	return !t.Before(from) && t.Before(to)
}
