package earnings

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type MemoryStore struct {
	mu      sync.Mutex
	entries []Entry
	byCall  map[string]bool
	clock   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byCall: map[string]bool{}, clock: time.Now}
}

func (s *MemoryStore) SetClock(clock func() time.Time) { s.clock = clock }

func (s *MemoryStore) Append(ctx context.Context, e Entry) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := e.UserID + "/" + e.CallID
	if s.byCall[key] {
		return Entry{}, ErrDuplicate
	}

	e.ID = uuid.NewString()
	e.CreatedAt = s.clock().UTC()
	s.entries = append(s.entries, e)
	s.byCall[key] = true
	return e, nil
}

func (s *MemoryStore) ListForUser(ctx context.Context, userID string, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0)
	for _, e := range s.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
