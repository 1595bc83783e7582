package calls

import (
	"context"
	"sort"
	"sync"
	"time"

	"tuonane/internal/money"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for tests and early development.
// The mutex serializes transitions, which gives the same "one conditional write
// wins" arbitration the Postgres implementation gets from row locks.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
	clock   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]Record{}, clock: time.Now}
}

// SetClock injects a deterministic clock for tests.
func (s *MemoryStore) SetClock(clock func() time.Time) { s.clock = clock }

func (s *MemoryStore) Create(ctx context.Context, rec Record) (Record, error) {
	if rec.CallerID == "" || rec.RecipientID == "" {
		return Record{}, ErrInvalidRecord
	}
	if rec.CallerID == rec.RecipientID {
		return Record{}, ErrSelfCall
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock().UTC()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.Status = StatusPending
	rec.Room = nil
	rec.CreatedAt = now
	rec.UpdatedAt = now
	s.records[rec.ID] = rec
	return rec, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) SetRoom(ctx context.Context, id string, room RoomDescriptor) (Record, error) {
	// Validate the descriptor through the wire codec so both stores enforce the
	// same input constraint on names.
	if _, err := EncodeStatus(StatusPending, &room); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	if rec.Status.IsTerminal() {
		return rec, ErrCallTerminal
	}
	if rec.Status != StatusPending {
		return rec, ErrNotPending
	}

	rec.Room = &room
	rec.UpdatedAt = s.clock().UTC()
	s.records[id] = rec
	return rec, nil
}

func (s *MemoryStore) Accept(ctx context.Context, id string, startAt time.Time) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	if rec.Status.IsTerminal() {
		return rec, ErrCallTerminal
	}
	if rec.Status != StatusPending {
		return rec, ErrNotPending
	}
	if rec.Room == nil {
		return rec, ErrRoomNotProvisioned
	}

	start := startAt.UTC()
	rec.Status = StatusAccepted
	rec.StartTime = &start
	rec.UpdatedAt = s.clock().UTC()
	s.records[id] = rec
	return rec, nil
}

func (s *MemoryStore) Confirm(ctx context.Context, id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	if rec.Status.IsTerminal() {
		return rec, ErrCallTerminal
	}
	if rec.Status != StatusAccepted {
		return rec, ErrNotPending
	}

	rec.IsConfirmed = true
	rec.DurationSeconds = 0
	rec.TotalCharged = money.Zero()
	rec.UpdatedAt = s.clock().UTC()
	s.records[id] = rec
	return rec, nil
}

func (s *MemoryStore) UpdateBillingProgress(ctx context.Context, id string, durationSeconds int, total money.Amount) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	if rec.Status.IsTerminal() {
		return rec, ErrCallTerminal
	}
	if !rec.IsConfirmed {
		return rec, ErrNotConfirmed
	}
	if durationSeconds < rec.DurationSeconds {
		// duration is monotonically non-decreasing while active
		return rec, ErrInvalidRecord
	}

	rec.DurationSeconds = durationSeconds
	rec.TotalCharged = total
	rec.UpdatedAt = s.clock().UTC()
	s.records[id] = rec
	return rec, nil
}

func (s *MemoryStore) Terminate(ctx context.Context, id string, to Status, at time.Time) (Record, error) {
	if !to.IsTerminal() {
		return Record{}, ErrInvalidRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	if rec.Status.IsTerminal() {
		return rec, ErrCallTerminal
	}
	// cancelled and rejected only resolve a ring; an answered call can only end.
	if to != StatusEnded && rec.Status != StatusPending {
		return rec, ErrNotPending
	}

	end := at.UTC()
	rec.Status = to
	rec.Room = nil
	rec.EndTime = &end
	rec.UpdatedAt = s.clock().UTC()
	s.records[id] = rec
	return rec, nil
}

func (s *MemoryStore) ListPendingFor(ctx context.Context, recipientID string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, 0)
	for _, rec := range s.records {
		if rec.RecipientID != recipientID {
			continue
		}
		if rec.Status != StatusPending {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
