package calls

import (
	"context"
	"time"

	"tuonane/internal/money"
)

// Store is the persistence contract for call records.
//
// Concurrency contract: every transition is a conditional write against the latest
// persisted row. When two writers race (recipient accept vs. caller cancel), exactly
// one conditional write succeeds; the loser gets ErrNotPending/ErrCallTerminal and
// corrects its local state from the next signaling notification.
type Store interface {
	// Create persists a new record in StatusPending. The record must already be
	// validated (distinct parties, positive rate).
	Create(ctx context.Context, rec Record) (Record, error)

	Get(ctx context.Context, id string) (Record, error)

	// SetRoom stamps the room descriptor while the record is still pending.
	SetRoom(ctx context.Context, id string, room RoomDescriptor) (Record, error)

	// Accept moves a pending, room-ready record to StatusAccepted and stamps the
	// start time. This is the single at-most-once write of the protocol: a second
	// accept, or an accept racing a terminal write, fails with ErrNotPending.
	Accept(ctx context.Context, id string, startAt time.Time) (Record, error)

	// Confirm sets the confirmed flag and resets the billing counters to zero.
	// Only valid while the record is StatusAccepted.
	Confirm(ctx context.Context, id string) (Record, error)

	// UpdateBillingProgress persists (duration, total) for a confirmed record.
	// total must be recomputed by the caller as duration * price_per_second.
	UpdateBillingProgress(ctx context.Context, id string, durationSeconds int, total money.Amount) (Record, error)

	// Terminate moves the record to a terminal status and stamps the end time.
	// If the record is already terminal it is left untouched and ErrCallTerminal is
	// returned alongside the current record.
	Terminate(ctx context.Context, id string, to Status, at time.Time) (Record, error)

	// ListPendingFor returns pending records addressed to recipientID, newest first.
	ListPendingFor(ctx context.Context, recipientID string) ([]Record, error)
}

// NewRecord builds a validated pending record for a call attempt.
// Self-calls are rejected here, before anything is persisted.
func NewRecord(callerID, recipientID string, pricePerSecond money.Amount) (Record, error) {
	if callerID == "" || recipientID == "" {
		return Record{}, ErrInvalidRecord
	}
	if callerID == recipientID {
		return Record{}, ErrSelfCall
	}
	if !pricePerSecond.IsPositive() {
		return Record{}, ErrPricePerSecondRequired
	}
	return Record{
		CallerID:       callerID,
		RecipientID:    recipientID,
		PricePerSecond: pricePerSecond,
		Status:         StatusPending,
	}, nil
}
