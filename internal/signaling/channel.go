package signaling

import (
	"context"

	"tuonane/internal/calls"
)

// EventKind mirrors the two storage notifications a call record produces.
type EventKind string

const (
	EventInsert EventKind = "INSERT"
	EventUpdate EventKind = "UPDATE"
)

// Event carries a snapshot of the record at publish time.
//
// Delivery contract (both implementations): at-least-once, and notifications for a
// call are NOT guaranteed to arrive in write order when writers race. Consumers must
// treat an event as "the record changed" and re-read the store for the current truth.
type Event struct {
	Kind   EventKind    `json:"kind"`
	Record calls.Record `json:"record"`
}

// Channel is the per-call publish/subscribe topic for call record change events.
//
// SubscribeCall delivers every event for one call id; SubscribeRecipient delivers
// every event whose record is addressed to the given recipient (the incoming-call
// notifier's feed). The returned cancel func unsubscribes and closes the channel;
// it is safe to call more than once.
type Channel interface {
	Publish(ctx context.Context, e Event) error
	SubscribeCall(ctx context.Context, callID string) (<-chan Event, func(), error)
	SubscribeRecipient(ctx context.Context, recipientID string) (<-chan Event, func(), error)
}
