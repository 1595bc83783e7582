package signaling

import (
	"context"
	"sync"
)

// subscriberBuffer bounds each subscriber's queue. A subscriber that stops draining
// loses events rather than blocking publishers; consumers recover by re-reading the
// store, which the delivery contract requires of them anyway.
const subscriberBuffer = 64

// MemoryChannel is an in-process Channel for tests and single-node deployments.
type MemoryChannel struct {
	mu        sync.Mutex
	nextID    int
	byCall    map[string]map[int]chan Event
	byRecip   map[string]map[int]chan Event
}

func NewMemoryChannel() *MemoryChannel {
	return &MemoryChannel{
		byCall:  map[string]map[int]chan Event{},
		byRecip: map[string]map[int]chan Event{},
	}
}

func (c *MemoryChannel) Publish(ctx context.Context, e Event) error {
	// Sends happen under the same mutex that closes channels in cancel, so a
	// publisher can never hit a channel that teardown just closed. The sends
	// are non-blocking, so holding the lock here is cheap.
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ch := range c.byCall[e.Record.ID] {
		select {
		case ch <- e:
		default:
			// queue full: drop, subscriber re-reads
		}
	}
	for _, ch := range c.byRecip[e.Record.RecipientID] {
		select {
		case ch <- e:
		default:
		}
	}
	return nil
}

func (c *MemoryChannel) SubscribeCall(ctx context.Context, callID string) (<-chan Event, func(), error) {
	return c.subscribe(c.byCall, callID)
}

func (c *MemoryChannel) SubscribeRecipient(ctx context.Context, recipientID string) (<-chan Event, func(), error) {
	return c.subscribe(c.byRecip, recipientID)
}

func (c *MemoryChannel) subscribe(index map[string]map[int]chan Event, key string) (<-chan Event, func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID
	ch := make(chan Event, subscriberBuffer)
	if index[key] == nil {
		index[key] = map[int]chan Event{}
	}
	index[key][id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if subs, ok := index[key]; ok {
				delete(subs, id)
				if len(subs) == 0 {
					delete(index, key)
				}
			}
			// Closed under the mutex; Publish sends under the same mutex and
			// can no longer reach this channel once it left the index.
			close(ch)
		})
	}
	return ch, cancel, nil
}
