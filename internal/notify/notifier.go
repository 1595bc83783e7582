package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"tuonane/internal/audit"
	"tuonane/internal/calls"
	"tuonane/internal/profiles"
	"tuonane/internal/signaling"
)

// Alerter is whatever surfaces an incoming call to the recipient: a push
// gateway, a websocket fanout, a test recorder. At most one alert is active at
// a time; RaiseAlert for a new call implies the previous alert was cleared.
type Alerter interface {
	RaiseAlert(callID, callerName string)
	ClearAlert(callID string)
}

// Notifier watches one recipient's incoming-call feed and drives the Alerter.
//
// Screening rule: a call whose caller has no valid profile (missing row or
// empty display name) is force-cancelled without ever alerting the recipient.
// The caller learns about it the same way they learn about any cancellation,
// from the record update.
//
// Stale pending records (left behind by a crashed caller) are force-cancelled
// on startup instead of ringing for a call nobody is waiting on.
type Notifier struct {
	store     calls.Store
	profiles  profiles.Store
	channel   signaling.Channel
	alerter   Alerter
	log       *slog.Logger
	audits    *audit.Service
	staleness time.Duration
	clock     func() time.Time

	mu            sync.Mutex
	alertedCallID string
}

func NewNotifier(store calls.Store, profileStore profiles.Store, channel signaling.Channel, alerter Alerter, log *slog.Logger, staleness time.Duration) *Notifier {
	if staleness <= 0 {
		staleness = time.Minute
	}
	return &Notifier{
		store:     store,
		profiles:  profileStore,
		channel:   channel,
		alerter:   alerter,
		log:       log,
		staleness: staleness,
		clock:     time.Now,
	}
}

func (n *Notifier) SetClock(clock func() time.Time) { n.clock = clock }

// SetAudit enables audit trail entries for force-cancelled calls.
func (n *Notifier) SetAudit(a *audit.Service) { n.audits = a }

// Run sweeps existing pending calls, then follows the recipient's feed until
// ctx is cancelled. Any active alert is cleared on the way out.
func (n *Notifier) Run(ctx context.Context, recipientID string) error {
	events, cancel, err := n.channel.SubscribeRecipient(ctx, recipientID)
	if err != nil {
		return err
	}
	defer cancel()
	defer n.clearCurrent()

	if err := n.Sweep(ctx, recipientID); err != nil {
		n.log.Warn("notify: startup sweep failed", "recipient_id", recipientID, "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			n.handle(ctx, ev.Record.ID)
		}
	}
}

// Sweep reconciles the alert with the store: stale pending calls are
// force-cancelled and the newest fresh one (if any) rings.
func (n *Notifier) Sweep(ctx context.Context, recipientID string) error {
	pending, err := n.store.ListPendingFor(ctx, recipientID)
	if err != nil {
		return err
	}
	cutoff := n.clock().Add(-n.staleness)
	for _, rec := range pending {
		if rec.CreatedAt.Before(cutoff) {
			n.forceCancel(ctx, rec.ID, "stale pending call")
			continue
		}
		n.handle(ctx, rec.ID)
	}
	return nil
}

// handle re-reads the record and reacts to its current state. Events are
// change hints, not truth; racing writers mean the snapshot in the event may
// already be outdated.
func (n *Notifier) handle(ctx context.Context, callID string) {
	rec, err := n.store.Get(ctx, callID)
	if err != nil {
		n.log.Warn("notify: record read failed", "call_id", callID, "error", err)
		return
	}

	switch {
	case rec.Status == calls.StatusPending:
		n.maybeAlert(ctx, rec)
	case rec.Status == calls.StatusAccepted, rec.Status.IsTerminal():
		n.clearFor(rec.ID)
	}
}

func (n *Notifier) maybeAlert(ctx context.Context, rec calls.Record) {
	caller, err := n.profiles.Get(ctx, rec.CallerID)
	if err != nil && !errors.Is(err, profiles.ErrNotFound) {
		n.log.Warn("notify: caller profile lookup failed", "call_id", rec.ID, "error", err)
		return
	}
	if err != nil || !caller.Valid() {
		n.forceCancel(ctx, rec.ID, "caller has no valid profile")
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.alertedCallID == rec.ID {
		return
	}
	// A newer pending call takes over the single alert slot.
	if n.alertedCallID != "" {
		n.alerter.ClearAlert(n.alertedCallID)
	}
	n.alertedCallID = rec.ID
	n.alerter.RaiseAlert(rec.ID, caller.DisplayName)
}

func (n *Notifier) clearFor(callID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.alertedCallID != callID {
		return
	}
	n.alertedCallID = ""
	n.alerter.ClearAlert(callID)
}

func (n *Notifier) clearCurrent() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.alertedCallID == "" {
		return
	}
	n.alerter.ClearAlert(n.alertedCallID)
	n.alertedCallID = ""
}

func (n *Notifier) forceCancel(ctx context.Context, callID, reason string) {
	rec, err := n.store.Terminate(ctx, callID, calls.StatusCancelled, n.clock())
	if err != nil {
		// The user may have answered or the call may have resolved in the
		// meantime; both lose to the store's conditional write.
		if !errors.Is(err, calls.ErrCallTerminal) && !errors.Is(err, calls.ErrNotPending) {
			n.log.Warn("notify: force-cancel failed", "call_id", callID, "error", err)
		}
		return
	}
	n.log.Info("notify: force-cancelled call", "call_id", callID, "reason", reason)
	if n.audits != nil {
		if err := n.audits.LogForceCancel(ctx, callID, reason); err != nil {
			n.log.Warn("notify: audit write failed", "call_id", callID, "error", err)
		}
	}
	if err := n.channel.Publish(ctx, signaling.Event{Kind: signaling.EventUpdate, Record: rec}); err != nil {
		n.log.Warn("notify: publish failed", "call_id", callID, "error", err)
	}
	n.clearFor(callID)
}
