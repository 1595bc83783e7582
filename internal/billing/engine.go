package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tuonane/internal/audit"
	"tuonane/internal/calls"
	"tuonane/internal/signaling"
	"tuonane/internal/wallet"
)

// Engine charges a confirmed call once per tick interval (one second in
// production) until the call ends or the caller's balance can no longer cover
// the next second.
//
// Money rules:
//   - Each tick moves exactly one second's worth (the record's price per
//     second) from the caller's spend balance to the recipient's earning
//     balance, as a single atomic ledger transfer keyed by the tick number.
//     A crashed and restarted engine replays ticks as no-ops.
//   - The record's total is recomputed as ticks * rate each write, never
//     accumulated, so a lost progress write cannot drift the total.
//   - A failed progress write is retried implicitly at the next tick; a failed
//     ledger write ends the call, because continuing would give away seconds
//     the ledger never saw.
type Engine struct {
	store   calls.Store
	wallets *wallet.Service
	channel signaling.Channel
	log     *slog.Logger
	audits  *audit.Service

	interval time.Duration
	clock    func() time.Time
}

func NewEngine(store calls.Store, wallets *wallet.Service, channel signaling.Channel, log *slog.Logger, interval time.Duration) *Engine {
	if interval <= 0 {
		interval = time.Second
	}
	return &Engine{
		store:    store,
		wallets:  wallets,
		channel:  channel,
		log:      log,
		interval: interval,
		clock:    time.Now,
	}
}

// SetClock injects a deterministic clock for tests. Only timestamps are
// affected; tick cadence still follows the interval.
func (e *Engine) SetClock(clock func() time.Time) { e.clock = clock }

// SetAudit enables audit trail entries for billing-driven call ends.
func (e *Engine) SetAudit(a *audit.Service) { e.audits = a }

// Run charges the call until it reaches a terminal status or ctx is cancelled.
// The record must already be confirmed; Run picks up from the persisted
// duration, so restarting after a crash continues rather than double-charges.
//
// Run returns nil when the call ended normally (hang-up elsewhere, or ended
// here on exhausted funds), ctx.Err() on cancellation, and a non-nil error
// only when billing had to stop the call because of a ledger failure.
func (e *Engine) Run(ctx context.Context, callID string) error {
	rec, err := e.store.Get(ctx, callID)
	if err != nil {
		return err
	}
	if rec.Status.IsTerminal() {
		return nil
	}
	if !rec.IsConfirmed {
		return calls.ErrNotConfirmed
	}

	activeBilledCalls.Inc()
	defer activeBilledCalls.Dec()

	rate := rec.PricePerSecond
	tick := rec.DurationSeconds

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		// Re-read before charging so a hang-up that landed between ticks is
		// honored without moving another second of money.
		rec, err = e.store.Get(ctx, callID)
		if err != nil {
			if errors.Is(err, calls.ErrNotFound) {
				return err
			}
			e.log.Warn("billing: record read failed, skipping tick", "call_id", callID, "error", err)
			continue
		}
		if rec.Status.IsTerminal() {
			return nil
		}

		tick++
		key := wallet.TickIdempotencyKey(callID, tick)
		_, _, err = e.wallets.Transfer(ctx, rec.CallerID, rec.RecipientID, rate, callID, key)
		if err != nil {
			if errors.Is(err, wallet.ErrInsufficientFunds) {
				insufficientFundsEnds.Inc()
				e.log.Info("billing: caller balance exhausted, ending call",
					"call_id", callID, "caller_id", rec.CallerID, "ticks", tick-1)
				if e.audits != nil {
					if err := e.audits.LogFundsExhausted(ctx, callID, rec.CallerID); err != nil {
						e.log.Warn("billing: audit write failed", "call_id", callID, "error", err)
					}
				}
				e.endCall(ctx, callID)
				return nil
			}
			ledgerErrors.Inc()
			e.log.Error("billing: ledger transfer failed, ending call", "call_id", callID, "error", err)
			e.endCall(ctx, callID)
			return fmt.Errorf("billing: tick %d transfer: %w", tick, err)
		}
		ticksTotal.Inc()

		total := rate.MulInt64(int64(tick))
		updated, err := e.store.UpdateBillingProgress(ctx, callID, tick, total)
		if err != nil {
			if errors.Is(err, calls.ErrCallTerminal) {
				return nil
			}
			if errors.Is(err, calls.ErrNotFound) || errors.Is(err, calls.ErrNotConfirmed) {
				return err
			}
			progressWriteErrors.Inc()
			e.log.Warn("billing: progress write failed, will retry next tick", "call_id", callID, "error", err)
			continue
		}
		e.publish(ctx, updated)
	}
}

// endCall flips the record to ended. Losing the race to another terminal write
// is fine; the call is over either way.
func (e *Engine) endCall(ctx context.Context, callID string) {
	rec, err := e.store.Terminate(ctx, callID, calls.StatusEnded, e.clock())
	if err != nil && !errors.Is(err, calls.ErrCallTerminal) {
		e.log.Error("billing: failed to end call", "call_id", callID, "error", err)
		return
	}
	e.publish(ctx, rec)
}

func (e *Engine) publish(ctx context.Context, rec calls.Record) {
	err := e.channel.Publish(ctx, signaling.Event{Kind: signaling.EventUpdate, Record: rec})
	if err != nil {
		e.log.Warn("billing: publish failed", "call_id", rec.ID, "error", err)
	}
}
