package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tuonane/internal/billing"
	"tuonane/internal/calls"
	"tuonane/internal/earnings"
	"tuonane/internal/media"
	"tuonane/internal/money"
	"tuonane/internal/pricing"
	"tuonane/internal/profiles"
	"tuonane/internal/signaling"
	"tuonane/internal/wallet"
)

var (
	ErrNotParticipant          = errors.New("session: user is not a participant of this call")
	ErrCallerProfileIncomplete = errors.New("session: caller profile is incomplete")
	ErrRecipientUnavailable    = errors.New("session: recipient does not accept video calls")
	ErrBalanceTooLow           = errors.New("session: balance too low to start a call")
	ErrCallerBusy              = errors.New("session: caller already has an active call")
)

// CallSlots caps how many calls one user may have in flight. Acquire reports
// whether the slot was free; Release frees it. Implementations must be safe
// for concurrent use across processes.
type CallSlots interface {
	Acquire(ctx context.Context, userID string) (bool, error)
	Release(ctx context.Context, userID string) error
}

// Controller drives a call end to end: the caller side initiates, waits for
// the verdict and runs billing once confirmed; the recipient side accepts or
// rejects. The call record in the store is the only truth; signaling events
// merely tell each side to re-read it, so both sides converge no matter which
// write won a race.
type Controller struct {
	store    calls.Store
	profiles profiles.Store
	rates    *pricing.Service
	wallets  *wallet.Service
	earnings *earnings.Service
	channel  signaling.Channel
	media    media.Provider
	engine   *billing.Engine
	slots    CallSlots
	log      *slog.Logger

	ringTimeout     time.Duration
	minStartBalance money.Amount
	clock           func() time.Time
}

type Config struct {
	Store    calls.Store
	Profiles profiles.Store
	Rates    *pricing.Service
	Wallets  *wallet.Service
	Earnings *earnings.Service
	Channel  signaling.Channel
	Media    media.Provider
	Engine   *billing.Engine

	// Slots is optional; nil means no per-user call cap.
	Slots CallSlots

	Log *slog.Logger

	// RingTimeout bounds how long the caller side waits for an answer.
	RingTimeout time.Duration

	// MinStartBalance is the spend balance required to place a call at all,
	// independent of the per-second rate.
	MinStartBalance money.Amount
}

func NewController(cfg Config) *Controller {
	if cfg.RingTimeout <= 0 {
		cfg.RingTimeout = time.Minute
	}
	return &Controller{
		store:           cfg.Store,
		profiles:        cfg.Profiles,
		rates:           cfg.Rates,
		wallets:         cfg.Wallets,
		earnings:        cfg.Earnings,
		channel:         cfg.Channel,
		media:           cfg.Media,
		engine:          cfg.Engine,
		slots:           cfg.Slots,
		log:             cfg.Log,
		ringTimeout:     cfg.RingTimeout,
		minStartBalance: cfg.MinStartBalance,
		clock:           time.Now,
	}
}

func (c *Controller) SetClock(clock func() time.Time) { c.clock = clock }

// Initiate screens the caller and recipient, creates the pending record, and
// provisions the media room. The recipient starts ringing on the INSERT event;
// the room lands in a follow-up update before the call can be accepted.
func (c *Controller) Initiate(ctx context.Context, callerID, recipientID string) (calls.Record, error) {
	caller, err := c.profiles.Get(ctx, callerID)
	if err != nil {
		if errors.Is(err, profiles.ErrNotFound) {
			return calls.Record{}, ErrCallerProfileIncomplete
		}
		return calls.Record{}, err
	}
	if !caller.Valid() {
		return calls.Record{}, ErrCallerProfileIncomplete
	}

	recipient, err := c.profiles.Get(ctx, recipientID)
	if err != nil {
		if errors.Is(err, profiles.ErrNotFound) {
			return calls.Record{}, ErrRecipientUnavailable
		}
		return calls.Record{}, err
	}
	if !recipient.VideoCallEnabled {
		return calls.Record{}, ErrRecipientUnavailable
	}

	w, err := c.wallets.Get(ctx, callerID)
	if err != nil {
		return calls.Record{}, err
	}
	if w.AccountBalance.LessThan(c.minStartBalance) {
		return calls.Record{}, fmt.Errorf("%w: have %s, need %s", ErrBalanceTooLow, w.AccountBalance, c.minStartBalance)
	}

	if c.slots != nil {
		ok, err := c.slots.Acquire(ctx, callerID)
		if err != nil {
			return calls.Record{}, err
		}
		if !ok {
			return calls.Record{}, ErrCallerBusy
		}
	}

	rec, err := calls.NewRecord(callerID, recipientID, c.rates.RateFor(recipient))
	if err != nil {
		c.releaseSlot(ctx, callerID)
		return calls.Record{}, err
	}
	rec, err = c.store.Create(ctx, rec)
	if err != nil {
		c.releaseSlot(ctx, callerID)
		return calls.Record{}, err
	}
	c.publish(ctx, signaling.EventInsert, rec)

	room, err := c.media.ProvisionRoom(ctx, "call-"+rec.ID)
	if err != nil {
		// Nobody can join a call without a room; take it back down.
		c.log.Error("session: room provisioning failed, cancelling call", "call_id", rec.ID, "error", err)
		c.cancelInternal(ctx, rec.ID)
		c.releaseSlot(ctx, callerID)
		return calls.Record{}, err
	}
	rec, err = c.store.SetRoom(ctx, rec.ID, calls.RoomDescriptor{RoomName: room.RoomName, AppName: room.AppName})
	if err != nil {
		// The recipient may have rejected before the room write landed.
		if errors.Is(err, calls.ErrCallTerminal) {
			c.releaseSlot(ctx, callerID)
			return rec, nil
		}
		c.releaseSlot(ctx, callerID)
		return calls.Record{}, err
	}
	c.publish(ctx, signaling.EventUpdate, rec)
	return rec, nil
}

// RunCaller attends the caller side of a placed call until it is over: it
// rings for at most the ring timeout, joins the media room when the recipient
// accepts, starts charging once the caller confirms, ends the call when the
// remote party leaves the room, and settles the earning line at the end. It
// returns nil whenever the call reached a terminal state, however it got
// there.
func (c *Controller) RunCaller(ctx context.Context, callID string) error {
	rec, err := c.store.Get(ctx, callID)
	if err != nil {
		return err
	}

	events, cancelSub, err := c.channel.SubscribeCall(ctx, callID)
	if err != nil {
		return err
	}
	defer cancelSub()
	defer c.releaseSlot(context.WithoutCancel(ctx), rec.CallerID)

	ringTimer := time.NewTimer(c.ringTimeout)
	defer ringTimer.Stop()

	var sess media.Session
	defer func() {
		if sess != nil {
			_ = sess.Leave(context.WithoutCancel(ctx))
		}
	}()

	billingDone := make(chan error, 1)
	billingStarted := false
	joined := false
	var mediaEvents <-chan media.Event

	for {
		// React to the current stored state, not to event payloads.
		rec, err = c.store.Get(ctx, callID)
		if err != nil {
			return err
		}

		if rec.Status.IsTerminal() {
			c.settle(context.WithoutCancel(ctx), rec)
			return nil
		}

		if rec.Status == calls.StatusAccepted && !joined {
			joined = true
			sess = c.join(ctx, rec, rec.CallerID)
			if sess != nil {
				mediaEvents = sess.Events()
			}
		}

		// Billing waits for the caller's explicit confirmation gesture; the
		// record's confirmed flag is the gate, not acceptance.
		if rec.IsConfirmed && !billingStarted {
			billingStarted = true
			go func() { billingDone <- c.engine.Run(context.WithoutCancel(ctx), callID) }()
		}

		select {
		case <-ctx.Done():
			// Caller went away mid call; hang up rather than bill a ghost.
			c.hangupInternal(context.WithoutCancel(ctx), callID)
			return ctx.Err()
		case <-ringTimer.C:
			if rec.Status == calls.StatusPending {
				c.log.Info("session: call rang out", "call_id", callID)
				if _, err := c.cancelInternal(ctx, callID); err != nil &&
					!errors.Is(err, calls.ErrNotPending) && !errors.Is(err, calls.ErrCallTerminal) {
					return err
				}
			}
		case err := <-billingDone:
			if err != nil && !errors.Is(err, context.Canceled) {
				c.log.Error("session: billing stopped with error", "call_id", callID, "error", err)
			}
		case ev, ok := <-mediaEvents:
			if !ok {
				// Session torn down under us; the room is gone either way.
				mediaEvents = nil
				c.hangupInternal(context.WithoutCancel(ctx), callID)
				continue
			}
			if ev.Kind == media.EventParticipantLeft {
				c.log.Info("session: remote participant left", "call_id", callID, "participant", ev.Participant)
				c.hangupInternal(ctx, callID)
			}
		case _, ok := <-events:
			if !ok {
				return nil
			}
		}
	}
}

// Confirm is the caller attesting that a real, responsive person answered.
// It zeroes the billing counters and flips the confirmed flag; the caller's
// attendant starts charging only once it observes that flag.
func (c *Controller) Confirm(ctx context.Context, callID, userID string) (calls.Record, error) {
	rec, err := c.store.Get(ctx, callID)
	if err != nil {
		return calls.Record{}, err
	}
	if rec.CallerID != userID {
		return calls.Record{}, ErrNotParticipant
	}

	rec, err = c.store.Confirm(ctx, callID)
	if err != nil {
		return rec, err
	}
	c.publish(ctx, signaling.EventUpdate, rec)
	return rec, nil
}

// Accept answers a ringing call as its recipient and joins the media room.
// Exactly one of accept and cancel wins a race; the loser is told the call is
// no longer pending and corrects itself from the record.
func (c *Controller) Accept(ctx context.Context, callID, userID string) (calls.Record, media.Session, error) {
	rec, err := c.store.Get(ctx, callID)
	if err != nil {
		return calls.Record{}, nil, err
	}
	if rec.RecipientID != userID {
		return calls.Record{}, nil, ErrNotParticipant
	}

	rec, err = c.store.Accept(ctx, callID, c.clock())
	if err != nil {
		return rec, nil, err
	}
	c.publish(ctx, signaling.EventUpdate, rec)

	return rec, c.join(ctx, rec, userID), nil
}

// Reject declines a ringing call as its recipient.
func (c *Controller) Reject(ctx context.Context, callID, userID string) (calls.Record, error) {
	rec, err := c.store.Get(ctx, callID)
	if err != nil {
		return calls.Record{}, err
	}
	if rec.RecipientID != userID {
		return calls.Record{}, ErrNotParticipant
	}
	if rec.Status != calls.StatusPending {
		if rec.Status.IsTerminal() {
			return rec, calls.ErrCallTerminal
		}
		return rec, calls.ErrNotPending
	}

	rec, err = c.store.Terminate(ctx, callID, calls.StatusRejected, c.clock())
	if err != nil {
		return rec, err
	}
	c.publish(ctx, signaling.EventUpdate, rec)
	return rec, nil
}

// Cancel withdraws a still ringing call as its caller.
func (c *Controller) Cancel(ctx context.Context, callID, userID string) (calls.Record, error) {
	rec, err := c.store.Get(ctx, callID)
	if err != nil {
		return calls.Record{}, err
	}
	if rec.CallerID != userID {
		return calls.Record{}, ErrNotParticipant
	}
	if rec.Status != calls.StatusPending {
		if rec.Status.IsTerminal() {
			return rec, calls.ErrCallTerminal
		}
		return rec, calls.ErrNotPending
	}
	return c.cancelInternal(ctx, callID)
}

// Hangup ends an answered call from either side. The earning line for the
// recipient is settled here when the caller side is not attending the call.
func (c *Controller) Hangup(ctx context.Context, callID, userID string) (calls.Record, error) {
	rec, err := c.store.Get(ctx, callID)
	if err != nil {
		return calls.Record{}, err
	}
	if rec.CallerID != userID && rec.RecipientID != userID {
		return calls.Record{}, ErrNotParticipant
	}
	return c.hangupInternal(ctx, callID)
}

func (c *Controller) cancelInternal(ctx context.Context, callID string) (calls.Record, error) {
	rec, err := c.store.Terminate(ctx, callID, calls.StatusCancelled, c.clock())
	if err != nil {
		return rec, err
	}
	c.publish(ctx, signaling.EventUpdate, rec)
	return rec, nil
}

func (c *Controller) hangupInternal(ctx context.Context, callID string) (calls.Record, error) {
	rec, err := c.store.Terminate(ctx, callID, calls.StatusEnded, c.clock())
	if err != nil {
		if errors.Is(err, calls.ErrCallTerminal) {
			return rec, nil
		}
		return rec, err
	}
	c.publish(ctx, signaling.EventUpdate, rec)
	c.settle(ctx, rec)
	return rec, nil
}

// settle writes the recipient's earning history line for a finished, charged
// call. Safe to reach from more than one path; the store deduplicates per
// (user, call).
func (c *Controller) settle(ctx context.Context, rec calls.Record) {
	if !rec.IsConfirmed || rec.Status != calls.StatusEnded {
		return
	}

	callerName := ""
	if caller, err := c.profiles.Get(ctx, rec.CallerID); err == nil {
		callerName = caller.DisplayName
	}

	_, err := c.earnings.Record(ctx, earnings.Entry{
		UserID:          rec.RecipientID,
		CallID:          rec.ID,
		Amount:          rec.TotalCharged,
		DurationMinutes: pricing.BillableMinutes(rec.DurationSeconds),
		CallerName:      callerName,
	})
	if err != nil && !errors.Is(err, earnings.ErrDuplicate) {
		c.log.Error("session: earning history write failed", "call_id", rec.ID, "error", err)
	}
}

// join connects the given participant to the call's media room. A provider
// that cannot host in-process sessions is fine; clients join on their own.
func (c *Controller) join(ctx context.Context, rec calls.Record, userID string) media.Session {
	if rec.Room == nil {
		return nil
	}
	name := ""
	if p, err := c.profiles.Get(ctx, userID); err == nil {
		name = p.DisplayName
	}
	sess, err := c.media.Join(ctx, media.JoinRequest{
		RoomName:    rec.Room.RoomName,
		AppName:     rec.Room.AppName,
		DisplayName: name,
	})
	if err != nil {
		if !errors.Is(err, media.ErrNotSupported) {
			c.log.Warn("session: media join failed", "call_id", rec.ID, "error", err)
		}
		return nil
	}
	return sess
}

func (c *Controller) publish(ctx context.Context, kind signaling.EventKind, rec calls.Record) {
	if err := c.channel.Publish(ctx, signaling.Event{Kind: kind, Record: rec}); err != nil {
		c.log.Warn("session: publish failed", "call_id", rec.ID, "error", err)
	}
}

func (c *Controller) releaseSlot(ctx context.Context, userID string) {
	if c.slots == nil {
		return
	}
	if err := c.slots.Release(ctx, userID); err != nil {
		c.log.Warn("session: slot release failed", "user_id", userID, "error", err)
	}
}
