package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
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

// memorySlots is a single-process CallSlots for tests.
type memorySlots struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemorySlots() *memorySlots { return &memorySlots{held: map[string]bool{}} }

func (s *memorySlots) Acquire(ctx context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.held[userID] {
		return false, nil
	}
	s.held[userID] = true
	return true, nil
}

func (s *memorySlots) Release(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.held, userID)
	return nil
}

type fixture struct {
	store      *calls.MemoryStore
	profiles   *profiles.MemoryStore
	walletRepo *wallet.MemoryRepo
	wallets    *wallet.Service
	earnStore  *earnings.MemoryStore
	channel    *signaling.MemoryChannel
	provider   *media.FakeProvider
	slots      *memorySlots
	controller *Controller
}

func newFixture(t *testing.T, tickInterval time.Duration) *fixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	f := &fixture{
		store:      calls.NewMemoryStore(),
		profiles:   profiles.NewMemoryStore(),
		walletRepo: wallet.NewMemoryRepo(),
		earnStore:  earnings.NewMemoryStore(),
		channel:    signaling.NewMemoryChannel(),
		provider:   media.NewFakeProvider("testapp"),
		slots:      newMemorySlots(),
	}
	f.wallets = wallet.NewService(f.walletRepo)

	rates, err := pricing.NewService(money.MustParse("1.5"))
	if err != nil {
		t.Fatalf("pricing.NewService: %v", err)
	}
	engine := billing.NewEngine(f.store, f.wallets, f.channel, log, tickInterval)

	f.controller = NewController(Config{
		Store:           f.store,
		Profiles:        f.profiles,
		Rates:           rates,
		Wallets:         f.wallets,
		Earnings:        earnings.NewService(f.earnStore),
		Channel:         f.channel,
		Media:           f.provider,
		Engine:          engine,
		Slots:           f.slots,
		Log:             log,
		RingTimeout:     time.Minute,
		MinStartBalance: money.MustParse("10"),
	})
	return f
}

func (f *fixture) seedUsers(t *testing.T, callerBalance string) {
	t.Helper()
	f.profiles.Put(profiles.Profile{ID: "bob", DisplayName: "Bob", VideoCallEnabled: true})
	f.profiles.Put(profiles.Profile{ID: "alice", DisplayName: "Alice", VideoCallEnabled: true})
	f.walletRepo.Seed(wallet.Wallet{UserID: "bob", AccountBalance: money.MustParse(callerBalance)})
	f.walletRepo.Seed(wallet.Wallet{UserID: "alice"})
}

func TestInitiateCreatesPendingCallWithRoom(t *testing.T) {
	f := newFixture(t, time.Second)
	f.seedUsers(t, "50")

	rec, err := f.controller.Initiate(context.Background(), "bob", "alice")
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if rec.Status != calls.StatusPending {
		t.Errorf("status = %q, want pending", rec.Status)
	}
	if rec.Room == nil || rec.Room.AppName != "testapp" {
		t.Errorf("room = %+v", rec.Room)
	}
	if rec.PricePerSecond.Cmp(money.MustParse("1.5")) != 0 {
		t.Errorf("rate = %s, want default 1.5", rec.PricePerSecond)
	}
	if rooms := f.provider.Rooms(); len(rooms) != 1 {
		t.Errorf("provisioned rooms = %v", rooms)
	}
}

func TestInitiateUsesRecipientCustomRate(t *testing.T) {
	f := newFixture(t, time.Second)
	f.seedUsers(t, "50")
	custom := money.MustParse("2.5")
	f.profiles.Put(profiles.Profile{ID: "alice", DisplayName: "Alice", VideoCallEnabled: true, CustomPricePerSecond: &custom})

	rec, err := f.controller.Initiate(context.Background(), "bob", "alice")
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if rec.PricePerSecond.Cmp(custom) != 0 {
		t.Errorf("rate = %s, want 2.5", rec.PricePerSecond)
	}
}

func TestInitiateScreening(t *testing.T) {
	f := newFixture(t, time.Second)
	f.seedUsers(t, "50")
	f.profiles.Put(profiles.Profile{ID: "noname"})
	f.profiles.Put(profiles.Profile{ID: "offline", DisplayName: "Off", VideoCallEnabled: false})
	f.walletRepo.Seed(wallet.Wallet{UserID: "poor", AccountBalance: money.MustParse("9.99")})
	f.profiles.Put(profiles.Profile{ID: "poor", DisplayName: "Poor", VideoCallEnabled: true})

	ctx := context.Background()
	if _, err := f.controller.Initiate(ctx, "noname", "alice"); !errors.Is(err, ErrCallerProfileIncomplete) {
		t.Errorf("incomplete caller: err = %v", err)
	}
	if _, err := f.controller.Initiate(ctx, "bob", "offline"); !errors.Is(err, ErrRecipientUnavailable) {
		t.Errorf("disabled recipient: err = %v", err)
	}
	if _, err := f.controller.Initiate(ctx, "bob", "missing"); !errors.Is(err, ErrRecipientUnavailable) {
		t.Errorf("missing recipient: err = %v", err)
	}
	if _, err := f.controller.Initiate(ctx, "poor", "alice"); !errors.Is(err, ErrBalanceTooLow) {
		t.Errorf("low balance: err = %v", err)
	}
	if _, err := f.controller.Initiate(ctx, "bob", "bob"); !errors.Is(err, calls.ErrSelfCall) {
		t.Errorf("self call: err = %v", err)
	}
}

func TestInitiateRespectsCallSlot(t *testing.T) {
	f := newFixture(t, time.Second)
	f.seedUsers(t, "50")
	ctx := context.Background()

	if _, err := f.controller.Initiate(ctx, "bob", "alice"); err != nil {
		t.Fatalf("first Initiate: %v", err)
	}
	if _, err := f.controller.Initiate(ctx, "bob", "alice"); !errors.Is(err, ErrCallerBusy) {
		t.Fatalf("second Initiate: err = %v, want ErrCallerBusy", err)
	}
}

func TestInitiateCancelsOnProvisioningFailure(t *testing.T) {
	f := newFixture(t, time.Second)
	f.seedUsers(t, "50")
	f.provider.FailProvision = media.ErrRoomProvisioning

	_, err := f.controller.Initiate(context.Background(), "bob", "alice")
	if !errors.Is(err, media.ErrRoomProvisioning) {
		t.Fatalf("err = %v, want ErrRoomProvisioning", err)
	}

	pending, _ := f.store.ListPendingFor(context.Background(), "alice")
	if len(pending) != 0 {
		t.Errorf("pending calls left behind: %+v", pending)
	}
	// Failed initiation frees the slot for a retry.
	if ok, _ := f.slots.Acquire(context.Background(), "bob"); !ok {
		t.Error("slot should have been released")
	}
}

func TestAcceptRejectCancelRequireTheRightParty(t *testing.T) {
	f := newFixture(t, time.Second)
	f.seedUsers(t, "50")
	ctx := context.Background()

	rec, err := f.controller.Initiate(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	if _, _, err := f.controller.Accept(ctx, rec.ID, "bob"); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("caller accepting: err = %v", err)
	}
	if _, err := f.controller.Reject(ctx, rec.ID, "bob"); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("caller rejecting: err = %v", err)
	}
	if _, err := f.controller.Cancel(ctx, rec.ID, "alice"); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("recipient cancelling: err = %v", err)
	}
	if _, err := f.controller.Hangup(ctx, rec.ID, "mallory"); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("outsider hanging up: err = %v", err)
	}
}

func TestRejectBeatsLateAccept(t *testing.T) {
	f := newFixture(t, time.Second)
	f.seedUsers(t, "50")
	ctx := context.Background()

	rec, err := f.controller.Initiate(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if _, err := f.controller.Reject(ctx, rec.ID, "alice"); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if _, _, err := f.controller.Accept(ctx, rec.ID, "alice"); !errors.Is(err, calls.ErrCallTerminal) {
		t.Fatalf("accept after reject: err = %v, want ErrCallTerminal", err)
	}
	got, _ := f.store.Get(ctx, rec.ID)
	if got.Status != calls.StatusRejected {
		t.Errorf("status = %q, want rejected", got.Status)
	}
}

func TestRunCallerRingsOutAndCancels(t *testing.T) {
	f := newFixture(t, time.Second)
	f.controller.ringTimeout = 20 * time.Millisecond
	f.seedUsers(t, "50")
	ctx := context.Background()

	rec, err := f.controller.Initiate(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if err := f.controller.RunCaller(ctx, rec.ID); err != nil {
		t.Fatalf("RunCaller: %v", err)
	}

	got, _ := f.store.Get(ctx, rec.ID)
	if got.Status != calls.StatusCancelled {
		t.Errorf("status = %q, want cancelled", got.Status)
	}
	// No money moved and no earning line for an unanswered call.
	caller, _ := f.wallets.Get(ctx, "bob")
	if caller.AccountBalance.Cmp(money.MustParse("50")) != 0 {
		t.Errorf("caller balance = %s, want untouched 50", caller.AccountBalance)
	}
	history, _ := f.earnStore.ListForUser(ctx, "alice", 10)
	if len(history) != 0 {
		t.Errorf("unexpected earning entries: %+v", history)
	}
}

func TestAnsweredCallBillsAndSettles(t *testing.T) {
	f := newFixture(t, time.Millisecond)
	f.seedUsers(t, "1000")
	ctx := context.Background()

	rec, err := f.controller.Initiate(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- f.controller.RunCaller(ctx, rec.ID) }()

	// Answer as the recipient once the caller side is listening, then confirm
	// as the caller; charging starts only after the confirmation.
	time.Sleep(5 * time.Millisecond)
	if _, _, err := f.controller.Accept(ctx, rec.ID, "alice"); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if _, err := f.controller.Confirm(ctx, rec.ID, "bob"); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	// Let a few seconds of (accelerated) billing land, then hang up.
	waitFor(t, func() bool {
		got, err := f.store.Get(ctx, rec.ID)
		return err == nil && got.DurationSeconds >= 3
	})
	if _, err := f.controller.Hangup(ctx, rec.ID, "alice"); err != nil {
		t.Fatalf("Hangup: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunCaller: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunCaller did not return after hangup")
	}

	got, _ := f.store.Get(ctx, rec.ID)
	if got.Status != calls.StatusEnded {
		t.Fatalf("status = %q, want ended", got.Status)
	}
	if !got.IsConfirmed {
		t.Error("call should be confirmed")
	}
	if got.DurationSeconds < 3 {
		t.Errorf("duration = %d, want at least 3", got.DurationSeconds)
	}

	// What the caller spent is what the recipient earned.
	caller, _ := f.wallets.Get(ctx, "bob")
	recipient, _ := f.wallets.Get(ctx, "alice")
	spent := money.MustParse("1000").Sub(caller.AccountBalance)
	if spent.Cmp(recipient.ActiveEarning) != 0 {
		t.Errorf("spent %s != earned %s", spent, recipient.ActiveEarning)
	}

	// One earning line, under a minute of billing rounds up to one minute.
	history, err := f.earnStore.ListForUser(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("ListForUser: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("earning entries = %d, want 1", len(history))
	}
	entry := history[0]
	if entry.CallID != rec.ID {
		t.Errorf("entry call id = %q", entry.CallID)
	}
	if entry.DurationMinutes != 1 {
		t.Errorf("duration minutes = %d, want 1", entry.DurationMinutes)
	}
	if entry.Amount.Cmp(got.TotalCharged) != 0 {
		t.Errorf("entry amount = %s, want %s", entry.Amount, got.TotalCharged)
	}
	if entry.CallerName != "Bob" {
		t.Errorf("caller name = %q, want Bob", entry.CallerName)
	}

	// The caller's slot frees once the call is over.
	waitFor(t, func() bool {
		ok, _ := f.slots.Acquire(ctx, "bob")
		if ok {
			_ = f.slots.Release(ctx, "bob")
		}
		return ok
	})
}

func TestBillingWaitsForCallerConfirmation(t *testing.T) {
	f := newFixture(t, time.Millisecond)
	f.seedUsers(t, "1000")
	ctx := context.Background()

	rec, err := f.controller.Initiate(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- f.controller.RunCaller(ctx, rec.ID) }()

	time.Sleep(5 * time.Millisecond)
	if _, _, err := f.controller.Accept(ctx, rec.ID, "alice"); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	// Acceptance alone must not move money. At millisecond ticks, 50ms of
	// unconfirmed silence would otherwise burn dozens of charges.
	time.Sleep(50 * time.Millisecond)
	got, _ := f.store.Get(ctx, rec.ID)
	if got.IsConfirmed {
		t.Fatal("call confirmed without a caller gesture")
	}
	if got.DurationSeconds != 0 {
		t.Fatalf("duration = %d before confirmation, want 0", got.DurationSeconds)
	}
	caller, _ := f.wallets.Get(ctx, "bob")
	if caller.AccountBalance.Cmp(money.MustParse("1000")) != 0 {
		t.Fatalf("caller balance = %s before confirmation, want untouched 1000", caller.AccountBalance)
	}

	// The gesture opens the gate.
	if _, err := f.controller.Confirm(ctx, rec.ID, "bob"); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	waitFor(t, func() bool {
		got, err := f.store.Get(ctx, rec.ID)
		return err == nil && got.DurationSeconds >= 2
	})

	if _, err := f.controller.Hangup(ctx, rec.ID, "bob"); err != nil {
		t.Fatalf("Hangup: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunCaller did not return after hangup")
	}
}

func TestConfirmIsCallerOnlyAndNeedsAcceptance(t *testing.T) {
	f := newFixture(t, time.Second)
	f.seedUsers(t, "50")
	ctx := context.Background()

	rec, err := f.controller.Initiate(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	// Nobody but the caller confirms, and never while still ringing.
	if _, err := f.controller.Confirm(ctx, rec.ID, "alice"); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("recipient confirming: err = %v", err)
	}
	if _, err := f.controller.Confirm(ctx, rec.ID, "bob"); !errors.Is(err, calls.ErrNotPending) {
		t.Errorf("confirm before accept: err = %v", err)
	}

	if _, _, err := f.controller.Accept(ctx, rec.ID, "alice"); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	got, err := f.controller.Confirm(ctx, rec.ID, "bob")
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if !got.IsConfirmed || got.DurationSeconds != 0 {
		t.Errorf("confirmed record = %+v", got)
	}
}

func TestRemoteParticipantLeavingEndsCall(t *testing.T) {
	f := newFixture(t, time.Millisecond)
	f.seedUsers(t, "1000")
	ctx := context.Background()

	rec, err := f.controller.Initiate(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- f.controller.RunCaller(ctx, rec.ID) }()

	time.Sleep(5 * time.Millisecond)
	if _, _, err := f.controller.Accept(ctx, rec.ID, "alice"); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if _, err := f.controller.Confirm(ctx, rec.ID, "bob"); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	waitFor(t, func() bool {
		got, err := f.store.Get(ctx, rec.ID)
		return err == nil && got.DurationSeconds >= 1
	})

	// The recipient drops off the room without touching the API; the caller's
	// attendant must notice and end the call.
	for _, sess := range f.provider.Sessions() {
		sess.Emit(media.Event{Kind: media.EventParticipantLeft, Participant: "Alice"})
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunCaller: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunCaller did not return after remote left")
	}

	got, _ := f.store.Get(ctx, rec.ID)
	if got.Status != calls.StatusEnded {
		t.Fatalf("status = %q, want ended", got.Status)
	}
	// The settled earning line matches the charged total.
	history, _ := f.earnStore.ListForUser(ctx, "alice", 10)
	if len(history) != 1 {
		t.Fatalf("earning entries = %d, want 1", len(history))
	}
	if history[0].Amount.Cmp(got.TotalCharged) != 0 {
		t.Errorf("entry amount = %s, want %s", history[0].Amount, got.TotalCharged)
	}
}

func TestCallEndsWhenCallerRunsOutOfFunds(t *testing.T) {
	f := newFixture(t, time.Millisecond)
	// 10.0 at the default 1.5 rate covers exactly six seconds.
	f.seedUsers(t, "10.0")
	ctx := context.Background()

	rec, err := f.controller.Initiate(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- f.controller.RunCaller(ctx, rec.ID) }()

	time.Sleep(5 * time.Millisecond)
	if _, _, err := f.controller.Accept(ctx, rec.ID, "alice"); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if _, err := f.controller.Confirm(ctx, rec.ID, "bob"); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunCaller: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunCaller did not return after funds ran out")
	}

	got, _ := f.store.Get(ctx, rec.ID)
	if got.Status != calls.StatusEnded {
		t.Errorf("status = %q, want ended", got.Status)
	}
	if got.DurationSeconds != 6 {
		t.Errorf("duration = %d, want 6", got.DurationSeconds)
	}
	if got.TotalCharged.Cmp(money.MustParse("9.0")) != 0 {
		t.Errorf("total = %s, want 9.0", got.TotalCharged)
	}

	history, _ := f.earnStore.ListForUser(ctx, "alice", 10)
	if len(history) != 1 {
		t.Fatalf("earning entries = %d, want 1", len(history))
	}
	if history[0].Amount.Cmp(money.MustParse("9.0")) != 0 {
		t.Errorf("entry amount = %s, want 9.0", history[0].Amount)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatal("condition not reached in time")
		case <-time.After(2 * time.Millisecond):
		}
	}
}
