package wallet

import (
	"context"
	"sync"
	"time"

	"tuonane/internal/money"

	"github.com/google/uuid"
)

// MemoryRepo is an in-memory Repository for tests and early development.
// The single mutex makes every operation (including Transfer) atomic.
type MemoryRepo struct {
	mu      sync.Mutex
	wallets map[string]Wallet
	ledger  []LedgerEntry
	byKey   map[string]struct{}
	clock   func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		wallets: map[string]Wallet{},
		byKey:   map[string]struct{}{},
		clock:   time.Now,
	}
}

// Seed creates or replaces a wallet; test setup helper.
func (r *MemoryRepo) Seed(w Wallet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = r.clock().UTC()
	}
	w.UpdatedAt = w.CreatedAt
	r.wallets[w.UserID] = w
}

// Ledger returns a copy of all entries, oldest first.
func (r *MemoryRepo) Ledger() []LedgerEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]LedgerEntry, len(r.ledger))
	copy(out, r.ledger)
	return out
}

func (r *MemoryRepo) Get(ctx context.Context, userID string) (Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.get(userID)
}

func (r *MemoryRepo) get(userID string) (Wallet, error) {
	w, ok := r.wallets[userID]
	if !ok {
		return Wallet{}, ErrNotFound
	}
	return w, nil
}

func (r *MemoryRepo) append(userID string, balance Balance, amount money.Amount, externalRef, key string) {
	r.ledger = append(r.ledger, LedgerEntry{
		ID:             uuid.NewString(),
		UserID:         userID,
		Balance:        balance,
		Amount:         amount,
		ExternalRef:    externalRef,
		IdempotencyKey: key,
		CreatedAt:      r.clock().UTC(),
	})
	r.byKey[key] = struct{}{}
}

func (r *MemoryRepo) Debit(ctx context.Context, userID string, amount money.Amount, externalRef, idempotencyKey string) (Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, err := r.get(userID)
	if err != nil {
		return Wallet{}, err
	}
	if _, seen := r.byKey[idempotencyKey]; seen {
		return w, nil
	}
	if w.AccountBalance.LessThan(amount) {
		return w, ErrInsufficientFunds
	}

	w.AccountBalance = w.AccountBalance.Sub(amount)
	w.UpdatedAt = r.clock().UTC()
	r.wallets[userID] = w
	r.append(userID, BalanceSpend, money.Zero().Sub(amount), externalRef, idempotencyKey)
	return w, nil
}

func (r *MemoryRepo) CreditEarning(ctx context.Context, userID string, amount money.Amount, externalRef, idempotencyKey string) (Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, err := r.get(userID)
	if err != nil {
		return Wallet{}, err
	}
	if _, seen := r.byKey[idempotencyKey]; seen {
		return w, nil
	}

	w.ActiveEarning = w.ActiveEarning.Add(amount)
	w.UpdatedAt = r.clock().UTC()
	r.wallets[userID] = w
	r.append(userID, BalanceEarning, amount, externalRef, idempotencyKey)
	return w, nil
}

func (r *MemoryRepo) CreditBalance(ctx context.Context, userID string, amount money.Amount, externalRef, idempotencyKey string) (Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, err := r.get(userID)
	if err != nil {
		return Wallet{}, err
	}
	if _, seen := r.byKey[idempotencyKey]; seen {
		return w, nil
	}

	w.AccountBalance = w.AccountBalance.Add(amount)
	w.UpdatedAt = r.clock().UTC()
	r.wallets[userID] = w
	r.append(userID, BalanceSpend, amount, externalRef, idempotencyKey)
	return w, nil
}

func (r *MemoryRepo) Transfer(ctx context.Context, fromUserID, toUserID string, amount money.Amount, externalRef, idempotencyKey string) (Wallet, Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	from, err := r.get(fromUserID)
	if err != nil {
		return Wallet{}, Wallet{}, err
	}
	to, err := r.get(toUserID)
	if err != nil {
		return Wallet{}, Wallet{}, err
	}
	if _, seen := r.byKey[idempotencyKey]; seen {
		return from, to, nil
	}
	if from.AccountBalance.LessThan(amount) {
		return from, to, ErrInsufficientFunds
	}

	now := r.clock().UTC()
	from.AccountBalance = from.AccountBalance.Sub(amount)
	from.UpdatedAt = now
	to.ActiveEarning = to.ActiveEarning.Add(amount)
	to.UpdatedAt = now
	r.wallets[fromUserID] = from
	r.wallets[toUserID] = to

	// Both legs share the idempotency key; they are one logical entry pair.
	r.ledger = append(r.ledger,
		LedgerEntry{
			ID:             uuid.NewString(),
			UserID:         fromUserID,
			Balance:        BalanceSpend,
			Amount:         money.Zero().Sub(amount),
			ExternalRef:    externalRef,
			IdempotencyKey: idempotencyKey,
			CreatedAt:      now,
		},
		LedgerEntry{
			ID:             uuid.NewString(),
			UserID:         toUserID,
			Balance:        BalanceEarning,
			Amount:         amount,
			ExternalRef:    externalRef,
			IdempotencyKey: idempotencyKey,
			CreatedAt:      now,
		},
	)
	r.byKey[idempotencyKey] = struct{}{}
	return from, to, nil
}
