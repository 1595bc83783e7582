package wallet

import (
	"context"
	"errors"
	"fmt"

	"tuonane/internal/money"
)

var (
	ErrNotFound          = errors.New("wallet: not found")
	ErrInsufficientFunds = errors.New("wallet: insufficient funds")
	ErrInvalidArgument   = errors.New("wallet: invalid argument")
)

// Repository is the persistence contract for wallets and their ledger.
//
// Atomicity contract: each method is one atomic unit. Transfer in particular must
// debit the payer's spend balance and credit the payee's earning balance in a single
// transaction (Postgres) or under a single lock (memory) so a crash between the two
// legs cannot create or destroy money. All methods are read-modify-write against the
// latest persisted value; implementations serialize concurrent mutators per wallet.
type Repository interface {
	Get(ctx context.Context, userID string) (Wallet, error)

	// Debit subtracts amount from the user's spend balance; refused with
	// ErrInsufficientFunds if the result would be negative.
	Debit(ctx context.Context, userID string, amount money.Amount, externalRef, idempotencyKey string) (Wallet, error)

	// CreditEarning adds amount to the user's earning balance.
	CreditEarning(ctx context.Context, userID string, amount money.Amount, externalRef, idempotencyKey string) (Wallet, error)

	// CreditBalance adds amount to the user's spend balance (top-up path).
	CreditBalance(ctx context.Context, userID string, amount money.Amount, externalRef, idempotencyKey string) (Wallet, error)

	// Transfer atomically debits fromUserID's spend balance and credits toUserID's
	// earning balance. A repeated idempotency key is a no-op returning the current
	// wallets.
	Transfer(ctx context.Context, fromUserID, toUserID string, amount money.Amount, externalRef, idempotencyKey string) (from Wallet, to Wallet, err error)
}

// Service validates wallet operations and delegates to the repository.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) Get(ctx context.Context, userID string) (Wallet, error) {
	if userID == "" {
		return Wallet{}, ErrInvalidArgument
	}
	return s.repo.Get(ctx, userID)
}

func (s *Service) Debit(ctx context.Context, userID string, amount money.Amount, externalRef, idempotencyKey string) (Wallet, error) {
	if err := validateMoneyOp(userID, amount, idempotencyKey); err != nil {
		return Wallet{}, err
	}
	return s.repo.Debit(ctx, userID, amount, externalRef, idempotencyKey)
}

func (s *Service) CreditEarning(ctx context.Context, userID string, amount money.Amount, externalRef, idempotencyKey string) (Wallet, error) {
	if err := validateMoneyOp(userID, amount, idempotencyKey); err != nil {
		return Wallet{}, err
	}
	return s.repo.CreditEarning(ctx, userID, amount, externalRef, idempotencyKey)
}

func (s *Service) CreditBalance(ctx context.Context, userID string, amount money.Amount, externalRef, idempotencyKey string) (Wallet, error) {
	if err := validateMoneyOp(userID, amount, idempotencyKey); err != nil {
		return Wallet{}, err
	}
	return s.repo.CreditBalance(ctx, userID, amount, externalRef, idempotencyKey)
}

// Transfer is the billing engine's per-tick primitive.
func (s *Service) Transfer(ctx context.Context, fromUserID, toUserID string, amount money.Amount, externalRef, idempotencyKey string) (Wallet, Wallet, error) {
	if fromUserID == toUserID {
		return Wallet{}, Wallet{}, fmt.Errorf("%w: transfer to self", ErrInvalidArgument)
	}
	if toUserID == "" {
		return Wallet{}, Wallet{}, ErrInvalidArgument
	}
	if err := validateMoneyOp(fromUserID, amount, idempotencyKey); err != nil {
		return Wallet{}, Wallet{}, err
	}
	return s.repo.Transfer(ctx, fromUserID, toUserID, amount, externalRef, idempotencyKey)
}

// TickIdempotencyKey builds the ledger key for one billing tick of one call.
func TickIdempotencyKey(callID string, tick int) string {
	return fmt.Sprintf("call:%s:tick:%d", callID, tick)
}

func validateMoneyOp(userID string, amount money.Amount, idempotencyKey string) error {
	if userID == "" {
		return ErrInvalidArgument
	}
	if idempotencyKey == "" {
		return ErrInvalidArgument
	}
	if !amount.IsPositive() {
		return ErrInvalidArgument
	}
	return nil
}
