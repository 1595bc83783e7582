package wallet

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"tuonane/internal/money"
	"tuonane/pkg/utils"

	"github.com/google/uuid"
)

// PostgresRepo persists wallets and their ledger.
//
// NOTE: assumed tables:
// - wallets (user_id PK, account_balance NUMERIC, active_earning NUMERIC,
//   total_withdrawn NUMERIC, created_at, updated_at)
// - wallet_ledger (id PK, user_id, balance, amount NUMERIC, external_ref,
//   idempotency_key, created_at) with UNIQUE (idempotency_key, user_id)
//
// Wallet rows are locked FOR UPDATE to serialize concurrent money operations; the
// billing engine and the top-up/withdrawal flows both go through these methods.
type PostgresRepo struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db, clock: time.Now}
}

const walletColumns = `user_id, account_balance, active_earning, total_withdrawn, created_at, updated_at`

func (r *PostgresRepo) Get(ctx context.Context, userID string) (Wallet, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1`, userID)
	return scanWallet(row.Scan)
}

func scanWallet(scan func(...any) error) (Wallet, error) {
	var w Wallet
	err := scan(
		&w.UserID,
		&w.AccountBalance,
		&w.ActiveEarning,
		&w.TotalWithdrawn,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Wallet{}, ErrNotFound
		}
		return Wallet{}, err
	}
	return w, nil
}

func lockWallet(ctx context.Context, tx *sql.Tx, userID string) (Wallet, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1 FOR UPDATE`, userID)
	return scanWallet(row.Scan)
}

func ledgerKeySeen(ctx context.Context, tx *sql.Tx, userID, key string) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx,
		`SELECT 1 FROM wallet_ledger WHERE user_id = $1 AND idempotency_key = $2 LIMIT 1`,
		userID, key,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func insertLedger(ctx context.Context, tx *sql.Tx, e LedgerEntry) error {
	const q = `
INSERT INTO wallet_ledger (id, user_id, balance, amount, external_ref, idempotency_key, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`
	_, err := tx.ExecContext(ctx, q,
		e.ID, e.UserID, string(e.Balance), e.Amount, e.ExternalRef, e.IdempotencyKey, e.CreatedAt,
	)
	return err
}

func updateBalances(ctx context.Context, tx *sql.Tx, w Wallet) error {
	const q = `
UPDATE wallets
SET account_balance = $2, active_earning = $3, total_withdrawn = $4, updated_at = $5
WHERE user_id = $1
`
	_, err := tx.ExecContext(ctx, q,
		w.UserID, w.AccountBalance, w.ActiveEarning, w.TotalWithdrawn, w.UpdatedAt,
	)
	return err
}

func (r *PostgresRepo) Debit(ctx context.Context, userID string, amount money.Amount, externalRef, idempotencyKey string) (Wallet, error) {
	var out Wallet
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		w, err := lockWallet(ctx, tx, userID)
		if err != nil {
			return err
		}
		if seen, err := ledgerKeySeen(ctx, tx, userID, idempotencyKey); err != nil {
			return err
		} else if seen {
			out = w
			return nil
		}
		if w.AccountBalance.LessThan(amount) {
			out = w
			return ErrInsufficientFunds
		}

		now := r.clock().UTC()
		w.AccountBalance = w.AccountBalance.Sub(amount)
		w.UpdatedAt = now
		if err := updateBalances(ctx, tx, w); err != nil {
			return err
		}
		if err := insertLedger(ctx, tx, LedgerEntry{
			ID:             uuid.NewString(),
			UserID:         userID,
			Balance:        BalanceSpend,
			Amount:         money.Zero().Sub(amount),
			ExternalRef:    externalRef,
			IdempotencyKey: idempotencyKey,
			CreatedAt:      now,
		}); err != nil {
			return err
		}
		out = w
		return nil
	})
	return out, err
}

func (r *PostgresRepo) CreditEarning(ctx context.Context, userID string, amount money.Amount, externalRef, idempotencyKey string) (Wallet, error) {
	return r.credit(ctx, userID, BalanceEarning, amount, externalRef, idempotencyKey)
}

func (r *PostgresRepo) CreditBalance(ctx context.Context, userID string, amount money.Amount, externalRef, idempotencyKey string) (Wallet, error) {
	return r.credit(ctx, userID, BalanceSpend, amount, externalRef, idempotencyKey)
}

func (r *PostgresRepo) credit(ctx context.Context, userID string, balance Balance, amount money.Amount, externalRef, idempotencyKey string) (Wallet, error) {
	var out Wallet
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		w, err := lockWallet(ctx, tx, userID)
		if err != nil {
			return err
		}
		if seen, err := ledgerKeySeen(ctx, tx, userID, idempotencyKey); err != nil {
			return err
		} else if seen {
			out = w
			return nil
		}

		now := r.clock().UTC()
		switch balance {
		case BalanceSpend:
			w.AccountBalance = w.AccountBalance.Add(amount)
		case BalanceEarning:
			w.ActiveEarning = w.ActiveEarning.Add(amount)
		default:
			return ErrInvalidArgument
		}
		w.UpdatedAt = now
		if err := updateBalances(ctx, tx, w); err != nil {
			return err
		}
		if err := insertLedger(ctx, tx, LedgerEntry{
			ID:             uuid.NewString(),
			UserID:         userID,
			Balance:        balance,
			Amount:         amount,
			ExternalRef:    externalRef,
			IdempotencyKey: idempotencyKey,
			CreatedAt:      now,
		}); err != nil {
			return err
		}
		out = w
		return nil
	})
	return out, err
}

func (r *PostgresRepo) Transfer(ctx context.Context, fromUserID, toUserID string, amount money.Amount, externalRef, idempotencyKey string) (Wallet, Wallet, error) {
	var outFrom, outTo Wallet
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		// Lock in a stable order to avoid deadlocks between concurrent transfers.
		first, second := fromUserID, toUserID
		if second < first {
			first, second = second, first
		}
		w1, err := lockWallet(ctx, tx, first)
		if err != nil {
			return err
		}
		w2, err := lockWallet(ctx, tx, second)
		if err != nil {
			return err
		}
		from, to := w1, w2
		if from.UserID != fromUserID {
			from, to = w2, w1
		}

		if seen, err := ledgerKeySeen(ctx, tx, fromUserID, idempotencyKey); err != nil {
			return err
		} else if seen {
			outFrom, outTo = from, to
			return nil
		}
		if from.AccountBalance.LessThan(amount) {
			outFrom, outTo = from, to
			return ErrInsufficientFunds
		}

		now := r.clock().UTC()
		from.AccountBalance = from.AccountBalance.Sub(amount)
		from.UpdatedAt = now
		to.ActiveEarning = to.ActiveEarning.Add(amount)
		to.UpdatedAt = now

		if err := updateBalances(ctx, tx, from); err != nil {
			return err
		}
		if err := updateBalances(ctx, tx, to); err != nil {
			return err
		}
		if err := insertLedger(ctx, tx, LedgerEntry{
			ID:             uuid.NewString(),
			UserID:         fromUserID,
			Balance:        BalanceSpend,
			Amount:         money.Zero().Sub(amount),
			ExternalRef:    externalRef,
			IdempotencyKey: idempotencyKey,
			CreatedAt:      now,
		}); err != nil {
			return err
		}
		if err := insertLedger(ctx, tx, LedgerEntry{
			ID:             uuid.NewString(),
			UserID:         toUserID,
			Balance:        BalanceEarning,
			Amount:         amount,
			ExternalRef:    externalRef,
			IdempotencyKey: idempotencyKey,
			CreatedAt:      now,
		}); err != nil {
			return err
		}
		outFrom, outTo = from, to
		return nil
	})
	return outFrom, outTo, err
}
