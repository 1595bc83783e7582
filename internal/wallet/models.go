package wallet

import (
	"time"

	"tuonane/internal/money"
)

// Wallet holds one user's two balances plus the lifetime withdrawal counter.
//
// Money invariants:
// - AccountBalance (spendable) is never driven negative by billing; a debit that
//   would do so is refused.
// - ActiveEarning (withdrawable) has no upper bound enforced here.
// - Any balance change MUST have a corresponding ledger entry.
type Wallet struct {
	UserID string `json:"user_id" db:"user_id"`

	AccountBalance money.Amount `json:"account_balance" db:"account_balance"`
	ActiveEarning  money.Amount `json:"active_earning" db:"active_earning"`
	TotalWithdrawn money.Amount `json:"total_withdrawn" db:"total_withdrawn"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// AdminCreditRef marks manual top-ups in the ledger so reporting can separate
// them from organic call activity.
const AdminCreditRef = "admin_manual_credit"

// Balance names which of the two balances a ledger entry touched.
type Balance string

const (
	BalanceSpend   Balance = "spend"   // account_balance
	BalanceEarning Balance = "earning" // active_earning
)

// LedgerEntry is an immutable append-only record of one balance change.
// Credits are positive, debits are negative.
//
// IdempotencyKey is required for safe retries of money-posting operations; the
// billing engine keys each tick as "call:<call_id>:tick:<n>" so a replayed tick can
// neither double-charge the caller nor double-credit the recipient.
type LedgerEntry struct {
	ID      string  `json:"id" db:"id"`
	UserID  string  `json:"user_id" db:"user_id"`
	Balance Balance `json:"balance" db:"balance"`

	Amount money.Amount `json:"amount" db:"amount"`

	// ExternalRef is optional: call_id, payment reference, etc.
	ExternalRef string `json:"external_ref,omitempty" db:"external_ref"`

	IdempotencyKey string `json:"idempotency_key" db:"idempotency_key"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
