package reporting

import (
	"time"

	"tuonane/internal/money"
)

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest requests aggregated call metrics. UserID is optional;
// when set, only calls the user took part in (either side) are counted.

type CallsSummaryRequest struct {
	Range  TimeRange `json:"range"`
	UserID string    `json:"user_id,omitempty"`
}

type CallsSummary struct {
	UserID string `json:"user_id,omitempty"`

	TotalCalls     int `json:"total_calls"`
	EndedCalls     int `json:"ended_calls"`
	RejectedCalls  int `json:"rejected_calls"`
	CancelledCalls int `json:"cancelled_calls"`
	RingingCalls   int `json:"ringing_calls"`
	ActiveCalls    int `json:"active_calls"`

	// ChargedCalls counted calls that reached confirmation and moved money.
	ChargedCalls int `json:"charged_calls"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	TotalCharged money.Amount `json:"total_charged"`
}

// MoneySummaryRequest requests aggregated wallet movement, derived from the
// immutable ledger. UserID is optional; empty means platform-wide.

type MoneySummaryRequest struct {
	Range  TimeRange `json:"range"`
	UserID string    `json:"user_id,omitempty"`
}

type MoneySummary struct {
	UserID string `json:"user_id,omitempty"`

	// TotalSpent is the sum of spend-balance debits (call charges).
	TotalSpent money.Amount `json:"total_spent"`

	// TotalEarned is the sum of earning-balance credits.
	TotalEarned money.Amount `json:"total_earned"`

	// AdminCredits is the sum of manual spend-balance top-ups.
	AdminCredits money.Amount `json:"admin_credits"`

	EntryCount int `json:"entry_count"`
}
