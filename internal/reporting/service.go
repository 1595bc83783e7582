package reporting

import (
	"context"
	"errors"
	"time"

	"tuonane/internal/calls"
	"tuonane/internal/money"
	"tuonane/internal/wallet"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting.
//
// Implementations should query immutable sources when possible (wallet ledger,
// terminal call records).

type Repository interface {
	ListCalls(ctx context.Context, from, to time.Time, userID string) ([]calls.Record, error)
	ListLedger(ctx context.Context, from, to time.Time, userID string) ([]wallet.LedgerEntry, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if err := validateRange(req.Range); err != nil {
		return CallsSummary{}, err
	}
	if s.repo == nil {
		return CallsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListCalls(ctx, req.Range.From, req.Range.To, req.UserID)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{UserID: req.UserID, TotalCharged: money.Zero()}
	for _, c := range rows {
		out.TotalCalls++
		out.TotalDurationSeconds += c.DurationSeconds
		if c.IsConfirmed {
			out.ChargedCalls++
			out.TotalCharged = out.TotalCharged.Add(c.TotalCharged)
		}
		switch c.Status {
		case calls.StatusEnded:
			out.EndedCalls++
		case calls.StatusRejected:
			out.RejectedCalls++
		case calls.StatusCancelled:
			out.CancelledCalls++
		case calls.StatusPending:
			out.RingingCalls++
		case calls.StatusAccepted:
			out.ActiveCalls++
		}
	}
	if out.TotalCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.TotalCalls
	}
	return out, nil
}

func (s *Service) MoneySummary(ctx context.Context, req MoneySummaryRequest) (MoneySummary, error) {
	if err := validateRange(req.Range); err != nil {
		return MoneySummary{}, err
	}
	if s.repo == nil {
		return MoneySummary{}, errors.New("reporting: repository not configured")
	}

	entries, err := s.repo.ListLedger(ctx, req.Range.From, req.Range.To, req.UserID)
	if err != nil {
		return MoneySummary{}, err
	}

	out := MoneySummary{
		UserID:       req.UserID,
		TotalSpent:   money.Zero(),
		TotalEarned:  money.Zero(),
		AdminCredits: money.Zero(),
	}
	for _, l := range entries {
		out.EntryCount++
		switch {
		case l.Balance == wallet.BalanceSpend && l.Amount.IsNegative():
			out.TotalSpent = out.TotalSpent.Sub(l.Amount)
		case l.Balance == wallet.BalanceEarning && l.Amount.IsPositive():
			out.TotalEarned = out.TotalEarned.Add(l.Amount)
		}
		if l.ExternalRef == wallet.AdminCreditRef && l.Amount.IsPositive() {
			out.AdminCredits = out.AdminCredits.Add(l.Amount)
		}
	}
	return out, nil
}

func validateRange(r TimeRange) error {
	if r.From.IsZero() || r.To.IsZero() || !r.To.After(r.From) {
		return ErrInvalidRequest
	}
	return nil
}
