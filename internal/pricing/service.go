package pricing

import (
	"errors"

	"tuonane/internal/money"
	"tuonane/internal/profiles"
)

// Service resolves the per-second rate a recipient charges and derives the
// billable-minute figures used by earning history.
//
// Contract:
// - The rate is fixed once at call creation; nothing re-resolves it mid-call.
// - A recipient's custom rate wins when set and positive; otherwise the platform
//   default applies.
// - Pure calculation; no persistence, no provider calls.
type Service struct {
	defaultRate money.Amount
}

var ErrInvalidRate = errors.New("pricing: rate must be > 0")

func NewService(defaultRate money.Amount) (*Service, error) {
	if !defaultRate.IsPositive() {
		return nil, ErrInvalidRate
	}
	return &Service{defaultRate: defaultRate}, nil
}

// RateFor returns the per-second price for calling the given recipient.
func (s *Service) RateFor(recipient profiles.Profile) money.Amount {
	if recipient.CustomPricePerSecond != nil && recipient.CustomPricePerSecond.IsPositive() {
		return *recipient.CustomPricePerSecond
	}
	return s.defaultRate
}

// DefaultRate exposes the platform default for display purposes.
func (s *Service) DefaultRate() money.Amount { return s.defaultRate }

// BillableMinutes rounds a call duration up to whole minutes; earning history
// records minutes, billing itself stays per-second.
func BillableMinutes(durationSeconds int) int {
	if durationSeconds <= 0 {
		return 0
	}
	m := durationSeconds / 60
	if durationSeconds%60 != 0 {
		m++
	}
	return m
}
