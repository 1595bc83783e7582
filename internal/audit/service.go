package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided by design.

type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs internal audit information.
//
// IMPORTANT:
// - Audit is internal-only. Do not expose these records to end users by default.
// - Callers should treat audit logging as best-effort.

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// LogAdminCredit records a manual wallet credit performed by an admin.
func (s *Service) LogAdminCredit(ctx context.Context, actorUserID, actorRole, ip, walletUserID, message, metadata string) error {
	return s.Append(ctx, Event{
		Type:         EventTypeAdminCredit,
		ActorUserID:  actorUserID,
		ActorRole:    actorRole,
		IPAddress:    ip,
		WalletUserID: walletUserID,
		Message:      message,
		Metadata:     metadata,
	})
}

// LogForceCancel records a call the platform cancelled on the user's behalf
// (invalid caller profile, stale ring, room provisioning failure).
func (s *Service) LogForceCancel(ctx context.Context, callID, reason string) error {
	return s.Append(ctx, Event{
		Type:    EventTypeForceCancel,
		CallID:  callID,
		Message: reason,
	})
}

// LogFundsExhausted records a call ended by billing because the caller's
// balance could not cover the next second.
func (s *Service) LogFundsExhausted(ctx context.Context, callID, walletUserID string) error {
	return s.Append(ctx, Event{
		Type:         EventTypeFundsExhausted,
		CallID:       callID,
		WalletUserID: walletUserID,
		Message:      "call ended on exhausted balance",
	})
}
