package audit

import (
	"context"
	"errors"
	"time"

	"callkit-bridge/internal/callstate"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided by design.
type Repository interface {
	Append(ctx context.Context, e Event) error
	ListByCall(ctx context.Context, callID string) ([]Event, error)
}

// Service records call state history. It implements callstate.TransitionRecorder.
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
	if e.CallID == "" || e.Type == "" || e.ToState == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// RecordTransition maps a registry transition to an audit event.
func (s *Service) RecordTransition(ctx context.Context, t callstate.Transition) error {
	typ := EventTypeTransition
	if t.Silent {
		typ = EventTypeOverride
	}
	return s.Append(ctx, Event{
		CallID:    t.CallID,
		Type:      typ,
		FromState: string(t.From),
		ToState:   string(t.To),
		Cause:     string(t.Cause),
		Source:    string(t.Source),
		CreatedAt: t.OccurredAt,
	})
}

// History returns the recorded events for callID in append order.
func (s *Service) History(ctx context.Context, callID string) ([]Event, error) {
	if s.repo == nil {
		return nil, errors.New("audit: repository not configured")
	}
	if callID == "" {
		return nil, ErrInvalidEvent
	}
	return s.repo.ListByCall(ctx, callID)
}
