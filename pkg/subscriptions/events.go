package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/entitle/pkg/plans"
	"github.com/platinummonkey/entitle/pkg/storage"
)

// EventType is an upstream billing notification kind
type EventType string

const (
	EventCreated       EventType = "created"
	EventRenewed       EventType = "renewed"
	EventCanceled      EventType = "canceled"
	EventPaymentFailed EventType = "payment_failed"
	EventEnded         EventType = "ended"
)

// Event is an opaque billing update. Only the fields relevant to Type are read.
type Event struct {
	Type         EventType
	SubjectID    string
	PlanType     plans.TierName
	PeriodStart  time.Time
	PeriodEnd    time.Time
	NeverExpires bool
	IsLifetime   bool
}

// ErrUnknownEvent is returned for event types ApplyEvent does not handle
var ErrUnknownEvent = errors.New("unknown subscription event")

// ApplyEvent mutates the subject's record according to ev and returns the
// stored result. Every event except created requires an existing record.
//
//	created         active record on PlanType for [PeriodStart, PeriodEnd)
//	renewed         period moves forward, pending cancellation cleared
//	canceled        cancelAtPeriodEnd set; access continues until period end
//	payment_failed  status past_due
//	ended           status canceled
func (s *SQLStore) ApplyEvent(ctx context.Context, ev Event) (*Record, error) {
	if ev.SubjectID == "" {
		return nil, fmt.Errorf("subject id is required")
	}

	tx, err := s.cm.Primary().BeginTx(ctx, nil)
	if err != nil {
		return nil, storage.Classify(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	rec, err := s.get(ctx, tx, ev.SubjectID, s.cm.Dialect().ForUpdate())
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	if rec == nil && ev.Type != EventCreated {
		return nil, fmt.Errorf("cannot apply %s: %w", ev.Type, err)
	}

	switch ev.Type {
	case EventCreated:
		start, end := ev.PeriodStart.UTC(), ev.PeriodEnd.UTC()
		created := &Record{
			SubjectID:          ev.SubjectID,
			PlanType:           ev.PlanType,
			Status:             StatusActive,
			CurrentPeriodStart: &start,
			CurrentPeriodEnd:   &end,
			NeverExpires:       ev.NeverExpires,
			IsLifetime:         ev.IsLifetime,
		}
		if rec != nil {
			created.CreatedAt = rec.CreatedAt
		}
		rec = created
	case EventRenewed:
		if !ev.PeriodStart.IsZero() {
			start := ev.PeriodStart.UTC()
			rec.CurrentPeriodStart = &start
		}
		end := ev.PeriodEnd.UTC()
		rec.CurrentPeriodEnd = &end
		rec.Status = StatusActive
		rec.CancelAtPeriodEnd = false
		if ev.PlanType != "" {
			rec.PlanType = ev.PlanType
		}
	case EventCanceled:
		rec.CancelAtPeriodEnd = true
	case EventPaymentFailed:
		rec.Status = StatusPastDue
	case EventEnded:
		rec.Status = StatusCanceled
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Type)
	}

	if err := s.save(ctx, tx, rec); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, storage.Classify(fmt.Errorf("failed to commit subscription event: %w", err))
	}
	return rec, nil
}
