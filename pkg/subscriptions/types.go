package subscriptions

import (
	"fmt"
	"time"

	"github.com/platinummonkey/entitle/pkg/plans"
)

// Status represents the billing status of a subscription
type Status string

const (
	StatusActive   Status = "active"
	StatusCanceled Status = "canceled"
	StatusPastDue  Status = "past_due"
)

// IsValid reports whether s is a known status
func (s Status) IsValid() bool {
	switch s {
	case StatusActive, StatusCanceled, StatusPastDue:
		return true
	}
	return false
}

// Record is the single subscription of a subject. Billing owns every field;
// the engine only reads it.
type Record struct {
	SubjectID          string         `json:"subject_id"`
	PlanType           plans.TierName `json:"plan_type"`
	Status             Status         `json:"status"`
	CurrentPeriodStart *time.Time     `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time     `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd  bool           `json:"cancel_at_period_end"`
	NeverExpires       bool           `json:"never_expires"`
	IsLifetime         bool           `json:"is_lifetime"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// IsCurrentlyEntitled reports whether the subscription grants its plan at now.
// A record scheduled to cancel keeps granting until its period ends.
func (r *Record) IsCurrentlyEntitled(now time.Time) bool {
	if r == nil || r.Status != StatusActive {
		return false
	}
	if r.NeverExpires || r.IsLifetime {
		return true
	}
	return r.CurrentPeriodEnd != nil && now.Before(*r.CurrentPeriodEnd)
}

// Validate checks the fields a store requires
func (r *Record) Validate() error {
	if r.SubjectID == "" {
		return fmt.Errorf("subject id is required")
	}
	if r.PlanType == "" {
		return fmt.Errorf("plan type is required")
	}
	if !r.Status.IsValid() {
		return fmt.Errorf("invalid status %q", r.Status)
	}
	if r.CurrentPeriodStart != nil && r.CurrentPeriodEnd != nil && r.CurrentPeriodEnd.Before(*r.CurrentPeriodStart) {
		return fmt.Errorf("current period ends before it starts")
	}
	return nil
}
