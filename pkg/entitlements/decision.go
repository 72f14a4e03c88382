package entitlements

import (
	"time"

	"github.com/platinummonkey/entitle/pkg/plans"
)

// Reason explains a denial, or a grant that changed nothing
type Reason string

const (
	ReasonQuotaExceeded Reason = "quota_exceeded"
	ReasonNotAuthorized Reason = "not_authorized"
	// ReasonAlreadyAdmin marks an admin add for a subject already in the
	// admin set
	ReasonAlreadyAdmin Reason = "already_admin"
)

// Decision is the outcome of a capability request. Only Allowed, Remaining
// and Reason are part of the wire form; the rest is diagnostic.
type Decision struct {
	Allowed   bool        `json:"allowed"`
	Remaining plans.Limit `json:"remaining"`
	Reason    Reason      `json:"reason,omitempty"`

	Capability plans.Capability `json:"-"`
	Limit      plans.Limit      `json:"-"`
	Used       int64            `json:"-"`
	Source     string           `json:"-"`
	PeriodKey  string           `json:"-"`
}

// Outcome labels the decision for metrics
func (d Decision) Outcome() string {
	if d.Allowed {
		return "granted"
	}
	return string(d.Reason)
}

// Request asks whether SubjectID may use Capability within OrganizationID
type Request struct {
	SubjectID      string
	OrganizationID string
	// ActingSubjectID is checked for administrative capabilities. It
	// defaults to SubjectID.
	ActingSubjectID string
	Capability      plans.Capability
	// Now selects the usage period. Zero means the resolver clock.
	Now time.Time
}

func (r Request) normalize(clock func() time.Time) Request {
	if r.ActingSubjectID == "" {
		r.ActingSubjectID = r.SubjectID
	}
	if r.Now.IsZero() {
		r.Now = clock()
	}
	return r
}
