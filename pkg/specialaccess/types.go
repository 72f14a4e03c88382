package specialaccess

import (
	"fmt"
	"time"

	"github.com/platinummonkey/entitle/pkg/plans"
)

// AccessType describes the shape of an override
type AccessType string

const (
	// AccessUnlimited grants unbounded quota. With no explicit limits it
	// covers every capability.
	AccessUnlimited AccessType = "unlimited"
	// AccessCustom grants only the listed capability limits
	AccessCustom AccessType = "custom"
)

// IsValid reports whether t is a known access type
func (t AccessType) IsValid() bool {
	return t == AccessUnlimited || t == AccessCustom
}

// Override is a manual grant for a (subject, organization) pair. Rows are
// never deleted; revoking clears IsActive.
type Override struct {
	ID             string                           `json:"id"`
	SubjectID      string                           `json:"subject_id"`
	OrganizationID string                           `json:"organization_id"`
	AccessType     AccessType                       `json:"access_type"`
	Limits         map[plans.Capability]plans.Limit `json:"limits"`
	GrantedBy      string                           `json:"granted_by"`
	GrantedAt      time.Time                        `json:"granted_at"`
	ExpiresAt      *time.Time                       `json:"expires_at,omitempty"`
	IsActive       bool                             `json:"is_active"`
	Reason         string                           `json:"reason,omitempty"`
}

// IsEffective reports whether the override applies at now
func (o *Override) IsEffective(now time.Time) bool {
	if o == nil || !o.IsActive {
		return false
	}
	return o.ExpiresAt == nil || now.Before(*o.ExpiresAt)
}

// LimitFor returns the override's limit for capability, if it defines one
func (o *Override) LimitFor(capability plans.Capability) (plans.Limit, bool) {
	if l, ok := o.Limits[capability]; ok {
		return l, true
	}
	if o.AccessType == AccessUnlimited && len(o.Limits) == 0 {
		return plans.Unbounded, true
	}
	return 0, false
}

// Grant describes a new override
type Grant struct {
	SubjectID      string
	OrganizationID string
	AccessType     AccessType
	Limits         map[plans.Capability]plans.Limit
	GrantedBy      string
	ExpiresAt      *time.Time
	Reason         string
}

// Validate checks a grant before it is stored. An empty AccessType is
// derived from the limits.
func (g *Grant) Validate() error {
	if g.SubjectID == "" || g.OrganizationID == "" {
		return fmt.Errorf("subject and organization are required")
	}
	if g.GrantedBy == "" {
		return fmt.Errorf("granted by is required")
	}
	if g.AccessType == "" {
		g.AccessType = inferAccessType(g.Limits)
	}
	if !g.AccessType.IsValid() {
		return fmt.Errorf("invalid access type %q", g.AccessType)
	}
	if g.AccessType == AccessCustom && len(g.Limits) == 0 {
		return fmt.Errorf("custom access requires at least one limit")
	}
	for c, l := range g.Limits {
		if !c.IsKnown() {
			return fmt.Errorf("%w: unknown capability %q", plans.ErrInvalidConfiguration, c)
		}
		if err := l.Validate(); err != nil {
			return fmt.Errorf("capability %s: %w", c, err)
		}
	}
	return nil
}

func inferAccessType(limits map[plans.Capability]plans.Limit) AccessType {
	for _, l := range limits {
		if !l.IsUnbounded() {
			return AccessCustom
		}
	}
	return AccessUnlimited
}
