package plans

import (
	"fmt"
	"strings"
)

// Capability is a quota-gated action kind
type Capability string

const (
	CapabilityAlerts Capability = "alerts"
	CapabilityGroups Capability = "groups"
	CapabilityAdmins Capability = "admins"
)

// Capabilities lists every known capability
func Capabilities() []Capability {
	return []Capability{CapabilityAlerts, CapabilityGroups, CapabilityAdmins}
}

// ParseCapability validates a capability name
func ParseCapability(s string) (Capability, error) {
	c := Capability(strings.ToLower(strings.TrimSpace(s)))
	if !c.IsKnown() {
		return "", fmt.Errorf("unknown capability %q", s)
	}
	return c, nil
}

// IsKnown reports whether c is one of the catalog capabilities
func (c Capability) IsKnown() bool {
	switch c {
	case CapabilityAlerts, CapabilityGroups, CapabilityAdmins:
		return true
	}
	return false
}

// IsAdministrative reports whether c changes who administers an organization.
// Administrative capabilities require an admin role before quota is checked.
func (c Capability) IsAdministrative() bool {
	return c == CapabilityAdmins
}
