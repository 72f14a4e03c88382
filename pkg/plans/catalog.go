package plans

import (
	"errors"
	"fmt"
	"slices"
	"sort"
)

var (
	// ErrUnknownPlan is returned for plan names outside the catalog
	ErrUnknownPlan = errors.New("unknown plan")

	// ErrInvalidConfiguration marks malformed plan or limit data
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// TierName identifies a plan tier
type TierName string

const (
	Free       TierName = "free"
	Pro        TierName = "pro"
	Premium    TierName = "premium"
	Enterprise TierName = "enterprise"
)

// TierNames is the closed set of tiers, cheapest first
func TierNames() []TierName {
	return []TierName{Free, Pro, Premium, Enterprise}
}

// IsKnown reports whether n is one of the four tiers
func (n TierName) IsKnown() bool {
	return slices.Contains(TierNames(), n)
}

// Limits holds the per-capability caps of a tier
type Limits struct {
	MaxAdmins         Limit `yaml:"max_admins" json:"max_admins"`
	MaxGroups         Limit `yaml:"max_groups" json:"max_groups"`
	MaxAlertsPerMonth Limit `yaml:"max_alerts_per_month" json:"max_alerts_per_month"`
}

// For returns the limit for c. Capabilities the tier does not define are
// capped at zero.
func (l Limits) For(c Capability) Limit {
	switch c {
	case CapabilityAdmins:
		return l.MaxAdmins
	case CapabilityGroups:
		return l.MaxGroups
	case CapabilityAlerts:
		return l.MaxAlertsPerMonth
	default:
		return 0
	}
}

// Validate checks every limit
func (l Limits) Validate() error {
	for _, c := range Capabilities() {
		if err := l.For(c).Validate(); err != nil {
			return fmt.Errorf("%s: %w", c, err)
		}
	}
	return nil
}

// Tier is an immutable plan definition
type Tier struct {
	Name         TierName `json:"name"`
	MonthlyPrice int64    `json:"monthly_price"`
	Limits       Limits   `json:"limits"`
	Features     []string `json:"features,omitempty"`
}

// HasFeature reports whether the tier includes feature
func (t Tier) HasFeature(feature string) bool {
	return slices.Contains(t.Features, feature)
}

// Catalog is a read-only lookup of tiers
type Catalog struct {
	tiers map[TierName]Tier
}

// NewCatalog validates tiers and builds a catalog. Every one of the four
// tiers must be present exactly once.
func NewCatalog(tiers ...Tier) (*Catalog, error) {
	c := &Catalog{tiers: make(map[TierName]Tier, len(tiers))}
	for _, t := range tiers {
		if !t.Name.IsKnown() {
			return nil, fmt.Errorf("%w: unknown tier %q", ErrInvalidConfiguration, t.Name)
		}
		if _, dup := c.tiers[t.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate tier %q", ErrInvalidConfiguration, t.Name)
		}
		if t.MonthlyPrice < 0 {
			return nil, fmt.Errorf("%w: tier %q has negative price", ErrInvalidConfiguration, t.Name)
		}
		if err := t.Limits.Validate(); err != nil {
			return nil, fmt.Errorf("tier %q: %w", t.Name, err)
		}
		t.Features = slices.Clone(t.Features)
		c.tiers[t.Name] = t
	}
	for _, name := range TierNames() {
		if _, ok := c.tiers[name]; !ok {
			return nil, fmt.Errorf("%w: missing tier %q", ErrInvalidConfiguration, name)
		}
	}
	return c, nil
}

// DefaultCatalog returns the built-in tiers
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(
		Tier{
			Name:         Free,
			MonthlyPrice: 0,
			Limits:       Limits{MaxAdmins: 1, MaxGroups: 2, MaxAlertsPerMonth: 25},
			Features:     []string{"email_alerts"},
		},
		Tier{
			Name:         Pro,
			MonthlyPrice: 10,
			Limits:       Limits{MaxAdmins: 2, MaxGroups: 5, MaxAlertsPerMonth: 100},
			Features:     []string{"email_alerts", "push_alerts"},
		},
		Tier{
			Name:         Premium,
			MonthlyPrice: 25,
			Limits:       Limits{MaxAdmins: 10, MaxGroups: 25, MaxAlertsPerMonth: 500},
			Features:     []string{"email_alerts", "push_alerts", "scheduled_alerts"},
		},
		Tier{
			Name:         Enterprise,
			MonthlyPrice: 50,
			Limits:       Limits{MaxAdmins: Unbounded, MaxGroups: Unbounded, MaxAlertsPerMonth: Unbounded},
			Features:     []string{"email_alerts", "push_alerts", "scheduled_alerts", "priority_support"},
		},
	)
	if err != nil {
		panic(err)
	}
	return c
}

// Tier returns the named tier
func (c *Catalog) Tier(name TierName) (Tier, error) {
	t, ok := c.tiers[name]
	if !ok {
		return Tier{}, fmt.Errorf("%w: %q", ErrUnknownPlan, name)
	}
	return t, nil
}

// LimitFor returns the cap of capability under planType. Unknown plans fail
// with ErrUnknownPlan; callers fall back to Free.
func (c *Catalog) LimitFor(planType TierName, capability Capability) (Limit, error) {
	t, err := c.Tier(planType)
	if err != nil {
		return 0, err
	}
	return t.Limits.For(capability), nil
}

// Tiers returns all tiers ordered by price
func (c *Catalog) Tiers() []Tier {
	out := make([]Tier, 0, len(c.tiers))
	for _, t := range c.tiers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MonthlyPrice < out[j].MonthlyPrice })
	return out
}
