package entitlements

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/entitle/pkg/plans"
	"github.com/platinummonkey/entitle/pkg/profiles"
	"github.com/platinummonkey/entitle/pkg/roles"
	"github.com/platinummonkey/entitle/pkg/specialaccess"
	"github.com/platinummonkey/entitle/pkg/subscriptions"
	"github.com/platinummonkey/entitle/pkg/usage"
)

// SubscriptionStore reads subscriptions and applies billing events
type SubscriptionStore interface {
	subscriptions.Store
	ApplyEvent(ctx context.Context, ev subscriptions.Event) (*subscriptions.Record, error)
}

// OverrideStore reads and mutates special-access overrides
type OverrideStore interface {
	specialaccess.Store
	Grant(ctx context.Context, g specialaccess.Grant) (*specialaccess.Override, error)
	Revoke(ctx context.Context, subjectID, organizationID string) error
}

// RoleStore reads and mutates an organization's admins
type RoleStore interface {
	RoleReader
	Assign(ctx context.Context, orgID, subjectID string, role roles.Role, actingSubjectID string) error
	IsAdmin(ctx context.Context, orgID, subjectID string) (bool, error)
	AddAdminAs(ctx context.Context, orgID, subjectID, actingSubjectID string) (bool, error)
}

// Deps are the collaborators of an Engine. Profiles is optional.
type Deps struct {
	Catalog       *plans.Catalog
	Subscriptions SubscriptionStore
	Overrides     OverrideStore
	Profiles      profiles.Store
	Roles         RoleStore
	Ledger        usage.Ledger
}

// Engine is the entry point used by the surrounding application
type Engine struct {
	resolver      *Resolver
	catalog       *plans.Catalog
	subscriptions SubscriptionStore
	overrides     OverrideStore
	roles         RoleStore
	ledger        usage.Ledger

	cachedOverrides     *specialaccess.CachedStore
	cachedSubscriptions *subscriptions.CachedStore
}

// NewEngine wires deps into a Resolver
func NewEngine(deps Deps, opts ...Option) (*Engine, error) {
	switch {
	case deps.Catalog == nil:
		return nil, fmt.Errorf("catalog is required")
	case deps.Subscriptions == nil:
		return nil, fmt.Errorf("subscription store is required")
	case deps.Overrides == nil:
		return nil, fmt.Errorf("override store is required")
	case deps.Roles == nil:
		return nil, fmt.Errorf("role store is required")
	case deps.Ledger == nil:
		return nil, fmt.Errorf("usage ledger is required")
	}

	e := &Engine{
		catalog:       deps.Catalog,
		subscriptions: deps.Subscriptions,
		overrides:     deps.Overrides,
		roles:         deps.Roles,
		ledger:        deps.Ledger,
	}

	var overrideReader specialaccess.Store = deps.Overrides
	var subscriptionReader subscriptions.Store = deps.Subscriptions
	if o := buildOptions(opts); o.cache != nil {
		e.cachedOverrides = specialaccess.NewCachedStore(deps.Overrides, *o.cache)
		e.cachedSubscriptions = subscriptions.NewCachedStore(deps.Subscriptions, *o.cache)
		overrideReader = e.cachedOverrides
		subscriptionReader = e.cachedSubscriptions
	}

	resolver, err := NewResolver(deps.Roles, deps.Ledger,
		DefaultSources(deps.Catalog, overrideReader, deps.Profiles, subscriptionReader), opts...)
	if err != nil {
		return nil, err
	}
	e.resolver = resolver
	return e, nil
}

// Resolver returns the underlying resolver
func (e *Engine) Resolver() *Resolver {
	return e.resolver
}

// CheckAndConsume decides whether subjectID may use capability in orgID at
// ts, consuming one unit when granted
func (e *Engine) CheckAndConsume(ctx context.Context, subjectID, orgID string, capability plans.Capability, ts time.Time) (Decision, error) {
	return e.resolver.CheckAndConsume(ctx, Request{
		SubjectID:      subjectID,
		OrganizationID: orgID,
		Capability:     capability,
		Now:            ts,
	})
}

// CheckAndConsumeAs is CheckAndConsume with a separate acting subject
func (e *Engine) CheckAndConsumeAs(ctx context.Context, req Request) (Decision, error) {
	return e.resolver.CheckAndConsume(ctx, req)
}

// GrantOverride replaces any active override for the pair. Limits of -1
// are unbounded; a nil expiresAt never expires.
func (e *Engine) GrantOverride(ctx context.Context, subjectID, orgID string, limits map[plans.Capability]plans.Limit, grantedBy string, expiresAt *time.Time) (*specialaccess.Override, error) {
	return e.Grant(ctx, specialaccess.Grant{
		SubjectID:      subjectID,
		OrganizationID: orgID,
		Limits:         limits,
		GrantedBy:      grantedBy,
		ExpiresAt:      expiresAt,
	})
}

// Grant stores g as the active override for its pair
func (e *Engine) Grant(ctx context.Context, g specialaccess.Grant) (*specialaccess.Override, error) {
	o, err := e.overrides.Grant(ctx, g)
	if err != nil {
		return nil, err
	}
	e.invalidateOverride(g.SubjectID, g.OrganizationID)
	return o, nil
}

// RevokeOverride deactivates the active override for the pair
func (e *Engine) RevokeOverride(ctx context.Context, subjectID, orgID string) error {
	if err := e.overrides.Revoke(ctx, subjectID, orgID); err != nil {
		return err
	}
	e.invalidateOverride(subjectID, orgID)
	return nil
}

func (e *Engine) invalidateOverride(subjectID, orgID string) {
	if e.cachedOverrides != nil {
		e.cachedOverrides.Invalidate(subjectID, orgID)
	}
}

// AssignRole sets subjectID's role on behalf of actingSubjectID
func (e *Engine) AssignRole(ctx context.Context, orgID, subjectID string, role roles.Role, actingSubjectID string) error {
	return e.roles.Assign(ctx, orgID, subjectID, role, actingSubjectID)
}

// AddAdmin adds subjectID to the organization's admins when
// actingSubjectID is an admin with admin quota left. The acting subject's
// quota is charged, except when subjectID is already an admin. The role is
// checked again under the organization lock before the insert; if it was
// revoked in between the add is refused and the consumed unit is not
// returned.
func (e *Engine) AddAdmin(ctx context.Context, orgID, subjectID, actingSubjectID string) (Decision, error) {
	req := Request{
		SubjectID:       actingSubjectID,
		OrganizationID:  orgID,
		ActingSubjectID: actingSubjectID,
		Capability:      plans.CapabilityAdmins,
	}

	member, err := e.roles.IsAdmin(ctx, orgID, subjectID)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to check admin: %w", err)
	}
	if member {
		d, err := e.resolver.Peek(ctx, req)
		if err != nil || d.Reason == ReasonNotAuthorized {
			return d, err
		}
		d.Allowed = true
		d.Reason = ReasonAlreadyAdmin
		return d, nil
	}

	d, err := e.resolver.CheckAndConsume(ctx, req)
	if err != nil || !d.Allowed {
		return d, err
	}

	added, err := e.roles.AddAdminAs(ctx, orgID, subjectID, actingSubjectID)
	if errors.Is(err, roles.ErrNotAuthorized) {
		d.Allowed = false
		d.Remaining = 0
		d.Reason = ReasonNotAuthorized
		return d, nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("failed to add admin: %w", err)
	}
	if !added {
		d.Reason = ReasonAlreadyAdmin
	}
	return d, nil
}

// Status peeks at every capability for the subject without consuming
func (e *Engine) Status(ctx context.Context, subjectID, orgID string, ts time.Time) (map[plans.Capability]Decision, error) {
	out := make(map[plans.Capability]Decision, len(plans.Capabilities()))
	for _, c := range plans.Capabilities() {
		d, err := e.resolver.Peek(ctx, Request{
			SubjectID:      subjectID,
			OrganizationID: orgID,
			Capability:     c,
			Now:            ts,
		})
		if err != nil {
			return nil, err
		}
		out[c] = d
	}
	return out, nil
}

// Usage returns the subject's recorded usage, newest period first
func (e *Engine) Usage(ctx context.Context, subjectID string) ([]usage.PeriodUsage, error) {
	return e.ledger.History(ctx, subjectID)
}

// ApplySubscriptionEvent records an upstream billing event
func (e *Engine) ApplySubscriptionEvent(ctx context.Context, ev subscriptions.Event) (*subscriptions.Record, error) {
	rec, err := e.subscriptions.ApplyEvent(ctx, ev)
	if err != nil {
		return nil, err
	}
	if e.cachedSubscriptions != nil {
		e.cachedSubscriptions.Invalidate(ev.SubjectID)
	}
	return rec, nil
}

// Catalog returns the plan catalog the engine resolves against
func (e *Engine) Catalog() *plans.Catalog {
	return e.catalog
}
