package entitlements

import (
	"context"
	"errors"
	"fmt"

	"github.com/platinummonkey/entitle/pkg/plans"
	"github.com/platinummonkey/entitle/pkg/profiles"
	"github.com/platinummonkey/entitle/pkg/specialaccess"
	"github.com/platinummonkey/entitle/pkg/storage"
	"github.com/platinummonkey/entitle/pkg/subscriptions"
)

// LimitSource is one layer of the limit precedence chain. TryResolve
// reports ok=false when the layer has nothing to say about the request.
type LimitSource interface {
	Name() string
	TryResolve(ctx context.Context, req Request) (limit plans.Limit, ok bool, err error)
}

const (
	SourceOverride     = "override"
	SourceProfile      = "profile"
	SourceSubscription = "subscription"
	SourceFreeTier     = "free_tier"
)

// OverrideSource resolves from an effective special-access override
type OverrideSource struct {
	Store specialaccess.Store
}

func (s OverrideSource) Name() string { return SourceOverride }

func (s OverrideSource) TryResolve(ctx context.Context, req Request) (plans.Limit, bool, error) {
	o, err := s.Store.Get(ctx, req.SubjectID, req.OrganizationID)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read override: %w", err)
	}
	if !o.IsEffective(req.Now) {
		return 0, false, nil
	}
	l, ok := o.LimitFor(req.Capability)
	return l, ok, nil
}

// ProfileSource resolves from a subject's custom limits
type ProfileSource struct {
	Store profiles.Store
}

func (s ProfileSource) Name() string { return SourceProfile }

func (s ProfileSource) TryResolve(ctx context.Context, req Request) (plans.Limit, bool, error) {
	p, err := s.Store.Get(ctx, req.SubjectID)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read profile: %w", err)
	}
	l, ok := p.LimitFor(req.Capability)
	return l, ok, nil
}

// SubscriptionSource resolves from the plan of a currently entitled
// subscription. Unknown plan names fall back to the free tier.
type SubscriptionSource struct {
	Store   subscriptions.Store
	Catalog *plans.Catalog
}

func (s SubscriptionSource) Name() string { return SourceSubscription }

func (s SubscriptionSource) TryResolve(ctx context.Context, req Request) (plans.Limit, bool, error) {
	rec, err := s.Store.Get(ctx, req.SubjectID)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read subscription: %w", err)
	}
	if !rec.IsCurrentlyEntitled(req.Now) {
		return 0, false, nil
	}
	l, err := s.Catalog.LimitFor(rec.PlanType, req.Capability)
	if errors.Is(err, plans.ErrUnknownPlan) {
		l, err = s.Catalog.LimitFor(plans.Free, req.Capability)
	}
	if err != nil {
		return 0, false, err
	}
	return l, true, nil
}

// FreeTierSource always resolves to the free tier
type FreeTierSource struct {
	Catalog *plans.Catalog
}

func (s FreeTierSource) Name() string { return SourceFreeTier }

func (s FreeTierSource) TryResolve(_ context.Context, req Request) (plans.Limit, bool, error) {
	l, err := s.Catalog.LimitFor(plans.Free, req.Capability)
	if err != nil {
		return 0, false, err
	}
	return l, true, nil
}
