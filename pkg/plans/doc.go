// Package plans is the static plan catalog: the four subscription tiers and
// their per-capability limits.
//
// # Tiers
//
//	free        $0   1 admin    2 groups    25 alerts/month
//	pro         $10  2 admins   5 groups   100 alerts/month
//	premium     $25 10 admins  25 groups   500 alerts/month
//	enterprise  $50 unbounded everywhere
//
// Limits use Unbounded (-1) for "no cap". Any other negative value is rejected
// when the catalog is built, never at request time. Capabilities a tier does
// not define resolve to zero so lookups fail closed.
//
// # Usage
//
//	catalog := plans.DefaultCatalog()
//	limit, err := catalog.LimitFor(plans.Pro, plans.CapabilityAlerts)
//	if errors.Is(err, plans.ErrUnknownPlan) {
//		limit, _ = catalog.LimitFor(plans.Free, plans.CapabilityAlerts)
//	}
package plans
