// Package entitlements decides whether a subject may use a capability and
// consumes quota for granted requests.
//
// Limits are resolved by a precedence chain of LimitSource values, first
// match wins:
//
//  1. an effective special-access override defining the capability
//  2. a profile with custom limits defining the capability
//  3. the plan of a currently entitled subscription
//  4. the free tier
//
// Administrative capabilities additionally require the acting subject to
// hold an admin role, checked before any quota is read.
//
//	engine, err := entitlements.NewEngine(entitlements.Deps{
//		Catalog:       plans.DefaultCatalog(),
//		Subscriptions: subscriptions.NewSQLStore(cm),
//		Overrides:     specialaccess.NewSQLStore(cm),
//		Profiles:      profiles.NewSQLStore(cm),
//		Roles:         roles.NewStore(cm),
//		Ledger:        usage.NewSQLLedger(cm),
//	}, entitlements.WithCache(cache.DefaultConfig()))
//
//	d, err := engine.CheckAndConsume(ctx, "user-1", "org-1", plans.CapabilityAlerts, time.Now())
//
// Open does the same wiring from a config.Config, picking the ledger backend
// and cache settings from it.
package entitlements
