package entitlements

import (
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/entitle/pkg/config"
	"github.com/platinummonkey/entitle/pkg/plans"
	"github.com/platinummonkey/entitle/pkg/profiles"
	"github.com/platinummonkey/entitle/pkg/roles"
	"github.com/platinummonkey/entitle/pkg/specialaccess"
	"github.com/platinummonkey/entitle/pkg/storage"
	"github.com/platinummonkey/entitle/pkg/subscriptions"
	"github.com/platinummonkey/entitle/pkg/usage"
)

// Open builds an Engine from cfg over the stores in cm. The catalog comes
// from cfg.CatalogPath or the built-in tiers, the ledger from cfg.Ledger,
// and reads go through a snapshot cache configured by cfg.Cache.
// redisClient is only needed for the redis ledger. opts are applied after
// the configured options.
func Open(cfg *config.Config, cm *storage.ConnectionManager, redisClient *redis.Client, opts ...Option) (*Engine, error) {
	catalog := plans.DefaultCatalog()
	if cfg.CatalogPath != "" {
		loaded, err := plans.LoadCatalog(cfg.CatalogPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load plan catalog: %w", err)
		}
		catalog = loaded
	}

	ledger, err := usage.NewLedger(cfg.Ledger, cm, redisClient)
	if err != nil {
		return nil, fmt.Errorf("failed to create usage ledger: %w", err)
	}

	return NewEngine(Deps{
		Catalog:       catalog,
		Subscriptions: subscriptions.NewSQLStore(cm),
		Overrides:     specialaccess.NewSQLStore(cm),
		Profiles:      profiles.NewSQLStore(cm),
		Roles:         roles.NewStore(cm),
		Ledger:        ledger,
	}, append([]Option{WithCache(cfg.Cache)}, opts...)...)
}
