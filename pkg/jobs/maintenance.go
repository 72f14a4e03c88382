package jobs

import (
	"context"
	"time"
)

// Job names
const (
	OwnerBackfill  = "owner_backfill"
	OverrideExpiry = "override_expiry"
)

// OwnerBackfiller promotes an owner in organizations that lack one
type OwnerBackfiller interface {
	BackfillOwners(ctx context.Context) (int, error)
}

// ExpirySweeper deactivates overrides whose expiry has passed
type ExpirySweeper interface {
	DeactivateExpired(ctx context.Context, now time.Time) (int, error)
}

// OwnerBackfillJob assigns org_admin deterministically where it is missing
func OwnerBackfillJob(store OwnerBackfiller, schedule string) Job {
	return Job{
		Name:     OwnerBackfill,
		Schedule: schedule,
		Run:      store.BackfillOwners,
	}
}

// OverrideExpiryJob marks expired overrides inactive. Reads ignore expired
// overrides whether or not the sweep has run.
func OverrideExpiryJob(store ExpirySweeper, schedule string, now func() time.Time) Job {
	if now == nil {
		now = time.Now
	}
	return Job{
		Name:     OverrideExpiry,
		Schedule: schedule,
		Run: func(ctx context.Context) (int, error) {
			return store.DeactivateExpired(ctx, now())
		},
	}
}
