// Package jobs runs periodic maintenance for the entitlement stores: the
// deterministic owner backfill and the override expiry sweep.
//
//	s := jobs.NewScheduler(5*time.Minute, metrics, logger)
//	s.Add(jobs.OwnerBackfillJob(roleStore, "@hourly"))
//	s.Add(jobs.OverrideExpiryJob(overrideStore, "*/5 * * * *", nil))
//	s.Start()
//	defer s.Stop(ctx)
package jobs
