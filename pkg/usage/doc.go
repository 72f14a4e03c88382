// Package usage is the per-subject, per-month capability ledger.
//
// Counters are keyed by (subject, period, capability) where the period is
// the UTC calendar month. A new month starts every counter at zero and past
// months are kept as read-only history.
//
// TryIncrement is the only serialized operation. Both backends perform the
// limit check and the increment in one atomic step, so N concurrent callers
// against a limit L produce exactly min(N, L) successes:
//
//	SQLLedger    INSERT ... ON CONFLICT DO UPDATE ... WHERE used_count < limit RETURNING used_count
//	RedisLedger  a Lua script doing HGET, compare, HINCRBY
//
// Neither backend retries. A timeout surfaces as storage.ErrUnavailable and
// the caller decides whether to try again.
package usage
