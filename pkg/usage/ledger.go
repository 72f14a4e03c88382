package usage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/entitle/pkg/config"
	"github.com/platinummonkey/entitle/pkg/plans"
	"github.com/platinummonkey/entitle/pkg/storage"
)

// PeriodKeyLayout formats a calendar month
const PeriodKeyLayout = "2006-01"

// PeriodKey returns the UTC calendar month containing now, e.g. "2024-03"
func PeriodKey(now time.Time) string {
	return now.UTC().Format(PeriodKeyLayout)
}

// NewLedger returns the backend selected by cfg. The sql backend counts in
// cm's primary; the redis backend needs client.
func NewLedger(cfg config.LedgerConfig, cm *storage.ConnectionManager, client *redis.Client) (Ledger, error) {
	switch cfg.Backend {
	case "", config.LedgerSQL:
		if cm == nil {
			return nil, fmt.Errorf("sql ledger requires a database connection")
		}
		return NewSQLLedger(cm), nil
	case config.LedgerRedis:
		if client == nil {
			return nil, fmt.Errorf("redis ledger requires a redis client")
		}
		return NewRedisLedger(client, cfg.RedisKeyPrefix), nil
	}
	return nil, fmt.Errorf("unknown ledger backend %q", cfg.Backend)
}

// Ledger counts capability consumption per subject and calendar month.
// Counters start at zero on first use and never decrease.
type Ledger interface {
	// CurrentCount returns the count for the period containing now, or 0.
	CurrentCount(ctx context.Context, subjectID string, capability plans.Capability, now time.Time) (int64, error)

	// TryIncrement atomically adds one unless the count has reached limit,
	// returning the new count. At the limit it returns *QuotaExceededError
	// and leaves the counter untouched. Unbounded always increments.
	TryIncrement(ctx context.Context, subjectID string, capability plans.Capability, now time.Time, limit plans.Limit) (int64, error)

	// History returns every period with recorded usage, newest first
	History(ctx context.Context, subjectID string) ([]PeriodUsage, error)
}

// PeriodUsage is one month of counters for a subject
type PeriodUsage struct {
	PeriodKey string                     `json:"period_key"`
	Counts    map[plans.Capability]int64 `json:"counts"`
}

// QuotaExceededError is returned when a counter is already at its limit
type QuotaExceededError struct {
	SubjectID  string
	Capability plans.Capability
	PeriodKey  string
	Current    int64
	Limit      plans.Limit
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s in %s: %d of %s used", e.Capability, e.PeriodKey, e.Current, e.Limit)
}

// IsQuotaExceeded checks if err is or wraps a *QuotaExceededError
func IsQuotaExceeded(err error) bool {
	var qe *QuotaExceededError
	return errors.As(err, &qe)
}

type historyBuilder map[string]map[plans.Capability]int64

func (h historyBuilder) add(period string, capability plans.Capability, count int64) {
	if h[period] == nil {
		h[period] = make(map[plans.Capability]int64)
	}
	h[period][capability] = count
}

func (h historyBuilder) build() []PeriodUsage {
	out := make([]PeriodUsage, 0, len(h))
	for period, counts := range h {
		out = append(out, PeriodUsage{PeriodKey: period, Counts: counts})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeriodKey > out[j].PeriodKey })
	return out
}
