package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/entitle/pkg/plans"
	"github.com/platinummonkey/entitle/pkg/storage"
)

// KEYS[1] period hash, KEYS[2] period index set
// ARGV[1] capability, ARGV[2] limit (-1 unbounded), ARGV[3] period key
var tryIncrementScript = redis.NewScript(`
local current = tonumber(redis.call('HGET', KEYS[1], ARGV[1]) or '0')
local limit = tonumber(ARGV[2])
if limit >= 0 and current >= limit then
	return {0, current}
end
local n = redis.call('HINCRBY', KEYS[1], ARGV[1], 1)
redis.call('SADD', KEYS[2], ARGV[3])
return {1, n}
`)

// RedisLedger keeps counters in one hash per subject and period, with a set
// indexing the periods that have usage. Increments run as a Lua script, so
// Redis executes each check-and-increment atomically.
type RedisLedger struct {
	client *redis.Client
	prefix string
}

// NewRedisLedger creates a RedisLedger. Keys are namespaced under prefix.
func NewRedisLedger(client *redis.Client, prefix string) *RedisLedger {
	if prefix == "" {
		prefix = "usage"
	}
	return &RedisLedger{client: client, prefix: prefix}
}

func (l *RedisLedger) periodKey(subjectID, period string) string {
	return fmt.Sprintf("%s:%s:%s", l.prefix, subjectID, period)
}

func (l *RedisLedger) indexKey(subjectID string) string {
	return fmt.Sprintf("%s:%s:periods", l.prefix, subjectID)
}

// CurrentCount implements Ledger
func (l *RedisLedger) CurrentCount(ctx context.Context, subjectID string, capability plans.Capability, now time.Time) (int64, error) {
	n, err := l.client.HGet(ctx, l.periodKey(subjectID, PeriodKey(now)), string(capability)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, storage.ClassifyRedis(fmt.Errorf("failed to read usage: %w", err))
	}
	return n, nil
}

// TryIncrement implements Ledger
func (l *RedisLedger) TryIncrement(ctx context.Context, subjectID string, capability plans.Capability, now time.Time, limit plans.Limit) (int64, error) {
	period := PeriodKey(now)
	keys := []string{l.periodKey(subjectID, period), l.indexKey(subjectID)}

	res, err := tryIncrementScript.Run(ctx, l.client, keys, string(capability), int64(limit), period).Slice()
	if err != nil {
		return 0, storage.ClassifyRedis(fmt.Errorf("failed to increment usage: %w", err))
	}
	if len(res) != 2 {
		return 0, fmt.Errorf("unexpected script reply %v", res)
	}
	ok, _ := res[0].(int64)
	count, _ := res[1].(int64)
	if ok == 0 {
		return 0, &QuotaExceededError{SubjectID: subjectID, Capability: capability, PeriodKey: period, Current: count, Limit: limit}
	}
	return count, nil
}

// History implements Ledger
func (l *RedisLedger) History(ctx context.Context, subjectID string) ([]PeriodUsage, error) {
	periods, err := l.client.SMembers(ctx, l.indexKey(subjectID)).Result()
	if err != nil {
		return nil, storage.ClassifyRedis(fmt.Errorf("failed to read usage periods: %w", err))
	}

	pipe := l.client.Pipeline()
	cmds := make(map[string]*redis.StringStringMapCmd, len(periods))
	for _, p := range periods {
		cmds[p] = pipe.HGetAll(ctx, l.periodKey(subjectID, p))
	}
	if len(periods) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, storage.ClassifyRedis(fmt.Errorf("failed to read usage history: %w", err))
		}
	}

	h := historyBuilder{}
	for period, cmd := range cmds {
		for capability, raw := range cmd.Val() {
			var n int64
			if _, err := fmt.Sscan(raw, &n); err != nil {
				return nil, fmt.Errorf("corrupt counter %s/%s: %w", period, capability, err)
			}
			h.add(period, plans.Capability(capability), n)
		}
	}
	return h.build(), nil
}
