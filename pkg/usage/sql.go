package usage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/entitle/pkg/plans"
	"github.com/platinummonkey/entitle/pkg/storage"
)

// SQLLedger keeps counters in the usage_counters table. Each increment is
// a single conditional upsert, so the database row lock is the only
// serialization point.
type SQLLedger struct {
	cm *storage.ConnectionManager
}

// NewSQLLedger creates a SQLLedger
func NewSQLLedger(cm *storage.ConnectionManager) *SQLLedger {
	return &SQLLedger{cm: cm}
}

// CurrentCount reads from the primary; counters are never served stale
func (l *SQLLedger) CurrentCount(ctx context.Context, subjectID string, capability plans.Capability, now time.Time) (int64, error) {
	query := `
		SELECT used_count FROM usage_counters
		WHERE subject_id = ? AND period_key = ? AND capability = ?
	`
	var count int64
	err := l.cm.Primary().QueryRowContext(ctx, l.cm.Dialect().Rebind(query),
		subjectID, PeriodKey(now), string(capability)).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, storage.Classify(fmt.Errorf("failed to read usage: %w", err))
	}
	return count, nil
}

// TryIncrement implements Ledger
func (l *SQLLedger) TryIncrement(ctx context.Context, subjectID string, capability plans.Capability, now time.Time, limit plans.Limit) (int64, error) {
	period := PeriodKey(now)
	if !limit.IsUnbounded() && limit <= 0 {
		current, err := l.CurrentCount(ctx, subjectID, capability, now)
		if err != nil {
			return 0, err
		}
		return 0, &QuotaExceededError{SubjectID: subjectID, Capability: capability, PeriodKey: period, Current: current, Limit: limit}
	}

	query := `
		INSERT INTO usage_counters (subject_id, period_key, capability, used_count, updated_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT (subject_id, period_key, capability) DO UPDATE
		SET used_count = usage_counters.used_count + 1, updated_at = EXCLUDED.updated_at`
	args := []any{subjectID, period, string(capability), now.UTC()}
	if !limit.IsUnbounded() {
		query += `
		WHERE usage_counters.used_count < ?`
		args = append(args, int64(limit))
	}
	query += `
		RETURNING used_count`

	var count int64
	err := l.cm.Primary().QueryRowContext(ctx, l.cm.Dialect().Rebind(query), args...).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		// The guard rejected the update. The row may be past the limit after
		// a downgrade, so report what is actually stored.
		current, err := l.CurrentCount(ctx, subjectID, capability, now)
		if err != nil {
			return 0, err
		}
		return 0, &QuotaExceededError{SubjectID: subjectID, Capability: capability, PeriodKey: period, Current: current, Limit: limit}
	}
	if err != nil {
		return 0, storage.Classify(fmt.Errorf("failed to increment usage: %w", err))
	}
	return count, nil
}

// History implements Ledger
func (l *SQLLedger) History(ctx context.Context, subjectID string) ([]PeriodUsage, error) {
	query := `
		SELECT period_key, capability, used_count FROM usage_counters
		WHERE subject_id = ?
	`
	rows, err := l.cm.Replica().QueryContext(ctx, l.cm.Dialect().Rebind(query), subjectID)
	if err != nil {
		return nil, storage.Classify(fmt.Errorf("failed to read usage history: %w", err))
	}
	defer rows.Close()

	h := historyBuilder{}
	for rows.Next() {
		var period, capability string
		var count int64
		if err := rows.Scan(&period, &capability, &count); err != nil {
			return nil, storage.Classify(fmt.Errorf("failed to scan usage: %w", err))
		}
		h.add(period, plans.Capability(capability), count)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Classify(fmt.Errorf("failed to read usage history: %w", err))
	}
	return h.build(), nil
}
