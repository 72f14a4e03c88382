package subscriptions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/entitle/pkg/plans"
	"github.com/platinummonkey/entitle/pkg/storage"
)

// Store reads subscription records
type Store interface {
	// Get returns the record for subjectID or storage.ErrNotFound
	Get(ctx context.Context, subjectID string) (*Record, error)
}

// SQLStore persists subscriptions in the subscriptions table
type SQLStore struct {
	cm  *storage.ConnectionManager
	now func() time.Time
}

// NewSQLStore creates a SQLStore
func NewSQLStore(cm *storage.ConnectionManager) *SQLStore {
	return &SQLStore{cm: cm, now: time.Now}
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const selectColumns = `
	SELECT subject_id, plan_type, status, current_period_start, current_period_end,
	       cancel_at_period_end, never_expires, is_lifetime, created_at, updated_at
	FROM subscriptions
	WHERE subject_id = ?`

// Get reads a snapshot from a replica
func (s *SQLStore) Get(ctx context.Context, subjectID string) (*Record, error) {
	return s.get(ctx, s.cm.Replica(), subjectID, "")
}

func (s *SQLStore) get(ctx context.Context, q rowQuerier, subjectID, suffix string) (*Record, error) {
	rec := &Record{}
	var start, end sql.NullTime
	err := q.QueryRowContext(ctx, s.cm.Dialect().Rebind(selectColumns+suffix), subjectID).Scan(
		&rec.SubjectID, &rec.PlanType, &rec.Status, &start, &end,
		&rec.CancelAtPeriodEnd, &rec.NeverExpires, &rec.IsLifetime,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("subscription for %q: %w", subjectID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, storage.Classify(fmt.Errorf("failed to get subscription: %w", err))
	}
	if start.Valid {
		t := start.Time.UTC()
		rec.CurrentPeriodStart = &t
	}
	if end.Valid {
		t := end.Time.UTC()
		rec.CurrentPeriodEnd = &t
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}

// Create inserts or replaces the subject's subscription with an active
// record on plan for the given period.
func (s *SQLStore) Create(ctx context.Context, subjectID string, plan plans.TierName, periodStart, periodEnd time.Time) (*Record, error) {
	start, end := periodStart.UTC(), periodEnd.UTC()
	rec := &Record{
		SubjectID:          subjectID,
		PlanType:           plan,
		Status:             StatusActive,
		CurrentPeriodStart: &start,
		CurrentPeriodEnd:   &end,
	}
	if err := s.Save(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Save upserts rec
func (s *SQLStore) Save(ctx context.Context, rec *Record) error {
	return s.save(ctx, s.cm.Primary(), rec)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLStore) save(ctx context.Context, db execer, rec *Record) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid subscription: %w", err)
	}

	now := s.now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	query := `
		INSERT INTO subscriptions (subject_id, plan_type, status, current_period_start, current_period_end,
		                           cancel_at_period_end, never_expires, is_lifetime, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (subject_id) DO UPDATE
		SET plan_type = EXCLUDED.plan_type, status = EXCLUDED.status,
		    current_period_start = EXCLUDED.current_period_start,
		    current_period_end = EXCLUDED.current_period_end,
		    cancel_at_period_end = EXCLUDED.cancel_at_period_end,
		    never_expires = EXCLUDED.never_expires,
		    is_lifetime = EXCLUDED.is_lifetime,
		    updated_at = EXCLUDED.updated_at
	`
	_, err := db.ExecContext(ctx, s.cm.Dialect().Rebind(query),
		rec.SubjectID, rec.PlanType, rec.Status, nullTime(rec.CurrentPeriodStart), nullTime(rec.CurrentPeriodEnd),
		rec.CancelAtPeriodEnd, rec.NeverExpires, rec.IsLifetime, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return storage.Classify(fmt.Errorf("failed to save subscription: %w", err))
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
