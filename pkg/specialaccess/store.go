package specialaccess

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/entitle/pkg/plans"
	"github.com/platinummonkey/entitle/pkg/storage"
)

// Store reads overrides
type Store interface {
	// Get returns the latest override for the pair or storage.ErrNotFound.
	// The result may be ineffective; callers check IsEffective.
	Get(ctx context.Context, subjectID, organizationID string) (*Override, error)
}

// SQLStore persists overrides in the special_access table
type SQLStore struct {
	cm  *storage.ConnectionManager
	now func() time.Time
}

// NewSQLStore creates a SQLStore
func NewSQLStore(cm *storage.ConnectionManager) *SQLStore {
	return &SQLStore{cm: cm, now: time.Now}
}

const selectOverride = `
	SELECT id, subject_id, organization_id, access_type, limits, granted_by, granted_at,
	       expires_at, is_active, reason
	FROM special_access`

type scanner interface {
	Scan(dest ...any) error
}

func scanOverride(row scanner) (*Override, error) {
	o := &Override{}
	var limits string
	var expires sql.NullTime
	if err := row.Scan(&o.ID, &o.SubjectID, &o.OrganizationID, &o.AccessType, &limits,
		&o.GrantedBy, &o.GrantedAt, &expires, &o.IsActive, &o.Reason); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(limits), &o.Limits); err != nil {
		return nil, fmt.Errorf("failed to decode limits of override %s: %w", o.ID, err)
	}
	o.GrantedAt = o.GrantedAt.UTC()
	if expires.Valid {
		t := expires.Time.UTC()
		o.ExpiresAt = &t
	}
	return o, nil
}

// Get reads a snapshot from a replica. An active row is preferred over
// revoked history; among equals the newest grant wins.
func (s *SQLStore) Get(ctx context.Context, subjectID, organizationID string) (*Override, error) {
	query := selectOverride + `
		WHERE subject_id = ? AND organization_id = ?
		ORDER BY is_active DESC, granted_at DESC
		LIMIT 1`
	row := s.cm.Replica().QueryRowContext(ctx, s.cm.Dialect().Rebind(query), subjectID, organizationID)
	o, err := scanOverride(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("override for %q in %q: %w", subjectID, organizationID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, storage.Classify(fmt.Errorf("failed to get override: %w", err))
	}
	return o, nil
}

// Grant records a new active override, deactivating any prior active
// override for the same pair so exactly one stays active. When a concurrent
// grant for the pair commits first, Grant fails with storage.ErrConflict.
func (s *SQLStore) Grant(ctx context.Context, g Grant) (*Override, error) {
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("invalid grant: %w", err)
	}
	limits := g.Limits
	if limits == nil {
		limits = map[plans.Capability]plans.Limit{}
	}
	encoded, err := json.Marshal(limits)
	if err != nil {
		return nil, fmt.Errorf("failed to encode limits: %w", err)
	}

	o := &Override{
		ID:             uuid.NewString(),
		SubjectID:      g.SubjectID,
		OrganizationID: g.OrganizationID,
		AccessType:     g.AccessType,
		Limits:         limits,
		GrantedBy:      g.GrantedBy,
		GrantedAt:      s.now().UTC(),
		IsActive:       true,
		Reason:         g.Reason,
	}
	if g.ExpiresAt != nil {
		t := g.ExpiresAt.UTC()
		o.ExpiresAt = &t
	}

	d := s.cm.Dialect()
	tx, err := s.cm.Primary().BeginTx(ctx, nil)
	if err != nil {
		return nil, storage.Classify(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, d.Rebind(`
		UPDATE special_access SET is_active = ?
		WHERE subject_id = ? AND organization_id = ? AND is_active = ?`),
		false, o.SubjectID, o.OrganizationID, true)
	if err != nil {
		return nil, storage.Classify(fmt.Errorf("failed to deactivate previous override: %w", err))
	}

	var expires sql.NullTime
	if o.ExpiresAt != nil {
		expires = sql.NullTime{Time: *o.ExpiresAt, Valid: true}
	}
	_, err = tx.ExecContext(ctx, d.Rebind(`
		INSERT INTO special_access (id, subject_id, organization_id, access_type, limits, granted_by,
		                            granted_at, expires_at, is_active, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		o.ID, o.SubjectID, o.OrganizationID, o.AccessType, string(encoded), o.GrantedBy,
		o.GrantedAt, expires, o.IsActive, o.Reason)
	if err != nil {
		return nil, storage.Classify(fmt.Errorf("failed to insert override: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return nil, storage.Classify(fmt.Errorf("failed to commit override: %w", err))
	}
	return o, nil
}

// Revoke deactivates the pair's active override. It returns
// storage.ErrNotFound when nothing was active.
func (s *SQLStore) Revoke(ctx context.Context, subjectID, organizationID string) error {
	res, err := s.cm.Primary().ExecContext(ctx, s.cm.Dialect().Rebind(`
		UPDATE special_access SET is_active = ?
		WHERE subject_id = ? AND organization_id = ? AND is_active = ?`),
		false, subjectID, organizationID, true)
	if err != nil {
		return storage.Classify(fmt.Errorf("failed to revoke override: %w", err))
	}
	return requireAffected(res, "active override for %q in %q", subjectID, organizationID)
}

// SetExpiry changes when the pair's active override stops applying. A nil
// expiresAt makes it open-ended.
func (s *SQLStore) SetExpiry(ctx context.Context, subjectID, organizationID string, expiresAt *time.Time) error {
	var expires sql.NullTime
	if expiresAt != nil {
		expires = sql.NullTime{Time: expiresAt.UTC(), Valid: true}
	}
	res, err := s.cm.Primary().ExecContext(ctx, s.cm.Dialect().Rebind(`
		UPDATE special_access SET expires_at = ?
		WHERE subject_id = ? AND organization_id = ? AND is_active = ?`),
		expires, subjectID, organizationID, true)
	if err != nil {
		return storage.Classify(fmt.Errorf("failed to set override expiry: %w", err))
	}
	return requireAffected(res, "active override for %q in %q", subjectID, organizationID)
}

// ListForSubject returns every override ever granted to subjectID, newest
// first, including revoked rows.
func (s *SQLStore) ListForSubject(ctx context.Context, subjectID string) ([]*Override, error) {
	query := selectOverride + `
		WHERE subject_id = ?
		ORDER BY granted_at DESC`
	rows, err := s.cm.Replica().QueryContext(ctx, s.cm.Dialect().Rebind(query), subjectID)
	if err != nil {
		return nil, storage.Classify(fmt.Errorf("failed to list overrides: %w", err))
	}
	defer rows.Close()

	var out []*Override
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, storage.Classify(fmt.Errorf("failed to scan override: %w", err))
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Classify(fmt.Errorf("failed to list overrides: %w", err))
	}
	return out, nil
}

// DeactivateExpired clears IsActive on active overrides whose expiry is at
// or before now and returns how many were deactivated. Expired overrides are
// already ineffective; this only keeps the active set tidy.
func (s *SQLStore) DeactivateExpired(ctx context.Context, now time.Time) (int, error) {
	rows, err := s.cm.Primary().QueryContext(ctx, s.cm.Dialect().Rebind(`
		SELECT id, expires_at FROM special_access
		WHERE is_active = ? AND expires_at IS NOT NULL`), true)
	if err != nil {
		return 0, storage.Classify(fmt.Errorf("failed to list expiring overrides: %w", err))
	}

	var expired []string
	for rows.Next() {
		var id string
		var expiresAt time.Time
		if err := rows.Scan(&id, &expiresAt); err != nil {
			rows.Close()
			return 0, storage.Classify(fmt.Errorf("failed to scan override: %w", err))
		}
		if !now.Before(expiresAt) {
			expired = append(expired, id)
		}
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return 0, storage.Classify(fmt.Errorf("failed to list expiring overrides: %w", err))
	}

	for _, id := range expired {
		_, err := s.cm.Primary().ExecContext(ctx, s.cm.Dialect().Rebind(
			`UPDATE special_access SET is_active = ? WHERE id = ?`), false, id)
		if err != nil {
			return 0, storage.Classify(fmt.Errorf("failed to deactivate override %s: %w", id, err))
		}
	}
	return len(expired), nil
}

func requireAffected(res sql.Result, format string, args ...any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storage.Classify(fmt.Errorf("failed to read affected rows: %w", err))
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), storage.ErrNotFound)
	}
	return nil
}
