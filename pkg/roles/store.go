package roles

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/platinummonkey/entitle/pkg/storage"
)

// Store is the per-organization admin role map. Every role write runs in a
// transaction holding the organization row lock and every authorization read
// uses the primary, so role changes and checks on one organization observe a
// single order.
type Store struct {
	cm  *storage.ConnectionManager
	now func() time.Time
}

// NewStore creates a Store
func NewStore(cm *storage.ConnectionManager) *Store {
	return &Store{cm: cm, now: time.Now}
}

func (s *Store) rebind(query string) string {
	return s.cm.Dialect().Rebind(query)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// CreateOrganization inserts org and records its creator as org_admin
func (s *Store) CreateOrganization(ctx context.Context, org *Organization) error {
	if org.ID == "" || org.CreatedBy == "" {
		return fmt.Errorf("organization id and creator are required")
	}
	org.CreatedAt = s.now().UTC()

	tx, err := s.cm.Primary().BeginTx(ctx, nil)
	if err != nil {
		return storage.Classify(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO organizations (id, name, created_by, created_at)
		VALUES (?, ?, ?, ?)`),
		org.ID, org.Name, org.CreatedBy, org.CreatedAt)
	if err != nil {
		return storage.Classify(fmt.Errorf("failed to create organization: %w", err))
	}

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO organization_admins (organization_id, subject_id, role, added_at)
		VALUES (?, ?, ?, ?)`),
		org.ID, org.CreatedBy, string(RoleOrgAdmin), org.CreatedAt)
	if err != nil {
		return storage.Classify(fmt.Errorf("failed to add organization owner: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return storage.Classify(fmt.Errorf("failed to commit organization: %w", err))
	}
	return nil
}

// AddAdmin puts subjectID in the organization's admin set without a role
// or any authorization check. It is meant for provisioning; requests made
// by a subject go through AddAdminAs.
func (s *Store) AddAdmin(ctx context.Context, orgID, subjectID string) error {
	return s.insertAdmin(ctx, s.cm.Primary(), orgID, subjectID)
}

// AddAdminAs puts subjectID in the admin set on behalf of actingSubjectID.
// The acting subject's role is read under the organization lock, so a
// revocation committed before the insert always wins. It reports false when
// subjectID was already in the set.
func (s *Store) AddAdminAs(ctx context.Context, orgID, subjectID, actingSubjectID string) (bool, error) {
	var added bool
	err := s.withOrgLock(ctx, orgID, func(tx *sql.Tx) error {
		actor, _, err := s.roleOf(ctx, tx, orgID, actingSubjectID)
		if err != nil {
			return err
		}
		if !actor.CanAdminister() {
			return ErrNotAuthorized
		}
		_, found, err := s.roleOf(ctx, tx, orgID, subjectID)
		if err != nil || found {
			return err
		}
		added = true
		return s.insertAdmin(ctx, tx, orgID, subjectID)
	})
	if err != nil {
		return false, err
	}
	return added, nil
}

// IsAdmin reports whether subjectID is in the admin set, with or without a
// role. It reads the primary.
func (s *Store) IsAdmin(ctx context.Context, orgID, subjectID string) (bool, error) {
	_, found, err := s.roleOf(ctx, s.cm.Primary(), orgID, subjectID)
	return found, err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) insertAdmin(ctx context.Context, e execer, orgID, subjectID string) error {
	_, err := e.ExecContext(ctx, s.rebind(`
		INSERT INTO organization_admins (organization_id, subject_id, role, added_at)
		VALUES (?, ?, NULL, ?)
		ON CONFLICT (organization_id, subject_id) DO NOTHING`),
		orgID, subjectID, s.now().UTC())
	if err != nil {
		return storage.Classify(fmt.Errorf("failed to add admin: %w", err))
	}
	return nil
}

// RemoveAdmin drops subjectID from the admin set. The same rules as
// demoting the subject to RoleNone apply.
func (s *Store) RemoveAdmin(ctx context.Context, orgID, subjectID, actingSubjectID string) error {
	return s.withOrgLock(ctx, orgID, func(tx *sql.Tx) error {
		actor, _, err := s.roleOf(ctx, tx, orgID, actingSubjectID)
		if err != nil {
			return err
		}
		if err := CanAssign(actor, RoleNone); err != nil {
			return err
		}
		_, found, err := s.roleOf(ctx, tx, orgID, subjectID)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("admin %q: %w", subjectID, storage.ErrNotFound)
		}
		_, err = tx.ExecContext(ctx, s.rebind(`
			DELETE FROM organization_admins WHERE organization_id = ? AND subject_id = ?`),
			orgID, subjectID)
		if err != nil {
			return storage.Classify(fmt.Errorf("failed to remove admin: %w", err))
		}
		return nil
	})
}

// ListAdmins returns the admin set ordered by when each subject was added
func (s *Store) ListAdmins(ctx context.Context, orgID string) ([]Admin, error) {
	return s.listAdmins(ctx, s.cm.Replica(), orgID)
}

type rowsQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) listAdmins(ctx context.Context, q rowsQuerier, orgID string) ([]Admin, error) {
	rows, err := q.QueryContext(ctx, s.rebind(`
		SELECT subject_id, role, added_at FROM organization_admins
		WHERE organization_id = ?`), orgID)
	if err != nil {
		return nil, storage.Classify(fmt.Errorf("failed to list admins: %w", err))
	}
	defer rows.Close()

	var admins []Admin
	for rows.Next() {
		var a Admin
		var role sql.NullString
		if err := rows.Scan(&a.SubjectID, &role, &a.AddedAt); err != nil {
			return nil, storage.Classify(fmt.Errorf("failed to scan admin: %w", err))
		}
		a.Role = Role(role.String)
		a.AddedAt = a.AddedAt.UTC()
		admins = append(admins, a)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Classify(fmt.Errorf("failed to list admins: %w", err))
	}

	sort.Slice(admins, func(i, j int) bool {
		if !admins[i].AddedAt.Equal(admins[j].AddedAt) {
			return admins[i].AddedAt.Before(admins[j].AddedAt)
		}
		return admins[i].SubjectID < admins[j].SubjectID
	})
	return admins, nil
}

// RoleOf returns the subject's role, RoleNone when absent. It always reads
// the primary.
func (s *Store) RoleOf(ctx context.Context, orgID, subjectID string) (Role, error) {
	role, _, err := s.roleOf(ctx, s.cm.Primary(), orgID, subjectID)
	return role, err
}

func (s *Store) roleOf(ctx context.Context, q querier, orgID, subjectID string) (Role, bool, error) {
	var role sql.NullString
	err := q.QueryRowContext(ctx, s.rebind(`
		SELECT role FROM organization_admins
		WHERE organization_id = ? AND subject_id = ?`), orgID, subjectID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return RoleNone, false, nil
	}
	if err != nil {
		return RoleNone, false, storage.Classify(fmt.Errorf("failed to read role: %w", err))
	}
	return Role(role.String), true, nil
}

// Assign sets the role of subjectID on behalf of actingSubjectID. The target
// must already be in the admin set.
func (s *Store) Assign(ctx context.Context, orgID, subjectID string, role Role, actingSubjectID string) error {
	return s.withOrgLock(ctx, orgID, func(tx *sql.Tx) error {
		actor, _, err := s.roleOf(ctx, tx, orgID, actingSubjectID)
		if err != nil {
			return err
		}
		if err := CanAssign(actor, role); err != nil {
			return err
		}
		_, found, err := s.roleOf(ctx, tx, orgID, subjectID)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("admin %q: %w", subjectID, storage.ErrNotFound)
		}
		return s.setRole(ctx, tx, orgID, subjectID, role)
	})
}

func (s *Store) setRole(ctx context.Context, tx *sql.Tx, orgID, subjectID string, role Role) error {
	var value sql.NullString
	if role != RoleNone {
		value = sql.NullString{String: string(role), Valid: true}
	}
	_, err := tx.ExecContext(ctx, s.rebind(`
		UPDATE organization_admins SET role = ?
		WHERE organization_id = ? AND subject_id = ?`),
		value, orgID, subjectID)
	if err != nil {
		return storage.Classify(fmt.Errorf("failed to assign role: %w", err))
	}
	return nil
}

// withOrgLock runs fn in a transaction that holds the organization row
// lock. An unknown organization is reported as ErrNotAuthorized.
func (s *Store) withOrgLock(ctx context.Context, orgID string, fn func(tx *sql.Tx) error) error {
	tx, err := s.cm.Primary().BeginTx(ctx, nil)
	if err != nil {
		return storage.Classify(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT id FROM organizations WHERE id = ?`+s.cm.Dialect().ForUpdate()), orgID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotAuthorized
	}
	if err != nil {
		return storage.Classify(fmt.Errorf("failed to lock organization: %w", err))
	}

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return storage.Classify(fmt.Errorf("failed to commit role change: %w", err))
	}
	return nil
}
