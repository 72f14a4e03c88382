package roles

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/entitle/pkg/storage"
)

// BackfillOwner makes sure the organization has an org_admin. If none
// exists, the subject added earliest (ties broken by subject id) is
// promoted. It returns the owner and whether a promotion happened.
func (s *Store) BackfillOwner(ctx context.Context, orgID string) (string, bool, error) {
	var owner string
	var promoted bool
	err := s.withOrgLock(ctx, orgID, func(tx *sql.Tx) error {
		admins, err := s.listAdmins(ctx, tx, orgID)
		if err != nil {
			return err
		}
		if len(admins) == 0 {
			return fmt.Errorf("admins of %q: %w", orgID, storage.ErrNotFound)
		}
		for _, a := range admins {
			if a.Role == RoleOrgAdmin {
				owner = a.SubjectID
				return nil
			}
		}
		owner = admins[0].SubjectID
		promoted = true
		return s.setRole(ctx, tx, orgID, owner, RoleOrgAdmin)
	})
	if err != nil {
		return "", false, err
	}
	return owner, promoted, nil
}

// BackfillOwners runs BackfillOwner for every organization that has admins
// but no org_admin and returns how many were promoted.
func (s *Store) BackfillOwners(ctx context.Context) (int, error) {
	rows, err := s.cm.Primary().QueryContext(ctx, s.rebind(`
		SELECT DISTINCT a.organization_id FROM organization_admins a
		WHERE NOT EXISTS (
			SELECT 1 FROM organization_admins o
			WHERE o.organization_id = a.organization_id AND o.role = ?
		)`), string(RoleOrgAdmin))
	if err != nil {
		return 0, storage.Classify(fmt.Errorf("failed to find organizations without owner: %w", err))
	}
	var orgIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, storage.Classify(fmt.Errorf("failed to scan organization: %w", err))
		}
		orgIDs = append(orgIDs, id)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return 0, storage.Classify(fmt.Errorf("failed to find organizations without owner: %w", err))
	}

	promoted := 0
	for _, id := range orgIDs {
		_, ok, err := s.BackfillOwner(ctx, id)
		if err != nil {
			return promoted, fmt.Errorf("failed to backfill owner of %q: %w", id, err)
		}
		if ok {
			promoted++
		}
	}
	return promoted, nil
}
