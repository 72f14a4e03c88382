// Package roles maps subjects to administrative roles within an
// organization.
//
// Each organization has an admin set (organization_admins) and, for each
// member, an optional role:
//
//	org_admin  the owner; assigns and revokes roles
//	admin      may perform administrative actions, may not change roles
//
// Exactly one org_admin is expected but not enforced on write. Organizations
// that lost or never had one are repaired by BackfillOwner, which promotes
// the earliest added admin.
//
// Role writes lock the organization row for the duration of the
// transaction and RoleOf reads the primary. A revoked admin therefore cannot
// pass an authorization check that starts after the revocation commits.
package roles
