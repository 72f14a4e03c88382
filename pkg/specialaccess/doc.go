// Package specialaccess stores manual overrides granted to a subject within
// an organization.
//
// Overrides are audited: every grant inserts a new row, a re-grant
// deactivates the previous one, and revocation only flips is_active. Nothing
// is physically deleted. Only IsActive and ExpiresAt change after a grant.
//
// An override is effective while it is active and unexpired. Ineffective
// overrides are treated as absent by the resolver.
package specialaccess
