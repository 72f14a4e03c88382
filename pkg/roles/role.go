package roles

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotAuthorized is returned when the acting subject may not perform a
// role change. It never reveals whether the organization or target exists.
var ErrNotAuthorized = errors.New("not authorized")

// Role is an administrative role within an organization
type Role string

const (
	// RoleNone means the subject holds no administrative role
	RoleNone Role = ""
	// RoleOrgAdmin is the organization owner
	RoleOrgAdmin Role = "org_admin"
	// RoleAdmin may perform administrative actions but not change roles
	RoleAdmin Role = "admin"
)

// ParseRole accepts "org_admin", "admin", and "" or "none" for RoleNone
func ParseRole(s string) (Role, error) {
	switch s {
	case "", "none":
		return RoleNone, nil
	case string(RoleOrgAdmin):
		return RoleOrgAdmin, nil
	case string(RoleAdmin):
		return RoleAdmin, nil
	}
	return RoleNone, fmt.Errorf("unknown role %q", s)
}

func (r Role) String() string {
	if r == RoleNone {
		return "none"
	}
	return string(r)
}

// CanAdminister reports whether r may perform administrative capabilities
func (r Role) CanAdminister() bool {
	return r == RoleOrgAdmin || r == RoleAdmin
}

// CanAssign checks whether actor may give a subject the target role. Only
// an org_admin modifies assignments, so an admin cannot change roles and an
// org_admin can only be demoted by another org_admin.
func CanAssign(actor, target Role) error {
	switch target {
	case RoleNone, RoleAdmin, RoleOrgAdmin:
	default:
		return fmt.Errorf("unknown role %q", target)
	}
	if actor != RoleOrgAdmin {
		return ErrNotAuthorized
	}
	return nil
}

// Organization is a tenant whose admins are tracked here
type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// Admin is one member of an organization's admin set
type Admin struct {
	SubjectID string    `json:"subject_id"`
	Role      Role      `json:"role"`
	AddedAt   time.Time `json:"added_at"`
}
