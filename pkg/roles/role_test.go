package roles

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	for in, want := range map[string]Role{"": RoleNone, "none": RoleNone, "admin": RoleAdmin, "org_admin": RoleOrgAdmin} {
		got, err := ParseRole(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseRole("owner")
	assert.Error(t, err)
	assert.Equal(t, "none", RoleNone.String())
}

func TestCanAdminister(t *testing.T) {
	assert.True(t, RoleOrgAdmin.CanAdminister())
	assert.True(t, RoleAdmin.CanAdminister())
	assert.False(t, RoleNone.CanAdminister())
}

func TestCanAssign(t *testing.T) {
	tests := []struct {
		name   string
		actor  Role
		target Role
		err    error
	}{
		{"org_admin grants admin", RoleOrgAdmin, RoleAdmin, nil},
		{"org_admin revokes admin", RoleOrgAdmin, RoleNone, nil},
		{"org_admin transfers ownership", RoleOrgAdmin, RoleOrgAdmin, nil},
		{"admin cannot grant", RoleAdmin, RoleAdmin, ErrNotAuthorized},
		{"admin cannot demote owner", RoleAdmin, RoleNone, ErrNotAuthorized},
		{"outsider cannot grant", RoleNone, RoleAdmin, ErrNotAuthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CanAssign(tt.actor, tt.target)
			if tt.err == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.err)
			}
		})
	}

	err := CanAssign(RoleOrgAdmin, "superuser")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotAuthorized)
}
