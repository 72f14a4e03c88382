package storagetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/entitle/pkg/storage"
)

func TestNewManager_Migrated(t *testing.T) {
	cm := NewManager(t)

	var count int
	err := cm.Primary().QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, len(storage.Migrations()), count)

	// re-running is a no-op
	require.NoError(t, storage.Migrate(context.Background(), cm.Primary(), cm.Dialect()))
	err = cm.Primary().QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, len(storage.Migrations()), count)
}
