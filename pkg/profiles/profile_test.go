package profiles

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/entitle/pkg/plans"
	"github.com/platinummonkey/entitle/pkg/storage"
	"github.com/platinummonkey/entitle/pkg/storage/storagetest"
)

func TestProfile_LimitFor(t *testing.T) {
	p := &Profile{HasCustomLimits: true, CustomLimits: map[plans.Capability]plans.Limit{plans.CapabilityGroups: 12}}

	l, ok := p.LimitFor(plans.CapabilityGroups)
	assert.True(t, ok)
	assert.Equal(t, plans.Limit(12), l)

	_, ok = p.LimitFor(plans.CapabilityAlerts)
	assert.False(t, ok)

	p.HasCustomLimits = false
	_, ok = p.LimitFor(plans.CapabilityGroups)
	assert.False(t, ok, "limits are ignored unless enabled")

	_, ok = (*Profile)(nil).LimitFor(plans.CapabilityGroups)
	assert.False(t, ok)
}

func TestSQLStore_SaveAndGet(t *testing.T) {
	store := NewSQLStore(storagetest.NewManager(t))
	ctx := context.Background()

	_, err := store.Get(ctx, "u1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.Save(ctx, &Profile{
		SubjectID:       "u1",
		HasCustomLimits: true,
		CustomLimits:    map[plans.Capability]plans.Limit{plans.CapabilityAlerts: 75, plans.CapabilityAdmins: plans.Unbounded},
	}))

	got, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, got.HasCustomLimits)
	assert.Equal(t, plans.Limit(75), got.CustomLimits[plans.CapabilityAlerts])
	assert.True(t, got.CustomLimits[plans.CapabilityAdmins].IsUnbounded())

	require.NoError(t, store.Save(ctx, &Profile{SubjectID: "u1"}))
	got, err = store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, got.HasCustomLimits)
	assert.Empty(t, got.CustomLimits)
}

func TestSQLStore_SaveRejectsInvalid(t *testing.T) {
	store := NewSQLStore(storagetest.NewManager(t))

	err := store.Save(context.Background(), &Profile{
		SubjectID:       "u1",
		HasCustomLimits: true,
		CustomLimits:    map[plans.Capability]plans.Limit{plans.CapabilityAlerts: -9},
	})
	assert.ErrorIs(t, err, plans.ErrInvalidConfiguration)

	err = store.Save(context.Background(), &Profile{SubjectID: "u1", CustomLimits: map[plans.Capability]plans.Limit{"webhooks": 1}})
	assert.ErrorIs(t, err, plans.ErrInvalidConfiguration)
}

func TestSQLStore_GetCorruptLimits(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM subject_profiles").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"subject_id", "has_custom_limits", "custom_limits", "updated_at"}).
			AddRow("u1", true, `{"alerts":-7}`, time.Now()))

	store := NewSQLStore(storage.NewConnectionManagerFromDB(storage.DialectPostgres, db))
	_, err = store.Get(context.Background(), "u1")
	assert.ErrorIs(t, err, plans.ErrInvalidConfiguration)
	assert.NoError(t, mock.ExpectationsWereMet())
}
