package plans

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog_Limits(t *testing.T) {
	c := DefaultCatalog()

	tests := []struct {
		tier   TierName
		admins Limit
		groups Limit
		alerts Limit
		price  int64
	}{
		{Free, 1, 2, 25, 0},
		{Pro, 2, 5, 100, 10},
		{Premium, 10, 25, 500, 25},
		{Enterprise, Unbounded, Unbounded, Unbounded, 50},
	}
	for _, tt := range tests {
		t.Run(string(tt.tier), func(t *testing.T) {
			tier, err := c.Tier(tt.tier)
			require.NoError(t, err)
			assert.Equal(t, tt.price, tier.MonthlyPrice)

			got, err := c.LimitFor(tt.tier, CapabilityAdmins)
			require.NoError(t, err)
			assert.Equal(t, tt.admins, got)

			got, err = c.LimitFor(tt.tier, CapabilityGroups)
			require.NoError(t, err)
			assert.Equal(t, tt.groups, got)

			got, err = c.LimitFor(tt.tier, CapabilityAlerts)
			require.NoError(t, err)
			assert.Equal(t, tt.alerts, got)
		})
	}
}

func TestCatalog_UnknownPlan(t *testing.T) {
	_, err := DefaultCatalog().LimitFor("gold", CapabilityAlerts)
	assert.ErrorIs(t, err, ErrUnknownPlan)
}

func TestCatalog_UnknownCapabilityFailsClosed(t *testing.T) {
	got, err := DefaultCatalog().LimitFor(Enterprise, Capability("webhooks"))
	require.NoError(t, err)
	assert.Equal(t, Limit(0), got)
}

func TestCatalog_TiersOrderedByPrice(t *testing.T) {
	var names []TierName
	for _, tier := range DefaultCatalog().Tiers() {
		names = append(names, tier.Name)
	}
	assert.Equal(t, TierNames(), names)
}

func TestTier_HasFeature(t *testing.T) {
	tier, err := DefaultCatalog().Tier(Enterprise)
	require.NoError(t, err)
	assert.True(t, tier.HasFeature("priority_support"))

	tier, err = DefaultCatalog().Tier(Free)
	require.NoError(t, err)
	assert.False(t, tier.HasFeature("priority_support"))
}

func validTiers() []Tier {
	return DefaultCatalog().Tiers()
}

func TestNewCatalog_Validation(t *testing.T) {
	t.Run("negative limit other than sentinel", func(t *testing.T) {
		tiers := validTiers()
		tiers[0].Limits.MaxGroups = -2
		_, err := NewCatalog(tiers...)
		assert.ErrorIs(t, err, ErrInvalidConfiguration)
	})

	t.Run("missing tier", func(t *testing.T) {
		_, err := NewCatalog(validTiers()[:3]...)
		assert.ErrorIs(t, err, ErrInvalidConfiguration)
	})

	t.Run("duplicate tier", func(t *testing.T) {
		tiers := append(validTiers(), validTiers()[0])
		_, err := NewCatalog(tiers...)
		assert.ErrorIs(t, err, ErrInvalidConfiguration)
	})

	t.Run("unknown tier", func(t *testing.T) {
		tiers := append(validTiers(), Tier{Name: "gold"})
		_, err := NewCatalog(tiers...)
		assert.ErrorIs(t, err, ErrInvalidConfiguration)
	})
}

func TestLimit_Text(t *testing.T) {
	assert.Equal(t, "unbounded", Unbounded.String())
	assert.Equal(t, "25", Limit(25).String())

	l, err := ParseLimit("Unbounded")
	require.NoError(t, err)
	assert.True(t, l.IsUnbounded())

	_, err = ParseLimit("-5")
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = ParseLimit("lots")
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestLimit_JSON(t *testing.T) {
	out, err := json.Marshal(map[string]Limit{"a": 3, "b": Unbounded})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":3,"b":"unbounded"}`, string(out))

	var in map[string]Limit
	require.NoError(t, json.Unmarshal([]byte(`{"a":3,"b":"unbounded","c":-1}`), &in))
	assert.Equal(t, map[string]Limit{"a": 3, "b": Unbounded, "c": Unbounded}, in)

	assert.Error(t, json.Unmarshal([]byte(`{"a":-7}`), &in))
}

func TestLimit_Remaining(t *testing.T) {
	assert.Equal(t, Limit(3), Limit(5).Remaining(2))
	assert.Equal(t, Limit(0), Limit(5).Remaining(9))
	assert.Equal(t, Unbounded, Unbounded.Remaining(1000))
}

func TestCapability(t *testing.T) {
	c, err := ParseCapability(" Alerts ")
	require.NoError(t, err)
	assert.Equal(t, CapabilityAlerts, c)

	_, err = ParseCapability("webhooks")
	assert.Error(t, err)

	assert.True(t, CapabilityAdmins.IsAdministrative())
	assert.False(t, CapabilityGroups.IsAdministrative())
}

const catalogYAML = `
tiers:
  - name: free
    monthly_price: 0
    max_admins: 1
    max_groups: 3
    max_alerts_per_month: 30
  - name: pro
    monthly_price: 12
    max_admins: 2
    max_groups: 5
    max_alerts_per_month: 100
    features: [push_alerts]
  - name: premium
    monthly_price: 25
    max_admins: 10
    max_groups: 25
    max_alerts_per_month: 500
  - name: enterprise
    monthly_price: 50
    max_admins: unbounded
    max_groups: -1
    max_alerts_per_month: unbounded
`

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(catalogYAML), 0o600))

	c, err := LoadCatalog(path)
	require.NoError(t, err)

	got, err := c.LimitFor(Free, CapabilityGroups)
	require.NoError(t, err)
	assert.Equal(t, Limit(3), got)

	got, err = c.LimitFor(Enterprise, CapabilityGroups)
	require.NoError(t, err)
	assert.True(t, got.IsUnbounded())

	pro, err := c.Tier(Pro)
	require.NoError(t, err)
	assert.True(t, pro.HasFeature("push_alerts"))
}

func TestParseCatalog_Errors(t *testing.T) {
	tests := map[string]string{
		"missing limit": `
tiers:
  - name: free
    monthly_price: 0
    max_admins: 1
    max_groups: 2
`,
		"negative limit": `
tiers:
  - name: free
    monthly_price: 0
    max_admins: -3
    max_groups: 2
    max_alerts_per_month: 25
`,
		"unknown field": `
tiers:
  - name: free
    monthly_price: 0
    max_admins: 1
    max_groups: 2
    max_alerts_per_month: 25
    max_widgets: 9
`,
		"incomplete catalog": `
tiers:
  - name: free
    monthly_price: 0
    max_admins: 1
    max_groups: 2
    max_alerts_per_month: 25
`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(doc))
			assert.ErrorIs(t, err, ErrInvalidConfiguration)
		})
	}
}

func TestLoadCatalog_MissingFile(t *testing.T) {
	_, err := LoadCatalog(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
