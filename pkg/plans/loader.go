package plans

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type catalogFile struct {
	Tiers []tierFile `yaml:"tiers"`
}

type tierFile struct {
	Name              TierName `yaml:"name"`
	MonthlyPrice      *int64   `yaml:"monthly_price"`
	MaxAdmins         *Limit   `yaml:"max_admins"`
	MaxGroups         *Limit   `yaml:"max_groups"`
	MaxAlertsPerMonth *Limit   `yaml:"max_alerts_per_month"`
	Features          []string `yaml:"features"`
}

// LoadCatalog reads a YAML catalog from path
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes a YAML catalog. Unknown keys and missing limits are
// configuration errors.
//
//	tiers:
//	  - name: free
//	    monthly_price: 0
//	    max_admins: 1
//	    max_groups: 2
//	    max_alerts_per_month: 25
//	  - name: enterprise
//	    monthly_price: 50
//	    max_admins: unbounded
//	    ...
func ParseCatalog(data []byte) (*Catalog, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var file catalogFile
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}

	tiers := make([]Tier, 0, len(file.Tiers))
	for i, tf := range file.Tiers {
		t, err := tf.toTier()
		if err != nil {
			return nil, fmt.Errorf("tier %d (%q): %w", i, tf.Name, err)
		}
		tiers = append(tiers, t)
	}
	return NewCatalog(tiers...)
}

func (tf tierFile) toTier() (Tier, error) {
	missing := func(field string) error {
		return fmt.Errorf("%w: missing %s", ErrInvalidConfiguration, field)
	}
	switch {
	case tf.MonthlyPrice == nil:
		return Tier{}, missing("monthly_price")
	case tf.MaxAdmins == nil:
		return Tier{}, missing("max_admins")
	case tf.MaxGroups == nil:
		return Tier{}, missing("max_groups")
	case tf.MaxAlertsPerMonth == nil:
		return Tier{}, missing("max_alerts_per_month")
	}
	return Tier{
		Name:         tf.Name,
		MonthlyPrice: *tf.MonthlyPrice,
		Limits: Limits{
			MaxAdmins:         *tf.MaxAdmins,
			MaxGroups:         *tf.MaxGroups,
			MaxAlertsPerMonth: *tf.MaxAlertsPerMonth,
		},
		Features: tf.Features,
	}, nil
}
