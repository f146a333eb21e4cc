package entitlement

import "sort"

// Feature is a static catalog entry describing one gated capability.
type Feature struct {
	ID                   string
	RequiresSubscription bool
	MinimumTier          Tier
}

// Catalog holds the immutable feature set the product ships with.
type Catalog struct {
	features map[string]Feature
}

// NewCatalog builds a catalog from a feature list.
func NewCatalog(features ...Feature) *Catalog {
	m := make(map[string]Feature, len(features))
	for _, f := range features {
		m[f.ID] = f
	}
	return &Catalog{features: m}
}

// DefaultCatalog returns the product's feature set.
func DefaultCatalog() *Catalog {
	return NewCatalog(
		Feature{ID: "cvUpload", RequiresSubscription: false},
		Feature{ID: "basicProfile", RequiresSubscription: false},
		Feature{ID: "webPortal", RequiresSubscription: true, MinimumTier: TierBasic},
		Feature{ID: "aiChat", RequiresSubscription: true, MinimumTier: TierPro},
		Feature{ID: "podcast", RequiresSubscription: true, MinimumTier: TierPro},
		Feature{ID: "advancedAnalytics", RequiresSubscription: true, MinimumTier: TierEnterprise},
	)
}

// Lookup returns the feature for id and whether it exists.
func (c *Catalog) Lookup(id string) (Feature, bool) {
	f, ok := c.features[id]
	return f, ok
}

// PremiumFeatureIDs returns the ids of all features requiring a
// subscription, in a stable order.
func (c *Catalog) PremiumFeatureIDs() []string {
	var ids []string
	for id, f := range c.features {
		if f.RequiresSubscription {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
