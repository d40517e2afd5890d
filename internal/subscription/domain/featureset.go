package domain

// FeatureMap is the resolved capability set for a subscription:
// boolean capabilities and numeric limits keyed by name. A limit of -1
// means unlimited.
type FeatureMap map[string]any

var tierFeatures = map[Tier]FeatureMap{
	TierBasic: {
		"max_customers":    100,
		"max_products":     500,
		"analytics":        false,
		"multi_location":   false,
		"api_access":       false,
		"priority_support": false,
	},
	TierProfessional: {
		"max_customers":    1000,
		"max_products":     5000,
		"analytics":        true,
		"multi_location":   true,
		"api_access":       true,
		"priority_support": false,
	},
	TierEnterprise: {
		"max_customers":    -1,
		"max_products":     -1,
		"analytics":        true,
		"multi_location":   true,
		"api_access":       true,
		"priority_support": true,
	},
	TierTrial: {
		"max_customers":    10,
		"max_products":     50,
		"analytics":        false,
		"multi_location":   false,
		"api_access":       false,
		"priority_support": false,
	},
}

// ResolveFeatures derives the capability map for a tier, with
// overrides taking precedence over tier defaults. Unknown tiers
// resolve to an empty map rather than failing.
func ResolveFeatures(tier Tier, overrides map[string]any) FeatureMap {
	defaults := tierFeatures[tier]
	resolved := make(FeatureMap, len(defaults)+len(overrides))
	for k, v := range defaults {
		resolved[k] = v
	}
	for k, v := range overrides {
		resolved[k] = v
	}
	return resolved
}

// ValidTier reports whether t names a known subscription tier.
func ValidTier(t Tier) bool {
	_, ok := tierFeatures[t]
	return ok
}

// Has reports whether a boolean capability is enabled. Unknown names
// and non-boolean values read as disabled.
func (f FeatureMap) Has(name string) bool {
	v, ok := f[name].(bool)
	return ok && v
}

// Limit returns a numeric limit, or 0 for unknown names. Values
// round-tripped through JSON arrive as float64.
func (f FeatureMap) Limit(name string) int {
	switch v := f[name].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// Features resolves the subscription's effective capability map from
// its tier and stored overrides.
func (s *Subscription) Features() FeatureMap {
	return ResolveFeatures(s.Tier, s.FeatureOverrides)
}
