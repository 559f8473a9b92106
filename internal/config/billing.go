package config

// BillingConfig maps Stripe subscription plans onto ledger allotments.
type BillingConfig struct {
	// TierUnits defines the monthly extractable-item allotment per tier.
	TierUnits map[string]int64

	// PriceTiers maps Stripe price ids to tier names. Populated from the
	// STRIPE_PRICE_<TIER> environment variables so price ids never live in
	// source.
	PriceTiers map[string]string

	// DefaultTier is used when a webhook carries no recognizable tier.
	DefaultTier string
}

// LoadBillingConfig builds the billing configuration from the environment.
func LoadBillingConfig() BillingConfig {
	cfg := BillingConfig{
		TierUnits: map[string]int64{
			"starter": int64(getEnvInt("PLAN_STARTER_UNITS", 500)),
			"pro":     int64(getEnvInt("PLAN_PRO_UNITS", 2500)),
			"scale":   int64(getEnvInt("PLAN_SCALE_UNITS", 10000)),
		},
		PriceTiers:  map[string]string{},
		DefaultTier: "starter",
	}

	for tier, env := range map[string]string{
		"starter": "STRIPE_PRICE_STARTER",
		"pro":     "STRIPE_PRICE_PRO",
		"scale":   "STRIPE_PRICE_SCALE",
	} {
		if priceID := getEnv(env, ""); priceID != "" {
			cfg.PriceTiers[priceID] = tier
		}
	}

	return cfg
}

// UnitsForTier returns the monthly allotment for a tier, falling back to the
// default tier's allotment for unknown names.
func (c *BillingConfig) UnitsForTier(tier string) int64 {
	if units, ok := c.TierUnits[tier]; ok {
		return units
	}
	return c.TierUnits[c.DefaultTier]
}

// TierForPrice resolves a Stripe price id to a tier name.
func (c *BillingConfig) TierForPrice(priceID string) (string, bool) {
	tier, ok := c.PriceTiers[priceID]
	return tier, ok
}
