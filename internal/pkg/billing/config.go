package billing

import (
	"strings"

	"github.com/artspark/artspark/internal/pkg/entitlements"
	"github.com/artspark/artspark/internal/pkg/env"
)

// Config holds provider wiring and the checkout business policy.
type Config struct {
	Provider            string
	WebhookSecret       string
	SuccessURL          string
	CancelURL           string
	ReturnURL           string
	SecretKey           string
	PriceCreatorMonthly string
	PriceCreatorYearly  string
	PriceStudioMonthly  string
	PriceStudioYearly   string

	// AllowMultipleActive controls whether a user with an active or trialing
	// subscription may start another subscription checkout. Off by default;
	// the reconciler tolerates the anomaly either way.
	AllowMultipleActive bool

	// ProductPlans maps provider product/price IDs to internal plans.
	ProductPlans map[string]string
	// CreditPacks maps one-time product IDs to the credits they grant.
	CreditPacks map[string]int64
}

// ConfigFromEnv assembles billing configuration from environment variables.
func ConfigFromEnv() *Config {
	cfg := &Config{
		Provider:            "stripe",
		WebhookSecret:       env.GetEnv("BILLING_WEBHOOK_SECRET", ""),
		SecretKey:           env.GetEnv("STRIPE_SECRET_KEY", ""),
		SuccessURL:          env.GetEnv("BILLING_SUCCESS_URL", "http://localhost:4000/billing/success"),
		CancelURL:           env.GetEnv("BILLING_CANCEL_URL", "http://localhost:4000/pricing"),
		ReturnURL:           env.GetEnv("BILLING_PORTAL_RETURN_URL", "http://localhost:4000/user/settings/billing"),
		PriceCreatorMonthly: env.GetEnv("STRIPE_PRICE_CREATOR_MONTHLY", ""),
		PriceCreatorYearly:  env.GetEnv("STRIPE_PRICE_CREATOR_YEARLY", ""),
		PriceStudioMonthly:  env.GetEnv("STRIPE_PRICE_STUDIO_MONTHLY", ""),
		PriceStudioYearly:   env.GetEnv("STRIPE_PRICE_STUDIO_YEARLY", ""),
		AllowMultipleActive: env.GetEnv("BILLING_ALLOW_MULTIPLE_ACTIVE", "false") == "true",
		ProductPlans:        map[string]string{},
		CreditPacks:         map[string]int64{},
	}

	for ref, plan := range map[string]string{
		cfg.PriceCreatorMonthly: string(entitlements.PlanCreator),
		cfg.PriceCreatorYearly:  string(entitlements.PlanCreator),
		cfg.PriceStudioMonthly:  string(entitlements.PlanStudio),
		cfg.PriceStudioYearly:   string(entitlements.PlanStudio),
	} {
		if ref != "" {
			cfg.ProductPlans[ref] = plan
		}
	}

	if pack := env.GetEnv("STRIPE_PRODUCT_CREDITS_100", ""); pack != "" {
		cfg.CreditPacks[pack] = 100
	}
	if pack := env.GetEnv("STRIPE_PRODUCT_CREDITS_500", ""); pack != "" {
		cfg.CreditPacks[pack] = 500
	}

	return cfg
}

// PlanForProduct resolves a provider product reference to an internal plan;
// unmapped products fall back to free.
func (c *Config) PlanForProduct(productID string) string {
	if plan, ok := c.ProductPlans[strings.TrimSpace(productID)]; ok {
		return plan
	}
	return string(entitlements.PlanFree)
}

// PackCredits returns the credits granted by a one-time product, 0 if the
// product is not a credit pack.
func (c *Config) PackCredits(productID string) int64 {
	return c.CreditPacks[strings.TrimSpace(productID)]
}

// PriceForTier returns the provider price reference for a subscription tier
// and billing cycle.
func (c *Config) PriceForTier(tier, billingCycle string) (string, bool) {
	yearly := strings.EqualFold(billingCycle, "yearly")
	switch strings.ToLower(strings.TrimSpace(tier)) {
	case string(entitlements.PlanCreator):
		if yearly {
			return c.PriceCreatorYearly, c.PriceCreatorYearly != ""
		}
		return c.PriceCreatorMonthly, c.PriceCreatorMonthly != ""
	case string(entitlements.PlanStudio):
		if yearly {
			return c.PriceStudioYearly, c.PriceStudioYearly != ""
		}
		return c.PriceStudioMonthly, c.PriceStudioMonthly != ""
	default:
		return "", false
	}
}
