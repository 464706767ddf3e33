package app

import (
	"context"
	"log/slog"

	gw "github.com/tbeaudouin05/stripe-subscriptions/api/services/stripe/gateway"
)

// Tier is a pricing tier and the environment variable its price id is published under.
type Tier struct {
	EnvKey string
	Plan   gw.Plan
}

// DefaultTiers are the Basic and Pro monthly plans.
var DefaultTiers = []Tier{
	{EnvKey: "BASIC_PRICE_ID", Plan: gw.Plan{Name: "Basic Plan", UnitAmount: 900, Currency: "usd", Interval: "month"}},
	{EnvKey: "PRO_PRICE_ID", Plan: gw.Plan{Name: "Pro Plan", UnitAmount: 2900, Currency: "usd", Interval: "month"}},
}

// SeededTier is a tier created on the processor.
type SeededTier struct {
	Tier
	PriceID string
}

// SeedTiers creates every tier in order and stops at the first failure,
// returning the tiers created so far.
func SeedTiers(ctx context.Context, catalog gw.PlanCatalog, tiers []Tier) ([]SeededTier, error) {
	seeded := make([]SeededTier, 0, len(tiers))
	for _, t := range tiers {
		priceID, err := catalog.CreatePlan(ctx, t.Plan)
		if err != nil {
			return seeded, upstreamErr("seed "+t.Plan.Name, err)
		}
		slog.InfoContext(ctx, "pricing tier created", "plan", t.Plan.Name, "price_id", priceID)
		seeded = append(seeded, SeededTier{Tier: t, PriceID: priceID})
	}
	return seeded, nil
}
