package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tbeaudouin05/stripe-subscriptions/api/config"
	"github.com/tbeaudouin05/stripe-subscriptions/api/logger"
	stripeapp "github.com/tbeaudouin05/stripe-subscriptions/api/services/stripe/app"
	stripegw "github.com/tbeaudouin05/stripe-subscriptions/api/services/stripe/gateway/stripe"
)

func newSeedCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create the Basic and Pro pricing tiers in Stripe",
		Long:  `Seed creates one product and monthly price per pricing tier and prints the price ids as KEY=value lines.`,
		RunE:  runSeed,
	}
}

func runSeed(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger.Setup(cfg.LogLevel, cfg.LogFormat)

	catalog := stripegw.NewCatalog(stripegw.Config{SecretKey: cfg.StripeSecretKey})
	seeded, err := stripeapp.SeedTiers(cmd.Context(), catalog, stripeapp.DefaultTiers)
	for _, s := range seeded {
		fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", s.EnvKey, s.PriceID)
	}
	return err
}
