package config

import (
	"log"
	"strings"
	"time"
)

const (
	// ProdDbId is the identifier for the production database
	ProdDbId = "old-cloud"

	// TokenTTL is the lifetime of bearer tokens issued at register/login.
	TokenTTL = 30 * 24 * time.Hour

	// PlaceholderUpcomingAmount is the advisory amount (in cents) shown when the
	// processor has no upcoming invoice for a customer.
	PlaceholderUpcomingAmount = 1499

	// PlaceholderUpcomingDelay is how far ahead the advisory upcoming date is set.
	PlaceholderUpcomingDelay = 30 * 24 * time.Hour

	// BcryptCost is the work factor for password hashes.
	BcryptCost = 10
)

// CheckNotProdDB aborts immediately if the configured database URL contains ProdDbId.
// This should be called at the start of any test that interacts with the database.
func CheckNotProdDB() {
	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DatabaseURL is not configured")
	}
	if strings.Contains(cfg.DatabaseURL, ProdDbId) {
		log.Fatalf("Tests aborted: DatabaseURL contains production identifier %s", ProdDbId)
	}
}
