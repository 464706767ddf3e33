// Package bootstrap builds the process object graph from a loaded Config.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"google.golang.org/grpc"

	"github.com/tbeaudouin05/stripe-subscriptions/api/config"
	"github.com/tbeaudouin05/stripe-subscriptions/api/database"
	"github.com/tbeaudouin05/stripe-subscriptions/api/grpcserver"
	"github.com/tbeaudouin05/stripe-subscriptions/api/router"
	"github.com/tbeaudouin05/stripe-subscriptions/api/services/auth"
	identityapp "github.com/tbeaudouin05/stripe-subscriptions/api/services/identity/app"
	identitydb "github.com/tbeaudouin05/stripe-subscriptions/api/services/identity/db"
	stripeapp "github.com/tbeaudouin05/stripe-subscriptions/api/services/stripe/app"
	stripedb "github.com/tbeaudouin05/stripe-subscriptions/api/services/stripe/db"
	stripegw "github.com/tbeaudouin05/stripe-subscriptions/api/services/stripe/gateway/stripe"
)

// App holds the wired services of one process.
type App struct {
	DB      *sql.DB
	Handler http.Handler
	Health  *grpcserver.Server

	Identity identityapp.Service
	Billing  stripeapp.Service

	healthConn *grpc.ClientConn
}

// New opens the database and wires stores, gateway, services and the HTTP
// router. The returned App must be closed.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: nil config")
	}
	db, err := database.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	users := identitydb.NewStore(db)
	ledger := stripedb.NewLedger(db)
	provider := auth.NewProvider(cfg.JWTSecret, config.TokenTTL, config.BcryptCost)

	gateway := stripegw.New(stripegw.Config{
		SecretKey: cfg.StripeSecretKey,
		Logger:    slog.Default(),
	})

	app := &App{
		DB:       db,
		Health:   grpcserver.New(db),
		Identity: identityapp.NewService(users, provider),
		Billing: stripeapp.NewService(gateway, ledger, users, stripeapp.Options{
			WebhookSecret:       cfg.StripeWebhookSecret,
			CancelAtPeriodEnd:   cfg.CancelAtPeriodEnd,
			RetryOnStorageError: cfg.WebhookRetryOnStorageError,
		}),
	}

	// /healthz asks the in-process gRPC health service over its own port.
	healthClient, conn, err := grpcserver.DialHealth("localhost:" + cfg.GRPCPort)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to dial health service: %w", err)
	}
	app.healthConn = conn

	app.Handler = router.NewRouter(router.Deps{
		Identity: app.Identity,
		Billing:  app.Billing,
		Guard:    auth.NewGuard(provider),
		Health:   healthClient,
	})

	slog.Info("application initialized",
		"cancel_at_period_end", cfg.CancelAtPeriodEnd,
		"webhook_retry_on_storage_error", cfg.WebhookRetryOnStorageError)
	return app, nil
}

// Close releases the health client connection and the database pool.
func (a *App) Close() error {
	var errs []error
	if a.healthConn != nil {
		errs = append(errs, a.healthConn.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
