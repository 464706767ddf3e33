package stripegw

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	stripe "github.com/stripe/stripe-go/v76"
	sc "github.com/stripe/stripe-go/v76/client"

	gw "github.com/tbeaudouin05/stripe-subscriptions/api/services/stripe/gateway"
)

// paymentIntentScanLimit bounds how many recent payment intents are inspected
// when looking for an in-flight client secret.
const paymentIntentScanLimit = 5

// Config configures the SDK-backed gateway.
type Config struct {
	SecretKey string
	// BaseURL overrides the API endpoint (tests point it at an httptest server).
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// client is the Stripe SDK-backed implementation of the gateway. It owns its
// own API client instead of the SDK's package-level key.
type client struct {
	api *sc.API
}

// New returns a StripeGateway backed by the official Stripe SDK. Network
// retries are disabled; callers decide whether to retry.
func New(cfg Config) gw.StripeGateway { return newClient(cfg) }

// NewCatalog returns a PlanCatalog sharing New's SDK configuration.
func NewCatalog(cfg Config) gw.PlanCatalog { return newClient(cfg) }

func newClient(cfg Config) client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	backend := func(t stripe.SupportedBackend) stripe.Backend {
		bc := &stripe.BackendConfig{
			HTTPClient:        cfg.HTTPClient,
			LeveledLogger:     leveledLogger{logger: logger.With("component", "stripe")},
			MaxNetworkRetries: stripe.Int64(0),
		}
		if cfg.BaseURL != "" {
			bc.URL = stripe.String(cfg.BaseURL)
		}
		return stripe.GetBackendWithConfig(t, bc)
	}
	return client{api: sc.New(cfg.SecretKey, &stripe.Backends{
		API:     backend(stripe.APIBackend),
		Connect: backend(stripe.ConnectBackend),
		Uploads: backend(stripe.UploadsBackend),
	})}
}

func (c client) CreateCustomer(ctx context.Context, name, email, userID string) (string, error) {
	params := &stripe.CustomerParams{
		Params: stripe.Params{Context: ctx},
		Name:   stripe.String(name),
		Email:  stripe.String(email),
	}
	params.AddMetadata("user_id", userID)
	cust, err := c.api.Customers.New(params)
	if err != nil {
		return "", mapErr("create customer", err)
	}
	return cust.ID, nil
}

func (c client) AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	_, err := c.api.PaymentMethods.Attach(paymentMethodID, &stripe.PaymentMethodAttachParams{
		Params:   stripe.Params{Context: ctx},
		Customer: stripe.String(customerID),
	})
	if err != nil {
		return mapErr("attach payment method", err)
	}
	_, err = c.api.Customers.Update(customerID, &stripe.CustomerParams{
		Params: stripe.Params{Context: ctx},
		InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(paymentMethodID),
		},
	})
	if err != nil {
		return mapErr("set default payment method", err)
	}
	return nil
}

func (c client) CreateSubscription(ctx context.Context, customerID, priceID string) (gw.Subscription, error) {
	params := &stripe.SubscriptionParams{
		Params:   stripe.Params{Context: ctx},
		Customer: stripe.String(customerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(priceID)},
		},
		PaymentBehavior: stripe.String("default_incomplete"),
		PaymentSettings: &stripe.SubscriptionPaymentSettingsParams{
			SaveDefaultPaymentMethod: stripe.String("on_subscription"),
		},
	}
	params.AddExpand("latest_invoice.payment_intent")
	s, err := c.api.Subscriptions.New(params)
	if err != nil {
		return gw.Subscription{}, mapErr("create subscription", err)
	}
	return toSubscription(s), nil
}

func (c client) LatestPaymentIntentSecret(ctx context.Context, customerID string) (string, bool, error) {
	params := &stripe.PaymentIntentListParams{
		ListParams: stripe.ListParams{
			Context: ctx,
			Limit:   stripe.Int64(paymentIntentScanLimit),
			Single:  true,
		},
		Customer: stripe.String(customerID),
	}
	it := c.api.PaymentIntents.List(params)
	for it.Next() {
		pi := it.PaymentIntent()
		if inFlight(pi.Status) && pi.ClientSecret != "" {
			return pi.ClientSecret, true, nil
		}
	}
	if err := it.Err(); err != nil {
		return "", false, mapErr("list payment intents", err)
	}
	return "", false, nil
}

func inFlight(s stripe.PaymentIntentStatus) bool {
	switch s {
	case stripe.PaymentIntentStatusRequiresPaymentMethod,
		stripe.PaymentIntentStatusRequiresConfirmation,
		stripe.PaymentIntentStatusRequiresAction:
		return true
	}
	return false
}

func (c client) GetSubscription(ctx context.Context, id string) (gw.Subscription, error) {
	s, err := c.api.Subscriptions.Get(id, &stripe.SubscriptionParams{Params: stripe.Params{Context: ctx}})
	if err != nil {
		return gw.Subscription{}, mapErr("get subscription", err)
	}
	return toSubscription(s), nil
}

func (c client) CancelSubscription(ctx context.Context, id string, atPeriodEnd bool) (gw.Subscription, error) {
	var (
		s   *stripe.Subscription
		err error
	)
	if atPeriodEnd {
		s, err = c.api.Subscriptions.Update(id, &stripe.SubscriptionParams{
			Params:            stripe.Params{Context: ctx},
			CancelAtPeriodEnd: stripe.Bool(true),
		})
	} else {
		s, err = c.api.Subscriptions.Cancel(id, &stripe.SubscriptionCancelParams{Params: stripe.Params{Context: ctx}})
	}
	if err == nil {
		return toSubscription(s), nil
	}

	mapped := mapErr("cancel subscription", err)
	if errors.Is(mapped, gw.ErrNotFound) {
		return gw.Subscription{}, mapped
	}
	// The processor rejects cancelling a canceled subscription; confirm the
	// remote state before reporting a failure.
	current, getErr := c.GetSubscription(ctx, id)
	if getErr == nil && current.Status == gw.StatusCanceled {
		return current, gw.ErrAlreadyCanceled
	}
	return gw.Subscription{}, mapped
}

func (c client) ListInvoices(ctx context.Context, customerID string) ([]gw.Invoice, error) {
	params := &stripe.InvoiceListParams{
		ListParams: stripe.ListParams{Context: ctx},
		Customer:   stripe.String(customerID),
	}
	invoices := []gw.Invoice{}
	it := c.api.Invoices.List(params)
	for it.Next() {
		inv := it.Invoice()
		invoices = append(invoices, gw.Invoice{
			ID:         inv.ID,
			AmountDue:  inv.AmountDue,
			AmountPaid: inv.AmountPaid,
			Status:     string(inv.Status),
			Created:    time.Unix(inv.Created, 0).UTC(),
			PDF:        inv.InvoicePDF,
			HostedURL:  inv.HostedInvoiceURL,
		})
	}
	if err := it.Err(); err != nil {
		return nil, mapErr("list invoices", err)
	}
	return invoices, nil
}

func (c client) UpcomingInvoice(ctx context.Context, customerID string) (gw.UpcomingInvoice, bool, error) {
	inv, err := c.api.Invoices.Upcoming(&stripe.InvoiceUpcomingParams{
		Params:   stripe.Params{Context: ctx},
		Customer: stripe.String(customerID),
	})
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && se.Code == stripe.ErrorCodeInvoiceUpcomingNone {
			return gw.UpcomingInvoice{}, false, nil
		}
		return gw.UpcomingInvoice{}, false, mapErr("upcoming invoice", err)
	}
	return gw.UpcomingInvoice{
		AmountDue: inv.AmountDue,
		Date:      time.Unix(inv.PeriodEnd, 0).UTC(),
	}, true, nil
}

func toSubscription(s *stripe.Subscription) gw.Subscription {
	if s == nil {
		return gw.Subscription{}
	}
	out := gw.Subscription{
		ID:                s.ID,
		Status:            string(s.Status),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
	}
	if s.CurrentPeriodStart > 0 {
		out.CurrentPeriodStart = time.Unix(s.CurrentPeriodStart, 0).UTC()
	}
	if s.CurrentPeriodEnd > 0 {
		out.CurrentPeriodEnd = time.Unix(s.CurrentPeriodEnd, 0).UTC()
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	if s.LatestInvoice != nil && s.LatestInvoice.PaymentIntent != nil {
		out.ClientSecret = s.LatestInvoice.PaymentIntent.ClientSecret
	}
	return out
}

func (c client) CreatePlan(ctx context.Context, p gw.Plan) (string, error) {
	product, err := c.api.Products.New(&stripe.ProductParams{
		Params: stripe.Params{Context: ctx},
		Name:   stripe.String(p.Name),
	})
	if err != nil {
		return "", mapErr("create product", err)
	}
	price, err := c.api.Prices.New(&stripe.PriceParams{
		Params:     stripe.Params{Context: ctx},
		Product:    stripe.String(product.ID),
		UnitAmount: stripe.Int64(p.UnitAmount),
		Currency:   stripe.String(p.Currency),
		Recurring: &stripe.PriceRecurringParams{
			Interval: stripe.String(p.Interval),
		},
	})
	if err != nil {
		return "", mapErr("create price", err)
	}
	return price.ID, nil
}

// mapErr translates SDK errors into gateway sentinels where one applies.
func mapErr(op string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) && se.Code == stripe.ErrorCodeResourceMissing {
		return fmt.Errorf("%w: %s: %v", gw.ErrNotFound, op, se.Msg)
	}
	return fmt.Errorf("%s: %w", op, err)
}
