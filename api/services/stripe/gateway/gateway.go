// Package gateway defines the narrow payment-processor contract used by the
// billing service. Implementations live in subpackages.
package gateway

//go:generate mockgen -destination=mock/mock_gateway.go -package=mock github.com/tbeaudouin05/stripe-subscriptions/api/services/stripe/gateway StripeGateway

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when the processor has no such object.
	ErrNotFound = errors.New("processor object not found")
	// ErrAlreadyCanceled is returned when cancelling a subscription that is already canceled.
	ErrAlreadyCanceled = errors.New("subscription already canceled")
)

// Remote subscription statuses as reported by the processor.
const (
	StatusActive            = "active"
	StatusCanceled          = "canceled"
	StatusIncomplete        = "incomplete"
	StatusIncompleteExpired = "incomplete_expired"
	StatusPastDue           = "past_due"
	StatusPaused            = "paused"
	StatusTrialing          = "trialing"
	StatusUnpaid            = "unpaid"
)

// Subscription is the processor's view of a subscription.
type Subscription struct {
	ID                 string
	CustomerID         string
	Status             string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
	// ClientSecret is the latest invoice's payment intent secret, when expanded.
	ClientSecret string
}

// Invoice is a read-through projection of a processor invoice.
type Invoice struct {
	ID         string
	AmountDue  int64
	AmountPaid int64
	Status     string
	Created    time.Time
	PDF        string
	HostedURL  string
}

// UpcomingInvoice is the next invoice the processor will issue.
type UpcomingInvoice struct {
	AmountDue int64
	Date      time.Time
}

// StripeGateway abstracts the processor operations needed by the app layer.
// Methods return values (not pointers) and carry the caller's context.
type StripeGateway interface {
	CreateCustomer(ctx context.Context, name, email, userID string) (string, error)
	AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error
	// CreateSubscription starts a default_incomplete subscription with the
	// latest invoice's payment intent expanded.
	CreateSubscription(ctx context.Context, customerID, priceID string) (Subscription, error)
	// LatestPaymentIntentSecret returns the secret of the customer's most
	// recent payment intent still awaiting payment, if any.
	LatestPaymentIntentSecret(ctx context.Context, customerID string) (string, bool, error)
	GetSubscription(ctx context.Context, id string) (Subscription, error)
	// CancelSubscription cancels immediately, or flags cancel_at_period_end
	// when atPeriodEnd is set.
	CancelSubscription(ctx context.Context, id string, atPeriodEnd bool) (Subscription, error)
	ListInvoices(ctx context.Context, customerID string) ([]Invoice, error)
	// UpcomingInvoice reports ok=false when the processor has no upcoming invoice.
	UpcomingInvoice(ctx context.Context, customerID string) (UpcomingInvoice, bool, error)
}

// Plan is a recurring price offered as a pricing tier.
type Plan struct {
	Name       string
	UnitAmount int64
	Currency   string
	Interval   string
}

// PlanCatalog creates products and their recurring prices.
type PlanCatalog interface {
	// CreatePlan creates a product named p.Name with one recurring price and
	// returns the price id.
	CreatePlan(ctx context.Context, p Plan) (string, error)
}
