// Package app is the subscription reconciler: it drives the processor on the
// command path and projects processor events into the Subscription Ledger.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tbeaudouin05/stripe-subscriptions/api/apperrors"
	identitydb "github.com/tbeaudouin05/stripe-subscriptions/api/services/identity/db"
	stripedb "github.com/tbeaudouin05/stripe-subscriptions/api/services/stripe/db"
	gw "github.com/tbeaudouin05/stripe-subscriptions/api/services/stripe/gateway"
)

// Service defines the business operations for the billing domain.
type Service interface {
	EnsureCustomer(ctx context.Context, userID, name, email string) (string, error)
	AddPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error
	StartSubscription(ctx context.Context, userID, priceID string) (StartSubscriptionResponse, error)
	CancelSubscription(ctx context.Context, subscriptionID string) (stripedb.SubscriptionRecord, error)
	GetInvoices(ctx context.Context, customerID string) ([]Invoice, error)
	GetUpcomingInvoice(ctx context.Context, customerID string) (UpcomingInvoice, error)
	// GetCurrentSubscription returns nil when the customer or its subscription is unknown.
	GetCurrentSubscription(ctx context.Context, customerID string) (*stripedb.SubscriptionRecord, error)
	AuthorizeCustomer(ctx context.Context, userID, customerID string) error
	AuthorizeSubscription(ctx context.Context, userID, subscriptionID string) error
	HandleEvent(ctx context.Context, payload []byte, signatureHeader string) error
}

// Options are the billing policies fixed at startup.
type Options struct {
	WebhookSecret string
	// CancelAtPeriodEnd defers cancellation to the end of the paid period
	// instead of cancelling immediately.
	CancelAtPeriodEnd bool
	// RetryOnStorageError makes the event path report storage failures as
	// retryable instead of acknowledging them.
	RetryOnStorageError bool
	Now                 func() time.Time
}

type serviceImpl struct {
	gw     gw.StripeGateway
	ledger Ledger
	users  Customers
	opts   Options
}

func NewService(g gw.StripeGateway, ledger Ledger, users Customers, opts Options) Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return serviceImpl{gw: g, ledger: ledger, users: users, opts: opts}
}

// EnsureCustomer returns the user's processor customer id, creating and
// persisting one first if the user has none.
func (s serviceImpl) EnsureCustomer(ctx context.Context, userID, name, email string) (string, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return "", userErr(err)
	}
	if u.ProcessorCustomerID != "" {
		return u.ProcessorCustomerID, nil
	}
	if name == "" {
		name = u.Name
	}
	if email == "" {
		email = u.Email
	}

	customerID, err := s.gw.CreateCustomer(ctx, name, email, u.ID)
	if err != nil {
		return "", upstreamErr("create customer", err)
	}
	saved, err := s.users.SetCustomerID(ctx, u.ID, customerID)
	if errors.Is(err, identitydb.ErrCustomerAlreadySet) {
		slog.WarnContext(ctx, "orphaned processor customer: a concurrent request persisted another id",
			"user_id", u.ID, "orphan_customer_id", customerID, "customer_id", saved.ProcessorCustomerID)
		return saved.ProcessorCustomerID, nil
	}
	if err != nil {
		slog.ErrorContext(ctx, "consistency gap: processor customer created but not persisted",
			"user_id", u.ID, "customer_id", customerID, "err", err)
		return "", fmt.Errorf("%w: persist customer id: %v", apperrors.ErrDatabase, err)
	}
	slog.InfoContext(ctx, "processor customer created", "user_id", u.ID, "customer_id", customerID)
	return saved.ProcessorCustomerID, nil
}

// AddPaymentMethod attaches a payment method and makes it the invoice default.
func (s serviceImpl) AddPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	if customerID == "" || paymentMethodID == "" {
		return fmt.Errorf("%w: customerId and paymentMethodId are required", apperrors.ErrValidation)
	}
	if err := s.gw.AttachPaymentMethod(ctx, customerID, paymentMethodID); err != nil {
		return upstreamErr("attach payment method", err)
	}
	return nil
}

// AuthorizeCustomer fails with a permission error unless customerID belongs
// to userID. Unknown customers fail with ErrUnknownCustomer.
func (s serviceImpl) AuthorizeCustomer(ctx context.Context, userID, customerID string) error {
	u, err := s.users.GetByCustomerID(ctx, customerID)
	if errors.Is(err, identitydb.ErrUserNotFound) {
		return fmt.Errorf("%w: %s", ErrUnknownCustomer, customerID)
	}
	if err == nil && u.ID != userID {
		return fmt.Errorf("%w: customer %s", apperrors.ErrPermission, customerID)
	}
	if err != nil {
		return fmt.Errorf("%w: lookup customer: %v", apperrors.ErrDatabase, err)
	}
	return nil
}

// AuthorizeSubscription checks ownership through the ledger, falling back to
// the processor for subscriptions with no local record.
func (s serviceImpl) AuthorizeSubscription(ctx context.Context, userID, subscriptionID string) error {
	rec, err := s.ledger.GetByProcessorID(ctx, subscriptionID)
	switch {
	case err == nil:
		if rec.UserID != userID {
			return fmt.Errorf("%w: subscription %s", apperrors.ErrPermission, subscriptionID)
		}
		return nil
	case !errors.Is(err, stripedb.ErrSubscriptionNotFound):
		return fmt.Errorf("%w: lookup subscription: %v", apperrors.ErrDatabase, err)
	}

	remote, err := s.gw.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return upstreamErr("get subscription", err)
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return userErr(err)
	}
	if u.ProcessorCustomerID == "" || remote.CustomerID != u.ProcessorCustomerID {
		return fmt.Errorf("%w: subscription %s", apperrors.ErrPermission, subscriptionID)
	}
	return nil
}

func userErr(err error) error {
	if errors.Is(err, identitydb.ErrUserNotFound) {
		return fmt.Errorf("%w: user", apperrors.ErrNotFound)
	}
	return fmt.Errorf("%w: lookup user: %v", apperrors.ErrDatabase, err)
}

func upstreamErr(op string, err error) error {
	if errors.Is(err, gw.ErrNotFound) {
		return fmt.Errorf("%w: %s: %v", apperrors.ErrNotFound, op, err)
	}
	return fmt.Errorf("%w: %s: %v", apperrors.ErrUpstream, op, err)
}
