package app

import (
	"context"
	"time"

	identitydb "github.com/tbeaudouin05/stripe-subscriptions/api/services/identity/db"
	stripedb "github.com/tbeaudouin05/stripe-subscriptions/api/services/stripe/db"
)

// Ledger is the Subscription Ledger as used by the reconciler.
type Ledger interface {
	Insert(ctx context.Context, rec stripedb.SubscriptionRecord) (stripedb.SubscriptionRecord, bool, error)
	GetByProcessorID(ctx context.Context, processorSubscriptionID string) (stripedb.SubscriptionRecord, error)
	LatestForUser(ctx context.Context, userID string) (stripedb.SubscriptionRecord, error)
	SetStatus(ctx context.Context, processorSubscriptionID string, ch stripedb.Change) (stripedb.Transition, error)
	ApplyEvent(ctx context.Context, ev stripedb.Event, ch stripedb.Change) (stripedb.Transition, bool, error)
}

// Customers is the part of the Identity Store the reconciler reads, plus the
// single field it is allowed to write.
type Customers interface {
	GetByID(ctx context.Context, id string) (identitydb.User, error)
	GetByCustomerID(ctx context.Context, customerID string) (identitydb.User, error)
	SetCustomerID(ctx context.Context, userID, customerID string) (identitydb.User, error)
}

// Request bodies of the billing endpoints.
type CreateCustomerInput struct {
	Name   string `json:"name" validate:"max=100"`
	Email  string `json:"email" validate:"omitempty,email"`
	UserID string `json:"userId"`
}

type AddPaymentMethodInput struct {
	PaymentMethodID string `json:"paymentMethodId" validate:"required"`
	CustomerID      string `json:"customerId" validate:"required"`
}

// CreateSubscriptionInput starts a subscription. CustomerID is optional:
// without it the caller's customer is created on first use.
type CreateSubscriptionInput struct {
	CustomerID string `json:"customerId"`
	PriceID    string `json:"priceId" validate:"required"`
}

type CancelSubscriptionInput struct {
	SubscriptionID string `json:"subscriptionId" validate:"required"`
}

// StartSubscriptionResponse carries what the UI needs to confirm payment.
type StartSubscriptionResponse struct {
	SubscriptionID string `json:"subscriptionId"`
	ClientSecret   string `json:"clientSecret"`
}

type Invoice struct {
	ID        string    `json:"id"`
	Amount    int64     `json:"amount"`
	Status    string    `json:"status"`
	Date      time.Time `json:"date"`
	PDF       string    `json:"pdf"`
	HostedURL string    `json:"hosted_url"`
}

// UpcomingInvoice is advisory when Placeholder is set.
type UpcomingInvoice struct {
	Amount      int64     `json:"amount"`
	Date        time.Time `json:"date"`
	Placeholder bool      `json:"placeholder"`
}
