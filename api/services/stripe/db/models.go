package db

import (
	"errors"
	"time"
)

// Status is the local projection of the processor's subscription status.
type Status string

const (
	StatusIncomplete Status = "incomplete"
	StatusActive     Status = "active"
	StatusCanceled   Status = "canceled"
	StatusPastDue    Status = "past_due"
)

func (s Status) Valid() bool {
	switch s {
	case StatusIncomplete, StatusActive, StatusCanceled, StatusPastDue:
		return true
	}
	return false
}

var (
	// ErrSubscriptionNotFound is returned when no record matches the lookup.
	ErrSubscriptionNotFound = errors.New("subscription not found")
	// ErrDuplicateEvent is returned when a webhook event id was already journaled.
	ErrDuplicateEvent = errors.New("event already processed")
	// ErrInvalidStatus is returned when writing a status outside the enum.
	ErrInvalidStatus = errors.New("invalid subscription status")
)

// SubscriptionRecord is one row of the Subscription Ledger.
type SubscriptionRecord struct {
	ID                      string    `json:"id"`
	UserID                  string    `json:"userId"`
	ProcessorSubscriptionID string    `json:"stripeSubscriptionId"`
	PriceID                 string    `json:"stripePriceId"`
	Status                  Status    `json:"status"`
	CurrentPeriodStart      time.Time `json:"currentPeriodStart"`
	CurrentPeriodEnd        time.Time `json:"currentPeriodEnd"`
	CreatedAt               time.Time `json:"createdAt"`
	UpdatedAt               time.Time `json:"updatedAt"`
}

// Event identifies a processor notification for the journal.
type Event struct {
	ID                      string
	Type                    string
	ProcessorSubscriptionID string
}

// Change is a status write; zero period bounds leave the stored ones intact.
type Change struct {
	Status      Status
	PeriodStart time.Time
	PeriodEnd   time.Time
}

// Transition is the outcome of a status write.
type Transition struct {
	Previous Status
	Record   SubscriptionRecord
}
