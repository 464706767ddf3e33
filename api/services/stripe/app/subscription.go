package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/tbeaudouin05/stripe-subscriptions/api/apperrors"
	"github.com/tbeaudouin05/stripe-subscriptions/api/config"
	identitydb "github.com/tbeaudouin05/stripe-subscriptions/api/services/identity/db"
	stripedb "github.com/tbeaudouin05/stripe-subscriptions/api/services/stripe/db"
	gw "github.com/tbeaudouin05/stripe-subscriptions/api/services/stripe/gateway"
)

// StartSubscription creates an incomplete remote subscription and records it
// locally as incomplete. The event path flips it to active once paid.
func (s serviceImpl) StartSubscription(ctx context.Context, userID, priceID string) (StartSubscriptionResponse, error) {
	if priceID == "" {
		return StartSubscriptionResponse{}, fmt.Errorf("%w: priceId is required", apperrors.ErrValidation)
	}
	// The customer id is persisted before the remote subscription exists.
	customerID, err := s.EnsureCustomer(ctx, userID, "", "")
	if err != nil {
		return StartSubscriptionResponse{}, err
	}

	sub, err := s.gw.CreateSubscription(ctx, customerID, priceID)
	if err != nil {
		return StartSubscriptionResponse{}, upstreamErr("create subscription", err)
	}

	secret := sub.ClientSecret
	if secret == "" {
		var ok bool
		secret, ok, err = s.gw.LatestPaymentIntentSecret(ctx, customerID)
		if err != nil {
			return StartSubscriptionResponse{}, upstreamErr("list payment intents", err)
		}
		if !ok {
			slog.WarnContext(ctx, "remote subscription has no client secret",
				"user_id", userID, "subscription_id", sub.ID)
			return StartSubscriptionResponse{}, ErrClientSecretUnavailable
		}
	}

	start, end := sub.CurrentPeriodStart, sub.CurrentPeriodEnd
	if start.IsZero() {
		start = s.opts.Now().UTC()
	}
	if end.IsZero() {
		end = start.Add(defaultPeriod)
	}
	_, _, err = s.ledger.Insert(ctx, stripedb.SubscriptionRecord{
		ID:                      uuid.NewString(),
		UserID:                  userID,
		ProcessorSubscriptionID: sub.ID,
		PriceID:                 priceID,
		Status:                  stripedb.StatusIncomplete,
		CurrentPeriodStart:      start,
		CurrentPeriodEnd:        end,
	})
	if err != nil {
		slog.ErrorContext(ctx, "consistency gap: remote subscription created but not recorded",
			"user_id", userID, "subscription_id", sub.ID, "err", err)
		return StartSubscriptionResponse{}, fmt.Errorf("%w: record subscription: %v", apperrors.ErrDatabase, err)
	}

	slog.InfoContext(ctx, "subscription started", "user_id", userID, "subscription_id", sub.ID, "price_id", priceID)
	return StartSubscriptionResponse{SubscriptionID: sub.ID, ClientSecret: secret}, nil
}

// CancelSubscription cancels remotely, then marks the local record canceled.
// Cancelling twice succeeds both times.
func (s serviceImpl) CancelSubscription(ctx context.Context, subscriptionID string) (stripedb.SubscriptionRecord, error) {
	if subscriptionID == "" {
		return stripedb.SubscriptionRecord{}, fmt.Errorf("%w: subscriptionId is required", apperrors.ErrValidation)
	}

	remote, err := s.gw.CancelSubscription(ctx, subscriptionID, s.opts.CancelAtPeriodEnd)
	alreadyCanceled := errors.Is(err, gw.ErrAlreadyCanceled)
	if err != nil && !alreadyCanceled {
		return stripedb.SubscriptionRecord{}, upstreamErr("cancel subscription", err)
	}
	if alreadyCanceled {
		slog.InfoContext(ctx, "subscription already canceled remotely", "subscription_id", subscriptionID)
	}

	if s.opts.CancelAtPeriodEnd && !alreadyCanceled && remote.Status != gw.StatusCanceled {
		// The deletion event flips the record when the period ends.
		rec, err := s.ledger.GetByProcessorID(ctx, subscriptionID)
		if errors.Is(err, stripedb.ErrSubscriptionNotFound) {
			slog.WarnContext(ctx, "orphan cancellation: no local record", "subscription_id", subscriptionID)
			return s.synthesized(subscriptionID, remote, stripedb.StatusActive), nil
		}
		if err != nil {
			return stripedb.SubscriptionRecord{}, fmt.Errorf("%w: lookup subscription: %v", apperrors.ErrDatabase, err)
		}
		return rec, nil
	}

	tr, err := s.ledger.SetStatus(ctx, subscriptionID, stripedb.Change{Status: stripedb.StatusCanceled})
	if errors.Is(err, stripedb.ErrSubscriptionNotFound) {
		slog.WarnContext(ctx, "orphan cancellation: no local record", "subscription_id", subscriptionID)
		return s.synthesized(subscriptionID, remote, stripedb.StatusCanceled), nil
	}
	if err != nil {
		slog.ErrorContext(ctx, "consistency gap: remote subscription canceled but not recorded",
			"subscription_id", subscriptionID, "err", err)
		return stripedb.SubscriptionRecord{}, fmt.Errorf("%w: record cancellation: %v", apperrors.ErrDatabase, err)
	}
	slog.InfoContext(ctx, "subscription canceled", "subscription_id", subscriptionID, "previous_status", tr.Previous)
	return tr.Record, nil
}

// synthesized builds an unpersisted record for a subscription the ledger never saw.
func (s serviceImpl) synthesized(subscriptionID string, remote gw.Subscription, status stripedb.Status) stripedb.SubscriptionRecord {
	now := s.opts.Now().UTC()
	return stripedb.SubscriptionRecord{
		ProcessorSubscriptionID: subscriptionID,
		Status:                  status,
		CurrentPeriodStart:      remote.CurrentPeriodStart,
		CurrentPeriodEnd:        remote.CurrentPeriodEnd,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
}

// GetInvoices reads through to the processor, newest first.
func (s serviceImpl) GetInvoices(ctx context.Context, customerID string) ([]Invoice, error) {
	remote, err := s.gw.ListInvoices(ctx, customerID)
	if err != nil {
		return nil, upstreamErr("list invoices", err)
	}
	invoices := make([]Invoice, 0, len(remote))
	for _, inv := range remote {
		invoices = append(invoices, Invoice{
			ID:        inv.ID,
			Amount:    inv.AmountPaid,
			Status:    inv.Status,
			Date:      inv.Created,
			PDF:       inv.PDF,
			HostedURL: inv.HostedURL,
		})
	}
	slices.SortStableFunc(invoices, func(a, b Invoice) int { return b.Date.Compare(a.Date) })
	return invoices, nil
}

// GetUpcomingInvoice returns the processor's next invoice, or an advisory
// placeholder when there is none.
func (s serviceImpl) GetUpcomingInvoice(ctx context.Context, customerID string) (UpcomingInvoice, error) {
	up, ok, err := s.gw.UpcomingInvoice(ctx, customerID)
	if err != nil {
		return UpcomingInvoice{}, upstreamErr("upcoming invoice", err)
	}
	if !ok {
		return UpcomingInvoice{
			Amount:      config.PlaceholderUpcomingAmount,
			Date:        s.opts.Now().UTC().Add(config.PlaceholderUpcomingDelay),
			Placeholder: true,
		}, nil
	}
	return UpcomingInvoice{Amount: up.AmountDue, Date: up.Date}, nil
}

func (s serviceImpl) GetCurrentSubscription(ctx context.Context, customerID string) (*stripedb.SubscriptionRecord, error) {
	u, err := s.users.GetByCustomerID(ctx, customerID)
	if errors.Is(err, identitydb.ErrUserNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: lookup customer: %v", apperrors.ErrDatabase, err)
	}
	rec, err := s.ledger.LatestForUser(ctx, u.ID)
	if errors.Is(err, stripedb.ErrSubscriptionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: lookup subscription: %v", apperrors.ErrDatabase, err)
	}
	return &rec, nil
}
