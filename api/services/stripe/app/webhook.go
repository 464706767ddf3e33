package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	stripe "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/tbeaudouin05/stripe-subscriptions/api/apperrors"
	stripedb "github.com/tbeaudouin05/stripe-subscriptions/api/services/stripe/db"
)

// HandleEvent verifies and applies one processor notification. A nil error
// means the event must be acknowledged.
func (s serviceImpl) HandleEvent(ctx context.Context, payload []byte, signatureHeader string) error {
	// Nothing in payload is read before the signature verifies.
	if err := webhook.ValidatePayloadWithTolerance(payload, signatureHeader, s.opts.WebhookSecret, webhook.DefaultTolerance); err != nil {
		slog.WarnContext(ctx, "rejected webhook", "err", err)
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		slog.WarnContext(ctx, "acknowledging unparseable webhook", "err", err)
		return nil
	}

	subscriptionID, ch, ok, err := changeFor(event)
	if err != nil {
		slog.WarnContext(ctx, "acknowledging malformed webhook", "event_id", event.ID, "type", event.Type, "err", err)
		return nil
	}
	if !ok {
		slog.DebugContext(ctx, "ignoring webhook", "event_id", event.ID, "type", event.Type)
		return nil
	}
	return s.applyEvent(ctx, event, subscriptionID, ch)
}

func (s serviceImpl) applyEvent(ctx context.Context, event stripe.Event, subscriptionID string, ch stripedb.Change) error {
	ev := stripedb.Event{ID: event.ID, Type: string(event.Type), ProcessorSubscriptionID: subscriptionID}
	log := slog.With("event_id", event.ID, "type", event.Type, "subscription_id", subscriptionID)

	tr, matched, err := s.ledger.ApplyEvent(ctx, ev, ch)
	switch {
	case errors.Is(err, stripedb.ErrDuplicateEvent):
		log.InfoContext(ctx, "duplicate webhook delivery")
		return nil
	case err != nil:
		log.ErrorContext(ctx, "failed to apply webhook", "err", err)
		if s.opts.RetryOnStorageError {
			return fmt.Errorf("%w: apply %s: %v", apperrors.ErrUnavailable, event.Type, err)
		}
		return nil
	case !matched:
		log.InfoContext(ctx, "no ledger record for webhook")
		return nil
	}

	if !isForward(tr.Previous, tr.Record.Status) {
		log.WarnContext(ctx, "backward subscription transition", "from", tr.Previous, "to", tr.Record.Status)
	}
	log.InfoContext(ctx, "webhook applied", "from", tr.Previous, "to", tr.Record.Status)
	return nil
}

// changeFor maps a verified event onto a ledger write. ok is false for event
// kinds or objects that do not touch the ledger.
func changeFor(event stripe.Event) (subscriptionID string, ch stripedb.Change, ok bool, err error) {
	if event.ID == "" {
		return "", ch, false, fmt.Errorf("%w: missing event id", ErrBadEvent)
	}

	switch event.Type {
	case stripe.EventTypeInvoicePaid, stripe.EventTypeInvoicePaymentFailed:
		var inv stripe.Invoice
		if err := unmarshalObject(event, &inv); err != nil {
			return "", ch, false, err
		}
		if inv.Subscription == nil || inv.Subscription.ID == "" {
			// not subscription-linked
			return "", ch, false, nil
		}
		ch.Status = stripedb.StatusActive
		if event.Type == stripe.EventTypeInvoicePaymentFailed {
			ch.Status = stripedb.StatusPastDue
		}
		return inv.Subscription.ID, ch, true, nil

	case stripe.EventTypeCustomerSubscriptionDeleted, stripe.EventTypeCustomerSubscriptionUpdated:
		var sub stripe.Subscription
		if err := unmarshalObject(event, &sub); err != nil {
			return "", ch, false, err
		}
		if sub.ID == "" {
			return "", ch, false, fmt.Errorf("%w: subscription id missing", ErrBadEvent)
		}
		ch.Status = stripedb.StatusCanceled
		if event.Type == stripe.EventTypeCustomerSubscriptionUpdated {
			status, known := localStatus(string(sub.Status))
			if !known {
				return "", ch, false, fmt.Errorf("%w: unknown subscription status %q", ErrBadEvent, sub.Status)
			}
			ch.Status = status
			ch.PeriodStart = unixTime(sub.CurrentPeriodStart)
			ch.PeriodEnd = unixTime(sub.CurrentPeriodEnd)
		}
		return sub.ID, ch, true, nil
	}
	return "", ch, false, nil
}

func unmarshalObject(event stripe.Event, v any) error {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return fmt.Errorf("%w: event data missing", ErrBadEvent)
	}
	if err := json.Unmarshal(event.Data.Raw, v); err != nil {
		return fmt.Errorf("%w: error unmarshaling %s: %v", ErrBadEvent, event.Type, err)
	}
	return nil
}

func unixTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
