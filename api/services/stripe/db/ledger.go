// Package db is the Subscription Ledger: the local, lagging projection of
// processor subscriptions plus the journal of applied webhook events.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Ledger struct {
	db *sql.DB
}

func NewLedger(db *sql.DB) *Ledger { return &Ledger{db: db} }

const recordColumns = `id, user_id, processor_subscription_id, price_id, status, current_period_start, current_period_end, created_at, updated_at`

func scanRecord(row interface{ Scan(...any) error }, extra ...any) (SubscriptionRecord, error) {
	var r SubscriptionRecord
	dest := []any{&r.ID, &r.UserID, &r.ProcessorSubscriptionID, &r.PriceID, &r.Status,
		&r.CurrentPeriodStart, &r.CurrentPeriodEnd, &r.CreatedAt, &r.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return SubscriptionRecord{}, err
	}
	return r, nil
}

// Insert writes rec unless a row for the same processor subscription id
// already exists, in which case the existing row is returned with created=false.
func (l *Ledger) Insert(ctx context.Context, rec SubscriptionRecord) (SubscriptionRecord, bool, error) {
	if !rec.Status.Valid() {
		return SubscriptionRecord{}, false, fmt.Errorf("%w: %q", ErrInvalidStatus, rec.Status)
	}
	row := l.db.QueryRowContext(ctx, `
		INSERT INTO subscriptions (id, user_id, processor_subscription_id, price_id, status, current_period_start, current_period_end)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (processor_subscription_id) DO NOTHING
		RETURNING `+recordColumns,
		rec.ID, rec.UserID, rec.ProcessorSubscriptionID, rec.PriceID, rec.Status, rec.CurrentPeriodStart, rec.CurrentPeriodEnd)
	created, err := scanRecord(row)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return SubscriptionRecord{}, false, fmt.Errorf("insert subscription: %w", err)
	}
	existing, err := l.GetByProcessorID(ctx, rec.ProcessorSubscriptionID)
	if err != nil {
		return SubscriptionRecord{}, false, err
	}
	return existing, false, nil
}

func (l *Ledger) GetByProcessorID(ctx context.Context, processorSubscriptionID string) (SubscriptionRecord, error) {
	rec, err := scanRecord(l.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM subscriptions WHERE processor_subscription_id = $1`, processorSubscriptionID))
	if errors.Is(err, sql.ErrNoRows) {
		return SubscriptionRecord{}, ErrSubscriptionNotFound
	}
	if err != nil {
		return SubscriptionRecord{}, fmt.Errorf("select subscription: %w", err)
	}
	return rec, nil
}

// LatestForUser returns the user's current subscription: the most recently
// created record.
func (l *Ledger) LatestForUser(ctx context.Context, userID string) (SubscriptionRecord, error) {
	rec, err := scanRecord(l.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM subscriptions WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return SubscriptionRecord{}, ErrSubscriptionNotFound
	}
	if err != nil {
		return SubscriptionRecord{}, fmt.Errorf("select latest subscription: %w", err)
	}
	return rec, nil
}

// SetStatus atomically applies ch to the row keyed by processorSubscriptionID.
func (l *Ledger) SetStatus(ctx context.Context, processorSubscriptionID string, ch Change) (Transition, error) {
	return update(ctx, l.db, processorSubscriptionID, ch)
}

// ApplyEvent journals ev and applies ch in one transaction. A journaled
// event id yields ErrDuplicateEvent and no write; a missing row yields
// matched=false with the event still journaled.
func (l *Ledger) ApplyEvent(ctx context.Context, ev Event, ch Change) (tr Transition, matched bool, err error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return Transition{}, false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO processor_events (event_id, event_type, processor_subscription_id)
		VALUES ($1, $2, NULLIF($3, ''))
		ON CONFLICT (event_id) DO NOTHING`,
		ev.ID, ev.Type, ev.ProcessorSubscriptionID)
	if err != nil {
		return Transition{}, false, fmt.Errorf("journal event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Transition{}, false, fmt.Errorf("journal event: %w", err)
	}
	if n == 0 {
		err = ErrDuplicateEvent
		return Transition{}, false, err
	}

	tr, err = update(ctx, tx, ev.ProcessorSubscriptionID, ch)
	switch {
	case errors.Is(err, ErrSubscriptionNotFound):
		err = nil
	case err != nil:
		return Transition{}, false, err
	default:
		matched = true
		if _, err = tx.ExecContext(ctx, `UPDATE processor_events SET matched = TRUE WHERE event_id = $1`, ev.ID); err != nil {
			return Transition{}, false, fmt.Errorf("mark event matched: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return Transition{}, false, fmt.Errorf("commit event: %w", err)
	}
	return tr, matched, nil
}

// update is a single find-one-and-update: the row is locked, its previous
// status captured and the new values written in one statement.
func update(ctx context.Context, q queryer, processorSubscriptionID string, ch Change) (Transition, error) {
	if !ch.Status.Valid() {
		return Transition{}, fmt.Errorf("%w: %q", ErrInvalidStatus, ch.Status)
	}
	var start, end sql.NullTime
	if !ch.PeriodStart.IsZero() {
		start = sql.NullTime{Time: ch.PeriodStart, Valid: true}
	}
	if !ch.PeriodEnd.IsZero() {
		end = sql.NullTime{Time: ch.PeriodEnd, Valid: true}
	}

	row := q.QueryRowContext(ctx, `
		WITH prev AS (
			SELECT id, status FROM subscriptions
			WHERE processor_subscription_id = $1
			FOR UPDATE
		)
		UPDATE subscriptions s
		SET status = $2,
			current_period_start = COALESCE($3::timestamptz, s.current_period_start),
			current_period_end = COALESCE($4::timestamptz, s.current_period_end),
			updated_at = now()
		FROM prev
		WHERE s.id = prev.id
		RETURNING s.id, s.user_id, s.processor_subscription_id, s.price_id, s.status,
			s.current_period_start, s.current_period_end, s.created_at, s.updated_at, prev.status`,
		processorSubscriptionID, ch.Status, start, end)

	var previous Status
	rec, err := scanRecord(row, &previous)
	if errors.Is(err, sql.ErrNoRows) {
		return Transition{}, ErrSubscriptionNotFound
	}
	if err != nil {
		return Transition{}, fmt.Errorf("update subscription status: %w", err)
	}
	return Transition{Previous: previous, Record: rec}, nil
}
