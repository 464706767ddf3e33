package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"

	identitydb "github.com/tbeaudouin05/stripe-subscriptions/api/services/identity/db"
	stripedb "github.com/tbeaudouin05/stripe-subscriptions/api/services/stripe/db"
	"github.com/tbeaudouin05/stripe-subscriptions/api/services/stripe/gateway/mock"
)

var fixedNow = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

const testWebhookSecret = "whsec_test_secret"

// fakeLedger mirrors the SQL ledger's semantics in memory.
type fakeLedger struct {
	mu      sync.Mutex
	rows    map[string]stripedb.SubscriptionRecord
	order   []string
	journal map[string]bool
	// failWith, when set, is returned by every write.
	failWith error
	writes   int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{rows: map[string]stripedb.SubscriptionRecord{}, journal: map[string]bool{}}
}

func (f *fakeLedger) Insert(_ context.Context, rec stripedb.SubscriptionRecord) (stripedb.SubscriptionRecord, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return stripedb.SubscriptionRecord{}, false, f.failWith
	}
	if existing, ok := f.rows[rec.ProcessorSubscriptionID]; ok {
		return existing, false, nil
	}
	f.writes++
	rec.CreatedAt = fixedNow.Add(time.Duration(len(f.order)) * time.Second)
	rec.UpdatedAt = rec.CreatedAt
	f.rows[rec.ProcessorSubscriptionID] = rec
	f.order = append(f.order, rec.ProcessorSubscriptionID)
	return rec, true, nil
}

func (f *fakeLedger) GetByProcessorID(_ context.Context, id string) (stripedb.SubscriptionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.rows[id]
	if !ok {
		return stripedb.SubscriptionRecord{}, stripedb.ErrSubscriptionNotFound
	}
	return rec, nil
}

func (f *fakeLedger) LatestForUser(_ context.Context, userID string) (stripedb.SubscriptionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.order) - 1; i >= 0; i-- {
		if rec := f.rows[f.order[i]]; rec.UserID == userID {
			return rec, nil
		}
	}
	return stripedb.SubscriptionRecord{}, stripedb.ErrSubscriptionNotFound
}

func (f *fakeLedger) SetStatus(_ context.Context, id string, ch stripedb.Change) (stripedb.Transition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return stripedb.Transition{}, f.failWith
	}
	return f.update(id, ch)
}

func (f *fakeLedger) ApplyEvent(_ context.Context, ev stripedb.Event, ch stripedb.Change) (stripedb.Transition, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return stripedb.Transition{}, false, f.failWith
	}
	if f.journal[ev.ID] {
		return stripedb.Transition{}, false, stripedb.ErrDuplicateEvent
	}
	f.journal[ev.ID] = true
	tr, err := f.update(ev.ProcessorSubscriptionID, ch)
	if err == stripedb.ErrSubscriptionNotFound {
		return stripedb.Transition{}, false, nil
	}
	return tr, err == nil, err
}

func (f *fakeLedger) update(id string, ch stripedb.Change) (stripedb.Transition, error) {
	rec, ok := f.rows[id]
	if !ok {
		return stripedb.Transition{}, stripedb.ErrSubscriptionNotFound
	}
	f.writes++
	prev := rec.Status
	rec.Status = ch.Status
	if !ch.PeriodStart.IsZero() {
		rec.CurrentPeriodStart = ch.PeriodStart
	}
	if !ch.PeriodEnd.IsZero() {
		rec.CurrentPeriodEnd = ch.PeriodEnd
	}
	f.rows[id] = rec
	return stripedb.Transition{Previous: prev, Record: rec}, nil
}

func (f *fakeLedger) status(id string) stripedb.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[id].Status
}

func (f *fakeLedger) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

// fakeCustomers is an in-memory Identity Store with set-once customer ids.
type fakeCustomers struct {
	mu    sync.Mutex
	users map[string]identitydb.User
}

func newFakeCustomers(users ...identitydb.User) *fakeCustomers {
	f := &fakeCustomers{users: map[string]identitydb.User{}}
	for _, u := range users {
		f.users[u.ID] = u
	}
	return f
}

func (f *fakeCustomers) GetByID(_ context.Context, id string) (identitydb.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return identitydb.User{}, identitydb.ErrUserNotFound
	}
	return u, nil
}

func (f *fakeCustomers) GetByCustomerID(_ context.Context, customerID string) (identitydb.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if customerID != "" && u.ProcessorCustomerID == customerID {
			return u, nil
		}
	}
	return identitydb.User{}, identitydb.ErrUserNotFound
}

func (f *fakeCustomers) SetCustomerID(_ context.Context, userID, customerID string) (identitydb.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return identitydb.User{}, identitydb.ErrUserNotFound
	}
	if u.ProcessorCustomerID != "" && u.ProcessorCustomerID != customerID {
		return u, identitydb.ErrCustomerAlreadySet
	}
	u.ProcessorCustomerID = customerID
	f.users[userID] = u
	return u, nil
}

type fixture struct {
	svc    Service
	gw     *mock.MockStripeGateway
	ledger *fakeLedger
	users  *fakeCustomers
}

func newFixture(t *testing.T, opts Options, users ...identitydb.User) fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := fixture{
		gw:     mock.NewMockStripeGateway(ctrl),
		ledger: newFakeLedger(),
		users:  newFakeCustomers(users...),
	}
	if opts.WebhookSecret == "" {
		opts.WebhookSecret = testWebhookSecret
	}
	opts.Now = func() time.Time { return fixedNow }
	f.svc = NewService(f.gw, f.ledger, f.users, opts)
	return f
}

func ann() identitydb.User {
	return identitydb.User{ID: "user-ann", Name: "Ann", Email: "ann@x.com", PasswordHash: "hash"}
}

func annWithCustomer() identitydb.User {
	u := ann()
	u.ProcessorCustomerID = "cus_ann"
	return u
}

func seedRecord(t *testing.T, l *fakeLedger, userID, subID string, status stripedb.Status) {
	t.Helper()
	_, _, err := l.Insert(context.Background(), stripedb.SubscriptionRecord{
		ID: "rec-" + subID, UserID: userID, ProcessorSubscriptionID: subID, PriceID: "price_basic",
		Status: status, CurrentPeriodStart: fixedNow, CurrentPeriodEnd: fixedNow.Add(defaultPeriod),
	})
	if err != nil {
		t.Fatalf("seed record: %v", err)
	}
}
