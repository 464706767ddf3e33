package router

import (
	"context"
	"strings"
	"sync"
	"time"

	identitydb "github.com/tbeaudouin05/stripe-subscriptions/api/services/identity/db"
	stripedb "github.com/tbeaudouin05/stripe-subscriptions/api/services/stripe/db"
)

// memUsers backs both the identity service and the billing service.
type memUsers struct {
	mu    sync.Mutex
	users map[string]identitydb.User
}

func newMemUsers() *memUsers { return &memUsers{users: map[string]identitydb.User{}} }

func (m *memUsers) Create(_ context.Context, u identitydb.User) (identitydb.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return identitydb.User{}, identitydb.ErrEmailTaken
		}
	}
	u.CreatedAt, u.UpdatedAt = time.Now(), time.Now()
	m.users[u.ID] = u
	return u, nil
}

func (m *memUsers) find(match func(identitydb.User) bool) (identitydb.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if match(u) {
			return u, nil
		}
	}
	return identitydb.User{}, identitydb.ErrUserNotFound
}

func (m *memUsers) GetByID(_ context.Context, id string) (identitydb.User, error) {
	return m.find(func(u identitydb.User) bool { return u.ID == id })
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (identitydb.User, error) {
	return m.find(func(u identitydb.User) bool { return u.Email == email })
}

func (m *memUsers) GetByCustomerID(_ context.Context, customerID string) (identitydb.User, error) {
	return m.find(func(u identitydb.User) bool { return customerID != "" && u.ProcessorCustomerID == customerID })
}

func (m *memUsers) SetCustomerID(_ context.Context, userID, customerID string) (identitydb.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return identitydb.User{}, identitydb.ErrUserNotFound
	}
	if u.ProcessorCustomerID != "" && u.ProcessorCustomerID != customerID {
		return u, identitydb.ErrCustomerAlreadySet
	}
	u.ProcessorCustomerID = customerID
	m.users[userID] = u
	return u, nil
}

type memLedger struct {
	mu      sync.Mutex
	rows    map[string]stripedb.SubscriptionRecord
	journal map[string]bool
	seq     int
}

func newMemLedger() *memLedger {
	return &memLedger{rows: map[string]stripedb.SubscriptionRecord{}, journal: map[string]bool{}}
}

func (m *memLedger) Insert(_ context.Context, rec stripedb.SubscriptionRecord) (stripedb.SubscriptionRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.rows[rec.ProcessorSubscriptionID]; ok {
		return existing, false, nil
	}
	m.seq++
	rec.CreatedAt = time.Unix(int64(m.seq), 0)
	m.rows[rec.ProcessorSubscriptionID] = rec
	return rec, true, nil
}

func (m *memLedger) GetByProcessorID(_ context.Context, id string) (stripedb.SubscriptionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[id]
	if !ok {
		return stripedb.SubscriptionRecord{}, stripedb.ErrSubscriptionNotFound
	}
	return rec, nil
}

func (m *memLedger) LatestForUser(_ context.Context, userID string) (stripedb.SubscriptionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *stripedb.SubscriptionRecord
	for _, rec := range m.rows {
		if rec.UserID == userID && (latest == nil || rec.CreatedAt.After(latest.CreatedAt)) {
			r := rec
			latest = &r
		}
	}
	if latest == nil {
		return stripedb.SubscriptionRecord{}, stripedb.ErrSubscriptionNotFound
	}
	return *latest, nil
}

func (m *memLedger) SetStatus(_ context.Context, id string, ch stripedb.Change) (stripedb.Transition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[id]
	if !ok {
		return stripedb.Transition{}, stripedb.ErrSubscriptionNotFound
	}
	prev := rec.Status
	rec.Status = ch.Status
	m.rows[id] = rec
	return stripedb.Transition{Previous: prev, Record: rec}, nil
}

func (m *memLedger) ApplyEvent(ctx context.Context, ev stripedb.Event, ch stripedb.Change) (stripedb.Transition, bool, error) {
	m.mu.Lock()
	if m.journal[ev.ID] {
		m.mu.Unlock()
		return stripedb.Transition{}, false, stripedb.ErrDuplicateEvent
	}
	m.journal[ev.ID] = true
	m.mu.Unlock()

	tr, err := m.SetStatus(ctx, ev.ProcessorSubscriptionID, ch)
	if err == stripedb.ErrSubscriptionNotFound {
		return stripedb.Transition{}, false, nil
	}
	return tr, err == nil, err
}

func (m *memLedger) status(id string) stripedb.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[id].Status
}
