package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76/webhook"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/tbeaudouin05/stripe-subscriptions/api/grpcserver"
	"github.com/tbeaudouin05/stripe-subscriptions/api/services/auth"
	identityapp "github.com/tbeaudouin05/stripe-subscriptions/api/services/identity/app"
	stripeapp "github.com/tbeaudouin05/stripe-subscriptions/api/services/stripe/app"
	stripedb "github.com/tbeaudouin05/stripe-subscriptions/api/services/stripe/db"
	gw "github.com/tbeaudouin05/stripe-subscriptions/api/services/stripe/gateway"
	"github.com/tbeaudouin05/stripe-subscriptions/api/services/stripe/gateway/mock"
)

const (
	testJWTSecret     = "router-test-secret"
	testWebhookSecret = "whsec_router_test"
)

type harness struct {
	srv    *httptest.Server
	gw     *mock.MockStripeGateway
	users  *memUsers
	ledger *memLedger
}

func newHarness(t *testing.T, opts stripeapp.Options) *harness {
	t.Helper()
	ctrl := gomock.NewController(t)
	h := &harness{
		gw:     mock.NewMockStripeGateway(ctrl),
		users:  newMemUsers(),
		ledger: newMemLedger(),
	}
	provider := auth.NewProvider(testJWTSecret, time.Hour, 4)
	opts.WebhookSecret = testWebhookSecret
	h.srv = httptest.NewServer(NewRouter(Deps{
		Identity: identityapp.NewService(h.users, provider),
		Billing:  stripeapp.NewService(h.gw, h.ledger, h.users, opts),
		Guard:    auth.NewGuard(provider),
	}))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *harness) do(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, h.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return send(t, req)
}

func send(t *testing.T, req *http.Request) (int, map[string]any) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")
	out := map[string]any{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

// signup registers a user and returns its id and token.
func (h *harness) signup(t *testing.T, name, email string) (string, string) {
	t.Helper()
	code, body := h.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"name": name, "email": email, "password": "hunter22",
	})
	require.Equal(t, http.StatusCreated, code, body)
	user := body["user"].(map[string]any)
	return user["id"].(string), body["token"].(string)
}

// withCustomer registers a user that already has a processor customer.
func (h *harness) withCustomer(t *testing.T, name, email, customerID string) (string, string) {
	t.Helper()
	id, token := h.signup(t, name, email)
	_, err := h.users.SetCustomerID(context.Background(), id, customerID)
	require.NoError(t, err)
	return id, token
}

func (h *harness) webhook(t *testing.T, payload, signature string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, h.srv.URL+"/stripe/webhook", bytes.NewBufferString(payload))
	require.NoError(t, err)
	req.Header.Set("Stripe-Signature", signature)
	return send(t, req)
}

func sign(payload string) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: []byte(payload),
		Secret:  testWebhookSecret,
	}).Header
}

func TestRegisterLoginSubscribe(t *testing.T) {
	h := newHarness(t, stripeapp.Options{})
	anyCtx := gomock.Any()

	userID, _ := h.signup(t, "Ann", "Ann@Example.com")

	code, body := h.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "ann@example.com", "password": "hunter22",
	})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, true, body["success"])
	token := body["token"].(string)

	code, body = h.do(t, http.MethodGet, "/auth/me", token, nil)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "ann@example.com", body["user"].(map[string]any)["email"])

	h.gw.EXPECT().CreateCustomer(anyCtx, "Ann", "ann@example.com", userID).Return("cus_ann", nil)
	code, body = h.do(t, http.MethodPost, "/stripe/create-customer", token, map[string]string{
		"name": "Ann", "email": "ann@example.com",
	})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "cus_ann", body["customerId"])

	h.gw.EXPECT().CreateSubscription(anyCtx, "cus_ann", "price_basic").Return(gw.Subscription{
		ID:           "sub_1",
		CustomerID:   "cus_ann",
		Status:       gw.StatusIncomplete,
		ClientSecret: "pi_1_secret_abc",
	}, nil)
	code, body = h.do(t, http.MethodPost, "/stripe/create-subscription", token, map[string]string{
		"customerId": "cus_ann", "priceId": "price_basic",
	})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "sub_1", body["subscriptionId"])
	assert.Equal(t, "pi_1_secret_abc", body["clientSecret"])
	assert.Equal(t, stripedb.StatusIncomplete, h.ledger.status("sub_1"))

	payload := fmt.Sprintf(`{"id":"evt_1","object":"event","type":"invoice.paid","data":{"object":{"id":"in_1","object":"invoice","subscription":%q}}}`, "sub_1")
	code, body = h.webhook(t, payload, sign(payload))
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, map[string]any{"received": true}, body)
	assert.Equal(t, stripedb.StatusActive, h.ledger.status("sub_1"))

	code, body = h.do(t, http.MethodGet, "/stripe/subscription/cus_ann", token, nil)
	require.Equal(t, http.StatusOK, code, body)
	sub := body["subscription"].(map[string]any)
	assert.Equal(t, "sub_1", sub["stripeSubscriptionId"])
	assert.Equal(t, "active", sub["status"])
}

func TestCancelSubscription(t *testing.T) {
	h := newHarness(t, stripeapp.Options{})
	anyCtx := gomock.Any()
	annID, annToken := h.withCustomer(t, "Ann", "ann@example.com", "cus_ann")
	_, bobToken := h.withCustomer(t, "Bob", "bob@example.com", "cus_bob")
	_, _, err := h.ledger.Insert(context.Background(), stripedb.SubscriptionRecord{
		ID: "rec-1", UserID: annID, ProcessorSubscriptionID: "sub_1", PriceID: "price_basic", Status: stripedb.StatusActive,
	})
	require.NoError(t, err)

	code, body := h.do(t, http.MethodPost, "/stripe/cancel-subscription", bobToken, map[string]string{"subscriptionId": "sub_1"})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, stripedb.StatusActive, h.ledger.status("sub_1"))

	h.gw.EXPECT().CancelSubscription(anyCtx, "sub_1", false).Return(gw.Subscription{ID: "sub_1", Status: gw.StatusCanceled}, nil)
	code, body = h.do(t, http.MethodPost, "/stripe/cancel-subscription", annToken, map[string]string{"subscriptionId": "sub_1"})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "canceled", body["subscription"].(map[string]any)["status"])
	assert.Equal(t, stripedb.StatusCanceled, h.ledger.status("sub_1"))

	// A second cancel is reported by the processor as already canceled.
	h.gw.EXPECT().CancelSubscription(anyCtx, "sub_1", false).
		Return(gw.Subscription{ID: "sub_1", Status: gw.StatusCanceled}, gw.ErrAlreadyCanceled)
	code, body = h.do(t, http.MethodPost, "/stripe/cancel-subscription", annToken, map[string]string{"subscriptionId": "sub_1"})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, stripedb.StatusCanceled, h.ledger.status("sub_1"))
}

func TestInvoicesAndUpcoming(t *testing.T) {
	h := newHarness(t, stripeapp.Options{})
	anyCtx := gomock.Any()
	_, token := h.withCustomer(t, "Ann", "ann@example.com", "cus_ann")

	created := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	h.gw.EXPECT().ListInvoices(anyCtx, "cus_ann").Return([]gw.Invoice{
		{ID: "in_1", AmountPaid: 1499, Status: "paid", Created: created, PDF: "https://pdf/1", HostedURL: "https://hosted/1"},
	}, nil)
	code, body := h.do(t, http.MethodGet, "/stripe/invoices/cus_ann", token, nil)
	require.Equal(t, http.StatusOK, code, body)
	invoices := body["invoices"].([]any)
	require.Len(t, invoices, 1)
	inv := invoices[0].(map[string]any)
	assert.Equal(t, "in_1", inv["id"])
	assert.EqualValues(t, 1499, inv["amount"])
	assert.Equal(t, "https://hosted/1", inv["hosted_url"])

	h.gw.EXPECT().UpcomingInvoice(anyCtx, "cus_ann").Return(gw.UpcomingInvoice{}, false, nil)
	code, body = h.do(t, http.MethodGet, "/stripe/upcoming-invoice/cus_ann", token, nil)
	require.Equal(t, http.StatusOK, code, body)
	assert.EqualValues(t, 1499, body["amount"])
	assert.Equal(t, true, body["placeholder"])
	assert.NotEmpty(t, body["date"])
}

func TestSubscriptionWithoutRecordIsNull(t *testing.T) {
	h := newHarness(t, stripeapp.Options{})
	_, token := h.withCustomer(t, "Ann", "ann@example.com", "cus_ann")

	code, body := h.do(t, http.MethodGet, "/stripe/subscription/cus_ann", token, nil)
	require.Equal(t, http.StatusOK, code, body)
	assert.Contains(t, body, "subscription")
	assert.Nil(t, body["subscription"])
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	h := newHarness(t, stripeapp.Options{})

	paths := []struct{ method, path string }{
		{http.MethodGet, "/auth/me"},
		{http.MethodPost, "/stripe/create-customer"},
		{http.MethodPost, "/stripe/add-payment-method"},
		{http.MethodPost, "/stripe/create-subscription"},
		{http.MethodPost, "/stripe/cancel-subscription"},
		{http.MethodGet, "/stripe/invoices/cus_x"},
		{http.MethodGet, "/stripe/upcoming-invoice/cus_x"},
		{http.MethodGet, "/stripe/subscription/cus_x"},
	}
	for _, p := range paths {
		t.Run(p.method+" "+p.path, func(t *testing.T) {
			code, body := h.do(t, p.method, p.path, "", nil)
			assert.Equal(t, http.StatusUnauthorized, code)
			assert.Equal(t, false, body["success"])
			assert.NotEmpty(t, body["message"])

			code, _ = h.do(t, p.method, p.path, "not-a-jwt", nil)
			assert.Equal(t, http.StatusUnauthorized, code)
		})
	}
}

func TestForeignCustomerIsForbidden(t *testing.T) {
	h := newHarness(t, stripeapp.Options{})
	_, annToken := h.withCustomer(t, "Ann", "ann@example.com", "cus_ann")
	h.withCustomer(t, "Bob", "bob@example.com", "cus_bob")

	for _, path := range []string{"/stripe/invoices/cus_bob", "/stripe/upcoming-invoice/cus_bob", "/stripe/subscription/cus_bob", "/stripe/invoices/cus_unknown"} {
		code, body := h.do(t, http.MethodGet, path, annToken, nil)
		assert.Equal(t, http.StatusForbidden, code, path)
		assert.Equal(t, false, body["success"])
	}

	code, _ := h.do(t, http.MethodPost, "/stripe/create-subscription", annToken, map[string]string{
		"customerId": "cus_bob", "priceId": "price_basic",
	})
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = h.do(t, http.MethodPost, "/stripe/add-payment-method", annToken, map[string]string{
		"customerId": "cus_bob", "paymentMethodId": "pm_card_visa",
	})
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = h.do(t, http.MethodPost, "/stripe/create-customer", annToken, map[string]string{
		"userId": "someone-else", "name": "Ann",
	})
	assert.Equal(t, http.StatusForbidden, code)
}

func TestValidationErrors(t *testing.T) {
	h := newHarness(t, stripeapp.Options{})
	_, token := h.withCustomer(t, "Ann", "ann@example.com", "cus_ann")

	code, body := h.do(t, http.MethodPost, "/stripe/create-subscription", token, map[string]string{"customerId": "cus_ann"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, false, body["success"])

	code, _ = h.do(t, http.MethodPost, "/auth/register", "", map[string]string{"name": "X", "email": "not-an-email", "password": "hunter22"})
	assert.Equal(t, http.StatusBadRequest, code)

	req, err := http.NewRequest(http.MethodPost, h.srv.URL+"/auth/login", bytes.NewBufferString("{"))
	require.NoError(t, err)
	code, _ = send(t, req)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	h := newHarness(t, stripeapp.Options{})
	h.signup(t, "Ann", "ann@example.com")

	code, body := h.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"name": "Ann again", "email": "ANN@example.com", "password": "hunter22",
	})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, false, body["success"])

	code, _ = h.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "ann@example.com", "password": "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestWebhookSignature(t *testing.T) {
	h := newHarness(t, stripeapp.Options{})
	annID, _ := h.withCustomer(t, "Ann", "ann@example.com", "cus_ann")
	_, _, err := h.ledger.Insert(context.Background(), stripedb.SubscriptionRecord{
		ID: "rec-1", UserID: annID, ProcessorSubscriptionID: "sub_1", Status: stripedb.StatusActive,
	})
	require.NoError(t, err)

	payload := `{"id":"evt_del","object":"event","type":"customer.subscription.deleted","data":{"object":{"id":"sub_1","object":"subscription","status":"canceled"}}}`

	code, body := h.webhook(t, payload, "")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, false, body["success"])

	code, _ = h.webhook(t, payload, "t=1,v1=deadbeef")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, stripedb.StatusActive, h.ledger.status("sub_1"))

	code, body = h.webhook(t, payload, sign(payload))
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, map[string]any{"received": true}, body)
	assert.Equal(t, stripedb.StatusCanceled, h.ledger.status("sub_1"))

	// Unknown event kinds are acknowledged.
	other := `{"id":"evt_other","object":"event","type":"charge.refunded","data":{"object":{"id":"ch_1","object":"charge"}}}`
	code, _ = h.webhook(t, other, sign(other))
	assert.Equal(t, http.StatusOK, code)
}

func TestUnknownRoute(t *testing.T) {
	h := newHarness(t, stripeapp.Options{})

	code, body := h.do(t, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Not Found", body["message"])
}

type togglePinger struct{ err error }

func (p *togglePinger) PingContext(context.Context) error { return p.err }

func TestHealthz(t *testing.T) {
	pinger := &togglePinger{}
	health := grpcserver.New(pinger)
	lis := bufconn.Listen(1 << 20)
	go func() { _ = health.Serve(lis) }()
	t.Cleanup(health.Stop)

	client, conn, err := grpcserver.DialHealth("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	srv := httptest.NewServer(NewRouter(Deps{Health: client}))
	t.Cleanup(srv.Close)

	get := func() int {
		resp, err := http.Get(srv.URL + "/healthz")
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusServiceUnavailable, get())

	require.True(t, health.Check(context.Background()))
	assert.Equal(t, http.StatusOK, get())

	pinger.err = fmt.Errorf("connection refused")
	require.False(t, health.Check(context.Background()))
	assert.Equal(t, http.StatusServiceUnavailable, get())
}

func TestSubscriptionForUnknownCustomerIsNull(t *testing.T) {
	h := newHarness(t, stripeapp.Options{})
	_, token := h.withCustomer(t, "Ann", "ann@example.com", "cus_ann")

	code, body := h.do(t, http.MethodGet, "/stripe/subscription/cus_nobody", token, nil)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, true, body["success"])
	assert.Contains(t, body, "subscription")
	assert.Nil(t, body["subscription"])
}

func TestCreateSubscriptionWithoutCustomerCreatesOne(t *testing.T) {
	h := newHarness(t, stripeapp.Options{})
	anyCtx := gomock.Any()
	userID, token := h.signup(t, "Ann", "ann@example.com")

	gomock.InOrder(
		h.gw.EXPECT().CreateCustomer(anyCtx, "Ann", "ann@example.com", userID).Return("cus_lazy", nil),
		h.gw.EXPECT().CreateSubscription(anyCtx, "cus_lazy", "plan_basic_monthly").Return(gw.Subscription{
			ID: "sub_lazy", CustomerID: "cus_lazy", Status: gw.StatusIncomplete, ClientSecret: "pi_lazy_secret",
		}, nil),
	)

	// Price ids are passed through as given.
	code, body := h.do(t, http.MethodPost, "/stripe/create-subscription", token, map[string]string{"priceId": "plan_basic_monthly"})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "sub_lazy", body["subscriptionId"])
	assert.Equal(t, "pi_lazy_secret", body["clientSecret"])

	u, err := h.users.GetByID(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, "cus_lazy", u.ProcessorCustomerID)
	assert.Equal(t, stripedb.StatusIncomplete, h.ledger.status("sub_lazy"))
}
