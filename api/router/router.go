package router

import (
	"log/slog"
	"net/http"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/tbeaudouin05/stripe-subscriptions/api/services/auth"
	identityapp "github.com/tbeaudouin05/stripe-subscriptions/api/services/identity/app"
	stripeapp "github.com/tbeaudouin05/stripe-subscriptions/api/services/stripe/app"
)

// Authenticator resolves the caller of a protected request.
type Authenticator interface {
	Authenticate(r *http.Request) (auth.Identity, error)
}

// Deps are the services the HTTP surface dispatches to.
type Deps struct {
	Identity identityapp.Service
	Billing  stripeapp.Service
	Guard    Authenticator
	// Health backs GET /healthz when set.
	Health healthpb.HealthClient
}

type router struct {
	identity identityapp.Service
	billing  stripeapp.Service
	guard    Authenticator
}

type route struct {
	method    string
	path      string
	protected bool
	handler   runtime.HandlerFunc
}

// NewRouter returns the central HTTP router for the API using grpc-gateway's
// ServeMux, with every route registered through HandlePath.
func NewRouter(d Deps) http.Handler {
	opts := []runtime.ServeMuxOption{
		runtime.WithRoutingErrorHandler(routingErrorHandler),
		runtime.WithDisablePathLengthFallback(),
	}
	if d.Health != nil {
		opts = append(opts, runtime.WithHealthzEndpoint(d.Health))
	}
	mux := runtime.NewServeMux(opts...)

	rt := router{identity: d.Identity, billing: d.Billing, guard: d.Guard}
	for _, r := range rt.routes() {
		h := r.handler
		if r.protected {
			h = rt.protect(h)
		}
		if err := mux.HandlePath(r.method, r.path, h); err != nil {
			slog.Error("failed to register route", "method", r.method, "path", r.path, "err", err)
		}
	}
	return logRequests(mux)
}

func (rt router) routes() []route {
	return []route{
		{http.MethodPost, "/auth/register", false, rt.register},
		{http.MethodPost, "/auth/login", false, rt.login},
		{http.MethodGet, "/auth/me", true, rt.me},

		{http.MethodPost, "/stripe/create-customer", true, rt.createCustomer},
		{http.MethodPost, "/stripe/add-payment-method", true, rt.addPaymentMethod},
		{http.MethodPost, "/stripe/create-subscription", true, rt.createSubscription},
		{http.MethodPost, "/stripe/cancel-subscription", true, rt.cancelSubscription},
		{http.MethodGet, "/stripe/invoices/{customerId}", true, rt.invoices},
		{http.MethodGet, "/stripe/upcoming-invoice/{customerId}", true, rt.upcomingInvoice},
		{http.MethodGet, "/stripe/subscription/{customerId}", true, rt.subscription},
		// Signed by the processor; the raw body is verified, not a bearer token.
		{http.MethodPost, "/stripe/webhook", false, rt.webhook},
	}
}

// protect runs the Session Guard and attaches the caller identity.
func (rt router) protect(next runtime.HandlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		id, err := rt.guard.Authenticate(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		next(w, r.WithContext(auth.WithIdentity(r.Context(), id)), params)
	}
}
