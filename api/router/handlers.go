package router

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/tbeaudouin05/stripe-subscriptions/api/apperrors"
	"github.com/tbeaudouin05/stripe-subscriptions/api/services/auth"
	identityapp "github.com/tbeaudouin05/stripe-subscriptions/api/services/identity/app"
	stripeapp "github.com/tbeaudouin05/stripe-subscriptions/api/services/stripe/app"
)

func (rt router) register(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var in identityapp.RegisterInput
	if err := decode(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	s, err := rt.identity.Register(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, envelope{"user": s.User, "token": s.Token})
}

func (rt router) login(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var in identityapp.LoginInput
	if err := decode(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	s, err := rt.identity.Login(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, envelope{"user": s.User, "token": s.Token})
}

func (rt router) me(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	id := caller(r)
	u, err := rt.identity.Me(r.Context(), id.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, envelope{"user": u})
}

func (rt router) createCustomer(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var in stripeapp.CreateCustomerInput
	if err := decode(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	id := caller(r)
	if in.UserID != "" && in.UserID != id.UserID {
		writeError(w, r, fmt.Errorf("%w: cannot create a customer for another user", apperrors.ErrPermission))
		return
	}
	customerID, err := rt.billing.EnsureCustomer(r.Context(), id.UserID, in.Name, in.Email)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, envelope{"customerId": customerID})
}

func (rt router) addPaymentMethod(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var in stripeapp.AddPaymentMethodInput
	if err := decode(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	ctx := r.Context()
	if err := rt.billing.AuthorizeCustomer(ctx, caller(r).UserID, in.CustomerID); err != nil {
		writeError(w, r, err)
		return
	}
	if err := rt.billing.AddPaymentMethod(ctx, in.CustomerID, in.PaymentMethodID); err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, envelope{"message": "Payment method attached successfully"})
}

func (rt router) createSubscription(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var in stripeapp.CreateSubscriptionInput
	if err := decode(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	ctx := r.Context()
	userID := caller(r).UserID
	if in.CustomerID != "" {
		if err := rt.billing.AuthorizeCustomer(ctx, userID, in.CustomerID); err != nil {
			writeError(w, r, err)
			return
		}
	}
	res, err := rt.billing.StartSubscription(ctx, userID, in.PriceID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, envelope{"subscriptionId": res.SubscriptionID, "clientSecret": res.ClientSecret})
}

func (rt router) cancelSubscription(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var in stripeapp.CancelSubscriptionInput
	if err := decode(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	ctx := r.Context()
	if err := rt.billing.AuthorizeSubscription(ctx, caller(r).UserID, in.SubscriptionID); err != nil {
		writeError(w, r, err)
		return
	}
	rec, err := rt.billing.CancelSubscription(ctx, in.SubscriptionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, envelope{"subscription": rec})
}

func (rt router) invoices(w http.ResponseWriter, r *http.Request, params map[string]string) {
	customerID, ok := rt.ownedCustomer(w, r, params)
	if !ok {
		return
	}
	invoices, err := rt.billing.GetInvoices(r.Context(), customerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, envelope{"invoices": invoices})
}

func (rt router) upcomingInvoice(w http.ResponseWriter, r *http.Request, params map[string]string) {
	customerID, ok := rt.ownedCustomer(w, r, params)
	if !ok {
		return
	}
	up, err := rt.billing.GetUpcomingInvoice(r.Context(), customerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, envelope{"amount": up.Amount, "date": up.Date, "placeholder": up.Placeholder})
}

// subscription reports null for a customer no user owns; another user's
// customer is still forbidden.
func (rt router) subscription(w http.ResponseWriter, r *http.Request, params map[string]string) {
	customerID := params["customerId"]
	if customerID == "" {
		writeError(w, r, fmt.Errorf("%w: customerId is required", apperrors.ErrValidation))
		return
	}
	err := rt.billing.AuthorizeCustomer(r.Context(), caller(r).UserID, customerID)
	if errors.Is(err, stripeapp.ErrUnknownCustomer) {
		writeOK(w, http.StatusOK, envelope{"subscription": nil})
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	rec, err := rt.billing.GetCurrentSubscription(r.Context(), customerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	// A nil record encodes as null.
	writeOK(w, http.StatusOK, envelope{"subscription": rec})
}

func (rt router) webhook(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: reading body: %v", apperrors.ErrValidation, err))
		return
	}
	if err := rt.billing.HandleEvent(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{"received": true})
}

// ownedCustomer reads {customerId} and checks the caller owns it.
func (rt router) ownedCustomer(w http.ResponseWriter, r *http.Request, params map[string]string) (string, bool) {
	customerID := params["customerId"]
	if customerID == "" {
		writeError(w, r, fmt.Errorf("%w: customerId is required", apperrors.ErrValidation))
		return "", false
	}
	if err := rt.billing.AuthorizeCustomer(r.Context(), caller(r).UserID, customerID); err != nil {
		writeError(w, r, err)
		return "", false
	}
	return customerID, true
}

// caller is only used behind protect, which guarantees an identity.
func caller(r *http.Request) auth.Identity {
	id, _ := auth.IdentityFrom(r.Context())
	return id
}
