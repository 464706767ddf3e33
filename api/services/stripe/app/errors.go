package app

import (
	"fmt"

	"github.com/tbeaudouin05/stripe-subscriptions/api/apperrors"
)

// Typed errors for the billing app layer. Each wraps an apperrors sentinel so
// the transport layer can map them without knowing SDK-specific error types.
var (
	// ErrBadEvent indicates a signed event payload that is invalid or missing required fields.
	ErrBadEvent = fmt.Errorf("%w: bad event", apperrors.ErrValidation)
	// ErrInvalidSignature indicates a webhook whose signature does not verify.
	ErrInvalidSignature = fmt.Errorf("%w: invalid webhook signature", apperrors.ErrAuthentication)
	// ErrUnknownCustomer indicates a processor customer id no user owns. It is
	// a permission error so callers cannot learn which customers exist.
	ErrUnknownCustomer = fmt.Errorf("%w: unknown customer", apperrors.ErrPermission)
	// ErrClientSecretUnavailable indicates the processor gave no way to confirm payment.
	ErrClientSecretUnavailable = fmt.Errorf("%w: client secret unavailable", apperrors.ErrUpstream)
)
