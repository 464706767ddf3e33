// Package apperrors holds the error taxonomy shared by the identity and
// billing services. Services wrap these sentinels with fmt.Errorf("%w: ...")
// so the transport layer can map them without knowing SDK or driver errors.
package apperrors

import (
	"errors"

	"google.golang.org/grpc/codes"
)

var (
	// ErrValidation indicates malformed or missing input.
	ErrValidation = errors.New("validation error")
	// ErrAuthentication indicates a missing, invalid or expired credential.
	ErrAuthentication = errors.New("authentication error")
	// ErrPermission indicates an authenticated caller acting on a resource it does not own.
	ErrPermission = errors.New("permission denied")
	// ErrNotFound indicates an unknown user, customer or subscription.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a uniqueness violation such as a duplicate email.
	ErrConflict = errors.New("conflict")
	// ErrUpstream indicates a failure from the payment processor.
	ErrUpstream = errors.New("upstream error")
	// ErrDatabase indicates a database-related failure.
	ErrDatabase = errors.New("database error")
	// ErrUnavailable indicates a transient failure the caller should retry.
	ErrUnavailable = errors.New("temporarily unavailable")
)

// Code maps an error chain onto a gRPC status code.
func Code(err error) codes.Code {
	switch {
	case err == nil:
		return codes.OK
	case errors.Is(err, ErrValidation):
		return codes.InvalidArgument
	case errors.Is(err, ErrAuthentication):
		return codes.Unauthenticated
	case errors.Is(err, ErrPermission):
		return codes.PermissionDenied
	case errors.Is(err, ErrNotFound):
		return codes.NotFound
	case errors.Is(err, ErrConflict):
		return codes.AlreadyExists
	case errors.Is(err, ErrUnavailable):
		return codes.Unavailable
	default:
		return codes.Internal
	}
}
