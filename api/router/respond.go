package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"

	"github.com/tbeaudouin05/stripe-subscriptions/api/apperrors"
	"github.com/tbeaudouin05/stripe-subscriptions/api/validation"
)

// maxBodyBytes caps request bodies, webhooks included.
const maxBodyBytes = 1 << 20

var marshaler = &runtime.JSONBuiltin{}

// envelope is the JSON body of every response: {"success":bool, ...fields}.
type envelope map[string]any

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", marshaler.ContentType(body))
	w.WriteHeader(status)
	if err := marshaler.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", "err", err)
	}
}

func writeOK(w http.ResponseWriter, status int, fields envelope) {
	body := envelope{"success": true}
	for k, v := range fields {
		body[k] = v
	}
	writeJSON(w, status, body)
}

// writeError maps err onto an HTTP status through its gRPC code.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperrors.Code(err)
	status := runtime.HTTPStatusFromCode(code)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "status", status, "err", err)
		if errors.Is(err, apperrors.ErrDatabase) {
			msg = "internal server error"
		}
	} else {
		slog.InfoContext(r.Context(), "request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "err", err)
	}
	writeJSON(w, status, envelope{"success": false, "message": msg})
}

func routingErrorHandler(_ context.Context, _ *runtime.ServeMux, _ runtime.Marshaler, w http.ResponseWriter, _ *http.Request, status int) {
	writeJSON(w, status, envelope{"success": false, "message": http.StatusText(status)})
}

// decode reads a JSON body into v and validates it. An empty body decodes
// to the zero value so required-field checks report it.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := marshaler.NewDecoder(body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: malformed JSON body: %v", apperrors.ErrValidation, err)
	}
	return validation.Struct(v)
}
