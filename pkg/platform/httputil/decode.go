package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	dErrors "relaypool/pkg/domain-errors"
)

// DecodeJSON decodes a JSON request body into the target type. On failure
// it writes the error response itself and returns (nil, false), so
// handlers read:
//
//	req, ok := httputil.DecodeJSON[handler.RateLimitRequest](w, r, h.logger, ctx, requestID)
//	if !ok {
//	    return
//	}
//
// A body rejected by the management surface's size cap answers 413; every
// other decode failure is a 400.
func DecodeJSON[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger, ctx context.Context, requestID string) (*T, bool) {
	var req T
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.WarnContext(ctx, "failed to decode request body",
			"error", err,
			"request_id", requestID,
		)

		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			// The one status a domain code cannot express: the cap lives
			// in the transport, not the domain.
			WriteJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
				"error":             "bad_request",
				"error_description": fmt.Sprintf("request body exceeds %d bytes", tooBig.Limit),
			})
			return nil, false
		}

		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return nil, false
	}
	return &req, true
}

// Validatable is implemented by request types that support validation.
type Validatable interface {
	Validate() error
}

// Normalizable is implemented by request types that support normalization.
type Normalizable interface {
	Normalize()
}

// PrepareRequest normalizes then validates a request. Either hook is
// optional; a type implementing neither passes through untouched.
func PrepareRequest(req any) error {
	if n, ok := req.(Normalizable); ok {
		n.Normalize()
	}
	if v, ok := req.(Validatable); ok {
		return v.Validate()
	}
	return nil
}

// DecodeAndPrepare is DecodeJSON followed by PrepareRequest. Validation
// errors that already carry a domain code keep it; plain errors are
// classified as validation failures.
//
//	req, ok := httputil.DecodeAndPrepare[handler.CreateAccountRequest](w, r, h.logger, ctx, requestID)
//	if !ok {
//	    return
//	}
func DecodeAndPrepare[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger, ctx context.Context, requestID string) (*T, bool) {
	req, ok := DecodeJSON[T](w, r, logger, ctx, requestID)
	if !ok {
		return nil, false
	}

	if err := PrepareRequest(req); err != nil {
		logger.WarnContext(ctx, "invalid request",
			"error", err,
			"request_id", requestID,
		)
		var domainErr *dErrors.Error
		if errors.As(err, &domainErr) {
			WriteError(w, err)
		} else {
			WriteError(w, dErrors.New(dErrors.CodeValidation, err.Error()))
		}
		return nil, false
	}

	return req, true
}
