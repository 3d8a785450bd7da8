// Package httputil is the single place domain errors become HTTP. Handlers
// never pick status codes themselves; they return coded errors and let
// WriteError translate.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "relaypool/pkg/domain-errors"
)

func WriteJSON(w http.ResponseWriter, status int, response any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Errors after WriteHeader cannot change the status code, so we ignore encoding errors.
	// The response body may be incomplete, but headers are already sent.
	_ = json.NewEncoder(w).Encode(response)
}

// WriteError translates a domain error into an HTTP error response. Errors
// without a domain code come out as opaque 500s; wrapped causes never reach
// the wire.
func WriteError(w http.ResponseWriter, err error) {
	var domainErr *dErrors.Error
	if errors.As(err, &domainErr) {
		response := map[string]string{
			"error": wireCode(domainErr.Code),
		}
		if domainErr.Message != "" {
			response["error_description"] = domainErr.Message
		}
		WriteJSON(w, statusFor(domainErr.Code), response)
		return
	}

	WriteJSON(w, http.StatusInternalServerError, map[string]string{
		"error": wireCode(dErrors.CodeInternal),
	})
}

// statusFor maps domain codes onto HTTP statuses. The relay-facing codes
// carry the routing semantics clients key on: an empty pool is a capacity
// condition (503, retry later) while a rate limit is 429 and a broken
// provider is 502. Timeout maps to 504 because the failure is upstream of
// this server, not in it.
func statusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeBadRequest, dErrors.CodeValidation, dErrors.CodeInvalidInput, dErrors.CodeInvariantViolation:
		return http.StatusBadRequest
	case dErrors.CodeConflict, dErrors.CodeAccountUnavailable:
		return http.StatusConflict
	case dErrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case dErrors.CodeNoAccountAvailable:
		return http.StatusServiceUnavailable
	case dErrors.CodeRateLimited:
		return http.StatusTooManyRequests
	case dErrors.CodeUpstream:
		return http.StatusBadGateway
	case dErrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// wireCode maps domain codes onto the stable identifiers clients see in
// the error field. Validation flavours collapse; the pool codes are
// already wire-shaped and pass through.
func wireCode(code dErrors.Code) string {
	switch code {
	case dErrors.CodeBadRequest, dErrors.CodeInvalidInput:
		return "bad_request"
	case dErrors.CodeValidation, dErrors.CodeInvariantViolation:
		return "validation_error"
	case dErrors.CodeNotFound, dErrors.CodeConflict, dErrors.CodeUnauthorized, dErrors.CodeTimeout,
		dErrors.CodeNoAccountAvailable, dErrors.CodeAccountUnavailable, dErrors.CodeRateLimited, dErrors.CodeUpstream:
		return string(code)
	default:
		return "internal_error"
	}
}
