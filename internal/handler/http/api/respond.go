// Package api holds the JSON response helpers and the error-to-status mapping
// shared by all HTTP handlers.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"billing/internal/domain"
	"billing/internal/provider"
)

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	// State carries the aggregate's current state when a mutation was
	// rejected, so callers can see what they conflicted with.
	State any `json:"state,omitempty"`
}

func WriteJSON(w http.ResponseWriter, logger *zap.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to write JSON response", zap.Error(err))
	}
}

// WriteRaw replays a stored response body verbatim.
func WriteRaw(w http.ResponseWriter, logger *zap.Logger, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		logger.Error("Failed to write response body", zap.Error(err))
	}
}

func WriteError(w http.ResponseWriter, logger *zap.Logger, err error) {
	WriteErrorWithState(w, logger, err, nil)
}

// WriteErrorWithState writes the mapped error response, attaching the current
// aggregate state when the caller has one.
func WriteErrorWithState(w http.ResponseWriter, logger *zap.Logger, err error, state any) {
	status, code := StatusOf(err)
	if status == http.StatusInternalServerError {
		logger.Error("Request failed", zap.Error(err))
		WriteJSON(w, logger, status, ErrorResponse{Error: "internal server error"})
		return
	}
	WriteJSON(w, logger, status, ErrorResponse{Error: err.Error(), Code: code, State: state})
}

// StatusOf maps a service error to an HTTP status and a machine-readable code.
func StatusOf(err error) (int, string) {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusBadRequest, "invalid_request"
	}
	var violation *domain.DomainViolation
	if errors.As(err, &violation) {
		return http.StatusUnprocessableEntity, violation.Code
	}
	switch {
	case errors.Is(err, domain.ErrPaymentNotFound),
		errors.Is(err, domain.ErrSubscriptionNotFound),
		errors.Is(err, domain.ErrWebhookNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrIdempotencyConflict):
		return http.StatusUnprocessableEntity, "idempotency_key_reused"
	case errors.Is(err, domain.ErrIdempotencyInFlight):
		return http.StatusConflict, "request_in_flight"
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return http.StatusConflict, "concurrent_modification"
	case errors.Is(err, domain.ErrSignatureInvalid):
		return http.StatusUnauthorized, "signature_invalid"
	case errors.Is(err, domain.ErrProviderUnavailable):
		return http.StatusBadGateway, "provider_unavailable"
	case provider.IsPermanent(err):
		return http.StatusPaymentRequired, provider.CodeOf(err)
	}
	return http.StatusInternalServerError, ""
}
