package domain

import (
	"errors"
	"fmt"
)

var (
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrVersionConflict is returned when an optimistic version check fails at
	// persist time. Callers reload the aggregate and retry a bounded number of
	// times before surfacing ErrConcurrencyConflict.
	ErrVersionConflict     = errors.New("aggregate version conflict")
	ErrConcurrencyConflict = errors.New("concurrent modification, retries exhausted")

	ErrIdempotencyConflict = errors.New("idempotency key reused with different request body")
	ErrIdempotencyInFlight = errors.New("request with this idempotency key is still in flight")

	ErrDuplicateWebhook = errors.New("webhook event already recorded")
	ErrSignatureInvalid = errors.New("webhook signature invalid")
	ErrWebhookNotFound  = errors.New("webhook event not found")

	ErrProviderUnavailable = errors.New("payment provider unavailable")
)

// DomainViolation reports an illegal state transition or a broken aggregate
// invariant. The aggregate is left unchanged when it is returned.
type DomainViolation struct {
	Code   string
	Reason string
}

func (e *DomainViolation) Error() string {
	return fmt.Sprintf("domain violation [%s]: %s", e.Code, e.Reason)
}

func NewDomainViolation(code, format string, args ...any) *DomainViolation {
	return &DomainViolation{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// IsDomainViolation reports whether err is (or wraps) a DomainViolation.
func IsDomainViolation(err error) bool {
	var dv *DomainViolation
	return errors.As(err, &dv)
}

// ValidationError reports malformed input rejected before any aggregate is
// touched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
