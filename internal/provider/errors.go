package provider

import (
	"errors"
	"fmt"
)

// ErrorKind classifies provider failures for retry decisions.
type ErrorKind int

const (
	// KindTransient means a retry may succeed (network error, timeout,
	// provider 5xx).
	KindTransient ErrorKind = iota
	// KindPermanent means a retry will not change the outcome (declined,
	// invalid request).
	KindPermanent
	// KindAmbiguous means the call's remote outcome is unknown (local timeout
	// after the request may have been accepted); callers must reconcile via a
	// verify call, never assume failure.
	KindAmbiguous
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindAmbiguous:
		return "ambiguous"
	}
	return "unknown"
}

// Error is a classified provider failure.
type Error struct {
	Kind     ErrorKind
	Provider string
	Code     string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider %s: %s error [%s]: %s: %v", e.Provider, e.Kind, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("provider %s: %s error [%s]: %s", e.Provider, e.Kind, e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func NewTransientError(providerName, code, message string, err error) *Error {
	return &Error{Kind: KindTransient, Provider: providerName, Code: code, Message: message, Err: err}
}

func NewPermanentError(providerName, code, message string) *Error {
	return &Error{Kind: KindPermanent, Provider: providerName, Code: code, Message: message}
}

func NewAmbiguousError(providerName, code, message string, err error) *Error {
	return &Error{Kind: KindAmbiguous, Provider: providerName, Code: code, Message: message, Err: err}
}

func kindOf(err error) (ErrorKind, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return 0, false
}

// IsTransient reports whether err is a retryable provider failure.
func IsTransient(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindTransient
}

// IsPermanent reports whether err is a non-retryable provider failure.
func IsPermanent(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindPermanent
}

// IsAmbiguous reports whether the remote outcome of the call is unknown.
func IsAmbiguous(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindAmbiguous
}

// CodeOf extracts the provider error code, if any.
func CodeOf(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// MessageOf extracts the provider error message, if any.
func MessageOf(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Message
	}
	return err.Error()
}
