package provider

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	transient := NewTransientError("sandbox", "timeout", "request timed out", errors.New("dial tcp: i/o timeout"))
	permanent := NewPermanentError("sandbox", "card_declined", "insufficient funds")
	ambiguous := NewAmbiguousError("sandbox", "unknown_outcome", "response lost", nil)

	assert.True(t, IsTransient(transient))
	assert.False(t, IsTransient(permanent))
	assert.False(t, IsTransient(ambiguous))

	assert.True(t, IsPermanent(permanent))
	assert.False(t, IsPermanent(transient))

	assert.True(t, IsAmbiguous(ambiguous))
	assert.False(t, IsAmbiguous(transient))

	assert.False(t, IsTransient(errors.New("plain error")))
	assert.False(t, IsPermanent(nil))
}

func TestErrorClassificationThroughWrapping(t *testing.T) {
	inner := NewPermanentError("sandbox", "card_declined", "declined")
	wrapped := fmt.Errorf("create payment: %w", inner)

	assert.True(t, IsPermanent(wrapped))
	assert.Equal(t, "card_declined", CodeOf(wrapped))
	assert.Equal(t, "declined", MessageOf(wrapped))
}

func TestCodeOfPlainError(t *testing.T) {
	err := errors.New("boom")
	assert.Equal(t, "", CodeOf(err))
	assert.Equal(t, "boom", MessageOf(err))
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewTransientError("sandbox", "network", "call failed", cause)
	assert.ErrorIs(t, err, cause)
}
