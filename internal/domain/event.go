package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	AggregateTypePayment      = "payment"
	AggregateTypeSubscription = "subscription"
)

// Payment event types.
const (
	EventPaymentCreated           = "payment.created"
	EventPaymentProcessing        = "payment.processing"
	EventPaymentRequiresAction    = "payment.requires_action"
	EventPaymentSucceeded         = "payment.succeeded"
	EventPaymentFailed            = "payment.failed"
	EventPaymentCancelled         = "payment.cancelled"
	EventPaymentRefunded          = "payment.refunded"
	EventPaymentPartiallyRefunded = "payment.partially_refunded"
	EventPaymentRefundFailed      = "payment.refund_failed"
)

// Subscription event types.
const (
	EventSubscriptionCreated   = "subscription.created"
	EventSubscriptionActivated = "subscription.activated"
	EventSubscriptionRenewed   = "subscription.renewed"
	EventSubscriptionPastDue   = "subscription.past_due"
	EventSubscriptionCancelled = "subscription.cancelled"
	EventSubscriptionExpired   = "subscription.expired"
)

// Event is a domain event staged by a state transition. It is written to the
// outbox in the same transaction as the aggregate mutation and published
// asynchronously. The payload exposes domain fields only, never raw provider
// payloads.
type Event struct {
	ID            string    `json:"event_id"`
	Type          string    `json:"event_type"`
	OccurredAt    time.Time `json:"occurred_at"`
	AggregateID   string    `json:"aggregate_id"`
	AggregateType string    `json:"aggregate_type"`
	Payload       any       `json:"payload"`
}

// Envelope serializes the event into the wire shape consumers receive.
// Consumers dedupe on event_id; delivery is at-least-once.
func (e *Event) Envelope() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event envelope %s: %w", e.ID, err)
	}
	return data, nil
}

// PaymentEventPayload is the provider-agnostic payload for payment events.
type PaymentEventPayload struct {
	PaymentID    string `json:"payment_id"`
	UserID       string `json:"user_id"`
	Amount       string `json:"amount"`
	Currency     string `json:"currency"`
	Status       string `json:"status"`
	Provider     string `json:"provider"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	// RefundAmount is set on refund events only.
	RefundAmount string `json:"refund_amount,omitempty"`
}

// SubscriptionEventPayload is the provider-agnostic payload for subscription
// events.
type SubscriptionEventPayload struct {
	SubscriptionID     string    `json:"subscription_id"`
	UserID             string    `json:"user_id"`
	PlanID             string    `json:"plan_id"`
	Status             string    `json:"status"`
	Provider           string    `json:"provider"`
	CurrentPeriodStart time.Time `json:"current_period_start"`
	CurrentPeriodEnd   time.Time `json:"current_period_end"`
	CancelAtPeriodEnd  bool      `json:"cancel_at_period_end"`
	CancelReason       string    `json:"cancel_reason,omitempty"`
}
