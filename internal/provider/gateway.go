// Package provider defines the capability-set interface every payment
// provider implements, the deterministic selector that pins a provider to a
// payment at creation time, and webhook signature verification.
package provider

import (
	"context"
	"time"

	"billing/internal/domain"
)

// ResultStatus is the provider-reported state of a payment operation.
type ResultStatus string

const (
	ResultProcessing     ResultStatus = "processing"
	ResultRequiresAction ResultStatus = "requires_action"
	ResultSucceeded      ResultStatus = "succeeded"
	ResultFailed         ResultStatus = "failed"
)

// CreatePaymentRequest is the provider-agnostic input for creating a payment
// at the provider.
type CreatePaymentRequest struct {
	PaymentID string
	UserID    string
	Amount    domain.Money
	Metadata  map[string]string
}

// PaymentResult is the provider-agnostic outcome of a create or verify call.
type PaymentResult struct {
	ProviderPaymentID string
	Status            ResultStatus
	ClientSecret      string
	ErrorCode         string
	ErrorMessage      string
}

// RefundResult reports a provider-side refund.
type RefundResult struct {
	ProviderRefundID string
}

// WebhookEventType classifies a parsed provider notification.
type WebhookEventType string

const (
	WebhookPaymentSucceeded          WebhookEventType = "payment_succeeded"
	WebhookPaymentFailed             WebhookEventType = "payment_failed"
	WebhookPaymentRequiresAction     WebhookEventType = "payment_requires_action"
	WebhookSubscriptionRenewed       WebhookEventType = "subscription_renewed"
	WebhookSubscriptionRenewalFailed WebhookEventType = "subscription_renewal_failed"
	WebhookSubscriptionCancelled     WebhookEventType = "subscription_cancelled"
)

// WebhookEvent is the normalized form of a provider webhook payload. Exactly
// one of ProviderPaymentID / ProviderSubscriptionID references the aggregate.
type WebhookEvent struct {
	ProviderEventID        string
	Type                   WebhookEventType
	ProviderPaymentID      string
	ProviderSubscriptionID string
	Amount                 *domain.Money
	PeriodStart            *time.Time
	PeriodEnd              *time.Time
	Reason                 string
	OccurredAt             time.Time
}

// Gateway is the capability set every provider implementation satisfies.
// Calls may block on network I/O; callers impose timeouts and classify
// failures through the *Error type in this package.
type Gateway interface {
	Name() string
	CreatePayment(ctx context.Context, req CreatePaymentRequest) (*PaymentResult, error)
	VerifyPayment(ctx context.Context, providerPaymentID string) (*PaymentResult, error)
	Refund(ctx context.Context, providerPaymentID string, amount domain.Money) (*RefundResult, error)
	ParseWebhook(payload []byte) (*WebhookEvent, error)
}
