// Package sandbox is an in-process reference gateway. It emulates a payment
// provider deterministically so the service can run without external
// credentials, and it backs the orchestrator tests.
package sandbox

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"billing/internal/domain"
	"billing/internal/provider"
	"billing/internal/util"
)

const Name = "sandbox"

// Outcome overrides let callers steer the emulated provider via payment
// metadata.
const (
	MetadataOutcomeKey    = "sandbox_outcome"
	OutcomeSucceed        = "succeed"
	OutcomeDecline        = "decline"
	OutcomeRequiresAction = "requires_action"
)

type paymentState struct {
	status   provider.ResultStatus
	refunded bool
}

// Gateway implements provider.Gateway against in-memory state.
type Gateway struct {
	mu       sync.Mutex
	payments map[string]*paymentState
}

func New() *Gateway {
	return &Gateway{payments: make(map[string]*paymentState)}
}

func (g *Gateway) Name() string { return Name }

func (g *Gateway) CreatePayment(ctx context.Context, req provider.CreatePaymentRequest) (*provider.PaymentResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, provider.NewTransientError(Name, "context", "create aborted", err)
	}
	if req.Metadata[MetadataOutcomeKey] == OutcomeDecline {
		return nil, provider.NewPermanentError(Name, "card_declined", "sandbox decline requested")
	}

	id := "sbx_" + req.PaymentID
	status := provider.ResultProcessing
	clientSecret := ""
	if req.Metadata[MetadataOutcomeKey] == OutcomeRequiresAction {
		status = provider.ResultRequiresAction
		clientSecret = "sbx_secret_" + util.GenerateUUID()
	}

	g.mu.Lock()
	g.payments[id] = &paymentState{status: status}
	g.mu.Unlock()

	return &provider.PaymentResult{
		ProviderPaymentID: id,
		Status:            status,
		ClientSecret:      clientSecret,
	}, nil
}

// VerifyPayment reports the authoritative sandbox state. Payments the sandbox
// has accepted confirm on first verification, mirroring an instantly settling
// provider.
func (g *Gateway) VerifyPayment(ctx context.Context, providerPaymentID string) (*provider.PaymentResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, provider.NewTransientError(Name, "context", "verify aborted", err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	state, ok := g.payments[providerPaymentID]
	if !ok {
		return nil, provider.NewPermanentError(Name, "not_found", "unknown sandbox payment "+providerPaymentID)
	}
	if state.status == provider.ResultProcessing || state.status == provider.ResultRequiresAction {
		state.status = provider.ResultSucceeded
	}
	return &provider.PaymentResult{
		ProviderPaymentID: providerPaymentID,
		Status:            state.status,
	}, nil
}

func (g *Gateway) Refund(ctx context.Context, providerPaymentID string, amount domain.Money) (*provider.RefundResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, provider.NewTransientError(Name, "context", "refund aborted", err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	state, ok := g.payments[providerPaymentID]
	if !ok {
		return nil, provider.NewPermanentError(Name, "not_found", "unknown sandbox payment "+providerPaymentID)
	}
	if state.status != provider.ResultSucceeded {
		return nil, provider.NewPermanentError(Name, "not_refundable", "sandbox payment not captured")
	}
	state.refunded = true
	return &provider.RefundResult{ProviderRefundID: "sbxr_" + util.GenerateUUID()}, nil
}

// webhookPayload is the sandbox wire format.
type webhookPayload struct {
	ID             string     `json:"id"`
	Type           string     `json:"type"`
	PaymentID      string     `json:"payment_id,omitempty"`
	SubscriptionID string     `json:"subscription_id,omitempty"`
	Amount         string     `json:"amount,omitempty"`
	Currency       string     `json:"currency,omitempty"`
	PeriodStart    *time.Time `json:"period_start,omitempty"`
	PeriodEnd      *time.Time `json:"period_end,omitempty"`
	Reason         string     `json:"reason,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

var eventTypes = map[string]provider.WebhookEventType{
	"payment.succeeded":       provider.WebhookPaymentSucceeded,
	"payment.failed":          provider.WebhookPaymentFailed,
	"payment.requires_action": provider.WebhookPaymentRequiresAction,
	"invoice.paid":            provider.WebhookSubscriptionRenewed,
	"invoice.payment_failed":  provider.WebhookSubscriptionRenewalFailed,
	"subscription.cancelled":  provider.WebhookSubscriptionCancelled,
}

func (g *Gateway) ParseWebhook(payload []byte) (*provider.WebhookEvent, error) {
	var raw webhookPayload
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, provider.NewPermanentError(Name, "malformed_payload", err.Error())
	}
	if raw.ID == "" {
		return nil, provider.NewPermanentError(Name, "missing_event_id", "webhook payload has no id")
	}
	eventType, ok := eventTypes[raw.Type]
	if !ok {
		return nil, provider.NewPermanentError(Name, "unknown_event_type", "unsupported sandbox event "+raw.Type)
	}

	event := &provider.WebhookEvent{
		ProviderEventID:        raw.ID,
		Type:                   eventType,
		ProviderPaymentID:      raw.PaymentID,
		ProviderSubscriptionID: raw.SubscriptionID,
		PeriodStart:            raw.PeriodStart,
		PeriodEnd:              raw.PeriodEnd,
		Reason:                 raw.Reason,
		OccurredAt:             raw.CreatedAt,
	}
	if raw.Amount != "" {
		amount, err := domain.MoneyFromString(raw.Amount, raw.Currency)
		if err != nil {
			return nil, provider.NewPermanentError(Name, "malformed_amount", err.Error())
		}
		event.Amount = &amount
	}
	return event, nil
}
