package sandbox

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"billing/internal/domain"
	"billing/internal/provider"
)

func testAmount(t *testing.T) domain.Money {
	t.Helper()
	m, err := domain.NewMoney(decimal.NewFromInt(50), "USD")
	require.NoError(t, err)
	return m
}

func TestCreatePaymentDefaultsToProcessing(t *testing.T) {
	g := New()
	res, err := g.CreatePayment(context.Background(), provider.CreatePaymentRequest{
		PaymentID: "pay-1", UserID: "user-1", Amount: testAmount(t),
	})
	require.NoError(t, err)
	assert.Equal(t, provider.ResultProcessing, res.Status)
	assert.Equal(t, "sbx_pay-1", res.ProviderPaymentID)
}

func TestCreatePaymentDeclineOutcome(t *testing.T) {
	g := New()
	_, err := g.CreatePayment(context.Background(), provider.CreatePaymentRequest{
		PaymentID: "pay-1", UserID: "user-1", Amount: testAmount(t),
		Metadata: map[string]string{MetadataOutcomeKey: OutcomeDecline},
	})
	require.Error(t, err)
	assert.True(t, provider.IsPermanent(err))
	assert.Equal(t, "card_declined", provider.CodeOf(err))
}

func TestCreatePaymentRequiresActionOutcome(t *testing.T) {
	g := New()
	res, err := g.CreatePayment(context.Background(), provider.CreatePaymentRequest{
		PaymentID: "pay-1", UserID: "user-1", Amount: testAmount(t),
		Metadata: map[string]string{MetadataOutcomeKey: OutcomeRequiresAction},
	})
	require.NoError(t, err)
	assert.Equal(t, provider.ResultRequiresAction, res.Status)
	assert.NotEmpty(t, res.ClientSecret)
}

func TestVerifyPaymentSettlesAcceptedPayments(t *testing.T) {
	g := New()
	created, err := g.CreatePayment(context.Background(), provider.CreatePaymentRequest{
		PaymentID: "pay-1", UserID: "user-1", Amount: testAmount(t),
	})
	require.NoError(t, err)

	verified, err := g.VerifyPayment(context.Background(), created.ProviderPaymentID)
	require.NoError(t, err)
	assert.Equal(t, provider.ResultSucceeded, verified.Status)

	// Verification is stable once settled.
	again, err := g.VerifyPayment(context.Background(), created.ProviderPaymentID)
	require.NoError(t, err)
	assert.Equal(t, provider.ResultSucceeded, again.Status)
}

func TestVerifyUnknownPayment(t *testing.T) {
	g := New()
	_, err := g.VerifyPayment(context.Background(), "sbx_missing")
	require.Error(t, err)
	assert.True(t, provider.IsPermanent(err))
}

func TestRefundRequiresCapturedPayment(t *testing.T) {
	g := New()
	created, err := g.CreatePayment(context.Background(), provider.CreatePaymentRequest{
		PaymentID: "pay-1", UserID: "user-1", Amount: testAmount(t),
	})
	require.NoError(t, err)

	// Still processing, not refundable yet.
	_, err = g.Refund(context.Background(), created.ProviderPaymentID, testAmount(t))
	require.Error(t, err)
	assert.True(t, provider.IsPermanent(err))

	_, err = g.VerifyPayment(context.Background(), created.ProviderPaymentID)
	require.NoError(t, err)

	res, err := g.Refund(context.Background(), created.ProviderPaymentID, testAmount(t))
	require.NoError(t, err)
	assert.NotEmpty(t, res.ProviderRefundID)
}

func TestParseWebhook(t *testing.T) {
	g := New()
	start := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	payload, err := json.Marshal(map[string]any{
		"id":              "evt_1",
		"type":            "invoice.paid",
		"subscription_id": "psub_1",
		"amount":          "15.00",
		"currency":        "USD",
		"period_start":    start,
		"period_end":      end,
		"created_at":      start,
	})
	require.NoError(t, err)

	event, err := g.ParseWebhook(payload)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", event.ProviderEventID)
	assert.Equal(t, provider.WebhookSubscriptionRenewed, event.Type)
	assert.Equal(t, "psub_1", event.ProviderSubscriptionID)
	require.NotNil(t, event.Amount)
	assert.Equal(t, "15 USD", event.Amount.String())
	require.NotNil(t, event.PeriodStart)
	assert.True(t, event.PeriodStart.Equal(start))
}

func TestParseWebhookRejectsBadPayloads(t *testing.T) {
	g := New()

	_, err := g.ParseWebhook([]byte("not json"))
	assert.Error(t, err)

	_, err = g.ParseWebhook([]byte(`{"type":"payment.succeeded"}`))
	assert.Error(t, err, "missing event id")

	_, err = g.ParseWebhook([]byte(`{"id":"evt_1","type":"payment.exploded"}`))
	assert.Error(t, err, "unknown event type")
}
