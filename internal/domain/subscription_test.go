package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSubscription(t *testing.T, trialStart, trialEnd *time.Time) *Subscription {
	t.Helper()
	amount, err := NewMoney(decimal.NewFromInt(15), "USD")
	require.NoError(t, err)
	now := time.Now()
	sub, result, err := NewSubscription("sub-1", "user-1", "plan-pro", "sandbox",
		BillingIntervalMonthly, amount, now, now.AddDate(0, 1, 0), trialStart, trialEnd, nil, now)
	require.NoError(t, err)
	require.Equal(t, EventSubscriptionCreated, result.Event.Type)
	return sub
}

func activeSubscription(t *testing.T) *Subscription {
	t.Helper()
	sub := newTestSubscription(t, nil, nil)
	_, err := sub.Activate("psub-1", time.Now())
	require.NoError(t, err)
	require.Equal(t, SubscriptionStatusActive, sub.Status)
	return sub
}

func TestNewSubscriptionValidation(t *testing.T) {
	amount, err := NewMoney(decimal.NewFromInt(15), "USD")
	require.NoError(t, err)
	now := time.Now()

	_, _, err = NewSubscription("s", "u", "p", "sandbox", BillingIntervalMonthly, amount,
		now, now.Add(-time.Hour), nil, nil, nil, now)
	assert.Error(t, err, "period end before start")

	_, _, err = NewSubscription("s", "u", "p", "sandbox", "WEEKLY", amount,
		now, now.AddDate(0, 1, 0), nil, nil, nil, now)
	assert.Error(t, err, "unknown interval")

	_, _, err = NewSubscription("s", "u", "p", "sandbox", BillingIntervalMonthly, amount,
		now, now.AddDate(0, 1, 0), &now, nil, nil, now)
	assert.Error(t, err, "trial start without end")
}

func TestActivateWithoutTrialChargesImmediately(t *testing.T) {
	sub := newTestSubscription(t, nil, nil)
	result, err := sub.Activate("psub-1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, SubscriptionStatusActive, sub.Status)
	assert.Equal(t, EventSubscriptionActivated, result.Event.Type)
	require.NotNil(t, result.Transaction)
	assert.Equal(t, TransactionTypeCharge, result.Transaction.Type)
	assert.Equal(t, sub.ID, result.Transaction.SubscriptionID)
}

func TestActivateInsideTrialWindowSkipsCharge(t *testing.T) {
	now := time.Now()
	trialEnd := now.AddDate(0, 0, 14)
	sub := newTestSubscription(t, &now, &trialEnd)

	result, err := sub.Activate("psub-1", now)
	require.NoError(t, err)
	assert.Equal(t, SubscriptionStatusTrialing, sub.Status)
	assert.Nil(t, result.Transaction, "trial activation must not charge")

	_, err = sub.EndTrial(trialEnd)
	require.NoError(t, err)
	assert.Equal(t, SubscriptionStatusActive, sub.Status)
}

func TestActivateIsIdempotent(t *testing.T) {
	sub := activeSubscription(t)
	result, err := sub.Activate("psub-1", time.Now())
	require.NoError(t, err)
	assert.True(t, result.IsEcho())
}

func TestRenewalSucceededAdvancesPeriod(t *testing.T) {
	sub := activeSubscription(t)
	now := time.Now()
	newStart := sub.CurrentPeriodEnd
	newEnd := newStart.AddDate(0, 1, 0)

	result, err := sub.RenewalSucceeded(newStart, newEnd, "inv-2", now)
	require.NoError(t, err)
	assert.Equal(t, SubscriptionStatusActive, sub.Status)
	assert.Equal(t, newStart, sub.CurrentPeriodStart)
	assert.Equal(t, newEnd, sub.CurrentPeriodEnd)
	assert.Equal(t, EventSubscriptionRenewed, result.Event.Type)
	require.NotNil(t, result.Transaction)
	assert.Equal(t, TransactionTypeCharge, result.Transaction.Type)
}

func TestRenewalFailuresExpireAfterBudget(t *testing.T) {
	sub := activeSubscription(t)
	now := time.Now()

	for i := 1; i < MaxFailedRenewals; i++ {
		result, err := sub.RenewalFailed("card_declined", now)
		require.NoError(t, err)
		assert.Equal(t, SubscriptionStatusPastDue, sub.Status)
		assert.Equal(t, i, sub.FailedRenewalCount)
		assert.Equal(t, EventSubscriptionPastDue, result.Event.Type)
	}

	result, err := sub.RenewalFailed("card_declined", now)
	require.NoError(t, err)
	assert.Equal(t, SubscriptionStatusExpired, sub.Status)
	assert.Equal(t, EventSubscriptionExpired, result.Event.Type)
	assert.NotNil(t, sub.EndedAt)
}

func TestRenewalSuccessResetsFailureCount(t *testing.T) {
	sub := activeSubscription(t)
	now := time.Now()

	_, err := sub.RenewalFailed("card_declined", now)
	require.NoError(t, err)
	require.Equal(t, SubscriptionStatusPastDue, sub.Status)

	_, err = sub.RenewalSucceeded(sub.CurrentPeriodEnd, sub.CurrentPeriodEnd.AddDate(0, 1, 0), "inv-3", now)
	require.NoError(t, err)
	assert.Equal(t, SubscriptionStatusActive, sub.Status)
	assert.Equal(t, 0, sub.FailedRenewalCount)
}

func TestCancelImmediately(t *testing.T) {
	sub := activeSubscription(t)
	result, err := sub.Cancel(false, "user requested", time.Now())
	require.NoError(t, err)
	assert.Equal(t, SubscriptionStatusCancelled, sub.Status)
	assert.NotNil(t, sub.CancelledAt)
	assert.Equal(t, EventSubscriptionCancelled, result.Event.Type)
}

func TestCancelAtPeriodEndStaysActiveUntilMaterialized(t *testing.T) {
	sub := activeSubscription(t)
	now := time.Now()

	_, err := sub.Cancel(true, "user requested", now)
	require.NoError(t, err)
	assert.Equal(t, SubscriptionStatusActive, sub.Status)
	assert.True(t, sub.CancelAtPeriodEnd)
	assert.Nil(t, sub.CancelledAt)

	// Before the period elapses nothing happens.
	result, err := sub.MaterializePeriodEnd(sub.CurrentPeriodEnd.Add(-time.Hour))
	require.NoError(t, err)
	assert.True(t, result.IsEcho())
	assert.Equal(t, SubscriptionStatusActive, sub.Status)

	result, err = sub.MaterializePeriodEnd(sub.CurrentPeriodEnd.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, SubscriptionStatusCancelled, sub.Status)
	assert.Equal(t, EventSubscriptionCancelled, result.Event.Type)
	assert.NotNil(t, sub.CancelledAt)
}

func TestCancelIncompleteRejected(t *testing.T) {
	sub := newTestSubscription(t, nil, nil)
	_, err := sub.Cancel(false, "nope", time.Now())
	require.Error(t, err)
	assert.True(t, IsDomainViolation(err))
	assert.Equal(t, SubscriptionStatusIncomplete, sub.Status)
}

func TestExpireIncomplete(t *testing.T) {
	sub := newTestSubscription(t, nil, nil)
	result, err := sub.ExpireIncomplete("first payment never succeeded", time.Now())
	require.NoError(t, err)
	assert.Equal(t, SubscriptionStatusExpired, sub.Status)
	assert.Equal(t, EventSubscriptionExpired, result.Event.Type)

	_, err = sub.Activate("psub-1", time.Now())
	require.Error(t, err, "expired subscription cannot activate")
}
