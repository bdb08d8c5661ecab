package domain

import "time"

type TransactionType string

const (
	TransactionTypeCharge        TransactionType = "CHARGE"
	TransactionTypeRefund        TransactionType = "REFUND"
	TransactionTypePartialRefund TransactionType = "PARTIAL_REFUND"
	TransactionTypePayout        TransactionType = "PAYOUT"
	TransactionTypeAdjustment    TransactionType = "ADJUSTMENT"
)

// Transaction is an immutable record of a single financial movement. It is
// tied to exactly one of Payment or Subscription, never both and never
// neither, and is created only as a side effect of a state transition.
type Transaction struct {
	ID             string
	PaymentID      string
	SubscriptionID string
	Type           TransactionType
	Amount         Money
	Provider       string
	ProviderRef    string
	CreatedAt      time.Time
}

// NewPaymentTransaction builds a transaction owned by a payment.
func NewPaymentTransaction(id, paymentID string, txType TransactionType, amount Money, provider, providerRef string, at time.Time) (*Transaction, error) {
	if paymentID == "" {
		return nil, NewDomainViolation("transaction_parent", "payment transaction requires a payment id")
	}
	return &Transaction{
		ID:          id,
		PaymentID:   paymentID,
		Type:        txType,
		Amount:      amount,
		Provider:    provider,
		ProviderRef: providerRef,
		CreatedAt:   at,
	}, nil
}

// NewSubscriptionTransaction builds a transaction owned by a subscription.
func NewSubscriptionTransaction(id, subscriptionID string, txType TransactionType, amount Money, provider, providerRef string, at time.Time) (*Transaction, error) {
	if subscriptionID == "" {
		return nil, NewDomainViolation("transaction_parent", "subscription transaction requires a subscription id")
	}
	return &Transaction{
		ID:             id,
		SubscriptionID: subscriptionID,
		Type:           txType,
		Amount:         amount,
		Provider:       provider,
		ProviderRef:    providerRef,
		CreatedAt:      at,
	}, nil
}
