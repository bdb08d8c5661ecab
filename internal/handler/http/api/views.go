package api

import (
	"time"

	"billing/internal/domain"
)

type TransactionView struct {
	ID             string    `json:"id"`
	PaymentID      string    `json:"payment_id,omitempty"`
	SubscriptionID string    `json:"subscription_id,omitempty"`
	Type           string    `json:"type"`
	Amount         string    `json:"amount"`
	Currency       string    `json:"currency"`
	Provider       string    `json:"provider"`
	ProviderRef    string    `json:"provider_ref,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func NewTransactionViews(transactions []domain.Transaction) []TransactionView {
	views := make([]TransactionView, 0, len(transactions))
	for _, tx := range transactions {
		views = append(views, TransactionView{
			ID:             tx.ID,
			PaymentID:      tx.PaymentID,
			SubscriptionID: tx.SubscriptionID,
			Type:           string(tx.Type),
			Amount:         tx.Amount.Amount.String(),
			Currency:       tx.Amount.Currency,
			Provider:       tx.Provider,
			ProviderRef:    tx.ProviderRef,
			CreatedAt:      tx.CreatedAt,
		})
	}
	return views
}
