package payments

import (
	"time"

	"billing/internal/domain"
)

// PaymentView is the API representation of a payment. Stored verbatim as the
// idempotent response body, so field changes affect replayed responses too.
type PaymentView struct {
	ID                string            `json:"id"`
	UserID            string            `json:"user_id"`
	Amount            string            `json:"amount"`
	Currency          string            `json:"currency"`
	Status            string            `json:"status"`
	Provider          string            `json:"provider"`
	ProviderPaymentID string            `json:"provider_payment_id,omitempty"`
	ClientSecret      string            `json:"client_secret,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	RefundedAmount    string            `json:"refunded_amount"`
	ErrorCode         string            `json:"error_code,omitempty"`
	ErrorMessage      string            `json:"error_message,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

func NewPaymentView(p *domain.Payment) PaymentView {
	return PaymentView{
		ID:                p.ID,
		UserID:            p.UserID,
		Amount:            p.Amount.Amount.String(),
		Currency:          p.Amount.Currency,
		Status:            string(p.Status),
		Provider:          p.Provider,
		ProviderPaymentID: p.ProviderPaymentID,
		ClientSecret:      p.ClientSecret,
		Metadata:          p.Metadata,
		RefundedAmount:    p.RefundedAmount.String(),
		ErrorCode:         p.ErrorCode,
		ErrorMessage:      p.ErrorMessage,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
	}
}
