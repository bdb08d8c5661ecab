package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"billing/internal/util"
)

type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "PENDING"
	PaymentStatusProcessing        PaymentStatus = "PROCESSING"
	PaymentStatusRequiresAction    PaymentStatus = "REQUIRES_ACTION"
	PaymentStatusSucceeded         PaymentStatus = "SUCCEEDED"
	PaymentStatusFailed            PaymentStatus = "FAILED"
	PaymentStatusCancelled         PaymentStatus = "CANCELLED"
	PaymentStatusRefunded          PaymentStatus = "REFUNDED"
	PaymentStatusPartiallyRefunded PaymentStatus = "PARTIALLY_REFUNDED"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusProcessing, PaymentStatusRequiresAction,
		PaymentStatusSucceeded, PaymentStatusFailed, PaymentStatusCancelled,
		PaymentStatusRefunded, PaymentStatusPartiallyRefunded:
		return true
	}
	return false
}

// IsTerminal reports whether no further provider-driven transition applies.
// Refunds still apply to SUCCEEDED and PARTIALLY_REFUNDED.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusFailed, PaymentStatusCancelled, PaymentStatusRefunded:
		return true
	}
	return false
}

const (
	maxMetadataKeys     = 50
	maxMetadataKeyLen   = 64
	maxMetadataValueLen = 512
)

// Payment is the payment aggregate. All mutations go through the transition
// methods below; the Version column serializes concurrent writers at persist
// time. Payments are never physically deleted.
type Payment struct {
	ID                string
	UserID            string
	Amount            Money
	Status            PaymentStatus
	Provider          string
	ProviderPaymentID string
	ClientSecret      string
	Metadata          map[string]string
	RefundedAmount    decimal.Decimal
	ErrorCode         string
	ErrorMessage      string
	Version           int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
	SucceededAt       *time.Time
	FailedAt          *time.Time
	RefundedAt        *time.Time
}

// NewPayment creates a payment in PENDING, pinned to the given provider, and
// stages the payment.created event plus the provider create-call instruction.
func NewPayment(id, userID string, amount Money, provider string, metadata map[string]string, now time.Time) (*Payment, *TransitionResult, error) {
	if userID == "" {
		return nil, nil, NewValidationError("user_id", "must not be empty")
	}
	if provider == "" {
		return nil, nil, NewValidationError("provider", "must not be empty")
	}
	if err := validateMetadata(metadata); err != nil {
		return nil, nil, err
	}

	p := &Payment{
		ID:             id,
		UserID:         userID,
		Amount:         amount,
		Status:         PaymentStatusPending,
		Provider:       provider,
		Metadata:       metadata,
		RefundedAmount: decimal.Zero,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	result := &TransitionResult{
		Event: p.newEvent(EventPaymentCreated, now, ""),
		Instruction: &Instruction{
			Op:       InstructionCreatePayment,
			Provider: provider,
		},
	}
	return p, result, nil
}

func validateMetadata(metadata map[string]string) error {
	if len(metadata) > maxMetadataKeys {
		return NewValidationError("metadata", "at most %d keys allowed, got %d", maxMetadataKeys, len(metadata))
	}
	for k, v := range metadata {
		if len(k) == 0 || len(k) > maxMetadataKeyLen {
			return NewValidationError("metadata", "key length must be 1..%d", maxMetadataKeyLen)
		}
		if len(v) > maxMetadataValueLen {
			return NewValidationError("metadata", "value for %q exceeds %d bytes", k, maxMetadataValueLen)
		}
	}
	return nil
}

// MarkProcessing records provider acceptance. PENDING or REQUIRES_ACTION move
// to PROCESSING; an already-PROCESSING payment is an echo.
func (p *Payment) MarkProcessing(providerPaymentID string, now time.Time) (*TransitionResult, error) {
	if p.Status == PaymentStatusProcessing {
		return &TransitionResult{}, nil
	}
	if p.Status != PaymentStatusPending && p.Status != PaymentStatusRequiresAction {
		return nil, p.invalidTransition(PaymentStatusProcessing)
	}
	p.Status = PaymentStatusProcessing
	p.setProviderPaymentID(providerPaymentID)
	p.UpdatedAt = now
	return &TransitionResult{Event: p.newEvent(EventPaymentProcessing, now, "")}, nil
}

// MarkRequiresAction records that the provider needs further customer action
// (e.g. 3-D Secure). The client secret lets the caller complete the action.
func (p *Payment) MarkRequiresAction(providerPaymentID, clientSecret string, now time.Time) (*TransitionResult, error) {
	if p.Status == PaymentStatusRequiresAction {
		return &TransitionResult{}, nil
	}
	if p.Status != PaymentStatusPending && p.Status != PaymentStatusProcessing {
		return nil, p.invalidTransition(PaymentStatusRequiresAction)
	}
	p.Status = PaymentStatusRequiresAction
	p.setProviderPaymentID(providerPaymentID)
	p.ClientSecret = clientSecret
	p.UpdatedAt = now
	return &TransitionResult{Event: p.newEvent(EventPaymentRequiresAction, now, "")}, nil
}

// MarkSucceeded records provider confirmation and appends the charge
// transaction. Confirming an already-succeeded payment is an echo.
func (p *Payment) MarkSucceeded(providerPaymentID string, now time.Time) (*TransitionResult, error) {
	if p.Status == PaymentStatusSucceeded {
		return &TransitionResult{}, nil
	}
	if p.Status != PaymentStatusPending && p.Status != PaymentStatusProcessing && p.Status != PaymentStatusRequiresAction {
		return nil, p.invalidTransition(PaymentStatusSucceeded)
	}
	p.Status = PaymentStatusSucceeded
	p.setProviderPaymentID(providerPaymentID)
	p.ErrorCode = ""
	p.ErrorMessage = ""
	p.SucceededAt = &now
	p.UpdatedAt = now

	charge, err := NewPaymentTransaction(util.GenerateUUID(), p.ID, TransactionTypeCharge, p.Amount, p.Provider, p.ProviderPaymentID, now)
	if err != nil {
		return nil, err
	}
	return &TransitionResult{
		Event:       p.newEvent(EventPaymentSucceeded, now, ""),
		Transaction: charge,
	}, nil
}

// MarkFailed records a decline or timeout. Failing an already-failed payment
// is an echo.
func (p *Payment) MarkFailed(code, message string, now time.Time) (*TransitionResult, error) {
	if p.Status == PaymentStatusFailed {
		return &TransitionResult{}, nil
	}
	if p.Status != PaymentStatusPending && p.Status != PaymentStatusProcessing && p.Status != PaymentStatusRequiresAction {
		return nil, p.invalidTransition(PaymentStatusFailed)
	}
	p.Status = PaymentStatusFailed
	p.ErrorCode = code
	p.ErrorMessage = message
	p.FailedAt = &now
	p.UpdatedAt = now
	return &TransitionResult{Event: p.newEvent(EventPaymentFailed, now, "")}, nil
}

// Cancel aborts a payment before capture.
func (p *Payment) Cancel(now time.Time) (*TransitionResult, error) {
	if p.Status != PaymentStatusPending && p.Status != PaymentStatusProcessing && p.Status != PaymentStatusRequiresAction {
		return nil, p.invalidTransition(PaymentStatusCancelled)
	}
	p.Status = PaymentStatusCancelled
	p.UpdatedAt = now
	return &TransitionResult{Event: p.newEvent(EventPaymentCancelled, now, "")}, nil
}

// RemainingRefundable returns how much of the captured amount can still be
// refunded.
func (p *Payment) RemainingRefundable() decimal.Decimal {
	return p.Amount.Amount.Sub(p.RefundedAmount)
}

// Refund applies a refund against the remaining refundable balance. A refund
// equal to the remainder moves the payment to REFUNDED; a lesser amount to
// PARTIALLY_REFUNDED. Stages the refund transaction, the matching event, and
// the provider refund instruction.
func (p *Payment) Refund(amount Money, now time.Time) (*TransitionResult, error) {
	if p.Status != PaymentStatusSucceeded && p.Status != PaymentStatusPartiallyRefunded {
		return nil, p.invalidTransition(PaymentStatusRefunded)
	}
	if amount.Currency != p.Amount.Currency {
		return nil, NewDomainViolation("refund_currency", "refund currency %s does not match payment currency %s", amount.Currency, p.Amount.Currency)
	}
	if !amount.IsPositive() {
		return nil, NewDomainViolation("refund_amount", "refund amount must be positive, got %s", amount.Amount)
	}
	remaining := p.RemainingRefundable()
	if amount.Amount.GreaterThan(remaining) {
		return nil, NewDomainViolation("refund_exceeds_balance", "refund %s exceeds remaining refundable %s", amount.Amount, remaining)
	}

	p.RefundedAmount = p.RefundedAmount.Add(amount.Amount)
	txType := TransactionTypePartialRefund
	eventType := EventPaymentPartiallyRefunded
	if amount.Amount.Equal(remaining) {
		p.Status = PaymentStatusRefunded
		p.RefundedAt = &now
		txType = TransactionTypeRefund
		eventType = EventPaymentRefunded
	} else {
		p.Status = PaymentStatusPartiallyRefunded
	}
	p.UpdatedAt = now

	refundTx, err := NewPaymentTransaction(util.GenerateUUID(), p.ID, txType, amount, p.Provider, p.ProviderPaymentID, now)
	if err != nil {
		return nil, err
	}
	return &TransitionResult{
		Event:       p.newEvent(eventType, now, amount.Amount.String()),
		Transaction: refundTx,
		Instruction: &Instruction{
			Op:                InstructionRefund,
			Provider:          p.Provider,
			ProviderPaymentID: p.ProviderPaymentID,
			Amount:            &amount,
		},
	}, nil
}

// ReverseRefund compensates a refund whose provider call failed permanently
// after the local transition had committed. The refunded amount is restored
// and an adjustment transaction records the reversal.
func (p *Payment) ReverseRefund(amount Money, code, message string, now time.Time) (*TransitionResult, error) {
	if p.Status != PaymentStatusRefunded && p.Status != PaymentStatusPartiallyRefunded {
		return nil, p.invalidTransition(PaymentStatusSucceeded)
	}
	if amount.Amount.GreaterThan(p.RefundedAmount) {
		return nil, NewDomainViolation("refund_reversal", "cannot reverse %s, only %s refunded", amount.Amount, p.RefundedAmount)
	}

	p.RefundedAmount = p.RefundedAmount.Sub(amount.Amount)
	if p.RefundedAmount.IsZero() {
		p.Status = PaymentStatusSucceeded
		p.RefundedAt = nil
	} else {
		p.Status = PaymentStatusPartiallyRefunded
	}
	p.ErrorCode = code
	p.ErrorMessage = message
	p.UpdatedAt = now

	adjustment, err := NewPaymentTransaction(util.GenerateUUID(), p.ID, TransactionTypeAdjustment, amount, p.Provider, p.ProviderPaymentID, now)
	if err != nil {
		return nil, err
	}
	return &TransitionResult{
		Event:       p.newEvent(EventPaymentRefundFailed, now, amount.Amount.String()),
		Transaction: adjustment,
	}, nil
}

func (p *Payment) setProviderPaymentID(id string) {
	if id != "" {
		p.ProviderPaymentID = id
	}
}

func (p *Payment) invalidTransition(target PaymentStatus) error {
	return NewDomainViolation("invalid_transition", "payment %s cannot move from %s to %s", p.ID, p.Status, target)
}

func (p *Payment) newEvent(eventType string, now time.Time, refundAmount string) *Event {
	return &Event{
		ID:            util.GenerateUUID(),
		Type:          eventType,
		OccurredAt:    now,
		AggregateID:   p.ID,
		AggregateType: AggregateTypePayment,
		Payload: PaymentEventPayload{
			PaymentID:    p.ID,
			UserID:       p.UserID,
			Amount:       p.Amount.Amount.String(),
			Currency:     p.Amount.Currency,
			Status:       string(p.Status),
			Provider:     p.Provider,
			ErrorCode:    p.ErrorCode,
			ErrorMessage: p.ErrorMessage,
			RefundAmount: refundAmount,
		},
	}
}
