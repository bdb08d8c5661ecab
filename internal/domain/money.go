package domain

import (
	"github.com/shopspring/decimal"
)

// Money is a decimal amount in a single ISO 4217 currency. Values are
// immutable; arithmetic returns new values and never mixes currencies.
type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// NewMoney validates and builds a Money value. The amount must be positive
// for charges and refunds; zero and negative amounts are rejected here and
// represented only as derived values (e.g. remaining refundable balance).
func NewMoney(amount decimal.Decimal, currency string) (Money, error) {
	if !amount.IsPositive() {
		return Money{}, NewValidationError("amount", "must be greater than zero, got %s", amount)
	}
	if err := validateCurrency(currency); err != nil {
		return Money{}, err
	}
	return Money{Amount: amount, Currency: currency}, nil
}

// MoneyFromString parses a decimal string amount, e.g. "99.99".
func MoneyFromString(amount, currency string) (Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, NewValidationError("amount", "not a decimal number: %q", amount)
	}
	return NewMoney(d, currency)
}

func validateCurrency(currency string) error {
	if len(currency) != 3 {
		return NewValidationError("currency", "must be a 3-letter ISO 4217 code, got %q", currency)
	}
	for _, c := range currency {
		if c < 'A' || c > 'Z' {
			return NewValidationError("currency", "must be uppercase letters, got %q", currency)
		}
	}
	return nil
}

func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, NewDomainViolation("currency_mismatch", "cannot add %s to %s", other.Currency, m.Currency)
	}
	return Money{Amount: m.Amount.Add(other.Amount), Currency: m.Currency}, nil
}

func (m Money) Sub(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, NewDomainViolation("currency_mismatch", "cannot subtract %s from %s", other.Currency, m.Currency)
	}
	return Money{Amount: m.Amount.Sub(other.Amount), Currency: m.Currency}, nil
}

// Cmp returns -1, 0 or 1. Both values must share a currency.
func (m Money) Cmp(other Money) (int, error) {
	if m.Currency != other.Currency {
		return 0, NewDomainViolation("currency_mismatch", "cannot compare %s with %s", other.Currency, m.Currency)
	}
	return m.Amount.Cmp(other.Amount), nil
}

func (m Money) Equal(other Money) bool {
	return m.Currency == other.Currency && m.Amount.Equal(other.Amount)
}

func (m Money) IsZero() bool     { return m.Amount.IsZero() }
func (m Money) IsPositive() bool { return m.Amount.IsPositive() }

func (m Money) String() string {
	return m.Amount.String() + " " + m.Currency
}
