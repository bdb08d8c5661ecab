package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMoneyValidation(t *testing.T) {
	tests := []struct {
		name     string
		amount   decimal.Decimal
		currency string
		wantErr  bool
	}{
		{"valid", decimal.NewFromInt(10), "USD", false},
		{"fractional", decimal.RequireFromString("19.99"), "EUR", false},
		{"zero amount", decimal.Zero, "USD", true},
		{"negative amount", decimal.NewFromInt(-5), "USD", true},
		{"lowercase currency", decimal.NewFromInt(10), "usd", true},
		{"short currency", decimal.NewFromInt(10), "US", true},
		{"long currency", decimal.NewFromInt(10), "USDT", true},
		{"empty currency", decimal.NewFromInt(10), "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMoney(tt.amount, tt.currency)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMoneyFromString(t *testing.T) {
	m, err := MoneyFromString("99.99", "USD")
	require.NoError(t, err)
	assert.True(t, m.Amount.Equal(decimal.RequireFromString("99.99")))

	_, err = MoneyFromString("not-a-number", "USD")
	assert.Error(t, err)
}

func TestMoneyArithmeticRejectsMixedCurrencies(t *testing.T) {
	usd, err := NewMoney(decimal.NewFromInt(10), "USD")
	require.NoError(t, err)
	eur, err := NewMoney(decimal.NewFromInt(10), "EUR")
	require.NoError(t, err)

	_, err = usd.Add(eur)
	assert.True(t, IsDomainViolation(err))
	_, err = usd.Sub(eur)
	assert.True(t, IsDomainViolation(err))
	_, err = usd.Cmp(eur)
	assert.True(t, IsDomainViolation(err))
	assert.False(t, usd.Equal(eur))
}

func TestMoneyArithmetic(t *testing.T) {
	a, err := NewMoney(decimal.RequireFromString("10.50"), "USD")
	require.NoError(t, err)
	b, err := NewMoney(decimal.RequireFromString("0.25"), "USD")
	require.NoError(t, err)

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.Equal(t, "10.75 USD", sum.String())

	diff, err := a.Sub(b)
	require.NoError(t, err)
	assert.Equal(t, "10.25 USD", diff.String())

	cmp, err := a.Cmp(b)
	require.NoError(t, err)
	assert.Equal(t, 1, cmp)
}

func TestRequestFingerprint(t *testing.T) {
	base := RequestFingerprint("POST", "/payments", []byte(`{"amount":"10"}`))
	assert.Equal(t, base, RequestFingerprint("POST", "/payments", []byte(`{"amount":"10"}`)),
		"identical requests must fingerprint identically")

	assert.NotEqual(t, base, RequestFingerprint("POST", "/payments", []byte(`{"amount":"11"}`)))
	assert.NotEqual(t, base, RequestFingerprint("PUT", "/payments", []byte(`{"amount":"10"}`)))
	assert.NotEqual(t, base, RequestFingerprint("POST", "/refunds", []byte(`{"amount":"10"}`)))
}
