package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"billing/internal/domain"
)

type stubGateway struct {
	name string
}

func (g *stubGateway) Name() string { return g.name }
func (g *stubGateway) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*PaymentResult, error) {
	return nil, nil
}
func (g *stubGateway) VerifyPayment(ctx context.Context, providerPaymentID string) (*PaymentResult, error) {
	return nil, nil
}
func (g *stubGateway) Refund(ctx context.Context, providerPaymentID string, amount domain.Money) (*RefundResult, error) {
	return nil, nil
}
func (g *stubGateway) ParseWebhook(payload []byte) (*WebhookEvent, error) { return nil, nil }

func newTestSelector(t *testing.T) *Selector {
	t.Helper()
	s, err := NewSelector(SelectorConfig{
		CurrencyAffinity: map[string]string{"INR": "payu", "BRL": "ebanx"},
		RegionAffinity:   map[string]string{"EU": "adyen"},
		DefaultProvider:  "sandbox",
	},
		&stubGateway{name: "sandbox"},
		&stubGateway{name: "payu"},
		&stubGateway{name: "ebanx"},
		&stubGateway{name: "adyen"},
	)
	require.NoError(t, err)
	return s
}

func TestSelectorRuleOrder(t *testing.T) {
	s := newTestSelector(t)
	tests := []struct {
		name       string
		preference string
		currency   string
		region     string
		want       string
	}{
		{"explicit preference wins over currency", "adyen", "INR", "EU", "adyen"},
		{"currency affinity", "", "INR", "EU", "payu"},
		{"another currency affinity", "", "BRL", "", "ebanx"},
		{"region affinity when no currency rule", "", "USD", "EU", "adyen"},
		{"default fallback", "", "USD", "US", "sandbox"},
		{"default with empty inputs", "", "", "", "sandbox"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := s.Select(tt.preference, tt.currency, tt.region)
			require.NoError(t, err)
			assert.Equal(t, tt.want, g.Name())
		})
	}
}

func TestSelectorIsDeterministic(t *testing.T) {
	s := newTestSelector(t)
	first, err := s.Select("", "INR", "EU")
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		g, err := s.Select("", "INR", "EU")
		require.NoError(t, err)
		assert.Equal(t, first.Name(), g.Name())
	}
}

func TestSelectorUnknownPreference(t *testing.T) {
	s := newTestSelector(t)
	_, err := s.Select("stripe", "USD", "")
	assert.Error(t, err)
}

func TestSelectorConfigValidation(t *testing.T) {
	_, err := NewSelector(SelectorConfig{DefaultProvider: "sandbox"})
	assert.Error(t, err, "no gateways")

	_, err = NewSelector(SelectorConfig{DefaultProvider: "missing"}, &stubGateway{name: "sandbox"})
	assert.Error(t, err, "default not registered")

	_, err = NewSelector(SelectorConfig{
		CurrencyAffinity: map[string]string{"INR": "payu"},
		DefaultProvider:  "sandbox",
	}, &stubGateway{name: "sandbox"})
	assert.Error(t, err, "affinity references unregistered provider")

	_, err = NewSelector(SelectorConfig{DefaultProvider: "sandbox"},
		&stubGateway{name: "sandbox"}, &stubGateway{name: "sandbox"})
	assert.Error(t, err, "duplicate registration")
}

func TestSelectorGet(t *testing.T) {
	s := newTestSelector(t)
	g, err := s.Get("payu")
	require.NoError(t, err)
	assert.Equal(t, "payu", g.Name())

	_, err = s.Get("stripe")
	assert.Error(t, err)
}
