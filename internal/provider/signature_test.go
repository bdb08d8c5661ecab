package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier(map[string]SignatureConfig{
		"sandbox": {Secret: "test-secret", Digest: "sha256"},
		"legacy":  {Secret: "legacy-secret", Digest: "md5"},
		"strong":  {Secret: "strong-secret", Digest: "sha512"},
	})
	require.NoError(t, err)
	return v
}

func TestVerifySignedPayload(t *testing.T) {
	v := newTestVerifier(t)
	payload := []byte(`{"id":"evt_1","type":"payment.succeeded"}`)

	for _, name := range []string{"sandbox", "legacy", "strong"} {
		sig, err := v.Sign(name, payload)
		require.NoError(t, err)
		assert.True(t, v.Verify(name, payload, sig), "provider %s", name)
	}
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	v := newTestVerifier(t)
	payload := []byte(`{"id":"evt_1","amount":"10.00"}`)
	sig, err := v.Sign("sandbox", payload)
	require.NoError(t, err)

	tampered := []byte(`{"id":"evt_1","amount":"99.99"}`)
	assert.False(t, v.Verify("sandbox", tampered, sig))
}

func TestVerifyRejectsBadHeaders(t *testing.T) {
	v := newTestVerifier(t)
	payload := []byte(`{}`)
	sig, err := v.Sign("sandbox", payload)
	require.NoError(t, err)

	assert.False(t, v.Verify("sandbox", payload, ""))
	assert.False(t, v.Verify("sandbox", payload, "not-hex!"))
	assert.False(t, v.Verify("sandbox", payload, sig[:len(sig)-2]))
	assert.False(t, v.Verify("unknown-provider", payload, sig))
	// A signature minted with another provider's secret must not validate.
	other, err := v.Sign("legacy", payload)
	require.NoError(t, err)
	assert.False(t, v.Verify("sandbox", payload, other))
}

func TestVerifierConfigValidation(t *testing.T) {
	_, err := NewVerifier(map[string]SignatureConfig{"p": {Secret: "", Digest: "sha256"}})
	assert.Error(t, err, "empty secret")

	_, err = NewVerifier(map[string]SignatureConfig{"p": {Secret: "s", Digest: "sha1"}})
	assert.Error(t, err, "unsupported digest")
}
