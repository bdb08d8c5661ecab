package provider

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"
)

// SignatureConfig describes how one provider signs its webhooks.
type SignatureConfig struct {
	Secret string
	// Digest is one of "sha256", "sha512", "md5".
	Digest string
}

// Verifier checks webhook signatures per provider using constant-time
// comparison.
type Verifier struct {
	configs map[string]SignatureConfig
}

func NewVerifier(configs map[string]SignatureConfig) (*Verifier, error) {
	for name, cfg := range configs {
		if cfg.Secret == "" {
			return nil, fmt.Errorf("webhook secret for provider %q is empty", name)
		}
		if _, err := digestFunc(cfg.Digest); err != nil {
			return nil, fmt.Errorf("provider %q: %w", name, err)
		}
	}
	return &Verifier{configs: configs}, nil
}

// Verify checks the hex-encoded HMAC signature header against the raw
// payload. It returns false for unknown providers, malformed headers, and
// mismatched signatures alike; callers must not mutate any state on false.
func (v *Verifier) Verify(providerName string, payload []byte, signatureHeader string) bool {
	cfg, ok := v.configs[providerName]
	if !ok {
		return false
	}
	sig := strings.TrimSpace(signatureHeader)
	if sig == "" {
		return false
	}
	decoded, err := hex.DecodeString(strings.ToLower(sig))
	if err != nil {
		return false
	}
	newHash, err := digestFunc(cfg.Digest)
	if err != nil {
		return false
	}
	mac := hmac.New(newHash, []byte(cfg.Secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), decoded)
}

// Sign computes the hex-encoded signature for a payload. Used by tests and
// the sandbox provider.
func (v *Verifier) Sign(providerName string, payload []byte) (string, error) {
	cfg, ok := v.configs[providerName]
	if !ok {
		return "", fmt.Errorf("no signature config for provider %q", providerName)
	}
	newHash, err := digestFunc(cfg.Digest)
	if err != nil {
		return "", err
	}
	mac := hmac.New(newHash, []byte(cfg.Secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

func digestFunc(name string) (func() hash.Hash, error) {
	switch name {
	case "sha256":
		return sha256.New, nil
	case "sha512":
		return sha512.New, nil
	case "md5":
		return md5.New, nil
	default:
		return nil, fmt.Errorf("unsupported signature digest %q", name)
	}
}
