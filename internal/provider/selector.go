package provider

import (
	"fmt"
)

// SelectorConfig holds the ordered routing rules. All maps are evaluated
// against uppercase currency codes and region codes as configured.
type SelectorConfig struct {
	// CurrencyAffinity routes a currency to a provider, e.g. "INR" -> "payu".
	CurrencyAffinity map[string]string
	// RegionAffinity routes a caller region to a provider when no currency
	// rule matched.
	RegionAffinity map[string]string
	// DefaultProvider is used when no rule matches. Required.
	DefaultProvider string
}

// Selector chooses a provider for a payment. Rules are evaluated once at
// payment creation and the chosen provider is pinned to the payment record;
// selection is deterministic for identical inputs.
type Selector struct {
	gateways         map[string]Gateway
	currencyAffinity map[string]string
	regionAffinity   map[string]string
	defaultProvider  string
}

func NewSelector(cfg SelectorConfig, gateways ...Gateway) (*Selector, error) {
	if len(gateways) == 0 {
		return nil, fmt.Errorf("selector requires at least one gateway")
	}
	registry := make(map[string]Gateway, len(gateways))
	for _, g := range gateways {
		if _, dup := registry[g.Name()]; dup {
			return nil, fmt.Errorf("duplicate gateway registration: %s", g.Name())
		}
		registry[g.Name()] = g
	}
	if _, ok := registry[cfg.DefaultProvider]; !ok {
		return nil, fmt.Errorf("default provider %q is not registered", cfg.DefaultProvider)
	}
	for currency, name := range cfg.CurrencyAffinity {
		if _, ok := registry[name]; !ok {
			return nil, fmt.Errorf("currency affinity %s -> %q references unregistered provider", currency, name)
		}
	}
	for region, name := range cfg.RegionAffinity {
		if _, ok := registry[name]; !ok {
			return nil, fmt.Errorf("region affinity %s -> %q references unregistered provider", region, name)
		}
	}
	return &Selector{
		gateways:         registry,
		currencyAffinity: cfg.CurrencyAffinity,
		regionAffinity:   cfg.RegionAffinity,
		defaultProvider:  cfg.DefaultProvider,
	}, nil
}

// Select applies the ordered rules: explicit caller preference, then currency
// affinity, then region affinity, then the configured default.
func (s *Selector) Select(preference, currency, region string) (Gateway, error) {
	if preference != "" {
		g, ok := s.gateways[preference]
		if !ok {
			return nil, fmt.Errorf("preferred provider %q is not registered", preference)
		}
		return g, nil
	}
	if name, ok := s.currencyAffinity[currency]; ok {
		return s.gateways[name], nil
	}
	if name, ok := s.regionAffinity[region]; ok {
		return s.gateways[name], nil
	}
	return s.gateways[s.defaultProvider], nil
}

// Get returns a registered gateway by name, for operations on payments whose
// provider is already pinned.
func (s *Selector) Get(name string) (Gateway, error) {
	g, ok := s.gateways[name]
	if !ok {
		return nil, fmt.Errorf("provider %q is not registered", name)
	}
	return g, nil
}
