package domain

import (
	"fmt"
	"strings"
)

// Provider identifies a platform push service reporting delivery outcomes.
type Provider string

const (
	ProviderAdm  Provider = "Adm"
	ProviderApns Provider = "Apns"
	ProviderGcm  Provider = "Gcm"
	ProviderMpns Provider = "Mpns"
	ProviderWns  Provider = "Wns"
)

var providers = []Provider{
	ProviderAdm,
	ProviderApns,
	ProviderGcm,
	ProviderMpns,
	ProviderWns,
}

func (p Provider) String() string { return string(p) }

func (p Provider) IsValid() bool {
	switch p {
	case ProviderAdm, ProviderApns, ProviderGcm, ProviderMpns, ProviderWns:
		return true
	}
	return false
}

// OutcomeContainer returns the telemetry element grouping this provider's
// outcomes, e.g. ApnsOutcomeCounts.
func (p Provider) OutcomeContainer() string {
	return string(p) + "OutcomeCounts"
}

// Providers returns the fixed provider set in lexicographic order.
func Providers() []Provider {
	out := make([]Provider, len(providers))
	copy(out, providers)
	return out
}

func ParseProviderFromString(s string) (Provider, error) {
	normalized := strings.TrimSpace(s)
	for _, p := range providers {
		if strings.EqualFold(normalized, string(p)) {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: invalid provider %q", ErrValidation, s)
}
