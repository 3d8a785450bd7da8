package models

import (
	dErrors "relaypool/pkg/domain-errors"
)

// Provider identifies which upstream service an account belongs to. Each
// provider reports quota in its own wire format; the quota package maps
// those onto common snapshot shapes.
type Provider string

const (
	ProviderClaude        Provider = "claude"
	ProviderClaudeConsole Provider = "claude-console"
	ProviderCodex         Provider = "codex"
	ProviderGemini        Provider = "gemini"
	ProviderAntigravity   Provider = "antigravity"
)

// KnownProviders lists every provider the pool can hold, in display order.
func KnownProviders() []Provider {
	return []Provider{
		ProviderClaude,
		ProviderClaudeConsole,
		ProviderCodex,
		ProviderGemini,
		ProviderAntigravity,
	}
}

// IsValid returns true if the provider is a known valid value.
func (p Provider) IsValid() bool {
	switch p {
	case ProviderClaude, ProviderClaudeConsole, ProviderCodex, ProviderGemini, ProviderAntigravity:
		return true
	}
	return false
}

// String returns the string representation of the provider.
func (p Provider) String() string {
	return string(p)
}

// ParseProvider validates a provider name at trust boundaries.
func ParseProvider(s string) (Provider, error) {
	p := Provider(s)
	if !p.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown provider: "+s)
	}
	return p, nil
}
