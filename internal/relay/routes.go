// Package relay implements the request-proxy surface: inbound Claude-style
// requests are routed to a provider family by model name, served by a
// pooled account, and forwarded upstream. Response metadata flows back
// into quota tracking, and hard upstream failures feed the rate limit
// supervisor.
package relay

import (
	"strings"

	"relaypool/internal/account/models"
)

// ProvidersForModel returns the providers able to serve a model, in
// preference order. Later entries are fallbacks reached when every account
// of the preferred providers is unavailable. An empty result means the
// model is not routable through the pool.
func ProvidersForModel(model string) []models.Provider {
	switch {
	case strings.HasPrefix(model, "claude"):
		return []models.Provider{models.ProviderClaude, models.ProviderClaudeConsole, models.ProviderAntigravity}
	case strings.HasPrefix(model, "gemini"):
		return []models.Provider{models.ProviderGemini, models.ProviderAntigravity}
	case strings.HasPrefix(model, "gpt"), isOSeriesModel(model):
		return []models.Provider{models.ProviderCodex}
	default:
		return nil
	}
}

// isOSeriesModel matches the o1/o3/o4 reasoning model names without
// swallowing unrelated models that merely start with the letter o.
func isOSeriesModel(model string) bool {
	if len(model) < 2 || model[0] != 'o' {
		return false
	}
	if model[1] < '1' || model[1] > '9' {
		return false
	}
	return len(model) == 2 || model[2] == '-' || model[2] == '.'
}
