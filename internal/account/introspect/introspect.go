// Package introspect mines descriptive labels out of account credentials.
// Provider OAuth tokens are JWTs whose claims name the mailbox and the
// subscription an account rides on; surfacing them as labels lets an
// operator see which pool slots are team seats and which are personal.
//
// Claims are read without signature verification: the pool holds the
// provider's token, not the provider's signing keys, and nothing here
// feeds an authorization decision. Labels are descriptive only.
package introspect

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Label keys attached to accounts whose credentials carry claims.
const (
	LabelEmail = "email"
	LabelPlan  = "plan"
	LabelTier  = "tier"
)

// Labels returns descriptive labels mined from the credential, or nil
// when it carries none. Plain API keys are not JWTs and yield nil.
func Labels(credential string) map[string]string {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil
	}

	for _, token := range candidateTokens(credential) {
		if labels := claimLabels(token); len(labels) > 0 {
			return labels
		}
	}
	return nil
}

// Merge overlays operator labels on top of the mined ones. Operator
// values always win; mined labels only fill gaps.
func Merge(credential string, operator map[string]string) map[string]string {
	mined := Labels(credential)
	if len(mined) == 0 {
		return operator
	}

	merged := make(map[string]string, len(mined)+len(operator))
	for key, value := range mined {
		merged[key] = value
	}
	for key, value := range operator {
		merged[key] = value
	}
	return merged
}

// Tier buckets a provider plan into a coarse classification.
func Tier(plan string) string {
	switch strings.ToLower(strings.TrimSpace(plan)) {
	case "":
		return "unknown"
	case "team":
		return "team"
	case "business", "enterprise", "education", "edu", "k12":
		return "business"
	default:
		return "personal"
	}
}

// candidateTokens lists the JWT-shaped strings inside a credential. A
// credential is either a bare token or a JSON OAuth envelope; envelopes
// are inspected id_token first, since identity claims live there.
func candidateTokens(credential string) []string {
	if !strings.HasPrefix(credential, "{") {
		return []string{credential}
	}

	var envelope struct {
		AccessToken string `json:"access_token"`
		IDToken     string `json:"id_token"`
	}
	if err := json.Unmarshal([]byte(credential), &envelope); err != nil {
		return nil
	}

	var tokens []string
	if envelope.IDToken != "" {
		tokens = append(tokens, envelope.IDToken)
	}
	if envelope.AccessToken != "" {
		tokens = append(tokens, envelope.AccessToken)
	}
	return tokens
}

func claimLabels(token string) map[string]string {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}

	labels := make(map[string]string, 3)
	if email := findStringClaim(claims, "email"); email != "" {
		labels[LabelEmail] = email
	}
	if plan := findStringClaim(claims, "chatgpt_plan_type", "plan_type", "plan"); plan != "" {
		labels[LabelPlan] = plan
		labels[LabelTier] = Tier(plan)
	}

	if len(labels) == 0 {
		return nil
	}
	return labels
}

// findStringClaim looks keys up at the top level first, then one level
// into nested object claims, where providers namespace custom claims.
// Nested objects are visited in sorted name order so repeated keys
// resolve the same way every time.
func findStringClaim(claims jwt.MapClaims, keys ...string) string {
	for _, key := range keys {
		if value, ok := claims[key].(string); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}

	names := make([]string, 0, len(claims))
	for name := range claims {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		nested, ok := claims[name].(map[string]any)
		if !ok {
			continue
		}
		for _, key := range keys {
			if value, ok := nested[key].(string); ok && strings.TrimSpace(value) != "" {
				return strings.TrimSpace(value)
			}
		}
	}
	return ""
}
