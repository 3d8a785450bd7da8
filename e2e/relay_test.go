package e2e

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelayForwardsThroughPooledAccount(t *testing.T) {
	env := startPool(t)
	env.createAccount("alpha", "claude", "sk-live-alpha")

	upstreamBody := `{"id":"msg_01","role":"assistant","content":[{"type":"text","text":"pong"}]}`
	env.upstream.respond(stubResponse{status: http.StatusOK, body: upstreamBody})

	res := env.relay("claude-sonnet-4-5", nil)

	require.Equal(t, http.StatusOK, res.status, "body: %s", res.body)
	assert.JSONEq(t, upstreamBody, string(res.body))
	assert.Equal(t, "application/json", res.header.Get("Content-Type"))

	calls := env.upstream.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, "/v1/messages", calls[0].path)
	assert.Equal(t, "claude-sonnet-4-5", calls[0].model)
	assert.Equal(t, "sk-live-alpha", calls[0].apiKey)
	assert.Empty(t, calls[0].authz)
	assert.Equal(t, "2023-06-01", calls[0].version)
}

func TestRelayFailsOverWhenUpstreamRateLimits(t *testing.T) {
	env := startPool(t)
	env.createAccount("alpha", "claude", "sk-live-alpha")
	env.createAccount("beta", "claude", "sk-live-beta")

	env.upstream.respond(
		stubResponse{
			status: http.StatusTooManyRequests,
			header: map[string]string{"Retry-After": "30"},
			body:   `{"error":{"type":"rate_limit_error"}}`,
		},
		stubResponse{status: http.StatusOK, body: `{"id":"msg_02","content":[]}`},
	)

	res := env.relay("claude-opus-4-1", nil)
	require.Equal(t, http.StatusOK, res.status, "body: %s", res.body)

	calls := env.upstream.recorded()
	require.Len(t, calls, 2)
	assert.ElementsMatch(t,
		[]string{"sk-live-alpha", "sk-live-beta"},
		[]string{calls[0].apiKey, calls[1].apiKey},
		"retry must move to the other account",
	)

	var limited int
	for _, account := range env.listAccounts() {
		if account.RateLimitedUntil == nil {
			continue
		}
		limited++
		assert.WithinDuration(t, time.Now().Add(30*time.Second), *account.RateLimitedUntil, 5*time.Second)
	}
	assert.Equal(t, 1, limited)
}

func TestRelayDisablesAccountOnUpstreamAuthFailure(t *testing.T) {
	env := startPool(t)
	created := env.createAccount("alpha", "claude", "sk-live-alpha")

	env.upstream.respond(stubResponse{
		status: http.StatusUnauthorized,
		body:   `{"error":{"type":"authentication_error"}}`,
	})

	res := env.relay("claude-sonnet-4-5", nil)
	require.Equal(t, http.StatusBadGateway, res.status, "body: %s", res.body)

	var envelope errorEnvelope
	env.decode(res, &envelope)
	assert.Equal(t, "upstream_error", envelope.Code)

	account := env.getAccount(created.ID)
	assert.False(t, account.Enabled)
	assert.Equal(t, "upstream auth failure (401)", account.DisabledReason)

	// The burned credential must not be retried.
	assert.Len(t, env.upstream.recorded(), 1)
}

func TestSessionStickinessReusesAccount(t *testing.T) {
	env := startPool(t)
	env.createAccount("alpha", "claude", "sk-live-alpha")
	env.createAccount("beta", "claude", "sk-live-beta")

	session := map[string]string{"X-Session-Id": "sess-stick-1"}

	first := env.relay("claude-sonnet-4-5", session)
	require.Equal(t, http.StatusOK, first.status)
	second := env.relay("claude-sonnet-4-5", session)
	require.Equal(t, http.StatusOK, second.status)

	calls := env.upstream.recorded()
	require.Len(t, calls, 2)
	assert.Equal(t, calls[0].apiKey, calls[1].apiKey)
}

func TestRelayKeyGuardsRelayButNotManagement(t *testing.T) {
	env := startPool(t, withRelayKey("e2e-relay-key"))
	env.createAccount("alpha", "claude", "sk-live-alpha")

	payload := map[string]any{
		"model":    "claude-sonnet-4-5",
		"messages": []map[string]any{{"role": "user", "content": "ping"}},
	}

	res := env.do(http.MethodPost, "/v1/messages", nil, payload)
	require.Equal(t, http.StatusUnauthorized, res.status)
	var envelope errorEnvelope
	env.decode(res, &envelope)
	assert.Equal(t, "unauthorized", envelope.Code)

	res = env.do(http.MethodPost, "/v1/messages", map[string]string{"Authorization": "Bearer e2e-relay-key"}, payload)
	assert.Equal(t, http.StatusOK, res.status, "body: %s", res.body)

	res = env.do(http.MethodPost, "/v1/messages", map[string]string{"x-api-key": "e2e-relay-key"}, payload)
	assert.Equal(t, http.StatusOK, res.status, "body: %s", res.body)

	// The management surface is not behind the relay key.
	assert.Len(t, env.listAccounts(), 1)
}

func TestUnsupportedModelRejected(t *testing.T) {
	env := startPool(t)
	env.createAccount("alpha", "claude", "sk-live-alpha")

	res := env.relay("mistral-large-2", nil)
	require.Equal(t, http.StatusBadRequest, res.status, "body: %s", res.body)

	var envelope errorEnvelope
	env.decode(res, &envelope)
	assert.Equal(t, "bad_request", envelope.Code)
	assert.Contains(t, envelope.Description, "unsupported model")
	assert.Empty(t, env.upstream.recorded())
}
