package relay

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaypool/internal/account/models"
	dErrors "relaypool/pkg/domain-errors"
	"relaypool/pkg/testutil"
)

// capturedCall records what one upstream stub received.
type capturedCall struct {
	method string
	path   string
	header http.Header
	body   []byte
}

// newUpstream starts a stub provider that records the inbound request and
// replies with a fixed response.
func newUpstream(t *testing.T, status int, respHeader http.Header, respBody string) (*httptest.Server, *capturedCall) {
	t.Helper()
	captured := &capturedCall{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		captured.method = r.Method
		captured.path = r.URL.Path
		captured.header = r.Header.Clone()
		captured.body = body

		for name, values := range respHeader {
			for _, v := range values {
				w.Header().Add(name, v)
			}
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(respBody))
	}))
	t.Cleanup(server.Close)
	return server, captured
}

func dispatchVia(t *testing.T, server *httptest.Server, account *models.Account, req UpstreamRequest) (*UpstreamResult, error) {
	t.Helper()
	d := NewHTTPDispatcher(map[models.Provider]string{account.Provider: server.URL})
	return d.Dispatch(context.Background(), account, req)
}

func TestDispatchClaudeUsesAPIKeyHeader(t *testing.T) {
	server, captured := newUpstream(t, http.StatusOK, nil, `{"id":"msg_1"}`)
	account := testutil.NewAccountBuilder().
		WithProvider(models.ProviderClaude).
		WithCredential("sk-live-abc").
		Build()

	result, err := dispatchVia(t, server, account, UpstreamRequest{
		Model:  "claude-3-5-sonnet-latest",
		Body:   []byte(`{"model":"claude-3-5-sonnet-latest"}`),
		Header: http.Header{},
	})

	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, captured.method)
	assert.Equal(t, "/v1/messages", captured.path)
	assert.Equal(t, "sk-live-abc", captured.header.Get("x-api-key"))
	assert.Empty(t, captured.header.Get("Authorization"))
	assert.Equal(t, "2023-06-01", captured.header.Get("anthropic-version"))
	assert.Equal(t, "application/json", captured.header.Get("Content-Type"))
	assert.JSONEq(t, `{"model":"claude-3-5-sonnet-latest"}`, string(captured.body))
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, `{"id":"msg_1"}`, string(result.Body))
}

func TestDispatchClaudeConsoleUsesBearer(t *testing.T) {
	server, captured := newUpstream(t, http.StatusOK, nil, `{}`)
	account := testutil.NewAccountBuilder().
		WithProvider(models.ProviderClaudeConsole).
		WithCredential("console-token").
		Build()

	_, err := dispatchVia(t, server, account, UpstreamRequest{Body: []byte(`{}`), Header: http.Header{}})

	require.NoError(t, err)
	assert.Equal(t, "Bearer console-token", captured.header.Get("Authorization"))
	assert.Equal(t, "2023-06-01", captured.header.Get("anthropic-version"))
	assert.Empty(t, captured.header.Get("x-api-key"))
}

func TestDispatchGeminiUsesGoogHeader(t *testing.T) {
	server, captured := newUpstream(t, http.StatusOK, nil, `{}`)
	account := testutil.NewAccountBuilder().
		WithProvider(models.ProviderGemini).
		WithCredential("goog-key").
		Build()

	_, err := dispatchVia(t, server, account, UpstreamRequest{Body: []byte(`{}`), Header: http.Header{}})

	require.NoError(t, err)
	assert.Equal(t, "goog-key", captured.header.Get("x-goog-api-key"))
	assert.Empty(t, captured.header.Get("Authorization"))
	assert.Empty(t, captured.header.Get("anthropic-version"))
}

func TestDispatchCodexUsesBearer(t *testing.T) {
	server, captured := newUpstream(t, http.StatusOK, nil, `{}`)
	account := testutil.NewAccountBuilder().
		WithProvider(models.ProviderCodex).
		WithCredential("codex-token").
		Build()

	_, err := dispatchVia(t, server, account, UpstreamRequest{Body: []byte(`{}`), Header: http.Header{}})

	require.NoError(t, err)
	assert.Equal(t, "Bearer codex-token", captured.header.Get("Authorization"))
	assert.Empty(t, captured.header.Get("anthropic-version"))
}

func TestDispatchForwardsPinnedAnthropicVersion(t *testing.T) {
	server, captured := newUpstream(t, http.StatusOK, nil, `{}`)
	account := testutil.NewAccountBuilder().WithProvider(models.ProviderClaude).Build()

	inbound := http.Header{}
	inbound.Set("Anthropic-Version", "2024-10-22")
	_, err := dispatchVia(t, server, account, UpstreamRequest{Body: []byte(`{}`), Header: inbound})

	require.NoError(t, err)
	assert.Equal(t, "2024-10-22", captured.header.Get("anthropic-version"))
}

func TestDispatchForwardsAccept(t *testing.T) {
	server, captured := newUpstream(t, http.StatusOK, nil, `{}`)
	account := testutil.NewAccountBuilder().WithProvider(models.ProviderClaude).Build()

	inbound := http.Header{}
	inbound.Set("Accept", "application/json")
	_, err := dispatchVia(t, server, account, UpstreamRequest{Body: []byte(`{}`), Header: inbound})

	require.NoError(t, err)
	assert.Equal(t, "application/json", captured.header.Get("Accept"))
}

func TestDispatchReturnsUpstreamFailureAsResult(t *testing.T) {
	respHeader := http.Header{}
	respHeader.Set("Retry-After", "30")
	server, _ := newUpstream(t, http.StatusTooManyRequests, respHeader, `{"error":{"type":"rate_limit_error"}}`)
	account := testutil.NewAccountBuilder().WithProvider(models.ProviderClaude).Build()

	result, err := dispatchVia(t, server, account, UpstreamRequest{Body: []byte(`{}`), Header: http.Header{}})

	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, result.StatusCode)
	assert.Equal(t, "30", result.Header.Get("Retry-After"))
	assert.Contains(t, string(result.Body), "rate_limit_error")
}

func TestDispatchRejectsUnconfiguredProvider(t *testing.T) {
	d := NewHTTPDispatcher(map[models.Provider]string{})
	account := testutil.NewAccountBuilder().WithProvider(models.ProviderGemini).Build()

	_, err := d.Dispatch(context.Background(), account, UpstreamRequest{Body: []byte(`{}`), Header: http.Header{}})

	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal))
}

func TestDispatchWrapsTransportErrors(t *testing.T) {
	server, _ := newUpstream(t, http.StatusOK, nil, `{}`)
	account := testutil.NewAccountBuilder().WithProvider(models.ProviderClaude).Build()
	d := NewHTTPDispatcher(map[models.Provider]string{models.ProviderClaude: server.URL})
	server.Close()

	_, err := d.Dispatch(context.Background(), account, UpstreamRequest{Body: []byte(`{}`), Header: http.Header{}})

	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUpstream))
}

func TestDispatchClassifiesDeadlineAsTimeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(slow.Close)
	account := testutil.NewAccountBuilder().WithProvider(models.ProviderClaude).Build()
	d := NewHTTPDispatcher(map[models.Provider]string{models.ProviderClaude: slow.URL})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := d.Dispatch(ctx, account, UpstreamRequest{Body: []byte(`{}`), Header: http.Header{}})

	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeTimeout))
}
