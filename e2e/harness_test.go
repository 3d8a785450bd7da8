// Package e2e exercises a fully wired pool over real HTTP. Every request
// crosses the router, the relay, the selection engine and the stores the
// same way production traffic does; only the provider upstream is faked.
package e2e

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	admincontracts "relaypool/contracts/admin"
	"relaypool/internal/account/cache"
	accounthandler "relaypool/internal/account/handler"
	"relaypool/internal/account/models"
	"relaypool/internal/account/service"
	"relaypool/internal/account/store/catalog"
	"relaypool/internal/platform/health"
	"relaypool/internal/quota"
	"relaypool/internal/ratelimit"
	"relaypool/internal/relay"
	"relaypool/internal/selection"
	httptransport "relaypool/internal/transport/http"
	"relaypool/internal/usagelog"
	usagehandler "relaypool/internal/usagelog/handler"
	"relaypool/pkg/secrets"
)

// testEnv is one running pool: the real router served over httptest, backed
// by the in-memory catalog and a sqlite usage trail in a temp dir. All
// provider endpoints point at the scripted upstream fake.
type testEnv struct {
	t        *testing.T
	server   *httptest.Server
	client   *http.Client
	upstream *fakeUpstream
	relayKey string
}

type envConfig struct {
	relayKey string
}

type envOption func(*envConfig)

// withRelayKey turns on client authentication for the relay surface. The
// plaintext key is hashed the same way keygen would before it reaches the
// key set.
func withRelayKey(key string) envOption {
	return func(cfg *envConfig) {
		cfg.relayKey = key
	}
}

func startPool(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	var cfg envConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	upstream := newFakeUpstream(t)

	store := catalog.New()
	engine := selection.New(store, cache.New(), quota.NewSnapshotStore(),
		selection.WithLogger(log),
	)
	supervisor := ratelimit.NewSupervisor(store,
		ratelimit.WithLogger(log),
		ratelimit.WithInvalidator(engine),
	)
	accountService := service.NewAccountService(store,
		service.WithLogger(log),
		service.WithInvalidator(engine),
	)

	usageStore, err := usagelog.Open(filepath.Join(t.TempDir(), "usage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { usageStore.Close() })

	// Short flush interval so tests can poll the summaries without waiting
	// out the production batching window.
	pipeline := usagelog.New(usageStore,
		usagelog.WithLogger(log),
		usagelog.WithFlushInterval(20*time.Millisecond),
	)
	t.Cleanup(func() { pipeline.Close() })

	endpoints := make(map[models.Provider]string, len(models.KnownProviders()))
	for _, provider := range models.KnownProviders() {
		endpoints[provider] = upstream.URL()
	}
	dispatcher := relay.NewHTTPDispatcher(endpoints,
		relay.WithHTTPClient(&http.Client{Timeout: 10 * time.Second}),
	)
	relayHandler := relay.New(engine, supervisor, dispatcher,
		relay.WithLogger(log),
		relay.WithSessions(relay.NewRegistry(time.Hour)),
		relay.WithUsageRecorder(pipeline),
	)

	var keys *relay.KeySet
	if cfg.relayKey != "" {
		hash, err := secrets.Hash(cfg.relayKey)
		require.NoError(t, err)
		keys = relay.NewKeySet([]string{hash})
	}

	router := httptransport.NewRouter(httptransport.Deps{
		Relay:     relayHandler,
		RelayKeys: keys,
		Accounts:  accounthandler.New(accountService, supervisor, engine, engine, log),
		Usage:     usagehandler.New(usageStore, log),
		Health:    health.New("test"),
	}, log)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testEnv{
		t:        t,
		server:   server,
		client:   server.Client(),
		upstream: upstream,
		relayKey: cfg.relayKey,
	}
}

// httpResult is one finished request: status, headers, and the drained body.
type httpResult struct {
	status int
	header http.Header
	body   []byte
}

// errorEnvelope mirrors the error shape every endpoint returns.
type errorEnvelope struct {
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

func (env *testEnv) do(method, path string, headers map[string]string, payload any) httpResult {
	env.t.Helper()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(env.t, err)
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, env.server.URL+path, body)
	require.NoError(env.t, err)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for name, value := range headers {
		req.Header.Set(name, value)
	}

	resp, err := env.client.Do(req)
	require.NoError(env.t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(env.t, err)
	return httpResult{status: resp.StatusCode, header: resp.Header, body: raw}
}

func (env *testEnv) decode(res httpResult, out any) {
	env.t.Helper()
	require.NoError(env.t, json.Unmarshal(res.body, out), "body: %s", res.body)
}

// relay posts a chat request through the pool, attaching the relay key
// when the environment was started with one.
func (env *testEnv) relay(model string, headers map[string]string) httpResult {
	env.t.Helper()

	merged := make(map[string]string, len(headers)+1)
	if env.relayKey != "" {
		merged["Authorization"] = "Bearer " + env.relayKey
	}
	for name, value := range headers {
		merged[name] = value
	}
	return env.do(http.MethodPost, "/v1/messages", merged, map[string]any{
		"model":      model,
		"max_tokens": 64,
		"messages":   []map[string]any{{"role": "user", "content": "ping"}},
	})
}

func (env *testEnv) createAccount(name, provider, credential string) admincontracts.AccountView {
	env.t.Helper()

	res := env.do(http.MethodPost, "/admin/accounts", nil, admincontracts.CreateAccountRequest{
		Name:       name,
		Provider:   provider,
		Credential: credential,
	})
	require.Equal(env.t, http.StatusCreated, res.status, "create account: %s", res.body)

	var view admincontracts.AccountView
	env.decode(res, &view)
	return view
}

func (env *testEnv) listAccounts() []admincontracts.AccountView {
	env.t.Helper()

	res := env.do(http.MethodGet, "/admin/accounts", nil, nil)
	require.Equal(env.t, http.StatusOK, res.status, "list accounts: %s", res.body)

	var views []admincontracts.AccountView
	env.decode(res, &views)
	return views
}

func (env *testEnv) getAccount(accountID string) admincontracts.AccountView {
	env.t.Helper()

	res := env.do(http.MethodGet, "/admin/accounts/"+accountID, nil, nil)
	require.Equal(env.t, http.StatusOK, res.status, "get account: %s", res.body)

	var view admincontracts.AccountView
	env.decode(res, &view)
	return view
}

// upstreamCall records how one request arrived at the provider fake.
type upstreamCall struct {
	path    string
	model   string
	apiKey  string
	authz   string
	version string
}

// stubResponse is one scripted provider reply.
type stubResponse struct {
	status int
	header map[string]string
	body   string
}

// fakeUpstream stands in for every provider endpoint. Replies are consumed
// from the script in call order; the last entry repeats, and with no script
// every call gets a plain 200.
type fakeUpstream struct {
	t      *testing.T
	server *httptest.Server

	mu     sync.Mutex
	calls  []upstreamCall
	script []stubResponse
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	f := &fakeUpstream{t: t}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeUpstream) URL() string { return f.server.URL }

func (f *fakeUpstream) respond(responses ...stubResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script = append(f.script, responses...)
}

func (f *fakeUpstream) recorded() []upstreamCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

func (f *fakeUpstream) handle(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	assert.NoError(f.t, err)

	var payload struct {
		Model string `json:"model"`
	}
	_ = json.Unmarshal(raw, &payload)

	f.mu.Lock()
	f.calls = append(f.calls, upstreamCall{
		path:    r.URL.Path,
		model:   payload.Model,
		apiKey:  r.Header.Get("x-api-key"),
		authz:   r.Header.Get("Authorization"),
		version: r.Header.Get("anthropic-version"),
	})
	reply := stubResponse{status: http.StatusOK, body: `{"id":"msg_stub","role":"assistant","content":[{"type":"text","text":"ok"}]}`}
	if n := len(f.script); n > 0 {
		if idx := len(f.calls) - 1; idx < n {
			reply = f.script[idx]
		} else {
			reply = f.script[n-1]
		}
	}
	f.mu.Unlock()

	for name, value := range reply.header {
		w.Header().Set(name, value)
	}
	if reply.body != "" && w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(reply.status)
	_, _ = w.Write([]byte(reply.body))
}
