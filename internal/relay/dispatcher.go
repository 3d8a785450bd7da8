package relay

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"relaypool/internal/account/models"
	dErrors "relaypool/pkg/domain-errors"
	"relaypool/pkg/platform/validation"
)

// defaultAnthropicVersion is sent when the client did not pin one itself.
const defaultAnthropicVersion = "2023-06-01"

// UpstreamRequest is the prepared payload handed to the dispatcher. Body
// is forwarded verbatim; Header carries the small set of inbound headers
// worth passing along (anthropic-version, accept).
type UpstreamRequest struct {
	Model  string
	Body   []byte
	Header http.Header
}

// UpstreamResult is what came back from the provider. The relay forwards
// the status and body to the client and feeds the header and body into
// quota extraction.
type UpstreamResult struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Dispatcher forwards a prepared request to the upstream provider using
// one account's credential. An error means the call never completed;
// upstream HTTP failures come back as a result with their status code.
type Dispatcher interface {
	Dispatch(ctx context.Context, account *models.Account, req UpstreamRequest) (*UpstreamResult, error)
}

// HTTPDispatcher is the production dispatcher: one base URL per provider,
// a shared client, and buffered responses capped at a fixed size.
type HTTPDispatcher struct {
	endpoints map[models.Provider]string
	client    *http.Client
	maxBody   int64
}

type DispatcherOption func(d *HTTPDispatcher)

// WithHTTPClient replaces the default client, mainly so tests can shorten
// timeouts or inject a transport.
func WithHTTPClient(client *http.Client) DispatcherOption {
	return func(d *HTTPDispatcher) {
		if client != nil {
			d.client = client
		}
	}
}

func NewHTTPDispatcher(endpoints map[models.Provider]string, opts ...DispatcherOption) *HTTPDispatcher {
	d := &HTTPDispatcher{
		endpoints: endpoints,
		// Upstream generation can legitimately take minutes on large
		// requests; cancellation rides the request context.
		client:  &http.Client{Timeout: 5 * time.Minute},
		maxBody: validation.MaxUpstreamResponseSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *HTTPDispatcher) Dispatch(ctx context.Context, account *models.Account, req UpstreamRequest) (*UpstreamResult, error) {
	base, ok := d.endpoints[account.Provider]
	if !ok {
		return nil, dErrors.New(dErrors.CodeInternal, "no endpoint configured for provider "+account.Provider.String())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/v1/messages", bytes.NewReader(req.Body))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "build upstream request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if accept := req.Header.Get("Accept"); accept != "" {
		httpReq.Header.Set("Accept", accept)
	}
	d.authorize(httpReq, account, req.Header)

	resp, err := d.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, dErrors.Wrap(err, dErrors.CodeTimeout, "upstream request timed out")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUpstream, "upstream request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, d.maxBody))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUpstream, "read upstream response")
	}

	return &UpstreamResult{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
	}, nil
}

// authorize attaches the account credential in the form its provider
// family expects.
func (d *HTTPDispatcher) authorize(httpReq *http.Request, account *models.Account, inbound http.Header) {
	switch account.Provider {
	case models.ProviderClaude:
		httpReq.Header.Set("x-api-key", account.Credential)
		httpReq.Header.Set("anthropic-version", anthropicVersion(inbound))
	case models.ProviderClaudeConsole:
		httpReq.Header.Set("Authorization", "Bearer "+account.Credential)
		httpReq.Header.Set("anthropic-version", anthropicVersion(inbound))
	case models.ProviderGemini:
		httpReq.Header.Set("x-goog-api-key", account.Credential)
	default:
		httpReq.Header.Set("Authorization", "Bearer "+account.Credential)
	}
}

func anthropicVersion(inbound http.Header) string {
	if v := inbound.Get("Anthropic-Version"); v != "" {
		return v
	}
	return defaultAnthropicVersion
}
