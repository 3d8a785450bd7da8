package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"relaypool/contracts/admin"
)

// client is a thin typed wrapper over the management API. Every method
// decodes the server's error envelope into a plain error, so commands only
// deal with contract types.
type client struct {
	base string
	http *http.Client
}

func newClient(base string, timeout time.Duration) *client {
	return &client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// apiError mirrors the server's error envelope.
type apiError struct {
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

func (e *apiError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func (c *client) ListAccounts(ctx context.Context) ([]admin.AccountView, error) {
	var out []admin.AccountView
	err := c.do(ctx, http.MethodGet, "/admin/accounts", nil, &out)
	return out, err
}

func (c *client) GetAccount(ctx context.Context, accountID string) (admin.AccountView, error) {
	var out admin.AccountView
	err := c.do(ctx, http.MethodGet, "/admin/accounts/"+url.PathEscape(accountID), nil, &out)
	return out, err
}

func (c *client) CreateAccount(ctx context.Context, req admin.CreateAccountRequest) (admin.AccountView, error) {
	var out admin.AccountView
	err := c.do(ctx, http.MethodPost, "/admin/accounts", req, &out)
	return out, err
}

func (c *client) DeleteAccount(ctx context.Context, accountID string) error {
	return c.do(ctx, http.MethodDelete, "/admin/accounts/"+url.PathEscape(accountID), nil, nil)
}

func (c *client) EnableAccount(ctx context.Context, accountID string) (admin.ToggleAccountResponse, error) {
	var out admin.ToggleAccountResponse
	err := c.do(ctx, http.MethodPost, "/admin/accounts/"+url.PathEscape(accountID)+"/enable", nil, &out)
	return out, err
}

func (c *client) DisableAccount(ctx context.Context, accountID, reason string) (admin.ToggleAccountResponse, error) {
	var out admin.ToggleAccountResponse
	err := c.do(ctx, http.MethodPost, "/admin/accounts/"+url.PathEscape(accountID)+"/disable",
		admin.DisableAccountRequest{Reason: reason}, &out)
	return out, err
}

func (c *client) Quota(ctx context.Context, accountID string) (admin.QuotaView, error) {
	var out admin.QuotaView
	err := c.do(ctx, http.MethodGet, "/admin/accounts/"+url.PathEscape(accountID)+"/quota", nil, &out)
	return out, err
}

func (c *client) MarkRateLimited(ctx context.Context, accountID string, window time.Duration) (admin.AccountView, error) {
	var out admin.AccountView
	err := c.do(ctx, http.MethodPost, "/admin/accounts/"+url.PathEscape(accountID)+"/rate-limit",
		admin.RateLimitRequest{ResetAfterSeconds: int(window / time.Second)}, &out)
	return out, err
}

func (c *client) ClearRateLimit(ctx context.Context, accountID string) (admin.ClearRateLimitResponse, error) {
	var out admin.ClearRateLimitResponse
	err := c.do(ctx, http.MethodDelete, "/admin/accounts/"+url.PathEscape(accountID)+"/rate-limit", nil, &out)
	return out, err
}

func (c *client) InvalidateCache(ctx context.Context, accountID string) error {
	return c.do(ctx, http.MethodPost, "/admin/cache/invalidate",
		admin.InvalidateCacheRequest{AccountID: accountID}, nil)
}

func (c *client) PoolStatus(ctx context.Context) (admin.PoolStatus, error) {
	var out admin.PoolStatus
	err := c.do(ctx, http.MethodGet, "/admin/pool/status", nil, &out)
	return out, err
}

func (c *client) UsageByAccount(ctx context.Context, from, to time.Time) (admin.UsageSummaryResponse, error) {
	var out admin.UsageSummaryResponse
	err := c.do(ctx, http.MethodGet, "/admin/usage/accounts"+rangeQuery(from, to), nil, &out)
	return out, err
}

func (c *client) UsageByModel(ctx context.Context, from, to time.Time) (admin.UsageSummaryResponse, error) {
	var out admin.UsageSummaryResponse
	err := c.do(ctx, http.MethodGet, "/admin/usage/models"+rangeQuery(from, to), nil, &out)
	return out, err
}

func (c *client) UsageSeries(ctx context.Context, accountID string, from, to time.Time) (admin.AccountUsageSeriesResponse, error) {
	var out admin.AccountUsageSeriesResponse
	err := c.do(ctx, http.MethodGet,
		"/admin/usage/accounts/"+url.PathEscape(accountID)+"/hourly"+rangeQuery(from, to), nil, &out)
	return out, err
}

func rangeQuery(from, to time.Time) string {
	q := url.Values{}
	if !from.IsZero() {
		q.Set("from", from.Format(time.RFC3339))
	}
	if !to.IsZero() {
		q.Set("to", to.Format(time.RFC3339))
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

func (c *client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &apiError{}
		if decodeErr := json.NewDecoder(resp.Body).Decode(apiErr); decodeErr != nil || apiErr.Code == "" {
			return fmt.Errorf("server returned %s", resp.Status)
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
