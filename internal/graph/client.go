package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultBaseURL is the Microsoft Graph v1.0 endpoint.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

// ErrAuthorizationFailed marks a call that still fails with 401/403 after
// one forced token refresh: the token or consent is actually invalid, not
// merely stale. The stored token is not revoked automatically; it may still
// be valid for other scopes.
var ErrAuthorizationFailed = errors.New("graph: authorization failed")

// TokenSource provides valid bearer tokens. Implemented by the m365 service.
type TokenSource interface {
	ValidAccessToken(ctx context.Context, tenantID, userID int64) (string, error)
	ForceRefresh(ctx context.Context, tenantID, userID int64) (string, error)
}

// Error is a non-2xx Graph response, decoded from the provider's error
// envelope at the boundary.
type Error struct {
	StatusCode int
	Code       string
	Message    string
	Retried    bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("graph: request failed with status %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	if e.Retried && (e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden) {
		return ErrAuthorizationFailed
	}
	return nil
}

// Request describes one Graph call. Body, when non-nil, is JSON-encoded.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
}

// Response carries the raw payload plus the provider-supplied continuation
// link, if any. The wrapper never auto-paginates: the caller follows
// NextLink explicitly via Next, which keeps memory bounded on large result
// sets.
type Response struct {
	StatusCode int
	Body       json.RawMessage
	NextLink   string
}

// Client issues Microsoft Graph calls with bearer tokens from the token
// lifecycle service, retrying exactly once after a forced refresh on an
// authorization failure.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	logger     *zap.Logger
}

// NewClient creates a Graph client. An empty baseURL selects the production
// endpoint; tests point it at a local fake.
func NewClient(tokens TokenSource, baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		tokens:     tokens,
		logger:     logger,
	}
}

// Do performs a Graph call for the given (tenant, user) pair.
func (c *Client) Do(ctx context.Context, tenantID, userID int64, req Request) (*Response, error) {
	target := c.baseURL + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}
	return c.call(ctx, tenantID, userID, req.Method, target, req.Body)
}

// Next follows a continuation link returned in a previous Response.
func (c *Client) Next(ctx context.Context, tenantID, userID int64, nextLink string) (*Response, error) {
	if nextLink == "" {
		return nil, errors.New("graph: empty continuation link")
	}
	return c.call(ctx, tenantID, userID, http.MethodGet, nextLink, nil)
}

func (c *Client) call(ctx context.Context, tenantID, userID int64, method, target string, body any) (*Response, error) {
	token, err := c.tokens.ValidAccessToken(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}

	resp, err := c.send(ctx, token, method, target, body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized && resp.StatusCode != http.StatusForbidden {
		return c.finish(resp, false)
	}

	// The token may be stale despite the safety margin (revoked consent,
	// rotated secret). One forced refresh, one retry. Drain the first body
	// so the connection goes back to the pool.
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	c.log().Info("graph call unauthorized, forcing token refresh",
		zap.Int64("tenant_id", tenantID), zap.Int64("user_id", userID), zap.Int("status", resp.StatusCode))
	token, err = c.tokens.ForceRefresh(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	resp, err = c.send(ctx, token, method, target, body)
	if err != nil {
		return nil, err
	}
	return c.finish(resp, true)
}

func (c *Client) send(ctx context.Context, token, method, target string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("graph: encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("graph: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graph: request: %w", err)
	}
	return resp, nil
}

func (c *Client) finish(resp *http.Response, retried bool) (*Response, error) {
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("graph: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		gerr := &Error{StatusCode: resp.StatusCode, Retried: retried}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal(payload, &envelope); err == nil {
			gerr.Code = envelope.Error.Code
			gerr.Message = envelope.Error.Message
		}
		return nil, gerr
	}

	out := &Response{StatusCode: resp.StatusCode, Body: payload}
	var page struct {
		NextLink string `json:"@odata.nextLink"`
	}
	if err := json.Unmarshal(payload, &page); err == nil {
		out.NextLink = page.NextLink
	}
	return out, nil
}

func (c *Client) log() *zap.Logger {
	if c != nil && c.logger != nil {
		return c.logger
	}
	return zap.L()
}
