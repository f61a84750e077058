package keiro

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
)

// userAgent identifies this SDK version in request headers.
const userAgent = "keiro-go/0.1.0"

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the Keiro server (e.g. "http://localhost:8080").
	BaseURL string

	// ClientID identifies this client for authentication.
	ClientID string

	// APIKey is the secret used to obtain a JWT token.
	APIKey string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with a 30-second timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	Timeout time.Duration
}

// Client is an HTTP client for the Keiro routing API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL  string
	clientID string
	client   *http.Client
	tokenMgr *tokenManager
}

// NewClient creates a Client from the given configuration.
// Returns an error if BaseURL, ClientID, or APIKey is empty.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("keiro: BaseURL is required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("keiro: ClientID is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("keiro: APIKey is required")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:  baseURL,
		clientID: cfg.ClientID,
		client:   httpClient,
		tokenMgr: newTokenManager(baseURL, cfg.ClientID, cfg.APIKey, httpClient),
	}, nil
}

// RecordOutcome reports one interaction outcome so future routing decisions
// can learn from it. The server acknowledges with the record count now held
// for the pair.
func (c *Client) RecordOutcome(ctx context.Context, req RecordOutcomeRequest) (*RecordOutcomeResponse, error) {
	var resp RecordOutcomeResponse
	if err := c.post(ctx, "/v1/outcomes", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Reliability returns the current reliability score for one source→target
// pair, along with the basis the score rests on (no_data, low_sample, or
// computed).
func (c *Client) Reliability(ctx context.Context, source, target string) (*ReliabilityResponse, error) {
	params := url.Values{}
	params.Set("source", source)
	params.Set("target", target)

	var resp ReliabilityResponse
	if err := c.get(ctx, "/v1/reliability?"+params.Encode(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// BestTarget picks the most reliable candidate for the source. The response
// Target is empty when candidates is empty.
func (c *Client) BestTarget(ctx context.Context, source string, candidates []string) (*BestTargetResponse, error) {
	body := bestTargetBody{Source: source, Candidates: candidates}
	var resp BestTargetResponse
	if err := c.post(ctx, "/v1/route/best", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Alternatives returns targets scoring meaningfully above the current one,
// sorted by descending reliability.
func (c *Client) Alternatives(ctx context.Context, req AlternativesRequest) (*AlternativesResponse, error) {
	var resp AlternativesResponse
	if err := c.post(ctx, "/v1/route/alternatives", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Matrix returns reliability scores for the cross product of the given
// sources and targets. Nil slices mean "every one observed so far".
func (c *Client) Matrix(ctx context.Context, sources, targets []string) (*MatrixResponse, error) {
	params := url.Values{}
	if len(sources) > 0 {
		params.Set("sources", strings.Join(sources, ","))
	}
	if len(targets) > 0 {
		params.Set("targets", strings.Join(targets, ","))
	}

	path := "/v1/matrix"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	var resp MatrixResponse
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stats summarizes recorded history, optionally filtered by source and/or
// target. Empty strings mean no filter.
func (c *Client) Stats(ctx context.Context, source, target string) (*StatsResponse, error) {
	params := url.Values{}
	if source != "" {
		params.Set("source", source)
	}
	if target != "" {
		params.Set("target", target)
	}

	path := "/v1/stats"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	var resp StatsResponse
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ClearHistory removes recorded history. Source and target select the
// scope: both clear one pair, source alone clears every pair from that
// source, neither clears everything. Target without source is rejected by
// the server. Requires admin role.
func (c *Client) ClearHistory(ctx context.Context, source, target string) (*ClearHistoryResponse, error) {
	params := url.Values{}
	if source != "" {
		params.Set("source", source)
	}
	if target != "" {
		params.Set("target", target)
	}

	path := "/v1/history"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	var resp ClearHistoryResponse
	if err := c.doDelete(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Prune removes records older than the server's default retention of twice
// the scoring window. Requires admin role.
func (c *Client) Prune(ctx context.Context) (*PruneResponse, error) {
	var resp PruneResponse
	if err := c.post(ctx, "/v1/history/prune", pruneBody{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PruneOlderThan removes records older than maxAge. A zero maxAge removes
// every record. Requires admin role.
func (c *Client) PruneOlderThan(ctx context.Context, maxAge time.Duration) (*PruneResponse, error) {
	seconds := maxAge.Seconds()
	var resp PruneResponse
	if err := c.post(ctx, "/v1/history/prune", pruneBody{MaxAgeSeconds: &seconds}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health checks the server's health status. This endpoint does not require
// authentication and will work even if the client has invalid credentials.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.getNoAuth(ctx, "/health", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// Wire-format bodies
// ---------------------------------------------------------------------------

type bestTargetBody struct {
	Source     string   `json:"source"`
	Candidates []string `json:"candidates"`
}

type pruneBody struct {
	MaxAgeSeconds *float64 `json:"max_age_seconds,omitempty"`
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

// apiEnvelope is the server's standard response wrapper.
type apiEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// apiErrorEnvelope is the server's standard error response wrapper.
type apiErrorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Meta struct {
		RequestID string `json:"request_id"`
	} `json:"meta"`
}

func (c *Client) post(ctx context.Context, path string, body any, dest any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("keiro: marshal request body: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, encoded, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	return c.do(ctx, http.MethodGet, path, nil, dest)
}

func (c *Client) doDelete(ctx context.Context, path string, dest any) error {
	return c.do(ctx, http.MethodDelete, path, nil, dest)
}

func (c *Client) getNoAuth(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("keiro: create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("keiro: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

// do sends one authenticated request. On a 401 the cached token is
// invalidated and the request retried once with a fresh one, so a token
// revoked mid-lifetime does not surface as an error to the caller.
func (c *Client) do(ctx context.Context, method, path string, body []byte, dest any) error {
	token, err := c.tokenMgr.getToken(ctx)
	if err != nil {
		return err
	}

	resp, err := c.send(ctx, method, path, body, token)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		_ = resp.Body.Close()
		c.tokenMgr.invalidate(token)

		token, err = c.tokenMgr.getToken(ctx)
		if err != nil {
			return err
		}
		resp, err = c.send(ctx, method, path, body, token)
		if err != nil {
			return err
		}
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func (c *Client) send(ctx context.Context, method, path string, body []byte, token string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("keiro: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("keiro: %s %s: %w", method, path, err)
	}
	return resp, nil
}

func handleResponse(resp *http.Response, dest any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("keiro: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	// 204 No Content — nothing to decode.
	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}

	// Unwrap the server's { "data": ... } envelope.
	var envelope apiEnvelope
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		return fmt.Errorf("keiro: decode response envelope: %w", err)
	}

	if envelope.Data == nil {
		// Fallback: some endpoints may not wrap in "data".
		return json.Unmarshal(bodyBytes, dest)
	}

	return json.Unmarshal(envelope.Data, dest)
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
		apiErr.RequestID = envelope.Meta.RequestID
	} else {
		apiErr.Code = http.StatusText(statusCode)
		apiErr.Message = string(body)
	}

	return apiErr
}
