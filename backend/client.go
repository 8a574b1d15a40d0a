// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/palaver-chat/palaver/lib/netutil"
)

// Config holds configuration for creating a Client.
type Config struct {
	// BaseURL is the project base URL (e.g., "https://app.example.com").
	BaseURL string
	// APIKey is the project's public API key, sent on every request.
	APIKey string
	// AccessToken is the user's session token. May be empty at
	// construction and set later via SetAccessToken.
	AccessToken string
	// HTTPClient is used for all requests. If nil, http.DefaultClient.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default().
	Logger *slog.Logger
}

// Client is the HTTP half of the backend connection. Safe for
// concurrent use; the access token is the only mutable state.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger

	tokenMu     sync.RWMutex
	accessToken string
}

// NewClient creates a backend client.
func NewClient(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("backend: BaseURL is required")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("backend: invalid BaseURL %q: %w", config.BaseURL, err)
	}
	if config.APIKey == "" {
		return nil, fmt.Errorf("backend: APIKey is required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:     strings.TrimRight(config.BaseURL, "/"),
		apiKey:      config.APIKey,
		httpClient:  httpClient,
		logger:      logger,
		accessToken: config.AccessToken,
	}, nil
}

// SetAccessToken replaces the session token. The session layer owns
// refresh; this client only stores the latest value.
func (c *Client) SetAccessToken(token string) {
	c.tokenMu.Lock()
	c.accessToken = token
	c.tokenMu.Unlock()
}

// AccessToken returns the current session token (empty if anonymous).
func (c *Client) AccessToken() string {
	c.tokenMu.RLock()
	defer c.tokenMu.RUnlock()
	return c.accessToken
}

// RPC invokes a server-side function by name. params is JSON-encoded as
// the request body; the response is decoded into result unless result
// is nil (functions returning void).
func (c *Client) RPC(ctx context.Context, fn string, params any, result any) error {
	body, err := c.doRequest(ctx, http.MethodPost, "/rest/v1/rpc/"+fn, nil, params)
	if err != nil {
		return fmt.Errorf("backend: rpc %s: %w", fn, err)
	}
	if result == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("backend: rpc %s: decoding result: %w", fn, err)
	}
	return nil
}

// Select reads rows from a table. query carries the server-side filter
// expressions; result must be a pointer to a slice.
func (c *Client) Select(ctx context.Context, table string, query url.Values, result any) error {
	body, err := c.doRequest(ctx, http.MethodGet, "/rest/v1/"+table, query, nil)
	if err != nil {
		return fmt.Errorf("backend: select %s: %w", table, err)
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("backend: select %s: decoding rows: %w", table, err)
	}
	return nil
}

// doRequest performs an HTTP request and returns the response body.
// On 2xx, returns the body. On 4xx/5xx, returns a *BackendError.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, requestBody any) ([]byte, error) {
	requestURL := c.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	request.Header.Set("apikey", c.apiKey)
	// The API key doubles as the bearer for anonymous requests.
	token := c.AccessToken()
	if token == "" {
		token = c.apiKey
	}
	request.Header.Set("Authorization", "Bearer "+token)

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("request to %s %s failed: %w", method, path, err)
	}
	defer response.Body.Close()

	responseBody, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return responseBody, nil
	}

	// All backend error responses share one JSON shape.
	var backendErr BackendError
	if jsonErr := json.Unmarshal(responseBody, &backendErr); jsonErr != nil || backendErr.Message == "" && backendErr.Code == "" {
		// Non-JSON error from a proxy or load balancer. Fail loud with
		// the raw body.
		return nil, fmt.Errorf("unexpected %d response from %s %s: %s",
			response.StatusCode, method, path, netutil.ErrorBody(responseBody))
	}
	backendErr.StatusCode = response.StatusCode
	return nil, &backendErr
}
