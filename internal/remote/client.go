// Package remote talks to the learning platform over HTTP: it fetches content
// for offline use, delivers queued sync entries, and probes reachability.
package remote

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// Client is an HTTP client for one platform base URL.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client targeting baseURL. A nil httpClient uses one with no
// overall timeout, since content transfers can be long; callers bound
// requests with ctx.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 0}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// Check reports whether GET /health answers 2xx within two seconds.
func (c *Client) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
