// Package transport provides HTTP plumbing shared by the catalog client:
// authenticated requests, JSON decoding, and uniform error mapping.
package transport

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/smmdb/smmdb-client/pkg/errors"
)

// DefaultHTTPTimeout is the default timeout for HTTP requests.
const DefaultHTTPTimeout = 30 * time.Second

// Client provides HTTP client functionality with authentication.
type Client struct {
	http *http.Client
	auth Authenticator
}

// New creates a new transport client with the specified authenticator.
func New(auth Authenticator) *Client {
	return &Client{
		http: &http.Client{Timeout: DefaultHTTPTimeout},
		auth: auth,
	}
}

// NewWithHTTPClient creates a transport client using a caller-supplied
// http.Client. A nil client falls back to the default.
func NewWithHTTPClient(auth Authenticator, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{
		http: httpClient,
		auth: auth,
	}
}

// Do performs an HTTP request with authentication applied. An empty apiKey
// sends the request unauthenticated.
func (c *Client) Do(req *http.Request, apiKey string) (*http.Response, error) {
	if apiKey != "" {
		c.auth.Apply(req, apiKey)
	}

	req.Header.Set("Accept", "application/json")

	return c.http.Do(req)
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, url string, apiKey string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.WrapIO("create", "GET "+url, err)
	}
	return c.Do(req, apiKey)
}

// Post performs a POST request with the given body and content type.
func (c *Client) Post(ctx context.Context, url, contentType string, body io.Reader, apiKey string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, errors.WrapIO("create", "POST "+url, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.Do(req, apiKey)
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, url string, apiKey string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return nil, errors.WrapIO("create", "DELETE "+url, err)
	}
	return c.Do(req, apiKey)
}
