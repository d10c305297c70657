package transport

import "net/http"

// Authenticator applies authentication to HTTP requests.
type Authenticator interface {
	Apply(req *http.Request, apiKey string)
}

// NoAuth implements no authentication.
type NoAuth struct{}

// Apply implements the Authenticator interface for NoAuth.
func (a *NoAuth) Apply(_ *http.Request, _ string) {
	// No authentication applied
}

// APIKeyAuth implements the catalog service's API key scheme.
// The service expects "Authorization: APIKEY <key>" rather than a
// standard Bearer token.
type APIKeyAuth struct{}

// Apply implements the Authenticator interface for APIKeyAuth.
func (a *APIKeyAuth) Apply(req *http.Request, apiKey string) {
	req.Header.Set("Authorization", "APIKEY "+apiKey)
}
