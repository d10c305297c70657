package smmdbclient

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/smmdb/smmdb-client/internal/settings"
)

// Option is a function that configures a Client instance.
type Option func(*config) error

// config holds construction-time configuration.
type config struct {
	baseURL           string
	apiKey            string
	httpClient        *http.Client
	logger            *zerolog.Logger
	settingsStore     *settings.Store
	cacheSnapshotPath string
}

// WithBaseURL overrides the catalog service base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *config) error {
		c.baseURL = baseURL
		return nil
	}
}

// WithAPIKey sets the catalog API key directly, bypassing the settings
// store. The key is not persisted.
func WithAPIKey(apiKey string) Option {
	return func(c *config) error {
		c.apiKey = apiKey
		return nil
	}
}

// WithHTTPClient supplies a custom http.Client for catalog traffic.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *config) error {
		c.httpClient = httpClient
		return nil
	}
}

// WithLogger sets the logger the client writes to.
func WithLogger(logger *zerolog.Logger) Option {
	return func(c *config) error {
		c.logger = logger
		return nil
	}
}

// WithSettingsStore supplies the settings store used to load the API key
// at startup and persist key changes.
func WithSettingsStore(store *settings.Store) Option {
	return func(c *config) error {
		c.settingsStore = store
		return nil
	}
}

// WithCacheSnapshotPath enables the on-disk metadata cache snapshot.
// Loaded at construction, written on Close.
func WithCacheSnapshotPath(path string) Option {
	return func(c *config) error {
		c.cacheSnapshotPath = path
		return nil
	}
}
