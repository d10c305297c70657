// Package settings persists the client's user configuration. The on-disk
// form is a small settings.json in the user config directory; a local
// .env file and the SMMDB_APIKEY environment variable can override the
// stored API key without touching the file.
package settings

import (
	stderrors "errors"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/smmdb/smmdb-client/pkg/errors"
	"github.com/smmdb/smmdb-client/pkg/logging"
)

const (
	appDirName   = "smmdb-client"
	settingsFile = "settings"
	envAPIKey    = "SMMDB_APIKEY"
)

// Settings is the persisted user configuration.
type Settings struct {
	APIKey string `json:"apikey" mapstructure:"apikey"`
}

// Store loads and saves settings under a directory.
type Store struct {
	dir string
}

// NewStore creates a store rooted at the user config directory.
func NewStore() (*Store, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return nil, errors.WrapIO("resolve", "user config dir", err)
	}
	return NewStoreAt(filepath.Join(base, appDirName)), nil
}

// NewStoreAt creates a store rooted at an explicit directory. Used by
// tests and by callers that manage their own config location.
func NewStoreAt(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the directory settings are stored in.
func (s *Store) Dir() string {
	return s.dir
}

// Load reads settings from disk, merges a .env file from the working
// directory if present, and lets the SMMDB_APIKEY environment variable
// win over both. A missing settings file yields defaults, not an error.
func (s *Store) Load() (*Settings, error) {
	// Best effort; absence of a .env file is the normal case.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName(settingsFile)
	v.SetConfigType("json")
	v.AddConfigPath(s.dir)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !stderrors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, errors.WrapParse("json", filepath.Join(s.dir, "settings.json"), err)
		}
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.WrapParse("settings", s.dir, err)
	}

	if key := os.Getenv(envAPIKey); key != "" {
		settings.APIKey = key
	}

	logging.Debug().
		Str("dir", s.dir).
		Bool("has_api_key", settings.APIKey != "").
		Msg("settings loaded")
	return settings, nil
}

// Save writes settings to disk, creating the config directory on first
// use. Environment overrides are not written back; only what the user
// explicitly set through the client is persisted.
func (s *Store) Save(settings *Settings) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return errors.WrapIO("create", s.dir, err)
	}

	v := viper.New()
	v.SetConfigType("json")
	v.Set("apikey", settings.APIKey)

	path := filepath.Join(s.dir, "settings.json")
	if err := v.WriteConfigAs(path); err != nil {
		return errors.WrapIO("write", path, err)
	}
	return nil
}
