// Package smmdbclient manages Super Mario Maker 2 save containers and
// keeps them synchronized with the SMMDB course catalog: slot-level save
// mutation, paginated catalog search, uploads, downloads with progress,
// votes, and local metadata reconciliation.
//
// A Client runs a single event loop that owns all mutable state. User
// intents are accepted or rejected synchronously against the current
// orchestrator state; network and disk I/O run as dispatched tasks whose
// completions re-enter the loop. View layers observe the client through
// registered hooks rather than polling.
package smmdbclient

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/smmdb/smmdb-client/internal/emu"
	"github.com/smmdb/smmdb-client/internal/settings"
	"github.com/smmdb/smmdb-client/pkg/catalog"
	"github.com/smmdb/smmdb-client/pkg/logging"
	"github.com/smmdb/smmdb-client/pkg/save"
)

// Client orchestrates the save container, the catalog service and the
// metadata cache.
type Client struct {
	*hooks

	catalog      *catalog.Client
	cache        *catalog.Cache
	logger       *zerolog.Logger
	store        *settings.Store
	snapshotPath string

	commands  chan command
	done      chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once

	// Loop-owned state. While a dispatched task is in flight the
	// container belongs to that task; the loop serves reads from the
	// cached slots snapshot until the completion event re-derives it.
	state          State
	pending        PendingAction
	container      *save.Container
	slots          []DisplaySlot
	query          catalog.QueryState
	courses        []catalog.CourseMetadata
	user           *catalog.UserIdentity
	apiKey         string
	downloadCancel context.CancelFunc
}

// New creates a client and starts its event loop. Callers must Close the
// client to stop the loop and flush the cache snapshot.
func New(opts ...Option) (*Client, error) {
	cfg := &config{}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	logger := cfg.logger
	if logger == nil {
		logger = logging.Default()
	}

	apiKey := cfg.apiKey
	if apiKey == "" && cfg.settingsStore != nil {
		loaded, err := cfg.settingsStore.Load()
		if err != nil {
			logger.Warn().Err(err).Msg("settings unreadable, starting logged out")
		} else {
			apiKey = loaded.APIKey
		}
	}

	catalogOpts := []catalog.Option{}
	if cfg.baseURL != "" {
		catalogOpts = append(catalogOpts, catalog.WithBaseURL(cfg.baseURL))
	}
	if cfg.httpClient != nil {
		catalogOpts = append(catalogOpts, catalog.WithHTTPClient(cfg.httpClient))
	}

	c := &Client{
		catalog:      catalog.NewClient(catalogOpts...),
		cache:        catalog.NewCache(),
		hooks:        newHooks(),
		logger:       logger,
		store:        cfg.settingsStore,
		snapshotPath: cfg.cacheSnapshotPath,
		commands:     make(chan command),
		done:         make(chan struct{}),
		loopDone:     make(chan struct{}),
		state:        StateIdle,
		query:        catalog.DefaultQuery(),
		apiKey:       apiKey,
	}

	if c.snapshotPath != "" {
		if err := c.cache.LoadSnapshot(c.snapshotPath); err != nil {
			logger.Warn().Err(err).Str("path", c.snapshotPath).Msg("cache snapshot unreadable")
		}
	}

	go c.loop()
	return c, nil
}

// Close stops the event loop, cancels any in-flight download and writes
// the cache snapshot.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		_ = c.do("close", func() error {
			if c.downloadCancel != nil {
				c.downloadCancel()
				c.downloadCancel = nil
			}
			return nil
		})
		close(c.done)
		<-c.loopDone
		if c.snapshotPath != "" {
			err = c.cache.SaveSnapshot(c.snapshotPath)
		}
	})
	return err
}

// CurrentState returns the orchestrator state.
func (c *Client) CurrentState() State {
	var state State
	_ = c.do("read state", func() error {
		state = c.state
		return nil
	})
	return state
}

// Pending returns the selected-but-unconfirmed action, nil outside
// StateAwaitingConfirmation.
func (c *Client) Pending() PendingAction {
	var pending PendingAction
	_ = c.do("read pending", func() error {
		pending = c.pending
		return nil
	})
	return pending
}

// DisplaySlots returns the annotated save slots as of the last completed
// operation. Empty when no save is open.
func (c *Client) DisplaySlots() []DisplaySlot {
	var slots []DisplaySlot
	_ = c.do("read slots", func() error {
		slots = append(slots, c.slots...)
		return nil
	})
	return slots
}

// CurrentCourses returns the current search result page.
func (c *Client) CurrentCourses() []catalog.CourseMetadata {
	var courses []catalog.CourseMetadata
	_ = c.do("read courses", func() error {
		courses = append(courses, c.courses...)
		return nil
	})
	return courses
}

// Query returns the active search query.
func (c *Client) Query() catalog.QueryState {
	var query catalog.QueryState
	_ = c.do("read query", func() error {
		query = c.query
		return nil
	})
	return query
}

// User returns the authenticated catalog identity, nil when logged out.
func (c *Client) User() *catalog.UserIdentity {
	var user *catalog.UserIdentity
	_ = c.do("read user", func() error {
		user = c.user
		return nil
	})
	return user
}

// Metadata returns cached catalog metadata for a remote id.
func (c *Client) Metadata(id string) (catalog.CourseMetadata, bool) {
	return c.cache.Get(id)
}

// SaveLocation is a discovered emulator save directory a user can open.
type SaveLocation struct {
	DisplayName string
	Path        string
	Emulator    string
}

// DiscoverSaves scans known emulator install locations for save
// directories of the game.
func DiscoverSaves() []SaveLocation {
	found := emu.GuessSaveDirs()
	locations := make([]SaveLocation, 0, len(found))
	for _, loc := range found {
		locations = append(locations, SaveLocation{
			DisplayName: loc.DisplayName,
			Path:        loc.Path,
			Emulator:    string(loc.Kind),
		})
	}
	return locations
}
