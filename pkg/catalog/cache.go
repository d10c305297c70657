package catalog

import (
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/goccy/go-yaml"

	"github.com/smmdb/smmdb-client/pkg/errors"
	"github.com/smmdb/smmdb-client/pkg/logging"
	"github.com/smmdb/smmdb-client/pkg/save"
)

// Cache is the in-memory reconciliation layer mapping remote course ids to
// the latest known metadata. It is distinct from the paginated current-page
// view: a course referenced by a local save slot stays annotatable even
// when it falls outside the current page or filter.
type Cache struct {
	mu   sync.RWMutex
	byID map[string]CourseMetadata
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{
		byID: make(map[string]CourseMetadata),
	}
}

// UpsertMany replaces cached entries by id. Both paginated page results and
// batch fetches land here; a course appearing in both sources converges to
// the latest fetched value. Upserts are idempotent.
func (c *Cache) UpsertMany(items []CourseMetadata) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, item := range items {
		if item.ID == "" {
			continue
		}
		c.byID[item.ID] = item
	}
}

// ApplyVote applies an optimistic local vote update: the vote total moves
// by the signed delta between the new and the previous own vote, and the
// own vote is replaced. Performed before the network call confirms; there
// is no rollback path if the call later fails, by design.
func (c *Cache) ApplyVote(id string, newVote int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.byID[id]
	if !ok {
		return false
	}
	item.Votes += newVote - item.OwnVote
	item.OwnVote = newVote
	c.byID[id] = item
	return true
}

// Get returns the cached metadata for a remote id.
func (c *Cache) Get(id string) (CourseMetadata, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.byID[id]
	return item, ok
}

// Annotate looks up metadata for a local course via its embedded remote
// id. Returns false if the course has no remote id or the id is not (yet)
// cached.
func (c *Cache) Annotate(course *save.Course) (CourseMetadata, bool) {
	if !course.HasRemoteID() {
		return CourseMetadata{}, false
	}
	return c.Get(course.SMMDBID)
}

// Remove drops a cached entry. Called after a successful remote delete;
// entries are never evicted otherwise.
func (c *Cache) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byID, id)
}

// AttachThumbnail attaches fetched thumbnail bytes to a cached entry.
func (c *Cache) AttachThumbnail(id string, thumbnail []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.byID[id]
	if !ok {
		return false
	}
	item.Thumbnail = thumbnail
	c.byID[id] = item
	return true
}

// MissingThumbnails returns the subset of ids that are cached but have no
// thumbnail bytes yet.
func (c *Cache) MissingThumbnails(ids []string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var missing []string
	for _, id := range ids {
		if item, ok := c.byID[id]; ok && len(item.Thumbnail) == 0 {
			missing = append(missing, id)
		}
	}
	return missing
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byID)
}

// snapshot is the on-disk form of the cache.
type snapshot struct {
	Courses []CourseMetadata `yaml:"courses"`
}

// SaveSnapshot writes the cache to a YAML file so slot annotations survive
// restarts. Best effort; a failed snapshot never affects the in-memory
// state.
func (c *Cache) SaveSnapshot(path string) error {
	c.mu.RLock()
	snap := snapshot{Courses: make([]CourseMetadata, 0, len(c.byID))}
	for _, item := range c.byID {
		snap.Courses = append(snap.Courses, item)
	}
	c.mu.RUnlock()

	// Deterministic file content regardless of map iteration order.
	sort.Slice(snap.Courses, func(i, j int) bool {
		return snap.Courses[i].ID < snap.Courses[j].ID
	})

	data, err := yaml.Marshal(snap)
	if err != nil {
		return errors.WrapParse("yaml", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.WrapIO("create", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.WrapIO("write", path, err)
	}

	logging.Debug().Str("path", path).Int("courses", len(snap.Courses)).Msg("cache snapshot written")
	return nil
}

// LoadSnapshot merges a previously written snapshot into the cache. A
// missing file is not an error.
func (c *Cache) LoadSnapshot(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.WrapIO("read", path, err)
	}

	var snap snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return errors.WrapParse("yaml", path, err)
	}

	c.UpsertMany(snap.Courses)
	return nil
}
