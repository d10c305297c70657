package smmdbclient

import (
	"context"

	"github.com/google/uuid"

	"github.com/smmdb/smmdb-client/internal/settings"
	"github.com/smmdb/smmdb-client/pkg/catalog"
	"github.com/smmdb/smmdb-client/pkg/errors"
	"github.com/smmdb/smmdb-client/pkg/logging"
	"github.com/smmdb/smmdb-client/pkg/save"
)

// taskContext builds the context dispatched tasks run under, tagged with
// a fresh flow id so one user action's log lines correlate.
func (c *Client) taskContext(operation string) context.Context {
	ctx := logging.WithLogger(context.Background(), c.logger)
	ctx = logging.WithFlowID(ctx, uuid.NewString())
	return logging.WithOperation(ctx, operation)
}

// setState changes the orchestrator state and notifies hooks. Loop only.
func (c *Client) setState(state State) {
	if c.state == state {
		return
	}
	c.logger.Debug().
		Stringer("from", c.state).
		Stringer("to", state).
		Msg("state changed")
	c.state = state
	c.hooks.triggerStateChanged(state)
}

// fail surfaces an operation error. Loop only.
func (c *Client) fail(operation string, err error) {
	c.logger.Error().Err(err).Str("operation", operation).Msg("operation failed")
	c.hooks.triggerError(err)
}

// refreshSlots re-derives the annotated slot view from the container and
// the metadata cache. Loop only, and only while no task owns the
// container.
func (c *Client) refreshSlots() {
	if c.container == nil {
		c.slots = nil
		c.hooks.triggerSlotsChanged(nil)
		return
	}

	entries := c.container.Slots()
	slots := make([]DisplaySlot, len(entries))
	for i, entry := range entries {
		slots[i] = DisplaySlot{Index: i, Entry: entry}
		if entry == nil || entry.Course == nil {
			continue
		}
		if meta, ok := c.cache.Annotate(entry.Course); ok {
			m := meta
			slots[i].Meta = &m
		}
	}
	c.slots = slots
	c.hooks.triggerSlotsChanged(slots)
}

// requireIdle gates a new intent on the orchestrator being idle.
func (c *Client) requireIdle(intent string) error {
	if c.state != StateIdle {
		return errors.NewStateError(intent, c.state.String())
	}
	return nil
}

// OpenSave parses the save container at path, then fetches catalog
// metadata for every slot with an embedded remote id. A metadata fetch
// failure leaves the save open with bare slots; only a parse failure
// fails the open.
func (c *Client) OpenSave(path string) error {
	return c.do("open save", func() error {
		if err := c.requireIdle("open save"); err != nil {
			return err
		}
		c.setState(StateLoading)
		go c.openSaveTask(c.taskContext("open save"), path)
		return nil
	})
}

func (c *Client) openSaveTask(ctx context.Context, path string) {
	container, err := save.Open(path)
	if err != nil {
		c.post("open save failed", func() {
			c.fail("open save", err)
			c.setState(StateIdle)
		})
		return
	}

	items, fetchErr := c.fetchMetadata(ctx, container.EmbeddedRemoteIDs())

	c.post("save opened", func() {
		c.container = container
		c.cache.UpsertMany(items)
		if fetchErr != nil {
			c.fail("fetch save metadata", fetchErr)
		}
		c.refreshSlots()
		c.setState(StateIdle)
		logging.Ctx(ctx).Info().
			Str("path", path).
			Int("slots", container.Len()).
			Int("occupied", container.Occupied()).
			Msg("save opened")
	})
}

// fetchMetadata batch-fetches metadata and missing thumbnails for the
// given remote ids.
func (c *Client) fetchMetadata(ctx context.Context, ids []string) ([]catalog.CourseMetadata, error) {
	var items []catalog.CourseMetadata
	for start := 0; start < len(ids); start += catalog.MaxLimit {
		end := start + catalog.MaxLimit
		if end > len(ids) {
			end = len(ids)
		}
		batch, err := c.catalog.FetchByIDs(ctx, ids[start:end])
		if err != nil {
			return items, err
		}
		items = append(items, batch...)
	}

	for i := range items {
		if len(items[i].Thumbnail) > 0 {
			continue
		}
		thumb, err := c.catalog.FetchThumbnail(ctx, items[i].ID)
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("course_id", items[i].ID).Msg("thumbnail fetch failed")
			continue
		}
		items[i].Thumbnail = thumb
	}
	return items, nil
}

// CloseSave drops the open save container.
func (c *Client) CloseSave() error {
	return c.do("close save", func() error {
		if err := c.requireIdle("close save"); err != nil {
			return err
		}
		c.container = nil
		c.refreshSlots()
		return nil
	})
}

// SelectSwap marks slot as the first half of a swap and awaits
// confirmation with the second slot.
func (c *Client) SelectSwap(slot int) error {
	return c.selectAction("select swap", SwapSelect{Slot: slot}, slot)
}

// SelectDelete marks slot for deletion, awaiting confirmation.
func (c *Client) SelectDelete(slot int) error {
	return c.selectAction("select delete", DeleteSelect{Slot: slot}, slot)
}

// SelectDownload marks slot as the destination of a catalog download,
// awaiting confirmation with a course id.
func (c *Client) SelectDownload(slot int) error {
	return c.selectAction("select download", DownloadSelect{Slot: slot}, slot)
}

// SelectUpload marks slot for upload, awaiting confirmation. The slot
// must hold an intact course.
func (c *Client) SelectUpload(slot int) error {
	return c.do("select upload", func() error {
		if err := c.requireIdle("select upload"); err != nil {
			return err
		}
		entry, err := c.slotCourseEntry(slot)
		if err != nil {
			return err
		}
		if entry == nil {
			return errors.NewSlotError("upload", slot, "slot is empty")
		}
		c.pending = UploadSelect{Slot: slot}
		c.setState(StateAwaitingConfirmation)
		return nil
	})
}

// SelectDeleteRemote marks a remote course for catalog deletion,
// awaiting confirmation.
func (c *Client) SelectDeleteRemote(id string) error {
	return c.do("select delete remote", func() error {
		if err := c.requireIdle("select delete remote"); err != nil {
			return err
		}
		if id == "" {
			return errors.NewValidationError("id", id, "remote id is empty")
		}
		c.pending = DeleteRemoteSelect{ID: id}
		c.setState(StateAwaitingConfirmation)
		return nil
	})
}

// selectAction is the shared slot-selection gate.
func (c *Client) selectAction(intent string, action PendingAction, slot int) error {
	return c.do(intent, func() error {
		if err := c.requireIdle(intent); err != nil {
			return err
		}
		if c.container == nil {
			return errors.NewValidationError("save", nil, "no save open")
		}
		if _, err := c.container.Slot(slot); err != nil {
			return err
		}
		c.pending = action
		c.setState(StateAwaitingConfirmation)
		return nil
	})
}

// slotCourseEntry returns the entry at slot, nil when empty. Loop only.
func (c *Client) slotCourseEntry(slot int) (*save.Entry, error) {
	if c.container == nil {
		return nil, errors.NewValidationError("save", nil, "no save open")
	}
	return c.container.Slot(slot)
}

// Cancel abandons the pending action, or cancels an in-flight download.
// Canceling a download leaves the destination slot untouched.
func (c *Client) Cancel() error {
	return c.do("cancel", func() error {
		switch c.state {
		case StateAwaitingConfirmation:
			c.pending = nil
			c.setState(StateIdle)
			return nil
		case StateDownloading:
			if c.downloadCancel != nil {
				c.downloadCancel()
				c.downloadCancel = nil
			}
			c.setState(StateIdle)
			return nil
		default:
			return errors.NewStateError("cancel", c.state.String())
		}
	})
}

// ConfirmSwap completes a pending swap with the second slot. The swap is
// persisted before the operation reports completion through hooks.
func (c *Client) ConfirmSwap(second int) error {
	return c.do("confirm swap", func() error {
		action, ok := c.pending.(SwapSelect)
		if c.state != StateAwaitingConfirmation || !ok {
			return errors.NewStateError("confirm swap", c.state.String())
		}
		c.pending = nil
		c.setState(StateLoading)
		container := c.container
		go func() {
			err := container.Swap(action.Slot, second)
			c.post("swap done", func() {
				if err != nil {
					c.fail("swap", err)
				}
				c.refreshSlots()
				c.setState(StateIdle)
			})
		}()
		return nil
	})
}

// ConfirmDelete completes a pending local slot deletion.
func (c *Client) ConfirmDelete() error {
	return c.do("confirm delete", func() error {
		action, ok := c.pending.(DeleteSelect)
		if c.state != StateAwaitingConfirmation || !ok {
			return errors.NewStateError("confirm delete", c.state.String())
		}
		c.pending = nil
		c.setState(StateLoading)
		container := c.container
		go func() {
			err := container.Remove(action.Slot)
			c.post("delete done", func() {
				if err != nil {
					c.fail("delete slot", err)
				}
				c.refreshSlots()
				c.setState(StateIdle)
			})
		}()
		return nil
	})
}

// ConfirmDeleteRemote completes a pending remote deletion: the course is
// removed from the catalog, then dropped from the cache and the current
// page.
func (c *Client) ConfirmDeleteRemote() error {
	return c.do("confirm delete remote", func() error {
		action, ok := c.pending.(DeleteRemoteSelect)
		if c.state != StateAwaitingConfirmation || !ok {
			return errors.NewStateError("confirm delete remote", c.state.String())
		}
		if c.apiKey == "" {
			return errors.ErrAPIKeyRequired
		}
		c.pending = nil
		c.setState(StateLoading)
		ctx := c.taskContext("delete remote")
		apiKey := c.apiKey
		go func() {
			err := c.catalog.Delete(ctx, action.ID, apiKey)
			c.post("delete remote done", func() {
				if err != nil {
					c.fail("delete remote", err)
					c.setState(StateIdle)
					return
				}
				c.cache.Remove(action.ID)
				c.courses = dropCourse(c.courses, action.ID)
				c.hooks.triggerCoursesChanged(c.courses)
				c.refreshSlots()
				c.setState(StateIdle)
			})
		}()
		return nil
	})
}

// ConfirmUpload completes a pending upload. On success the local slot is
// re-added carrying the newly assigned remote id, that id's metadata is
// fetched, and the current search page refreshes so ownership badges
// update. The steps are sequential, not transactional; an interruption
// heals on the next open or search since cache upserts are idempotent.
func (c *Client) ConfirmUpload() error {
	return c.do("confirm upload", func() error {
		action, ok := c.pending.(UploadSelect)
		if c.state != StateAwaitingConfirmation || !ok {
			return errors.NewStateError("confirm upload", c.state.String())
		}
		if c.apiKey == "" {
			return errors.ErrAPIKeyRequired
		}
		entry, err := c.slotCourseEntry(action.Slot)
		if err != nil {
			return err
		}
		if entry == nil || entry.Course == nil {
			return errors.NewSlotError("upload", action.Slot, "slot is empty")
		}

		c.pending = nil
		c.setState(StateLoading)
		container, apiKey := c.container, c.apiKey
		ctx := logging.WithSlot(c.taskContext("upload"), action.Slot)
		go c.uploadTask(ctx, container, apiKey, action.Slot, entry.Course, c.query)
		return nil
	})
}

func (c *Client) uploadTask(ctx context.Context, container *save.Container, apiKey string, slot int, course *save.Course, query catalog.QueryState) {
	id, err := c.catalog.Upload(ctx, course, apiKey)
	if err != nil {
		c.post("upload failed", func() {
			c.fail("upload", err)
			c.setState(StateIdle)
		})
		return
	}

	// Re-key the local slot under the assigned remote id.
	uploaded := *course
	uploaded.SMMDBID = id
	if err := container.Remove(slot); err == nil {
		err = container.Add(slot, &uploaded)
	}
	if err != nil {
		c.post("upload rekey failed", func() {
			c.fail("upload", err)
			c.refreshSlots()
			c.setState(StateIdle)
		})
		return
	}

	items, fetchErr := c.fetchMetadata(ctx, []string{id})
	page, searchErr := c.catalog.Search(ctx, query)

	c.post("upload done", func() {
		c.cache.UpsertMany(items)
		if fetchErr != nil {
			c.fail("fetch uploaded metadata", fetchErr)
		}
		if searchErr != nil {
			c.fail("refresh search", searchErr)
		} else {
			c.cache.UpsertMany(page)
			c.courses = page
			c.hooks.triggerCoursesChanged(page)
		}
		c.refreshSlots()
		c.setState(StateIdle)
		logging.Ctx(ctx).Info().Str("course_id", id).Msg("course uploaded into slot")
	})
}

// ConfirmDownload completes a pending download: the course payload
// streams into the selected empty slot with progress reported through
// OnDownloadProgress.
func (c *Client) ConfirmDownload(courseID string) error {
	return c.do("confirm download", func() error {
		action, ok := c.pending.(DownloadSelect)
		if c.state != StateAwaitingConfirmation || !ok {
			return errors.NewStateError("confirm download", c.state.String())
		}
		entry, err := c.slotCourseEntry(action.Slot)
		if err != nil {
			return err
		}
		if entry != nil {
			return errors.NewSlotError("download", action.Slot, "slot occupied")
		}

		c.pending = nil
		c.setState(StateDownloading)
		taskCtx := logging.WithCourse(logging.WithSlot(c.taskContext("download"), action.Slot), courseID)
		ctx, cancel := context.WithCancel(taskCtx)
		c.downloadCancel = cancel
		go c.downloadTask(ctx, action.Slot, courseID)
		return nil
	})
}

func (c *Client) downloadTask(ctx context.Context, slot int, courseID string) {
	stream := c.catalog.Download(ctx, courseID)
	for {
		select {
		case p := <-stream:
			c.post("download progress", func() {
				c.hooks.triggerDownloadProgress(p)
			})
			switch p.Stage {
			case catalog.ProgressFinished:
				c.post("download finished", func() {
					c.finishDownload(ctx, slot, courseID, p.Data)
				})
				return
			case catalog.ProgressErrored:
				c.post("download errored", func() {
					if c.state != StateDownloading {
						return
					}
					c.downloadCancel = nil
					c.fail("download", p.Err)
					c.setState(StateIdle)
				})
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// finishDownload decodes the downloaded payload and dispatches the slot
// add. Dropped if the user already canceled. Loop only.
func (c *Client) finishDownload(ctx context.Context, slot int, courseID string, payload []byte) {
	if c.state != StateDownloading {
		return
	}
	c.downloadCancel = nil

	course, err := save.BinaryCodec{}.DecodeCourse(payload)
	if err != nil {
		c.fail("decode download", err)
		c.setState(StateIdle)
		return
	}
	course.SMMDBID = courseID

	c.setState(StateLoading)
	container := c.container
	go func() {
		addErr := container.Add(slot, course)
		items, fetchErr := c.fetchMetadata(ctx, []string{courseID})
		c.post("download stored", func() {
			if addErr != nil {
				c.fail("store download", addErr)
			}
			c.cache.UpsertMany(items)
			if fetchErr != nil {
				logging.Ctx(ctx).Warn().Err(fetchErr).Msg("metadata refresh failed")
			}
			c.refreshSlots()
			c.setState(StateIdle)
		})
	}()
}

// Search runs the current query against the catalog and replaces the
// current page.
func (c *Client) Search() error {
	return c.do("search", func() error {
		if err := c.requireIdle("search"); err != nil {
			return err
		}
		c.dispatchSearch()
		return nil
	})
}

// dispatchSearch starts a search task for the current query. Loop only,
// caller must hold the Idle gate.
func (c *Client) dispatchSearch() {
	c.setState(StateLoading)
	query := c.query
	ctx := c.taskContext("search")
	go func() {
		page, err := c.catalog.Search(ctx, query)
		c.post("search done", func() {
			if err != nil {
				c.fail("search", err)
				c.setState(StateIdle)
				return
			}
			c.cache.UpsertMany(page)
			c.courses = page
			c.hooks.triggerCoursesChanged(page)
			c.refreshSlots()
			c.setState(StateIdle)
		})
	}()
}

// SetTitleFilter replaces the title filter and refreshes the results.
func (c *Client) SetTitleFilter(title string) error {
	return c.updateQuery("set title filter", func(q *catalog.QueryState) {
		q.SetTitle(title)
	})
}

// SetUploaderFilter replaces the uploader filter and refreshes the
// results.
func (c *Client) SetUploaderFilter(uploader string) error {
	return c.updateQuery("set uploader filter", func(q *catalog.QueryState) {
		q.SetUploader(uploader)
	})
}

// SetDifficultyFilter replaces the difficulty filter and refreshes the
// results. Nil clears the filter.
func (c *Client) SetDifficultyFilter(d *catalog.Difficulty) error {
	return c.updateQuery("set difficulty filter", func(q *catalog.QueryState) {
		q.SetDifficulty(d)
	})
}

// SetSort replaces the sort specification and refreshes the results.
func (c *Client) SetSort(sort []catalog.SortKey) error {
	return c.updateQuery("set sort", func(q *catalog.QueryState) {
		q.SetSort(sort)
	})
}

// NextPage advances one page and refreshes the results.
func (c *Client) NextPage() error {
	return c.updateQuery("next page", func(q *catalog.QueryState) {
		q.NextPage()
	})
}

// PrevPage rewinds one page and refreshes the results.
func (c *Client) PrevPage() error {
	return c.updateQuery("prev page", func(q *catalog.QueryState) {
		q.PrevPage()
	})
}

func (c *Client) updateQuery(intent string, mutate func(*catalog.QueryState)) error {
	return c.do(intent, func() error {
		if err := c.requireIdle(intent); err != nil {
			return err
		}
		mutate(&c.query)
		c.dispatchSearch()
		return nil
	})
}

// Vote casts a vote on a course: -1 downvote, 1 upvote, 0 retracts. The
// cache updates optimistically before the network call completes; if the
// call fails the error is surfaced but the optimistic state stays.
func (c *Client) Vote(id string, value int) error {
	return c.do("vote", func() error {
		if err := c.requireIdle("vote"); err != nil {
			return err
		}
		if c.apiKey == "" {
			return errors.ErrAPIKeyRequired
		}
		if !catalog.VoteValue(value) {
			return errors.NewValidationError("value", value, "vote must be -1, 0 or 1")
		}

		if c.cache.ApplyVote(id, value) {
			c.courses = refreshFromCache(c.cache, c.courses)
			c.hooks.triggerCoursesChanged(c.courses)
			c.refreshSlots()
		}

		ctx := c.taskContext("vote")
		apiKey := c.apiKey
		go func() {
			if err := c.catalog.Vote(ctx, id, value, apiKey); err != nil {
				c.post("vote failed", func() {
					c.fail("vote", err)
				})
			}
		}()
		return nil
	})
}

// SetAPIKey stores a new API key, persists it through the settings store
// and re-verifies the credential. An empty key logs out.
func (c *Client) SetAPIKey(apiKey string) error {
	return c.do("set api key", func() error {
		c.apiKey = apiKey
		if c.store != nil {
			store := c.store
			go func() {
				if err := store.Save(&settings.Settings{APIKey: apiKey}); err != nil {
					c.post("settings save failed", func() {
						c.fail("save settings", err)
					})
				}
			}()
		}
		if apiKey == "" {
			c.user = nil
			c.hooks.triggerUserChanged(nil)
			return nil
		}
		go c.verifyTask(c.taskContext("verify credential"), apiKey)
		return nil
	})
}

// VerifyCredential checks the configured API key against the catalog.
// Failure downgrades to logged out instead of failing the client.
func (c *Client) VerifyCredential() error {
	return c.do("verify credential", func() error {
		if c.apiKey == "" {
			return errors.ErrAPIKeyRequired
		}
		go c.verifyTask(c.taskContext("verify credential"), c.apiKey)
		return nil
	})
}

func (c *Client) verifyTask(ctx context.Context, apiKey string) {
	identity, err := c.catalog.VerifyCredential(ctx, apiKey)
	c.post("credential verified", func() {
		if err != nil {
			c.user = nil
			c.hooks.triggerUserChanged(nil)
			c.fail("verify credential", err)
			return
		}
		c.user = identity
		c.hooks.triggerUserChanged(identity)
		logging.Ctx(ctx).Info().Str("username", identity.Username).Msg("logged in")
	})
}

// dropCourse removes a course from a page by id. The result is a fresh
// slice so pages already handed to subscribers stay intact.
func dropCourse(courses []catalog.CourseMetadata, id string) []catalog.CourseMetadata {
	out := make([]catalog.CourseMetadata, 0, len(courses))
	for _, course := range courses {
		if course.ID != id {
			out = append(out, course)
		}
	}
	return out
}

// refreshFromCache re-reads each page entry from the cache so optimistic
// updates show up in the current page.
func refreshFromCache(cache *catalog.Cache, courses []catalog.CourseMetadata) []catalog.CourseMetadata {
	out := make([]catalog.CourseMetadata, len(courses))
	for i, course := range courses {
		if fresh, ok := cache.Get(course.ID); ok {
			out[i] = fresh
		} else {
			out[i] = course
		}
	}
	return out
}
