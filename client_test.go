package smmdbclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	stderrors "errors"

	"github.com/smmdb/smmdb-client/pkg/catalog"
	"github.com/smmdb/smmdb-client/pkg/errors"
	"github.com/smmdb/smmdb-client/pkg/logging"
	"github.com/smmdb/smmdb-client/pkg/save"
)

// testEnv wires a client against a fixture catalog service and a
// temporary save file with three occupied slots and one empty slot.
type testEnv struct {
	client   *Client
	savePath string
	server   *httptest.Server
	errs     chan error
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	remote := map[string]catalog.CourseMetadata{
		"remote-a": {ID: "remote-a", Owner: "user-1", Uploader: "alice", Votes: 5},
		"new1":     {ID: "new1", Owner: "user-1", Uploader: "alice", Votes: 0},
		"dl-1":     {ID: "dl-1", Owner: "user-2", Uploader: "bob", Votes: 12},
	}
	page := []catalog.CourseMetadata{remote["remote-a"], remote["dl-1"]}

	downloadPayload, err := save.BinaryCodec{}.EncodeCourse(&save.Course{
		Title:       "Downloaded Level",
		Description: "from the catalog",
	})
	if err != nil {
		t.Fatal(err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /courses", func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		if query.Has("ids[0]") {
			var out []catalog.CourseMetadata
			for i := 0; ; i++ {
				id := query.Get("ids[" + strconv.Itoa(i) + "]")
				if id == "" {
					break
				}
				if meta, ok := remote[id]; ok {
					out = append(out, meta)
				}
			}
			writeJSON(w, out)
			return
		}
		writeJSON(w, page)
	})
	mux.HandleFunc("GET /courses/thumbnail/{id}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("thumb"))
	})
	mux.HandleFunc("GET /courses/download/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(downloadPayload)))
		_, _ = w.Write(downloadPayload)
	})
	mux.HandleFunc("POST /courses", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "APIKEY test-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		writeJSON(w, map[string]any{
			"succeeded": []map[string]string{{"id": "new1"}},
			"failed":    []map[string]string{},
		})
	})
	mux.HandleFunc("DELETE /courses/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /courses/vote/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "vote-fails" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "APIKEY test-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		writeJSON(w, catalog.UserIdentity{ID: "user-1", Username: "alice"})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	savePath := filepath.Join(t.TempDir(), "save.dat")
	container, err := save.Create(savePath, 4)
	if err != nil {
		t.Fatal(err)
	}
	courses := []*save.Course{
		{Title: "Linked Course", SMMDBID: "remote-a"},
		{Title: "Local Only"},
		{Title: "Another Local"},
	}
	for i, course := range courses {
		if err := container.Add(i, course); err != nil {
			t.Fatal(err)
		}
	}

	logger := logging.NewNopLogger()
	client, err := New(
		WithBaseURL(server.URL),
		WithAPIKey("test-key"),
		WithLogger(logger),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = client.Close() })

	errs := make(chan error, 16)
	client.OnError(func(err error) { errs <- err })

	return &testEnv{client: client, savePath: savePath, server: server, errs: errs}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func waitIdle(t *testing.T, c *Client) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if c.CurrentState() == StateIdle {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("client stuck in state %s", c.CurrentState())
}

func openSave(t *testing.T, env *testEnv) {
	t.Helper()
	if err := env.client.OpenSave(env.savePath); err != nil {
		t.Fatalf("OpenSave: %v", err)
	}
	waitIdle(t, env.client)
}

func requireNoErrors(t *testing.T, env *testEnv) {
	t.Helper()
	select {
	case err := <-env.errs:
		t.Fatalf("unexpected surfaced error: %v", err)
	default:
	}
}

func TestOpenSaveAnnotatesLinkedSlots(t *testing.T) {
	env := newTestEnv(t)
	openSave(t, env)
	requireNoErrors(t, env)

	slots := env.client.DisplaySlots()
	if len(slots) != 4 {
		t.Fatalf("slot count = %d, want 4", len(slots))
	}
	if slots[0].Meta == nil {
		t.Fatal("slot 0 holds a linked course and should be annotated")
	}
	if slots[0].Meta.Uploader != "alice" || slots[0].Meta.Votes != 5 {
		t.Errorf("slot 0 metadata = %+v", slots[0].Meta)
	}
	if slots[1].Meta != nil {
		t.Error("slot 1 has no remote id and should not be annotated")
	}
	if !slots[3].Empty() {
		t.Error("slot 3 should be empty")
	}
}

func TestSwapFlowPersists(t *testing.T) {
	env := newTestEnv(t)
	openSave(t, env)

	if err := env.client.SelectSwap(0); err != nil {
		t.Fatalf("SelectSwap: %v", err)
	}
	if got := env.client.CurrentState(); got != StateAwaitingConfirmation {
		t.Fatalf("state = %s, want awaiting confirmation", got)
	}
	if err := env.client.ConfirmSwap(1); err != nil {
		t.Fatalf("ConfirmSwap: %v", err)
	}
	waitIdle(t, env.client)
	requireNoErrors(t, env)

	slots := env.client.DisplaySlots()
	if slots[0].Entry.Course.Title != "Local Only" {
		t.Errorf("slot 0 title = %q", slots[0].Entry.Course.Title)
	}
	if slots[1].Entry.Course.Title != "Linked Course" {
		t.Errorf("slot 1 title = %q", slots[1].Entry.Course.Title)
	}
	if slots[1].Meta == nil {
		t.Error("annotation should follow the course to its new slot")
	}

	reopened, err := save.Open(env.savePath)
	if err != nil {
		t.Fatal(err)
	}
	entry, _ := reopened.Slot(1)
	if entry == nil || entry.Course.Title != "Linked Course" {
		t.Error("swap was not persisted to disk")
	}
}

func TestBusyGateRejectsOverlappingIntents(t *testing.T) {
	env := newTestEnv(t)
	openSave(t, env)

	if err := env.client.SelectSwap(0); err != nil {
		t.Fatalf("SelectSwap: %v", err)
	}

	if err := env.client.SelectDelete(1); !errors.IsBusy(err) {
		t.Errorf("SelectDelete while awaiting confirmation = %v, want busy", err)
	}
	if err := env.client.Search(); !errors.IsBusy(err) {
		t.Errorf("Search while awaiting confirmation = %v, want busy", err)
	}
	if err := env.client.OpenSave(env.savePath); !errors.IsBusy(err) {
		t.Errorf("OpenSave while awaiting confirmation = %v, want busy", err)
	}

	if err := env.client.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if err := env.client.SelectDelete(1); err != nil {
		t.Errorf("SelectDelete after cancel: %v", err)
	}
}

func TestConfirmWithoutSelection(t *testing.T) {
	env := newTestEnv(t)
	openSave(t, env)

	if err := env.client.ConfirmSwap(1); !errors.IsBusy(err) {
		t.Errorf("ConfirmSwap without selection = %v, want state error", err)
	}
	if err := env.client.Cancel(); !errors.IsBusy(err) {
		t.Errorf("Cancel while idle = %v, want state error", err)
	}

	// Selecting a delete must not let a swap confirmation through.
	if err := env.client.SelectDelete(0); err != nil {
		t.Fatal(err)
	}
	if err := env.client.ConfirmSwap(1); !errors.IsBusy(err) {
		t.Errorf("ConfirmSwap with pending delete = %v, want state error", err)
	}
}

func TestDeleteFlowEmptiesSlot(t *testing.T) {
	env := newTestEnv(t)
	openSave(t, env)

	if err := env.client.SelectDelete(2); err != nil {
		t.Fatal(err)
	}
	if err := env.client.ConfirmDelete(); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, env.client)
	requireNoErrors(t, env)

	slots := env.client.DisplaySlots()
	if !slots[2].Empty() {
		t.Error("slot 2 should be empty after delete")
	}
	if slots[0].Empty() || slots[1].Empty() {
		t.Error("delete must not shift other slots")
	}
}

func TestUploadFlowRekeysSlot(t *testing.T) {
	env := newTestEnv(t)
	openSave(t, env)

	// Slot 1 holds a course that was never uploaded.
	if err := env.client.SelectUpload(1); err != nil {
		t.Fatalf("SelectUpload: %v", err)
	}
	if err := env.client.ConfirmUpload(); err != nil {
		t.Fatalf("ConfirmUpload: %v", err)
	}
	waitIdle(t, env.client)
	requireNoErrors(t, env)

	slots := env.client.DisplaySlots()
	if slots[1].Entry == nil || slots[1].Entry.Course.SMMDBID != "new1" {
		t.Fatalf("slot 1 should carry the assigned remote id, got %+v", slots[1].Entry)
	}
	if slots[1].Meta == nil || slots[1].Meta.ID != "new1" {
		t.Error("slot 1 should be annotated with the fetched metadata for new1")
	}

	reopened, err := save.Open(env.savePath)
	if err != nil {
		t.Fatal(err)
	}
	entry, _ := reopened.Slot(1)
	if entry == nil || entry.Course.SMMDBID != "new1" {
		t.Error("rekeyed slot was not persisted")
	}
}

func TestUploadKeepsKeyFromConfirmTime(t *testing.T) {
	env := newTestEnv(t)
	openSave(t, env)

	if err := env.client.SelectUpload(1); err != nil {
		t.Fatalf("SelectUpload: %v", err)
	}
	if err := env.client.ConfirmUpload(); err != nil {
		t.Fatalf("ConfirmUpload: %v", err)
	}
	// Rotate the key while the upload is in flight. The task must keep
	// the credential captured at confirm time. Each rotation surfaces a
	// failed verification, so stay under the error channel capacity.
	for i := 0; i < 8; i++ {
		if err := env.client.SetAPIKey("rotated-key"); err != nil {
			t.Fatalf("SetAPIKey: %v", err)
		}
	}
	waitIdle(t, env.client)

	slots := env.client.DisplaySlots()
	if slots[1].Entry == nil || slots[1].Entry.Course.SMMDBID != "new1" {
		t.Fatalf("slot 1 should carry the assigned remote id, got %+v", slots[1].Entry)
	}
}

func TestUploadRequiresOccupiedSlot(t *testing.T) {
	env := newTestEnv(t)
	openSave(t, env)

	err := env.client.SelectUpload(3)
	if err == nil {
		t.Fatal("uploading an empty slot should be rejected")
	}
	if stderrors.Is(err, errors.ErrBusy) {
		t.Errorf("rejection should be a slot error, got %v", err)
	}
}

func TestDownloadFlowFillsSlot(t *testing.T) {
	env := newTestEnv(t)
	openSave(t, env)

	var mu sync.Mutex
	var stages []catalog.Stage
	env.client.OnDownloadProgress(func(p catalog.Progress) {
		mu.Lock()
		stages = append(stages, p.Stage)
		mu.Unlock()
	})

	if err := env.client.SelectDownload(3); err != nil {
		t.Fatalf("SelectDownload: %v", err)
	}
	if err := env.client.ConfirmDownload("dl-1"); err != nil {
		t.Fatalf("ConfirmDownload: %v", err)
	}
	waitIdle(t, env.client)
	requireNoErrors(t, env)

	slots := env.client.DisplaySlots()
	if slots[3].Empty() {
		t.Fatal("slot 3 should hold the downloaded course")
	}
	if slots[3].Entry.Course.SMMDBID != "dl-1" {
		t.Errorf("downloaded course remote id = %q", slots[3].Entry.Course.SMMDBID)
	}
	if slots[3].Entry.Course.Title != "Downloaded Level" {
		t.Errorf("downloaded course title = %q", slots[3].Entry.Course.Title)
	}
	if slots[3].Meta == nil || slots[3].Meta.Uploader != "bob" {
		t.Error("downloaded slot should be annotated from the catalog")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(stages) == 0 || stages[0] != catalog.ProgressStarted {
		t.Fatalf("progress stages = %v, want Started first", stages)
	}
	if stages[len(stages)-1] != catalog.ProgressFinished {
		t.Errorf("progress stages = %v, want Finished last", stages)
	}
}

func TestDownloadRejectsOccupiedSlot(t *testing.T) {
	env := newTestEnv(t)
	openSave(t, env)

	if err := env.client.SelectDownload(0); err != nil {
		t.Fatal(err)
	}
	err := env.client.ConfirmDownload("dl-1")
	if !stderrors.Is(err, errors.ErrSlotOccupied) {
		t.Errorf("ConfirmDownload into occupied slot = %v, want slot occupied", err)
	}
}

func TestSearchPopulatesPage(t *testing.T) {
	env := newTestEnv(t)

	var mu sync.Mutex
	var pages [][]catalog.CourseMetadata
	env.client.OnCoursesChanged(func(courses []catalog.CourseMetadata) {
		mu.Lock()
		pages = append(pages, courses)
		mu.Unlock()
	})

	if err := env.client.Search(); err != nil {
		t.Fatalf("Search: %v", err)
	}
	waitIdle(t, env.client)
	requireNoErrors(t, env)

	courses := env.client.CurrentCourses()
	if len(courses) != 2 {
		t.Fatalf("page len = %d, want 2", len(courses))
	}
	mu.Lock()
	defer mu.Unlock()
	if len(pages) == 0 {
		t.Error("courses hook should have fired")
	}
}

func TestVoteIsOptimistic(t *testing.T) {
	env := newTestEnv(t)
	if err := env.client.Search(); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, env.client)

	if err := env.client.Vote("dl-1", 1); err != nil {
		t.Fatalf("Vote: %v", err)
	}

	// The page reflects the vote before any server round-trip completes.
	for _, course := range env.client.CurrentCourses() {
		if course.ID == "dl-1" {
			if course.Votes != 13 || course.OwnVote != 1 {
				t.Errorf("votes = %d, own = %d, want 13/1", course.Votes, course.OwnVote)
			}
		}
	}
}

func TestVoteFailureKeepsOptimisticState(t *testing.T) {
	env := newTestEnv(t)
	env.client.cache.UpsertMany([]catalog.CourseMetadata{{ID: "vote-fails", Votes: 2}})

	if err := env.client.Vote("vote-fails", 1); err != nil {
		t.Fatalf("Vote: %v", err)
	}

	select {
	case <-env.errs:
	case <-time.After(5 * time.Second):
		t.Fatal("vote failure was not surfaced")
	}

	meta, _ := env.client.Metadata("vote-fails")
	if meta.Votes != 3 || meta.OwnVote != 1 {
		t.Errorf("optimistic state rolled back: %+v", meta)
	}
}

func TestVerifyCredential(t *testing.T) {
	env := newTestEnv(t)

	var mu sync.Mutex
	var users []*catalog.UserIdentity
	env.client.OnUserChanged(func(user *catalog.UserIdentity) {
		mu.Lock()
		users = append(users, user)
		mu.Unlock()
	})

	if err := env.client.VerifyCredential(); err != nil {
		t.Fatalf("VerifyCredential: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if env.client.User() != nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	user := env.client.User()
	if user == nil || user.Username != "alice" {
		t.Fatalf("user = %+v, want alice", user)
	}
}

func TestBadCredentialDowngradesToLoggedOut(t *testing.T) {
	env := newTestEnv(t)

	if err := env.client.SetAPIKey("wrong-key"); err != nil {
		t.Fatalf("SetAPIKey: %v", err)
	}

	select {
	case <-env.errs:
	case <-time.After(5 * time.Second):
		t.Fatal("credential failure was not surfaced")
	}
	if env.client.User() != nil {
		t.Error("bad credential should leave the client logged out")
	}
}

func TestDeleteRemoteFlow(t *testing.T) {
	env := newTestEnv(t)
	if err := env.client.Search(); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, env.client)

	if err := env.client.SelectDeleteRemote("dl-1"); err != nil {
		t.Fatal(err)
	}
	if err := env.client.ConfirmDeleteRemote(); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, env.client)
	requireNoErrors(t, env)

	if _, ok := env.client.Metadata("dl-1"); ok {
		t.Error("deleted course should be dropped from the cache")
	}
	for _, course := range env.client.CurrentCourses() {
		if course.ID == "dl-1" {
			t.Error("deleted course should be dropped from the current page")
		}
	}
}

func TestDeleteRemoteLeavesDeliveredPagesIntact(t *testing.T) {
	env := newTestEnv(t)

	var mu sync.Mutex
	var held []catalog.CourseMetadata
	env.client.OnCoursesChanged(func(courses []catalog.CourseMetadata) {
		mu.Lock()
		if held == nil {
			held = courses
		}
		mu.Unlock()
	})

	if err := env.client.Search(); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, env.client)

	if err := env.client.SelectDeleteRemote("remote-a"); err != nil {
		t.Fatal(err)
	}
	if err := env.client.ConfirmDeleteRemote(); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, env.client)
	requireNoErrors(t, env)

	// The page handed out before the delete must not shift underneath
	// its subscriber.
	mu.Lock()
	defer mu.Unlock()
	if len(held) != 2 || held[0].ID != "remote-a" || held[1].ID != "dl-1" {
		t.Errorf("previously delivered page changed: %+v", held)
	}
}
