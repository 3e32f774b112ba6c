package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/marrec/inkwell/internal/engine"
	"github.com/marrec/inkwell/internal/insight"
	"github.com/marrec/inkwell/internal/manuscript"
	"github.com/marrec/inkwell/internal/storage"
)

const testToken = "test-token"

// --- mocks ---

type stubEngine struct {
	report *engine.ChapterReport
	raw    json.RawMessage
	err    error
}

func (e *stubEngine) chapter() (*engine.ChapterReport, error) {
	if e.err != nil {
		return nil, e.err
	}
	if e.report != nil {
		return e.report, nil
	}
	return &engine.ChapterReport{Raw: "NO ISSUES FOUND"}, nil
}

func (e *stubEngine) book() (json.RawMessage, error) {
	if e.err != nil {
		return nil, e.err
	}
	if e.raw != nil {
		return e.raw, nil
	}
	return json.RawMessage(`{}`), nil
}

func (e *stubEngine) ChapterTimeline(context.Context, manuscript.Chapter) (*engine.ChapterReport, error) {
	return e.chapter()
}
func (e *stubEngine) ChapterConsistency(context.Context, manuscript.Chapter) (*engine.ChapterReport, error) {
	return e.chapter()
}
func (e *stubEngine) ChapterStyle(context.Context, manuscript.Chapter) (*engine.ChapterReport, error) {
	return e.chapter()
}
func (e *stubEngine) ChapterReaderSnapshot(context.Context, manuscript.Chapter) (json.RawMessage, error) {
	return e.book()
}
func (e *stubEngine) BookBible(context.Context, string, json.RawMessage) (json.RawMessage, error) {
	return e.book()
}
func (e *stubEngine) BookThreads(context.Context, string) (json.RawMessage, error) { return e.book() }
func (e *stubEngine) BookPromisePayoff(context.Context, string) (json.RawMessage, error) {
	return e.book()
}
func (e *stubEngine) BookVoiceDrift(context.Context, string) (json.RawMessage, error) {
	return e.book()
}
func (e *stubEngine) BookReaderSim(context.Context, string) (json.RawMessage, error) {
	return e.book()
}

type stubQueue struct {
	jobs    []insight.Job
	stopped bool
}

func (q *stubQueue) Enqueue(j insight.Job) bool {
	if q.stopped {
		return false
	}
	q.jobs = append(q.jobs, j)
	return true
}

func (q *stubQueue) Len() int { return len(q.jobs) }

// --- helpers ---

type testEnv struct {
	handler  http.Handler
	store    *storage.Store
	insights *insight.Service
	queue    *stubQueue
	engine   *stubEngine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := &stubEngine{}
	q := &stubQueue{}
	svc := insight.NewService(manuscript.NewLibrary(store), store, eng, 0, logger)
	svc.AttachQueue(q)

	deps := Deps{Store: store, Insights: svc, Token: testToken, Version: "test", Logger: logger}
	return &testEnv{handler: NewHandler(deps), store: store, insights: svc, queue: q, engine: eng}
}

func (env *testEnv) seedChapter(t *testing.T) {
	t.Helper()
	now := time.Now().UTC()
	ch1 := "ch1"
	items := []storage.Item{
		{ID: "ch1", ProjectID: "p1", Name: "Arrival", ItemType: storage.ItemChapter, OrderIndex: 0, Created: now, Modified: now},
		{ID: "sc1", ProjectID: "p1", Name: "Harbor", ItemType: storage.ItemScene, ParentID: &ch1, OrderIndex: 0, Content: "<p>The ship came in.</p>", Created: now, Modified: now},
	}
	for _, it := range items {
		if err := env.store.SaveItem(it); err != nil {
			t.Fatalf("SaveItem(%s): %v", it.ID, err)
		}
	}
}

func (env *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshalling body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+testToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
}

// --- tests ---

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest("GET", "/projects", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest("GET", "/projects", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", rec.Code)
	}

	// The liveness probe stays open.
	req = httptest.NewRequest("GET", "/health", nil)
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("health without token: status = %d, want 200", rec.Code)
	}
}

func TestProjectLifecycle(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/projects", map[string]string{"name": "Northern Lights", "genre": "fantasy"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d: %s", rec.Code, rec.Body.String())
	}
	var created projectJSON
	decodeBody(t, rec, &created)
	if created.ID == "" || created.Name != "Northern Lights" {
		t.Fatalf("created = %+v", created)
	}

	rec = env.do(t, "GET", "/projects/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status = %d", rec.Code)
	}

	rec = env.do(t, "GET", "/projects", nil)
	var list []projectJSON
	decodeBody(t, rec, &list)
	if len(list) != 1 {
		t.Fatalf("list = %+v", list)
	}

	rec = env.do(t, "DELETE", "/projects/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: status = %d", rec.Code)
	}
	rec = env.do(t, "GET", "/projects/"+created.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete: status = %d, want 404", rec.Code)
	}
}

func TestCreateProjectValidation(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "POST", "/projects", map[string]string{"genre": "fantasy"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing name: status = %d, want 400", rec.Code)
	}
}

func TestCreateItemValidation(t *testing.T) {
	env := newTestEnv(t)
	env.seedChapter(t)

	// Scene without a parent.
	rec := env.do(t, "POST", "/projects/p1/items", map[string]any{"name": "Lost", "item_type": "scene"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("scene without parent: status = %d, want 400", rec.Code)
	}

	// Scene under a scene.
	rec = env.do(t, "POST", "/projects/p1/items", map[string]any{"name": "Nested", "item_type": "scene", "parent_id": "sc1"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("scene under scene: status = %d, want 400", rec.Code)
	}

	// Unknown type.
	rec = env.do(t, "POST", "/projects/p1/items", map[string]any{"name": "X", "item_type": "part"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown type: status = %d, want 400", rec.Code)
	}

	// Valid scene.
	rec = env.do(t, "POST", "/projects/p1/items", map[string]any{"name": "Market", "item_type": "scene", "parent_id": "ch1", "order_index": 1, "content": "<p>Crowds.</p>"})
	if rec.Code != http.StatusCreated {
		t.Errorf("valid scene: status = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUpdateItem(t *testing.T) {
	env := newTestEnv(t)
	env.seedChapter(t)

	rec := env.do(t, "PUT", "/items/sc1", map[string]any{"content": "<p>The ship left.</p>"})
	if rec.Code != http.StatusOK {
		t.Fatalf("update: status = %d: %s", rec.Code, rec.Body.String())
	}
	it, err := env.store.GetItem("sc1")
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if it.Content != "<p>The ship left.</p>" {
		t.Errorf("content = %q", it.Content)
	}
	if it.Name != "Harbor" {
		t.Errorf("untouched field changed: name = %q", it.Name)
	}
}

func TestChapterAnalysesQueues(t *testing.T) {
	env := newTestEnv(t)
	env.seedChapter(t)

	// No body runs everything.
	rec := env.do(t, "POST", "/projects/p1/chapters/ch1/analyses", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]int
	decodeBody(t, rec, &resp)
	if resp["queued"] != 4 {
		t.Errorf("queued = %d, want 4", resp["queued"])
	}
	if len(env.queue.jobs) != 4 {
		t.Errorf("queue holds %d jobs", len(env.queue.jobs))
	}
}

func TestChapterAnalysesOptOut(t *testing.T) {
	env := newTestEnv(t)
	env.seedChapter(t)

	rec := env.do(t, "POST", "/projects/p1/chapters/ch1/analyses", map[string]bool{
		"include_style":           false,
		"include_reader_snapshot": false,
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]int
	decodeBody(t, rec, &resp)
	if resp["queued"] != 2 {
		t.Errorf("queued = %d, want 2", resp["queued"])
	}
}

func TestChapterAnalysesUnknownChapter(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "POST", "/projects/p1/chapters/nope/analyses", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestChapterAnalysesQueueStopped(t *testing.T) {
	env := newTestEnv(t)
	env.seedChapter(t)
	env.queue.stopped = true

	rec := env.do(t, "POST", "/projects/p1/chapters/ch1/analyses", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestBookAnalyses(t *testing.T) {
	env := newTestEnv(t)
	env.seedChapter(t)

	// Empty body queues everything.
	rec := env.do(t, "POST", "/projects/p1/analyses", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]int
	decodeBody(t, rec, &resp)
	if resp["queued"] != 5 {
		t.Errorf("queued = %d, want 5", resp["queued"])
	}

	// Selective body queues only the named analyses; the cache-miss check
	// still applies per kind.
	env.queue.jobs = nil
	rec = env.do(t, "POST", "/projects/p1/analyses", map[string]bool{"threads": true})
	decodeBody(t, rec, &resp)
	if resp["queued"] != 1 {
		t.Errorf("selective queued = %d, want 1", resp["queued"])
	}
}

func TestBookAnalysesEmptyProject(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "POST", "/projects/empty/analyses", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestLatestChapterInsight(t *testing.T) {
	env := newTestEnv(t)
	env.seedChapter(t)

	rec := env.do(t, "GET", "/projects/p1/chapters/ch1/insights/timeline", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("before run: status = %d, want 404", rec.Code)
	}

	env.engine.report = &engine.ChapterReport{
		Issues: []engine.Issue{{Issue: "Dawn twice", Location: "Harbor", Severity: "major", Detail: "d"}},
		Raw:    "raw",
	}
	job := insight.Job{ID: "j1", Kind: insight.KindChapterTimeline, ProjectID: "p1", ChapterID: "ch1"}
	if _, err := env.insights.RunJob(context.Background(), job); err != nil {
		t.Fatalf("RunJob: %v", err)
	}

	rec = env.do(t, "GET", "/projects/p1/chapters/ch1/insights/timeline", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("after run: status = %d: %s", rec.Code, rec.Body.String())
	}
	var in insightJSON
	decodeBody(t, rec, &in)
	if in.InsightType != "timeline" || in.ScopeID == nil || *in.ScopeID != "ch1" {
		t.Errorf("insight = %+v", in)
	}
	var payload struct {
		Issues []insight.Finding `json:"issues"`
	}
	if err := json.Unmarshal(in.Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if len(payload.Issues) != 1 || payload.Issues[0].SceneID != "sc1" {
		t.Errorf("payload issues = %+v", payload.Issues)
	}

	// Bad type strings are rejected.
	rec = env.do(t, "GET", "/projects/p1/chapters/ch1/insights/story_bible", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("book type on chapter route: status = %d, want 400", rec.Code)
	}
}

func TestDeleteItemClearsChapterInsights(t *testing.T) {
	env := newTestEnv(t)
	env.seedChapter(t)

	job := insight.Job{ID: "j1", Kind: insight.KindChapterTimeline, ProjectID: "p1", ChapterID: "ch1"}
	if _, err := env.insights.RunJob(context.Background(), job); err != nil {
		t.Fatalf("RunJob: %v", err)
	}

	rec := env.do(t, "DELETE", "/items/ch1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: status = %d", rec.Code)
	}
	ins, err := env.insights.ChapterInsights("p1", "ch1")
	if err != nil {
		t.Fatalf("ChapterInsights: %v", err)
	}
	if len(ins) != 0 {
		t.Errorf("insights survived chapter delete: %d", len(ins))
	}
}

func TestStoryBibleEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.seedChapter(t)

	rec := env.do(t, "GET", "/projects/p1/bible", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("before build: status = %d, want 404", rec.Code)
	}

	env.engine.raw = json.RawMessage(`{"characters": [{"name": "Mara"}]}`)
	job := insight.Job{ID: "j1", Kind: insight.KindBookBible, ProjectID: "p1"}
	if _, err := env.insights.RunJob(context.Background(), job); err != nil {
		t.Fatalf("RunJob: %v", err)
	}

	rec = env.do(t, "GET", "/projects/p1/bible", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("after build: status = %d", rec.Code)
	}
	var bible map[string]any
	decodeBody(t, rec, &bible)
	if _, ok := bible["characters"]; !ok {
		t.Errorf("bible = %s", rec.Body.String())
	}
}

func TestStatusReportsQueueDepth(t *testing.T) {
	env := newTestEnv(t)
	env.queue.jobs = []insight.Job{{ID: "j1"}, {ID: "j2"}}

	rec := env.do(t, "GET", "/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]any
	decodeBody(t, rec, &resp)
	if resp["queue_depth"] != float64(2) {
		t.Errorf("queue_depth = %v, want 2", resp["queue_depth"])
	}
}

func TestRecentJobs(t *testing.T) {
	env := newTestEnv(t)
	run := storage.JobRun{ID: "r1", Kind: "chapter_timeline", ProjectID: "p1", Status: "finished", StartedAt: time.Now().UTC()}
	if err := env.store.RecordJobRun(run); err != nil {
		t.Fatalf("RecordJobRun: %v", err)
	}

	rec := env.do(t, "GET", "/jobs/recent", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var runs []jobRunJSON
	decodeBody(t, rec, &runs)
	if len(runs) != 1 || runs[0].Kind != "chapter_timeline" {
		t.Errorf("runs = %+v", runs)
	}
}
