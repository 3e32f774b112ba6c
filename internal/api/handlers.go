// Package api exposes the local HTTP and MCP surfaces of the insight
// service. All routes sit behind the generated bearer token.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/marrec/inkwell/internal/insight"
	"github.com/marrec/inkwell/internal/manuscript"
	"github.com/marrec/inkwell/internal/storage"
)

type Deps struct {
	Store    *storage.Store
	Insights *insight.Service
	Token    string
	Version  string
	Logger   *slog.Logger
}

func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	// Liveness probe for the CLI; everything else requires the bearer token.
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/status", handleStatus(deps))

		r.Post("/projects", handleCreateProject(deps))
		r.Get("/projects", handleListProjects(deps))
		r.Get("/projects/{id}", handleGetProject(deps))
		r.Delete("/projects/{id}", handleDeleteProject(deps))

		r.Post("/projects/{id}/items", handleCreateItem(deps))
		r.Get("/projects/{id}/items", handleListItems(deps))
		r.Put("/items/{id}", handleUpdateItem(deps))
		r.Delete("/items/{id}", handleDeleteItem(deps))

		r.Post("/projects/{id}/import", handleImport(deps))

		r.Post("/projects/{id}/chapters/{chapterID}/analyses", handleChapterAnalyses(deps))
		r.Post("/projects/{id}/analyses", handleBookAnalyses(deps))

		r.Get("/projects/{id}/chapters/{chapterID}/insights", handleChapterInsights(deps))
		r.Get("/projects/{id}/chapters/{chapterID}/insights/{type}", handleLatestChapterInsight(deps))
		r.Delete("/projects/{id}/chapters/{chapterID}/insights", handleDeleteChapterInsights(deps))

		r.Get("/projects/{id}/insights", handleBookInsights(deps))
		r.Get("/projects/{id}/insights/{type}", handleLatestBookInsight(deps))
		r.Delete("/projects/{id}/insights", handleDeleteBookInsights(deps))

		r.Get("/projects/{id}/bible", handleStoryBible(deps))
		r.Get("/jobs/recent", handleRecentJobs(deps))
	})

	return r
}

// --- DTOs ---

type projectJSON struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Author   string    `json:"author,omitempty"`
	Genre    string    `json:"genre,omitempty"`
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`
}

func toProjectJSON(p storage.Project) projectJSON {
	return projectJSON{ID: p.ID, Name: p.Name, Author: p.Author, Genre: p.Genre, Created: p.Created, Modified: p.Modified}
}

type itemJSON struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"project_id"`
	Name       string    `json:"name"`
	ItemType   string    `json:"item_type"`
	ParentID   *string   `json:"parent_id,omitempty"`
	OrderIndex int       `json:"order_index"`
	Content    string    `json:"content,omitempty"`
	Created    time.Time `json:"created"`
	Modified   time.Time `json:"modified"`
}

func toItemJSON(it storage.Item) itemJSON {
	return itemJSON{
		ID: it.ID, ProjectID: it.ProjectID, Name: it.Name, ItemType: it.ItemType,
		ParentID: it.ParentID, OrderIndex: it.OrderIndex, Content: it.Content,
		Created: it.Created, Modified: it.Modified,
	}
}

type insightJSON struct {
	ID          string          `json:"id"`
	ProjectID   string          `json:"project_id"`
	Scope       string          `json:"scope"`
	ScopeID     *string         `json:"scope_id,omitempty"`
	InsightType string          `json:"insight_type"`
	Payload     json.RawMessage `json:"payload"`
	SourceHash  string          `json:"source_hash"`
	Created     time.Time       `json:"created"`
	Modified    time.Time       `json:"modified"`
}

func toInsightJSON(in storage.Insight) insightJSON {
	payload := json.RawMessage(in.PayloadJSON)
	if !json.Valid(payload) {
		// Defuse unparseable stored payloads rather than corrupting the response.
		b, _ := json.Marshal(in.PayloadJSON)
		payload = b
	}
	return insightJSON{
		ID: in.ID, ProjectID: in.ProjectID, Scope: in.Scope, ScopeID: in.ScopeID,
		InsightType: in.InsightType, Payload: payload, SourceHash: in.SourceHash,
		Created: in.Created, Modified: in.Modified,
	}
}

func toInsightList(ins []storage.Insight) []insightJSON {
	out := make([]insightJSON, 0, len(ins))
	for _, in := range ins {
		out = append(out, toInsightJSON(in))
	}
	return out
}

// --- Status ---

func handleStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":      "ok",
			"version":     deps.Version,
			"queue_depth": deps.Insights.QueueLen(),
		})
	}
}

// --- Projects ---

func handleCreateProject(deps Deps) http.HandlerFunc {
	type request struct {
		Name   string `json:"name"`
		Author string `json:"author"`
		Genre  string `json:"genre"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Name == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "name is required")
			return
		}

		now := time.Now().UTC()
		p := storage.Project{ID: uuid.NewString(), Name: req.Name, Author: req.Author, Genre: req.Genre, Created: now, Modified: now}
		if err := deps.Store.SaveProject(p); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save project: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, toProjectJSON(p))
	}
}

func handleListProjects(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projects, err := deps.Store.ListProjects()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list projects: %v", err)
			return
		}
		out := make([]projectJSON, 0, len(projects))
		for _, p := range projects {
			out = append(out, toProjectJSON(p))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleGetProject(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Store.GetProject(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "project not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get project: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, toProjectJSON(p))
	}
}

func handleDeleteProject(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Store.DeleteProject(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "project not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete project: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

// --- Items ---

func handleCreateItem(deps Deps) http.HandlerFunc {
	type request struct {
		Name       string  `json:"name"`
		ItemType   string  `json:"item_type"`
		ParentID   *string `json:"parent_id"`
		OrderIndex int     `json:"order_index"`
		Content    string  `json:"content"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "id")
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Name == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "name is required")
			return
		}
		switch req.ItemType {
		case storage.ItemChapter:
			if req.ParentID != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "chapters cannot have a parent")
				return
			}
		case storage.ItemScene:
			if req.ParentID == nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "scenes require parent_id")
				return
			}
			parent, err := deps.Store.GetItem(*req.ParentID)
			if errors.Is(err, storage.ErrNotFound) || (err == nil && (parent.ProjectID != projectID || parent.ItemType != storage.ItemChapter)) {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "parent_id is not a chapter in this project")
				return
			}
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to check parent: %v", err)
				return
			}
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "item_type must be %q or %q", storage.ItemChapter, storage.ItemScene)
			return
		}

		now := time.Now().UTC()
		it := storage.Item{
			ID: uuid.NewString(), ProjectID: projectID, Name: req.Name, ItemType: req.ItemType,
			ParentID: req.ParentID, OrderIndex: req.OrderIndex, Content: req.Content,
			Created: now, Modified: now,
		}
		if err := deps.Store.SaveItem(it); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save item: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, toItemJSON(it))
	}
}

func handleListItems(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "id")
		itemType := r.URL.Query().Get("type")
		var parentID *string
		if p := r.URL.Query().Get("parent"); p != "" {
			parentID = &p
		}

		items, err := deps.Store.ListItems(projectID, itemType, parentID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list items: %v", err)
			return
		}
		out := make([]itemJSON, 0, len(items))
		for _, it := range items {
			out = append(out, toItemJSON(it))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleUpdateItem(deps Deps) http.HandlerFunc {
	type request struct {
		Name       *string `json:"name"`
		OrderIndex *int    `json:"order_index"`
		Content    *string `json:"content"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		it, err := deps.Store.GetItem(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "item not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get item: %v", err)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Name != nil {
			it.Name = *req.Name
		}
		if req.OrderIndex != nil {
			it.OrderIndex = *req.OrderIndex
		}
		if req.Content != nil {
			it.Content = *req.Content
		}
		it.Modified = time.Now().UTC()

		if err := deps.Store.SaveItem(it); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save item: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, toItemJSON(it))
	}
}

func handleDeleteItem(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		it, err := deps.Store.GetItem(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "item not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get item: %v", err)
			return
		}

		if err := deps.Store.DeleteItem(id); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete item: %v", err)
			return
		}
		// A deleted chapter's cached insights are meaningless.
		if it.ItemType == storage.ItemChapter {
			if err := deps.Insights.DeleteChapterInsights(it.ProjectID, id); err != nil {
				deps.Logger.Warn("clearing insights for deleted chapter", "chapter", id, "error", err)
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

// --- Import ---

func handleImport(deps Deps) http.HandlerFunc {
	type request struct {
		Path        string `json:"path"`
		ChapterName string `json:"chapter_name"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "id")
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Path == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "path is required")
			return
		}
		if req.ChapterName == "" {
			req.ChapterName = "Imported"
		}

		text, err := manuscript.ExtractPDF(req.Path)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "importing %s: %v", req.Path, err)
			return
		}
		scenes := manuscript.SplitScenes(text)
		if len(scenes) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "no text found in %s", req.Path)
			return
		}

		now := time.Now().UTC()
		chapter := storage.Item{
			ID: uuid.NewString(), ProjectID: projectID, Name: req.ChapterName,
			ItemType: storage.ItemChapter, Created: now, Modified: now,
		}
		if err := deps.Store.SaveItem(chapter); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save chapter: %v", err)
			return
		}
		for i, sceneText := range scenes {
			scene := storage.Item{
				ID: uuid.NewString(), ProjectID: projectID, Name: "Scene " + strconv.Itoa(i+1),
				ItemType: storage.ItemScene, ParentID: &chapter.ID, OrderIndex: i,
				Content: manuscript.TextToHTML(sceneText), Created: now, Modified: now,
			}
			if err := deps.Store.SaveItem(scene); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to save scene: %v", err)
				return
			}
		}
		deps.Logger.Info("manuscript imported", "project", projectID, "chapter", chapter.ID, "scenes", len(scenes))
		writeJSON(w, http.StatusCreated, map[string]any{"chapter_id": chapter.ID, "scenes": len(scenes)})
	}
}

// --- Analyses ---

func handleChapterAnalyses(deps Deps) http.HandlerFunc {
	type request struct {
		IncludeStyle          *bool `json:"include_style"`
		IncludeReaderSnapshot *bool `json:"include_reader_snapshot"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "id")
		chapterID := chi.URLParam(r, "chapterID")

		// Every analysis runs unless the body opts out.
		opts := insight.AllChapterOptions()
		if r.ContentLength > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
			var req request
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
				return
			}
			if req.IncludeStyle != nil {
				opts.IncludeStyle = *req.IncludeStyle
			}
			if req.IncludeReaderSnapshot != nil {
				opts.IncludeReaderSnapshot = *req.IncludeReaderSnapshot
			}
		}

		queued, err := deps.Insights.EnqueueChapterAnalyses(projectID, chapterID, opts)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "chapter not found")
			return
		}
		if errors.Is(err, insight.ErrQueueStopped) {
			httpError(w, http.StatusServiceUnavailable, "api_error", "analysis queue is shut down")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to queue analyses: %v", err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]int{"queued": queued})
	}
}

func handleBookAnalyses(deps Deps) http.HandlerFunc {
	type request struct {
		Bible         *bool `json:"bible"`
		Threads       *bool `json:"threads"`
		PromisePayoff *bool `json:"promise_payoff"`
		VoiceDrift    *bool `json:"voice_drift"`
		ReaderSim     *bool `json:"reader_sim"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "id")

		// No body (or no fields) means run everything.
		opts := insight.AllBookOptions()
		if r.ContentLength > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
			var req request
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
				return
			}
			if req.Bible != nil || req.Threads != nil || req.PromisePayoff != nil || req.VoiceDrift != nil || req.ReaderSim != nil {
				opts = insight.BookOptions{
					Bible:         req.Bible != nil && *req.Bible,
					Threads:       req.Threads != nil && *req.Threads,
					PromisePayoff: req.PromisePayoff != nil && *req.PromisePayoff,
					VoiceDrift:    req.VoiceDrift != nil && *req.VoiceDrift,
					ReaderSim:     req.ReaderSim != nil && *req.ReaderSim,
				}
			}
		}

		queued, err := deps.Insights.EnqueueBookAnalyses(projectID, opts)
		if errors.Is(err, insight.ErrQueueStopped) {
			httpError(w, http.StatusServiceUnavailable, "api_error", "analysis queue is shut down")
			return
		}
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "failed to queue analyses: %v", err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]int{"queued": queued})
	}
}

// --- Insights ---

func handleChapterInsights(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ins, err := deps.Insights.ChapterInsights(chi.URLParam(r, "id"), chi.URLParam(r, "chapterID"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list insights: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, toInsightList(ins))
	}
}

func handleLatestChapterInsight(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, ok := insight.KindForType(chi.URLParam(r, "type"))
		if !ok || !kind.IsChapterKind() {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown chapter insight type %q", chi.URLParam(r, "type"))
			return
		}
		in, err := deps.Insights.Latest(chi.URLParam(r, "id"), kind, chi.URLParam(r, "chapterID"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "no %s insight yet", kind.InsightType())
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get insight: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, toInsightJSON(in))
	}
}

func handleDeleteChapterInsights(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Insights.DeleteChapterInsights(chi.URLParam(r, "id"), chi.URLParam(r, "chapterID")); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete insights: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleBookInsights(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ins, err := deps.Insights.BookInsights(chi.URLParam(r, "id"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list insights: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, toInsightList(ins))
	}
}

func handleLatestBookInsight(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, ok := insight.KindForType(chi.URLParam(r, "type"))
		if !ok || kind.IsChapterKind() {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown book insight type %q", chi.URLParam(r, "type"))
			return
		}
		in, err := deps.Insights.Latest(chi.URLParam(r, "id"), kind, "")
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "no %s insight yet", kind.InsightType())
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get insight: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, toInsightJSON(in))
	}
}

func handleDeleteBookInsights(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Insights.DeleteBookInsights(chi.URLParam(r, "id")); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete insights: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleStoryBible(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bible, err := deps.Insights.StoryBible(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "no story bible yet; run a book analysis first")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get story bible: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(bible)
	}
}

// --- Jobs ---

type jobRunJSON struct {
	ID         string     `json:"id"`
	Kind       string     `json:"kind"`
	ProjectID  string     `json:"project_id"`
	ScopeID    *string    `json:"scope_id,omitempty"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func handleRecentJobs(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		runs, err := deps.Store.RecentJobRuns(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list job runs: %v", err)
			return
		}
		out := make([]jobRunJSON, 0, len(runs))
		for _, run := range runs {
			out = append(out, jobRunJSON{
				ID: run.ID, Kind: run.Kind, ProjectID: run.ProjectID, ScopeID: run.ScopeID,
				Status: run.Status, Error: run.Error, StartedAt: run.StartedAt, FinishedAt: run.FinishedAt,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
