package insight

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/marrec/inkwell/internal/engine"
	"github.com/marrec/inkwell/internal/manuscript"
	"github.com/marrec/inkwell/internal/storage"
)

// ErrQueueStopped is returned when analyses are requested after the worker
// queue has shut down.
var ErrQueueStopped = errors.New("job queue stopped")

// ContentSource yields analyzable manuscript content.
type ContentSource interface {
	Chapter(projectID, chapterID string) (manuscript.Chapter, error)
	Chapters(projectID string) ([]manuscript.Chapter, error)
}

// InsightStore is the slice of the storage layer the service needs.
type InsightStore interface {
	UpsertInsight(storage.Insight) error
	LatestInsight(projectID, scope string, scopeID *string, insightType string) (storage.Insight, error)
	InsightExistsWithHash(projectID, scope string, scopeID *string, insightType, sourceHash string) (bool, error)
	InsightsByScope(projectID, scope string, scopeID *string) ([]storage.Insight, error)
	DeleteInsightScope(projectID, scope string, scopeID *string) error
}

// JobQueue accepts analysis jobs without blocking.
type JobQueue interface {
	Enqueue(Job) bool
	Len() int
}

// Service decides which analyses need to run, executes them through the
// engine, and caches results keyed by source hash. Enqueue methods skip
// kinds whose slot already holds a result for the current content; the
// check repeats at execution time so a stale queue entry simply refreshes
// the slot with an equivalent record.
type Service struct {
	source        ContentSource
	store         InsightStore
	engine        engine.Engine
	jobs          JobQueue
	perSceneChars int
	logger        *slog.Logger
}

func NewService(source ContentSource, store InsightStore, eng engine.Engine, perSceneChars int, logger *slog.Logger) *Service {
	if perSceneChars <= 0 {
		perSceneChars = DefaultPerSceneChars
	}
	return &Service{
		source:        source,
		store:         store,
		engine:        eng,
		perSceneChars: perSceneChars,
		logger:        logger,
	}
}

// AttachQueue wires the worker queue. Set after construction because the
// worker's runner is this service's RunJob.
func (s *Service) AttachQueue(q JobQueue) {
	s.jobs = q
}

// QueueLen reports jobs waiting behind the one in flight.
func (s *Service) QueueLen() int {
	if s.jobs == nil {
		return 0
	}
	return s.jobs.Len()
}

// ChapterOptions selects the optional chapter analyses. Timeline and
// consistency always run.
type ChapterOptions struct {
	IncludeStyle          bool
	IncludeReaderSnapshot bool
}

// AllChapterOptions is the surface default: every chapter analysis runs
// unless the caller opts out.
func AllChapterOptions() ChapterOptions {
	return ChapterOptions{IncludeStyle: true, IncludeReaderSnapshot: true}
}

// BookOptions selects book-level analyses.
type BookOptions struct {
	Bible         bool
	Threads       bool
	PromisePayoff bool
	VoiceDrift    bool
	ReaderSim     bool
}

func AllBookOptions() BookOptions {
	return BookOptions{Bible: true, Threads: true, PromisePayoff: true, VoiceDrift: true, ReaderSim: true}
}

// EnqueueChapterAnalyses queues the chapter analyses whose cached results are
// stale or missing for the chapter's current content. Returns the number of
// jobs queued; zero means everything is already up to date.
func (s *Service) EnqueueChapterAnalyses(projectID, chapterID string, opts ChapterOptions) (int, error) {
	ch, err := s.source.Chapter(projectID, chapterID)
	if err != nil {
		return 0, err
	}
	hash := HashChapter(ch)

	kinds := []JobKind{KindChapterTimeline, KindChapterConsistency}
	if opts.IncludeStyle {
		kinds = append(kinds, KindChapterStyle)
	}
	if opts.IncludeReaderSnapshot {
		kinds = append(kinds, KindChapterReaderSnapshot)
	}

	queued := 0
	for _, kind := range kinds {
		ok, err := s.enqueueIfNeeded(kind, projectID, chapterID, &chapterID, hash)
		if err != nil {
			return queued, err
		}
		if ok {
			queued++
		}
	}
	return queued, nil
}

// EnqueueBookAnalyses queues the selected book-level analyses whose cached
// results do not match the current compiled manuscript.
func (s *Service) EnqueueBookAnalyses(projectID string, opts BookOptions) (int, error) {
	chapters, err := s.source.Chapters(projectID)
	if err != nil {
		return 0, err
	}
	if len(chapters) == 0 {
		return 0, fmt.Errorf("project %s has no chapters", projectID)
	}
	hash := HashText(CompileBookText(chapters, s.perSceneChars))

	selected := []struct {
		kind JobKind
		on   bool
	}{
		{KindBookBible, opts.Bible},
		{KindBookThreads, opts.Threads},
		{KindBookPromisePayoff, opts.PromisePayoff},
		{KindBookVoiceDrift, opts.VoiceDrift},
		{KindBookReaderSim, opts.ReaderSim},
	}

	queued := 0
	for _, sel := range selected {
		if !sel.on {
			continue
		}
		ok, err := s.enqueueIfNeeded(sel.kind, projectID, "", nil, hash)
		if err != nil {
			return queued, err
		}
		if ok {
			queued++
		}
	}
	return queued, nil
}

func (s *Service) enqueueIfNeeded(kind JobKind, projectID, chapterID string, scopeID *string, hash string) (bool, error) {
	exists, err := s.store.InsightExistsWithHash(projectID, kind.Scope(), scopeID, kind.InsightType(), hash)
	if err != nil {
		return false, fmt.Errorf("checking cache for %s: %w", kind, err)
	}
	if exists {
		s.logger.Debug("analysis up to date", "kind", kind.String(), "project", projectID)
		return false, nil
	}
	if s.jobs == nil || !s.jobs.Enqueue(Job{ID: uuid.NewString(), Kind: kind, ProjectID: projectID, ChapterID: chapterID}) {
		return false, ErrQueueStopped
	}
	s.logger.Info("analysis queued", "kind", kind.String(), "project", projectID, "chapter", chapterID)
	return true, nil
}

// RunJob executes one analysis job. It is the worker's runner: content is
// re-loaded and re-hashed here so the stored record always describes the
// content that was actually analyzed, even if the manuscript changed while
// the job sat in the queue. On any error nothing is written and the previous
// record stays authoritative.
func (s *Service) RunJob(ctx context.Context, job Job) (any, error) {
	if !job.Kind.valid() {
		return nil, fmt.Errorf("unknown job kind %d", int(job.Kind))
	}
	if job.Kind.IsChapterKind() {
		return s.runChapterJob(ctx, job)
	}
	return s.runBookJob(ctx, job)
}

type chapterIssuesPayload struct {
	Type    string    `json:"type"`
	Chapter string    `json:"chapter"`
	Issues  []Finding `json:"issues"`
	Raw     string    `json:"raw"`
}

type chapterReportPayload struct {
	Type    string          `json:"type"`
	Chapter string          `json:"chapter"`
	Report  json.RawMessage `json:"report"`
}

func (s *Service) runChapterJob(ctx context.Context, job Job) (any, error) {
	ch, err := s.source.Chapter(job.ProjectID, job.ChapterID)
	if err != nil {
		return nil, fmt.Errorf("loading chapter for %s: %w", job.Kind, err)
	}
	hash := HashChapter(ch)

	var payload any
	switch job.Kind {
	case KindChapterTimeline, KindChapterConsistency, KindChapterStyle:
		var report *engine.ChapterReport
		switch job.Kind {
		case KindChapterTimeline:
			report, err = s.engine.ChapterTimeline(ctx, ch)
		case KindChapterConsistency:
			report, err = s.engine.ChapterConsistency(ctx, ch)
		case KindChapterStyle:
			report, err = s.engine.ChapterStyle(ctx, ch)
		}
		if err != nil {
			return nil, fmt.Errorf("running %s: %w", job.Kind, err)
		}
		payload = chapterIssuesPayload{
			Type:    job.Kind.InsightType(),
			Chapter: ch.Name,
			Issues:  normalizeFindings(report.Issues, ch),
			Raw:     report.Raw,
		}
	case KindChapterReaderSnapshot:
		raw, err := s.engine.ChapterReaderSnapshot(ctx, ch)
		if err != nil {
			return nil, fmt.Errorf("running %s: %w", job.Kind, err)
		}
		payload = chapterReportPayload{
			Type:    job.Kind.InsightType(),
			Chapter: ch.Name,
			Report:  raw,
		}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", job.Kind, err)
	}
	return s.persist(job, &job.ChapterID, string(data), hash)
}

func (s *Service) runBookJob(ctx context.Context, job Job) (any, error) {
	chapters, err := s.source.Chapters(job.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("loading chapters for %s: %w", job.Kind, err)
	}
	if len(chapters) == 0 {
		return nil, fmt.Errorf("project %s has no chapters", job.ProjectID)
	}
	text := CompileBookText(chapters, s.perSceneChars)
	hash := HashText(text)

	var raw json.RawMessage
	switch job.Kind {
	case KindBookBible:
		var existing json.RawMessage
		prev, err := s.store.LatestInsight(job.ProjectID, ScopeBook, nil, TypeStoryBible)
		if err == nil {
			existing = json.RawMessage(prev.PayloadJSON)
		} else if !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("loading previous story bible: %w", err)
		}
		raw, err = s.engine.BookBible(ctx, text, existing)
		if err != nil {
			return nil, fmt.Errorf("running %s: %w", job.Kind, err)
		}
	case KindBookThreads:
		raw, err = s.engine.BookThreads(ctx, text)
	case KindBookPromisePayoff:
		raw, err = s.engine.BookPromisePayoff(ctx, text)
	case KindBookVoiceDrift:
		raw, err = s.engine.BookVoiceDrift(ctx, text)
	case KindBookReaderSim:
		raw, err = s.engine.BookReaderSim(ctx, text)
	}
	if err != nil {
		return nil, fmt.Errorf("running %s: %w", job.Kind, err)
	}
	return s.persist(job, nil, string(raw), hash)
}

func (s *Service) persist(job Job, scopeID *string, payloadJSON, hash string) (storage.Insight, error) {
	now := time.Now().UTC()
	in := storage.Insight{
		ID:          uuid.NewString(),
		ProjectID:   job.ProjectID,
		Scope:       job.Kind.Scope(),
		ScopeID:     scopeID,
		InsightType: job.Kind.InsightType(),
		PayloadJSON: payloadJSON,
		SourceHash:  hash,
		Created:     now,
		Modified:    now,
	}
	if err := s.store.UpsertInsight(in); err != nil {
		return storage.Insight{}, fmt.Errorf("storing %s insight: %w", job.Kind, err)
	}
	s.logger.Info("insight stored", "kind", job.Kind.String(), "project", job.ProjectID, "chapter", job.ChapterID)
	return in, nil
}

// --- Read surface ---

// Latest returns the newest insight in a kind's slot.
func (s *Service) Latest(projectID string, kind JobKind, chapterID string) (storage.Insight, error) {
	var scopeID *string
	if kind.IsChapterKind() {
		scopeID = &chapterID
	}
	return s.store.LatestInsight(projectID, kind.Scope(), scopeID, kind.InsightType())
}

// ChapterInsights lists every cached insight for a chapter, newest first.
func (s *Service) ChapterInsights(projectID, chapterID string) ([]storage.Insight, error) {
	return s.store.InsightsByScope(projectID, ScopeChapter, &chapterID)
}

// BookInsights lists every cached book-level insight, newest first.
func (s *Service) BookInsights(projectID string) ([]storage.Insight, error) {
	return s.store.InsightsByScope(projectID, ScopeBook, nil)
}

// DeleteChapterInsights clears a chapter's cache, forcing fresh analyses.
func (s *Service) DeleteChapterInsights(projectID, chapterID string) error {
	return s.store.DeleteInsightScope(projectID, ScopeChapter, &chapterID)
}

// DeleteBookInsights clears the book-level cache.
func (s *Service) DeleteBookInsights(projectID string) error {
	return s.store.DeleteInsightScope(projectID, ScopeBook, nil)
}

// StoryBible returns the current story bible payload, or ErrNotFound when no
// bible has been built yet.
func (s *Service) StoryBible(projectID string) (json.RawMessage, error) {
	in, err := s.store.LatestInsight(projectID, ScopeBook, nil, TypeStoryBible)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(in.PayloadJSON), nil
}
