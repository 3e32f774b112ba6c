package storage

import (
	"errors"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func strPtr(s string) *string { return &s }

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

// TestMigrationsOrdered verifies migrations are applied in ascending numeric order.
func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(versions) < 2 {
		t.Fatalf("expected at least 2 migrations, got %v", versions)
	}
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("versions out of order: %v", versions)
		}
	}
}

func TestProjectRoundTrip(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)
	p := Project{ID: "p1", Name: "Northern Lights", Author: "A. Writer", Genre: "fantasy", Created: now, Modified: now}
	if err := s.SaveProject(p); err != nil {
		t.Fatalf("SaveProject: %v", err)
	}

	got, err := s.GetProject("p1")
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if got.Name != p.Name || got.Author != p.Author || got.Genre != p.Genre {
		t.Errorf("got %+v, want %+v", got, p)
	}
	if !got.Created.Equal(now) {
		t.Errorf("created = %v, want %v", got.Created, now)
	}

	if _, err := s.GetProject("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteProjectCascades(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()
	if err := s.SaveProject(Project{ID: "p1", Name: "Book", Created: now, Modified: now}); err != nil {
		t.Fatalf("SaveProject: %v", err)
	}
	if err := s.SaveItem(Item{ID: "ch1", ProjectID: "p1", Name: "One", ItemType: ItemChapter, Created: now, Modified: now}); err != nil {
		t.Fatalf("SaveItem: %v", err)
	}
	if err := s.UpsertInsight(Insight{ID: "i1", ProjectID: "p1", Scope: "chapter", ScopeID: strPtr("ch1"), InsightType: "timeline", PayloadJSON: "{}", Created: now, Modified: now}); err != nil {
		t.Fatalf("UpsertInsight: %v", err)
	}

	if err := s.DeleteProject("p1"); err != nil {
		t.Fatalf("DeleteProject: %v", err)
	}
	if _, err := s.GetItem("ch1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("item survived project delete: %v", err)
	}
	got, err := s.InsightsByScope("p1", "chapter", strPtr("ch1"))
	if err != nil {
		t.Fatalf("InsightsByScope: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("insights survived project delete: %d rows", len(got))
	}

	if err := s.DeleteProject("p1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: expected ErrNotFound, got %v", err)
	}
}

func TestListItemsOrderAndFilters(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()
	items := []Item{
		{ID: "ch2", ProjectID: "p1", Name: "Two", ItemType: ItemChapter, OrderIndex: 1, Created: now, Modified: now},
		{ID: "ch1", ProjectID: "p1", Name: "One", ItemType: ItemChapter, OrderIndex: 0, Created: now, Modified: now},
		{ID: "sc1", ProjectID: "p1", Name: "Opening", ItemType: ItemScene, ParentID: strPtr("ch1"), OrderIndex: 0, Content: "<p>hi</p>", Created: now, Modified: now},
		{ID: "sc2", ProjectID: "p1", Name: "Chase", ItemType: ItemScene, ParentID: strPtr("ch1"), OrderIndex: 1, Created: now, Modified: now},
	}
	for _, it := range items {
		if err := s.SaveItem(it); err != nil {
			t.Fatalf("SaveItem(%s): %v", it.ID, err)
		}
	}

	chapters, err := s.ListItems("p1", ItemChapter, nil)
	if err != nil {
		t.Fatalf("ListItems chapters: %v", err)
	}
	if len(chapters) != 2 || chapters[0].ID != "ch1" || chapters[1].ID != "ch2" {
		t.Fatalf("unexpected chapter order: %+v", chapters)
	}

	scenes, err := s.ListItems("p1", ItemScene, strPtr("ch1"))
	if err != nil {
		t.Fatalf("ListItems scenes: %v", err)
	}
	if len(scenes) != 2 || scenes[0].ID != "sc1" || scenes[1].ID != "sc2" {
		t.Fatalf("unexpected scene order: %+v", scenes)
	}
	if scenes[0].Content != "<p>hi</p>" {
		t.Errorf("scene content = %q", scenes[0].Content)
	}
}

func TestDeleteItemRemovesChildren(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()
	if err := s.SaveItem(Item{ID: "ch1", ProjectID: "p1", Name: "One", ItemType: ItemChapter, Created: now, Modified: now}); err != nil {
		t.Fatalf("SaveItem: %v", err)
	}
	if err := s.SaveItem(Item{ID: "sc1", ProjectID: "p1", Name: "Opening", ItemType: ItemScene, ParentID: strPtr("ch1"), Created: now, Modified: now}); err != nil {
		t.Fatalf("SaveItem: %v", err)
	}

	if err := s.DeleteItem("ch1"); err != nil {
		t.Fatalf("DeleteItem: %v", err)
	}
	if _, err := s.GetItem("sc1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("scene survived chapter delete: %v", err)
	}
}

func TestUpsertInsightReplacesPayload(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()
	in := Insight{
		ID: "i1", ProjectID: "p1", Scope: "chapter", ScopeID: strPtr("ch1"),
		InsightType: "timeline", PayloadJSON: `{"v":1}`, SourceHash: "aaa",
		Created: now, Modified: now,
	}
	if err := s.UpsertInsight(in); err != nil {
		t.Fatalf("UpsertInsight: %v", err)
	}

	in.PayloadJSON = `{"v":2}`
	in.SourceHash = "bbb"
	in.Modified = now.Add(time.Minute)
	if err := s.UpsertInsight(in); err != nil {
		t.Fatalf("second UpsertInsight: %v", err)
	}

	got, err := s.LatestInsight("p1", "chapter", strPtr("ch1"), "timeline")
	if err != nil {
		t.Fatalf("LatestInsight: %v", err)
	}
	if got.PayloadJSON != `{"v":2}` || got.SourceHash != "bbb" {
		t.Errorf("upsert did not replace payload: %+v", got)
	}

	all, err := s.InsightsByScope("p1", "chapter", strPtr("ch1"))
	if err != nil {
		t.Fatalf("InsightsByScope: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("expected single row after upsert, got %d", len(all))
	}
}

// TestNullScopeIDIsolation verifies the NULL-safe scope predicate: a nil
// scope id matches only book rows, never chapter rows and vice versa.
func TestNullScopeIDIsolation(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()
	book := Insight{ID: "b1", ProjectID: "p1", Scope: "book", InsightType: "story_bible", PayloadJSON: "{}", SourceHash: "h-book", Created: now, Modified: now}
	chapter := Insight{ID: "c1", ProjectID: "p1", Scope: "chapter", ScopeID: strPtr("ch1"), InsightType: "timeline", PayloadJSON: "{}", SourceHash: "h-ch", Created: now, Modified: now}
	for _, in := range []Insight{book, chapter} {
		if err := s.UpsertInsight(in); err != nil {
			t.Fatalf("UpsertInsight(%s): %v", in.ID, err)
		}
	}

	got, err := s.InsightsByScope("p1", "book", nil)
	if err != nil {
		t.Fatalf("InsightsByScope book: %v", err)
	}
	if len(got) != 1 || got[0].ID != "b1" {
		t.Fatalf("book scope returned %+v", got)
	}
	if got[0].ScopeID != nil {
		t.Errorf("book insight scope id = %q, want nil", *got[0].ScopeID)
	}

	ok, err := s.InsightExistsWithHash("p1", "book", nil, "story_bible", "h-book")
	if err != nil {
		t.Fatalf("InsightExistsWithHash: %v", err)
	}
	if !ok {
		t.Error("book hash not found under nil scope id")
	}
	ok, err = s.InsightExistsWithHash("p1", "book", strPtr("ch1"), "story_bible", "h-book")
	if err != nil {
		t.Fatalf("InsightExistsWithHash: %v", err)
	}
	if ok {
		t.Error("chapter scope id matched the NULL book row")
	}
}

func TestInsightExistsWithHash(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()
	in := Insight{ID: "i1", ProjectID: "p1", Scope: "chapter", ScopeID: strPtr("ch1"), InsightType: "style", PayloadJSON: "{}", SourceHash: "abc", Created: now, Modified: now}
	if err := s.UpsertInsight(in); err != nil {
		t.Fatalf("UpsertInsight: %v", err)
	}

	cases := []struct {
		name string
		typ  string
		hash string
		want bool
	}{
		{"match", "style", "abc", true},
		{"stale hash", "style", "def", false},
		{"other type", "timeline", "abc", false},
	}
	for _, tc := range cases {
		ok, err := s.InsightExistsWithHash("p1", "chapter", strPtr("ch1"), tc.typ, tc.hash)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if ok != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, ok, tc.want)
		}
	}
}

func TestDeleteInsightScope(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()
	ins := []Insight{
		{ID: "i1", ProjectID: "p1", Scope: "chapter", ScopeID: strPtr("ch1"), InsightType: "timeline", PayloadJSON: "{}", Created: now, Modified: now},
		{ID: "i2", ProjectID: "p1", Scope: "chapter", ScopeID: strPtr("ch1"), InsightType: "style", PayloadJSON: "{}", Created: now, Modified: now},
		{ID: "i3", ProjectID: "p1", Scope: "chapter", ScopeID: strPtr("ch2"), InsightType: "timeline", PayloadJSON: "{}", Created: now, Modified: now},
	}
	for _, in := range ins {
		if err := s.UpsertInsight(in); err != nil {
			t.Fatalf("UpsertInsight(%s): %v", in.ID, err)
		}
	}

	if err := s.DeleteInsightScope("p1", "chapter", strPtr("ch1")); err != nil {
		t.Fatalf("DeleteInsightScope: %v", err)
	}
	got, err := s.InsightsByScope("p1", "chapter", strPtr("ch1"))
	if err != nil {
		t.Fatalf("InsightsByScope: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("scope not cleared: %d rows", len(got))
	}
	other, err := s.InsightsByScope("p1", "chapter", strPtr("ch2"))
	if err != nil {
		t.Fatalf("InsightsByScope: %v", err)
	}
	if len(other) != 1 {
		t.Errorf("unrelated scope affected: %d rows", len(other))
	}
}

func TestJobRunLifecycle(t *testing.T) {
	s := openTestStore(t)
	start := time.Now().UTC()
	run := JobRun{ID: "r1", Kind: "chapter_timeline", ProjectID: "p1", ScopeID: strPtr("ch1"), Status: "running", StartedAt: start}
	if err := s.RecordJobRun(run); err != nil {
		t.Fatalf("RecordJobRun: %v", err)
	}
	if err := s.FinishJobRun("r1", "failed", "engine unreachable"); err != nil {
		t.Fatalf("FinishJobRun: %v", err)
	}

	runs, err := s.RecentJobRuns(10)
	if err != nil {
		t.Fatalf("RecentJobRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	got := runs[0]
	if got.Status != "failed" || got.Error != "engine unreachable" {
		t.Errorf("unexpected run: %+v", got)
	}
	if got.FinishedAt == nil {
		t.Error("finished_at not set")
	}

	if err := s.FinishJobRun("missing", "finished", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
