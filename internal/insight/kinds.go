// Package insight orchestrates manuscript analyses: deciding what needs to
// run, running it through the analysis engine, and caching results keyed by
// content hash.
package insight

import "fmt"

// Insight scopes as stored in the insights table.
const (
	ScopeChapter = "chapter"
	ScopeBook    = "book"
)

// Insight type strings as stored in the insights table.
const (
	TypeTimeline       = "timeline"
	TypeConsistency    = "consistency"
	TypeStyle          = "style"
	TypeReaderSnapshot = "reader_snapshot"
	TypeStoryBible     = "story_bible"
	TypeThreads        = "threads"
	TypePromisePayoff  = "promise_payoff"
	TypeVoiceDrift     = "voice_drift"
	TypeReaderSim      = "reader_sim"
)

// JobKind enumerates every analysis the pipeline can run. The set is closed:
// unknown kinds fail the job instead of guessing.
type JobKind int

const (
	KindChapterTimeline JobKind = iota
	KindChapterConsistency
	KindChapterStyle
	KindChapterReaderSnapshot
	KindBookBible
	KindBookThreads
	KindBookPromisePayoff
	KindBookVoiceDrift
	KindBookReaderSim
)

var kindNames = map[JobKind]string{
	KindChapterTimeline:       "chapter_timeline",
	KindChapterConsistency:    "chapter_consistency",
	KindChapterStyle:          "chapter_style",
	KindChapterReaderSnapshot: "chapter_reader_snapshot",
	KindBookBible:             "book_bible",
	KindBookThreads:           "book_threads",
	KindBookPromisePayoff:     "book_promise_payoff",
	KindBookVoiceDrift:        "book_voice_drift",
	KindBookReaderSim:         "book_reader_sim",
}

var kindTypes = map[JobKind]string{
	KindChapterTimeline:       TypeTimeline,
	KindChapterConsistency:    TypeConsistency,
	KindChapterStyle:          TypeStyle,
	KindChapterReaderSnapshot: TypeReaderSnapshot,
	KindBookBible:             TypeStoryBible,
	KindBookThreads:           TypeThreads,
	KindBookPromisePayoff:     TypePromisePayoff,
	KindBookVoiceDrift:        TypeVoiceDrift,
	KindBookReaderSim:         TypeReaderSim,
}

// KindForType resolves an insight type string back to its kind.
func KindForType(insightType string) (JobKind, bool) {
	for kind, typ := range kindTypes {
		if typ == insightType {
			return kind, true
		}
	}
	return 0, false
}

func (k JobKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("JobKind(%d)", int(k))
}

// InsightType returns the insights-table type string for the kind.
func (k JobKind) InsightType() string {
	return kindTypes[k]
}

// Scope returns ScopeChapter or ScopeBook.
func (k JobKind) Scope() string {
	if k.IsChapterKind() {
		return ScopeChapter
	}
	return ScopeBook
}

func (k JobKind) IsChapterKind() bool {
	switch k {
	case KindChapterTimeline, KindChapterConsistency, KindChapterStyle, KindChapterReaderSnapshot:
		return true
	}
	return false
}

func (k JobKind) valid() bool {
	_, ok := kindTypes[k]
	return ok
}

// Job is one unit of analysis work. ChapterID is empty for book-scoped kinds.
type Job struct {
	ID        string
	Kind      JobKind
	ProjectID string
	ChapterID string
}
