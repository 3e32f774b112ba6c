// Package engine turns manuscript text into analysis results by prompting a
// chat model and parsing its replies. The pipeline depends only on the Engine
// interface; tests substitute mocks.
package engine

import (
	"context"
	"encoding/json"

	"github.com/marrec/inkwell/internal/manuscript"
)

// Issue is one problem the model flagged in a chapter.
type Issue struct {
	Issue       string   `json:"issue"`
	Location    string   `json:"location"`
	Severity    string   `json:"severity"`
	Detail      string   `json:"detail"`
	Quote       string   `json:"quote,omitempty"`
	Anchors     []string `json:"anchors,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// ChapterReport is the parsed result of an issue-style chapter analysis.
// Raw keeps the model's unparsed reply for display and debugging.
type ChapterReport struct {
	Issues []Issue
	Raw    string
}

// Engine runs one analysis per method. Chapter methods receive the chapter
// with plain-text scenes; book methods receive the compiled manuscript text.
type Engine interface {
	ChapterTimeline(ctx context.Context, ch manuscript.Chapter) (*ChapterReport, error)
	ChapterConsistency(ctx context.Context, ch manuscript.Chapter) (*ChapterReport, error)
	ChapterStyle(ctx context.Context, ch manuscript.Chapter) (*ChapterReport, error)
	ChapterReaderSnapshot(ctx context.Context, ch manuscript.Chapter) (json.RawMessage, error)

	// BookBible receives the previous bible (nil on first run) so the model
	// can update instead of rebuilding.
	BookBible(ctx context.Context, bookText string, existing json.RawMessage) (json.RawMessage, error)
	BookThreads(ctx context.Context, bookText string) (json.RawMessage, error)
	BookPromisePayoff(ctx context.Context, bookText string) (json.RawMessage, error)
	BookVoiceDrift(ctx context.Context, bookText string) (json.RawMessage, error)
	BookReaderSim(ctx context.Context, bookText string) (json.RawMessage, error)
}

// Chatter is the one model call the engine needs.
type Chatter interface {
	Chat(ctx context.Context, system, user string) (string, error)
}
