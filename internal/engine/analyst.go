package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/marrec/inkwell/internal/manuscript"
)

// Analyst implements Engine over a chat model.
type Analyst struct {
	chat   Chatter
	logger *slog.Logger
}

func NewAnalyst(chat Chatter, logger *slog.Logger) *Analyst {
	return &Analyst{chat: chat, logger: logger}
}

func (a *Analyst) chapterIssues(ctx context.Context, system string, ch manuscript.Chapter) (*ChapterReport, error) {
	reply, err := a.chat.Chat(ctx, system, issuePrompt(ch))
	if err != nil {
		return nil, err
	}
	issues := parseIssues(reply)
	a.logger.Debug("chapter analysis parsed", "chapter", ch.Name, "issues", len(issues))
	return &ChapterReport{Issues: issues, Raw: reply}, nil
}

func (a *Analyst) ChapterTimeline(ctx context.Context, ch manuscript.Chapter) (*ChapterReport, error) {
	return a.chapterIssues(ctx, timelineSystem, ch)
}

func (a *Analyst) ChapterConsistency(ctx context.Context, ch manuscript.Chapter) (*ChapterReport, error) {
	return a.chapterIssues(ctx, consistencySystem, ch)
}

func (a *Analyst) ChapterStyle(ctx context.Context, ch manuscript.Chapter) (*ChapterReport, error) {
	return a.chapterIssues(ctx, styleSystem, ch)
}

func (a *Analyst) ChapterReaderSnapshot(ctx context.Context, ch manuscript.Chapter) (json.RawMessage, error) {
	reply, err := a.chat.Chat(ctx, readerSnapshotSystem, chapterPrompt(ch))
	if err != nil {
		return nil, err
	}
	raw, err := extractJSON(reply)
	if err != nil {
		return nil, fmt.Errorf("parsing reader snapshot: %w", err)
	}
	return raw, nil
}

func (a *Analyst) bookJSON(ctx context.Context, system, user, what string) (json.RawMessage, error) {
	reply, err := a.chat.Chat(ctx, system, user)
	if err != nil {
		return nil, err
	}
	raw, err := extractJSON(reply)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", what, err)
	}
	return raw, nil
}

func (a *Analyst) BookBible(ctx context.Context, bookText string, existing json.RawMessage) (json.RawMessage, error) {
	return a.bookJSON(ctx, bibleSystem, bookBiblePrompt(bookText, string(existing)), "story bible")
}

func (a *Analyst) BookThreads(ctx context.Context, bookText string) (json.RawMessage, error) {
	return a.bookJSON(ctx, threadsSystem, bookText, "threads")
}

func (a *Analyst) BookPromisePayoff(ctx context.Context, bookText string) (json.RawMessage, error) {
	return a.bookJSON(ctx, promisePayoffSystem, bookText, "promise audit")
}

func (a *Analyst) BookVoiceDrift(ctx context.Context, bookText string) (json.RawMessage, error) {
	return a.bookJSON(ctx, voiceDriftSystem, bookText, "voice drift report")
}

func (a *Analyst) BookReaderSim(ctx context.Context, bookText string) (json.RawMessage, error) {
	return a.bookJSON(ctx, readerSimSystem, bookText, "reader simulation")
}
