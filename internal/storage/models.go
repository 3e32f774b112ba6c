package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Item types stored in the items table.
const (
	ItemChapter = "chapter"
	ItemScene   = "scene"
)

type Project struct {
	ID       string
	Name     string
	Author   string
	Genre    string
	Created  time.Time
	Modified time.Time
}

// Item is a manuscript node: a chapter, or a scene nested under a chapter
// via ParentID. Scene content is stored as HTML.
type Item struct {
	ID         string
	ProjectID  string
	Name       string
	ItemType   string
	ParentID   *string
	OrderIndex int
	Content    string
	Created    time.Time
	Modified   time.Time
}

// Insight is one cached analysis result. A slot is identified by
// (ProjectID, Scope, ScopeID, InsightType); ScopeID is nil for book-scoped
// insights. SourceHash records the content hash the payload was derived from.
type Insight struct {
	ID          string
	ProjectID   string
	Scope       string // "chapter" or "book"
	ScopeID     *string
	InsightType string
	PayloadJSON string
	SourceHash  string
	Created     time.Time
	Modified    time.Time
}

// JobRun is an audit record of one worker execution. The live queue is
// in-memory; this table only keeps history for the status surfaces.
type JobRun struct {
	ID         string
	Kind       string
	ProjectID  string
	ScopeID    *string
	Status     string // "running", "finished", "failed"
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time
}
