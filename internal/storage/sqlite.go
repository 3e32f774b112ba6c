package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for projects, manuscript items,
// insights, and job run history.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "inkwell.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// nullable converts an optional id into a driver value. nil maps to SQL NULL.
func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func scanOptional(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func parseTimestamp(field, raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %s: %w", field, err)
	}
	return t, nil
}

// --- Projects ---

func (s *Store) SaveProject(p Project) error {
	_, err := s.db.Exec(`
		INSERT INTO projects (id, name, author, genre, created, modified)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			author = excluded.author,
			genre = excluded.genre,
			modified = excluded.modified`,
		p.ID, p.Name, p.Author, p.Genre,
		p.Created.UTC().Format(time.RFC3339), p.Modified.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetProject(id string) (Project, error) {
	var p Project
	var created, modified string
	err := s.db.QueryRow(`
		SELECT id, name, author, genre, created, modified
		FROM projects WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.Author, &p.Genre, &created, &modified)
	if err == sql.ErrNoRows {
		return Project{}, ErrNotFound
	}
	if err != nil {
		return Project{}, err
	}
	if p.Created, err = parseTimestamp("created", created); err != nil {
		return Project{}, err
	}
	if p.Modified, err = parseTimestamp("modified", modified); err != nil {
		return Project{}, err
	}
	return p, nil
}

func (s *Store) ListProjects() ([]Project, error) {
	rows, err := s.db.Query(`
		SELECT id, name, author, genre, created, modified
		FROM projects ORDER BY created ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Project
	for rows.Next() {
		var p Project
		var created, modified string
		if err := rows.Scan(&p.ID, &p.Name, &p.Author, &p.Genre, &created, &modified); err != nil {
			return nil, err
		}
		if p.Created, err = parseTimestamp("created", created); err != nil {
			return nil, err
		}
		if p.Modified, err = parseTimestamp("modified", modified); err != nil {
			return nil, err
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

// DeleteProject removes a project together with its items and insights.
func (s *Store) DeleteProject(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	if _, err := tx.Exec(`DELETE FROM items WHERE project_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM insights WHERE project_id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// --- Items ---

func (s *Store) SaveItem(it Item) error {
	_, err := s.db.Exec(`
		INSERT INTO items (id, project_id, name, item_type, parent_id, order_index, content, created, modified)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			parent_id = excluded.parent_id,
			order_index = excluded.order_index,
			content = excluded.content,
			modified = excluded.modified`,
		it.ID, it.ProjectID, it.Name, it.ItemType, nullable(it.ParentID), it.OrderIndex, it.Content,
		it.Created.UTC().Format(time.RFC3339), it.Modified.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetItem(id string) (Item, error) {
	var it Item
	var parentID sql.NullString
	var created, modified string
	err := s.db.QueryRow(`
		SELECT id, project_id, name, item_type, parent_id, order_index, content, created, modified
		FROM items WHERE id = ?`, id,
	).Scan(&it.ID, &it.ProjectID, &it.Name, &it.ItemType, &parentID, &it.OrderIndex, &it.Content, &created, &modified)
	if err == sql.ErrNoRows {
		return Item{}, ErrNotFound
	}
	if err != nil {
		return Item{}, err
	}
	it.ParentID = scanOptional(parentID)
	if it.Created, err = parseTimestamp("created", created); err != nil {
		return Item{}, err
	}
	if it.Modified, err = parseTimestamp("modified", modified); err != nil {
		return Item{}, err
	}
	return it, nil
}

// ListItems returns project items ordered by order_index. itemType and
// parentID narrow the result when non-nil; a nil parentID with itemType
// "chapter" yields the chapter list.
func (s *Store) ListItems(projectID string, itemType string, parentID *string) ([]Item, error) {
	query := `SELECT id, project_id, name, item_type, parent_id, order_index, content, created, modified
		FROM items WHERE project_id = ?`
	args := []any{projectID}
	if itemType != "" {
		query += ` AND item_type = ?`
		args = append(args, itemType)
	}
	if parentID != nil {
		query += ` AND parent_id = ?`
		args = append(args, *parentID)
	}
	query += ` ORDER BY order_index ASC, created ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Item
	for rows.Next() {
		var it Item
		var parent sql.NullString
		var created, modified string
		if err := rows.Scan(&it.ID, &it.ProjectID, &it.Name, &it.ItemType, &parent, &it.OrderIndex, &it.Content, &created, &modified); err != nil {
			return nil, err
		}
		it.ParentID = scanOptional(parent)
		if it.Created, err = parseTimestamp("created", created); err != nil {
			return nil, err
		}
		if it.Modified, err = parseTimestamp("modified", modified); err != nil {
			return nil, err
		}
		results = append(results, it)
	}
	return results, rows.Err()
}

// DeleteItem removes an item and any items nested under it.
func (s *Store) DeleteItem(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM items WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	if _, err := tx.Exec(`DELETE FROM items WHERE parent_id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// --- Insights ---

// UpsertInsight inserts an insight or, when the id already exists, replaces
// its payload, source hash, and modified timestamp.
func (s *Store) UpsertInsight(in Insight) error {
	_, err := s.db.Exec(`
		INSERT INTO insights (id, project_id, scope, scope_id, insight_type, payload_json, source_hash, created, modified)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			payload_json = excluded.payload_json,
			source_hash = excluded.source_hash,
			modified = excluded.modified`,
		in.ID, in.ProjectID, in.Scope, nullable(in.ScopeID), in.InsightType,
		in.PayloadJSON, in.SourceHash,
		in.Created.UTC().Format(time.RFC3339), in.Modified.UTC().Format(time.RFC3339),
	)
	return err
}

// LatestInsight returns the most recently modified insight in a slot.
// A nil scopeID matches only rows with NULL scope_id.
func (s *Store) LatestInsight(projectID, scope string, scopeID *string, insightType string) (Insight, error) {
	sid := nullable(scopeID)
	row := s.db.QueryRow(`
		SELECT id, project_id, scope, scope_id, insight_type, payload_json, source_hash, created, modified
		FROM insights
		WHERE project_id = ? AND scope = ? AND (scope_id IS ? OR scope_id = ?) AND insight_type = ?
		ORDER BY modified DESC LIMIT 1`,
		projectID, scope, sid, sid, insightType,
	)
	return scanInsight(row)
}

// InsightExistsWithHash reports whether the slot already holds an insight
// derived from content with the given source hash.
func (s *Store) InsightExistsWithHash(projectID, scope string, scopeID *string, insightType, sourceHash string) (bool, error) {
	sid := nullable(scopeID)
	var one int
	err := s.db.QueryRow(`
		SELECT 1 FROM insights
		WHERE project_id = ? AND scope = ? AND (scope_id IS ? OR scope_id = ?)
			AND insight_type = ? AND source_hash = ?
		LIMIT 1`,
		projectID, scope, sid, sid, insightType, sourceHash,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// InsightsByScope returns all insights for a scope, newest first.
func (s *Store) InsightsByScope(projectID, scope string, scopeID *string) ([]Insight, error) {
	sid := nullable(scopeID)
	rows, err := s.db.Query(`
		SELECT id, project_id, scope, scope_id, insight_type, payload_json, source_hash, created, modified
		FROM insights
		WHERE project_id = ? AND scope = ? AND (scope_id IS ? OR scope_id = ?)
		ORDER BY modified DESC`,
		projectID, scope, sid, sid,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Insight
	for rows.Next() {
		in, err := scanInsight(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, in)
	}
	return results, rows.Err()
}

// DeleteInsightScope removes every insight in a scope.
func (s *Store) DeleteInsightScope(projectID, scope string, scopeID *string) error {
	sid := nullable(scopeID)
	_, err := s.db.Exec(`
		DELETE FROM insights
		WHERE project_id = ? AND scope = ? AND (scope_id IS ? OR scope_id = ?)`,
		projectID, scope, sid, sid,
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInsight(row rowScanner) (Insight, error) {
	var in Insight
	var scopeID sql.NullString
	var created, modified string
	err := row.Scan(&in.ID, &in.ProjectID, &in.Scope, &scopeID, &in.InsightType, &in.PayloadJSON, &in.SourceHash, &created, &modified)
	if err == sql.ErrNoRows {
		return Insight{}, ErrNotFound
	}
	if err != nil {
		return Insight{}, err
	}
	in.ScopeID = scanOptional(scopeID)
	if in.Created, err = parseTimestamp("created", created); err != nil {
		return Insight{}, err
	}
	if in.Modified, err = parseTimestamp("modified", modified); err != nil {
		return Insight{}, err
	}
	return in, nil
}

// --- Job runs ---

func (s *Store) RecordJobRun(run JobRun) error {
	var finished any
	if run.FinishedAt != nil {
		finished = run.FinishedAt.UTC().Format(time.RFC3339)
	}
	_, err := s.db.Exec(`
		INSERT INTO job_runs (id, kind, project_id, scope_id, status, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Kind, run.ProjectID, nullable(run.ScopeID), run.Status, run.Error,
		run.StartedAt.UTC().Format(time.RFC3339), finished,
	)
	return err
}

func (s *Store) FinishJobRun(id, status, errMsg string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`
		UPDATE job_runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		status, errMsg, now, id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) RecentJobRuns(limit int) ([]JobRun, error) {
	rows, err := s.db.Query(`
		SELECT id, kind, project_id, scope_id, status, error, started_at, finished_at
		FROM job_runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []JobRun
	for rows.Next() {
		var run JobRun
		var scopeID, finished sql.NullString
		var started string
		if err := rows.Scan(&run.ID, &run.Kind, &run.ProjectID, &scopeID, &run.Status, &run.Error, &started, &finished); err != nil {
			return nil, err
		}
		run.ScopeID = scanOptional(scopeID)
		if run.StartedAt, err = parseTimestamp("started_at", started); err != nil {
			return nil, err
		}
		if finished.Valid {
			t, err := parseTimestamp("finished_at", finished.String)
			if err != nil {
				return nil, err
			}
			run.FinishedAt = &t
		}
		results = append(results, run)
	}
	return results, rows.Err()
}
