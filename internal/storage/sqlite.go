// Package storage persists runs, results, plan snapshots and the document
// library in a local SQLite database.
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

// Store wraps a SQLite database with methods for runs, results, plan
// snapshots and library documents.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used
// by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "planforge.db")
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

// --- Runs ---

func (s *Store) CreateRun(r Run) error {
	startedAt := r.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO runs (id, project_id, kind, status, suspend_reason, started_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.ProjectID, r.Kind, r.Status, r.SuspendReason,
		startedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetRun(id string) (Run, error) {
	var r Run
	var startedAt string
	var finishedAt sql.NullString
	err := s.db.QueryRow(`
		SELECT id, project_id, kind, status, suspend_reason, started_at, finished_at
		FROM runs WHERE id = ?`, id,
	).Scan(&r.ID, &r.ProjectID, &r.Kind, &r.Status, &r.SuspendReason, &startedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, err
	}
	if r.StartedAt, err = time.Parse(time.RFC3339, startedAt); err != nil {
		return Run{}, fmt.Errorf("parsing started_at: %w", err)
	}
	if finishedAt.Valid && finishedAt.String != "" {
		if r.FinishedAt, err = time.Parse(time.RFC3339, finishedAt.String); err != nil {
			return Run{}, fmt.Errorf("parsing finished_at: %w", err)
		}
	}
	return r, nil
}

// UpdateRunStatus sets status and suspend reason unconditionally. Terminal
// statuses also record finished_at.
func (s *Store) UpdateRunStatus(id, status, suspendReason string) error {
	res, err := s.db.Exec(
		`UPDATE runs SET status = ?, suspend_reason = ?, finished_at = ? WHERE id = ?`,
		status, suspendReason, finishedAtFor(status), id,
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

// UpdateRunStatusIf transitions the run only when its current status
// matches expected. It returns false without error when the guard did not
// match, which callers use to serialize concurrent resumes.
func (s *Store) UpdateRunStatusIf(id, expected, status, suspendReason string) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE runs SET status = ?, suspend_reason = ?, finished_at = ? WHERE id = ? AND status = ?`,
		status, suspendReason, finishedAtFor(status), id, expected,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func finishedAtFor(status string) any {
	if status == "completed" || status == "failed" {
		return time.Now().UTC().Format(time.RFC3339)
	}
	return nil
}

func (s *Store) GetRecentRuns(limit int) ([]Run, error) {
	rows, err := s.db.Query(`
		SELECT id, project_id, kind, status, suspend_reason, started_at, finished_at
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Run
	for rows.Next() {
		var r Run
		var startedAt string
		var finishedAt sql.NullString
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.Kind, &r.Status, &r.SuspendReason, &startedAt, &finishedAt); err != nil {
			return nil, err
		}
		if r.StartedAt, err = time.Parse(time.RFC3339, startedAt); err != nil {
			return nil, fmt.Errorf("parsing started_at: %w", err)
		}
		if finishedAt.Valid && finishedAt.String != "" {
			if r.FinishedAt, err = time.Parse(time.RFC3339, finishedAt.String); err != nil {
				return nil, fmt.Errorf("parsing finished_at: %w", err)
			}
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// --- Results ---

func (s *Store) SaveResult(r Result) error {
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO results (id, run_id, type, payload, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.RunID, r.Type, r.Payload, createdAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// LatestResult returns the most recent result of the given type for a run.
func (s *Store) LatestResult(runID, resultType string) (Result, error) {
	var r Result
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, run_id, type, payload, created_at
		FROM results WHERE run_id = ? AND type = ?
		ORDER BY created_at DESC LIMIT 1`, runID, resultType,
	).Scan(&r.ID, &r.RunID, &r.Type, &r.Payload, &createdAt)
	if err == sql.ErrNoRows {
		return Result{}, ErrNotFound
	}
	if err != nil {
		return Result{}, err
	}
	if r.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return Result{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return r, nil
}

func (s *Store) ListResults(runID string) ([]Result, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, type, payload, created_at
		FROM results WHERE run_id = ? ORDER BY created_at ASC`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var createdAt string
		if err := rows.Scan(&r.ID, &r.RunID, &r.Type, &r.Payload, &createdAt); err != nil {
			return nil, err
		}
		if r.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// --- Plan snapshots ---

func (s *Store) SavePlanSnapshot(p PlanSnapshot) error {
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	status := p.Status
	if status == "" {
		status = "pending"
	}
	_, err := s.db.Exec(`
		INSERT INTO plan_snapshots (id, run_id, project_id, status, document, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.RunID, p.ProjectID, status, p.Document, createdAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// LatestPlanSnapshot returns the most recent snapshot for a run, optionally
// filtered by status ("" matches any).
func (s *Store) LatestPlanSnapshot(runID, status string) (PlanSnapshot, error) {
	query := `
		SELECT id, run_id, project_id, status, document, created_at
		FROM plan_snapshots WHERE run_id = ?`
	args := []any{runID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC LIMIT 1`

	var p PlanSnapshot
	var createdAt string
	err := s.db.QueryRow(query, args...).Scan(&p.ID, &p.RunID, &p.ProjectID, &p.Status, &p.Document, &createdAt)
	if err == sql.ErrNoRows {
		return PlanSnapshot{}, ErrNotFound
	}
	if err != nil {
		return PlanSnapshot{}, err
	}
	if p.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return PlanSnapshot{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return p, nil
}

// --- Library ---

func (s *Store) SaveLibraryDocument(d LibraryDocument) error {
	createdAt := d.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO library_documents (id, title, source, content_hash, chunks, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		d.ID, d.Title, d.Source, d.ContentHash, d.Chunks, createdAt.UTC().Format(time.RFC3339),
	)
	return err
}

// LibraryDocumentByHash looks a document up by content hash, used to skip
// re-ingesting identical content.
func (s *Store) LibraryDocumentByHash(hash string) (LibraryDocument, error) {
	var d LibraryDocument
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, title, source, content_hash, chunks, created_at
		FROM library_documents WHERE content_hash = ?`, hash,
	).Scan(&d.ID, &d.Title, &d.Source, &d.ContentHash, &d.Chunks, &createdAt)
	if err == sql.ErrNoRows {
		return LibraryDocument{}, ErrNotFound
	}
	if err != nil {
		return LibraryDocument{}, err
	}
	if d.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return LibraryDocument{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return d, nil
}

func (s *Store) ListLibraryDocuments(limit int) ([]LibraryDocument, error) {
	rows, err := s.db.Query(`
		SELECT id, title, source, content_hash, chunks, created_at
		FROM library_documents ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []LibraryDocument
	for rows.Next() {
		var d LibraryDocument
		var createdAt string
		if err := rows.Scan(&d.ID, &d.Title, &d.Source, &d.ContentHash, &d.Chunks, &createdAt); err != nil {
			return nil, err
		}
		if d.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		results = append(results, d)
	}
	return results, rows.Err()
}

func (s *Store) SaveLibraryVector(v LibraryVector) error {
	_, err := s.db.Exec(`
		INSERT INTO library_vectors (id, document_id, seq, content, embedding)
		VALUES (?, ?, ?, ?, ?)`,
		v.ID, v.DocumentID, v.Seq, v.Content, encodeVector(v.Embedding),
	)
	return err
}

// AllLibraryVectors returns every embedded chunk. Chunks without an
// embedding are skipped.
func (s *Store) AllLibraryVectors() ([]LibraryVector, error) {
	rows, err := s.db.Query(`
		SELECT id, document_id, seq, content, embedding
		FROM library_vectors WHERE embedding IS NOT NULL
		ORDER BY document_id, seq`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []LibraryVector
	for rows.Next() {
		var v LibraryVector
		var blob []byte
		if err := rows.Scan(&v.ID, &v.DocumentID, &v.Seq, &v.Content, &blob); err != nil {
			return nil, err
		}
		v.Embedding = decodeVector(blob)
		if len(v.Embedding) == 0 {
			continue
		}
		results = append(results, v)
	}
	return results, rows.Err()
}
