// Package runs keeps a local SQLite history of research runs.
package runs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/samsaffron/enrich/internal/config"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by Get for an unknown id.
var ErrNotFound = errors.New("run not found")

// Config controls store initialization.
type Config struct {
	Path string // Optional DB path override (supports :memory:)
}

// Run is one finished research run.
type Run struct {
	ID         string
	Topic      string
	Company    string
	LoopCount  int
	Satisfied  bool
	Summary    string
	Synthesis  string // JSON of the synthesized result
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Store persists runs.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS research_runs (
    id          TEXT PRIMARY KEY,
    topic       TEXT NOT NULL,
    company     TEXT NOT NULL DEFAULT '',
    loop_count  INTEGER NOT NULL DEFAULT 0,
    satisfied   BOOLEAN NOT NULL DEFAULT 0,
    summary     TEXT NOT NULL DEFAULT '',
    synthesis   TEXT NOT NULL DEFAULT '',
    error       TEXT NOT NULL DEFAULT '',
    started_at  DATETIME NOT NULL,
    finished_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_finished ON research_runs(finished_at);

CREATE VIRTUAL TABLE IF NOT EXISTS research_runs_fts USING fts5(
    id UNINDEXED,
    topic,
    company,
    summary,
    tokenize='unicode61'
);
`

// NewStore opens runs.db and initializes the schema.
func NewStore(cfg Config) (*Store, error) {
	dbPath, err := ResolveDBPath(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve runs db path: %w", err)
	}

	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create runs data directory: %w", err)
		}
	}

	dsn := dbPath
	if strings.Contains(dsn, "?") {
		dsn += "&"
	} else {
		dsn += "?"
	}
	dsn += "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open runs db: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize runs schema: %w", err)
	}
	return &Store{db: db}, nil
}

// GetDBPath returns the default runs.db path.
func GetDBPath() (string, error) {
	dataDir, err := config.GetDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "runs.db"), nil
}

// ResolveDBPath resolves an optional DB path override.
func ResolveDBPath(pathOverride string) (string, error) {
	pathOverride = strings.TrimSpace(pathOverride)
	if pathOverride == "" {
		return GetDBPath()
	}
	if pathOverride == ":memory:" {
		return pathOverride, nil
	}

	pathOverride = os.ExpandEnv(pathOverride)
	if strings.HasPrefix(pathOverride, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		pathOverride = filepath.Join(homeDir, pathOverride[2:])
	}

	abs, err := filepath.Abs(pathOverride)
	if err != nil {
		return "", fmt.Errorf("resolve db path %q: %w", pathOverride, err)
	}
	return abs, nil
}

// Record inserts run, assigning an id when empty, and syncs the search index.
func (s *Store) Record(ctx context.Context, run *Run) error {
	if strings.TrimSpace(run.Topic) == "" {
		return errors.New("run topic is required")
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.FinishedAt.IsZero() {
		run.FinishedAt = time.Now()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = run.FinishedAt
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record run: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO research_runs (id, topic, company, loop_count, satisfied, summary, synthesis, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Topic, run.Company, run.LoopCount, run.Satisfied, run.Summary, run.Synthesis, run.Error,
		run.StartedAt.UTC(), run.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO research_runs_fts (id, topic, company, summary) VALUES (?, ?, ?, ?)`,
		run.ID, run.Topic, run.Company, run.Summary)
	if err != nil {
		return fmt.Errorf("index run: %w", err)
	}
	return tx.Commit()
}

const runColumns = `id, topic, company, loop_count, satisfied, summary, synthesis, error, started_at, finished_at`

// List returns the most recent runs first. limit <= 0 returns all.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM research_runs ORDER BY finished_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryRuns(ctx, query, args...)
}

// Get returns the run with id, accepting a unique id prefix.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrNotFound
	}
	runs, err := s.queryRuns(ctx, `SELECT `+runColumns+` FROM research_runs WHERE id = ? OR id LIKE ? ORDER BY id LIMIT 2`,
		id, stripWildcards(id)+"%")
	if err != nil {
		return nil, err
	}
	for _, r := range runs {
		if r.ID == id {
			return &r, nil
		}
	}
	switch len(runs) {
	case 0:
		return nil, ErrNotFound
	case 1:
		return &runs[0], nil
	default:
		return nil, fmt.Errorf("run id prefix %q is ambiguous", id)
	}
}

// Search finds runs whose topic, company or summary match query.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}
	return s.queryRuns(ctx, `
		SELECT `+prefixColumns("r")+`
		FROM research_runs_fts f
		JOIN research_runs r ON r.id = f.id
		WHERE research_runs_fts MATCH ?
		ORDER BY bm25(research_runs_fts)
		LIMIT ?`, match, limit)
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) queryRuns(ctx context.Context, query string, args ...any) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Topic, &r.Company, &r.LoopCount, &r.Satisfied,
			&r.Summary, &r.Synthesis, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func prefixColumns(alias string) string {
	cols := strings.Split(runColumns, ", ")
	for i, c := range cols {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

// ftsQuery keeps only the words of q, quoted, so user input cannot inject
// FTS syntax.
func ftsQuery(q string) string {
	words := strings.FieldsFunc(q, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for i, w := range words {
		words[i] = `"` + w + `"`
	}
	return strings.Join(words, " ")
}

func stripWildcards(s string) string {
	r := strings.NewReplacer(`%`, ``, `_`, ``)
	return r.Replace(s)
}
