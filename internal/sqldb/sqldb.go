// Package sqldb reads schema metadata and runs read-only queries against
// Postgres.
package sqldb

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// DefaultSchema is the Postgres schema inspected by FetchSchema.
const DefaultSchema = "public"

// Querier is the subset of pgxpool.Pool used here.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// DB wraps a connection pool.
type DB struct {
	q      Querier
	pool   *pgxpool.Pool
	schema string
	logger *zap.Logger
}

// Open connects a pool to dsn and pings it.
func Open(ctx context.Context, dsn string, logger *zap.Logger) (*DB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	db := New(pool, logger)
	db.pool = pool
	return db, nil
}

// New wraps an existing querier.
func New(q Querier, logger *zap.Logger) *DB {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DB{q: q, schema: DefaultSchema, logger: logger}
}

// Close releases the pool when DB owns one.
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// ExecuteQuery runs sql with args and returns every row keyed by column name.
func (db *DB) ExecuteQuery(ctx context.Context, sql string, args ...any) ([]map[string]any, error) {
	rows, err := db.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	res, err := collectLimited(rows, 0)
	if err != nil {
		return nil, err
	}
	return res.Rows, nil
}

// Result is the outcome of ReadOnlyQuery.
type Result struct {
	Columns   []string         `json:"columns"`
	Rows      []map[string]any `json:"rows"`
	Truncated bool             `json:"truncated"`
}

// ReadOnlyQuery runs sql inside a read-only transaction and keeps at most
// limit rows (all rows when limit <= 0).
func (db *DB) ReadOnlyQuery(ctx context.Context, sql string, limit int) (Result, error) {
	tx, err := db.q.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return Result{}, fmt.Errorf("begin read-only transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, sql)
	if err != nil {
		return Result{}, fmt.Errorf("execute query: %w", err)
	}
	res, err := collectLimited(rows, limit)
	if err != nil {
		return Result{}, err
	}
	db.logger.Debug("read-only query", zap.Int("rows", len(res.Rows)), zap.Bool("truncated", res.Truncated))
	return res, nil
}

// collectLimited drains rows into maps, stopping after limit rows.
func collectLimited(rows pgx.Rows, limit int) (Result, error) {
	defer rows.Close()

	fields := rows.FieldDescriptions()
	res := Result{Columns: make([]string, len(fields)), Rows: []map[string]any{}}
	for i, f := range fields {
		res.Columns[i] = f.Name
	}

	for rows.Next() {
		if limit > 0 && len(res.Rows) == limit {
			res.Truncated = true
			break
		}
		values, err := rows.Values()
		if err != nil {
			return Result{}, fmt.Errorf("read row: %w", err)
		}
		row := make(map[string]any, len(values))
		for i, v := range values {
			row[res.Columns[i]] = normalizeValue(v)
		}
		res.Rows = append(res.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("read rows: %w", err)
	}
	return res, nil
}
