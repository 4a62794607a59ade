package sqldb

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Column is one table column.
type Column struct {
	ColumnName string `json:"column_name"`
	DataType   string `json:"data_type"`
}

// ForeignKey links a column to another table.
type ForeignKey struct {
	FKColumn         string `json:"fk_column"`
	ReferencedTable  string `json:"referenced_table"`
	ReferencedColumn string `json:"referenced_column"`
}

// Table describes one table.
type Table struct {
	Columns     []Column     `json:"columns"`
	PrimaryKey  []string     `json:"primary_key"`
	ForeignKeys []ForeignKey `json:"foreign_keys"`
}

// Schema maps table names to their description.
type Schema map[string]Table

// Tables returns the table names in order.
func (s Schema) Tables() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// JSON renders the schema for prompts.
func (s Schema) JSON() (string, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode schema: %w", err)
	}
	return string(data), nil
}

const (
	tablesQuery = `SELECT table_name
FROM information_schema.tables
WHERE table_schema = $1 AND table_type = 'BASE TABLE'
ORDER BY table_name`

	columnsQuery = `SELECT column_name, data_type
FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2
ORDER BY ordinal_position`

	primaryKeyQuery = `SELECT kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = $1 AND tc.table_name = $2
ORDER BY kcu.ordinal_position`

	foreignKeysQuery = `SELECT kcu.column_name, ccu.table_name, ccu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
JOIN information_schema.constraint_column_usage ccu
  ON ccu.constraint_name = tc.constraint_name AND ccu.table_schema = tc.table_schema
WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = $1 AND tc.table_name = $2
ORDER BY kcu.column_name`
)

// TableColumns lists the columns of table.
func (db *DB) TableColumns(ctx context.Context, table string) ([]Column, error) {
	rows, err := db.q.Query(ctx, columnsQuery, db.schema, table)
	if err != nil {
		return nil, fmt.Errorf("query columns of %s: %w", table, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Column, error) {
		var c Column
		err := row.Scan(&c.ColumnName, &c.DataType)
		return c, err
	})
}

// PrimaryKey lists the primary key columns of table.
func (db *DB) PrimaryKey(ctx context.Context, table string) ([]string, error) {
	rows, err := db.q.Query(ctx, primaryKeyQuery, db.schema, table)
	if err != nil {
		return nil, fmt.Errorf("query primary key of %s: %w", table, err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// ForeignKeys lists the foreign keys declared on table.
func (db *DB) ForeignKeys(ctx context.Context, table string) ([]ForeignKey, error) {
	rows, err := db.q.Query(ctx, foreignKeysQuery, db.schema, table)
	if err != nil {
		return nil, fmt.Errorf("query foreign keys of %s: %w", table, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ForeignKey, error) {
		var fk ForeignKey
		err := row.Scan(&fk.FKColumn, &fk.ReferencedTable, &fk.ReferencedColumn)
		return fk, err
	})
}

// FetchSchema reads every base table of the public schema.
func (db *DB) FetchSchema(ctx context.Context) (Schema, error) {
	rows, err := db.q.Query(ctx, tablesQuery, db.schema)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	tables, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	schema := make(Schema, len(tables))
	for _, name := range tables {
		cols, err := db.TableColumns(ctx, name)
		if err != nil {
			return nil, err
		}
		pk, err := db.PrimaryKey(ctx, name)
		if err != nil {
			return nil, err
		}
		fks, err := db.ForeignKeys(ctx, name)
		if err != nil {
			return nil, err
		}
		schema[name] = newTable(cols, pk, fks)
	}
	return schema, nil
}

// newTable replaces nil slices so the JSON form always has arrays.
func newTable(cols []Column, pk []string, fks []ForeignKey) Table {
	if cols == nil {
		cols = []Column{}
	}
	if pk == nil {
		pk = []string{}
	}
	if fks == nil {
		fks = []ForeignKey{}
	}
	return Table{Columns: cols, PrimaryKey: pk, ForeignKeys: fks}
}

// SaveSchema writes schema as indented JSON.
func SaveSchema(path string, schema Schema) error {
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("encode schema: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write schema %s: %w", path, err)
	}
	return nil
}

// LoadSchema reads a schema written by SaveSchema.
func LoadSchema(path string) (Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var schema Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("parse schema %s: %w", path, err)
	}
	return schema, nil
}

// normalizeValue turns driver values into JSON-friendly ones.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case [16]byte:
		return uuid.UUID(val).String()
	case []byte:
		return string(val)
	default:
		return v
	}
}
