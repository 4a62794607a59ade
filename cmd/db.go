package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/samsaffron/enrich/internal/config"
	"github.com/samsaffron/enrich/internal/signal"
	"github.com/samsaffron/enrich/internal/sqlagent"
	"github.com/samsaffron/enrich/internal/sqldb"
	"github.com/spf13/cobra"
)

var (
	dbDSN         string
	dbRefresh     bool
	dbQueryLimit  int
	dbQueryJSON   bool
	dbSchemaTable string
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Inspect the Postgres database behind the SQL agent",
	Long: `Inspect the database the SQL agent answers questions about.

The connection comes from --dsn or the PGHOST, PGDATABASE, PGUSER and
PGPASSWORD environment variables.

Examples:
  enrich db schema                     # cached schema (sql.schema_file)
  enrich db schema --refresh           # re-read information_schema
  enrich db query "SELECT name FROM customers LIMIT 5"`,
}

var dbSchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the database schema as JSON",
	Args:  cobra.NoArgs,
	RunE:  runDBSchema,
}

var dbQueryCmd = &cobra.Command{
	Use:   "query <sql>",
	Short: "Run a read-only SELECT query",
	Long: `Run a single SELECT (or WITH ... SELECT) statement inside a read-only
transaction. Other statements are rejected before reaching the database.`,
	Args: cobra.ExactArgs(1),
	RunE: runDBQuery,
}

func init() {
	dbCmd.PersistentFlags().StringVar(&dbDSN, "dsn", "", "Postgres connection URL (default: built from PG* variables)")
	dbSchemaCmd.Flags().BoolVar(&dbRefresh, "refresh", false, "Ignore the cached schema file and fetch from the database")
	dbSchemaCmd.Flags().StringVar(&dbSchemaTable, "table", "", "Only print this table")
	AddLimitFlag(dbQueryCmd, &dbQueryLimit, 200)
	dbQueryCmd.Flags().BoolVar(&dbQueryJSON, "json", false, "Print rows as JSON")

	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(dbSchemaCmd)
	dbCmd.AddCommand(dbQueryCmd)
}

func openDB(ctx context.Context) (*sqldb.DB, error) {
	dsn := dbDSN
	if dsn == "" {
		var env config.ServerEnv
		if err := config.ParseEnv(&env); err != nil {
			return nil, err
		}
		dsn = env.PostgresDSN()
	}
	return sqldb.Open(ctx, dsn, logger)
}

func runDBSchema(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context())
	defer stop()

	db, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	cache := sqldb.NewSchemaCache(db, cfg.SQL.SchemaFile, cfg.SQL.SchemaRefresh, logger)
	var schema sqldb.Schema
	if dbRefresh {
		schema, err = cache.Invalidate(ctx)
	} else {
		schema, err = cache.Get(ctx)
	}
	if err != nil {
		return err
	}

	if dbSchemaTable != "" {
		tbl, ok := schema[dbSchemaTable]
		if !ok {
			return fmt.Errorf("table %q not found", dbSchemaTable)
		}
		schema = sqldb.Schema{dbSchemaTable: tbl}
	}
	out, err := schema.JSON()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
	return err
}

func runDBQuery(cmd *cobra.Command, args []string) error {
	query, err := sqlagent.CheckSQL(args[0])
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context())
	defer stop()

	db, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	res, err := db.ReadOnlyQuery(ctx, query, dbQueryLimit)
	if err != nil {
		return err
	}
	if dbQueryJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	return printResult(cmd.OutOrStdout(), res)
}

// printResult draws res as a table followed by a row count.
func printResult(w io.Writer, res sqldb.Result) error {
	rows := make([][]string, 0, len(res.Rows))
	for _, row := range res.Rows {
		cells := make([]string, len(res.Columns))
		for i, col := range res.Columns {
			cells[i] = cellString(row[col])
		}
		rows = append(rows, cells)
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(res.Columns...).
		Rows(rows...)
	if _, err := fmt.Fprintln(w, t.String()); err != nil {
		return err
	}
	suffix := ""
	if res.Truncated {
		suffix = " (truncated)"
	}
	_, err := fmt.Fprintf(w, "%d rows%s\n", len(res.Rows), suffix)
	return err
}

func cellString(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case string:
		return val
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return fmt.Sprint(val)
	}
}
