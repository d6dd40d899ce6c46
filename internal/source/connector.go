// Package source reads from the external MySQL store. All access is
// read-only; the engine never writes back to the source.
package source

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/merchkit/syncbridge/internal/models"
)

// Connector is the read-only view of the source store used by the
// registry, the sync engine and the job orchestrator.
type Connector interface {
	Ping(ctx context.Context) error
	ListSchemas(ctx context.Context) ([]models.SchemaTables, error)
	ListColumns(ctx context.Context, schema, table string) ([]models.Column, error)
	CountRows(ctx context.Context, schema, table string) (int64, error)
	// MaxValue returns the current maximum of a numeric column, nil when
	// the table is empty. The engine records it as the source-side high
	// watermark of a run.
	MaxValue(ctx context.Context, schema, table, column string) (*int64, error)
	// FetchRowsAfter returns up to batchSize rows with pk > watermark,
	// strictly ascending by pkColumn. A nil watermark means fetch from
	// the beginning. Calling again with the pk of the last returned row
	// yields the next contiguous batch with no gaps or duplicates.
	FetchRowsAfter(ctx context.Context, schema, table, pkColumn string, watermark *int64, batchSize int) ([]models.Row, error)
	// FetchLatest is a best-effort most-recent-N view for inspection,
	// ordered by a timestamp column when one exists, else by the
	// primary key descending. Not used for sync correctness.
	FetchLatest(ctx context.Context, schema, table string, limit int) ([]models.Row, error)
	Close() error
}

// SQLConnector implements Connector over a *sql.DB opened with the
// MySQL driver.
type SQLConnector struct {
	db           *sql.DB
	queryTimeout time.Duration
}

// timestamp-ish source types FetchLatest prefers for ordering.
var timestampTypes = map[string]bool{
	"timestamp": true,
	"datetime":  true,
	"date":      true,
}

func NewSQLConnector(db *sql.DB, queryTimeout time.Duration) *SQLConnector {
	if queryTimeout <= 0 {
		queryTimeout = 30 * time.Second
	}
	return &SQLConnector{db: db, queryTimeout: queryTimeout}
}

func (c *SQLConnector) Close() error { return c.db.Close() }

func (c *SQLConnector) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.queryTimeout)
}

func (c *SQLConnector) Ping(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var one int
	if err := c.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return &models.ConnectionError{Side: "source", Phase: "ping", Err: err}
	}
	return nil
}

func (c *SQLConnector) ListSchemas(ctx context.Context) ([]models.SchemaTables, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	const query = `
		SELECT table_schema, table_name
		FROM information_schema.tables
		WHERE table_type = 'BASE TABLE'
		  AND table_schema NOT IN ('information_schema', 'mysql', 'performance_schema', 'sys')
		ORDER BY table_schema, table_name`

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, &models.ConnectionError{Side: "source", Phase: "list-schemas", Err: err}
	}
	defer rows.Close()

	grouped := map[string][]string{}
	for rows.Next() {
		var schema, table string
		if err := rows.Scan(&schema, &table); err != nil {
			return nil, errors.Wrap(err, "scan schema row")
		}
		grouped[schema] = append(grouped[schema], table)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.ConnectionError{Side: "source", Phase: "list-schemas", Err: err}
	}

	schemas := make([]models.SchemaTables, 0, len(grouped))
	for schema, tables := range grouped {
		schemas = append(schemas, models.SchemaTables{Schema: schema, Tables: tables})
	}
	sort.Slice(schemas, func(i, j int) bool { return schemas[i].Schema < schemas[j].Schema })
	return schemas, nil
}

func (c *SQLConnector) ListColumns(ctx context.Context, schema, table string) ([]models.Column, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	const query = `
		SELECT c.column_name, c.column_type, c.is_nullable, c.column_default,
		       c.column_key = 'PRI' AS is_primary
		FROM information_schema.columns c
		WHERE c.table_schema = ? AND c.table_name = ?
		ORDER BY c.ordinal_position`

	rows, err := c.db.QueryContext(ctx, query, schema, table)
	if err != nil {
		return nil, &models.ConnectionError{Side: "source", Phase: "list-columns", Table: schema + "." + table, Err: err}
	}
	defer rows.Close()

	var columns []models.Column
	for rows.Next() {
		var (
			col        models.Column
			isNullable string
			def        sql.NullString
		)
		if err := rows.Scan(&col.Name, &col.DataType, &isNullable, &def, &col.IsPrimaryKey); err != nil {
			return nil, errors.Wrap(err, "scan column row")
		}
		col.IsNullable = strings.EqualFold(isNullable, "YES")
		if def.Valid {
			col.Default = &def.String
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.ConnectionError{Side: "source", Phase: "list-columns", Table: schema + "." + table, Err: err}
	}
	return columns, nil
}

func (c *SQLConnector) CountRows(ctx context.Context, schema, table string) (int64, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf("SELECT COUNT(*) FROM %s.%s", quoteIdent(schema), quoteIdent(table))
	var count int64
	if err := c.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, &models.ConnectionError{Side: "source", Phase: "count", Table: schema + "." + table, Err: err}
	}
	return count, nil
}

func (c *SQLConnector) MaxValue(ctx context.Context, schema, table, column string) (*int64, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf("SELECT MAX(%s) FROM %s.%s",
		quoteIdent(column), quoteIdent(schema), quoteIdent(table))
	var max sql.NullInt64
	if err := c.db.QueryRowContext(ctx, query).Scan(&max); err != nil {
		return nil, &models.ConnectionError{Side: "source", Phase: "max-value", Table: schema + "." + table, Err: err}
	}
	if !max.Valid {
		return nil, nil
	}
	v := max.Int64
	return &v, nil
}

func (c *SQLConnector) FetchRowsAfter(ctx context.Context, schema, table, pkColumn string, watermark *int64, batchSize int) ([]models.Row, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var (
		query string
		args  []any
	)
	if watermark != nil {
		query = fmt.Sprintf("SELECT * FROM %s.%s WHERE %s > ? ORDER BY %s ASC LIMIT ?",
			quoteIdent(schema), quoteIdent(table), quoteIdent(pkColumn), quoteIdent(pkColumn))
		args = []any{*watermark, batchSize}
	} else {
		query = fmt.Sprintf("SELECT * FROM %s.%s ORDER BY %s ASC LIMIT ?",
			quoteIdent(schema), quoteIdent(table), quoteIdent(pkColumn))
		args = []any{batchSize}
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &models.ConnectionError{Side: "source", Phase: "fetch", Table: schema + "." + table, Err: err}
	}
	defer rows.Close()

	return scanRows(rows, schema, table)
}

func (c *SQLConnector) FetchLatest(ctx context.Context, schema, table string, limit int) ([]models.Row, error) {
	orderBy, err := c.latestOrderColumn(ctx, schema, table)
	if err != nil {
		return nil, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf("SELECT * FROM %s.%s ORDER BY %s DESC LIMIT ?",
		quoteIdent(schema), quoteIdent(table), quoteIdent(orderBy))
	rows, err := c.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, &models.ConnectionError{Side: "source", Phase: "fetch-latest", Table: schema + "." + table, Err: err}
	}
	defer rows.Close()

	return scanRows(rows, schema, table)
}

// latestOrderColumn picks the ordering column for FetchLatest: the
// first timestamp-typed column when one exists, otherwise the primary
// key, otherwise the first column.
func (c *SQLConnector) latestOrderColumn(ctx context.Context, schema, table string) (string, error) {
	columns, err := c.ListColumns(ctx, schema, table)
	if err != nil {
		return "", err
	}
	if len(columns) == 0 {
		return "", &models.ConnectionError{Side: "source", Phase: "fetch-latest", Table: schema + "." + table,
			Err: errors.New("table has no columns")}
	}
	for _, col := range columns {
		base := strings.ToLower(col.DataType)
		if i := strings.IndexByte(base, '('); i >= 0 {
			base = base[:i]
		}
		if timestampTypes[base] {
			return col.Name, nil
		}
	}
	for _, col := range columns {
		if col.IsPrimaryKey {
			return col.Name, nil
		}
	}
	return columns[0].Name, nil
}

func scanRows(rows *sql.Rows, schema, table string) ([]models.Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(err, "read result columns")
	}

	var result []models.Row
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errors.Wrap(err, "scan data row")
		}
		row := make(models.Row, len(columns))
		for i, name := range columns {
			row[i] = models.Field{Column: name, Value: normalizeValue(values[i])}
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.ConnectionError{Side: "source", Phase: "fetch", Table: schema + "." + table, Err: err}
	}
	return result, nil
}

// The MySQL driver hands back []byte for text-ish columns; convert to
// string so values survive JSON serialization and Postgres binding.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// quoteIdent quotes a MySQL identifier with backticks.
func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}
