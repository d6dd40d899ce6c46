// Package target writes to the Postgres store that receives synced and
// migrated rows. All writes are idempotent keyed inserts; existing rows
// are never updated or deleted.
package target

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/merchkit/syncbridge/internal/models"
)

// Store is the write side used by the sync engine and the job
// orchestrator, plus the introspection the admin surface renders.
type Store interface {
	ListTables(ctx context.Context) ([]models.TableStat, error)
	GetTableSchema(ctx context.Context, schema, table string) ([]models.Column, error)
	// MaxValue returns the current maximum of a numeric column, nil
	// when the table is empty, or models.ErrTableNotFound when the
	// relation does not exist. This is the watermark read.
	MaxValue(ctx context.Context, schema, table, column string) (*int64, error)
	CreateTableFromColumns(ctx context.Context, schema, table string, columns []models.Column, pkColumn string) error
	// InsertBatchIdempotent inserts rows, skipping any whose primary
	// key already exists, and returns the count actually inserted.
	// Calling it twice with the same batch inserts zero the second time.
	InsertBatchIdempotent(ctx context.Context, schema, table, pkColumn string, rows []models.Row) (int64, error)
	CountRows(ctx context.Context, schema, table string) (int64, error)
	FetchSample(ctx context.Context, schema, table string, limit int) ([]models.Row, error)
}

// PostgresStore implements Store over a *sql.DB opened with lib/pq.
type PostgresStore struct {
	db           *sql.DB
	queryTimeout time.Duration
}

func NewPostgresStore(db *sql.DB, queryTimeout time.Duration) *PostgresStore {
	if queryTimeout <= 0 {
		queryTimeout = 30 * time.Second
	}
	return &PostgresStore{db: db, queryTimeout: queryTimeout}
}

func (s *PostgresStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.queryTimeout)
}

func (s *PostgresStore) ListTables(ctx context.Context) ([]models.TableStat, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	const query = `
		SELECT n.nspname, c.relname, GREATEST(c.reltuples::bigint, 0)
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE c.relkind = 'r'
		  AND n.nspname NOT IN ('pg_catalog', 'information_schema')
		ORDER BY n.nspname, c.relname`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, &models.ConnectionError{Side: "target", Phase: "list-tables", Err: err}
	}
	defer rows.Close()

	var tables []models.TableStat
	for rows.Next() {
		var t models.TableStat
		if err := rows.Scan(&t.Schema, &t.Name, &t.RowEstimate); err != nil {
			return nil, errors.Wrap(err, "scan table row")
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.ConnectionError{Side: "target", Phase: "list-tables", Err: err}
	}
	return tables, nil
}

func (s *PostgresStore) GetTableSchema(ctx context.Context, schema, table string) ([]models.Column, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	const query = `
		SELECT c.column_name, c.udt_name, c.is_nullable = 'YES', c.column_default,
		       EXISTS (
		           SELECT 1 FROM information_schema.table_constraints tc
		           JOIN information_schema.key_column_usage kcu
		             ON kcu.constraint_name = tc.constraint_name
		            AND kcu.table_schema = tc.table_schema
		           WHERE tc.table_schema = c.table_schema AND tc.table_name = c.table_name
		             AND kcu.column_name = c.column_name AND tc.constraint_type = 'PRIMARY KEY'
		       ) AS is_primary,
		       EXISTS (
		           SELECT 1 FROM information_schema.table_constraints tc
		           JOIN information_schema.key_column_usage kcu
		             ON kcu.constraint_name = tc.constraint_name
		            AND kcu.table_schema = tc.table_schema
		           WHERE tc.table_schema = c.table_schema AND tc.table_name = c.table_name
		             AND kcu.column_name = c.column_name AND tc.constraint_type = 'FOREIGN KEY'
		       ) AS is_foreign
		FROM information_schema.columns c
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position`

	rows, err := s.db.QueryContext(ctx, query, schema, table)
	if err != nil {
		return nil, &models.ConnectionError{Side: "target", Phase: "get-schema", Table: schema + "." + table, Err: err}
	}
	defer rows.Close()

	var columns []models.Column
	for rows.Next() {
		var (
			col models.Column
			def sql.NullString
		)
		if err := rows.Scan(&col.Name, &col.DataType, &col.IsNullable, &def, &col.IsPrimaryKey, &col.IsForeignKey); err != nil {
			return nil, errors.Wrap(err, "scan column row")
		}
		if def.Valid {
			col.Default = &def.String
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.ConnectionError{Side: "target", Phase: "get-schema", Table: schema + "." + table, Err: err}
	}
	if len(columns) == 0 {
		return nil, models.ErrTableNotFound
	}
	return columns, nil
}

func (s *PostgresStore) MaxValue(ctx context.Context, schema, table, column string) (*int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf("SELECT MAX(%s) FROM %s.%s",
		pq.QuoteIdentifier(column), pq.QuoteIdentifier(schema), pq.QuoteIdentifier(table))

	var max sql.NullInt64
	if err := s.db.QueryRowContext(ctx, query).Scan(&max); err != nil {
		if isUndefinedTable(err) {
			return nil, models.ErrTableNotFound
		}
		return nil, &models.ConnectionError{Side: "target", Phase: "max-value", Table: schema + "." + table, Err: err}
	}
	if !max.Valid {
		return nil, nil
	}
	v := max.Int64
	return &v, nil
}

func (s *PostgresStore) CreateTableFromColumns(ctx context.Context, schema, table string, columns []models.Column, pkColumn string) error {
	if len(columns) == 0 {
		return models.NewConfigError("cannot create table %s.%s without columns", schema, table)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	defs := make([]string, 0, len(columns)+1)
	for _, col := range columns {
		def := pq.QuoteIdentifier(col.Name) + " " + col.DataType
		if !col.IsNullable && !strings.EqualFold(col.Name, pkColumn) {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", pq.QuoteIdentifier(pkColumn)))

	stmt := fmt.Sprintf("CREATE TABLE %s.%s (%s)",
		pq.QuoteIdentifier(schema), pq.QuoteIdentifier(table), strings.Join(defs, ", "))

	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pq.QuoteIdentifier(schema))); err != nil {
		return &models.ConnectionError{Side: "target", Phase: "create-table", Table: schema + "." + table, Err: err}
	}
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return &models.ConnectionError{Side: "target", Phase: "create-table", Table: schema + "." + table, Err: err}
	}
	return nil
}

// Postgres caps a statement at 65535 bind parameters; a wide table at a
// large batch size blows past it in a single multi-row INSERT.
const maxInsertParams = 65535

func (s *PostgresStore) InsertBatchIdempotent(ctx context.Context, schema, table, pkColumn string, rows []models.Row) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	columns := rows[0].Columns()
	chunkSize := insertChunkSize(len(columns))

	var total int64
	for start := 0; start < len(rows); start += chunkSize {
		end := start + chunkSize
		if end > len(rows) {
			end = len(rows)
		}

		stmt, args, err := buildInsert(schema, table, pkColumn, columns, rows[start:end], start)
		if err != nil {
			return total, err
		}

		inserted, err := s.execInsert(ctx, schema, table, stmt, args)
		if err != nil {
			return total, err
		}
		total += inserted
	}
	return total, nil
}

func (s *PostgresStore) execInsert(ctx context.Context, schema, table, stmt string, args []any) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		if isUndefinedTable(err) {
			return 0, models.ErrTableNotFound
		}
		return 0, &models.ConnectionError{Side: "target", Phase: "insert", Table: schema + "." + table, Err: err}
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "read rows affected")
	}
	return inserted, nil
}

// insertChunkSize returns how many rows fit in one INSERT without
// exceeding the bind-parameter limit.
func insertChunkSize(columnCount int) int {
	if columnCount <= 0 {
		return 1
	}
	size := maxInsertParams / columnCount
	if size < 1 {
		return 1
	}
	return size
}

// buildInsert renders one multi-row idempotent INSERT. offset is the
// batch-relative index of the first row, used in error messages.
func buildInsert(schema, table, pkColumn string, columns []string, rows []models.Row, offset int) (string, []any, error) {
	quoted := make([]string, len(columns))
	for i, name := range columns {
		quoted[i] = pq.QuoteIdentifier(name)
	}

	var (
		placeholders strings.Builder
		args         = make([]any, 0, len(rows)*len(columns))
	)
	for i, row := range rows {
		if len(row) != len(columns) {
			return "", nil, errors.Errorf("row %d has %d fields, batch expects %d", offset+i, len(row), len(columns))
		}
		if i > 0 {
			placeholders.WriteString(", ")
		}
		placeholders.WriteString("(")
		for j, field := range row {
			if j > 0 {
				placeholders.WriteString(", ")
			}
			fmt.Fprintf(&placeholders, "$%d", i*len(columns)+j+1)
			args = append(args, field.Value)
		}
		placeholders.WriteString(")")
	}

	stmt := fmt.Sprintf("INSERT INTO %s.%s (%s) VALUES %s ON CONFLICT (%s) DO NOTHING",
		pq.QuoteIdentifier(schema), pq.QuoteIdentifier(table),
		strings.Join(quoted, ", "), placeholders.String(), pq.QuoteIdentifier(pkColumn))
	return stmt, args, nil
}

func (s *PostgresStore) CountRows(ctx context.Context, schema, table string) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf("SELECT COUNT(*) FROM %s.%s", pq.QuoteIdentifier(schema), pq.QuoteIdentifier(table))
	var count int64
	if err := s.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		if isUndefinedTable(err) {
			return 0, models.ErrTableNotFound
		}
		return 0, &models.ConnectionError{Side: "target", Phase: "count", Table: schema + "." + table, Err: err}
	}
	return count, nil
}

func (s *PostgresStore) FetchSample(ctx context.Context, schema, table string, limit int) ([]models.Row, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf("SELECT * FROM %s.%s LIMIT $1", pq.QuoteIdentifier(schema), pq.QuoteIdentifier(table))
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		if isUndefinedTable(err) {
			return nil, models.ErrTableNotFound
		}
		return nil, &models.ConnectionError{Side: "target", Phase: "sample", Table: schema + "." + table, Err: err}
	}
	defer rows.Close()

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
			return nil, errors.Wrap(err, "scan sample row")
		}
		row := make(models.Row, len(columns))
		for i, name := range columns {
			if b, ok := values[i].([]byte); ok {
				values[i] = string(b)
			}
			row[i] = models.Field{Column: name, Value: values[i]}
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.ConnectionError{Side: "target", Phase: "sample", Table: schema + "." + table, Err: err}
	}
	return result, nil
}

// undefined_table
func isUndefinedTable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "42P01"
	}
	return false
}
