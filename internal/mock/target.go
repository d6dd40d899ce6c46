package mock

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/merchkit/syncbridge/internal/models"
)

type memTable struct {
	columns  []models.Column
	pkColumn string
	rows     map[int64]models.Row
}

// Target is an in-memory target.Store with pk-keyed tables and
// injectable insert failures.
type Target struct {
	mu     sync.Mutex
	tables map[string]*memTable

	// FailInsertAt fails the Nth InsertBatchIdempotent call (1-based)
	// and every call after it until reset to 0.
	FailInsertAt int
	insertCalls  int

	// Err, when set, fails every operation.
	Err error
}

func NewTarget() *Target {
	return &Target{tables: map[string]*memTable{}}
}

// CreateTable provisions an empty table directly, bypassing the
// CreateTableFromColumns path.
func (t *Target) CreateTable(schema, table, pkColumn string, columns []models.Column) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tables[key(schema, table)] = &memTable{
		columns:  columns,
		pkColumn: pkColumn,
		rows:     map[int64]models.Row{},
	}
}

// PKs returns the sorted pk values currently present in a table.
func (t *Target) PKs(schema, table string) []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	tbl := t.tables[key(schema, table)]
	if tbl == nil {
		return nil
	}
	pks := make([]int64, 0, len(tbl.rows))
	for pk := range tbl.rows {
		pks = append(pks, pk)
	}
	sort.Slice(pks, func(i, j int) bool { return pks[i] < pks[j] })
	return pks
}

// InsertCalls reports how many batches were attempted.
func (t *Target) InsertCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.insertCalls
}

func (t *Target) ListTables(ctx context.Context) ([]models.TableStat, error) {
	if t.Err != nil {
		return nil, t.Err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	var stats []models.TableStat
	for k, tbl := range t.tables {
		schema, name := splitKey(k)
		stats = append(stats, models.TableStat{Schema: schema, Name: name, RowEstimate: int64(len(tbl.rows))})
	}
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].Schema+stats[i].Name < stats[j].Schema+stats[j].Name
	})
	return stats, nil
}

func (t *Target) GetTableSchema(ctx context.Context, schema, table string) ([]models.Column, error) {
	if t.Err != nil {
		return nil, t.Err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	tbl := t.tables[key(schema, table)]
	if tbl == nil {
		return nil, models.ErrTableNotFound
	}
	return tbl.columns, nil
}

func (t *Target) MaxValue(ctx context.Context, schema, table, column string) (*int64, error) {
	if t.Err != nil {
		return nil, t.Err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	tbl := t.tables[key(schema, table)]
	if tbl == nil {
		return nil, models.ErrTableNotFound
	}
	var max *int64
	for pk := range tbl.rows {
		if max == nil || pk > *max {
			v := pk
			max = &v
		}
	}
	return max, nil
}

func (t *Target) CreateTableFromColumns(ctx context.Context, schema, table string, columns []models.Column, pkColumn string) error {
	if t.Err != nil {
		return t.Err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tables[key(schema, table)] = &memTable{
		columns:  columns,
		pkColumn: pkColumn,
		rows:     map[int64]models.Row{},
	}
	return nil
}

func (t *Target) InsertBatchIdempotent(ctx context.Context, schema, table, pkColumn string, rows []models.Row) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.insertCalls++
	if t.Err != nil {
		return 0, t.Err
	}
	if t.FailInsertAt > 0 && t.insertCalls >= t.FailInsertAt {
		return 0, &models.ConnectionError{Side: "target", Phase: "insert", Table: schema + "." + table,
			Err: context.DeadlineExceeded}
	}

	tbl := t.tables[key(schema, table)]
	if tbl == nil {
		return 0, models.ErrTableNotFound
	}

	var inserted int64
	for _, row := range rows {
		pk, err := pkInt(row, pkColumn)
		if err != nil {
			return inserted, err
		}
		if _, exists := tbl.rows[pk]; exists {
			continue
		}
		tbl.rows[pk] = row
		inserted++
	}
	return inserted, nil
}

func (t *Target) CountRows(ctx context.Context, schema, table string) (int64, error) {
	if t.Err != nil {
		return 0, t.Err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	tbl := t.tables[key(schema, table)]
	if tbl == nil {
		return 0, models.ErrTableNotFound
	}
	return int64(len(tbl.rows)), nil
}

func (t *Target) FetchSample(ctx context.Context, schema, table string, limit int) ([]models.Row, error) {
	if t.Err != nil {
		return nil, t.Err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	tbl := t.tables[key(schema, table)]
	if tbl == nil {
		return nil, models.ErrTableNotFound
	}
	var rows []models.Row
	for _, row := range tbl.rows {
		if len(rows) == limit {
			break
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func splitKey(k string) (string, string) {
	for i := 0; i < len(k); i++ {
		if k[i] == '.' {
			return k[:i], k[i+1:]
		}
	}
	return "", k
}

func pkInt(row models.Row, pkColumn string) (int64, error) {
	raw, ok := row.Value(pkColumn)
	if !ok {
		return 0, models.NewConfigError("pk column %s not present in row", pkColumn)
	}
	switch v := raw.(type) {
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, models.NewConfigError("pk column %s has non-numeric value %v", pkColumn, raw)
	}
}
