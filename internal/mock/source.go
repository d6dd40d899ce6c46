// Package mock provides in-memory doubles for the source connector,
// the target store and the repositories, used across package tests.
package mock

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/merchkit/syncbridge/internal/models"
	"github.com/merchkit/syncbridge/internal/source"
)

// Source is an in-memory source.Connector. Tables are keyed by
// "schema.table"; rows are kept unsorted and ordered on fetch.
type Source struct {
	mu      sync.Mutex
	tables  map[string][]models.Row
	columns map[string][]models.Column

	// Err, when set, fails every data operation.
	Err error
	// FetchHook, when set, runs at the start of every FetchRowsAfter.
	// Tests use it to hold a run in flight.
	FetchHook func()
}

func NewSource() *Source {
	return &Source{
		tables:  map[string][]models.Row{},
		columns: map[string][]models.Column{},
	}
}

func key(schema, table string) string { return schema + "." + table }

// SetColumns registers the schema of a table.
func (s *Source) SetColumns(schema, table string, columns []models.Column) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.columns[key(schema, table)] = columns
	if _, ok := s.tables[key(schema, table)]; !ok {
		s.tables[key(schema, table)] = nil
	}
}

// AddRows appends rows to a table.
func (s *Source) AddRows(schema, table string, rows ...models.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[key(schema, table)] = append(s.tables[key(schema, table)], rows...)
}

func (s *Source) Ping(ctx context.Context) error { return s.Err }

func (s *Source) Close() error { return nil }

func (s *Source) ListSchemas(ctx context.Context) ([]models.SchemaTables, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	grouped := map[string][]string{}
	for k := range s.tables {
		parts := strings.SplitN(k, ".", 2)
		grouped[parts[0]] = append(grouped[parts[0]], parts[1])
	}
	var schemas []models.SchemaTables
	for schema, tables := range grouped {
		sort.Strings(tables)
		schemas = append(schemas, models.SchemaTables{Schema: schema, Tables: tables})
	}
	sort.Slice(schemas, func(i, j int) bool { return schemas[i].Schema < schemas[j].Schema })
	return schemas, nil
}

func (s *Source) ListColumns(ctx context.Context, schema, table string) ([]models.Column, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.columns[key(schema, table)], nil
}

func (s *Source) CountRows(ctx context.Context, schema, table string) (int64, error) {
	if s.Err != nil {
		return 0, s.Err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.tables[key(schema, table)])), nil
}

func (s *Source) MaxValue(ctx context.Context, schema, table, column string) (*int64, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var max *int64
	for _, row := range s.tables[key(schema, table)] {
		pk, err := pkInt(row, column)
		if err != nil {
			return nil, err
		}
		if max == nil || pk > *max {
			v := pk
			max = &v
		}
	}
	return max, nil
}

func (s *Source) FetchRowsAfter(ctx context.Context, schema, table, pkColumn string, watermark *int64, batchSize int) ([]models.Row, error) {
	if s.FetchHook != nil {
		s.FetchHook()
	}
	if s.Err != nil {
		return nil, s.Err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []models.Row
	for _, row := range s.tables[key(schema, table)] {
		pk, err := pkInt(row, pkColumn)
		if err != nil {
			return nil, err
		}
		if watermark == nil || pk > *watermark {
			matched = append(matched, row)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		a, _ := pkInt(matched[i], pkColumn)
		b, _ := pkInt(matched[j], pkColumn)
		return a < b
	})
	if len(matched) > batchSize {
		matched = matched[:batchSize]
	}
	return matched, nil
}

func (s *Source) FetchLatest(ctx context.Context, schema, table string, limit int) ([]models.Row, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.tables[key(schema, table)]
	if len(rows) > limit {
		rows = rows[len(rows)-limit:]
	}
	reversed := make([]models.Row, len(rows))
	for i, row := range rows {
		reversed[len(rows)-1-i] = row
	}
	return reversed, nil
}

// Factory hands out the same connector for every database; it
// satisfies the connector factory interfaces of the registry, the
// engine and the orchestrator.
type Factory struct {
	Conn *Source
	Err  error
}

func (f *Factory) ForDatabase(database string) (source.Connector, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Conn, nil
}
