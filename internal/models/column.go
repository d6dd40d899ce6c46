package models

// Column describes one column of a source or target table as reported
// by schema introspection.
type Column struct {
	Name         string  `json:"name" db:"name"`
	DataType     string  `json:"data_type" db:"data_type"`
	IsNullable   bool    `json:"is_nullable" db:"is_nullable"`
	IsPrimaryKey bool    `json:"is_primary_key" db:"is_primary_key"`
	IsForeignKey bool    `json:"is_foreign_key" db:"is_foreign_key"`
	Default      *string `json:"default" db:"default"`
}

// Field is one tagged value of a fetched row. Rows keep their column
// order from the source result set instead of collapsing into a map.
type Field struct {
	Column string `json:"column"`
	Value  any    `json:"value"`
}

// Row is an ordered list of tagged values for a single source row.
type Row []Field

// Value returns the value of the named column, if present.
func (r Row) Value(column string) (any, bool) {
	for _, f := range r {
		if f.Column == column {
			return f.Value, true
		}
	}
	return nil, false
}

// Columns returns the column names in row order.
func (r Row) Columns() []string {
	names := make([]string, len(r))
	for i, f := range r {
		names[i] = f.Column
	}
	return names
}

// SchemaTables groups the tables of one source schema.
type SchemaTables struct {
	Schema string   `json:"schema"`
	Tables []string `json:"tables"`
}

// TableStat is one target table with its planner row estimate.
type TableStat struct {
	Schema      string `json:"schema"`
	Name        string `json:"name"`
	RowEstimate int64  `json:"row_estimate"`
}

// Column mapping statuses produced when an existing target table is
// compared against the source schema.
const (
	MappingAutoMapped  = "auto-mapped"
	MappingNeedsReview = "needs-review"
	MappingMissing     = "missing"
)

// ColumnMapping is the classification of one source column against the
// target table.
type ColumnMapping struct {
	Column     string `json:"column"`
	SourceType string `json:"source_type"`
	TargetType string `json:"target_type,omitempty"`
	Status     string `json:"status"`
}
