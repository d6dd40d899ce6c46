// Package typemap translates source column type names into target
// column types for auto-created tables, and classifies source/target
// column pairs when the target table already exists.
package typemap

import (
	"strings"

	"github.com/merchkit/syncbridge/internal/models"
)

// Target type names emitted by the mapper.
const (
	TypeBigint    = "bigint"
	TypeInteger   = "integer"
	TypeNumeric   = "numeric"
	TypeTimestamp = "timestamptz"
	TypeBoolean   = "boolean"
	TypeText      = "text"
)

type rule struct {
	substrings []string
	target     string
}

// Rules are evaluated in priority order, first match wins. The
// matching is a deliberately coarse case-insensitive substring check;
// no precision/scale translation is attempted.
var rules = []rule{
	{[]string{"bigint"}, TypeBigint},
	{[]string{"int"}, TypeInteger},
	{[]string{"decimal", "numeric", "money"}, TypeNumeric},
	{[]string{"date", "time"}, TypeTimestamp},
	{[]string{"bit"}, TypeBoolean},
	{[]string{"char", "text", "nchar", "nvarchar"}, TypeText},
}

// Map resolves a source type name to a target type name.
func Map(sourceType string) string {
	lower := strings.ToLower(sourceType)
	for _, r := range rules {
		for _, sub := range r.substrings {
			if strings.Contains(lower, sub) {
				return r.target
			}
		}
	}
	return TypeText
}

// MapColumns translates a full source column list for table creation,
// preserving name, order and nullability.
func MapColumns(source []models.Column) []models.Column {
	mapped := make([]models.Column, len(source))
	for i, col := range source {
		mapped[i] = models.Column{
			Name:         col.Name,
			DataType:     Map(col.DataType),
			IsNullable:   col.IsNullable,
			IsPrimaryKey: col.IsPrimaryKey,
		}
	}
	return mapped
}

// Numeric reports whether a source type maps to a numeric target type,
// used when validating pk columns.
func Numeric(sourceType string) bool {
	switch Map(sourceType) {
	case TypeBigint, TypeInteger, TypeNumeric:
		return true
	}
	return false
}

// Classify compares source columns against an existing target table.
// Each source column comes back auto-mapped when the target column has
// the expected mapped type, needs-review when the names match but the
// types differ, or missing when the target has no column of that name.
// Type mismatches are advisory and never block a run.
func Classify(source, target []models.Column) []models.ColumnMapping {
	targetTypes := make(map[string]string, len(target))
	for _, col := range target {
		targetTypes[strings.ToLower(col.Name)] = strings.ToLower(col.DataType)
	}

	mappings := make([]models.ColumnMapping, 0, len(source))
	for _, col := range source {
		m := models.ColumnMapping{
			Column:     col.Name,
			SourceType: col.DataType,
		}
		targetType, ok := targetTypes[strings.ToLower(col.Name)]
		switch {
		case !ok:
			m.Status = models.MappingMissing
		case compatible(Map(col.DataType), targetType):
			m.TargetType = targetType
			m.Status = models.MappingAutoMapped
		default:
			m.TargetType = targetType
			m.Status = models.MappingNeedsReview
		}
		mappings = append(mappings, m)
	}
	return mappings
}

// compatible matches a mapped source type against the type name the
// target store reports, tolerating the usual Postgres aliases.
func compatible(mapped, targetType string) bool {
	if mapped == targetType {
		return true
	}
	switch mapped {
	case TypeBigint:
		return targetType == "int8" || targetType == "bigserial"
	case TypeInteger:
		return targetType == "int4" || targetType == "int" || targetType == "serial"
	case TypeNumeric:
		return targetType == "decimal"
	case TypeTimestamp:
		return strings.HasPrefix(targetType, "timestamp")
	case TypeBoolean:
		return targetType == "bool"
	case TypeText:
		return strings.Contains(targetType, "char") || targetType == "varchar"
	}
	return false
}
