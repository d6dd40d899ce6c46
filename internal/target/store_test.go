package target

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merchkit/syncbridge/internal/models"
)

func TestInsertChunkSize(t *testing.T) {
	tests := []struct {
		columns int
		want    int
	}{
		{1, 65535},
		{2, 32767},
		{13, 5041},
		{14, 4681}, // 14 columns at batch size 5000 needs two statements
		{100, 655},
		{0, 1},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d columns", tt.columns), func(t *testing.T) {
			got := insertChunkSize(tt.columns)
			assert.Equal(t, tt.want, got)
			if tt.columns > 0 {
				assert.LessOrEqual(t, got*tt.columns, maxInsertParams)
			}
		})
	}
}

func TestBuildInsertPlaceholders(t *testing.T) {
	rows := []models.Row{
		{{Column: "id", Value: int64(1)}, {Column: "name", Value: "a"}},
		{{Column: "id", Value: int64(2)}, {Column: "name", Value: "b"}},
	}

	stmt, args, err := buildInsert("public", "orders", "id", []string{"id", "name"}, rows, 0)
	require.NoError(t, err)

	assert.Equal(t,
		`INSERT INTO "public"."orders" ("id", "name") VALUES ($1, $2), ($3, $4) ON CONFLICT ("id") DO NOTHING`,
		stmt)
	assert.Equal(t, []any{int64(1), "a", int64(2), "b"}, args)
}

func TestBuildInsertRejectsRaggedRows(t *testing.T) {
	rows := []models.Row{
		{{Column: "id", Value: int64(1)}, {Column: "name", Value: "a"}},
		{{Column: "id", Value: int64(2)}},
	}

	_, _, err := buildInsert("public", "orders", "id", []string{"id", "name"}, rows, 40)
	require.Error(t, err)
	// the reported index is batch-relative, not chunk-relative
	assert.Contains(t, err.Error(), "row 41")
}

func TestWideBatchStaysUnderParameterLimit(t *testing.T) {
	// 5000 rows of 14 columns is 70000 values; a single statement would
	// be rejected by the server.
	const columnCount = 14
	columns := make([]string, columnCount)
	for i := range columns {
		columns[i] = fmt.Sprintf("col_%d", i)
	}

	rowCount := 5000
	chunk := insertChunkSize(columnCount)
	require.Less(t, chunk, rowCount)

	for start := 0; start < rowCount; start += chunk {
		end := start + chunk
		if end > rowCount {
			end = rowCount
		}
		rows := make([]models.Row, 0, end-start)
		for i := start; i < end; i++ {
			row := make(models.Row, columnCount)
			for j := 0; j < columnCount; j++ {
				row[j] = models.Field{Column: columns[j], Value: int64(i)}
			}
			rows = append(rows, row)
		}

		_, args, err := buildInsert("public", "wide", "col_0", columns, rows, start)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(args), maxInsertParams)
	}
}
