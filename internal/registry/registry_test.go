package registry

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merchkit/syncbridge/internal/mock"
	"github.com/merchkit/syncbridge/internal/models"
)

func validDefinition() models.WorkerDefinition {
	return models.WorkerDefinition{
		SourceDatabase:  "shop",
		SourceSchema:    "dbo",
		SourceTable:     "orders",
		TargetSchema:    "public",
		TargetTable:     "orders",
		PKColumn:        "id",
		Enabled:         true,
		IntervalSeconds: 60,
	}
}

func newRegistry(t *testing.T, src *mock.Source) (*Registry, *mock.WorkerRepo) {
	t.Helper()
	repo := mock.NewWorkerRepo()
	return New(repo, &mock.Factory{Conn: src}, zerolog.Nop()), repo
}

func TestUpsertInsertsAndUpdates(t *testing.T) {
	reg, _ := newRegistry(t, mock.NewSource())

	def, err := reg.Upsert(context.Background(), validDefinition())
	require.NoError(t, err)
	assert.Equal(t, int64(1), def.ID)
	assert.Equal(t, models.RunStatusNone, def.LastRunStatus)

	def.IntervalSeconds = 120
	updated, err := reg.Upsert(context.Background(), def)
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.ID)
	assert.Equal(t, int64(120), updated.IntervalSeconds)
}

func TestUpsertValidation(t *testing.T) {
	reg, _ := newRegistry(t, mock.NewSource())

	tests := []struct {
		name   string
		mutate func(*models.WorkerDefinition)
	}{
		{"missing source table", func(d *models.WorkerDefinition) { d.SourceTable = "" }},
		{"missing source schema", func(d *models.WorkerDefinition) { d.SourceSchema = "" }},
		{"missing target table", func(d *models.WorkerDefinition) { d.TargetTable = "" }},
		{"zero interval", func(d *models.WorkerDefinition) { d.IntervalSeconds = 0 }},
		{"negative interval", func(d *models.WorkerDefinition) { d.IntervalSeconds = -5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := validDefinition()
			tt.mutate(&def)
			_, err := reg.Upsert(context.Background(), def)
			var cfgErr *models.ConfigError
			assert.ErrorAs(t, err, &cfgErr)
		})
	}
}

func TestUpsertAutoDetectsPKColumn(t *testing.T) {
	src := mock.NewSource()
	src.SetColumns("dbo", "orders", []models.Column{
		{Name: "OrderID", DataType: "bigint", IsPrimaryKey: true},
		{Name: "Total", DataType: "decimal"},
	})
	reg, _ := newRegistry(t, src)

	def := validDefinition()
	def.PKColumn = ""
	saved, err := reg.Upsert(context.Background(), def)
	require.NoError(t, err)
	assert.Equal(t, "OrderID", saved.PKColumn)
}

func TestUpsertRejectsMissingSourceTable(t *testing.T) {
	reg, _ := newRegistry(t, mock.NewSource())

	def := validDefinition()
	def.PKColumn = ""
	_, err := reg.Upsert(context.Background(), def)
	var cfgErr *models.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Reason, "dbo.orders")
}

func TestUpsertRejectsUnsuitablePrimaryKeys(t *testing.T) {
	tests := []struct {
		name    string
		columns []models.Column
		want    string
	}{
		{
			"no primary key",
			[]models.Column{{Name: "id", DataType: "bigint"}},
			"no primary key",
		},
		{
			"composite primary key",
			[]models.Column{
				{Name: "tenant_id", DataType: "int", IsPrimaryKey: true},
				{Name: "id", DataType: "int", IsPrimaryKey: true},
			},
			"composite",
		},
		{
			"non-numeric primary key",
			[]models.Column{{Name: "code", DataType: "varchar", IsPrimaryKey: true}},
			"numeric",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := mock.NewSource()
			src.SetColumns("dbo", "orders", tt.columns)
			reg, _ := newRegistry(t, src)

			def := validDefinition()
			def.PKColumn = ""
			_, err := reg.Upsert(context.Background(), def)
			var cfgErr *models.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Contains(t, cfgErr.Reason, tt.want)
		})
	}
}

func TestUpsertKeepsExplicitPKColumn(t *testing.T) {
	// an explicit pk_column skips source introspection entirely
	src := mock.NewSource()
	src.Err = assert.AnError
	reg, _ := newRegistry(t, src)

	saved, err := reg.Upsert(context.Background(), validDefinition())
	require.NoError(t, err)
	assert.Equal(t, "id", saved.PKColumn)
}

func TestGetAndList(t *testing.T) {
	reg, _ := newRegistry(t, mock.NewSource())

	first, err := reg.Upsert(context.Background(), validDefinition())
	require.NoError(t, err)

	second := validDefinition()
	second.TargetTable = "orders_copy"
	_, err = reg.Upsert(context.Background(), second)
	require.NoError(t, err)

	got, err := reg.Get(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	_, err = reg.Get(context.Background(), 99)
	assert.ErrorIs(t, err, models.ErrWorkerNotFound)

	all, err := reg.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestRecordRunResult(t *testing.T) {
	reg, repo := newRegistry(t, mock.NewSource())

	def, err := reg.Upsert(context.Background(), validDefinition())
	require.NoError(t, err)

	max := int64(42)
	result := models.RunResult{
		Status:         models.RunStatusOK,
		SourceRowCount: 42,
		TargetRowCount: 42,
		InsertedCount:  7,
		MaxPKSource:    &max,
		MaxPKTarget:    &max,
	}
	require.NoError(t, reg.RecordRunResult(context.Background(), def.ID, result))

	stored, err := repo.Get(context.Background(), def.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusOK, stored.LastRunStatus)
	require.NotNil(t, stored.LastMaxPKTarget)
	assert.Equal(t, int64(42), *stored.LastMaxPKTarget)
}
