// Package registry owns worker definitions: validation on upsert,
// pk-column auto-detection, and the telemetry write path.
package registry

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/merchkit/syncbridge/internal/models"
	"github.com/merchkit/syncbridge/internal/repository"
	"github.com/merchkit/syncbridge/internal/source"
	"github.com/merchkit/syncbridge/internal/typemap"
)

// ConnectorFactory narrows source.Factory to what the registry needs;
// tests plug in fakes here.
type ConnectorFactory interface {
	ForDatabase(database string) (source.Connector, error)
}

type Registry struct {
	repo    repository.WorkerRepository
	sources ConnectorFactory
	logger  zerolog.Logger
}

func New(repo repository.WorkerRepository, sources ConnectorFactory, logger zerolog.Logger) *Registry {
	return &Registry{
		repo:    repo,
		sources: sources,
		logger:  logger.With().Str("component", "registry").Logger(),
	}
}

// Upsert validates and persists a worker definition. A zero ID inserts
// a fresh worker; a non-zero ID updates the existing one. When
// pk_column is omitted, a single-column numeric primary key is
// auto-detected from the source table.
func (r *Registry) Upsert(ctx context.Context, def models.WorkerDefinition) (models.WorkerDefinition, error) {
	if def.SourceSchema == "" || def.SourceTable == "" {
		return def, models.NewConfigError("source schema and table are required")
	}
	if def.TargetSchema == "" || def.TargetTable == "" {
		return def, models.NewConfigError("target schema and table are required")
	}
	if def.IntervalSeconds <= 0 {
		return def, models.NewConfigError("interval_seconds must be a positive integer")
	}

	if strings.TrimSpace(def.PKColumn) == "" {
		pk, err := r.detectPKColumn(ctx, def)
		if err != nil {
			return def, err
		}
		def.PKColumn = pk
		r.logger.Info().
			Str("source", def.SourceRef()).
			Str("pk_column", pk).
			Msg("auto-detected pk column")
	}

	return r.repo.Upsert(ctx, def)
}

func (r *Registry) Get(ctx context.Context, id int64) (models.WorkerDefinition, error) {
	return r.repo.Get(ctx, id)
}

func (r *Registry) List(ctx context.Context) ([]models.WorkerDefinition, error) {
	return r.repo.List(ctx)
}

// RecordRunResult atomically writes the telemetry of one finished run.
func (r *Registry) RecordRunResult(ctx context.Context, id int64, result models.RunResult) error {
	return r.repo.RecordRunResult(ctx, id, result)
}

// detectPKColumn asks the source for the table's primary key and
// accepts it only when it is a single numeric column. The target-side
// check is deferred to the first run, where a missing target table
// shows up as a configuration error.
func (r *Registry) detectPKColumn(ctx context.Context, def models.WorkerDefinition) (string, error) {
	conn, err := r.sources.ForDatabase(def.SourceDatabase)
	if err != nil {
		return "", errors.Wrap(err, "open source connection")
	}
	defer conn.Close()

	columns, err := conn.ListColumns(ctx, def.SourceSchema, def.SourceTable)
	if err != nil {
		return "", err
	}
	if len(columns) == 0 {
		return "", models.NewConfigError("source table %s does not exist or has no columns", def.SourceRef())
	}

	var pkCols []models.Column
	for _, col := range columns {
		if col.IsPrimaryKey {
			pkCols = append(pkCols, col)
		}
	}
	switch {
	case len(pkCols) == 0:
		return "", models.NewConfigError("source table %s has no primary key; set pk_column explicitly", def.SourceRef())
	case len(pkCols) > 1:
		return "", models.NewConfigError("source table %s has a composite primary key; a single numeric pk_column is required", def.SourceRef())
	case !typemap.Numeric(pkCols[0].DataType):
		return "", models.NewConfigError("primary key %s of %s is %s; a numeric column is required",
			pkCols[0].Name, def.SourceRef(), pkCols[0].DataType)
	}
	return pkCols[0].Name, nil
}
