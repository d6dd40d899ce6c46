// Package jobs runs one-off full-table clones as asynchronous jobs.
// A job is persisted queued, handed to a background goroutine, and
// observed by polling its stored snapshot; there are no push
// notifications to the polling client.
package jobs

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/merchkit/syncbridge/internal/models"
	"github.com/merchkit/syncbridge/internal/notification"
	"github.com/merchkit/syncbridge/internal/repository"
	"github.com/merchkit/syncbridge/internal/source"
	"github.com/merchkit/syncbridge/internal/target"
	"github.com/merchkit/syncbridge/internal/typemap"
)

// ConnectorFactory opens source connectors per job database.
type ConnectorFactory interface {
	ForDatabase(database string) (source.Connector, error)
}

// StartRequest describes one requested full-table clone.
type StartRequest struct {
	SourceDatabase string `json:"source_database"`
	SourceSchema   string `json:"source_schema"`
	SourceTable    string `json:"source_table"`
	TargetSchema   string `json:"target_schema"`
	TargetTable    string `json:"target_table"`
	PKColumn       string `json:"pk_column"`
	Mode           string `json:"mode"`
}

type Orchestrator struct {
	repo      repository.JobRepository
	sources   ConnectorFactory
	target    target.Store
	notifier  notification.Service
	logger    zerolog.Logger
	batchSize int
	wg        sync.WaitGroup
}

func New(repo repository.JobRepository, sources ConnectorFactory, store target.Store, notifier notification.Service, logger zerolog.Logger, batchSize int) *Orchestrator {
	if batchSize <= 0 {
		batchSize = 5000
	}
	return &Orchestrator{
		repo:      repo,
		sources:   sources,
		target:    store,
		notifier:  notifier,
		logger:    logger.With().Str("component", "job_orchestrator").Logger(),
		batchSize: batchSize,
	}
}

// StartJob validates the request, persists the job queued, and hands
// it to a background goroutine. The job id returns synchronously so
// the caller can start polling; job duration is decoupled from any
// HTTP deadline.
func (o *Orchestrator) StartJob(ctx context.Context, req StartRequest) (models.MigrationJob, error) {
	if req.Mode == "" {
		req.Mode = models.JobModeExisting
	}
	if req.Mode != models.JobModeNewTable && req.Mode != models.JobModeExisting {
		return models.MigrationJob{}, models.NewConfigError("mode must be %q or %q", models.JobModeNewTable, models.JobModeExisting)
	}
	if req.SourceSchema == "" || req.SourceTable == "" {
		return models.MigrationJob{}, models.NewConfigError("source schema and table are required")
	}
	if req.TargetSchema == "" || req.TargetTable == "" {
		return models.MigrationJob{}, models.NewConfigError("target schema and table are required")
	}

	if strings.TrimSpace(req.PKColumn) == "" {
		pk, err := o.detectPKColumn(ctx, req)
		if err != nil {
			return models.MigrationJob{}, err
		}
		req.PKColumn = pk
	}

	job := models.MigrationJob{
		ID:             uuid.NewString(),
		SourceDatabase: req.SourceDatabase,
		SourceSchema:   req.SourceSchema,
		SourceTable:    req.SourceTable,
		TargetSchema:   req.TargetSchema,
		TargetTable:    req.TargetTable,
		PKColumn:       req.PKColumn,
		Mode:           req.Mode,
	}
	job, err := o.repo.Create(ctx, job)
	if err != nil {
		return models.MigrationJob{}, err
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		// Detached from the request context: the clone outlives the
		// HTTP call that started it. Connector calls carry their own
		// bounded timeouts.
		o.run(context.Background(), job)
	}()

	return job, nil
}

// GetStatus is a side-effect-free snapshot read for polling clients.
func (o *Orchestrator) GetStatus(ctx context.Context, jobID string) (models.MigrationJob, error) {
	return o.repo.Get(ctx, jobID)
}

func (o *Orchestrator) ListJobs(ctx context.Context, limit, offset int) ([]models.MigrationJob, error) {
	return o.repo.List(ctx, limit, offset)
}

// Wait blocks until all background runs finish. Used on shutdown.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) run(ctx context.Context, job models.MigrationJob) {
	logger := o.logger.With().
		Str("job_id", job.ID).
		Str("source", job.SourceRef()).
		Str("target", job.TargetRef()).
		Str("mode", job.Mode).
		Logger()
	logger.Info().Msg("migration job started")

	if err := o.execute(ctx, job, logger); err != nil {
		logger.Error().Err(err).Msg("migration job failed")
		if markErr := o.repo.MarkError(ctx, job.ID, err.Error()); markErr != nil {
			logger.Error().Err(markErr).Msg("failed to mark job as error")
		}
	} else {
		logger.Info().Msg("migration job succeeded")
	}

	o.notifyFinished(ctx, job.ID, logger)
}

func (o *Orchestrator) execute(ctx context.Context, job models.MigrationJob, logger zerolog.Logger) error {
	conn, err := o.sources.ForDatabase(job.SourceDatabase)
	if err != nil {
		return errors.Wrap(err, "open source connection")
	}
	defer conn.Close()

	sourceCount, err := conn.CountRows(ctx, job.SourceSchema, job.SourceTable)
	if err != nil {
		return err
	}

	var targetBefore int64
	if job.Mode == models.JobModeExisting {
		targetBefore, err = o.target.CountRows(ctx, job.TargetSchema, job.TargetTable)
		if err != nil {
			if errors.Is(err, models.ErrTableNotFound) {
				return models.NewConfigError("target table %s does not exist; use new-table mode to create it", job.TargetRef())
			}
			return err
		}
	}

	if err := o.repo.MarkRunning(ctx, job.ID, sourceCount, targetBefore); err != nil {
		return err
	}

	if job.Mode == models.JobModeNewTable {
		if err := o.createTargetTable(ctx, conn, job); err != nil {
			return err
		}
		logger.Info().Msg("created target table from source schema")
	}

	var (
		watermark    *int64
		rowsInserted int64
		batches      int64
	)
	for {
		batch, err := conn.FetchRowsAfter(ctx, job.SourceSchema, job.SourceTable, job.PKColumn, watermark, o.batchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			break
		}

		inserted, err := o.target.InsertBatchIdempotent(ctx, job.TargetSchema, job.TargetTable, job.PKColumn, batch)
		if err != nil {
			return err
		}
		rowsInserted += inserted
		batches++
		if err := o.repo.UpdateProgress(ctx, job.ID, rowsInserted, batches); err != nil {
			return err
		}

		last, err := watermarkOf(batch[len(batch)-1], job.PKColumn)
		if err != nil {
			return err
		}
		watermark = &last

		if len(batch) < o.batchSize {
			break
		}
	}

	targetAfter, err := o.target.CountRows(ctx, job.TargetSchema, job.TargetTable)
	if err != nil {
		return err
	}
	return o.repo.MarkSuccess(ctx, job.ID, targetAfter)
}

func (o *Orchestrator) createTargetTable(ctx context.Context, conn source.Connector, job models.MigrationJob) error {
	columns, err := conn.ListColumns(ctx, job.SourceSchema, job.SourceTable)
	if err != nil {
		return err
	}
	if len(columns) == 0 {
		return models.NewConfigError("source table %s does not exist or has no columns", job.SourceRef())
	}

	found := false
	for _, col := range columns {
		if strings.EqualFold(col.Name, job.PKColumn) {
			found = true
			break
		}
	}
	if !found {
		return models.NewConfigError("pk column %s not present in source table %s", job.PKColumn, job.SourceRef())
	}

	return o.target.CreateTableFromColumns(ctx, job.TargetSchema, job.TargetTable, typemap.MapColumns(columns), job.PKColumn)
}

func (o *Orchestrator) detectPKColumn(ctx context.Context, req StartRequest) (string, error) {
	conn, err := o.sources.ForDatabase(req.SourceDatabase)
	if err != nil {
		return "", errors.Wrap(err, "open source connection")
	}
	defer conn.Close()

	columns, err := conn.ListColumns(ctx, req.SourceSchema, req.SourceTable)
	if err != nil {
		return "", err
	}
	var pkCols []models.Column
	for _, col := range columns {
		if col.IsPrimaryKey {
			pkCols = append(pkCols, col)
		}
	}
	if len(pkCols) != 1 {
		return "", models.NewConfigError("source table %s.%s needs a single-column primary key or an explicit pk_column",
			req.SourceSchema, req.SourceTable)
	}
	if !typemap.Numeric(pkCols[0].DataType) {
		return "", models.NewConfigError("primary key %s of %s.%s is %s; a numeric column is required",
			pkCols[0].Name, req.SourceSchema, req.SourceTable, pkCols[0].DataType)
	}
	return pkCols[0].Name, nil
}

func (o *Orchestrator) notifyFinished(ctx context.Context, jobID string, logger zerolog.Logger) {
	if o.notifier == nil {
		return
	}
	job, err := o.repo.Get(ctx, jobID)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to load job for notification")
		return
	}
	if err := o.notifier.NotifyMigrationFinished(ctx, job); err != nil {
		logger.Warn().Err(err).Msg("failed to publish job notification")
	}
}

// watermarkOf extracts the pk value of the last row of a batch.
func watermarkOf(row models.Row, pkColumn string) (int64, error) {
	raw, ok := row.Value(pkColumn)
	if !ok {
		return 0, models.NewConfigError("pk column %s not present in fetched rows", pkColumn)
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
	case []byte:
		return parseWatermark(string(v), pkColumn)
	case string:
		return parseWatermark(v, pkColumn)
	default:
		return 0, models.NewConfigError("pk column %s has non-numeric value %v", pkColumn, raw)
	}
}

func parseWatermark(s, pkColumn string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, models.NewConfigError("pk column %s has non-numeric value %s", pkColumn, s)
	}
	return v, nil
}
