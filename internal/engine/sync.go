// Package engine implements the incremental catch-up pass: read the
// target watermark, pull source rows above it in ordered batches, and
// write them idempotently. The pass is append-only; source-side updates
// and deletes are not propagated.
package engine

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/merchkit/syncbridge/internal/models"
	"github.com/merchkit/syncbridge/internal/notification"
	"github.com/merchkit/syncbridge/internal/source"
	"github.com/merchkit/syncbridge/internal/target"
)

// DefaultBatchSize bounds one fetch/insert unit.
const DefaultBatchSize = 5000

// ConnectorFactory opens source connectors per worker database.
type ConnectorFactory interface {
	ForDatabase(database string) (source.Connector, error)
}

// ResultRecorder persists the telemetry of one finished run. The
// worker registry implements it.
type ResultRecorder interface {
	RecordRunResult(ctx context.Context, id int64, result models.RunResult) error
}

type Engine struct {
	sources   ConnectorFactory
	target    target.Store
	recorder  ResultRecorder
	notifier  notification.Service
	logger    zerolog.Logger
	batchSize int
	guard     *flightGuard
	now       func() time.Time
}

func New(sources ConnectorFactory, store target.Store, recorder ResultRecorder, notifier notification.Service, logger zerolog.Logger, batchSize int) *Engine {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Engine{
		sources:   sources,
		target:    store,
		recorder:  recorder,
		notifier:  notifier,
		logger:    logger.With().Str("component", "sync_engine").Logger(),
		batchSize: batchSize,
		guard:     newFlightGuard(),
		now:       time.Now,
	}
}

// InFlight reports whether a run for the worker is currently active.
func (e *Engine) InFlight(id int64) bool {
	return e.guard.inFlight(id)
}

// RunOnce performs one incremental catch-up pass for the worker. A
// concurrent call for the same worker id returns ErrRunInProgress
// immediately. The pass always runs to completion once started; errors
// abort the batch loop, are recorded on the worker, and leave already
// committed batches in place for the next run to skip over.
func (e *Engine) RunOnce(ctx context.Context, def models.WorkerDefinition) (models.RunResult, error) {
	if !e.guard.tryAcquire(def.ID) {
		return models.RunResult{}, models.ErrRunInProgress
	}
	defer e.guard.release(def.ID)

	logger := e.logger.With().
		Int64("worker_id", def.ID).
		Str("source", def.SourceRef()).
		Str("target", def.TargetRef()).
		Logger()

	result := models.RunResult{StartedAt: e.now(), Status: models.RunStatusOK}
	logger.Info().Msg("sync run started")

	err := e.runPass(ctx, def, &result)
	result.FinishedAt = e.now()
	if err != nil {
		result.Status = models.RunStatusError
		result.Error = err.Error()
		logger.Error().Err(err).Msg("sync run failed")
	} else {
		logger.Info().
			Int64("inserted", result.InsertedCount).
			Msg("sync run finished")
	}

	if recErr := e.recorder.RecordRunResult(ctx, def.ID, result); recErr != nil {
		logger.Error().Err(recErr).Msg("failed to record run result")
		if err == nil {
			err = recErr
		}
	}

	e.notify(ctx, def, result)
	return result, err
}

func (e *Engine) runPass(ctx context.Context, def models.WorkerDefinition, result *models.RunResult) error {
	conn, err := e.sources.ForDatabase(def.SourceDatabase)
	if err != nil {
		return errors.Wrap(err, "open source connection")
	}
	defer conn.Close()

	sourceCount, err := conn.CountRows(ctx, def.SourceSchema, def.SourceTable)
	if err != nil {
		return err
	}
	result.SourceRowCount = sourceCount

	sourceMax, err := conn.MaxValue(ctx, def.SourceSchema, def.SourceTable, def.PKColumn)
	if err != nil {
		return err
	}
	result.MaxPKSource = sourceMax

	// Watermark read. A missing target table is a configuration error:
	// incremental workers require pre-provisioned targets, auto-creation
	// is reserved for new-table migration jobs.
	watermark, err := e.target.MaxValue(ctx, def.TargetSchema, def.TargetTable, def.PKColumn)
	if err != nil {
		if errors.Is(err, models.ErrTableNotFound) {
			return models.NewConfigError("target table %s does not exist; create it or run a new-table migration first", def.TargetRef())
		}
		return err
	}
	result.MaxPKTarget = watermark

	var totalInserted int64
	for {
		batch, err := conn.FetchRowsAfter(ctx, def.SourceSchema, def.SourceTable, def.PKColumn, watermark, e.batchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			break
		}

		inserted, err := e.target.InsertBatchIdempotent(ctx, def.TargetSchema, def.TargetTable, def.PKColumn, batch)
		if err != nil {
			return err
		}
		totalInserted += inserted
		result.InsertedCount = totalInserted

		last, err := pkValue(batch[len(batch)-1], def.PKColumn)
		if err != nil {
			return err
		}
		watermark = &last
		result.MaxPKTarget = watermark

		// A short batch means the source is exhausted.
		if len(batch) < e.batchSize {
			break
		}
	}

	targetCount, err := e.target.CountRows(ctx, def.TargetSchema, def.TargetTable)
	if err != nil {
		return err
	}
	result.TargetRowCount = targetCount
	return nil
}

func (e *Engine) notify(ctx context.Context, def models.WorkerDefinition, result models.RunResult) {
	if e.notifier == nil {
		return
	}
	var err error
	switch {
	case result.Status == models.RunStatusOK && def.NotifyOnSuccess:
		err = e.notifier.NotifySyncSucceeded(ctx, def, result)
	case result.Status == models.RunStatusError && def.NotifyOnError:
		err = e.notifier.NotifySyncFailed(ctx, def, result.Error)
	default:
		return
	}
	if err != nil {
		e.logger.Warn().Err(err).Int64("worker_id", def.ID).Msg("failed to publish run notification")
	}
}

// pkValue extracts the numeric watermark value of a row.
func pkValue(row models.Row, pkColumn string) (int64, error) {
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
	case uint64:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case []byte:
		return parsePK(string(v), pkColumn)
	case string:
		return parsePK(v, pkColumn)
	default:
		return 0, models.NewConfigError("pk column %s has non-numeric value %v", pkColumn, raw)
	}
}

func parsePK(s, pkColumn string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, models.NewConfigError("pk column %s has non-numeric value %s", pkColumn, s)
	}
	return v, nil
}
