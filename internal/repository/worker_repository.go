package repository

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/merchkit/syncbridge/internal/models"
)

type WorkerRepository interface {
	// Upsert inserts the definition when ID is zero, otherwise updates
	// the configuration fields of the existing row. Telemetry is never
	// touched here.
	Upsert(ctx context.Context, def models.WorkerDefinition) (models.WorkerDefinition, error)
	Get(ctx context.Context, id int64) (models.WorkerDefinition, error)
	List(ctx context.Context) ([]models.WorkerDefinition, error)
	// RecordRunResult atomically writes the telemetry of one finished run.
	RecordRunResult(ctx context.Context, id int64, result models.RunResult) error
}

type workerRepository struct {
	db *sql.DB
}

func NewWorkerRepository(db *sql.DB) WorkerRepository {
	return &workerRepository{db: db}
}

const workerColumns = `
	id, source_database, source_schema, source_table, target_schema, target_table,
	pk_column, enabled, interval_seconds, notify_on_success, notify_on_error,
	last_run_started_at, last_run_finished_at, last_run_status, last_error,
	last_source_row_count, last_target_row_count, last_inserted_count,
	last_max_pk_source, last_max_pk_target, created_at, updated_at`

func (r *workerRepository) Upsert(ctx context.Context, def models.WorkerDefinition) (models.WorkerDefinition, error) {
	if def.ID == 0 {
		const query = `
			INSERT INTO sync.workers (
				source_database, source_schema, source_table, target_schema, target_table,
				pk_column, enabled, interval_seconds, notify_on_success, notify_on_error
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING id, last_run_status, created_at, updated_at`
		err := r.db.QueryRowContext(ctx, query,
			def.SourceDatabase, def.SourceSchema, def.SourceTable,
			def.TargetSchema, def.TargetTable, def.PKColumn,
			def.Enabled, def.IntervalSeconds, def.NotifyOnSuccess, def.NotifyOnError,
		).Scan(&def.ID, &def.LastRunStatus, &def.CreatedAt, &def.UpdatedAt)
		if err != nil {
			return def, errors.Wrap(err, "insert worker")
		}
		return def, nil
	}

	const query = `
		UPDATE sync.workers
		SET source_database = $1, source_schema = $2, source_table = $3,
		    target_schema = $4, target_table = $5, pk_column = $6,
		    enabled = $7, interval_seconds = $8,
		    notify_on_success = $9, notify_on_error = $10,
		    updated_at = NOW()
		WHERE id = $11`
	res, err := r.db.ExecContext(ctx, query,
		def.SourceDatabase, def.SourceSchema, def.SourceTable,
		def.TargetSchema, def.TargetTable, def.PKColumn,
		def.Enabled, def.IntervalSeconds, def.NotifyOnSuccess, def.NotifyOnError,
		def.ID)
	if err != nil {
		return def, errors.Wrap(err, "update worker")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return def, errors.Wrap(err, "read rows affected")
	}
	if affected == 0 {
		return def, models.ErrWorkerNotFound
	}
	return r.Get(ctx, def.ID)
}

func (r *workerRepository) Get(ctx context.Context, id int64) (models.WorkerDefinition, error) {
	query := `SELECT ` + workerColumns + ` FROM sync.workers WHERE id = $1`
	def, err := scanWorker(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return def, models.ErrWorkerNotFound
		}
		return def, errors.Wrap(err, "get worker")
	}
	return def, nil
}

func (r *workerRepository) List(ctx context.Context) ([]models.WorkerDefinition, error) {
	query := `SELECT ` + workerColumns + ` FROM sync.workers ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "list workers")
	}
	defer rows.Close()

	var definitions []models.WorkerDefinition
	for rows.Next() {
		def, err := scanWorker(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan worker")
		}
		definitions = append(definitions, def)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "list workers")
	}
	return definitions, nil
}

func (r *workerRepository) RecordRunResult(ctx context.Context, id int64, result models.RunResult) error {
	const query = `
		UPDATE sync.workers
		SET last_run_started_at = $1,
		    last_run_finished_at = $2,
		    last_run_status = $3,
		    last_error = NULLIF($4, ''),
		    last_source_row_count = $5,
		    last_target_row_count = $6,
		    last_inserted_count = $7,
		    last_max_pk_source = $8,
		    last_max_pk_target = $9,
		    updated_at = NOW()
		WHERE id = $10`
	res, err := r.db.ExecContext(ctx, query,
		result.StartedAt, result.FinishedAt, result.Status, result.Error,
		result.SourceRowCount, result.TargetRowCount, result.InsertedCount,
		result.MaxPKSource, result.MaxPKTarget, id)
	if err != nil {
		return errors.Wrap(err, "record run result")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "read rows affected")
	}
	if affected == 0 {
		return models.ErrWorkerNotFound
	}
	return nil
}

func scanWorker(scanner interface{ Scan(dest ...any) error }) (models.WorkerDefinition, error) {
	var (
		def       models.WorkerDefinition
		startedAt sql.NullTime
		finished  sql.NullTime
		lastErr   sql.NullString
		srcCount  sql.NullInt64
		tgtCount  sql.NullInt64
		inserted  sql.NullInt64
		maxSrc    sql.NullInt64
		maxTgt    sql.NullInt64
	)
	if err := scanner.Scan(
		&def.ID, &def.SourceDatabase, &def.SourceSchema, &def.SourceTable,
		&def.TargetSchema, &def.TargetTable, &def.PKColumn,
		&def.Enabled, &def.IntervalSeconds, &def.NotifyOnSuccess, &def.NotifyOnError,
		&startedAt, &finished, &def.LastRunStatus, &lastErr,
		&srcCount, &tgtCount, &inserted, &maxSrc, &maxTgt,
		&def.CreatedAt, &def.UpdatedAt,
	); err != nil {
		return def, err
	}
	if startedAt.Valid {
		def.LastRunStartedAt = &startedAt.Time
	}
	if finished.Valid {
		def.LastRunFinishedAt = &finished.Time
	}
	if lastErr.Valid {
		def.LastError = &lastErr.String
	}
	if srcCount.Valid {
		def.LastSourceRowCount = &srcCount.Int64
	}
	if tgtCount.Valid {
		def.LastTargetRowCount = &tgtCount.Int64
	}
	if inserted.Valid {
		def.LastInsertedCount = &inserted.Int64
	}
	if maxSrc.Valid {
		def.LastMaxPKSource = &maxSrc.Int64
	}
	if maxTgt.Valid {
		def.LastMaxPKTarget = &maxTgt.Int64
	}
	return def, nil
}
