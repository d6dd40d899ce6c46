package repository

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/merchkit/syncbridge/internal/models"
)

type JobRepository interface {
	Create(ctx context.Context, job models.MigrationJob) (models.MigrationJob, error)
	Get(ctx context.Context, id string) (models.MigrationJob, error)
	List(ctx context.Context, limit, offset int) ([]models.MigrationJob, error)
	// MarkRunning moves a queued job to running and records the
	// boundary counters captured at start.
	MarkRunning(ctx context.Context, id string, sourceRowCount, targetRowCountBefore int64) error
	// UpdateProgress bumps the monotonically increasing counters of a
	// running job. No-op for terminal jobs.
	UpdateProgress(ctx context.Context, id string, rowsInserted, batches int64) error
	// MarkSuccess and MarkError move a running job into its terminal
	// state. Terminal states are absorbing; a second transition is
	// rejected by the WHERE guard.
	MarkSuccess(ctx context.Context, id string, targetRowCountAfter int64) error
	MarkError(ctx context.Context, id, message string) error
}

type jobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) JobRepository {
	return &jobRepository{db: db}
}

const jobColumns = `
	id, source_database, source_schema, source_table, target_schema, target_table,
	pk_column, mode, status, source_row_count, rows_inserted, batches,
	target_row_count_before, target_row_count_after, error_message,
	created_at, started_at, finished_at`

func (r *jobRepository) Create(ctx context.Context, job models.MigrationJob) (models.MigrationJob, error) {
	const query = `
		INSERT INTO sync.migration_jobs (
			id, source_database, source_schema, source_table,
			target_schema, target_table, pk_column, mode, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`
	job.Status = models.JobStatusQueued
	err := r.db.QueryRowContext(ctx, query,
		job.ID, job.SourceDatabase, job.SourceSchema, job.SourceTable,
		job.TargetSchema, job.TargetTable, job.PKColumn, job.Mode, job.Status,
	).Scan(&job.CreatedAt)
	if err != nil {
		return job, errors.Wrap(err, "insert migration job")
	}
	return job, nil
}

func (r *jobRepository) Get(ctx context.Context, id string) (models.MigrationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM sync.migration_jobs WHERE id = $1`
	job, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return job, models.ErrJobNotFound
		}
		return job, errors.Wrap(err, "get migration job")
	}
	return job, nil
}

func (r *jobRepository) List(ctx context.Context, limit, offset int) ([]models.MigrationJob, error) {
	query := `SELECT ` + jobColumns + `
		FROM sync.migration_jobs
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`
	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "list migration jobs")
	}
	defer rows.Close()

	jobs := make([]models.MigrationJob, 0, limit)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan migration job")
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "list migration jobs")
	}
	return jobs, nil
}

func (r *jobRepository) MarkRunning(ctx context.Context, id string, sourceRowCount, targetRowCountBefore int64) error {
	const query = `
		UPDATE sync.migration_jobs
		SET status = $1, started_at = NOW(),
		    source_row_count = $2, target_row_count_before = $3
		WHERE id = $4 AND status = $5`
	return r.transition(ctx, query,
		models.JobStatusRunning, sourceRowCount, targetRowCountBefore, id, models.JobStatusQueued)
}

func (r *jobRepository) UpdateProgress(ctx context.Context, id string, rowsInserted, batches int64) error {
	const query = `
		UPDATE sync.migration_jobs
		SET rows_inserted = $1, batches = $2
		WHERE id = $3 AND status = $4`
	_, err := r.db.ExecContext(ctx, query, rowsInserted, batches, id, models.JobStatusRunning)
	return errors.Wrap(err, "update job progress")
}

func (r *jobRepository) MarkSuccess(ctx context.Context, id string, targetRowCountAfter int64) error {
	const query = `
		UPDATE sync.migration_jobs
		SET status = $1, finished_at = NOW(), target_row_count_after = $2
		WHERE id = $3 AND status = $4`
	return r.transition(ctx, query,
		models.JobStatusSuccess, targetRowCountAfter, id, models.JobStatusRunning)
}

func (r *jobRepository) MarkError(ctx context.Context, id, message string) error {
	const query = `
		UPDATE sync.migration_jobs
		SET status = $1, finished_at = NOW(), error_message = $2
		WHERE id = $3 AND status IN ($4, $5)`
	return r.transition(ctx, query,
		models.JobStatusError, message, id, models.JobStatusQueued, models.JobStatusRunning)
}

func (r *jobRepository) transition(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, "job state transition")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "read rows affected")
	}
	if affected == 0 {
		return errors.New("invalid job state transition")
	}
	return nil
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (models.MigrationJob, error) {
	var (
		job       models.MigrationJob
		srcCount  sql.NullInt64
		tgtBefore sql.NullInt64
		tgtAfter  sql.NullInt64
		errMsg    sql.NullString
		startedAt sql.NullTime
		finished  sql.NullTime
	)
	if err := scanner.Scan(
		&job.ID, &job.SourceDatabase, &job.SourceSchema, &job.SourceTable,
		&job.TargetSchema, &job.TargetTable, &job.PKColumn, &job.Mode, &job.Status,
		&srcCount, &job.RowsInserted, &job.Batches,
		&tgtBefore, &tgtAfter, &errMsg,
		&job.CreatedAt, &startedAt, &finished,
	); err != nil {
		return job, err
	}
	if srcCount.Valid {
		job.SourceRowCount = &srcCount.Int64
	}
	if tgtBefore.Valid {
		job.TargetRowCountBefore = &tgtBefore.Int64
	}
	if tgtAfter.Valid {
		job.TargetRowCountAfter = &tgtAfter.Int64
	}
	if errMsg.Valid {
		job.ErrorMessage = &errMsg.String
	}
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if finished.Valid {
		job.FinishedAt = &finished.Time
	}
	return job, nil
}
