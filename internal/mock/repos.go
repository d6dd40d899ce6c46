package mock

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/merchkit/syncbridge/internal/models"
)

// WorkerRepo is an in-memory repository.WorkerRepository.
type WorkerRepo struct {
	mu      sync.Mutex
	nextID  int64
	workers map[int64]models.WorkerDefinition
}

func NewWorkerRepo() *WorkerRepo {
	return &WorkerRepo{nextID: 1, workers: map[int64]models.WorkerDefinition{}}
}

func (r *WorkerRepo) Upsert(ctx context.Context, def models.WorkerDefinition) (models.WorkerDefinition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if def.ID == 0 {
		def.ID = r.nextID
		r.nextID++
		def.LastRunStatus = models.RunStatusNone
		def.CreatedAt = now
	} else {
		existing, ok := r.workers[def.ID]
		if !ok {
			return def, models.ErrWorkerNotFound
		}
		// configuration fields only; telemetry stays
		def.LastRunStartedAt = existing.LastRunStartedAt
		def.LastRunFinishedAt = existing.LastRunFinishedAt
		def.LastRunStatus = existing.LastRunStatus
		def.LastError = existing.LastError
		def.LastSourceRowCount = existing.LastSourceRowCount
		def.LastTargetRowCount = existing.LastTargetRowCount
		def.LastInsertedCount = existing.LastInsertedCount
		def.LastMaxPKSource = existing.LastMaxPKSource
		def.LastMaxPKTarget = existing.LastMaxPKTarget
		def.CreatedAt = existing.CreatedAt
	}
	def.UpdatedAt = now
	r.workers[def.ID] = def
	return def, nil
}

func (r *WorkerRepo) Get(ctx context.Context, id int64) (models.WorkerDefinition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	def, ok := r.workers[id]
	if !ok {
		return def, models.ErrWorkerNotFound
	}
	return def, nil
}

func (r *WorkerRepo) List(ctx context.Context) ([]models.WorkerDefinition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	definitions := make([]models.WorkerDefinition, 0, len(r.workers))
	for id := int64(1); id < r.nextID; id++ {
		if def, ok := r.workers[id]; ok {
			definitions = append(definitions, def)
		}
	}
	return definitions, nil
}

func (r *WorkerRepo) RecordRunResult(ctx context.Context, id int64, result models.RunResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	def, ok := r.workers[id]
	if !ok {
		return models.ErrWorkerNotFound
	}
	started, finished := result.StartedAt, result.FinishedAt
	def.LastRunStartedAt = &started
	def.LastRunFinishedAt = &finished
	def.LastRunStatus = result.Status
	if result.Error != "" {
		msg := result.Error
		def.LastError = &msg
	} else {
		def.LastError = nil
	}
	src, tgt, ins := result.SourceRowCount, result.TargetRowCount, result.InsertedCount
	def.LastSourceRowCount = &src
	def.LastTargetRowCount = &tgt
	def.LastInsertedCount = &ins
	def.LastMaxPKSource = result.MaxPKSource
	def.LastMaxPKTarget = result.MaxPKTarget
	r.workers[id] = def
	return nil
}

// JobRepo is an in-memory repository.JobRepository that also records
// the sequence of states each job passes through.
type JobRepo struct {
	mu      sync.Mutex
	jobs    map[string]models.MigrationJob
	History map[string][]string
}

func NewJobRepo() *JobRepo {
	return &JobRepo{jobs: map[string]models.MigrationJob{}, History: map[string][]string{}}
}

func (r *JobRepo) Create(ctx context.Context, job models.MigrationJob) (models.MigrationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job.Status = models.JobStatusQueued
	job.CreatedAt = time.Now()
	r.jobs[job.ID] = job
	r.History[job.ID] = append(r.History[job.ID], job.Status)
	return job, nil
}

func (r *JobRepo) Get(ctx context.Context, id string) (models.MigrationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return job, models.ErrJobNotFound
	}
	return job, nil
}

func (r *JobRepo) List(ctx context.Context, limit, offset int) ([]models.MigrationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	jobs := make([]models.MigrationJob, 0, len(r.jobs))
	for _, job := range r.jobs {
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (r *JobRepo) MarkRunning(ctx context.Context, id string, sourceRowCount, targetRowCountBefore int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return models.ErrJobNotFound
	}
	if job.Status != models.JobStatusQueued {
		return errors.New("invalid job state transition")
	}
	now := time.Now()
	job.Status = models.JobStatusRunning
	job.StartedAt = &now
	job.SourceRowCount = &sourceRowCount
	job.TargetRowCountBefore = &targetRowCountBefore
	r.jobs[id] = job
	r.History[id] = append(r.History[id], job.Status)
	return nil
}

func (r *JobRepo) UpdateProgress(ctx context.Context, id string, rowsInserted, batches int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return models.ErrJobNotFound
	}
	if job.Status != models.JobStatusRunning {
		return nil
	}
	job.RowsInserted = rowsInserted
	job.Batches = batches
	r.jobs[id] = job
	return nil
}

func (r *JobRepo) MarkSuccess(ctx context.Context, id string, targetRowCountAfter int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return models.ErrJobNotFound
	}
	if job.Status != models.JobStatusRunning {
		return errors.New("invalid job state transition")
	}
	now := time.Now()
	job.Status = models.JobStatusSuccess
	job.FinishedAt = &now
	job.TargetRowCountAfter = &targetRowCountAfter
	r.jobs[id] = job
	r.History[id] = append(r.History[id], job.Status)
	return nil
}

func (r *JobRepo) MarkError(ctx context.Context, id, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return models.ErrJobNotFound
	}
	if job.Terminal() {
		return errors.New("invalid job state transition")
	}
	now := time.Now()
	job.Status = models.JobStatusError
	job.FinishedAt = &now
	job.ErrorMessage = &message
	r.jobs[id] = job
	r.History[id] = append(r.History[id], job.Status)
	return nil
}
