// Package scheduler runs the control loop that dispatches due workers
// to the sync engine. One goroutine per due worker; the engine's
// single-flight guard keeps scheduled and manual runs from overlapping.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/merchkit/syncbridge/internal/models"
)

// DefaultPollInterval must stay shorter than the smallest worker
// interval operators are expected to configure.
const DefaultPollInterval = 3 * time.Second

// Runner executes one catch-up pass. The sync engine implements it.
type Runner interface {
	RunOnce(ctx context.Context, def models.WorkerDefinition) (models.RunResult, error)
	InFlight(id int64) bool
}

// WorkerLister yields the current worker definitions. The registry
// implements it.
type WorkerLister interface {
	List(ctx context.Context) ([]models.WorkerDefinition, error)
}

type Scheduler struct {
	workers      WorkerLister
	runner       Runner
	logger       zerolog.Logger
	pollInterval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time
}

func New(workers WorkerLister, runner Runner, logger zerolog.Logger, pollInterval time.Duration) *Scheduler {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Scheduler{
		workers:      workers,
		runner:       runner,
		logger:       logger.With().Str("component", "scheduler").Logger(),
		pollInterval: pollInterval,
		now:          time.Now,
	}
}

// Start launches the polling loop. It returns immediately; use Stop
// for a graceful drain.
func (s *Scheduler) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(loopCtx)
	}()
	s.logger.Info().Dur("poll_interval", s.pollInterval).Msg("scheduler started")
}

// Stop cancels the loop and waits for in-flight runs up to timeout.
// Runs already started always complete; disabling a worker only stops
// future scheduling.
func (s *Scheduler) Stop(timeout time.Duration) {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("scheduler stopped")
	case <-time.After(timeout):
		s.logger.Warn().Msg("scheduler stop timed out; runs may still be in flight")
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	definitions, err := s.workers.List(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list workers")
		return
	}

	now := s.now()
	for _, def := range definitions {
		if !def.Enabled || !Due(def, now) || s.runner.InFlight(def.ID) {
			continue
		}
		s.dispatch(def)
	}
}

func (s *Scheduler) dispatch(def models.WorkerDefinition) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// Detached from the loop context: a pass always runs to
		// completion once started, Stop only waits for it.
		if _, err := s.runner.RunOnce(context.Background(), def); err != nil {
			if err == models.ErrRunInProgress {
				// lost the race against a manual run; next tick retries
				return
			}
			s.logger.Error().Err(err).Int64("worker_id", def.ID).Msg("scheduled run failed")
		}
	}()
}

// Due reports whether the worker's interval has elapsed since its last
// finished run. A worker that never ran is immediately due.
func Due(def models.WorkerDefinition, now time.Time) bool {
	if def.LastRunFinishedAt == nil {
		return true
	}
	elapsed := now.Sub(*def.LastRunFinishedAt)
	return elapsed >= time.Duration(def.IntervalSeconds)*time.Second
}
