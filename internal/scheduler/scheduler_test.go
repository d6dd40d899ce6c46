package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merchkit/syncbridge/internal/models"
)

type fakeRunner struct {
	mu       sync.Mutex
	ran      []int64
	inFlight map[int64]bool
	err      error
}

func (f *fakeRunner) RunOnce(ctx context.Context, def models.WorkerDefinition) (models.RunResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ran = append(f.ran, def.ID)
	if f.err != nil {
		return models.RunResult{}, f.err
	}
	return models.RunResult{Status: models.RunStatusOK}, nil
}

func (f *fakeRunner) InFlight(id int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inFlight[id]
}

func (f *fakeRunner) runs() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int64, len(f.ran))
	copy(out, f.ran)
	return out
}

type fakeLister struct {
	defs []models.WorkerDefinition
	err  error
}

func (f *fakeLister) List(ctx context.Context) ([]models.WorkerDefinition, error) {
	return f.defs, f.err
}

func worker(id int64, enabled bool, interval int64, lastFinished *time.Time) models.WorkerDefinition {
	return models.WorkerDefinition{
		ID:                id,
		Enabled:           enabled,
		IntervalSeconds:   interval,
		LastRunFinishedAt: lastFinished,
	}
}

func TestDue(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	past := func(d time.Duration) *time.Time {
		ts := now.Add(-d)
		return &ts
	}

	tests := []struct {
		name string
		def  models.WorkerDefinition
		want bool
	}{
		{"never ran", worker(1, true, 60, nil), true},
		{"interval elapsed", worker(1, true, 60, past(61 * time.Second)), true},
		{"interval exactly elapsed", worker(1, true, 60, past(60 * time.Second)), true},
		{"interval not elapsed", worker(1, true, 60, past(59 * time.Second)), false},
		{"just finished", worker(1, true, 60, past(0)), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Due(tt.def, now))
		})
	}
}

func TestTickDispatchesDueWorkers(t *testing.T) {
	now := time.Now()
	recent := now.Add(-time.Second)
	stale := now.Add(-2 * time.Minute)

	runner := &fakeRunner{inFlight: map[int64]bool{4: true}}
	lister := &fakeLister{defs: []models.WorkerDefinition{
		worker(1, true, 60, nil),     // never ran: due
		worker(2, true, 60, &stale),  // interval elapsed: due
		worker(3, true, 60, &recent), // not due
		worker(4, true, 60, &stale),  // due but in flight
		worker(5, false, 60, &stale), // disabled
	}}

	s := New(lister, runner, zerolog.Nop(), time.Minute)
	s.now = func() time.Time { return now }

	s.tick(context.Background())
	s.wg.Wait()

	assert.ElementsMatch(t, []int64{1, 2}, runner.runs())
}

func TestTickToleratesListError(t *testing.T) {
	runner := &fakeRunner{}
	lister := &fakeLister{err: errors.New("db down")}

	s := New(lister, runner, zerolog.Nop(), time.Minute)
	s.tick(context.Background())
	s.wg.Wait()

	assert.Empty(t, runner.runs())
}

func TestTickToleratesLostRace(t *testing.T) {
	// InFlight said no, but the manual run won the race: RunOnce
	// returns ErrRunInProgress and the tick moves on.
	runner := &fakeRunner{err: models.ErrRunInProgress}
	lister := &fakeLister{defs: []models.WorkerDefinition{worker(1, true, 60, nil)}}

	s := New(lister, runner, zerolog.Nop(), time.Minute)
	s.tick(context.Background())
	s.wg.Wait()

	assert.Equal(t, []int64{1}, runner.runs())
}

// blockingRunner holds RunOnce until released and records whether the
// run's context was canceled underneath it.
type blockingRunner struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once

	mu     sync.Mutex
	ctxErr error
}

func (f *blockingRunner) RunOnce(ctx context.Context, def models.WorkerDefinition) (models.RunResult, error) {
	f.once.Do(func() { close(f.started) })
	<-f.release
	f.mu.Lock()
	f.ctxErr = ctx.Err()
	f.mu.Unlock()
	return models.RunResult{Status: models.RunStatusOK}, nil
}

func (f *blockingRunner) InFlight(id int64) bool { return false }

func TestStopDoesNotCancelInFlightRuns(t *testing.T) {
	runner := &blockingRunner{started: make(chan struct{}), release: make(chan struct{})}
	lister := &fakeLister{defs: []models.WorkerDefinition{worker(1, true, 60, nil)}}

	s := New(lister, runner, zerolog.Nop(), 5*time.Millisecond)
	s.Start(context.Background())
	<-runner.started

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(runner.release)
	}()
	s.Stop(2 * time.Second)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.NoError(t, runner.ctxErr)
}

func TestStartStopDrains(t *testing.T) {
	runner := &fakeRunner{}
	lister := &fakeLister{defs: []models.WorkerDefinition{worker(1, true, 1, nil)}}

	s := New(lister, runner, zerolog.Nop(), 10*time.Millisecond)
	s.Start(context.Background())

	require.Eventually(t, func() bool {
		return len(runner.runs()) > 0
	}, 2*time.Second, 5*time.Millisecond)

	s.Stop(time.Second)
}

func TestNewDefaultsPollInterval(t *testing.T) {
	s := New(&fakeLister{}, &fakeRunner{}, zerolog.Nop(), 0)
	assert.Equal(t, DefaultPollInterval, s.pollInterval)
}
