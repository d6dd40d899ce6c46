package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merchkit/syncbridge/internal/mock"
	"github.com/merchkit/syncbridge/internal/models"
)

func testDefinition() models.WorkerDefinition {
	return models.WorkerDefinition{
		ID:              1,
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

func orderRow(id int64) models.Row {
	return models.Row{
		{Column: "id", Value: id},
		{Column: "customer", Value: fmt.Sprintf("customer-%d", id)},
	}
}

type fixture struct {
	src    *mock.Source
	tgt    *mock.Target
	repo   *mock.WorkerRepo
	notifs *mock.Notifications
	engine *Engine
}

func newFixture(t *testing.T, batchSize int) *fixture {
	t.Helper()
	src := mock.NewSource()
	tgt := mock.NewTarget()
	repo := mock.NewWorkerRepo()
	notifs := mock.NewNotifications()

	def := testDefinition()
	def.ID = 0
	_, err := repo.Upsert(context.Background(), def)
	require.NoError(t, err)

	tgt.CreateTable("public", "orders", "id", []models.Column{
		{Name: "id", DataType: "bigint", IsPrimaryKey: true},
		{Name: "customer", DataType: "text"},
	})

	eng := New(&mock.Factory{Conn: src}, tgt, repo, notifs, zerolog.Nop(), batchSize)
	return &fixture{src: src, tgt: tgt, repo: repo, notifs: notifs, engine: eng}
}

func (f *fixture) addSourceRows(from, to int64) {
	for id := from; id <= to; id++ {
		f.src.AddRows("dbo", "orders", orderRow(id))
	}
}

func TestRunOnceInitialCatchUp(t *testing.T) {
	f := newFixture(t, 5)
	f.addSourceRows(1, 12)

	result, err := f.engine.RunOnce(context.Background(), testDefinition())
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusOK, result.Status)
	assert.Equal(t, int64(12), result.SourceRowCount)
	assert.Equal(t, int64(12), result.TargetRowCount)
	assert.Equal(t, int64(12), result.InsertedCount)
	require.NotNil(t, result.MaxPKTarget)
	assert.Equal(t, int64(12), *result.MaxPKTarget)
	require.NotNil(t, result.MaxPKSource)
	assert.Equal(t, int64(12), *result.MaxPKSource)

	// 12 rows at batch size 5: two full batches plus a short one.
	assert.Equal(t, 3, f.tgt.InsertCalls())
	assert.Len(t, f.tgt.PKs("public", "orders"), 12)
}

func TestRunOnceNoNewRowsIsANoOp(t *testing.T) {
	f := newFixture(t, 5)
	f.addSourceRows(1, 12)

	_, err := f.engine.RunOnce(context.Background(), testDefinition())
	require.NoError(t, err)
	before := f.tgt.InsertCalls()

	result, err := f.engine.RunOnce(context.Background(), testDefinition())
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusOK, result.Status)
	assert.Equal(t, int64(0), result.InsertedCount)
	require.NotNil(t, result.MaxPKTarget)
	assert.Equal(t, int64(12), *result.MaxPKTarget)
	// the empty fetch terminates the loop without an insert attempt
	assert.Equal(t, before, f.tgt.InsertCalls())
}

func TestRunOncePicksUpRowsAboveWatermark(t *testing.T) {
	f := newFixture(t, 5)
	f.addSourceRows(1, 12)

	_, err := f.engine.RunOnce(context.Background(), testDefinition())
	require.NoError(t, err)

	f.addSourceRows(13, 17)
	result, err := f.engine.RunOnce(context.Background(), testDefinition())
	require.NoError(t, err)

	assert.Equal(t, int64(5), result.InsertedCount)
	assert.Equal(t, int64(17), result.TargetRowCount)
	require.NotNil(t, result.MaxPKTarget)
	assert.Equal(t, int64(17), *result.MaxPKTarget)
}

func TestRunOnceFailureKeepsCommittedBatches(t *testing.T) {
	f := newFixture(t, 5)
	f.addSourceRows(1, 12)
	f.tgt.FailInsertAt = 3

	result, err := f.engine.RunOnce(context.Background(), testDefinition())
	require.Error(t, err)
	assert.Equal(t, models.RunStatusError, result.Status)
	assert.Equal(t, int64(10), result.InsertedCount)

	// the two committed batches stay in place
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, f.tgt.PKs("public", "orders"))

	// a later run resumes above the committed watermark without dupes
	f.tgt.FailInsertAt = 0
	result, err = f.engine.RunOnce(context.Background(), testDefinition())
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.InsertedCount)
	assert.Equal(t, int64(12), result.TargetRowCount)
	assert.Len(t, f.tgt.PKs("public", "orders"), 12)
}

func TestRunOnceMissingTargetTable(t *testing.T) {
	f := newFixture(t, 5)
	f.addSourceRows(1, 3)

	def := testDefinition()
	def.TargetTable = "missing"
	result, err := f.engine.RunOnce(context.Background(), def)

	var cfgErr *models.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Reason, "public.missing")
	assert.Equal(t, models.RunStatusError, result.Status)
}

func TestRunOnceRejectsConcurrentRun(t *testing.T) {
	f := newFixture(t, 5)
	f.addSourceRows(1, 3)

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.src.FetchHook = func() {
		once.Do(func() {
			close(started)
			<-release
		})
	}

	done := make(chan error, 1)
	go func() {
		_, err := f.engine.RunOnce(context.Background(), testDefinition())
		done <- err
	}()

	<-started
	assert.True(t, f.engine.InFlight(1))
	_, err := f.engine.RunOnce(context.Background(), testDefinition())
	assert.ErrorIs(t, err, models.ErrRunInProgress)

	close(release)
	require.NoError(t, <-done)
	assert.False(t, f.engine.InFlight(1))

	// a run for a different worker id is not blocked
	other := testDefinition()
	other.ID = 2
	_, err = f.repo.Upsert(context.Background(), models.WorkerDefinition{
		SourceDatabase: "shop", SourceSchema: "dbo", SourceTable: "orders",
		TargetSchema: "public", TargetTable: "orders", PKColumn: "id",
		IntervalSeconds: 60,
	})
	require.NoError(t, err)
	_, err = f.engine.RunOnce(context.Background(), other)
	assert.NoError(t, err)
}

func TestRunOnceRecordsTelemetry(t *testing.T) {
	f := newFixture(t, 5)
	f.addSourceRows(1, 7)

	_, err := f.engine.RunOnce(context.Background(), testDefinition())
	require.NoError(t, err)

	def, err := f.repo.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusOK, def.LastRunStatus)
	require.NotNil(t, def.LastInsertedCount)
	assert.Equal(t, int64(7), *def.LastInsertedCount)
	require.NotNil(t, def.LastMaxPKTarget)
	assert.Equal(t, int64(7), *def.LastMaxPKTarget)
	require.NotNil(t, def.LastMaxPKSource)
	assert.Equal(t, int64(7), *def.LastMaxPKSource)
	require.NotNil(t, def.LastRunFinishedAt)
	assert.False(t, def.LastRunFinishedAt.Before(*def.LastRunStartedAt))
	assert.Nil(t, def.LastError)
}

func TestRunOnceRecordsFailureTelemetry(t *testing.T) {
	f := newFixture(t, 5)
	f.addSourceRows(1, 3)
	f.src.Err = errors.New("connection refused")

	_, err := f.engine.RunOnce(context.Background(), testDefinition())
	require.Error(t, err)

	def, err := f.repo.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusError, def.LastRunStatus)
	require.NotNil(t, def.LastError)
	assert.Contains(t, *def.LastError, "connection refused")
}

func TestNotifyFlagsGateNotifications(t *testing.T) {
	f := newFixture(t, 5)
	f.addSourceRows(1, 3)

	// flags off: silence on success
	_, err := f.engine.RunOnce(context.Background(), testDefinition())
	require.NoError(t, err)
	assert.Empty(t, f.notifs.Events())

	// notify_on_success on
	f.addSourceRows(4, 4)
	def := testDefinition()
	def.NotifyOnSuccess = true
	_, err = f.engine.RunOnce(context.Background(), def)
	require.NoError(t, err)
	events := f.notifs.Events()
	require.Len(t, events, 1)
	assert.Equal(t, models.NotificationEventSyncSucceeded, events[0].Event)

	// notify_on_error on
	def.NotifyOnError = true
	f.src.Err = errors.New("timeout")
	_, err = f.engine.RunOnce(context.Background(), def)
	require.Error(t, err)
	events = f.notifs.Events()
	require.Len(t, events, 2)
	assert.Equal(t, models.NotificationEventSyncFailed, events[1].Event)
}

func TestRunOnceWatermarkNeverMovesBackwards(t *testing.T) {
	f := newFixture(t, 5)
	// target already holds rows up to 10; source only has 1..8
	f.addSourceRows(1, 8)
	for id := int64(1); id <= 10; id++ {
		_, err := f.tgt.InsertBatchIdempotent(context.Background(), "public", "orders", "id", []models.Row{orderRow(id)})
		require.NoError(t, err)
	}

	result, err := f.engine.RunOnce(context.Background(), testDefinition())
	require.NoError(t, err)

	// nothing above the watermark, nothing inserted, watermark untouched
	assert.Equal(t, int64(0), result.InsertedCount)
	require.NotNil(t, result.MaxPKTarget)
	assert.Equal(t, int64(10), *result.MaxPKTarget)
	assert.Equal(t, int64(10), result.TargetRowCount)

	// the source high watermark is observed, not mirrored from the target
	require.NotNil(t, result.MaxPKSource)
	assert.Equal(t, int64(8), *result.MaxPKSource)
}

func TestRunOnceDefaultsBatchSize(t *testing.T) {
	eng := New(&mock.Factory{Conn: mock.NewSource()}, mock.NewTarget(), mock.NewWorkerRepo(), nil, zerolog.Nop(), 0)
	assert.Equal(t, DefaultBatchSize, eng.batchSize)
}

func TestRunOnceSetsTimestamps(t *testing.T) {
	f := newFixture(t, 5)
	f.addSourceRows(1, 2)

	before := time.Now()
	result, err := f.engine.RunOnce(context.Background(), testDefinition())
	require.NoError(t, err)

	assert.False(t, result.StartedAt.Before(before))
	assert.False(t, result.FinishedAt.Before(result.StartedAt))
}
