package jobs

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merchkit/syncbridge/internal/mock"
	"github.com/merchkit/syncbridge/internal/models"
	"github.com/merchkit/syncbridge/internal/typemap"
)

func sourceColumns() []models.Column {
	return []models.Column{
		{Name: "ID", DataType: "int", IsPrimaryKey: true},
		{Name: "Name", DataType: "nvarchar"},
		{Name: "CreatedAt", DataType: "datetime"},
	}
}

func jobRow(id int64) models.Row {
	return models.Row{
		{Column: "ID", Value: id},
		{Column: "Name", Value: fmt.Sprintf("name-%d", id)},
		{Column: "CreatedAt", Value: "2024-06-01T00:00:00Z"},
	}
}

type jobFixture struct {
	src    *mock.Source
	tgt    *mock.Target
	repo   *mock.JobRepo
	notifs *mock.Notifications
	orch   *Orchestrator
}

func newJobFixture(t *testing.T, batchSize int) *jobFixture {
	t.Helper()
	src := mock.NewSource()
	tgt := mock.NewTarget()
	repo := mock.NewJobRepo()
	notifs := mock.NewNotifications()

	src.SetColumns("dbo", "customers", sourceColumns())
	orch := New(repo, &mock.Factory{Conn: src}, tgt, notifs, zerolog.Nop(), batchSize)
	return &jobFixture{src: src, tgt: tgt, repo: repo, notifs: notifs, orch: orch}
}

func (f *jobFixture) addSourceRows(from, to int64) {
	for id := from; id <= to; id++ {
		f.src.AddRows("dbo", "customers", jobRow(id))
	}
}

func newTableRequest() StartRequest {
	return StartRequest{
		SourceDatabase: "shop",
		SourceSchema:   "dbo",
		SourceTable:    "customers",
		TargetSchema:   "public",
		TargetTable:    "customers",
		Mode:           models.JobModeNewTable,
	}
}

func TestStartJobNewTableClone(t *testing.T) {
	f := newJobFixture(t, 4)
	f.addSourceRows(1, 10)

	job, err := f.orch.StartJob(context.Background(), newTableRequest())
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, models.JobStatusQueued, job.Status)
	// pk auto-detected from the single-column numeric primary key
	assert.Equal(t, "ID", job.PKColumn)

	f.orch.Wait()

	final, err := f.orch.GetStatus(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSuccess, final.Status)
	assert.Equal(t, int64(10), final.RowsInserted)
	assert.Equal(t, int64(3), final.Batches)
	require.NotNil(t, final.SourceRowCount)
	assert.Equal(t, int64(10), *final.SourceRowCount)
	require.NotNil(t, final.TargetRowCountAfter)
	assert.Equal(t, int64(10), *final.TargetRowCountAfter)
	require.NotNil(t, final.FinishedAt)

	// target table created with mapped types
	columns, err := f.tgt.GetTableSchema(context.Background(), "public", "customers")
	require.NoError(t, err)
	require.Len(t, columns, 3)
	assert.Equal(t, typemap.TypeInteger, columns[0].DataType)
	assert.Equal(t, typemap.TypeText, columns[1].DataType)
	assert.Equal(t, typemap.TypeTimestamp, columns[2].DataType)

	assert.Len(t, f.tgt.PKs("public", "customers"), 10)
	assert.Equal(t, []string{
		models.JobStatusQueued, models.JobStatusRunning, models.JobStatusSuccess,
	}, f.repo.History[job.ID])
}

func TestStartJobExistingMode(t *testing.T) {
	f := newJobFixture(t, 4)
	f.addSourceRows(1, 6)
	f.tgt.CreateTable("public", "customers", "ID", typemap.MapColumns(sourceColumns()))

	// two rows already present; the clone must not duplicate them
	for id := int64(1); id <= 2; id++ {
		_, err := f.tgt.InsertBatchIdempotent(context.Background(), "public", "customers", "ID", []models.Row{jobRow(id)})
		require.NoError(t, err)
	}

	req := newTableRequest()
	req.Mode = models.JobModeExisting
	job, err := f.orch.StartJob(context.Background(), req)
	require.NoError(t, err)
	f.orch.Wait()

	final, err := f.orch.GetStatus(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSuccess, final.Status)
	assert.Equal(t, int64(4), final.RowsInserted)
	require.NotNil(t, final.TargetRowCountBefore)
	assert.Equal(t, int64(2), *final.TargetRowCountBefore)
	require.NotNil(t, final.TargetRowCountAfter)
	assert.Equal(t, int64(6), *final.TargetRowCountAfter)
}

func TestStartJobDefaultsToExistingMode(t *testing.T) {
	f := newJobFixture(t, 4)
	f.tgt.CreateTable("public", "customers", "ID", typemap.MapColumns(sourceColumns()))

	req := newTableRequest()
	req.Mode = ""
	job, err := f.orch.StartJob(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, models.JobModeExisting, job.Mode)
	f.orch.Wait()
}

func TestStartJobRejectsUnknownMode(t *testing.T) {
	f := newJobFixture(t, 4)

	req := newTableRequest()
	req.Mode = "truncate-and-load"
	_, err := f.orch.StartJob(context.Background(), req)

	var cfgErr *models.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Reason, "mode")
}

func TestStartJobValidatesTableRefs(t *testing.T) {
	f := newJobFixture(t, 4)

	req := newTableRequest()
	req.SourceTable = ""
	_, err := f.orch.StartJob(context.Background(), req)
	var cfgErr *models.ConfigError
	require.ErrorAs(t, err, &cfgErr)

	req = newTableRequest()
	req.TargetSchema = ""
	_, err = f.orch.StartJob(context.Background(), req)
	require.ErrorAs(t, err, &cfgErr)
}

func TestStartJobRejectsCompositePrimaryKey(t *testing.T) {
	f := newJobFixture(t, 4)
	f.src.SetColumns("dbo", "customers", []models.Column{
		{Name: "TenantID", DataType: "int", IsPrimaryKey: true},
		{Name: "ID", DataType: "int", IsPrimaryKey: true},
	})

	_, err := f.orch.StartJob(context.Background(), newTableRequest())
	var cfgErr *models.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Reason, "pk_column")
}

func TestStartJobRejectsNonNumericPrimaryKey(t *testing.T) {
	f := newJobFixture(t, 4)
	f.src.SetColumns("dbo", "customers", []models.Column{
		{Name: "Code", DataType: "varchar", IsPrimaryKey: true},
	})

	_, err := f.orch.StartJob(context.Background(), newTableRequest())
	var cfgErr *models.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Reason, "numeric")
}

func TestStartJobExistingModeMissingTargetTable(t *testing.T) {
	f := newJobFixture(t, 4)
	f.addSourceRows(1, 3)

	req := newTableRequest()
	req.Mode = models.JobModeExisting
	job, err := f.orch.StartJob(context.Background(), req)
	require.NoError(t, err)
	f.orch.Wait()

	final, err := f.orch.GetStatus(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusError, final.Status)
	require.NotNil(t, final.ErrorMessage)
	assert.Contains(t, *final.ErrorMessage, "new-table mode")
	// failed before running: queued straight to error
	assert.Equal(t, []string{
		models.JobStatusQueued, models.JobStatusError,
	}, f.repo.History[job.ID])
}

func TestStartJobInsertFailureMarksError(t *testing.T) {
	f := newJobFixture(t, 4)
	f.addSourceRows(1, 10)
	f.tgt.FailInsertAt = 2

	job, err := f.orch.StartJob(context.Background(), newTableRequest())
	require.NoError(t, err)
	f.orch.Wait()

	final, err := f.orch.GetStatus(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusError, final.Status)
	require.NotNil(t, final.ErrorMessage)
	// the first committed batch survives the failure
	assert.Equal(t, int64(4), final.RowsInserted)
	assert.Equal(t, []string{
		models.JobStatusQueued, models.JobStatusRunning, models.JobStatusError,
	}, f.repo.History[job.ID])
}

func TestJobNotificationsReportOutcome(t *testing.T) {
	f := newJobFixture(t, 4)
	f.addSourceRows(1, 3)

	job, err := f.orch.StartJob(context.Background(), newTableRequest())
	require.NoError(t, err)
	f.orch.Wait()

	events := f.notifs.Events()
	require.Len(t, events, 1)
	assert.Equal(t, models.NotificationEventMigrationSucceeded, events[0].Event)

	// failure path
	f.src.Err = fmt.Errorf("source unreachable")
	req := newTableRequest()
	req.PKColumn = "ID" // skip detection, which would fail synchronously
	job, err = f.orch.StartJob(context.Background(), req)
	require.NoError(t, err)
	f.orch.Wait()

	final, err := f.orch.GetStatus(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusError, final.Status)
	events = f.notifs.Events()
	require.Len(t, events, 2)
	assert.Equal(t, models.NotificationEventMigrationFailed, events[1].Event)
}

func TestGetStatusUnknownJob(t *testing.T) {
	f := newJobFixture(t, 4)
	_, err := f.orch.GetStatus(context.Background(), "no-such-job")
	assert.ErrorIs(t, err, models.ErrJobNotFound)
}

func TestListJobs(t *testing.T) {
	f := newJobFixture(t, 4)
	f.addSourceRows(1, 2)

	_, err := f.orch.StartJob(context.Background(), newTableRequest())
	require.NoError(t, err)
	f.orch.Wait()

	jobs, err := f.orch.ListJobs(context.Background(), 50, 0)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}
