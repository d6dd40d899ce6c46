package models

import "time"

// Migration job states. Terminal states are absorbing: once a job is
// success or error its row is never mutated again.
const (
	JobStatusQueued  = "queued"
	JobStatusRunning = "running"
	JobStatusSuccess = "success"
	JobStatusError   = "error"
)

// Migration modes.
const (
	JobModeNewTable = "new-table"
	JobModeExisting = "existing"
)

// MigrationJob is one asynchronous full-table clone from the source
// store into the target store. Clients poll it by id until a terminal
// state is observed.
type MigrationJob struct {
	ID string `json:"id" db:"id"`

	SourceDatabase string `json:"source_database" db:"source_database"`
	SourceSchema   string `json:"source_schema" db:"source_schema"`
	SourceTable    string `json:"source_table" db:"source_table"`
	TargetSchema   string `json:"target_schema" db:"target_schema"`
	TargetTable    string `json:"target_table" db:"target_table"`
	PKColumn       string `json:"pk_column" db:"pk_column"`
	Mode           string `json:"mode" db:"mode"`

	Status string `json:"status" db:"status"`

	SourceRowCount       *int64 `json:"source_row_count" db:"source_row_count"`
	RowsInserted         int64  `json:"rows_inserted" db:"rows_inserted"`
	Batches              int64  `json:"batches" db:"batches"`
	TargetRowCountBefore *int64 `json:"target_row_count_before" db:"target_row_count_before"`
	TargetRowCountAfter  *int64 `json:"target_row_count_after" db:"target_row_count_after"`

	ErrorMessage *string `json:"error_message" db:"error_message"`

	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	StartedAt  *time.Time `json:"started_at" db:"started_at"`
	FinishedAt *time.Time `json:"finished_at" db:"finished_at"`
}

// Terminal reports whether the job has reached an absorbing state.
func (j *MigrationJob) Terminal() bool {
	return j.Status == JobStatusSuccess || j.Status == JobStatusError
}

// SourceRef returns "schema.table" of the source side.
func (j *MigrationJob) SourceRef() string {
	return j.SourceSchema + "." + j.SourceTable
}

// TargetRef returns "schema.table" of the target side.
func (j *MigrationJob) TargetRef() string {
	return j.TargetSchema + "." + j.TargetTable
}
