package models

import "time"

// Run statuses recorded on a worker after each pass.
const (
	RunStatusNone  = "none"
	RunStatusOK    = "ok"
	RunStatusError = "error"
)

// WorkerDefinition is one configured incremental sync: which source
// table feeds which target table, keyed by a numeric monotonically
// increasing pk column, plus the last-run telemetry.
type WorkerDefinition struct {
	ID int64 `json:"id" db:"id"`

	SourceDatabase string `json:"source_database" db:"source_database"`
	SourceSchema   string `json:"source_schema" db:"source_schema"`
	SourceTable    string `json:"source_table" db:"source_table"`
	TargetSchema   string `json:"target_schema" db:"target_schema"`
	TargetTable    string `json:"target_table" db:"target_table"`
	PKColumn       string `json:"pk_column" db:"pk_column"`

	Enabled         bool  `json:"enabled" db:"enabled"`
	IntervalSeconds int64 `json:"interval_seconds" db:"interval_seconds"`
	NotifyOnSuccess bool  `json:"notify_on_success" db:"notify_on_success"`
	NotifyOnError   bool  `json:"notify_on_error" db:"notify_on_error"`

	// Telemetry, written only through RecordRunResult.
	LastRunStartedAt   *time.Time `json:"last_run_started_at" db:"last_run_started_at"`
	LastRunFinishedAt  *time.Time `json:"last_run_finished_at" db:"last_run_finished_at"`
	LastRunStatus      string     `json:"last_run_status" db:"last_run_status"`
	LastError          *string    `json:"last_error" db:"last_error"`
	LastSourceRowCount *int64     `json:"last_source_row_count" db:"last_source_row_count"`
	LastTargetRowCount *int64     `json:"last_target_row_count" db:"last_target_row_count"`
	LastInsertedCount  *int64     `json:"last_inserted_count" db:"last_inserted_count"`
	LastMaxPKSource    *int64     `json:"last_max_pk_source" db:"last_max_pk_source"`
	LastMaxPKTarget    *int64     `json:"last_max_pk_target" db:"last_max_pk_target"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// SourceRef returns "schema.table" of the source side for logging and
// error context.
func (w *WorkerDefinition) SourceRef() string {
	return w.SourceSchema + "." + w.SourceTable
}

// TargetRef returns "schema.table" of the target side.
func (w *WorkerDefinition) TargetRef() string {
	return w.TargetSchema + "." + w.TargetTable
}

// RunResult is the telemetry of one finished pass, recorded atomically
// against the worker row.
type RunResult struct {
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	Status         string    `json:"status"`
	Error          string    `json:"error,omitempty"`
	SourceRowCount int64     `json:"source_row_count"`
	TargetRowCount int64     `json:"target_row_count"`
	InsertedCount  int64     `json:"inserted_count"`
	MaxPKSource    *int64    `json:"max_pk_source"`
	MaxPKTarget    *int64    `json:"max_pk_target"`
}
