package pg

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

//go:embed schema.sql
var schemaSQL string

// DBTX はpgxpool.Poolとpgx.Txの共通インターフェースです
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Migrate はテーブルを作成します(冪等)
func Migrate(ctx context.Context, db DBTX) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply transform schema: %w", err)
	}
	return nil
}

// jobRow はtransform_jobsの1行です
type jobRow struct {
	ID                 pgtype.UUID
	DatasetID          string
	Status             string
	TotalRows          int32
	Settings           []byte
	Exclusions         []byte
	RespondentIDColumn string
	ProcessedRows      int32
	FailedRows         int32
	CurrentRowIndex    int32
	StatErrors         int32
	StatRetries        int32
	LastError          string
	StartedAt          pgtype.Timestamptz
	UpdatedAt          pgtype.Timestamptz
}

// resultRow はtransform_resultsの1行です
type resultRow struct {
	JobID        pgtype.UUID
	RowIndex     int32
	RespondentID pgtype.Text
	Status       string
	Sentences    []byte
	Excluded     []byte
	ErrorMessage string
	RetryCount   int32
	RawTrace     string
	UpdatedAt    pgtype.Timestamptz
}

const upsertJob = `
INSERT INTO transform_jobs (
    id, dataset_id, status, total_rows, settings, exclusions, respondent_id_column,
    processed_rows, failed_rows, current_row_index, stat_errors, stat_retries,
    last_error, started_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
ON CONFLICT (id) DO UPDATE SET
    status = EXCLUDED.status,
    total_rows = EXCLUDED.total_rows,
    settings = EXCLUDED.settings,
    exclusions = EXCLUDED.exclusions,
    respondent_id_column = EXCLUDED.respondent_id_column,
    processed_rows = EXCLUDED.processed_rows,
    failed_rows = EXCLUDED.failed_rows,
    current_row_index = EXCLUDED.current_row_index,
    stat_errors = EXCLUDED.stat_errors,
    stat_retries = EXCLUDED.stat_retries,
    last_error = EXCLUDED.last_error,
    updated_at = EXCLUDED.updated_at`

func upsertJobRow(ctx context.Context, db DBTX, r jobRow) error {
	_, err := db.Exec(ctx, upsertJob,
		r.ID, r.DatasetID, r.Status, r.TotalRows, r.Settings, r.Exclusions, r.RespondentIDColumn,
		r.ProcessedRows, r.FailedRows, r.CurrentRowIndex, r.StatErrors, r.StatRetries,
		r.LastError, r.StartedAt, r.UpdatedAt,
	)
	return err
}

const getJobByDataset = `
SELECT id, dataset_id, status, total_rows, settings, exclusions, respondent_id_column,
       processed_rows, failed_rows, current_row_index, stat_errors, stat_retries,
       last_error, started_at, updated_at
FROM transform_jobs
WHERE dataset_id = $1`

func getJobRowByDataset(ctx context.Context, db DBTX, datasetID string) (jobRow, error) {
	var r jobRow
	err := db.QueryRow(ctx, getJobByDataset, datasetID).Scan(
		&r.ID, &r.DatasetID, &r.Status, &r.TotalRows, &r.Settings, &r.Exclusions, &r.RespondentIDColumn,
		&r.ProcessedRows, &r.FailedRows, &r.CurrentRowIndex, &r.StatErrors, &r.StatRetries,
		&r.LastError, &r.StartedAt, &r.UpdatedAt,
	)
	return r, err
}

const deleteJob = `DELETE FROM transform_jobs WHERE id = $1`

const upsertResult = `
INSERT INTO transform_results (
    job_id, row_index, respondent_id, status, sentences, excluded,
    error_message, retry_count, raw_trace, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (job_id, row_index) DO UPDATE SET
    respondent_id = EXCLUDED.respondent_id,
    status = EXCLUDED.status,
    sentences = EXCLUDED.sentences,
    excluded = EXCLUDED.excluded,
    error_message = EXCLUDED.error_message,
    retry_count = EXCLUDED.retry_count,
    raw_trace = EXCLUDED.raw_trace,
    updated_at = EXCLUDED.updated_at`

func upsertResultRow(ctx context.Context, db DBTX, r resultRow) error {
	_, err := db.Exec(ctx, upsertResult,
		r.JobID, r.RowIndex, r.RespondentID, r.Status, r.Sentences, r.Excluded,
		r.ErrorMessage, r.RetryCount, r.RawTrace, r.UpdatedAt,
	)
	return err
}

const resultColumns = `job_id, row_index, respondent_id, status, sentences, excluded, error_message, retry_count, raw_trace, updated_at`

const getResult = `SELECT ` + resultColumns + ` FROM transform_results WHERE job_id = $1 AND row_index = $2`

const listResults = `SELECT ` + resultColumns + ` FROM transform_results WHERE job_id = $1 ORDER BY row_index LIMIT $2 OFFSET $3`

const rangeResults = `SELECT ` + resultColumns + ` FROM transform_results WHERE job_id = $1 AND row_index >= $2 AND row_index < $3 ORDER BY row_index`

const countResults = `SELECT count(*) FROM transform_results WHERE job_id = $1`

const terminalRows = `SELECT row_index, status FROM transform_results WHERE job_id = $1 AND status IN ('completed', 'failed')`

const countByStatus = `SELECT status, count(*) FROM transform_results WHERE job_id = $1 GROUP BY status`

const deleteResultsByJob = `DELETE FROM transform_results WHERE job_id = $1`

func scanResultRow(row pgx.Row) (resultRow, error) {
	var r resultRow
	err := row.Scan(
		&r.JobID, &r.RowIndex, &r.RespondentID, &r.Status, &r.Sentences, &r.Excluded,
		&r.ErrorMessage, &r.RetryCount, &r.RawTrace, &r.UpdatedAt,
	)
	return r, err
}

func queryResultRows(ctx context.Context, db DBTX, sql string, args ...any) ([]resultRow, error) {
	rows, err := db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []resultRow
	for rows.Next() {
		r, err := scanResultRow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}
