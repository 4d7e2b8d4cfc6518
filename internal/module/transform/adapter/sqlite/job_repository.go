package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/jinford/survey-twin/internal/module/transform/domain"
)

// JobRepository はSQLite上のJobRepository実装です
type JobRepository struct {
	db *sql.DB
}

var _ domain.JobRepository = (*JobRepository)(nil)

// Save はジョブを作成または更新します
func (r *JobRepository) Save(ctx context.Context, job *domain.Job) error {
	settings, err := json.Marshal(job.Settings)
	if err != nil {
		return wrapErr("failed to encode settings", err)
	}
	exclusions, err := json.Marshal(job.Exclusions)
	if err != nil {
		return wrapErr("failed to encode exclusions", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO transform_jobs (
			id, dataset_id, status, total_rows, settings, exclusions, respondent_id_column,
			processed_rows, failed_rows, current_row_index, stat_errors, stat_retries,
			last_error, started_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			total_rows = excluded.total_rows,
			settings = excluded.settings,
			exclusions = excluded.exclusions,
			respondent_id_column = excluded.respondent_id_column,
			processed_rows = excluded.processed_rows,
			failed_rows = excluded.failed_rows,
			current_row_index = excluded.current_row_index,
			stat_errors = excluded.stat_errors,
			stat_retries = excluded.stat_retries,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at
	`,
		job.ID.String(), job.DatasetID, string(job.Status), job.TotalRows, string(settings), string(exclusions), job.RespondentIDColumn,
		job.ProcessedRows, job.FailedRows, job.CurrentRowIndex, job.Stats.Errors, job.Stats.Retries,
		job.LastError, job.StartedAt.UnixNano(), job.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return wrapErr("failed to save job", err)
	}
	return nil
}

// GetByDataset はデータセットのジョブを取得します
func (r *JobRepository) GetByDataset(ctx context.Context, datasetID string) (mo.Option[*domain.Job], error) {
	var (
		job                  domain.Job
		id, status           string
		settings, exclusions string
		startedAt, updatedAt int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, dataset_id, status, total_rows, settings, exclusions, respondent_id_column,
			processed_rows, failed_rows, current_row_index, stat_errors, stat_retries,
			last_error, started_at, updated_at
		FROM transform_jobs WHERE dataset_id = ?
	`, datasetID).Scan(
		&id, &job.DatasetID, &status, &job.TotalRows, &settings, &exclusions, &job.RespondentIDColumn,
		&job.ProcessedRows, &job.FailedRows, &job.CurrentRowIndex, &job.Stats.Errors, &job.Stats.Retries,
		&job.LastError, &startedAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return mo.None[*domain.Job](), nil
	}
	if err != nil {
		return mo.None[*domain.Job](), wrapErr("failed to get job", err)
	}

	if job.ID, err = uuid.Parse(id); err != nil {
		return mo.None[*domain.Job](), wrapErr("invalid job id", err)
	}
	if err := json.Unmarshal([]byte(settings), &job.Settings); err != nil {
		return mo.None[*domain.Job](), wrapErr("failed to decode settings", err)
	}
	if err := json.Unmarshal([]byte(exclusions), &job.Exclusions); err != nil {
		return mo.None[*domain.Job](), wrapErr("failed to decode exclusions", err)
	}
	job.Status = domain.JobStatus(status)
	job.StartedAt = time.Unix(0, startedAt)
	job.UpdatedAt = time.Unix(0, updatedAt)
	return mo.Some(&job), nil
}

// Delete はジョブとその変換結果を1トランザクションで削除します
func (r *JobRepository) Delete(ctx context.Context, jobID uuid.UUID) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM transform_results WHERE job_id = ?`, jobID.String()); err != nil {
		return wrapErr("failed to delete results", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM transform_jobs WHERE id = ?`, jobID.String()); err != nil {
		return wrapErr("failed to delete job", err)
	}
	if err := tx.Commit(); err != nil {
		return wrapErr("failed to commit transaction", err)
	}
	return nil
}
