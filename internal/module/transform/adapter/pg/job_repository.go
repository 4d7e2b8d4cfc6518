package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/samber/mo"

	"github.com/jinford/survey-twin/internal/module/transform/domain"
)

// JobRepository はtransform_jobsテーブルの永続化アダプターです
type JobRepository struct {
	db DBTX
}

var _ domain.JobRepository = (*JobRepository)(nil)

// NewJobRepository は新しいジョブリポジトリを作成します
func NewJobRepository(db DBTX) *JobRepository {
	return &JobRepository{db: db}
}

// Save はジョブを作成または更新します
// 同じジョブの削除とはアドバイザリロックで直列化する
func (r *JobRepository) Save(ctx context.Context, job *domain.Job) error {
	row, err := toJobRow(job)
	if err != nil {
		return err
	}
	_, err = Transact(ctx, r.db, func(a *Adapter) (struct{}, error) {
		if err := a.Locks.LockJob(ctx, job.ID); err != nil {
			return struct{}{}, err
		}
		if err := upsertJobRow(ctx, a.Jobs.db, row); err != nil {
			return struct{}{}, fmt.Errorf("failed to save job: %w", err)
		}
		return struct{}{}, nil
	})
	return err
}

// GetByDataset はデータセットのジョブを取得します
func (r *JobRepository) GetByDataset(ctx context.Context, datasetID string) (mo.Option[*domain.Job], error) {
	row, err := getJobRowByDataset(ctx, r.db, datasetID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return mo.None[*domain.Job](), nil
		}
		return mo.None[*domain.Job](), fmt.Errorf("failed to get job: %w", err)
	}

	job, err := fromJobRow(row)
	if err != nil {
		return mo.None[*domain.Job](), err
	}
	return mo.Some(job), nil
}

// Delete はジョブとその変換結果を1トランザクションで削除します
func (r *JobRepository) Delete(ctx context.Context, jobID uuid.UUID) error {
	_, err := Transact(ctx, r.db, func(a *Adapter) (struct{}, error) {
		if err := a.Locks.LockJob(ctx, jobID); err != nil {
			return struct{}{}, err
		}
		if err := a.Results.DeleteByJob(ctx, jobID); err != nil {
			return struct{}{}, err
		}
		if _, err := a.Jobs.db.Exec(ctx, deleteJob, UUIDToPgtype(jobID)); err != nil {
			return struct{}{}, fmt.Errorf("failed to delete job: %w", err)
		}
		return struct{}{}, nil
	})
	return err
}

func toJobRow(job *domain.Job) (jobRow, error) {
	settings, err := json.Marshal(job.Settings)
	if err != nil {
		return jobRow{}, fmt.Errorf("failed to encode settings: %w", err)
	}
	exclusions, err := json.Marshal(job.Exclusions)
	if err != nil {
		return jobRow{}, fmt.Errorf("failed to encode exclusions: %w", err)
	}
	return jobRow{
		ID:                 UUIDToPgtype(job.ID),
		DatasetID:          job.DatasetID,
		Status:             string(job.Status),
		TotalRows:          int32(job.TotalRows),
		Settings:           settings,
		Exclusions:         exclusions,
		RespondentIDColumn: job.RespondentIDColumn,
		ProcessedRows:      int32(job.ProcessedRows),
		FailedRows:         int32(job.FailedRows),
		CurrentRowIndex:    int32(job.CurrentRowIndex),
		StatErrors:         int32(job.Stats.Errors),
		StatRetries:        int32(job.Stats.Retries),
		LastError:          job.LastError,
		StartedAt:          TimeToPgtype(job.StartedAt),
		UpdatedAt:          TimeToPgtype(job.UpdatedAt),
	}, nil
}

func fromJobRow(row jobRow) (*domain.Job, error) {
	job := &domain.Job{
		ID:                 PgtypeToUUID(row.ID),
		DatasetID:          row.DatasetID,
		Status:             domain.JobStatus(row.Status),
		TotalRows:          int(row.TotalRows),
		RespondentIDColumn: row.RespondentIDColumn,
		ProcessedRows:      int(row.ProcessedRows),
		FailedRows:         int(row.FailedRows),
		CurrentRowIndex:    int(row.CurrentRowIndex),
		Stats:              domain.JobStats{Errors: int(row.StatErrors), Retries: int(row.StatRetries)},
		LastError:          row.LastError,
		StartedAt:          PgtypeToTime(row.StartedAt),
		UpdatedAt:          PgtypeToTime(row.UpdatedAt),
	}
	if err := json.Unmarshal(row.Settings, &job.Settings); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	if err := json.Unmarshal(row.Exclusions, &job.Exclusions); err != nil {
		return nil, fmt.Errorf("failed to decode exclusions: %w", err)
	}
	return job, nil
}
