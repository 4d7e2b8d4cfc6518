package application

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jinford/survey-twin/internal/module/transform/domain"
)

// StatusSnapshot はポーリングクライアント向けのジョブ状態です
type StatusSnapshot struct {
	DatasetID       string              `json:"datasetId"`
	JobID           *uuid.UUID          `json:"jobId,omitempty"`
	Status          domain.JobStatus    `json:"status"`
	TotalRows       int                 `json:"totalRows"`
	EffectiveTotal  int                 `json:"effectiveTotal"`
	ProcessedRows   int                 `json:"processedRows"`
	FailedRows      int                 `json:"failedRows"`
	CurrentRowIndex int                 `json:"currentRowIndex"`
	InFlight        int                 `json:"inFlight"`
	Settings        *domain.Settings    `json:"settings,omitempty"`
	Stats           domain.JobStats     `json:"stats"`
	Results         domain.ResultCounts `json:"results"`
	LastError       string              `json:"lastError,omitempty"`
	PendingSettings *PendingChange      `json:"pendingSettings,omitempty"`
	// PollAgain はクライアントがポーリングを続けるべきかどうか。running以外ではfalse
	PollAgain bool       `json:"pollAgain"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// StatusPublisher はジョブと結果ストアから読み取り専用のスナップショットを組み立てます
type StatusPublisher struct {
	service    *TransformService
	results    domain.ResultReader
	reconciler *SettingsReconciler
}

// NewStatusPublisher は新しいStatusPublisherを作成します
// reconcilerはnilでもよい
func NewStatusPublisher(service *TransformService, results domain.ResultReader, reconciler *SettingsReconciler) *StatusPublisher {
	return &StatusPublisher{
		service:    service,
		results:    results,
		reconciler: reconciler,
	}
}

// Snapshot はデータセットの現在の状態を返します。ジョブがなければidle
func (p *StatusPublisher) Snapshot(ctx context.Context, datasetID string) (*StatusSnapshot, error) {
	controller, err := p.service.Controller(datasetID)
	if err != nil {
		return nil, err
	}
	job, inFlight, err := controller.Observe(ctx)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return &StatusSnapshot{
			DatasetID:       datasetID,
			Status:          domain.JobStatusIdle,
			CurrentRowIndex: -1,
		}, nil
	}

	counts, err := p.results.Counts(ctx, job.ID)
	if err != nil {
		return nil, domain.NewFatalError(err, "failed to count results")
	}

	jobID := job.ID
	settings := job.Settings
	snapshot := &StatusSnapshot{
		DatasetID:       datasetID,
		JobID:           &jobID,
		Status:          job.Status,
		TotalRows:       job.TotalRows,
		EffectiveTotal:  job.EffectiveTotal(),
		ProcessedRows:   job.ProcessedRows,
		FailedRows:      job.FailedRows,
		CurrentRowIndex: job.CurrentRowIndex,
		InFlight:        inFlight,
		Settings:        &settings,
		Stats:           job.Stats,
		Results:         counts,
		LastError:       job.LastError,
		PollAgain:       job.Status == domain.JobStatusRunning,
		StartedAt:       &job.StartedAt,
		UpdatedAt:       &job.UpdatedAt,
	}
	if p.reconciler != nil {
		if change, ok := p.reconciler.Pending(ctx, datasetID); ok {
			snapshot.PendingSettings = &change
		}
	}
	return snapshot, nil
}

// FromJob はジョブだけからスナップショットを組み立てます。状態遷移の通知に使う
func FromJob(job *domain.Job) *StatusSnapshot {
	jobID := job.ID
	settings := job.Settings
	return &StatusSnapshot{
		DatasetID:       job.DatasetID,
		JobID:           &jobID,
		Status:          job.Status,
		TotalRows:       job.TotalRows,
		EffectiveTotal:  job.EffectiveTotal(),
		ProcessedRows:   job.ProcessedRows,
		FailedRows:      job.FailedRows,
		CurrentRowIndex: job.CurrentRowIndex,
		Settings:        &settings,
		Stats:           job.Stats,
		LastError:       job.LastError,
		PollAgain:       job.Status == domain.JobStatusRunning,
		StartedAt:       &job.StartedAt,
		UpdatedAt:       &job.UpdatedAt,
	}
}
