package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/jinford/survey-twin/internal/module/transform/domain"
)

// JobRepository はプロセス内メモリにジョブを保持するJobRepository実装です
type JobRepository struct {
	mu        sync.RWMutex
	byDataset map[string]*domain.Job
}

var _ domain.JobRepository = (*JobRepository)(nil)

// NewJobRepository は新しいJobRepositoryを作成します
func NewJobRepository() *JobRepository {
	return &JobRepository{byDataset: make(map[string]*domain.Job)}
}

// Save はジョブを保存します。同じデータセットのジョブは置き換えられる
func (r *JobRepository) Save(_ context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byDataset[job.DatasetID] = job.Clone()
	return nil
}

// GetByDataset はデータセットのジョブを返します
func (r *JobRepository) GetByDataset(_ context.Context, datasetID string) (mo.Option[*domain.Job], error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.byDataset[datasetID]
	if !ok {
		return mo.None[*domain.Job](), nil
	}
	return mo.Some(job.Clone()), nil
}

// Delete はジョブを削除します
func (r *JobRepository) Delete(_ context.Context, jobID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for datasetID, job := range r.byDataset {
		if job.ID == jobID {
			delete(r.byDataset, datasetID)
		}
	}
	return nil
}
