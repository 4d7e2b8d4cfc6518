package testing

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/jinford/survey-twin/internal/module/transform/domain"
)

// MockJobRepository はテスト用のモックJobRepositoryです
type MockJobRepository struct {
	SaveFunc         func(ctx context.Context, job *domain.Job) error
	GetByDatasetFunc func(ctx context.Context, datasetID string) (mo.Option[*domain.Job], error)
	DeleteFunc       func(ctx context.Context, jobID uuid.UUID) error
}

func (m *MockJobRepository) Save(ctx context.Context, job *domain.Job) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, job)
	}
	return nil
}

func (m *MockJobRepository) GetByDataset(ctx context.Context, datasetID string) (mo.Option[*domain.Job], error) {
	if m.GetByDatasetFunc != nil {
		return m.GetByDatasetFunc(ctx, datasetID)
	}
	return mo.None[*domain.Job](), nil
}

func (m *MockJobRepository) Delete(ctx context.Context, jobID uuid.UUID) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, jobID)
	}
	return nil
}

// MockResultWriter はテスト用のモックResultWriterです
type MockResultWriter struct {
	PutFunc         func(ctx context.Context, result *domain.TransformResult) error
	DeleteByJobFunc func(ctx context.Context, jobID uuid.UUID) error

	mu   sync.Mutex
	puts []*domain.TransformResult
}

func (m *MockResultWriter) Put(ctx context.Context, result *domain.TransformResult) error {
	m.mu.Lock()
	m.puts = append(m.puts, result.Clone())
	m.mu.Unlock()

	if m.PutFunc != nil {
		return m.PutFunc(ctx, result)
	}
	return nil
}

func (m *MockResultWriter) DeleteByJob(ctx context.Context, jobID uuid.UUID) error {
	if m.DeleteByJobFunc != nil {
		return m.DeleteByJobFunc(ctx, jobID)
	}
	return nil
}

// Puts は書き込まれた結果を書き込み順に返します
func (m *MockResultWriter) Puts() []*domain.TransformResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.TransformResult(nil), m.puts...)
}

// RecordingSink は通知されたジョブ状態を記録するStatusSinkです
type RecordingSink struct {
	mu       sync.Mutex
	statuses []domain.JobStatus
}

func (s *RecordingSink) Publish(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, job.Status)
	return nil
}

// Statuses は通知された状態を通知順に返します
func (s *RecordingSink) Statuses() []domain.JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.JobStatus(nil), s.statuses...)
}
