package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/jinford/survey-twin/internal/module/transform/domain"
)

// ResultStore はプロセス内メモリに変換結果を保持するResultStore実装です
type ResultStore struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]map[int]*domain.TransformResult
}

var _ domain.ResultStore = (*ResultStore)(nil)

// NewResultStore は新しいResultStoreを作成します
func NewResultStore() *ResultStore {
	return &ResultStore{rows: make(map[uuid.UUID]map[int]*domain.TransformResult)}
}

// Put は結果を作成または上書きします
func (s *ResultStore) Put(_ context.Context, result *domain.TransformResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byRow, ok := s.rows[result.JobID]
	if !ok {
		byRow = make(map[int]*domain.TransformResult)
		s.rows[result.JobID] = byRow
	}
	byRow[result.RowIndex] = result.Clone()
	return nil
}

// Get は1行の結果を返します
func (s *ResultStore) Get(_ context.Context, jobID uuid.UUID, rowIndex int) (mo.Option[*domain.TransformResult], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result, ok := s.rows[jobID][rowIndex]
	if !ok {
		return mo.None[*domain.TransformResult](), nil
	}
	return mo.Some(result.Clone()), nil
}

// List はrowIndex昇順のページと総件数を返します
func (s *ResultStore) List(_ context.Context, jobID uuid.UUID, offset, limit int) ([]*domain.TransformResult, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	indexes := s.sortedIndexesLocked(jobID)
	total := len(indexes)
	if offset >= total {
		return []*domain.TransformResult{}, total, nil
	}
	end := min(offset+limit, total)

	page := make([]*domain.TransformResult, 0, end-offset)
	for _, idx := range indexes[offset:end] {
		page = append(page, s.rows[jobID][idx].Clone())
	}
	return page, total, nil
}

// Range は[startRow, startRow+limit)の結果をrowIndex昇順で返します
func (s *ResultStore) Range(_ context.Context, jobID uuid.UUID, startRow, limit int) ([]*domain.TransformResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := []*domain.TransformResult{}
	for _, idx := range s.sortedIndexesLocked(jobID) {
		if idx >= startRow && idx < startRow+limit {
			results = append(results, s.rows[jobID][idx].Clone())
		}
	}
	return results, nil
}

// TerminalRows はcompleted/failedの行を返します
func (s *ResultStore) TerminalRows(_ context.Context, jobID uuid.UUID) (map[int]domain.RowStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	terminal := make(map[int]domain.RowStatus)
	for idx, result := range s.rows[jobID] {
		if result.Status.IsTerminal() {
			terminal[idx] = result.Status
		}
	}
	return terminal, nil
}

// Counts は状態別の件数を返します
func (s *ResultStore) Counts(_ context.Context, jobID uuid.UUID) (domain.ResultCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var counts domain.ResultCounts
	for _, result := range s.rows[jobID] {
		switch result.Status {
		case domain.RowStatusCompleted:
			counts.Completed++
		case domain.RowStatusFailed:
			counts.Failed++
		case domain.RowStatusProcessing:
			counts.Processing++
		}
	}
	return counts, nil
}

// DeleteByJob はジョブの全結果を削除します
func (s *ResultStore) DeleteByJob(_ context.Context, jobID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, jobID)
	return nil
}

func (s *ResultStore) sortedIndexesLocked(jobID uuid.UUID) []int {
	indexes := make([]int, 0, len(s.rows[jobID]))
	for idx := range s.rows[jobID] {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	return indexes
}
