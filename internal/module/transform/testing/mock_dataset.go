package testing

import (
	"context"
	"errors"
	"sync"

	"github.com/jinford/survey-twin/internal/module/transform/domain"
)

// ErrDatasetDown はMockDatasetProviderが読み取り不能な状態で返すエラーです
var ErrDatasetDown = errors.New("dataset backend is down")

// MockDatasetProvider はメモリ上のデータセットを返すモックDatasetProviderです
type MockDatasetProvider struct {
	MetaFunc func(ctx context.Context, datasetID string) (*domain.DatasetMeta, error)
	RowsFunc func(ctx context.Context, datasetID string, offset, limit int) ([]domain.Row, error)

	mu   sync.Mutex
	meta *domain.DatasetMeta
	rows []domain.Row
	down bool
}

// NewMockDatasetProvider はメタ情報と行からモックを作成します
func NewMockDatasetProvider(meta *domain.DatasetMeta, rows []domain.Row) *MockDatasetProvider {
	return &MockDatasetProvider{meta: meta, rows: rows}
}

// SetDown は読み取り不能状態を切り替えます
func (m *MockDatasetProvider) SetDown(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.down = down
}

// Meta はMetaのモック実装です
func (m *MockDatasetProvider) Meta(ctx context.Context, datasetID string) (*domain.DatasetMeta, error) {
	if m.MetaFunc != nil {
		return m.MetaFunc(ctx, datasetID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return nil, ErrDatasetDown
	}
	meta := *m.meta
	return &meta, nil
}

// Rows はRowsのモック実装です
func (m *MockDatasetProvider) Rows(ctx context.Context, datasetID string, offset, limit int) ([]domain.Row, error) {
	if m.RowsFunc != nil {
		return m.RowsFunc(ctx, datasetID, offset, limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return nil, ErrDatasetDown
	}
	if offset >= len(m.rows) {
		return []domain.Row{}, nil
	}
	end := min(offset+limit, len(m.rows))
	return m.rows[offset:end], nil
}
