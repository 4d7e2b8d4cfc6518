package dataset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jinford/survey-twin/internal/module/transform/domain"
)

// ErrInvalidDatasetID はファイル名として使えないデータセットIDのエラー
var ErrInvalidDatasetID = errors.New("invalid dataset id")

// datasetFile は<datasetDir>/<datasetID>.json の内容です
type datasetFile struct {
	TotalRows int               `json:"totalRows"`
	Variables []domain.Variable `json:"variables"`
	Rows      []domain.Row      `json:"rows"`
}

type cachedDataset struct {
	modTime time.Time
	data    *datasetFile
}

// FileProvider はディレクトリ上のJSONファイルをデータセットとして扱うDatasetProvider実装です
// ファイルの更新時刻が変わるまで内容をキャッシュする
type FileProvider struct {
	dir string

	mu    sync.Mutex
	cache map[string]cachedDataset
}

var _ domain.DatasetProvider = (*FileProvider)(nil)

// NewFileProvider は新しいFileProviderを作成します
func NewFileProvider(dir string) *FileProvider {
	return &FileProvider{
		dir:   dir,
		cache: make(map[string]cachedDataset),
	}
}

// Meta はデータセットの行数と変数定義を返します
func (p *FileProvider) Meta(ctx context.Context, datasetID string) (*domain.DatasetMeta, error) {
	data, err := p.load(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	return &domain.DatasetMeta{
		TotalRows: data.TotalRows,
		Variables: data.Variables,
	}, nil
}

// Rows は[offset, offset+limit)の行を返します
func (p *FileProvider) Rows(ctx context.Context, datasetID string, offset, limit int) ([]domain.Row, error) {
	if offset < 0 || limit < 0 {
		return nil, fmt.Errorf("invalid row window offset=%d limit=%d", offset, limit)
	}
	data, err := p.load(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	if offset >= len(data.Rows) {
		return []domain.Row{}, nil
	}
	end := min(offset+limit, len(data.Rows))

	rows := make([]domain.Row, 0, end-offset)
	for _, row := range data.Rows[offset:end] {
		copied := make(domain.Row, len(row))
		for k, v := range row {
			copied[k] = v
		}
		rows = append(rows, copied)
	}
	return rows, nil
}

func (p *FileProvider) load(ctx context.Context, datasetID string) (*datasetFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := p.path(datasetID)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat dataset %s: %w", datasetID, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if cached, ok := p.cache[datasetID]; ok && cached.modTime.Equal(info.ModTime()) {
		return cached.data, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset %s: %w", datasetID, err)
	}
	var data datasetFile
	if err := json.Unmarshal(content, &data); err != nil {
		return nil, fmt.Errorf("failed to parse dataset %s: %w", datasetID, err)
	}
	// totalRowsが省略されていれば行数を使う
	if data.TotalRows == 0 {
		data.TotalRows = len(data.Rows)
	}
	if data.TotalRows > len(data.Rows) {
		return nil, fmt.Errorf("dataset %s declares %d rows but contains %d", datasetID, data.TotalRows, len(data.Rows))
	}

	p.cache[datasetID] = cachedDataset{modTime: info.ModTime(), data: &data}
	return &data, nil
}

func (p *FileProvider) path(datasetID string) (string, error) {
	if datasetID == "" || datasetID != filepath.Base(datasetID) || strings.HasPrefix(datasetID, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidDatasetID, datasetID)
	}
	return filepath.Join(p.dir, datasetID+".json"), nil
}
