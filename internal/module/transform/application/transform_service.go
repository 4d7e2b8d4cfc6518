package application

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/jinford/survey-twin/internal/module/transform/domain"
)

// MaxPageSize は結果取得1回あたりの最大件数です
const MaxPageSize = 500

// maxRowIndex は行インデックスとして扱える上限です(永続化ストアはint4で保持する)
const maxRowIndex = math.MaxInt32

type serviceDeps struct {
	jobs      domain.JobRepository
	results   domain.ResultStore
	datasets  domain.DatasetProvider
	processor *ChunkProcessor
	sink      domain.StatusSink
	logger    *slog.Logger
}

// TransformService はデータセットごとのJobControllerを束ね、結果の参照を提供します
type TransformService struct {
	deps    serviceDeps
	baseCtx context.Context
	cancel  context.CancelFunc

	mu          sync.Mutex
	controllers map[string]*JobController
}

// NewTransformService は新しいTransformServiceを作成します
// sinkはnilでもよい
func NewTransformService(
	jobs domain.JobRepository,
	results domain.ResultStore,
	datasets domain.DatasetProvider,
	processor *ChunkProcessor,
	sink domain.StatusSink,
	logger *slog.Logger,
) *TransformService {
	if logger == nil {
		logger = slog.Default()
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	return &TransformService{
		deps: serviceDeps{
			jobs:      jobs,
			results:   results,
			datasets:  datasets,
			processor: processor,
			sink:      sink,
			logger:    logger,
		},
		baseCtx:     baseCtx,
		cancel:      cancel,
		controllers: make(map[string]*JobController),
	}
}

// Controller はデータセットのJobControllerを返します。なければ作成する
func (s *TransformService) Controller(datasetID string) (*JobController, error) {
	datasetID = strings.TrimSpace(datasetID)
	if datasetID == "" {
		return nil, domain.NewValidationError(domain.ErrInvalidSettings, "dataset id is required", "")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.controllers[datasetID]
	if !ok {
		c = newJobController(s.baseCtx, datasetID, s.deps)
		s.controllers[datasetID] = c
	}
	return c, nil
}

// Start はジョブを開始します
func (s *TransformService) Start(ctx context.Context, cfg domain.JobConfig, opts StartOptions) (*domain.Job, error) {
	c, err := s.Controller(cfg.DatasetID)
	if err != nil {
		return nil, err
	}
	return c.Start(ctx, cfg, opts)
}

// Pause はジョブを一時停止します
func (s *TransformService) Pause(ctx context.Context, datasetID string) (*domain.Job, error) {
	c, err := s.Controller(datasetID)
	if err != nil {
		return nil, err
	}
	return c.Pause(ctx)
}

// Stop はジョブを停止します
func (s *TransformService) Stop(ctx context.Context, datasetID string) (*domain.Job, error) {
	c, err := s.Controller(datasetID)
	if err != nil {
		return nil, err
	}
	return c.Stop(ctx)
}

// Resume はジョブを再開します
func (s *TransformService) Resume(ctx context.Context, datasetID string) (*domain.Job, error) {
	c, err := s.Controller(datasetID)
	if err != nil {
		return nil, err
	}
	return c.Resume(ctx)
}

// Cancel はジョブをキャンセルします
func (s *TransformService) Cancel(ctx context.Context, datasetID string) (CancelResult, error) {
	c, err := s.Controller(datasetID)
	if err != nil {
		return CancelResult{}, err
	}
	return c.Cancel(ctx)
}

// Reset はジョブと変換結果を削除します
func (s *TransformService) Reset(ctx context.Context, datasetID, confirmToken string) error {
	c, err := s.Controller(datasetID)
	if err != nil {
		return err
	}
	return c.Reset(ctx, confirmToken)
}

// RetryRow は1行を再処理します
func (s *TransformService) RetryRow(ctx context.Context, datasetID string, rowIndex int) (*domain.Job, error) {
	c, err := s.Controller(datasetID)
	if err != nil {
		return nil, err
	}
	return c.RetryRow(ctx, rowIndex)
}

// Continue は完了済みジョブの処理対象を広げて再開します
func (s *TransformService) Continue(ctx context.Context, datasetID string, settings domain.Settings) (*domain.Job, error) {
	c, err := s.Controller(datasetID)
	if err != nil {
		return nil, err
	}
	return c.Continue(ctx, settings)
}

// Job はジョブのスナップショットを返します
func (s *TransformService) Job(ctx context.Context, datasetID string) (*domain.Job, error) {
	c, err := s.Controller(datasetID)
	if err != nil {
		return nil, err
	}
	return c.Job(ctx)
}

// Wait はデータセットの処理中の行がすべて終わるまで待ちます
func (s *TransformService) Wait(datasetID string) {
	if c, err := s.Controller(datasetID); err == nil {
		c.Wait()
	}
}

// Results はrowIndex昇順の結果ページと総件数を返します
func (s *TransformService) Results(ctx context.Context, datasetID string, offset, limit int) ([]*domain.TransformResult, int, error) {
	if offset < 0 || offset > maxRowIndex || limit < 1 || limit > MaxPageSize {
		return nil, 0, domain.NewValidationError(domain.ErrInvalidSettings, "offset must be within [0, 2147483647] and limit within [1, 500]", "")
	}
	job, err := s.Job(ctx, datasetID)
	if err != nil {
		return nil, 0, err
	}
	items, total, err := s.deps.results.List(ctx, job.ID, offset, limit)
	if err != nil {
		return nil, 0, domain.NewFatalError(err, "failed to list results")
	}
	return items, total, nil
}

// ResultsRange は[startRow, startRow+limit)の結果を返します
func (s *TransformService) ResultsRange(ctx context.Context, datasetID string, startRow, limit int) ([]*domain.TransformResult, error) {
	if limit < 1 || limit > MaxPageSize {
		return nil, domain.NewValidationError(domain.ErrInvalidSettings, "limit must be within [1, 500]", "")
	}
	if startRow < 0 || startRow > maxRowIndex-limit {
		return nil, domain.NewValidationError(domain.ErrRowOutOfRange, "start is out of range", "")
	}
	job, err := s.Job(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	items, err := s.deps.results.Range(ctx, job.ID, startRow, limit)
	if err != nil {
		return nil, domain.NewFatalError(err, "failed to read result range")
	}
	return items, nil
}

// Result は1行の結果を返します
func (s *TransformService) Result(ctx context.Context, datasetID string, rowIndex int) (*domain.TransformResult, error) {
	job, err := s.Job(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	if rowIndex < 0 || rowIndex > maxRowIndex {
		return nil, domain.NewNotFoundError(domain.ErrResultNotFound, fmt.Sprintf("no result for row %d", rowIndex))
	}
	found, err := s.deps.results.Get(ctx, job.ID, rowIndex)
	if err != nil {
		return nil, domain.NewFatalError(err, "failed to read result")
	}
	result, ok := found.Get()
	if !ok {
		return nil, domain.NewNotFoundError(domain.ErrResultNotFound, fmt.Sprintf("no result for row %d", rowIndex))
	}
	return result, nil
}

// Shutdown は全ジョブのディスパッチを止め、ctxの期限まで処理中の行を待ちます
func (s *TransformService) Shutdown(ctx context.Context) {
	s.mu.Lock()
	controllers := make([]*JobController, 0, len(s.controllers))
	for _, c := range s.controllers {
		controllers = append(controllers, c)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range controllers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Shutdown(ctx)
		}()
	}
	wg.Wait()
	s.cancel()
}
