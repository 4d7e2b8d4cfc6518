package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/jinford/survey-twin/internal/module/transform/domain"
)

// ProcessorConfig はチャンク処理の設定です
type ProcessorConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	ChunkTimeout   time.Duration
	// Parallelism は1行内で同時に呼び出すチャンク数。1以下なら逐次
	Parallelism int
}

// DefaultProcessorConfig はデフォルトのチャンク処理設定を返します
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		MaxRetries:     3,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		ChunkTimeout:   60 * time.Second,
		Parallelism:    1,
	}
}

// TokenCounter は診断トレース用にテキストのトークン数を数えます
type TokenCounter interface {
	Count(text string) int
}

// RowTask は1行の処理に必要なジョブ設定のスナップショットです
type RowTask struct {
	JobID              uuid.UUID
	DatasetID          string
	RowIndex           int
	ChunkSize          int
	Variables          []domain.Variable
	Exclusions         domain.Exclusions
	RespondentIDColumn string
}

// RowHooks はリトライとエラーの発生をジョブ集計へ伝えます
type RowHooks struct {
	OnRetry func()
	OnError func()
}

// ChunkProcessor は1行を列チャンクに分割してエンジンへ送り、結果を集約します
type ChunkProcessor struct {
	engine   domain.Engine
	datasets domain.DatasetProvider
	store    domain.ResultWriter
	counter  TokenCounter
	config   ProcessorConfig
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewChunkProcessor は新しいChunkProcessorを作成します
func NewChunkProcessor(engine domain.Engine, datasets domain.DatasetProvider, store domain.ResultWriter, config ProcessorConfig, logger *slog.Logger) *ChunkProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Parallelism < 1 {
		config.Parallelism = 1
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	return &ChunkProcessor{
		engine:   engine,
		datasets: datasets,
		store:    store,
		config:   config,
		logger:   logger,
		tracer:   otel.Tracer("survey-twin/transform"),
	}
}

// WithTokenCounter は診断トレースにトークン数を含めるカウンターを設定します
func (p *ChunkProcessor) WithTokenCounter(counter TokenCounter) *ChunkProcessor {
	p.counter = counter
	return p
}

type chunkResult struct {
	done      bool
	sentences []domain.Sentence
	retries   int
	tokens    int
	err       error
}

// ProcessRow は1行を処理し、結果をResultStoreへ書き込みます
// データセットの読み取り失敗と結果の書き込み失敗はFatalとして返す
func (p *ChunkProcessor) ProcessRow(ctx context.Context, task RowTask, hooks RowHooks) RowOutcome {
	ctx, span := p.tracer.Start(ctx, "chunkProcessor.processRow",
		trace.WithAttributes(
			attribute.String("dataset.id", task.DatasetID),
			attribute.String("job.id", task.JobID.String()),
			attribute.Int("row.index", task.RowIndex),
		),
	)
	defer span.End()

	outcome := p.processRow(ctx, task, hooks)
	switch {
	case outcome.Fatal != nil:
		span.RecordError(outcome.Fatal)
		span.SetStatus(codes.Error, outcome.Fatal.Error())
	case outcome.Status == domain.RowStatusFailed:
		span.SetStatus(codes.Error, outcome.Message)
	default:
		span.SetStatus(codes.Ok, "row transformed")
	}
	span.SetAttributes(attribute.Int("row.retries", outcome.RetryCount))
	return outcome
}

func (p *ChunkProcessor) processRow(ctx context.Context, task RowTask, hooks RowHooks) RowOutcome {
	rows, err := p.datasets.Rows(ctx, task.DatasetID, task.RowIndex, 1)
	if err != nil {
		return RowOutcome{Fatal: fmt.Errorf("%w: failed to read row %d: %v", domain.ErrDatasetUnavailable, task.RowIndex, err)}
	}
	if len(rows) == 0 {
		return RowOutcome{Fatal: fmt.Errorf("%w: row %d not found", domain.ErrDatasetUnavailable, task.RowIndex)}
	}
	row := rows[0]

	plan := ClassifyColumns(task.Variables, row, task.Exclusions, task.RespondentIDColumn)
	result := &domain.TransformResult{
		JobID:        task.JobID,
		RowIndex:     task.RowIndex,
		RespondentID: ResolveRespondentID(row, task.Variables, task.RespondentIDColumn),
		Status:       domain.RowStatusProcessing,
		Sentences:    []domain.Sentence{},
		Excluded:     plan.Excluded,
		UpdatedAt:    time.Now(),
	}
	if err := p.store.Put(ctx, result); err != nil {
		return RowOutcome{Fatal: fmt.Errorf("%w: failed to claim row %d: %v", domain.ErrStoreUnavailable, task.RowIndex, err)}
	}

	chunks := ChunkColumns(plan.Active, task.ChunkSize)
	if len(chunks) == 0 {
		return p.settle(ctx, result, domain.RowStatusFailed, "no active columns to transform", "no active columns")
	}

	excluded := make([]string, 0, len(plan.Excluded.UserExcluded)+len(plan.Excluded.ExcludeOptions))
	excluded = append(excluded, plan.Excluded.UserExcluded...)
	excluded = append(excluded, plan.Excluded.ExcludeOptions...)
	base := domain.EngineRequest{
		DatasetID:         task.DatasetID,
		RowIndex:          task.RowIndex,
		ChunkCount:        len(chunks),
		AdminVariables:    plan.Excluded.AdminVariables,
		ExcludedVariables: excluded,
	}

	results := make([]chunkResult, len(chunks))
	var mu sync.Mutex

	// checkpoint は完了済みチャンクの文をチャンク順に並べて書き込みます
	checkpoint := func() error {
		mu.Lock()
		defer mu.Unlock()
		result.Sentences = aggregateSentences(results)
		result.RetryCount = totalRetries(results)
		result.UpdatedAt = time.Now()
		return p.store.Put(ctx, result)
	}

	if p.config.Parallelism > 1 && len(chunks) > 1 {
		var g errgroup.Group
		g.SetLimit(p.config.Parallelism)
		for i, columns := range chunks {
			g.Go(func() error {
				req := base
				req.ChunkIndex = i
				req.Columns = columns
				res := p.runChunk(ctx, req, hooks)
				mu.Lock()
				results[i] = res
				mu.Unlock()
				if res.err != nil {
					return nil
				}
				return checkpoint()
			})
		}
		if err := g.Wait(); err != nil {
			return RowOutcome{Fatal: fmt.Errorf("%w: failed to write row %d: %v", domain.ErrStoreUnavailable, task.RowIndex, err), Claimed: true}
		}
	} else {
		prior := 0
		for i, columns := range chunks {
			req := base
			req.ChunkIndex = i
			req.Columns = columns
			req.PriorSentences = prior
			results[i] = p.runChunk(ctx, req, hooks)
			if results[i].err != nil {
				break
			}
			prior += len(results[i].sentences)
			if err := checkpoint(); err != nil {
				return RowOutcome{Fatal: fmt.Errorf("%w: failed to write row %d: %v", domain.ErrStoreUnavailable, task.RowIndex, err), Claimed: true}
			}
		}
	}

	if ctx.Err() != nil {
		return RowOutcome{Fatal: ctx.Err(), Claimed: true}
	}

	result.Sentences = aggregateSentences(results)
	result.RetryCount = totalRetries(results)
	rawTrace := buildTrace(results, chunks)

	if failed := lastChunkError(results); failed != nil {
		return p.settle(ctx, result, domain.RowStatusFailed, failed.Error(), rawTrace)
	}
	if len(result.Sentences) == 0 {
		return p.settle(ctx, result, domain.RowStatusFailed, "engine returned no sentences", rawTrace)
	}
	return p.settle(ctx, result, domain.RowStatusCompleted, "", rawTrace)
}

func (p *ChunkProcessor) settle(ctx context.Context, result *domain.TransformResult, status domain.RowStatus, message, rawTrace string) RowOutcome {
	result.Status = status
	result.ErrorMessage = message
	result.RawTrace = rawTrace
	result.UpdatedAt = time.Now()
	if err := p.store.Put(ctx, result); err != nil {
		return RowOutcome{Fatal: fmt.Errorf("%w: failed to settle row %d: %v", domain.ErrStoreUnavailable, result.RowIndex, err), Claimed: true}
	}

	if status == domain.RowStatusFailed {
		p.logger.Warn("row failed",
			"jobID", result.JobID,
			"rowIndex", result.RowIndex,
			"retries", result.RetryCount,
			"error", message,
		)
	} else {
		p.logger.Debug("row completed",
			"jobID", result.JobID,
			"rowIndex", result.RowIndex,
			"sentences", len(result.Sentences),
			"retries", result.RetryCount,
		)
	}
	return RowOutcome{Status: status, RetryCount: result.RetryCount, Message: message}
}

// runChunk は1チャンクをリトライポリシー付きでエンジンに送ります
func (p *ChunkProcessor) runChunk(ctx context.Context, req domain.EngineRequest, hooks RowHooks) chunkResult {
	ctx, span := p.tracer.Start(ctx, "chunkProcessor.transformChunk",
		trace.WithAttributes(
			attribute.Int("row.index", req.RowIndex),
			attribute.Int("chunk.index", req.ChunkIndex),
			attribute.Int("chunk.columns", len(req.Columns)),
		),
	)
	defer span.End()

	res := chunkResult{tokens: p.countTokens(req.Columns)}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.config.InitialBackoff
	b.MaxInterval = p.config.MaxBackoff
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.config.MaxRetries)), ctx)

	operation := func() ([]domain.Sentence, error) {
		sentences, err := p.attempt(ctx, req)
		if err == nil {
			return sentences, nil
		}
		if hooks.OnError != nil {
			hooks.OnError()
		}
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		if domain.IsTransient(err) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	notify := func(err error, wait time.Duration) {
		res.retries++
		if hooks.OnRetry != nil {
			hooks.OnRetry()
		}
		p.logger.Warn("retrying chunk after transient failure",
			"rowIndex", req.RowIndex,
			"chunk", req.ChunkIndex,
			"retry", res.retries,
			"wait", wait,
			"error", err,
		)
	}

	sentences, err := backoff.RetryNotifyWithData(operation, policy, notify)
	span.SetAttributes(attribute.Int("chunk.retries", res.retries))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		res.err = err
		return res
	}

	res.done = true
	res.sentences = sentences
	return res
}

func (p *ChunkProcessor) attempt(ctx context.Context, req domain.EngineRequest) ([]domain.Sentence, error) {
	if p.config.ChunkTimeout <= 0 {
		return p.engine.Transform(ctx, req)
	}
	callCtx, cancel := context.WithTimeout(ctx, p.config.ChunkTimeout)
	defer cancel()
	return p.engine.Transform(callCtx, req)
}

func (p *ChunkProcessor) countTokens(columns []domain.ColumnValue) int {
	if p.counter == nil {
		return 0
	}
	payload, err := json.Marshal(columns)
	if err != nil {
		return 0
	}
	return p.counter.Count(string(payload))
}

func aggregateSentences(results []chunkResult) []domain.Sentence {
	sentences := []domain.Sentence{}
	for _, r := range results {
		if r.done {
			sentences = append(sentences, r.sentences...)
		}
	}
	return sentences
}

func totalRetries(results []chunkResult) int {
	total := 0
	for _, r := range results {
		total += r.retries
	}
	return total
}

// lastChunkError はチャンク順で最後に失敗したチャンクのエラーを返します
func lastChunkError(results []chunkResult) error {
	var last error
	for _, r := range results {
		if r.err != nil {
			last = r.err
		}
	}
	return last
}

func buildTrace(results []chunkResult, chunks [][]domain.ColumnValue) string {
	var sb strings.Builder
	for i, r := range results {
		fmt.Fprintf(&sb, "chunk %d/%d columns=%d", i+1, len(chunks), len(chunks[i]))
		if r.tokens > 0 {
			fmt.Fprintf(&sb, " tokens=%d", r.tokens)
		}
		switch {
		case r.done:
			fmt.Fprintf(&sb, " sentences=%d retries=%d\n", len(r.sentences), r.retries)
		case r.err != nil:
			fmt.Fprintf(&sb, " retries=%d error=%s\n", r.retries, r.err)
		default:
			sb.WriteString(" skipped\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
