package container

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/nats-io/nats.go"

	"github.com/jinford/survey-twin/internal/module/transform/adapter/dataset"
	"github.com/jinford/survey-twin/internal/module/transform/adapter/httpapi"
	"github.com/jinford/survey-twin/internal/module/transform/adapter/llm"
	"github.com/jinford/survey-twin/internal/module/transform/adapter/memory"
	"github.com/jinford/survey-twin/internal/module/transform/adapter/natsbus"
	"github.com/jinford/survey-twin/internal/module/transform/adapter/pg"
	"github.com/jinford/survey-twin/internal/module/transform/adapter/sqlite"
	"github.com/jinford/survey-twin/internal/module/transform/application"
	"github.com/jinford/survey-twin/internal/module/transform/domain"
	"github.com/jinford/survey-twin/internal/platform/config"
	"github.com/jinford/survey-twin/internal/platform/database"
)

// ServiceContainer は変換ジョブの依存関係を保持する。
type ServiceContainer struct {
	Service    *application.TransformService
	Reconciler *application.SettingsReconciler
	Publisher  *application.StatusPublisher

	logger  *slog.Logger
	closers []func() error
}

type containerOptions struct {
	logger   *slog.Logger
	engine   domain.Engine
	datasets domain.DatasetProvider
	sink     domain.StatusSink
}

// ContainerOption は ServiceContainer 構築時のオプション
type ContainerOption func(*containerOptions)

// WithContainerLogger はロガーを差し替える
func WithContainerLogger(logger *slog.Logger) ContainerOption {
	return func(opts *containerOptions) {
		opts.logger = logger
	}
}

// WithContainerEngine は変換エンジンを差し替える
func WithContainerEngine(engine domain.Engine) ContainerOption {
	return func(opts *containerOptions) {
		opts.engine = engine
	}
}

// WithContainerDatasetProvider はデータセットの読み込み元を差し替える
func WithContainerDatasetProvider(provider domain.DatasetProvider) ContainerOption {
	return func(opts *containerOptions) {
		opts.datasets = provider
	}
}

// WithContainerStatusSink は状態通知先を差し替える
func WithContainerStatusSink(sink domain.StatusSink) ContainerOption {
	return func(opts *containerOptions) {
		opts.sink = sink
	}
}

// NewContainer は設定からコンテナを生成する。
func NewContainer(ctx context.Context, cfg *config.Config, opts ...ContainerOption) (*ServiceContainer, error) {
	options := containerOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	c := &ServiceContainer{logger: options.logger}

	jobs, results, err := c.openStores(ctx, cfg)
	if err != nil {
		c.Close()
		return nil, err
	}

	// Engine (OpenAI + RateLimiter)
	engine := options.engine
	if engine == nil {
		engine, err = c.newEngine(cfg)
		if err != nil {
			c.Close()
			return nil, err
		}
	}

	datasets := options.datasets
	if datasets == nil {
		datasets = dataset.NewFileProvider(cfg.Dataset.Dir)
	}

	// StatusSink (NATS)
	sink := options.sink
	if sink == nil && cfg.NATS.URL != "" {
		conn, err := natsbus.Connect(natsbus.Config{
			URL:           cfg.NATS.URL,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
			Token:         cfg.NATS.Token,
			MaxReconnects: -1,
		}, options.logger)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("NATS 接続に失敗しました: %w", err)
		}
		c.closers = append(c.closers, drainer(conn))
		sink = natsbus.NewSink(conn, cfg.NATS.SubjectPrefix)
	}

	processor := application.NewChunkProcessor(engine, datasets, results, application.ProcessorConfig{
		MaxRetries:     cfg.Engine.MaxRetries,
		InitialBackoff: cfg.Engine.InitialBackoff,
		MaxBackoff:     cfg.Engine.MaxBackoff,
		ChunkTimeout:   cfg.Engine.ChunkTimeout,
		Parallelism:    cfg.Engine.ChunkParallelism,
	}, options.logger)
	if counter, err := llm.NewTokenCounter(); err == nil {
		processor.WithTokenCounter(counter)
	} else {
		options.logger.Warn("token counter unavailable, falling back to estimates", "error", err)
		processor.WithTokenCounter(estimateCounter{})
	}

	c.Service = application.NewTransformService(jobs, results, datasets, processor, sink, options.logger)
	c.Reconciler = application.NewSettingsReconciler(c.Service, options.logger)
	c.Publisher = application.NewStatusPublisher(c.Service, results, c.Reconciler)
	return c, nil
}

// openStores はSTORE_DRIVERに応じたJobRepositoryとResultStoreを開く
func (c *ServiceContainer) openStores(ctx context.Context, cfg *config.Config) (domain.JobRepository, domain.ResultStore, error) {
	switch cfg.Store.Driver {
	case config.StoreDriverPostgres:
		db, err := database.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("データベース初期化に失敗しました: %w", err)
		}
		c.closers = append(c.closers, func() error { db.Close(); return nil })
		return pg.NewJobRepository(db.Pool), pg.NewResultStore(db.Pool), nil

	case config.StoreDriverSQLite:
		db, err := sqlite.Open(ctx, cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("SQLite 初期化に失敗しました: %w", err)
		}
		c.closers = append(c.closers, db.Close)
		return db.Jobs(), db.Results(), nil

	default:
		return memory.NewJobRepository(), memory.NewResultStore(), nil
	}
}

func (c *ServiceContainer) newEngine(cfg *config.Config) (domain.Engine, error) {
	errorLog, err := llm.NewErrorLog(cfg.OpenAI.ErrorLogDir, c.logger)
	if err != nil {
		return nil, fmt.Errorf("エラーログ初期化に失敗しました: %w", err)
	}
	c.closers = append(c.closers, errorLog.Close)

	openaiEngine, err := llm.NewOpenAIEngine(llm.EngineConfig{
		APIKey:      cfg.OpenAI.APIKey,
		Model:       cfg.OpenAI.Model,
		BaseURL:     cfg.OpenAI.BaseURL,
		Temperature: cfg.OpenAI.Temperature,
		MaxTokens:   cfg.OpenAI.MaxTokens,
	}, errorLog)
	if err != nil {
		return nil, fmt.Errorf("OpenAI エンジン初期化に失敗しました: %w", err)
	}
	if cfg.OpenAI.RequestsPerMinute <= 0 {
		return openaiEngine, nil
	}
	return llm.NewThrottledEngine(openaiEngine, cfg.OpenAI.RequestsPerMinute), nil
}

// HTTPHandler はAPIのhttp.Handlerを返す。
func (c *ServiceContainer) HTTPHandler() http.Handler {
	return httpapi.NewHandler(c.Service, c.Reconciler, c.Publisher, c.logger).Routes()
}

// Shutdown は全ジョブのディスパッチを止め、処理中の行を待ってから資源を解放する。
func (c *ServiceContainer) Shutdown(ctx context.Context) {
	if c.Service != nil {
		c.Service.Shutdown(ctx)
	}
	c.Close()
}

// Close は内部リソースを解放する。
func (c *ServiceContainer) Close() {
	if c == nil {
		return
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	if err := errors.Join(errs...); err != nil {
		c.Logger().Warn("failed to release resources", "error", err)
	}
}

// Logger はロガーを返す。
func (c *ServiceContainer) Logger() *slog.Logger {
	if c == nil || c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

func drainer(conn *nats.Conn) func() error {
	return func() error {
		if conn.IsClosed() {
			return nil
		}
		return conn.Drain()
	}
}

// estimateCounter はtiktokenが使えない環境での概算カウンター
type estimateCounter struct{}

func (estimateCounter) Count(text string) int {
	return llm.EstimateTokens(text)
}
