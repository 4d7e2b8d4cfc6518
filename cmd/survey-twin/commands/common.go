package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/urfave/cli/v3"

	"github.com/jinford/survey-twin/internal/platform/config"
	"github.com/jinford/survey-twin/internal/platform/container"
	"github.com/jinford/survey-twin/internal/platform/logger"
	"github.com/jinford/survey-twin/internal/platform/tracing"
)

// AppContext はコマンド実行に必要な共通コンテキストを保持する
type AppContext struct {
	Config    *config.Config
	Container *container.ServiceContainer

	shutdownTracing tracing.ShutdownFunc
}

// NewAppContext は設定ファイルを読み込み、ストアとエンジンを初期化して AppContext を作成する
func NewAppContext(ctx context.Context, envFile string, opts ...container.ContainerOption) (*AppContext, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("設定の読み込みに失敗: %w", err)
	}

	appLogger := logger.New(logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
	})

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing, appLogger)
	if err != nil {
		return nil, fmt.Errorf("トレーシングの初期化に失敗: %w", err)
	}

	opts = append([]container.ContainerOption{container.WithContainerLogger(appLogger)}, opts...)
	cont, err := container.NewContainer(ctx, cfg, opts...)
	if err != nil {
		_ = shutdownTracing(context.Background())
		return nil, fmt.Errorf("コンテナの初期化に失敗: %w", err)
	}

	return &AppContext{
		Config:          cfg,
		Container:       cont,
		shutdownTracing: shutdownTracing,
	}, nil
}

// Close は処理中の行を待ってからリソースを解放する
func (ac *AppContext) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), ac.Config.Orchestrator.ShutdownTimeout)
	defer cancel()

	if ac.Container != nil {
		ac.Container.Shutdown(ctx)
	}
	if ac.shutdownTracing != nil {
		if err := ac.shutdownTracing(ctx); err != nil {
			ac.Logger().Warn("failed to shutdown tracing", "error", err)
		}
	}
}

// Logger はAppContextのロガーを返す
func (ac *AppContext) Logger() *slog.Logger {
	if ac.Container != nil {
		return ac.Container.Logger()
	}
	return slog.Default()
}

// envFlag は全コマンド共通の環境変数ファイル指定
func envFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "env",
		Usage: "環境変数ファイルパス",
		Value: ".env",
	}
}

func datasetFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "dataset",
		Aliases:  []string{"d"},
		Usage:    "データセットID",
		Required: true,
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
