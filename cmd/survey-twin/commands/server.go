package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/urfave/cli/v3"
)

// ServerCommand はHTTPサーバー関連のコマンド
func ServerCommand() *cli.Command {
	return &cli.Command{
		Name:  "server",
		Usage: "HTTPサーバーコマンド",
		Commands: []*cli.Command{
			{
				Name:  "start",
				Usage: "変換ジョブAPIサーバーを起動",
				Flags: []cli.Flag{
					envFlag(),
					&cli.StringFlag{
						Name:  "addr",
						Usage: "待ち受けアドレス（省略時はSERVER_ADDR）",
					},
				},
				Action: ServerStartAction,
			},
		},
	}
}

// ServerStartAction はHTTPサーバを起動するコマンドのアクション
// シグナル受信時は新規リクエストを止め、処理中の行を待ってから終了する
func ServerStartAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	addr := cmd.String("addr")
	if addr == "" {
		addr = appCtx.Config.Server.Addr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           appCtx.Container.HTTPHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appCtx.Logger().Info("HTTP server starting", "addr", addr, "store", appCtx.Config.Store.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTPサーバーの起動に失敗: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	appCtx.Logger().Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), appCtx.Config.Orchestrator.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTPサーバーの停止に失敗: %w", err)
	}
	return nil
}
