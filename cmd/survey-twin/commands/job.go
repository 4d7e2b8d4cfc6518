package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/jinford/survey-twin/internal/module/transform/application"
	"github.com/jinford/survey-twin/internal/module/transform/domain"
)

// JobCommand は変換ジョブをプロセス内で操作するコマンド
func JobCommand() *cli.Command {
	return &cli.Command{
		Name:  "job",
		Usage: "変換ジョブ管理コマンド",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "変換ジョブを開始（または再開）し、完了まで進捗を表示",
				Flags: []cli.Flag{
					envFlag(),
					datasetFlag(),
					&cli.IntFlag{Name: "chunk-size", Usage: "1回のエンジン呼び出しに含める列数（省略時はDEFAULT_CHUNK_SIZE）"},
					&cli.IntFlag{Name: "concurrency", Usage: "同時に処理する行数（省略時はDEFAULT_ROW_CONCURRENCY）"},
					&cli.IntFlag{Name: "row-limit", Usage: "処理する行数の上限"},
					&cli.BoolFlag{Name: "all", Usage: "全行を処理（row-limitを無視）"},
					&cli.StringFlag{Name: "respondent-id-column", Usage: "回答者ID列のコード"},
					&cli.StringSliceFlag{Name: "admin-column", Usage: "文章化しない管理用列（複数指定可）"},
					&cli.StringSliceFlag{Name: "exclude-variable", Usage: "文章化から除外する変数（複数指定可）"},
					&cli.BoolFlag{Name: "restart", Usage: "既存のジョブと結果を削除して最初から開始"},
					&cli.StringFlag{Name: "confirm", Usage: `restart時の確認文字列（"DELETE"）`},
					&cli.DurationFlag{Name: "interval", Usage: "進捗表示の間隔", Value: 2 * time.Second},
				},
				Action: JobRunAction,
			},
			{
				Name:   "status",
				Usage:  "ジョブの状態を表示（STORE_DRIVER=memoryでは同一プロセス内のジョブのみ）",
				Flags:  []cli.Flag{envFlag(), datasetFlag()},
				Action: JobStatusAction,
			},
			{
				Name:  "results",
				Usage: "変換結果を表示（STORE_DRIVER=memoryでは同一プロセス内の結果のみ）",
				Flags: []cli.Flag{
					envFlag(),
					datasetFlag(),
					&cli.IntFlag{Name: "offset", Usage: "先頭から読み飛ばす件数"},
					&cli.IntFlag{Name: "limit", Usage: "表示件数（最大500）", Value: 20},
					&cli.StringFlag{Name: "format", Usage: "出力形式（text/json）", Value: "text"},
				},
				Action: JobResultsAction,
			},
			{
				Name:  "reset",
				Usage: "ジョブと全ての変換結果を削除（STORE_DRIVER=memoryでは同一プロセス内のみ）",
				Flags: []cli.Flag{
					envFlag(),
					datasetFlag(),
					&cli.StringFlag{Name: "confirm", Usage: `確認文字列（"DELETE"）`, Required: true},
				},
				Action: JobResetAction,
			},
		},
	}
}

// JobRunAction はジョブを開始し、完了・失敗・停止まで進捗を表示する
// 中断シグナルを受けるとジョブを一時停止し、処理中の行の完了を待って終了する
func JobRunAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	datasetID := cmd.String("dataset")
	cfg := jobConfigFromFlags(cmd, datasetID, appCtx.Config.Orchestrator.DefaultChunkSize, appCtx.Config.Orchestrator.DefaultRowConcurrency)
	service := appCtx.Container.Service

	// シグナルでctxが終わっても操作自体は完了させる
	opCtx := context.WithoutCancel(ctx)
	job, err := startOrResume(opCtx, service, cfg, application.StartOptions{
		Restart:      cmd.Bool("restart"),
		ConfirmToken: cmd.String("confirm"),
	})
	if err != nil {
		return err
	}
	fmt.Printf("ジョブを開始しました: dataset=%s job=%s 対象=%d行\n", datasetID, job.ID, job.EffectiveTotal())

	final, err := watchJob(ctx, appCtx.Container.Publisher, datasetID, cmd.Duration("interval"), os.Stdout)
	if errors.Is(err, context.Canceled) {
		fmt.Println("\n中断を受け付けました。処理中の行の完了を待っています...")
		if _, pauseErr := service.Pause(opCtx, datasetID); pauseErr != nil && domain.KindOf(pauseErr) != domain.ErrorKindConflict {
			return fmt.Errorf("ジョブの一時停止に失敗: %w", pauseErr)
		}
		service.Wait(datasetID)
		snapshot, snapErr := appCtx.Container.Publisher.Snapshot(opCtx, datasetID)
		if snapErr != nil {
			return snapErr
		}
		fmt.Println(formatProgress(snapshot))
		fmt.Println("`job run` を再実行すると続きから再開します")
		return nil
	}
	if err != nil {
		return err
	}

	if final.Status == domain.JobStatusFailed {
		return fmt.Errorf("ジョブが失敗しました: %s", final.LastError)
	}
	fmt.Printf("ジョブが%sになりました: 完了%d行 / 失敗%d行\n", final.Status, final.ProcessedRows, final.FailedRows)
	return nil
}

// startOrResume は状態に応じて開始・再開・継続のいずれかを行う
func startOrResume(ctx context.Context, service *application.TransformService, cfg domain.JobConfig, opts application.StartOptions) (*domain.Job, error) {
	job, err := service.Start(ctx, cfg, opts)
	if err == nil {
		return job, nil
	}
	var opErr *domain.OperationError
	if errors.As(err, &opErr) && opErr.Kind == domain.ErrorKindConflict && opErr.Action == "resume" {
		return service.Resume(ctx, cfg.DatasetID)
	}
	return nil, err
}

// watchJob はジョブがrunningでなくなるまでスナップショットを表示する
func watchJob(ctx context.Context, publisher *application.StatusPublisher, datasetID string, interval time.Duration, w io.Writer) (*application.StatusSnapshot, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		snapshot, err := publisher.Snapshot(ctx, datasetID)
		if err != nil {
			return nil, err
		}
		fmt.Fprintln(w, formatProgress(snapshot))
		if !snapshot.PollAgain {
			return snapshot, nil
		}

		select {
		case <-ctx.Done():
			return snapshot, ctx.Err()
		case <-ticker.C:
		}
	}
}

// JobStatusAction はジョブのスナップショットをJSONで表示する
func JobStatusAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	snapshot, err := appCtx.Container.Publisher.Snapshot(ctx, cmd.String("dataset"))
	if err != nil {
		return err
	}
	return writeJSON(os.Stdout, snapshot)
}

// JobResultsAction は変換結果のページを表示する
func JobResultsAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	offset := cmd.Int("offset")
	items, total, err := appCtx.Container.Service.Results(ctx, cmd.String("dataset"), offset, cmd.Int("limit"))
	if err != nil {
		return err
	}

	if cmd.String("format") == "json" {
		return writeJSON(os.Stdout, map[string]any{"items": items, "total": total, "offset": offset})
	}
	fmt.Printf("全%d件中 %d件目から%d件\n\n", total, offset+1, len(items))
	for _, result := range items {
		fmt.Print(formatResult(result))
	}
	return nil
}

// JobResetAction はジョブと変換結果を削除する
func JobResetAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	datasetID := cmd.String("dataset")
	if err := appCtx.Container.Service.Reset(ctx, datasetID, cmd.String("confirm")); err != nil {
		return err
	}
	fmt.Printf("✓ dataset=%s のジョブと変換結果を削除しました\n", datasetID)
	return nil
}

func jobConfigFromFlags(cmd *cli.Command, datasetID string, defaultChunkSize, defaultConcurrency int) domain.JobConfig {
	settings := domain.Settings{
		ChunkSize:      cmd.Int("chunk-size"),
		RowConcurrency: cmd.Int("concurrency"),
		ProcessAllRows: cmd.Bool("all"),
	}
	if settings.ChunkSize == 0 {
		settings.ChunkSize = defaultChunkSize
	}
	if settings.RowConcurrency == 0 {
		settings.RowConcurrency = defaultConcurrency
	}
	if cmd.IsSet("row-limit") {
		limit := cmd.Int("row-limit")
		settings.RowLimit = &limit
	}

	return domain.JobConfig{
		DatasetID: datasetID,
		Settings:  settings,
		Exclusions: domain.Exclusions{
			AdminColumns:      cmd.StringSlice("admin-column"),
			ExcludedVariables: cmd.StringSlice("exclude-variable"),
		},
		RespondentIDColumn: cmd.String("respondent-id-column"),
	}
}
