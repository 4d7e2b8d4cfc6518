package commands

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"

	"github.com/jinford/survey-twin/internal/module/transform/adapter/memory"
	"github.com/jinford/survey-twin/internal/module/transform/application"
	"github.com/jinford/survey-twin/internal/module/transform/domain"
	testutil "github.com/jinford/survey-twin/internal/module/transform/testing"
)

func TestJobConfigFromFlags(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want domain.JobConfig
	}{
		{
			name: "デフォルト値",
			args: []string{"run", "--dataset", "s1"},
			want: domain.JobConfig{
				DatasetID: "s1",
				Settings:  domain.Settings{ChunkSize: 20, RowConcurrency: 3},
			},
		},
		{
			name: "全フラグ指定",
			args: []string{"run", "--dataset", "s1", "--chunk-size", "5", "--concurrency", "2", "--row-limit", "100",
				"--respondent-id-column", "rid", "--admin-column", "rid", "--admin-column", "weight", "--exclude-variable", "q9"},
			want: domain.JobConfig{
				DatasetID: "s1",
				Settings:  domain.Settings{ChunkSize: 5, RowConcurrency: 2, RowLimit: testutil.IntPtr(100)},
				Exclusions: domain.Exclusions{
					AdminColumns:      []string{"rid", "weight"},
					ExcludedVariables: []string{"q9"},
				},
				RespondentIDColumn: "rid",
			},
		},
		{
			name: "全行処理",
			args: []string{"run", "--dataset", "s1", "--all"},
			want: domain.JobConfig{
				DatasetID: "s1",
				Settings:  domain.Settings{ChunkSize: 20, RowConcurrency: 3, ProcessAllRows: true},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got domain.JobConfig
			cmd := &cli.Command{
				Name:  "run",
				Flags: JobCommand().Commands[0].Flags,
				Action: func(ctx context.Context, cmd *cli.Command) error {
					got = jobConfigFromFlags(cmd, cmd.String("dataset"), 20, 3)
					return nil
				},
			}

			require.NoError(t, cmd.Run(context.Background(), tt.args))

			assert.Equal(t, tt.want.DatasetID, got.DatasetID)
			assert.Equal(t, tt.want.Settings, got.Settings)
			assert.Equal(t, tt.want.RespondentIDColumn, got.RespondentIDColumn)
			assert.ElementsMatch(t, tt.want.Exclusions.AdminColumns, got.Exclusions.AdminColumns)
			assert.ElementsMatch(t, tt.want.Exclusions.ExcludedVariables, got.Exclusions.ExcludedVariables)
		})
	}
}

type runEnv struct {
	service   *application.TransformService
	publisher *application.StatusPublisher
}

func newRunEnv(t *testing.T, engine *testutil.MockEngine, rows int) *runEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	results := memory.NewResultStore()
	dataset := testutil.TestDataset(rows, 2)
	processor := application.NewChunkProcessor(engine, dataset, results, application.ProcessorConfig{
		MaxRetries:     1,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		ChunkTimeout:   time.Second,
	}, logger)
	service := application.NewTransformService(memory.NewJobRepository(), results, dataset, processor, nil, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		service.Shutdown(ctx)
	})
	return &runEnv{service: service, publisher: application.NewStatusPublisher(service, results, nil)}
}

func TestWatchJob_UntilCompleted(t *testing.T) {
	// Setup
	env := newRunEnv(t, &testutil.MockEngine{}, 6)
	_, err := startOrResume(context.Background(), env.service, testutil.TestConfig(10, 2, nil), application.StartOptions{})
	require.NoError(t, err)

	// Execute
	var out bytes.Buffer
	final, err := watchJob(context.Background(), env.publisher, testutil.TestDatasetID, time.Millisecond, &out)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, final.Status)
	assert.Equal(t, 6, final.ProcessedRows)
	assert.Contains(t, out.String(), "completed 6/6行")
}

func TestWatchJob_CancelledContext(t *testing.T) {
	gate := testutil.NewRowGate()
	defer gate.ReleaseAll()
	env := newRunEnv(t, testutil.GatedEngine(gate), 4)
	_, err := startOrResume(context.Background(), env.service, testutil.TestConfig(10, 1, nil), application.StartOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	snapshot, err := watchJob(ctx, env.publisher, testutil.TestDatasetID, time.Millisecond, io.Discard)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, domain.JobStatusRunning, snapshot.Status)
}

func TestStartOrResume_ResumesPausedJob(t *testing.T) {
	// Setup
	gate := testutil.NewRowGate()
	env := newRunEnv(t, testutil.GatedEngine(gate), 4)
	ctx := context.Background()
	cfg := testutil.TestConfig(10, 1, nil)

	_, err := startOrResume(ctx, env.service, cfg, application.StartOptions{})
	require.NoError(t, err)
	_, err = env.service.Pause(ctx, testutil.TestDatasetID)
	require.NoError(t, err)
	gate.ReleaseAll()
	env.service.Wait(testutil.TestDatasetID)

	// Execute
	job, err := startOrResume(ctx, env.service, cfg, application.StartOptions{})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusRunning, job.Status)
}

func TestStartOrResume_RestartNeedsConfirmation(t *testing.T) {
	env := newRunEnv(t, &testutil.MockEngine{}, 2)

	_, err := startOrResume(context.Background(), env.service, testutil.TestConfig(10, 1, nil), application.StartOptions{Restart: true, ConfirmToken: "yes"})

	require.Error(t, err)
	assert.Equal(t, domain.ErrorKindValidation, domain.KindOf(err))
}

func TestFormatProgress(t *testing.T) {
	tests := []struct {
		name     string
		snapshot application.StatusSnapshot
		contains []string
	}{
		{
			name:     "idle",
			snapshot: application.StatusSnapshot{DatasetID: "s1", Status: domain.JobStatusIdle},
			contains: []string{"[s1] ジョブはありません"},
		},
		{
			name: "running",
			snapshot: application.StatusSnapshot{
				DatasetID: "s1", Status: domain.JobStatusRunning,
				ProcessedRows: 25, EffectiveTotal: 100, FailedRows: 2, InFlight: 3,
				Stats: domain.JobStats{Retries: 4},
			},
			contains: []string{"running 25/100行 (25.0%)", "失敗2", "処理中3", "リトライ4"},
		},
		{
			name: "failed with pending settings",
			snapshot: application.StatusSnapshot{
				DatasetID: "s1", Status: domain.JobStatusFailed, LastError: "store unavailable",
				PendingSettings: &application.PendingChange{},
			},
			contains: []string{"(0.0%)", "エラー: store unavailable", "判断待ち"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := formatProgress(&tt.snapshot)
			for _, want := range tt.contains {
				assert.Contains(t, line, want)
			}
		})
	}
}

func TestFormatResult(t *testing.T) {
	id := "R0001"
	result := &domain.TransformResult{
		RowIndex:     0,
		RespondentID: &id,
		Status:       domain.RowStatusCompleted,
		RetryCount:   1,
		Sentences: []domain.Sentence{
			{Sentence: "性別は女性です", SourceVariables: []string{"q1"}},
			{Sentence: "30代です", SourceVariables: []string{"q2", "q3"}},
		},
	}

	text := formatResult(result)

	lines := strings.Split(strings.TrimSpace(text), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "#0 (R0001) completed retry=1", lines[0])
	assert.Equal(t, "  - 30代です [q2,q3]", lines[2])
}
