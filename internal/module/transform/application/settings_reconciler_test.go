package application_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/survey-twin/internal/module/transform/application"
	"github.com/jinford/survey-twin/internal/module/transform/domain"
	testutil "github.com/jinford/survey-twin/internal/module/transform/testing"
)

// startGatedJob は1行目で止まる実行中ジョブを用意します
func startGatedJob(t *testing.T, rows int) (*testEnv, *testutil.RowGate) {
	t.Helper()
	gate := testutil.NewRowGate()
	env := newTestEnv(t, testutil.GatedEngine(gate), testutil.TestDataset(rows, 2))
	_, err := env.service.Start(context.Background(), testutil.TestConfig(10, 1, nil), application.StartOptions{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return gate.Started()[0] }, eventuallyWait, eventuallyTick)
	return env, gate
}

func TestSettingsReconciler_ProposeWhileRunningPauses(t *testing.T) {
	// Setup
	ctx := context.Background()
	env, gate := startGatedJob(t, 6)
	defer gate.ReleaseAll()

	// Execute
	outcome, err := env.reconciler.Propose(ctx, testutil.TestDatasetID, domain.Settings{ChunkSize: 5, RowConcurrency: 1})

	// Assert
	require.NoError(t, err)
	assert.True(t, outcome.Paused)
	assert.True(t, outcome.PendingDecision)
	assert.False(t, outcome.Applied)
	assert.Equal(t, application.AllDecisions, outcome.Options)
	assert.Equal(t, domain.JobStatusPaused, outcome.Job.Status)
	assert.Equal(t, 10, outcome.Job.Settings.ChunkSize, "settings are not applied until resolved")

	change, ok := env.reconciler.Pending(ctx, testutil.TestDatasetID)
	require.True(t, ok)
	assert.Equal(t, 10, change.Previous.ChunkSize)
	assert.Equal(t, 5, change.Proposed.ChunkSize)
}

func TestSettingsReconciler_ProposeWithoutRunAffectingChange(t *testing.T) {
	// Setup
	ctx := context.Background()
	env, gate := startGatedJob(t, 4)
	defer gate.ReleaseAll()

	// Execute
	outcome, err := env.reconciler.Propose(ctx, testutil.TestDatasetID, domain.Settings{ChunkSize: 10, RowConcurrency: 1})

	// Assert
	require.NoError(t, err)
	assert.False(t, outcome.Paused)
	assert.False(t, outcome.PendingDecision)
	assert.Equal(t, domain.JobStatusRunning, env.job(t).Status)
	_, ok := env.reconciler.Pending(ctx, testutil.TestDatasetID)
	assert.False(t, ok)
}

func TestSettingsReconciler_ProposeInvalidSettings(t *testing.T) {
	// Setup
	ctx := context.Background()
	env, gate := startGatedJob(t, 4)
	defer gate.ReleaseAll()

	// Execute
	_, err := env.reconciler.Propose(ctx, testutil.TestDatasetID, domain.Settings{ChunkSize: 0, RowConcurrency: 1})

	// Assert
	requireKind(t, err, domain.ErrorKindValidation)
	assert.Equal(t, domain.JobStatusRunning, env.job(t).Status)
}

func TestSettingsReconciler_ResolveContinue(t *testing.T) {
	// Setup
	ctx := context.Background()
	env, gate := startGatedJob(t, 6)
	_, err := env.reconciler.Propose(ctx, testutil.TestDatasetID, domain.Settings{ChunkSize: 1, RowConcurrency: 3})
	require.NoError(t, err)
	gate.ReleaseAll()

	// Execute
	job, err := env.reconciler.Resolve(ctx, testutil.TestDatasetID, application.DecisionContinue, "")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusRunning, job.Status)
	assert.Equal(t, 1, job.Settings.ChunkSize)
	assert.Equal(t, 3, job.Settings.RowConcurrency)
	done := env.waitForStatus(t, domain.JobStatusCompleted)
	assert.Equal(t, 6, done.ProcessedRows)

	// 行1以降はchunkSize=1で2列を2チャンクに分けて処理される
	assert.Equal(t, 2, env.engine.CallsForRow(5))
	_, ok := env.reconciler.Pending(ctx, testutil.TestDatasetID)
	assert.False(t, ok)
}

func TestSettingsReconciler_ResolveRevert(t *testing.T) {
	// Setup
	ctx := context.Background()
	env, gate := startGatedJob(t, 4)
	_, err := env.reconciler.Propose(ctx, testutil.TestDatasetID, domain.Settings{ChunkSize: 1, RowConcurrency: 1})
	require.NoError(t, err)
	gate.ReleaseAll()

	// Execute
	job, err := env.reconciler.Resolve(ctx, testutil.TestDatasetID, application.DecisionRevert, "")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 10, job.Settings.ChunkSize)
	env.waitForStatus(t, domain.JobStatusCompleted)
	assert.Equal(t, 1, env.engine.CallsForRow(3))
}

func TestSettingsReconciler_ResolveRestart(t *testing.T) {
	// Setup
	ctx := context.Background()
	env, gate := startGatedJob(t, 4)
	before := env.job(t)
	_, err := env.reconciler.Propose(ctx, testutil.TestDatasetID, domain.Settings{ChunkSize: 1, RowConcurrency: 2})
	require.NoError(t, err)

	// Execute: 確認文字列なし
	_, err = env.reconciler.Resolve(ctx, testutil.TestDatasetID, application.DecisionRestart, "")

	// Assert
	requireKind(t, err, domain.ErrorKindValidation)
	_, ok := env.reconciler.Pending(ctx, testutil.TestDatasetID)
	require.True(t, ok, "pending change survives a rejected restart")

	// Execute
	gate.ReleaseAll()
	job, err := env.reconciler.Resolve(ctx, testutil.TestDatasetID, application.DecisionRestart, domain.ConfirmResetToken)

	// Assert
	require.NoError(t, err)
	assert.NotEqual(t, before.ID, job.ID)
	assert.Equal(t, 1, job.Settings.ChunkSize)
	assert.Equal(t, 2, job.Settings.RowConcurrency)
	assert.Equal(t, before.RespondentIDColumn, job.RespondentIDColumn)
	done := env.waitForStatus(t, domain.JobStatusCompleted)
	assert.Equal(t, 4, done.ProcessedRows)
}

func TestSettingsReconciler_ResolveErrors(t *testing.T) {
	// Setup
	ctx := context.Background()
	env, gate := startGatedJob(t, 4)
	defer gate.ReleaseAll()

	// Execute & Assert: 保留中の変更なし
	_, err := env.reconciler.Resolve(ctx, testutil.TestDatasetID, application.DecisionContinue, "")
	requireKind(t, err, domain.ErrorKindConflict)
	assert.ErrorIs(t, err, domain.ErrNoPendingChange)

	_, err = env.reconciler.Propose(ctx, testutil.TestDatasetID, domain.Settings{ChunkSize: 3, RowConcurrency: 1})
	require.NoError(t, err)

	_, err = env.reconciler.Resolve(ctx, testutil.TestDatasetID, application.Decision("later"), "")
	requireKind(t, err, domain.ErrorKindValidation)
}

func TestSettingsReconciler_PendingDroppedWhenResumedElsewhere(t *testing.T) {
	// Setup
	ctx := context.Background()
	env, gate := startGatedJob(t, 4)
	_, err := env.reconciler.Propose(ctx, testutil.TestDatasetID, domain.Settings{ChunkSize: 3, RowConcurrency: 1})
	require.NoError(t, err)
	gate.ReleaseAll()

	// Execute
	_, err = env.service.Resume(ctx, testutil.TestDatasetID)
	require.NoError(t, err)

	// Assert
	_, ok := env.reconciler.Pending(ctx, testutil.TestDatasetID)
	assert.False(t, ok)
	env.waitForStatus(t, domain.JobStatusCompleted)
}

func TestSettingsReconciler_ProposeWhilePausedApplies(t *testing.T) {
	// Setup
	ctx := context.Background()
	env, gate := startGatedJob(t, 4)
	_, err := env.service.Pause(ctx, testutil.TestDatasetID)
	require.NoError(t, err)
	gate.ReleaseAll()

	// Execute
	outcome, err := env.reconciler.Propose(ctx, testutil.TestDatasetID, domain.Settings{ChunkSize: 10, RowConcurrency: 1, RowLimit: testutil.IntPtr(2)})

	// Assert
	require.NoError(t, err)
	assert.True(t, outcome.Applied)
	assert.False(t, outcome.PendingDecision)
	assert.Equal(t, 2, outcome.Job.EffectiveTotal())

	_, err = env.service.Resume(ctx, testutil.TestDatasetID)
	require.NoError(t, err)
	done := env.waitForStatus(t, domain.JobStatusCompleted)
	assert.Equal(t, 2, done.ProcessedRows)
	assert.Zero(t, env.engine.CallsForRow(2))
}

func TestSettingsReconciler_ProposeOnFinishedJobs(t *testing.T) {
	ctx := context.Background()

	t.Run("completed", func(t *testing.T) {
		env := newTestEnv(t, &testutil.MockEngine{}, testutil.TestDataset(3, 2))
		_, err := env.service.Start(ctx, testutil.TestConfig(10, 1, nil), application.StartOptions{})
		require.NoError(t, err)
		env.waitForStatus(t, domain.JobStatusCompleted)

		_, err = env.reconciler.Propose(ctx, testutil.TestDatasetID, domain.Settings{ChunkSize: 5, RowConcurrency: 1})

		requireKind(t, err, domain.ErrorKindConflict)
		var opErr *domain.OperationError
		require.ErrorAs(t, err, &opErr)
		assert.Equal(t, "continue", opErr.Action)
	})

	t.Run("cancelled", func(t *testing.T) {
		env, gate := startGatedJob(t, 3)
		defer gate.ReleaseAll()
		_, err := env.service.Cancel(ctx, testutil.TestDatasetID)
		require.NoError(t, err)

		_, err = env.reconciler.Propose(ctx, testutil.TestDatasetID, domain.Settings{ChunkSize: 5, RowConcurrency: 1})

		requireKind(t, err, domain.ErrorKindConflict)
		var opErr *domain.OperationError
		require.ErrorAs(t, err, &opErr)
		assert.Equal(t, "reset", opErr.Action)
	})
}
