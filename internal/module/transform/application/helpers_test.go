package application_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jinford/survey-twin/internal/module/transform/adapter/memory"
	"github.com/jinford/survey-twin/internal/module/transform/application"
	"github.com/jinford/survey-twin/internal/module/transform/domain"
	testutil "github.com/jinford/survey-twin/internal/module/transform/testing"
)

const (
	eventuallyWait = 5 * time.Second
	eventuallyTick = 5 * time.Millisecond
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func fastProcessorConfig() application.ProcessorConfig {
	return application.ProcessorConfig{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		ChunkTimeout:   time.Second,
		Parallelism:    1,
	}
}

type testEnv struct {
	service    *application.TransformService
	reconciler *application.SettingsReconciler
	publisher  *application.StatusPublisher
	results    *memory.ResultStore
	jobs       *memory.JobRepository
	engine     *testutil.MockEngine
	dataset    *testutil.MockDatasetProvider
	sink       *testutil.RecordingSink
}

func newTestEnv(t *testing.T, engine *testutil.MockEngine, dataset *testutil.MockDatasetProvider) *testEnv {
	t.Helper()
	return newTestEnvWithStores(t, engine, dataset, memory.NewJobRepository(), memory.NewResultStore())
}

func newTestEnvWithStores(t *testing.T, engine *testutil.MockEngine, dataset *testutil.MockDatasetProvider, jobs *memory.JobRepository, results *memory.ResultStore) *testEnv {
	t.Helper()
	log := testLogger()
	sink := &testutil.RecordingSink{}
	processor := application.NewChunkProcessor(engine, dataset, results, fastProcessorConfig(), log)
	service := application.NewTransformService(jobs, results, dataset, processor, sink, log)
	reconciler := application.NewSettingsReconciler(service, log)
	publisher := application.NewStatusPublisher(service, results, reconciler)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		service.Shutdown(ctx)
	})

	return &testEnv{
		service:    service,
		reconciler: reconciler,
		publisher:  publisher,
		results:    results,
		jobs:       jobs,
		engine:     engine,
		dataset:    dataset,
		sink:       sink,
	}
}

func (e *testEnv) job(t *testing.T) *domain.Job {
	t.Helper()
	job, err := e.service.Job(context.Background(), testutil.TestDatasetID)
	require.NoError(t, err)
	return job
}

func (e *testEnv) waitForStatus(t *testing.T, status domain.JobStatus) *domain.Job {
	t.Helper()
	require.Eventually(t, func() bool {
		return e.job(t).Status == status
	}, eventuallyWait, eventuallyTick, "job never reached %s", status)
	return e.job(t)
}

func (e *testEnv) waitForProcessed(t *testing.T, processed int) *domain.Job {
	t.Helper()
	require.Eventually(t, func() bool {
		return e.job(t).ProcessedRows == processed
	}, eventuallyWait, eventuallyTick, "processedRows never reached %d", processed)
	return e.job(t)
}

func requireKind(t *testing.T, err error, kind domain.ErrorKind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, domain.KindOf(err), "unexpected error: %v", err)
}
