package pg_test

import (
	"context"
	"flag"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/survey-twin/internal/module/transform/adapter/pg"
	"github.com/jinford/survey-twin/internal/module/transform/domain"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(runWithPostgres(m))
}

// runWithPostgres はPostgreSQLコンテナを起動してテストを実行します
// Dockerが使えない場合や-shortではテストをスキップする
func runWithPostgres(m *testing.M) int {
	flag.Parse()
	if testing.Short() || os.Getenv("SKIP_DOCKER_TESTS") != "" {
		return m.Run()
	}

	pool, err := dockertest.NewPool("")
	if err != nil || pool.Client.Ping() != nil {
		fmt.Println("docker is not available, skipping postgres tests")
		return m.Run()
	}

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "16-alpine",
		Env: []string{
			"POSTGRES_USER=surveytwin",
			"POSTGRES_PASSWORD=secret",
			"POSTGRES_DB=surveytwin",
		},
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		fmt.Printf("failed to start postgres: %v\n", err)
		return 1
	}
	defer func() {
		_ = pool.Purge(resource)
	}()
	_ = resource.Expire(300)

	dsn := fmt.Sprintf("postgres://surveytwin:secret@%s/surveytwin?sslmode=disable", resource.GetHostPort("5432/tcp"))
	pool.MaxWait = 60 * time.Second
	if err := pool.Retry(func() error {
		p, err := pgxpool.New(context.Background(), dsn)
		if err != nil {
			return err
		}
		if err := p.Ping(context.Background()); err != nil {
			p.Close()
			return err
		}
		testPool = p
		return nil
	}); err != nil {
		fmt.Printf("postgres did not become ready: %v\n", err)
		return 1
	}
	defer testPool.Close()

	if err := pg.Migrate(context.Background(), testPool); err != nil {
		fmt.Println(err)
		return 1
	}
	return m.Run()
}

func requirePool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testPool == nil {
		t.Skip("postgres is not available")
	}
	return testPool
}

func newJob(datasetID string) *domain.Job {
	limit := 5
	job := domain.NewJob(domain.JobConfig{
		DatasetID: datasetID,
		Settings:  domain.Settings{ChunkSize: 20, RowConcurrency: 3, RowLimit: &limit},
		Exclusions: domain.Exclusions{
			AdminColumns:    []string{"weight"},
			ExcludePatterns: []domain.ExcludePattern{{ID: "na", Label: "該当なし", OptionLabels: []string{"該当なし"}, Enabled: true}},
		},
		RespondentIDColumn: "respondent_id",
	}, 40, time.Now().UTC().Truncate(time.Microsecond))
	job.Status = domain.JobStatusRunning
	return job
}

func TestJobRepository_SaveAndGet(t *testing.T) {
	// Setup
	ctx := context.Background()
	repo := pg.NewJobRepository(requirePool(t))
	job := newJob("pg-" + uuid.NewString())

	// Execute
	require.NoError(t, repo.Save(ctx, job))
	job.ProcessedRows = 3
	job.Stats.Retries = 2
	job.LastError = "row 2: boom"
	require.NoError(t, repo.Save(ctx, job))
	found, err := repo.GetByDataset(ctx, job.DatasetID)

	// Assert
	require.NoError(t, err)
	got, ok := found.Get()
	require.True(t, ok)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, 3, got.ProcessedRows)
	assert.Equal(t, 2, got.Stats.Retries)
	assert.Equal(t, "row 2: boom", got.LastError)
	assert.Equal(t, 5, *got.Settings.RowLimit)
	assert.Equal(t, job.Exclusions, got.Exclusions)
	assert.True(t, job.StartedAt.Equal(got.StartedAt))

	missing, err := repo.GetByDataset(ctx, "pg-missing-"+uuid.NewString())
	require.NoError(t, err)
	assert.True(t, missing.IsAbsent())
}

func TestResultStore_RoundTrip(t *testing.T) {
	// Setup
	ctx := context.Background()
	db := requirePool(t)
	jobs := pg.NewJobRepository(db)
	store := pg.NewResultStore(db)
	job := newJob("pg-" + uuid.NewString())
	require.NoError(t, jobs.Save(ctx, job))

	respondent := "R0001"
	for row, status := range map[int]domain.RowStatus{0: domain.RowStatusCompleted, 1: domain.RowStatusFailed, 2: domain.RowStatusProcessing, 4: domain.RowStatusCompleted} {
		require.NoError(t, store.Put(ctx, &domain.TransformResult{
			JobID:        job.ID,
			RowIndex:     row,
			RespondentID: &respondent,
			Status:       status,
			Sentences:    []domain.Sentence{{Sentence: "性別は女性です", SourceVariables: []string{"q1"}}},
			Excluded:     domain.ExcludedVariables{AdminVariables: []string{"respondent_id"}},
			UpdatedAt:    time.Now(),
		}))
	}
	// 同じ行への書き込みは上書き
	require.NoError(t, store.Put(ctx, &domain.TransformResult{JobID: job.ID, RowIndex: 2, Status: domain.RowStatusCompleted, RetryCount: 1, UpdatedAt: time.Now()}))

	// Execute & Assert
	found, err := store.Get(ctx, job.ID, 0)
	require.NoError(t, err)
	got, ok := found.Get()
	require.True(t, ok)
	assert.Equal(t, "R0001", *got.RespondentID)
	assert.Equal(t, "性別は女性です", got.Sentences[0].Sentence)
	assert.Equal(t, []string{"respondent_id"}, got.Excluded.AdminVariables)

	page, total, err := store.List(ctx, job.ID, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	require.Len(t, page, 2)
	assert.Equal(t, 1, page[0].RowIndex)
	assert.Equal(t, 2, page[1].RowIndex)
	assert.Equal(t, 1, page[1].RetryCount)

	ranged, err := store.Range(ctx, job.ID, 2, 3)
	require.NoError(t, err)
	require.Len(t, ranged, 2)
	assert.Equal(t, 4, ranged[1].RowIndex)

	terminal, err := store.TerminalRows(ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, terminal, 4)
	assert.Equal(t, domain.RowStatusFailed, terminal[1])

	counts, err := store.Counts(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ResultCounts{Completed: 3, Failed: 1}, counts)
}

func TestJobRepository_DeleteRemovesResults(t *testing.T) {
	// Setup
	ctx := context.Background()
	db := requirePool(t)
	jobs := pg.NewJobRepository(db)
	store := pg.NewResultStore(db)
	job := newJob("pg-" + uuid.NewString())
	require.NoError(t, jobs.Save(ctx, job))
	require.NoError(t, store.Put(ctx, &domain.TransformResult{JobID: job.ID, RowIndex: 0, Status: domain.RowStatusCompleted, UpdatedAt: time.Now()}))

	// Execute
	require.NoError(t, jobs.Delete(ctx, job.ID))

	// Assert
	found, err := jobs.GetByDataset(ctx, job.DatasetID)
	require.NoError(t, err)
	assert.True(t, found.IsAbsent())
	counts, err := store.Counts(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ResultCounts{}, counts)
}

func TestTransact_RollsBackOnError(t *testing.T) {
	// Setup
	ctx := context.Background()
	db := requirePool(t)
	job := newJob("pg-" + uuid.NewString())

	// Execute
	_, err := pg.Transact(ctx, db, func(a *pg.Adapter) (struct{}, error) {
		if err := a.Jobs.Save(ctx, job); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, fmt.Errorf("abort")
	})

	// Assert
	require.Error(t, err)
	found, err := pg.NewJobRepository(db).GetByDataset(ctx, job.DatasetID)
	require.NoError(t, err)
	assert.True(t, found.IsAbsent())
}
