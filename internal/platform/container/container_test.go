package container

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/survey-twin/internal/module/transform/application"
	"github.com/jinford/survey-twin/internal/module/transform/domain"
	testutil "github.com/jinford/survey-twin/internal/module/transform/testing"
	"github.com/jinford/survey-twin/internal/platform/config"
)

func testConfig(driver config.StoreDriver, dir string) *config.Config {
	return &config.Config{
		Store:  config.StoreConfig{Driver: driver, SQLitePath: filepath.Join(dir, "jobs.db")},
		Engine: config.EngineConfig{MaxRetries: 1, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, ChunkTimeout: time.Second, ChunkParallelism: 1},
		Orchestrator: config.OrchestratorConfig{
			DefaultChunkSize:      10,
			DefaultRowConcurrency: 2,
			ShutdownTimeout:       time.Second,
		},
		Dataset: config.DatasetConfig{Dir: dir},
	}
}

func TestNewContainer_RequiresAPIKeyWithoutEngine(t *testing.T) {
	_, err := NewContainer(context.Background(), testConfig(config.StoreDriverMemory, t.TempDir()))

	assert.Error(t, err)
}

func TestNewContainer_RunsJob(t *testing.T) {
	drivers := []config.StoreDriver{config.StoreDriverMemory, config.StoreDriverSQLite}

	for _, driver := range drivers {
		t.Run(string(driver), func(t *testing.T) {
			// Setup
			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			c, err := NewContainer(context.Background(), testConfig(driver, t.TempDir()),
				WithContainerLogger(logger),
				WithContainerEngine(&testutil.MockEngine{}),
				WithContainerDatasetProvider(testutil.TestDataset(4, 2)),
			)
			require.NoError(t, err)
			t.Cleanup(func() {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				c.Shutdown(ctx)
			})

			// Execute
			_, err = c.Service.Start(context.Background(), testutil.TestConfig(10, 2, nil), application.StartOptions{})
			require.NoError(t, err)

			// Assert
			require.Eventually(t, func() bool {
				job, err := c.Service.Job(context.Background(), testutil.TestDatasetID)
				return err == nil && job.Status == domain.JobStatusCompleted
			}, 5*time.Second, 5*time.Millisecond)

			snapshot, err := c.Publisher.Snapshot(context.Background(), testutil.TestDatasetID)
			require.NoError(t, err)
			assert.Equal(t, 4, snapshot.Results.Completed)

			server := httptest.NewServer(c.HTTPHandler())
			defer server.Close()
			resp, err := http.Get(server.URL + "/healthz")
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusOK, resp.StatusCode)
		})
	}
}
