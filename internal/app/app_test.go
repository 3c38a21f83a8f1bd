package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/ShotPipelineMCP/internal/config"
	"github.com/Corphon/ShotPipelineMCP/internal/di"
	"github.com/Corphon/ShotPipelineMCP/internal/services"
	"github.com/Corphon/ShotPipelineMCP/internal/storage"
)

func testConfig(t *testing.T, backend string) *config.AppConfig {
	dir := t.TempDir()
	return &config.AppConfig{
		DataDir:           dir,
		StorageBackend:    backend,
		SQLitePath:        filepath.Join(dir, "test.db"),
		StorageQuotaBytes: 1 << 20,
		ImageTools:        []string{"universal", "midjourney"},
	}
}

func TestInitServicesRegistersEverything(t *testing.T) {
	for _, backend := range []string{storage.BackendFile, storage.BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			container := di.NewContainer()
			a, err := InitServices(context.Background(), testConfig(t, backend), container)
			require.NoError(t, err)
			defer a.Close()

			require.NoError(t, a.HealthCheck())
			pipeline, err := di.Resolve[*services.PipelineService](container, di.ServicePipeline)
			require.NoError(t, err)
			assert.Same(t, a.Pipeline, pipeline)

			result, err := pipeline.Ingest(context.Background(), "night", `{
			  "film_metadata": {"project_name": "night"},
			  "breakdown_data": {
			    "sequences": [{"id": "SEQ01"}],
			    "scenes": [{"id": "S01", "sequence_id": "SEQ01"}],
			    "shots": [{"id": "S01.01", "scene_id": "S01"}]
			  }
			}`, services.IngestOptions{Source: "test"})
			require.NoError(t, err)
			assert.Equal(t, 1, result.MergedCount)

			projects, err := a.Gateway.Projects(context.Background())
			require.NoError(t, err)
			assert.Equal(t, []string{"night"}, projects)
		})
	}
}

func TestInitServicesRejectsUnknownBackend(t *testing.T) {
	_, err := InitServices(context.Background(), testConfig(t, "etcd"), di.NewContainer())
	assert.ErrorContains(t, err, "未知的存储后端")
}

func TestHealthCheckReportsMissingService(t *testing.T) {
	container := di.NewContainer()
	a, err := InitServices(context.Background(), testConfig(t, storage.BackendFile), container)
	require.NoError(t, err)
	defer a.Close()

	container.Clear()
	assert.ErrorContains(t, a.HealthCheck(), di.ServiceGateway)
}

func TestCloseIsIdempotent(t *testing.T) {
	a, err := InitServices(context.Background(), testConfig(t, storage.BackendFile), di.NewContainer())
	require.NoError(t, err)
	assert.NoError(t, a.Close())
	assert.NoError(t, a.Close())
}
