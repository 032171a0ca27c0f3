package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsAppliedWhenNoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 20, cfg.MaxParallel)
	assert.Equal(t, 1, cfg.MaxQueued)
	assert.NotEmpty(t, cfg.StairwayName)
	assert.Equal(t, "sqlite", cfg.DriverName)
	assert.Equal(t, QueueBackendLocal, cfg.QueueBackend)
	assert.Equal(t, 24*time.Hour, cfg.RetentionCheckInterval)
	assert.Nil(t, cfg.CompletedFlightRetention, "unbounded retention is the default when unset")
}

func TestLoad_ExplicitZeroRetentionIsDistinctFromUnset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	writeFile(t, path, "completed_flight_retention: 0s\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.CompletedFlightRetention, "an explicit 0s must not be treated as unset")
	assert.Equal(t, time.Duration(0), *cfg.CompletedFlightRetention)
}

func TestLoad_InvalidMaxParallelFallsBackToDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	writeFile(t, path, "max_parallel: -5\nmax_queued: 0\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.MaxParallel)
	assert.Equal(t, 1, cfg.MaxQueued)
}

func TestLoad_YAMLValuesRespected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	writeFile(t, path, "max_parallel: 5\nstairway_name: worker-1\ndriver_name: pgx\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.MaxParallel)
	assert.Equal(t, "worker-1", cfg.StairwayName)
	assert.Equal(t, "pgx", cfg.DriverName)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	writeFile(t, path, "max_parallel: 5\n")

	t.Setenv("STAIRWAY_MAX_PARALLEL", "9")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.MaxParallel)
}

func TestLoad_MissingFileReturnsError(t *testing.T) {
	_, err := Load("/nonexistent/path/cfg.yaml")
	assert.Error(t, err)
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}
