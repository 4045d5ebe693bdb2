package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/opqueue/internal/queue"
)

// setRequiredEnv provides the minimum environment a valid load needs.
// Load reads config.yaml from the working directory when present, so
// tests also chdir into an empty temp dir.
func setRequiredEnv(t *testing.T) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("OPQUEUE_DATABASE_URL", "postgres://localhost:5432/opqueue")
	t.Setenv("OPQUEUE_AUTH_JWT_SECRET", "test-secret-that-is-at-least-32-bytes!!")
}

func TestLoadAppliesDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Server.LogLevel)

	qd := queue.DefaultConfig()
	assert.Equal(t, qd.Namespace, cfg.Queue.Namespace)
	assert.Equal(t, qd.BatchSize, cfg.Queue.BatchSize)
	assert.Equal(t, qd.DefaultMaxAttempts, cfg.Queue.DefaultMaxAttempts)
	assert.Equal(t, qd.Backoff.InitialDelay, cfg.Queue.Backoff.InitialDelay)
	assert.Equal(t, qd.Backoff.JitterFactor, cfg.Queue.Backoff.JitterFactor)
	assert.Equal(t, qd.Admission.LowPriorityCap, cfg.Queue.Admission.LowPriorityCap)
	assert.Equal(t, qd.Admission.PendingTTL, cfg.Queue.Admission.PendingTTL)
	assert.True(t, cfg.Queue.DemoteOnRetry)
	assert.False(t, cfg.Queue.OptimisticOffline)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("OPQUEUE_SERVER_PORT", "9090")
	t.Setenv("OPQUEUE_SERVER_LOG_LEVEL", "debug")
	t.Setenv("OPQUEUE_QUEUE_BATCH_SIZE", "10")
	t.Setenv("OPQUEUE_QUEUE_ADMISSION_PENDING_TTL", "10m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
	assert.Equal(t, 10, cfg.Queue.BatchSize)
	assert.Equal(t, 10*time.Minute, cfg.Queue.Admission.PendingTTL)
	assert.Equal(t, "postgres://localhost:5432/opqueue", cfg.Database.URL)
}

func TestLoadValidation(t *testing.T) {
	t.Run("missing database url", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("OPQUEUE_DATABASE_URL", "")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Database.URL")
	})

	t.Run("short jwt secret", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("OPQUEUE_AUTH_JWT_SECRET", "too-short")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Auth.JWTSecret")
	})

	t.Run("unknown log level", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("OPQUEUE_SERVER_LOG_LEVEL", "verbose")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Server.LogLevel")
	})
}
