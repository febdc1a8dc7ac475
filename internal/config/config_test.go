package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	require.Equal(t, ":8080", cfg.API.Addr)
	require.Equal(t, int64(32<<20), cfg.API.MaxUploadBytes)
	require.Equal(t, 400, cfg.Editor.PreviewHeight)
	require.Equal(t, 30*time.Minute, cfg.Session.TTL)
	require.Equal(t, StorageBackendLocal, cfg.Storage.Backend)
	require.Empty(t, cfg.Database.DSN)
	require.Equal(t, "none", cfg.Tracing.Exporter)
	require.True(t, cfg.Export.AsyncEnabled)
	require.GreaterOrEqual(t, cfg.Worker.MaxActiveJobs, 1)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PIXELTUNE_API_ADDR", ":9999")
	t.Setenv("PIXELTUNE_SESSION_TTL", "5m")
	t.Setenv("PIXELTUNE_MAX_UPLOAD_BYTES", "1048576")
	t.Setenv("RATE_LIMIT_ENABLED", "true")
	t.Setenv("RATE_LIMIT_WINDOW", "30")
	t.Setenv("STORAGE_BACKEND", "MinIO")
	t.Setenv("OTEL_TRACES_SAMPLE_RATIO", "0.5")
	t.Setenv("PIXELTUNE_ASYNC_EXPORTS", "false")

	cfg := Load()

	require.Equal(t, ":9999", cfg.API.Addr)
	require.Equal(t, 5*time.Minute, cfg.Session.TTL)
	require.Equal(t, int64(1<<20), cfg.API.MaxUploadBytes)
	require.True(t, cfg.RateLimit.Enabled)
	require.Equal(t, 30*time.Second, cfg.RateLimit.Window)
	require.Equal(t, StorageBackendMinIO, cfg.Storage.Backend)
	require.Equal(t, 0.5, cfg.Tracing.SampleRatio)
	require.False(t, cfg.Export.AsyncEnabled)
}

func TestMalformedValuesFallBack(t *testing.T) {
	t.Setenv("REDIS_DB", "three")
	t.Setenv("PIXELTUNE_SESSION_TTL", "soon")
	t.Setenv("MINIO_USE_SSL", "maybe")

	cfg := Load()

	require.Equal(t, 0, cfg.Queue.RedisDB)
	require.Equal(t, 30*time.Minute, cfg.Session.TTL)
	require.False(t, cfg.Storage.UseSSL)
}

func TestRedisClientOpt(t *testing.T) {
	opt := QueueConfig{RedisAddr: "redis:6379", RedisPassword: "pw", RedisDB: 2}.RedisClientOpt()
	require.Equal(t, "redis:6379", opt.Addr)
	require.Equal(t, "pw", opt.Password)
	require.Equal(t, 2, opt.DB)
}
