package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "data/raw", cfg.DataDir)
	assert.Equal(t, 0, cfg.SampleSize)
	assert.Equal(t, 4, cfg.Jobs)
	assert.Equal(t, CacheFile, cfg.CacheBackend)
	assert.Equal(t, "data/cache", cfg.CacheDir)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 500, cfg.BatchSize)
	assert.Equal(t, SinkElasticsearch, cfg.SinkKind)
	assert.Equal(t, "http://localhost:9200", cfg.ElasticURL)
	assert.Equal(t, "accidents", cfg.ElasticIndex)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "accidents-enriched", cfg.KafkaTopic)
	assert.Equal(t, "data/overflow", cfg.OverflowDir)
	assert.Equal(t, 500*time.Millisecond, cfg.MeteoInterval)
	assert.Equal(t, 10*time.Second, cfg.MeteoTimeout)
	assert.Equal(t, 5, cfg.MeteoMaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.OverpassInterval)
	assert.Equal(t, 30*time.Second, cfg.OverpassTimeout)
	assert.Equal(t, 8, cfg.OverpassMaxAttempts)
	assert.Equal(t, 500, cfg.OverpassRadius)
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("DATA_DIR", "/srv/baac")
	t.Setenv("SAMPLE_SIZE", "1000")
	t.Setenv("JOBS", "16")
	t.Setenv("CACHE_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "cache-1:6379")
	t.Setenv("REDIS_PASSWORD", "hunter2")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("SHUTDOWN_TIMEOUT", "30s")
	t.Setenv("BATCH_SIZE", "250")
	t.Setenv("SINK_KIND", "kafka")
	t.Setenv("KAFKA_BROKERS", "broker1:9092,broker2:9092")
	t.Setenv("KAFKA_TOPIC", "custom-topic")
	t.Setenv("METEO_INTERVAL", "200ms")
	t.Setenv("OVERPASS_INTERVAL", "5s")
	t.Setenv("OVERPASS_RADIUS", "1000")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/srv/baac", cfg.DataDir)
	assert.Equal(t, 1000, cfg.SampleSize)
	assert.Equal(t, 16, cfg.Jobs)
	assert.Equal(t, CacheRedis, cfg.CacheBackend)
	assert.Equal(t, "cache-1:6379", cfg.RedisAddr)
	assert.Equal(t, "hunter2", cfg.RedisPassword)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 250, cfg.BatchSize)
	assert.Equal(t, SinkKafka, cfg.SinkKind)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "custom-topic", cfg.KafkaTopic)
	assert.Equal(t, 200*time.Millisecond, cfg.MeteoInterval)
	assert.Equal(t, 5*time.Second, cfg.OverpassInterval)
	assert.Equal(t, 1000, cfg.OverpassRadius)
}

func TestLoad_InvalidShutdownTimeout(t *testing.T) {
	t.Setenv("SHUTDOWN_TIMEOUT", "not-a-duration")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SHUTDOWN_TIMEOUT")
}

func TestLoad_NegativeMeteoInterval(t *testing.T) {
	t.Setenv("METEO_INTERVAL", "-1s")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "METEO_INTERVAL")
}

func TestLoad_InvalidBatchSize(t *testing.T) {
	t.Setenv("BATCH_SIZE", "0")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BATCH_SIZE")
}

func TestLoad_BatchSizeTooLarge(t *testing.T) {
	t.Setenv("BATCH_SIZE", "99999")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BATCH_SIZE")
}

func TestLoad_UnknownCacheBackend(t *testing.T) {
	t.Setenv("CACHE_BACKEND", "memcached")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CACHE_BACKEND")
}

func TestLoad_UnknownSinkKind(t *testing.T) {
	t.Setenv("SINK_KIND", "stdout")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SINK_KIND")
}

func TestLoad_KafkaSinkRequiresBrokers(t *testing.T) {
	t.Setenv("SINK_KIND", "kafka")
	t.Setenv("KAFKA_BROKERS", " , ")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KAFKA_BROKERS")
}
