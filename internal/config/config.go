package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Cache backend and sink kind values accepted by Load.
const (
	CacheFile   = "file"
	CacheRedis  = "redis"
	CacheMemory = "memory"

	SinkElasticsearch = "elasticsearch"
	SinkKafka         = "kafka"
)

// Config holds all pipeline settings, populated from environment variables.
type Config struct {
	DataDir    string
	SampleSize int
	Jobs       int

	CacheBackend  string
	CacheDir      string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	BatchSize    int
	SinkKind     string
	ElasticURL   string
	ElasticIndex string
	KafkaBrokers []string
	KafkaTopic   string
	OverflowDir  string

	MeteoURL         string
	MeteoInterval    time.Duration
	MeteoTimeout     time.Duration
	MeteoMaxAttempts int

	OverpassURL         string
	OverpassInterval    time.Duration
	OverpassTimeout     time.Duration
	OverpassMaxAttempts int
	OverpassRadius      int
}

// Load reads configuration from environment variables, applying defaults
// where unset. A .env file in the working directory is read first if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	shutdownTimeout, err := parseDuration("SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	meteoInterval, err := parseDuration("METEO_INTERVAL", "500ms")
	if err != nil {
		return nil, err
	}
	meteoTimeout, err := parseDuration("METEO_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	overpassInterval, err := parseDuration("OVERPASS_INTERVAL", "2s")
	if err != nil {
		return nil, err
	}
	overpassTimeout, err := parseDuration("OVERPASS_TIMEOUT", "30s")
	if err != nil {
		return nil, err
	}

	batchSize, err := parseInt("BATCH_SIZE", 500, 1, 10000)
	if err != nil {
		return nil, err
	}
	jobs, err := parseInt("JOBS", 4, 1, 256)
	if err != nil {
		return nil, err
	}
	sampleSize, err := parseInt("SAMPLE_SIZE", 0, 0, 1<<30)
	if err != nil {
		return nil, err
	}
	redisDB, err := parseInt("REDIS_DB", 0, 0, 15)
	if err != nil {
		return nil, err
	}
	meteoAttempts, err := parseInt("METEO_MAX_ATTEMPTS", 5, 1, 20)
	if err != nil {
		return nil, err
	}
	overpassAttempts, err := parseInt("OVERPASS_MAX_ATTEMPTS", 8, 1, 20)
	if err != nil {
		return nil, err
	}
	overpassRadius, err := parseInt("OVERPASS_RADIUS", 500, 10, 10000)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:    envOrDefault("DATA_DIR", "data/raw"),
		SampleSize: sampleSize,
		Jobs:       jobs,

		CacheBackend:  envOrDefault("CACHE_BACKEND", CacheFile),
		CacheDir:      envOrDefault("CACHE_DIR", "data/cache"),
		RedisAddr:     envOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       redisDB,

		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		BatchSize:    batchSize,
		SinkKind:     envOrDefault("SINK_KIND", SinkElasticsearch),
		ElasticURL:   envOrDefault("ELASTIC_URL", "http://localhost:9200"),
		ElasticIndex: envOrDefault("ELASTIC_INDEX", "accidents"),
		KafkaBrokers: parseBrokers(envOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:   envOrDefault("KAFKA_TOPIC", "accidents-enriched"),
		OverflowDir:  envOrDefault("OVERFLOW_DIR", "data/overflow"),

		MeteoURL:         os.Getenv("METEO_URL"),
		MeteoInterval:    meteoInterval,
		MeteoTimeout:     meteoTimeout,
		MeteoMaxAttempts: meteoAttempts,

		OverpassURL:         os.Getenv("OVERPASS_URL"),
		OverpassInterval:    overpassInterval,
		OverpassTimeout:     overpassTimeout,
		OverpassMaxAttempts: overpassAttempts,
		OverpassRadius:      overpassRadius,
	}

	if cfg.DataDir == "" {
		return nil, errors.New("DATA_DIR is required")
	}
	switch cfg.CacheBackend {
	case CacheFile:
		if cfg.CacheDir == "" {
			return nil, errors.New("CACHE_DIR is required for the file cache backend")
		}
	case CacheRedis:
		if cfg.RedisAddr == "" {
			return nil, errors.New("REDIS_ADDR is required for the redis cache backend")
		}
	case CacheMemory:
	default:
		return nil, fmt.Errorf("unknown CACHE_BACKEND %q (want file, redis or memory)", cfg.CacheBackend)
	}
	switch cfg.SinkKind {
	case SinkElasticsearch:
		if cfg.ElasticURL == "" || cfg.ElasticIndex == "" {
			return nil, errors.New("ELASTIC_URL and ELASTIC_INDEX are required for the elasticsearch sink")
		}
	case SinkKafka:
		if len(cfg.KafkaBrokers) == 0 || cfg.KafkaTopic == "" {
			return nil, errors.New("KAFKA_BROKERS and KAFKA_TOPIC are required for the kafka sink")
		}
	default:
		return nil, fmt.Errorf("unknown SINK_KIND %q (want elasticsearch or kafka)", cfg.SinkKind)
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseBrokers(s string) []string {
	var brokers []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func parseDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, def))
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid %s: want a non-negative duration", key)
	}
	return d, nil
}

func parseInt(key string, def, minValue, maxValue int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < minValue || n > maxValue {
		return 0, fmt.Errorf("invalid %s: want an integer in [%d, %d]", key, minValue, maxValue)
	}
	return n, nil
}
