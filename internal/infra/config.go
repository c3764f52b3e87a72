package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for every binary in the pipeline.
// Each service reads the sections it needs and ignores the rest.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Processor ProcessorConfig `mapstructure:"processor"`
	Alerts    AlertsConfig    `mapstructure:"alerts"`
	Pricing   PricingConfig   `mapstructure:"pricing"`
	Logger    LoggerConfig    `mapstructure:"logger"`
}

// ServerConfig describes the HTTP listener of a service.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	MetricsPort  int           `mapstructure:"metrics_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig describes the PostgreSQL hot storage connection.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int    `mapstructure:"max_conns"`
	MinConns int    `mapstructure:"min_conns"`
}

// RedisConfig describes the Redis connection (queue, rate limits, alert windows).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig holds the RS256 key material for the query API perimeter.
type AuthConfig struct {
	PublicKeyPath string `mapstructure:"public_key_path"`
	PublicKey     []byte
}

// IngestConfig tunes the gate: quotas, batch caps, backpressure.
type IngestConfig struct {
	MaxBatchSize       int           `mapstructure:"max_batch_size"`
	DefaultRatePerMin  int           `mapstructure:"default_rate_per_min"`
	RateWindow         time.Duration `mapstructure:"rate_window"`
	QueueHighWater     int64         `mapstructure:"queue_high_water"`
	DepthProbeInterval time.Duration `mapstructure:"depth_probe_interval"`
	KeyCacheTTL        time.Duration `mapstructure:"key_cache_ttl"`
	KeyCacheNegTTL     time.Duration `mapstructure:"key_cache_neg_ttl"`
}

// QueueConfig names the stream and its consumer group.
type QueueConfig struct {
	Stream string `mapstructure:"stream"`
	Group  string `mapstructure:"group"`
}

// ProcessorConfig tunes the enrichment consumer loop.
type ProcessorConfig struct {
	Consumer        string        `mapstructure:"consumer"`
	Workers         int           `mapstructure:"workers"`
	BatchSize       int           `mapstructure:"batch_size"`
	BlockTimeout    time.Duration `mapstructure:"block_timeout"`
	ReclaimInterval time.Duration `mapstructure:"reclaim_interval"`
	ReclaimMinIdle  time.Duration `mapstructure:"reclaim_min_idle"`
}

// AlertsConfig tunes rule snapshot refresh and window aggregation.
type AlertsConfig struct {
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	WindowSize      time.Duration `mapstructure:"window_size"`
	WebhookURL      string        `mapstructure:"webhook_url"`
	WebhookTimeout  time.Duration `mapstructure:"webhook_timeout"`
}

// PricingConfig overrides or extends the built-in model rate table.
// Rates are USD per million tokens.
type PricingConfig struct {
	DefaultInputPerMTok  float64               `mapstructure:"default_input_per_mtok"`
	DefaultOutputPerMTok float64               `mapstructure:"default_output_per_mtok"`
	Models               map[string]ModelRates `mapstructure:"models"`
}

// ModelRates is one row of the pricing table.
type ModelRates struct {
	InputPerMTok  float64 `mapstructure:"input_per_mtok"`
	OutputPerMTok float64 `mapstructure:"output_per_mtok"`
}

// LoggerConfig controls the zap logger.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig merges config.yaml, environment variables and defaults.
// ENV overrides file values: INGEST_MAX_BATCH_SIZE=50 overrides ingest.max_batch_size.
func LoadConfig() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// no file: ENV and defaults only
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// PEM key can arrive as an ENV blob (Docker/K8s) or a file path.
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("database.max_conns", 25)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")

	v.SetDefault("ingest.max_batch_size", 100)
	v.SetDefault("ingest.default_rate_per_min", 6000)
	v.SetDefault("ingest.rate_window", time.Minute)
	v.SetDefault("ingest.queue_high_water", 100000)
	v.SetDefault("ingest.depth_probe_interval", time.Second)
	v.SetDefault("ingest.key_cache_ttl", 5*time.Minute)
	v.SetDefault("ingest.key_cache_neg_ttl", 30*time.Second)

	v.SetDefault("queue.stream", RedisKeyEventStream)
	v.SetDefault("queue.group", RedisGroupProcessors)

	v.SetDefault("processor.consumer", defaultConsumerName())
	v.SetDefault("processor.workers", 8)
	v.SetDefault("processor.batch_size", 64)
	v.SetDefault("processor.block_timeout", 5*time.Second)
	v.SetDefault("processor.reclaim_interval", 30*time.Second)
	v.SetDefault("processor.reclaim_min_idle", time.Minute)

	v.SetDefault("alerts.refresh_interval", 60*time.Second)
	v.SetDefault("alerts.window_size", 60*time.Second)
	v.SetDefault("alerts.webhook_timeout", 10*time.Second)

	v.SetDefault("pricing.default_input_per_mtok", 1.0)
	v.SetDefault("pricing.default_output_per_mtok", 2.0)
}

func defaultConsumerName() string {
	host, err := os.Hostname()
	if err != nil {
		return "processor-1"
	}
	return "processor-" + host
}

// loadKeyResource prefers a PEM blob from ENV over a file path from config.
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
