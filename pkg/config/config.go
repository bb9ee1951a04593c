package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Push modes for the distribution endpoint. Chosen once per process; every
// session created by that process uses the same mode.
const (
	PushModeSnapshot = "snapshot" // push the full latest snapshot every interval
	PushModeChanged  = "changed"  // push only values that changed since the last push
)

// Upstream provider kinds.
const (
	UpstreamAlpaca = "alpaca" // websocket connection to an Alpaca-style feed
	UpstreamKafka  = "kafka"  // tick topic consumed as the upstream
	UpstreamSim    = "sim"    // in-process random walk, for local dev
)

// Config holds all configuration for the application
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	Reconnect ReconnectConfig `mapstructure:"reconnect"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
}

type AppConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"` // e.g., "local", "prod"
}

type CacheConfig struct {
	TTLSec   int `mapstructure:"ttl_sec"`
	SweepSec int `mapstructure:"sweep_sec"`
}

type StreamConfig struct {
	PushIntervalSec int      `mapstructure:"push_interval_sec"`
	HeartbeatSec    int      `mapstructure:"heartbeat_sec"`
	PushMode        string   `mapstructure:"push_mode"`
	ValidTickers    []string `mapstructure:"valid_tickers"` // empty allows all
}

type UpstreamConfig struct {
	Kind      string `mapstructure:"kind"`
	Endpoint  string `mapstructure:"endpoint"`
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
}

type ReconnectConfig struct {
	BaseDelaySec   int `mapstructure:"base_delay_sec"`
	MaxDelaySec    int `mapstructure:"max_delay_sec"`
	MaxAttempts    int `mapstructure:"max_attempts"`
	StabilitySec   int `mapstructure:"stability_sec"`
	ConnectTimeout int `mapstructure:"connect_timeout_sec"`
}

type RedisConfig struct {
	// Addr empty means no durable backend: the store runs in-memory only.
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

// LoadConfig reads configuration from .env file, environment variables, and defaults.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// Load .env file into System Environment (if it exists)
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, relying on System Env Vars")
	}

	v.SetDefault("app.port", ":8080")
	v.SetDefault("app.env", "local")

	v.SetDefault("cache.ttl_sec", 5)
	v.SetDefault("cache.sweep_sec", 10)

	v.SetDefault("stream.push_interval_sec", 1)
	v.SetDefault("stream.heartbeat_sec", 15)
	v.SetDefault("stream.push_mode", PushModeSnapshot)
	v.SetDefault("stream.valid_tickers", []string{})

	v.SetDefault("upstream.kind", UpstreamSim)
	v.SetDefault("upstream.endpoint", "")
	v.SetDefault("upstream.api_key", "")
	v.SetDefault("upstream.api_secret", "")

	v.SetDefault("reconnect.base_delay_sec", 1)
	v.SetDefault("reconnect.max_delay_sec", 60)
	v.SetDefault("reconnect.max_attempts", 10)
	v.SetDefault("reconnect.stability_sec", 30)
	v.SetDefault("reconnect.connect_timeout_sec", 10)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "market_ticks")
	v.SetDefault("kafka.group_id", "market-stream-core")

	// Map dot-notation to underscores (e.g., "cache.ttl_sec" -> "CACHE_TTL_SEC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicitly bind env vars so flat vars map onto the nested structs
	bindEnv(v, "app.port", "app.env")
	bindEnv(v, "cache.ttl_sec", "cache.sweep_sec")
	bindEnv(v, "stream.push_interval_sec", "stream.heartbeat_sec", "stream.push_mode", "stream.valid_tickers")
	bindEnv(v, "upstream.kind", "upstream.endpoint", "upstream.api_key", "upstream.api_secret")
	bindEnv(v, "reconnect.base_delay_sec", "reconnect.max_delay_sec", "reconnect.max_attempts", "reconnect.stability_sec", "reconnect.connect_timeout_sec")
	bindEnv(v, "redis.addr", "redis.password", "redis.db")
	bindEnv(v, "kafka.brokers", "kafka.topic", "kafka.group_id")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %v", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Cache.TTLSec <= 0 {
		return fmt.Errorf("cache TTL must be positive, got %d", c.Cache.TTLSec)
	}
	if c.Stream.PushIntervalSec <= 0 {
		return fmt.Errorf("push interval must be positive, got %d", c.Stream.PushIntervalSec)
	}
	switch c.Stream.PushMode {
	case PushModeSnapshot, PushModeChanged:
	default:
		return fmt.Errorf("unknown push mode %q", c.Stream.PushMode)
	}
	switch c.Upstream.Kind {
	case UpstreamAlpaca, UpstreamKafka, UpstreamSim:
	default:
		return fmt.Errorf("unknown upstream kind %q", c.Upstream.Kind)
	}
	if c.Upstream.Kind == UpstreamAlpaca && c.Upstream.Endpoint == "" {
		return fmt.Errorf("upstream endpoint required for alpaca upstream")
	}
	if c.Upstream.Kind == UpstreamKafka && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers cannot be empty for kafka upstream")
	}
	if c.Reconnect.BaseDelaySec <= 0 || c.Reconnect.MaxDelaySec < c.Reconnect.BaseDelaySec {
		return fmt.Errorf("invalid reconnect delays: base=%d max=%d", c.Reconnect.BaseDelaySec, c.Reconnect.MaxDelaySec)
	}
	return nil
}

// CacheTTL returns the configured entry TTL as a duration.
func (c *Config) CacheTTL() time.Duration { return time.Duration(c.Cache.TTLSec) * time.Second }

// PushInterval returns the distribution push cadence.
func (c *Config) PushInterval() time.Duration {
	return time.Duration(c.Stream.PushIntervalSec) * time.Second
}

// HeartbeatInterval returns the maximum quiet period before a heartbeat frame.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Stream.HeartbeatSec) * time.Second
}

// NewLogger builds the process logger. Production config everywhere except
// local, where the development config gives readable console output.
func NewLogger(cfg *Config) (*zap.Logger, error) {
	if cfg != nil && cfg.App.Env == "local" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// bindEnv is a helper to bind multiple keys at once
func bindEnv(v *viper.Viper, keys ...string) {
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			log.Printf("Could not bind env var for key %s: %v", key, err)
		}
	}
}
