package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the chat service runtime parameters.
type Config struct {
	HTTPAddr            string        `mapstructure:"http_addr"`
	LogLevel            string        `mapstructure:"log_level"`
	ShutdownGracePeriod time.Duration `mapstructure:"shutdown_grace_period"`

	DBDSN     string `mapstructure:"db_dsn"`
	JWTSecret string `mapstructure:"jwt_secret"`

	// MaxContentLen bounds message content length (in runes, after trimming).
	// Enforced identically on the socket path and the REST fallback.
	MaxContentLen int `mapstructure:"max_content_len"`

	AllowedOrigins string `mapstructure:"allowed_origins"`

	Redis  RedisConfig  `mapstructure:"redis"`
	Rabbit RabbitConfig `mapstructure:"rabbit"`
}

// RedisConfig describes the optional unread-count cache. An empty Addr
// disables it.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// RabbitConfig describes the optional message-event queue. An empty URL
// disables publishing.
type RabbitConfig struct {
	URL         string `mapstructure:"url"`
	Queue       string `mapstructure:"queue"`
	Concurrency int    `mapstructure:"concurrency"`
}

const (
	defaultHTTPAddr            = "0.0.0.0:8080"
	defaultLogLevel            = "info"
	defaultShutdownGracePeriod = 10 * time.Second
	defaultMaxContentLen       = 2000
	defaultRabbitQueue         = "chat_messages"
	defaultConcurrency         = 2
	maxConcurrency             = 50
)

// Load reads configuration from the provided file path (if any) and the
// environment. Environment variables are prefixed with CHAT_ and override
// file values, e.g. CHAT_JWT_SECRET, CHAT_REDIS_ADDR.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CHAT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("http_addr", defaultHTTPAddr)
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("shutdown_grace_period", defaultShutdownGracePeriod.String())
	v.SetDefault("db_dsn", "")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("max_content_len", defaultMaxContentLen)
	v.SetDefault("allowed_origins", "*")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("rabbit.url", "")
	v.SetDefault("rabbit.queue", defaultRabbitQueue)
	v.SetDefault("rabbit.concurrency", defaultConcurrency)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	// Viper leaves durations as strings; normalize them here.
	if s := v.GetString("shutdown_grace_period"); s != "" {
		dur, err := time.ParseDuration(s)
		if err != nil {
			return Config{}, fmt.Errorf("invalid shutdown_grace_period: %w", err)
		}
		cfg.ShutdownGracePeriod = dur
	}

	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return Config{}, fmt.Errorf("jwt_secret is required (set CHAT_JWT_SECRET)")
	}
	if cfg.MaxContentLen <= 0 {
		cfg.MaxContentLen = defaultMaxContentLen
	}
	if cfg.Rabbit.Queue == "" {
		cfg.Rabbit.Queue = defaultRabbitQueue
	}
	if cfg.Rabbit.Concurrency <= 0 {
		cfg.Rabbit.Concurrency = defaultConcurrency
	}
	if cfg.Rabbit.Concurrency > maxConcurrency {
		cfg.Rabbit.Concurrency = maxConcurrency
	}

	return cfg, nil
}
