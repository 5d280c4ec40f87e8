package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	// RunModeWebhook receives updates through a Telegram webhook.
	RunModeWebhook = "webhook"
	// RunModeLongpoll receives updates with getUpdates long polling.
	RunModeLongpoll = "longpoll"

	// FlushPerEvent writes sessions at the end of every update.
	FlushPerEvent = "per_event"
	// FlushPeriodic writes sessions on a timer and at shutdown.
	FlushPeriodic = "periodic"

	CatalogSourceFile     = "file"
	CatalogSourcePostgres = "postgres"

	defaultNamespace = "quizbot"
)

type TelegramConfig struct {
	Token                  string `yaml:"token" envconfig:"BOT_TOKEN"`
	RunMode                string `yaml:"run_mode" envconfig:"TELEGRAM_RUN_MODE"`
	LongPollTimeoutSeconds int    `yaml:"longpoll_timeout_seconds" envconfig:"TELEGRAM_LONGPOLL_TIMEOUT_SECONDS"`
}

type WebhookConfig struct {
	URL    string `yaml:"url" envconfig:"WEBHOOK_URL"`
	Listen string `yaml:"listen" envconfig:"WEBHOOK_LISTEN"`
	Port   int    `yaml:"port" envconfig:"WEBHOOK_PORT"`
}

type ServerConfig struct {
	// Port of the ops HTTP server (health and results feed). Empty disables it.
	Port string `yaml:"port" envconfig:"SERVER_PORT"`
}

type RedisConfig struct {
	// Addr of the Redis server. Empty keeps sessions in process memory.
	Addr     string `yaml:"addr" envconfig:"REDIS_ADDR"`
	Password string `yaml:"password" envconfig:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" envconfig:"REDIS_DB"`
	// Key is the hash holding every user's session.
	Key string `yaml:"key" envconfig:"REDIS_KEY"`
}

type PostgresConfig struct {
	URL string `yaml:"url" envconfig:"POSTGRES_URL"`
}

type RabbitConfig struct {
	URL        string `yaml:"url" envconfig:"RABBIT_URL"`
	Exchange   string `yaml:"exchange" envconfig:"RABBIT_EXCHANGE"`
	RoutingKey string `yaml:"routing_key" envconfig:"RABBIT_ROUTING_KEY"`
}

type CatalogConfig struct {
	Source string `yaml:"source" envconfig:"CATALOG_SOURCE"`
	Path   string `yaml:"path" envconfig:"QUIZ_FILE"`
}

type BotConfig struct {
	Passphrase   string `yaml:"passphrase" envconfig:"PASSPHRASE"`
	StartMessage string `yaml:"start_message" envconfig:"START_MESSAGE"`
	NotifyStale  *bool  `yaml:"notify_stale" envconfig:"NOTIFY_STALE"`
}

type ExecutionConfig struct {
	FlushMode     string `yaml:"flush_mode" envconfig:"FLUSH_MODE"`
	FlushInterval string `yaml:"flush_interval" envconfig:"FLUSH_INTERVAL"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format string `yaml:"format" envconfig:"LOG_FORMAT"`
}

type Config struct {
	Telegram  TelegramConfig  `yaml:"telegram"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Server    ServerConfig    `yaml:"server"`
	Redis     RedisConfig     `yaml:"redis"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Rabbit    RabbitConfig    `yaml:"rabbit"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Bot       BotConfig       `yaml:"bot"`
	Execution ExecutionConfig `yaml:"execution"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// Load reads .env (if present), the YAML file at path (if non-empty) and the
// environment, in that order of increasing precedence.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}
	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize validates required fields and fills defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram token is required")
	}

	rm := strings.ToLower(strings.TrimSpace(cfg.Telegram.RunMode))
	switch rm {
	case "", "polling":
		rm = RunModeLongpoll
	}
	switch rm {
	case RunModeWebhook:
		if strings.TrimSpace(cfg.Webhook.URL) == "" {
			return fmt.Errorf("webhook.url is required when telegram.run_mode is 'webhook'")
		}
		if cfg.Webhook.Port <= 0 {
			return fmt.Errorf("webhook.port must be > 0 when telegram.run_mode is 'webhook'")
		}
	case RunModeLongpoll:
		if cfg.Telegram.LongPollTimeoutSeconds < 0 {
			return fmt.Errorf("telegram.longpoll_timeout_seconds must be >= 0")
		}
	default:
		return fmt.Errorf("invalid telegram.run_mode %q; allowed: webhook, longpoll", cfg.Telegram.RunMode)
	}
	cfg.Telegram.RunMode = rm

	if strings.TrimSpace(cfg.Redis.Key) == "" {
		cfg.Redis.Key = defaultNamespace
	}

	src := strings.ToLower(strings.TrimSpace(cfg.Catalog.Source))
	if src == "" {
		src = CatalogSourceFile
	}
	switch src {
	case CatalogSourceFile:
		if cfg.Catalog.Path == "" {
			cfg.Catalog.Path = "quizzes.yaml"
		}
	case CatalogSourcePostgres:
		if cfg.Postgres.URL == "" {
			return fmt.Errorf("postgres.url is required when catalog.source is 'postgres'")
		}
	default:
		return fmt.Errorf("invalid catalog.source %q; allowed: file, postgres", cfg.Catalog.Source)
	}
	cfg.Catalog.Source = src

	fm := strings.ToLower(strings.TrimSpace(cfg.Execution.FlushMode))
	switch fm {
	case "":
		fm = FlushPerEvent
	case FlushPerEvent, FlushPeriodic:
	default:
		return fmt.Errorf("invalid execution.flush_mode %q; allowed: per_event, periodic", cfg.Execution.FlushMode)
	}
	cfg.Execution.FlushMode = fm

	if cfg.Rabbit.URL != "" {
		if cfg.Rabbit.Exchange == "" {
			cfg.Rabbit.Exchange = "quiz.results"
		}
		if cfg.Rabbit.RoutingKey == "" {
			cfg.Rabbit.RoutingKey = "quiz.completed"
		}
	}
	if cfg.Bot.NotifyStale == nil {
		notify := true
		cfg.Bot.NotifyStale = &notify
	}
	return nil
}

// FlushInterval returns the periodic flush interval (default 5s).
func (c *Config) FlushInterval() time.Duration {
	return TTLDuration(c.Execution.FlushInterval, 5*time.Second)
}

// NotifyStale reports whether stale answers get a notice.
func (c *Config) NotifyStale() bool {
	return c.Bot.NotifyStale == nil || *c.Bot.NotifyStale
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	return fallback
}
