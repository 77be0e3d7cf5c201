package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port   string `envconfig:"PORT" default:"8080"`
	AppEnv string `envconfig:"APP_ENV" default:"production"`

	DBUrl          string        `envconfig:"DB_URL" required:"true"`
	DBMaxConns     int32         `envconfig:"DB_MAX_CONNS" default:"10"`
	DBQueryTimeout time.Duration `envconfig:"DB_QUERY_TIMEOUT" default:"5s"`

	JWTSecret    string `envconfig:"JWT_SECRET" required:"true"`
	JWTExpireMin int    `envconfig:"JWT_EXPIRE_MIN" default:"1440"`

	RedisAddr     string        `envconfig:"REDIS_ADDR"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
	CacheTTL      time.Duration `envconfig:"CACHE_TTL" default:"1m"`

	RabbitURL    string `envconfig:"RABBIT_URL"`
	MQExchange   string `envconfig:"MQ_EXCHANGE" default:"minicoachy.events"`
	NotifyQueue  string `envconfig:"NOTIFY_QUEUE" default:"minicoachy.notifications"`
	NotifyBuffer int    `envconfig:"NOTIFY_BUFFER" default:"256"`

	ReminderDelay time.Duration `envconfig:"REMINDER_DELAY" default:"1m"`

	EnableTracing bool   `envconfig:"ENABLE_TRACING" default:"false"`
	OTLPEndpoint  string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT" default:"otel-collector:4317"`
}

func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.NotifyBuffer <= 0 {
		return nil, fmt.Errorf("NOTIFY_BUFFER must be positive, got %d", cfg.NotifyBuffer)
	}
	cfg.AppEnv = normalizeEnv(cfg.AppEnv)
	return &cfg, nil
}

func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.JWTExpireMin) * time.Minute
}

func (c *Config) CacheEnabled() bool {
	return c != nil && strings.TrimSpace(c.RedisAddr) != ""
}

func (c *Config) BrokerEnabled() bool {
	return c != nil && strings.TrimSpace(c.RabbitURL) != ""
}

func normalizeEnv(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "dev", "develop", "development", "local":
		return "development"
	case "prod", "production":
		return "production"
	case "stage", "staging":
		return "staging"
	case "test", "testing":
		return "test"
	default:
		return strings.ToLower(strings.TrimSpace(value))
	}
}
