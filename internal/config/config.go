package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/shaiso/marketagent/internal/backend"
	"github.com/shaiso/marketagent/internal/domain"
	"github.com/shaiso/marketagent/internal/fetch"
	"github.com/shaiso/marketagent/internal/guard"
	"github.com/shaiso/marketagent/internal/mq"
	"github.com/shaiso/marketagent/internal/scheduler"
)

const envPrefix = "MARKETAGENT"

// Драйверы хранилища credentials.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

var ErrInvalid = errors.New("invalid config")

// Config — корневая структура конфигурации агента.
type Config struct {
	AgentID     string        `mapstructure:"agent_id"`
	PollTimeout time.Duration `mapstructure:"poll_timeout"`

	Log       LogConfig          `mapstructure:"log"`
	Backend   BackendConfig      `mapstructure:"backend"`
	Scheduler scheduler.Config   `mapstructure:"scheduler"`
	Fetch     FetchConfig        `mapstructure:"fetch"`
	Guard     guard.PolicyConfig `mapstructure:"guard"`
	Token     TokenConfig        `mapstructure:"token"`
	Database  DatabaseConfig     `mapstructure:"database"`
	AMQP      AMQPConfig         `mapstructure:"amqp"`
	Status    StatusConfig       `mapstructure:"status"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text, json
}

// BackendConfig — backend очереди задач маркетплейса.
type BackendConfig struct {
	BaseURL        string                `mapstructure:"base_url"`
	RequestTimeout time.Duration         `mapstructure:"request_timeout"`
	Breaker        backend.BreakerConfig `mapstructure:"breaker"`
}

// FetchConfig — resilient fetch к сайтам маркетплейсов.
type FetchConfig struct {
	Retry             domain.RetryPolicy `mapstructure:"retry"`
	RetryableStatuses []int              `mapstructure:"retryable_statuses"`
	TransientPatterns []string           `mapstructure:"transient_patterns"`
	Timeout           time.Duration      `mapstructure:"timeout"`
	UserAgent         string             `mapstructure:"user_agent"`

	// RateLimit — попыток в секунду на все задачи; 0 — без ограничения.
	RateLimit float64 `mapstructure:"rate_limit"`
	Burst     int     `mapstructure:"burst"`
}

// TokenConfig — хранилище и обновление credentials.
type TokenConfig struct {
	Store            string        `mapstructure:"store"`
	RedisURL         string        `mapstructure:"redis_url"`
	RedisNamespace   string        `mapstructure:"redis_namespace"`
	RefreshThreshold time.Duration `mapstructure:"refresh_threshold"`
	RefreshTimeout   time.Duration `mapstructure:"refresh_timeout"`

	// AccessToken и RefreshToken засевают пустое хранилище при старте.
	AccessToken  string `mapstructure:"access_token"`
	RefreshToken string `mapstructure:"refresh_token"`
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// AMQPConfig — публикация итогов в RabbitMQ; пустой URL отключает её.
type AMQPConfig struct {
	URL      string      `mapstructure:"url"`
	Topology mq.Topology `mapstructure:"topology"`
}

// StatusConfig — локальный status API; пустой адрес отключает сервер.
type StatusConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load читает конфигурацию. path — явный файл (--config) или пустая строка.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Без файла работаем на ENV и дефолтах
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	sched := scheduler.DefaultConfig()
	retry := domain.DefaultRetryPolicy()

	v.SetDefault("agent_id", "")
	v.SetDefault("poll_timeout", 30*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("backend.base_url", "")
	v.SetDefault("backend.request_timeout", 30*time.Second)
	v.SetDefault("backend.breaker.max_requests", 1)
	v.SetDefault("backend.breaker.interval", time.Minute)
	v.SetDefault("backend.breaker.timeout", 30*time.Second)
	v.SetDefault("backend.breaker.consecutive_failures", 5)

	v.SetDefault("scheduler.min_interval", sched.MinInterval)
	v.SetDefault("scheduler.max_interval", sched.MaxInterval)
	v.SetDefault("scheduler.backoff_multiplier", sched.BackoffMultiplier)
	v.SetDefault("scheduler.error_backoff_factor", sched.ErrorBackoffFactor)
	v.SetDefault("scheduler.reset_on_activity", sched.ResetOnActivity)

	v.SetDefault("fetch.retry.max_retries", retry.MaxRetries)
	v.SetDefault("fetch.retry.base_delay", retry.BaseDelay)
	v.SetDefault("fetch.retry.backoff_multiplier", retry.BackoffMultiplier)
	v.SetDefault("fetch.retry.max_delay", retry.MaxDelay)
	v.SetDefault("fetch.retryable_statuses", fetch.DefaultRetryableStatuses)
	v.SetDefault("fetch.transient_patterns", fetch.DefaultTransientPatterns)
	v.SetDefault("fetch.timeout", 30*time.Second)
	v.SetDefault("fetch.user_agent", "marketagent/1.0")
	v.SetDefault("fetch.rate_limit", 0)
	v.SetDefault("fetch.burst", 1)

	v.SetDefault("guard.allowed_domains", guard.DefaultAllowedDomains)
	v.SetDefault("guard.allowed_methods", guard.DefaultAllowedMethods)
	v.SetDefault("guard.suspicious_patterns", guard.DefaultSuspiciousPatterns)
	v.SetDefault("guard.max_body_bytes", guard.DefaultMaxBodyBytes)
	v.SetDefault("guard.max_headers", guard.DefaultMaxHeaders)
	v.SetDefault("guard.max_header_name", guard.DefaultMaxHeaderName)
	v.SetDefault("guard.max_header_value", guard.DefaultMaxHeaderValue)
	v.SetDefault("guard.max_files", guard.DefaultMaxFiles)

	v.SetDefault("token.store", StoreMemory)
	v.SetDefault("token.redis_url", "")
	v.SetDefault("token.redis_namespace", "marketagent:auth")
	v.SetDefault("token.refresh_threshold", 5*time.Minute)
	v.SetDefault("token.refresh_timeout", 15*time.Second)
	v.SetDefault("token.access_token", "")
	v.SetDefault("token.refresh_token", "")

	v.SetDefault("database.dsn", "")

	top := mq.DefaultTopology()
	v.SetDefault("amqp.url", "")
	v.SetDefault("amqp.topology.exchange", top.Exchange)
	v.SetDefault("amqp.topology.outcome_queue", top.OutcomeQueue)
	v.SetDefault("amqp.topology.dead_letter_exchange", top.DeadLetterExc)
	v.SetDefault("amqp.topology.dead_letter_queue", top.DeadLetterQ)

	v.SetDefault("status.addr", "127.0.0.1:9090")
}

// Validate проверяет согласованность значений.
func (c *Config) Validate() error {
	var errs []error

	if c.Backend.BaseURL != "" {
		u, err := url.Parse(c.Backend.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("backend.base_url %q: must be an absolute http(s) URL", c.Backend.BaseURL))
		}
	}

	switch c.Token.Store {
	case StoreMemory:
	case StoreRedis:
		if c.Token.RedisURL == "" {
			errs = append(errs, errors.New("token.redis_url is required for the redis store"))
		}
	case StorePostgres:
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("database.dsn is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("token.store %q: want memory, redis or postgres", c.Token.Store))
	}

	if c.Scheduler.MinInterval <= 0 {
		errs = append(errs, errors.New("scheduler.min_interval must be positive"))
	}
	if c.PollTimeout < 0 {
		errs = append(errs, errors.New("poll_timeout must not be negative"))
	}
	if c.Fetch.RateLimit < 0 {
		errs = append(errs, errors.New("fetch.rate_limit must not be negative"))
	}
	for _, code := range c.Fetch.RetryableStatuses {
		if code < 100 || code > 599 {
			errs = append(errs, fmt.Errorf("fetch.retryable_statuses: %d is not an HTTP status", code))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// RequireBackend проверяет, что задан backend (нужен для команды run).
func (c *Config) RequireBackend() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("%w: backend.base_url is required (MARKETAGENT_BACKEND_BASE_URL)", ErrInvalid)
	}
	return nil
}
