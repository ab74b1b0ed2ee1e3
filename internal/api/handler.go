package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/shaiso/marketagent/internal/agent"
	"github.com/shaiso/marketagent/internal/domain"
	"github.com/shaiso/marketagent/internal/scheduler"
	"github.com/shaiso/marketagent/internal/token"
)

// Agent — то, что status API читает и дёргает у агента.
type Agent interface {
	Stats() agent.Stats
	RunOnce(ctx context.Context) error
}

// Scheduler — источник статистики poll scheduler'а.
type Scheduler interface {
	Stats() scheduler.Stats
	Reset()
}

// Session — состояние аутентификации.
type Session interface {
	Status(ctx context.Context) token.Status
}

// OutcomeStore — журнал итогов задач.
type OutcomeStore interface {
	ListRecent(ctx context.Context, limit int) ([]domain.Outcome, error)
	GetLatest(ctx context.Context, taskID string) (*domain.Outcome, error)
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	agent     Agent
	scheduler Scheduler
	session   Session
	outcomes  OutcomeStore
	breaker   func() string
	gatherer  prometheus.Gatherer
	logger    *slog.Logger
	started   time.Time
}

// Config — конфигурация для создания Handler.
type Config struct {
	Agent     Agent
	Scheduler Scheduler
	Session   Session

	// Outcomes (опционально) — без него /api/v1/outcomes отвечает 404.
	Outcomes OutcomeStore

	// BreakerState (опционально) — состояние circuit breaker backend'а.
	BreakerState func() string

	// Gatherer для /metrics (default: prometheus.DefaultGatherer).
	Gatherer prometheus.Gatherer

	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Handler{
		agent:     cfg.Agent,
		scheduler: cfg.Scheduler,
		session:   cfg.Session,
		outcomes:  cfg.Outcomes,
		breaker:   cfg.BreakerState,
		gatherer:  cfg.Gatherer,
		logger:    cfg.Logger,
		started:   time.Now(),
	}
}
