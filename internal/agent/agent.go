package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/marketagent/internal/backend"
	"github.com/shaiso/marketagent/internal/domain"
	"github.com/shaiso/marketagent/internal/guard"
	"github.com/shaiso/marketagent/internal/scheduler"
	"github.com/shaiso/marketagent/internal/telemetry"
	"github.com/shaiso/marketagent/internal/token"
)

// Default configuration values.
const (
	defaultPollTimeout   = 30 * time.Second
	defaultReportTimeout = 15 * time.Second
)

// TaskBackend — API очереди задач.
type TaskBackend interface {
	Poll(ctx context.Context, accessToken string, timeout time.Duration) ([]domain.Task, error)
	Complete(ctx context.Context, accessToken, taskID string, result any) error
	Fail(ctx context.Context, accessToken, taskID, reason string) error
}

// Credentials — источник access-токена (token.Session).
type Credentials interface {
	AccessToken(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
	Invalidate()
}

// OutcomePublisher публикует итоги обработки tasks (mq.Publisher).
type OutcomePublisher interface {
	PublishOutcome(ctx context.Context, outcome domain.Outcome) error
}

// Agent — резидентный агент выполнения задач.
type Agent struct {
	id string

	backend   TaskBackend
	session   Credentials
	guard     *guard.Validator
	executor  Executor
	scheduler *scheduler.Scheduler
	publisher OutcomePublisher

	pollTimeout   time.Duration
	reportTimeout time.Duration

	logger  *slog.Logger
	metrics *telemetry.Metrics

	// polling не даёт запустить два цикла опроса одновременно
	polling atomic.Bool

	stats statsCounters

	// Lifecycle
	mu         sync.Mutex
	running    bool
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// Config — конфигурация Agent.
type Config struct {
	// AgentID — идентификатор экземпляра (опционально; по умолчанию uuid).
	AgentID string

	Backend  TaskBackend
	Session  Credentials
	Executor Executor

	// Guard (опционально; если nil — guard.NewDefault()).
	Guard *guard.Validator

	// Scheduler (опционально; если nil — scheduler.DefaultConfig()).
	Scheduler *scheduler.Scheduler

	// Publisher (опционально) — события task.outcome.
	Publisher OutcomePublisher

	// PollTimeout — timeout long-poll на стороне backend'а (default: 30s).
	PollTimeout time.Duration

	// ReportTimeout — таймаут отправки Complete/Fail (default: 15s).
	ReportTimeout time.Duration

	Logger  *slog.Logger
	Metrics *telemetry.Metrics
}

// New создаёт Agent.
func New(cfg Config) *Agent {
	id := cfg.AgentID
	if id == "" {
		id = uuid.NewString()
	}

	validator := cfg.Guard
	if validator == nil {
		validator = guard.NewDefault()
	}

	sched := cfg.Scheduler
	if sched == nil {
		sched = scheduler.New(scheduler.DefaultConfig())
	}

	pollTimeout := cfg.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = defaultPollTimeout
	}

	reportTimeout := cfg.ReportTimeout
	if reportTimeout <= 0 {
		reportTimeout = defaultReportTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = telemetry.NewMetrics(nil)
	}

	return &Agent{
		id:            id,
		backend:       cfg.Backend,
		session:       cfg.Session,
		guard:         validator,
		executor:      cfg.Executor,
		scheduler:     sched,
		publisher:     cfg.Publisher,
		pollTimeout:   pollTimeout,
		reportTimeout: reportTimeout,
		logger:        telemetry.WithAgentID(logger, id),
		metrics:       metrics,
	}
}

// ID возвращает идентификатор экземпляра агента.
func (a *Agent) ID() string {
	return a.id
}

// Scheduler возвращает планировщик агента.
func (a *Agent) Scheduler() *scheduler.Scheduler {
	return a.scheduler
}

// Start запускает цикл опроса в фоне.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	a.cancelFunc = cancel
	a.running = true

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("agent loop stopped", "error", err)
		}
	}()

	a.logger.Info("agent started", "poll_timeout", a.pollTimeout)
	return nil
}

// Stop останавливает цикл и ждёт завершения текущей task.
func (a *Agent) Stop() {
	a.mu.Lock()
	cancel := a.cancelFunc
	a.mu.Unlock()

	a.logger.Info("stopping agent...")

	if cancel != nil {
		cancel()
	}
	a.wg.Wait()

	a.mu.Lock()
	a.running = false
	a.cancelFunc = nil
	a.mu.Unlock()

	a.logger.Info("agent stopped")
}

// IsRunning проверяет, запущен ли агент.
func (a *Agent) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// Run выполняет цикл опроса до отмены ctx.
//
// Первый опрос — сразу при старте, далее через Scheduler.CurrentInterval().
func (a *Agent) Run(ctx context.Context) error {
	for {
		if err := a.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn("poll cycle failed",
				"error", err,
				"next_poll_in", a.scheduler.CurrentInterval(),
			)
		}

		interval := a.scheduler.CurrentInterval()
		a.metrics.PollInterval.Set(interval.Seconds())

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// RunOnce выполняет один цикл: long-poll и обработку полученных tasks.
// Если предыдущий цикл не завершён, возвращает ErrPollInProgress.
func (a *Agent) RunOnce(ctx context.Context) error {
	if !a.polling.CompareAndSwap(false, true) {
		return ErrPollInProgress
	}
	defer a.polling.Store(false)

	if err := ctx.Err(); err != nil {
		return err
	}

	a.stats.polls.Add(1)
	a.stats.lastPollAt.Store(time.Now().UnixMilli())

	var tasks []domain.Task
	err := a.withAuth(ctx, func(accessToken string) error {
		var pollErr error
		tasks, pollErr = a.backend.Poll(ctx, accessToken, a.pollTimeout)
		return pollErr
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		a.scheduler.OnError(err)
		a.stats.setLastError(err)
		a.metrics.Polls.WithLabelValues(pollResult(err)).Inc()
		return fmt.Errorf("poll: %w", err)
	}

	if len(tasks) == 0 {
		a.scheduler.OnNoTask()
		a.metrics.Polls.WithLabelValues("empty").Inc()
		a.logger.Debug("no tasks", "next_poll_in", a.scheduler.CurrentInterval())
		return nil
	}

	a.scheduler.OnTaskFound()
	a.metrics.Polls.WithLabelValues("tasks").Inc()
	a.logger.Info("received tasks", "count", len(tasks))

	for i := range tasks {
		if ctx.Err() != nil {
			a.logger.Warn("shutdown requested, leaving remaining tasks to backend",
				"remaining", len(tasks)-i,
			)
			return ctx.Err()
		}
		a.processTask(ctx, &tasks[i])
	}

	return nil
}

// withAuth вызывает fn с текущим access-токеном. При 401 токен
// инвалидируется, выполняется один refresh и fn вызывается повторно.
func (a *Agent) withAuth(ctx context.Context, fn func(accessToken string) error) error {
	accessToken, err := a.session.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("obtain access token: %w", err)
	}

	err = fn(accessToken)
	if !errors.Is(err, backend.ErrUnauthorized) {
		return err
	}

	a.logger.Info("backend rejected access token, refreshing")
	a.session.Invalidate()

	accessToken, err = a.session.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("refresh after unauthorized: %w", err)
	}
	return fn(accessToken)
}

func pollResult(err error) string {
	if errors.Is(err, domain.ErrToken) || errors.Is(err, backend.ErrUnauthorized) || errors.Is(err, token.ErrUnauthenticated) {
		return "unauthenticated"
	}
	return "error"
}
