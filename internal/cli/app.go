package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/shaiso/marketagent/internal/agent"
	"github.com/shaiso/marketagent/internal/api"
	"github.com/shaiso/marketagent/internal/backend"
	"github.com/shaiso/marketagent/internal/config"
	"github.com/shaiso/marketagent/internal/fetch"
	"github.com/shaiso/marketagent/internal/guard"
	"github.com/shaiso/marketagent/internal/mq"
	"github.com/shaiso/marketagent/internal/repo"
	"github.com/shaiso/marketagent/internal/scheduler"
	"github.com/shaiso/marketagent/internal/telemetry"
	"github.com/shaiso/marketagent/internal/token"
)

const shutdownTimeout = 10 * time.Second

// App — собранный из конфигурации агент со всей инфраструктурой.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *telemetry.Metrics

	Agent     *agent.Agent
	Session   *token.Session
	Backend   *backend.Client
	Fetcher   *fetch.Client
	Scheduler *scheduler.Scheduler
	Outcomes  *repo.OutcomeRepo

	server  *api.Server
	closers []func() error
}

// NewApp собирает зависимости. Внешние ресурсы (PostgreSQL, Redis, RabbitMQ)
// подключаются, только если заданы в конфигурации.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	if err := cfg.RequireBackend(); err != nil {
		return nil, err
	}

	app := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	agentID := cfg.AgentID
	if agentID == "" {
		agentID = uuid.NewString()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.metrics = telemetry.NewMetrics(registry)

	var pool *pgxpool.Pool
	if cfg.Database.DSN != "" {
		pool, err = repo.NewPool(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, func() error { pool.Close(); return nil })

		if err = repo.EnsureSchema(ctx, pool); err != nil {
			return nil, err
		}
		app.Outcomes = repo.NewOutcomeRepo(pool, agentID)
		logger.Info("connected to database")
	}

	store, err := app.openStore(pool)
	if err != nil {
		return nil, err
	}
	if err = seedStore(ctx, store, cfg.Token); err != nil {
		return nil, err
	}

	app.Backend, err = backend.NewClient(backend.Config{
		BaseURL:        cfg.Backend.BaseURL,
		RequestTimeout: cfg.Backend.RequestTimeout,
		Breaker:        cfg.Backend.Breaker,
		Logger:         logger,
		Metrics:        app.metrics,
	})
	if err != nil {
		return nil, err
	}

	app.Session = token.NewSession(token.SessionConfig{
		Store:            store,
		Refresher:        app.Backend,
		RefreshThreshold: cfg.Token.RefreshThreshold,
		RefreshTimeout:   cfg.Token.RefreshTimeout,
		Logger:           logger,
		Metrics:          app.metrics,
	})

	policy, err := guard.NewPolicy(cfg.Guard)
	if err != nil {
		return nil, err
	}

	app.Fetcher = NewFetcher(cfg.Fetch, logger, app.metrics)
	app.Scheduler = scheduler.New(cfg.Scheduler)

	publishers := agent.Publishers{}
	if app.Outcomes != nil {
		publishers = append(publishers, app.Outcomes)
	}
	if cfg.AMQP.URL != "" {
		pub, err := app.openPublisher(agentID)
		if err != nil {
			return nil, err
		}
		publishers = append(publishers, pub)
	}

	app.Agent = agent.New(agent.Config{
		AgentID:     agentID,
		Backend:     app.Backend,
		Session:     app.Session,
		Executor:    agent.NewHTTPExecutor(app.Fetcher),
		Guard:       guard.New(policy),
		Scheduler:   app.Scheduler,
		Publisher:   publishers,
		PollTimeout: cfg.PollTimeout,
		Logger:      logger,
		Metrics:     app.metrics,
	})

	if cfg.Status.Addr != "" {
		h := api.NewHandler(api.Config{
			Agent:        app.Agent,
			Scheduler:    app.Scheduler,
			Session:      app.Session,
			Outcomes:     outcomeStore(app.Outcomes),
			BreakerState: app.Backend.BreakerState,
			Gatherer:     registry,
			Logger:       logger,
		})
		app.server = api.NewServer(cfg.Status.Addr, h)
	}

	return app, nil
}

// NewFetcher создаёт resilient fetch клиент из конфигурации.
func NewFetcher(cfg config.FetchConfig, logger *slog.Logger, metrics *telemetry.Metrics) *fetch.Client {
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(cfg.Burst, 1))
	}

	return fetch.New(fetch.Config{
		Retry:             cfg.Retry,
		RetryableStatuses: cfg.RetryableStatuses,
		TransientPatterns: cfg.TransientPatterns,
		Timeout:           cfg.Timeout,
		Limiter:           limiter,
		UserAgent:         cfg.UserAgent,
		Logger:            logger,
		Metrics:           metrics,
	})
}

// OpenStore открывает хранилище credentials без сборки остального агента
// (для команд token status/set/clear).
func OpenStore(ctx context.Context, cfg *config.Config) (token.Store, func() error, error) {
	app := &App{cfg: cfg}

	var pool *pgxpool.Pool
	if cfg.Token.Store == config.StorePostgres {
		var err error
		pool, err = repo.NewPool(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, nil, err
		}
		app.closers = append(app.closers, func() error { pool.Close(); return nil })
		if err := repo.EnsureSchema(ctx, pool); err != nil {
			app.Close()
			return nil, nil, err
		}
	}

	store, err := app.openStore(pool)
	if err != nil {
		app.Close()
		return nil, nil, err
	}
	return store, app.Close, nil
}

func (a *App) openStore(pool *pgxpool.Pool) (token.Store, error) {
	switch a.cfg.Token.Store {
	case config.StoreRedis:
		rs, err := token.NewRedisStoreFromURL(a.cfg.Token.RedisURL, a.cfg.Token.RedisNamespace)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rs.Close)
		return rs, nil
	case config.StorePostgres:
		if pool == nil {
			return nil, fmt.Errorf("%w: postgres store needs database.dsn", config.ErrInvalid)
		}
		return repo.NewCredentialRepo(pool), nil
	default:
		return token.NewMemoryStore(token.Credentials{}), nil
	}
}

func (a *App) openPublisher(agentID string) (*mq.Publisher, error) {
	conn, err := mq.NewConnection(a.cfg.AMQP.URL, "marketagent-"+agentID, a.logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, conn.Close)

	if err := a.cfg.AMQP.Topology.Declare(conn); err != nil {
		return nil, err
	}
	return mq.NewPublisher(conn, a.cfg.AMQP.Topology, agentID, a.logger), nil
}

// seedStore записывает токены из конфигурации, если хранилище пусто.
func seedStore(ctx context.Context, store token.Store, cfg config.TokenConfig) error {
	if cfg.AccessToken == "" && cfg.RefreshToken == "" {
		return nil
	}

	_, err := store.Load(ctx)
	switch {
	case errors.Is(err, token.ErrNoCredentials):
		return store.Save(ctx, token.Credentials{
			AccessToken:  cfg.AccessToken,
			RefreshToken: cfg.RefreshToken,
		})
	case err != nil:
		return fmt.Errorf("load credentials: %w", err)
	default:
		return nil
	}
}

// outcomeStore не даёт typed nil попасть в интерфейс.
func outcomeStore(r *repo.OutcomeRepo) api.OutcomeStore {
	if r == nil {
		return nil
	}
	return r
}

// Run запускает status API и агент, ждёт отмены ctx и останавливает всё.
func (a *App) Run(ctx context.Context) error {
	if a.server != nil {
		if err := a.server.Start(); err != nil {
			return err
		}
	}

	if err := a.Agent.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	a.logger.Info("shutting down")

	a.Agent.Stop()

	if a.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("status server shutdown error", "error", err)
		}
	}

	return nil
}

// Close освобождает внешние ресурсы в обратном порядке.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
