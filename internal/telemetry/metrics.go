package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "marketagent"

// Metrics — Prometheus метрики агента.
type Metrics struct {
	// Polls: результаты long-poll (tasks, empty, error, unauthenticated)
	Polls *prometheus.CounterVec

	// Tasks: итоги обработки task по статусу
	Tasks *prometheus.CounterVec

	// Rejections: отклонённые Instructions по правилу валидатора
	Rejections *prometheus.CounterVec

	// FetchAttempts: попытки resilient fetch (success, retryable, terminal)
	FetchAttempts *prometheus.CounterVec

	// FetchDuration: полное время логического вызова, включая retry
	FetchDuration *prometheus.HistogramVec

	// PollInterval: текущий интервал poll в секундах
	PollInterval prometheus.Gauge

	// TokenRefreshes: обновления токена (success, rejected, error)
	TokenRefreshes *prometheus.CounterVec

	// BreakerState: состояние circuit breaker backend'а (0 closed, 1 half-open, 2 open)
	BreakerState prometheus.Gauge
}

// NewMetrics регистрирует метрики в reg.
// Если reg == nil, используется локальный реестр, который никуда не экспортируется.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		Polls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Total number of long-poll cycles by result.",
		}, []string{"result"}),

		Tasks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Total number of processed tasks by final status.",
		}, []string{"status"}),

		Rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instruction_rejections_total",
			Help:      "Instructions rejected before execution, by rule.",
		}, []string{"rule"}),

		FetchAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_attempts_total",
			Help:      "HTTP attempts made by the resilient client, by outcome.",
		}, []string{"outcome"}),

		FetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Total duration of logical HTTP calls including retries.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"method"}),

		PollInterval: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "poll_interval_seconds",
			Help:      "Current adaptive poll interval.",
		}),

		TokenRefreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refreshes_total",
			Help:      "Access token refreshes by result.",
		}, []string{"result"}),

		BreakerState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_breaker_state",
			Help:      "Backend circuit breaker state (0=closed, 1=half-open, 2=open).",
		}),
	}
}
