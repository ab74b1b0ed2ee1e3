// Package telemetry обеспечивает наблюдаемость агента.
//
// Включает:
//   - logging.go — structured logging через slog
//   - metrics.go — Prometheus метрики
//
// Метрики экспортируются status-сервером на /metrics.
package telemetry
