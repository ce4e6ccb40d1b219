// Package telemetry — наблюдаемость сервисов Stashflow.
//
// Включает:
//   - logging.go — structured logging через slog
//   - metrics.go — Prometheus-метрики sweeps
//
// Демон экспортирует метрики на /metrics.
package telemetry
