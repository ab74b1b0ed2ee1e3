// Package config загружает конфигурацию агента.
//
// Источники в порядке приоритета:
//   - переменные окружения MARKETAGENT_* (backend.base_url → MARKETAGENT_BACKEND_BASE_URL)
//   - config.yaml в текущей папке или ./configs (либо файл из --config)
//   - значения по умолчанию
package config
