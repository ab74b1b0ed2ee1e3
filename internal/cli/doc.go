// Package cli реализует инструмент командной строки marketagent.
//
// # Обзор
//
// Один бинарник запускает агента (run) и даёт служебные команды для
// диагностики: проверка Instruction, токена и доступности маркетплейса,
// а также запросы к status API уже запущенного агента.
//
// # Ключевые компоненты
//
// ## App
//
// Сборка агента из config.Config: хранилище credentials (memory, Redis
// или PostgreSQL), backend.Client, token.Session, fetch.Client,
// guard.Validator, scheduler, публикация итогов (PostgreSQL, RabbitMQ)
// и status API.
//
// ## Client
//
// HTTP-клиент status API (/api/v1/status, /api/v1/outcomes, /api/v1/poll).
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON (json.Encoder с отступами) — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
//
// ## Commands
//
//   - run [--once]
//   - check <file|->
//   - token inspect|status|set|clear
//   - ping <url>
//   - status, outcomes, poll
//   - events
package cli
