// Package api содержит локальный HTTP сервер состояния агента.
//
// Структура:
//   - handler.go        — Handler с зависимостями (агент, сессия, журнал итогов)
//   - routes.go         — chi router и регистрация маршрутов
//   - middleware.go     — middleware (logging, recovery)
//   - response.go       — унифицированные JSON-ответы и ошибки
//   - status_handler.go — /healthz, /api/v1/status, /api/v1/poll
//   - outcome_handler.go — /api/v1/outcomes
//
// Сервер слушает локальный адрес и не требует аутентификации.
package api
