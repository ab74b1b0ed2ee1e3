// Package backend — HTTP-клиент API очереди задач агента.
//
// Эндпоинты:
//
//	GET  /api/agent/tasks/poll?timeout=<sec>   — long-poll; {"tasks":[...]} или 204
//	POST /api/agent/tasks/{id}/complete        — {"result": ...}
//	POST /api/agent/tasks/{id}/fail            — {"error": "..."}
//	POST /api/auth/refresh                     — {"refresh_token": "..."}
//
// Запросы task-API авторизуются bearer access-токеном, который передаёт
// вызывающий код. Все вызовы идут через circuit breaker (sony/gobreaker):
// 5xx и сетевые ошибки считаются отказами, 4xx — нет.
package backend
