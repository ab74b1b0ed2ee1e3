// Package fetch реализует HTTP-транспорт с ограниченными и классифицированными повторами.
//
// Client.Fetch выполняет один логический HTTP-вызов:
//
//   - попытка 1, затем классификация результата
//   - retryable: статус из RetryableStatuses (по умолчанию 408, 429, 500, 502, 503, 504)
//     или временная сетевая ошибка (таймаут, connection refused/reset, обрыв соединения)
//   - terminal: любой другой не-2xx/3xx статус возвращается сразу вместе с Result;
//     детерминированные ошибки (некорректный URL, неподдерживаемая схема) — *domain.UnexpectedError
//
// Задержка между попытками: min(BaseDelay * BackoffMultiplier^retryIndex, MaxDelay).
// Цикл повторов построен на avast/retry-go. Исчерпание попыток даёт
// *domain.NetworkError с сообщением "Request failed after N attempts".
//
// Опционально: rate.Limiter ограничивает темп попыток, каждая попытка
// помечается заголовком X-Request-ID.
package fetch
