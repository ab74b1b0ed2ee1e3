// Package token управляет жизненным циклом bearer-credential агента.
//
// # Validator
//
// Быстрая локальная офлайн-проверка формы и срока действия токена:
//
//   - HasValidStructure — ровно три сегмента через точку
//   - DecodePayload — base64url-декодирование среднего сегмента и разбор JSON
//   - Validate — структура → payload → user_id и exp → exp строго в будущем
//   - IsExpiringSoon / TimeUntilExpiration / FormatTimeRemaining — помощники для UI и refresh
//
// Подпись токена здесь НЕ проверяется. Это удобство клиента для управления
// сессией, а не замена проверки на сервере, выпустившем токен.
//
// # Session
//
// Session хранит текущую пару access/refresh в Store (memory, Redis или
// PostgreSQL через repo.CredentialRepo), отдаёт живой access-токен и
// обновляет его:
//
//   - проактивно, когда токен скоро истечёт (IsExpiringSoon)
//   - реактивно, после 401 от backend'а (Invalidate + Refresh)
//
// Refresh сериализован через singleflight: конкурентные вызовы разделяют
// один запрос к backend'у. Отклонённый refresh-токен очищает Store целиком
// и переводит агента в неаутентифицированное состояние.
package token
