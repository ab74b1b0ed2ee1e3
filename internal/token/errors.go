package token

import "errors"

// Сообщения ошибок проверки токена.
const (
	MsgMissingToken   = "Token manquant"
	MsgInvalidFormat  = "Format de token invalide"
	MsgInvalidPayload = "Payload de token invalide"
	MsgMissingClaims  = "Token incomplet: user_id ou exp manquant"
	MsgExpired        = "Token expiré"
	MsgExpiredShort   = "Expiré"
)

// Ошибки сессии.
var (
	// ErrUnauthenticated — нет действующих credentials; нужен повторный вход пользователя.
	ErrUnauthenticated = errors.New("agent is not authenticated")

	// ErrRefreshRejected — backend отклонил refresh-токен (истёк или отозван).
	ErrRefreshRejected = errors.New("refresh token rejected")

	// ErrNoCredentials — в хранилище нет сохранённых credentials.
	ErrNoCredentials = errors.New("no stored credentials")
)
