package backend

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized — backend ответил 401 на запрос с access-токеном.
	ErrUnauthorized = errors.New("backend: unauthorized")

	// ErrUnavailable — circuit breaker разомкнут, запрос не отправлялся.
	ErrUnavailable = errors.New("backend: temporarily unavailable")
)

// APIError — неуспешный ответ backend'а.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	switch {
	case e.Code != "" && e.Message != "":
		return fmt.Sprintf("backend: HTTP %d: %s: %s", e.StatusCode, e.Code, e.Message)
	case e.Message != "":
		return fmt.Sprintf("backend: HTTP %d: %s", e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("backend: HTTP %d", e.StatusCode)
	}
}

// Temporary — ошибка на стороне backend'а (5xx), запрос можно повторить позже.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500
}
