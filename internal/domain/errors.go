package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorKind — категория отказа. Передаётся backend'у вместе с причиной,
// чтобы отличать "отклонено по соображениям безопасности" от "выполнялось и упало".
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindToken      ErrorKind = "token"
	KindNetwork    ErrorKind = "network"
	KindTimeout    ErrorKind = "timeout"
	KindHTTPStatus ErrorKind = "http_status"
	KindUnexpected ErrorKind = "unexpected"
)

// Категории ошибок для errors.Is.
var (
	// ErrValidation — Instruction отклонена валидатором.
	ErrValidation = errors.New("validation error")

	// ErrToken — credential некорректен или истёк.
	ErrToken = errors.New("token validation error")

	// ErrNetwork — все попытки исчерпаны.
	ErrNetwork = errors.New("network error")

	// ErrTimeout — вызов превысил отведённое время.
	ErrTimeout = errors.New("timeout error")

	// ErrHTTPStatus — терминальный HTTP-статус (без retry).
	ErrHTTPStatus = errors.New("http status error")

	// ErrUnexpected — детерминированная ошибка (например, некорректный URL), retry бесполезен.
	ErrUnexpected = errors.New("unexpected error")
)

// ValidationError — нарушение одного из правил проверки Instruction.
// Никогда не отправляется в сеть и не повторяется.
type ValidationError struct {
	// Rule — машинное имя правила (url, protocol, domain, ...).
	Rule string

	// Reason — человекочитаемая причина отказа.
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// TokenError — credential не прошёл локальную проверку.
type TokenError struct {
	Reason  string
	Expired bool
	Cause   error
}

func (e *TokenError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Cause)
	}
	return e.Reason
}

func (e *TokenError) Is(target error) bool { return target == ErrToken }

func (e *TokenError) Unwrap() error { return e.Cause }

// NetworkError — запрос не удался после исчерпания retry-бюджета.
type NetworkError struct {
	Attempts int
	Cause    error
}

func (e *NetworkError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("Request failed after %d attempts", e.Attempts)
	}
	return fmt.Sprintf("Request failed after %d attempts: %v", e.Attempts, e.Cause)
}

func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }

func (e *NetworkError) Unwrap() error { return e.Cause }

// TimeoutError — попытка не уложилась в отведённое время.
type TimeoutError struct {
	After time.Duration
	Cause error
}

func (e *TimeoutError) Error() string {
	if e.After > 0 {
		return fmt.Sprintf("request timed out after %s", e.After)
	}
	return "request timed out"
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout || target == context.DeadlineExceeded
}

func (e *TimeoutError) Unwrap() error { return e.Cause }

// HTTPStatusError — ответ с неуспешным HTTP-статусом.
type HTTPStatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	status := e.Status
	if status == "" {
		status = fmt.Sprintf("%d", e.StatusCode)
	}
	if e.Body == "" {
		return fmt.Sprintf("HTTP %s", status)
	}
	return fmt.Sprintf("HTTP %s: %s", status, e.Body)
}

func (e *HTTPStatusError) Is(target error) bool { return target == ErrHTTPStatus }

// UnexpectedError — программная или детерминированная ошибка; распространяется сразу.
type UnexpectedError struct {
	Op    string
	Cause error
}

func (e *UnexpectedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Cause)
}

func (e *UnexpectedError) Is(target error) bool { return target == ErrUnexpected }

func (e *UnexpectedError) Unwrap() error { return e.Cause }

// KindOf определяет категорию ошибки. Порядок важен: NetworkError
// может оборачивать TimeoutError или HTTPStatusError.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrToken):
		return KindToken
	case errors.Is(err, ErrNetwork):
		return KindNetwork
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrHTTPStatus):
		return KindHTTPStatus
	default:
		return KindUnexpected
	}
}

// StatusCodeOf извлекает HTTP-статус из цепочки ошибок (0, если его нет).
func StatusCodeOf(err error) int {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}
