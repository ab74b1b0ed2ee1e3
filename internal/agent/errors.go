package agent

import "errors"

// Ошибки агента.
var (
	// ErrPollInProgress — предыдущий цикл опроса ещё не завершён.
	ErrPollInProgress = errors.New("poll cycle already in progress")

	// ErrAlreadyRunning — Start вызван повторно.
	ErrAlreadyRunning = errors.New("agent is already running")

	// ErrInvalidFile — вложение не удалось декодировать.
	ErrInvalidFile = errors.New("invalid file attachment")
)
