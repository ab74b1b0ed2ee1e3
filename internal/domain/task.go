package domain

import "time"

// Task — единица работы, выданная backend'ом агенту.
//
// Task создаётся backend'ом (очередь задач) и доставляется агенту через long-poll.
// Агент не изменяет task: он либо выполняет Instruction целиком,
// либо отклоняет её и сообщает причину.
type Task struct {
	// ID — идентификатор task на стороне backend.
	ID string `json:"id"`

	// Type — тип автоматизации (например, "listing.publish", "listing.refresh").
	// Агент не интерпретирует тип, он используется для логов и метрик.
	Type string `json:"type,omitempty"`

	// Instruction — описание HTTP-вызова, который нужно выполнить.
	Instruction Instruction `json:"instruction"`

	// CreatedAt — время создания task на backend.
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Outcome — итог обработки одной task агентом.
type Outcome struct {
	TaskID string `json:"task_id"`

	// Status — SUCCEEDED, FAILED или REJECTED.
	Status TaskStatus `json:"status"`

	// Result — полезная нагрузка успешного выполнения.
	Result *ExecutionResult `json:"result,omitempty"`

	// Error — причина неудачи (человекочитаемая).
	Error string `json:"error,omitempty"`

	// Kind — категория ошибки (validation, network, timeout, ...).
	Kind ErrorKind `json:"kind,omitempty"`

	Attempts   int           `json:"attempts,omitempty"`
	Duration   time.Duration `json:"duration"`
	FinishedAt time.Time     `json:"finished_at"`
}

// ExecutionResult — ответ целевого сервиса, отправляемый backend'у.
type ExecutionResult struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers"`
	// Body — распарсенный JSON или строка.
	Body any `json:"body"`
}
