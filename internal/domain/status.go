package domain

// TaskStatus — итоговый статус обработки task агентом.
//
// Жизненный цикл внутри агента:
//
//	RECEIVED → REJECTED                (Instruction не прошла проверку)
//	         → RUNNING → SUCCEEDED
//	                   ↘ FAILED        (после исчерпания retry или терминальная ошибка)
type TaskStatus string

const (
	// TaskStatusReceived — task получена из poll, ещё не проверена.
	TaskStatusReceived TaskStatus = "RECEIVED"

	// TaskStatusRunning — Instruction принята и выполняется.
	TaskStatusRunning TaskStatus = "RUNNING"

	// TaskStatusSucceeded — Instruction выполнена успешно.
	TaskStatusSucceeded TaskStatus = "SUCCEEDED"

	// TaskStatusFailed — Instruction выполнялась, но завершилась ошибкой.
	TaskStatusFailed TaskStatus = "FAILED"

	// TaskStatusRejected — Instruction отклонена до любого сетевого вызова.
	TaskStatusRejected TaskStatus = "REJECTED"
)

// IsTerminal возвращает true, если статус финальный.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusSucceeded, TaskStatusFailed, TaskStatusRejected:
		return true
	default:
		return false
	}
}

// WasAttempted возвращает true, если Instruction доходила до сети.
// Позволяет backend'у отличить "отклонено по соображениям безопасности"
// от "выполнялось, но упало".
func (s TaskStatus) WasAttempted() bool {
	return s == TaskStatusSucceeded || s == TaskStatusFailed
}
