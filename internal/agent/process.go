package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shaiso/marketagent/internal/domain"
	"github.com/shaiso/marketagent/internal/telemetry"
)

// processTask проверяет, выполняет и сообщает итог одной task.
// Ошибки отчёта логируются: task остаётся на стороне backend'а.
func (a *Agent) processTask(ctx context.Context, task *domain.Task) {
	logger := telemetry.WithTaskID(a.logger, task.ID)
	start := time.Now()

	outcome := domain.Outcome{TaskID: task.ID}

	// 1. Проверка Instruction до любого сетевого эффекта
	if err := a.guard.Validate(task.Instruction); err != nil {
		var vErr *domain.ValidationError
		rule := "unknown"
		if errors.As(err, &vErr) {
			rule = vErr.Rule
		}
		a.metrics.Rejections.WithLabelValues(rule).Inc()

		logger.Warn("instruction rejected",
			"type", task.Type,
			"rule", rule,
			"reason", err.Error(),
		)

		outcome.Status = domain.TaskStatusRejected
		outcome.Error = err.Error()
		outcome.Kind = domain.KindValidation
		a.finish(ctx, logger, &outcome, start)
		return
	}

	// 2. Нужен действующий credential
	if _, err := a.session.AccessToken(ctx); err != nil {
		logger.Warn("no valid credential, task not executed", "error", err)

		outcome.Status = domain.TaskStatusFailed
		outcome.Error = err.Error()
		outcome.Kind = domain.KindToken
		a.finish(ctx, logger, &outcome, start)
		return
	}

	logger.Info("task started",
		"type", task.Type,
		"method", task.Instruction.EffectiveMethod(),
	)

	// 3. Выполнение
	exec, err := a.executor.Execute(ctx, task.Instruction)
	if exec != nil {
		outcome.Result = exec.Result
		outcome.Attempts = exec.Attempts
	}

	if err != nil {
		outcome.Status = domain.TaskStatusFailed
		outcome.Error = err.Error()
		outcome.Kind = domain.KindOf(err)

		var netErr *domain.NetworkError
		if errors.As(err, &netErr) {
			outcome.Attempts = netErr.Attempts
		}

		// Сетевые сбои замедляют опрос
		if outcome.Kind == domain.KindNetwork || outcome.Kind == domain.KindTimeout {
			a.scheduler.OnError(err)
		}

		logger.Warn("task failed",
			"kind", outcome.Kind,
			"attempts", outcome.Attempts,
			"error", outcome.Error,
		)
	} else {
		outcome.Status = domain.TaskStatusSucceeded
		logger.Info("task succeeded",
			"status_code", exec.Result.StatusCode,
			"attempts", outcome.Attempts,
		)
	}

	a.finish(ctx, logger, &outcome, start)
}

// finish отправляет итог backend'у, публикует событие и обновляет счётчики.
func (a *Agent) finish(ctx context.Context, logger *slog.Logger, outcome *domain.Outcome, start time.Time) {
	outcome.Duration = time.Since(start)
	outcome.FinishedAt = time.Now()

	// Отчёт должен дойти и при остановке агента
	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.reportTimeout)
	defer cancel()

	if err := a.report(reportCtx, outcome); err != nil {
		logger.Error("failed to report task outcome",
			"status", outcome.Status,
			"error", err,
		)
	}

	a.publishOutcome(reportCtx, logger, outcome)

	a.metrics.Tasks.WithLabelValues(string(outcome.Status)).Inc()
	a.stats.record(outcome)
}

func (a *Agent) report(ctx context.Context, outcome *domain.Outcome) error {
	if outcome.Status == domain.TaskStatusSucceeded {
		return a.withAuth(ctx, func(accessToken string) error {
			return a.backend.Complete(ctx, accessToken, outcome.TaskID, outcome.Result)
		})
	}
	return a.withAuth(ctx, func(accessToken string) error {
		return a.backend.Fail(ctx, accessToken, outcome.TaskID, outcome.Error)
	})
}

// publishOutcome публикует событие task.outcome. Ошибка публикации не фатальна:
// backend уже получил итог.
func (a *Agent) publishOutcome(ctx context.Context, logger *slog.Logger, outcome *domain.Outcome) {
	if a.publisher == nil {
		return
	}
	if err := a.publisher.PublishOutcome(ctx, *outcome); err != nil {
		logger.Warn("failed to publish task outcome", "error", err)
	}
}
