// Package scheduler реализует адаптивный планировщик опроса backend'а.
//
// Scheduler — конечный автомат над State, который решает, через сколько
// агенту опрашивать backend в следующий раз:
//
//   - OnTaskFound — работа появилась: интервал сбрасывается к минимуму
//   - OnNoTask    — пустой опрос: интервал растёт в BackoffMultiplier раз
//   - OnError     — ошибка: интервал растёт быстрее (BackoffMultiplier * ErrorBackoffFactor)
//
// Интервал никогда не превышает MaxInterval. После MaxConsecutiveErrors
// ошибок подряд интервал возвращается к минимуму, чтобы агент быстро
// подхватил восстановившийся backend.
//
// Использование:
//
//	sched := scheduler.New(scheduler.DefaultConfig())
//
//	for {
//	    tasks, err := poll(ctx)
//	    switch {
//	    case err != nil:
//	        sched.OnError(err)
//	    case len(tasks) == 0:
//	        sched.OnNoTask()
//	    default:
//	        sched.OnTaskFound()
//	    }
//	    time.Sleep(sched.CurrentInterval())
//	}
//
// Scheduler безопасен для конкурентного чтения (status API читает Stats).
package scheduler
