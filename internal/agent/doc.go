// Package agent реализует резидентный агент выполнения задач.
//
// # Обзор
//
// Agent связывает компоненты в один цикл:
//
//  1. Scheduler решает, когда опрашивать backend
//  2. long-poll backend'а (ограниченный timeout) возвращает ноль или больше tasks
//  3. каждая Instruction проходит guard.Validator до любого сетевого эффекта;
//     отклонённая Instruction сообщается backend'у как Fail с причиной и не выполняется
//  4. принятая Instruction выполняется через Executor (fetch.Client с повторами)
//  5. итог отправляется backend'у (Complete/Fail), публикуется в RabbitMQ
//     (опционально) и влияет на следующий интервал Scheduler'а
//
// Tasks одного батча обрабатываются последовательно, в порядке доставки:
// действия в одной сессии маркетплейса не должны пересекаться.
//
// # Аутентификация
//
// Access-токен авторизует запросы к backend'у и является условием выполнения.
// На хосты маркетплейса он не передаётся. При 401 от backend'а токен
// инвалидируется, выполняется один refresh и запрос повторяется.
//
// # Жизненный цикл
//
//	a := agent.New(agent.Config{
//	    Backend:   backendClient,
//	    Session:   session,
//	    Guard:     guard.NewDefault(),
//	    Executor:  agent.NewHTTPExecutor(fetchClient),
//	    Scheduler: scheduler.New(scheduler.DefaultConfig()),
//	    Logger:    logger,
//	})
//
//	if err := a.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer a.Stop()
//
// RunOnce выполняет один цикл опроса; параллельный вызов получает ErrPollInProgress.
package agent
