// Package mq публикует события агента в RabbitMQ.
//
// Структура:
//   - connection.go — соединение с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchange, очередей и привязок
//   - publisher.go  — публикация итогов задач (task.outcome)
//   - consumer.go   — чтение событий из очереди (marketagent events)
//
// Топология:
//
//	agent.events (topic)
//	└── agent.outcomes [routing: task.#]
//	        DLQ: agent.outcomes.dlq
//
// Брокер необязателен: без amqp.url агент работает без публикации событий.
package mq
