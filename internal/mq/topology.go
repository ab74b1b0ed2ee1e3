package mq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Topology — имена exchange и очередей событий агента.
type Topology struct {
	Exchange      string `mapstructure:"exchange"`
	OutcomeQueue  string `mapstructure:"outcome_queue"`
	DeadLetterExc string `mapstructure:"dead_letter_exchange"`
	DeadLetterQ   string `mapstructure:"dead_letter_queue"`
}

const (
	RoutingKeyOutcome = "task.outcome"
	bindingOutcomes   = "task.#"
)

// DefaultTopology возвращает топологию по умолчанию.
func DefaultTopology() Topology {
	return Topology{
		Exchange:      "agent.events",
		OutcomeQueue:  "agent.outcomes",
		DeadLetterExc: "agent.events.dlx",
		DeadLetterQ:   "agent.outcomes.dlq",
	}
}

func (t Topology) withDefaults() Topology {
	def := DefaultTopology()
	if t.Exchange == "" {
		t.Exchange = def.Exchange
	}
	if t.OutcomeQueue == "" {
		t.OutcomeQueue = def.OutcomeQueue
	}
	if t.DeadLetterExc == "" {
		t.DeadLetterExc = def.DeadLetterExc
	}
	if t.DeadLetterQ == "" {
		t.DeadLetterQ = def.DeadLetterQ
	}
	return t
}

// Declare объявляет exchange, очереди и привязки. Операция идемпотентна.
func (t Topology) Declare(conn *Connection) error {
	t = t.withDefaults()

	return conn.WithChannel(func(ch *amqp.Channel) error {
		exchanges := []struct{ name, kind string }{
			{t.Exchange, amqp.ExchangeTopic},
			{t.DeadLetterExc, amqp.ExchangeFanout},
		}
		for _, ex := range exchanges {
			if err := ch.ExchangeDeclare(ex.name, ex.kind, true, false, false, false, nil); err != nil {
				return fmt.Errorf("declare exchange %s: %w", ex.name, err)
			}
		}

		queues := []struct {
			name string
			args amqp.Table
		}{
			{t.OutcomeQueue, amqp.Table{"x-dead-letter-exchange": t.DeadLetterExc}},
			{t.DeadLetterQ, nil},
		}
		for _, q := range queues {
			if _, err := ch.QueueDeclare(q.name, true, false, false, false, q.args); err != nil {
				return fmt.Errorf("declare queue %s: %w", q.name, err)
			}
		}

		bindings := []struct{ queue, key, exchange string }{
			{t.OutcomeQueue, bindingOutcomes, t.Exchange},
			{t.DeadLetterQ, "", t.DeadLetterExc},
		}
		for _, b := range bindings {
			if err := ch.QueueBind(b.queue, b.key, b.exchange, false, nil); err != nil {
				return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
			}
		}

		return nil
	})
}

// Describe возвращает описание топологии для логов и CLI.
func (t Topology) Describe() string {
	t = t.withDefaults()
	return fmt.Sprintf("%s (topic)\n└── %s [routing: %s]\n        DLQ: %s via %s (fanout)\n",
		t.Exchange, t.OutcomeQueue, bindingOutcomes, t.DeadLetterQ, t.DeadLetterExc)
}
