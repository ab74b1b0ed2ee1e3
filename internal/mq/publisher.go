package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/marketagent/internal/domain"
)

// EventType — тип события в exchange агента.
type EventType string

const EventTaskOutcome EventType = "task.outcome"

// Event — конверт события.
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	AgentID   string          `json:"agent_id"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Outcome декодирует payload события task.outcome.
func (e *Event) Outcome() (domain.Outcome, error) {
	var o domain.Outcome
	if e.Type != EventTaskOutcome {
		return o, fmt.Errorf("event %s is %q, not %q", e.ID, e.Type, EventTaskOutcome)
	}
	if err := json.Unmarshal(e.Payload, &o); err != nil {
		return o, fmt.Errorf("decode outcome: %w", err)
	}
	return o, nil
}

// Publisher публикует итоги задач в exchange агента.
type Publisher struct {
	conn     *Connection
	exchange string
	agentID  string
	logger   *slog.Logger
	now      func() time.Time
}

// NewPublisher создаёт Publisher для exchange из topology.
func NewPublisher(conn *Connection, topology Topology, agentID string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		conn:     conn,
		exchange: topology.withDefaults().Exchange,
		agentID:  agentID,
		logger:   logger,
		now:      time.Now,
	}
}

// PublishOutcome публикует событие task.outcome.
func (p *Publisher) PublishOutcome(ctx context.Context, outcome domain.Outcome) error {
	msg, err := p.newPublishing(outcome)
	if err != nil {
		return err
	}

	return p.conn.WithChannel(func(ch *amqp.Channel) error {
		if err := ch.PublishWithContext(ctx, p.exchange, RoutingKeyOutcome, false, false, msg); err != nil {
			return fmt.Errorf("publish to %s/%s: %w", p.exchange, RoutingKeyOutcome, err)
		}

		p.logger.Debug("published outcome",
			"exchange", p.exchange,
			"message_id", msg.MessageId,
			"task_id", outcome.TaskID,
			"status", outcome.Status,
		)
		return nil
	})
}

func (p *Publisher) newPublishing(outcome domain.Outcome) (amqp.Publishing, error) {
	payload, err := json.Marshal(outcome)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal outcome: %w", err)
	}

	ev := Event{
		ID:        uuid.NewString(),
		Type:      EventTaskOutcome,
		AgentID:   p.agentID,
		Payload:   payload,
		Timestamp: p.now().UTC(),
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal event: %w", err)
	}

	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID,
		Type:         string(ev.Type),
		AppId:        p.agentID,
		Timestamp:    ev.Timestamp,
		Body:         body,
	}, nil
}
