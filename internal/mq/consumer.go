package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler обрабатывает событие. Ошибка возвращает сообщение в очередь.
type Handler func(ctx context.Context, ev *Event) error

// ConsumerConfig — параметры Consumer.
type ConsumerConfig struct {
	Queue    string
	Handler  Handler
	Prefetch int
	Logger   *slog.Logger
}

// Consumer читает события из очереди и подтверждает их вручную.
type Consumer struct {
	conn     *Connection
	queue    string
	handler  Handler
	prefetch int
	logger   *slog.Logger
}

// NewConsumer создаёт Consumer. Prefetch по умолчанию 1.
func NewConsumer(conn *Connection, cfg ConsumerConfig) *Consumer {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Consumer{
		conn:     conn,
		queue:    cfg.Queue,
		handler:  cfg.Handler,
		prefetch: cfg.Prefetch,
		logger:   cfg.Logger,
	}
}

// Run потребляет события до отмены ctx. После разрыва соединения
// ждёт переподключения и подписывается заново.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		deliveries, err := c.subscribe()
		if err != nil {
			if errors.Is(err, ErrClosed) {
				return err
			}
			c.logger.Error("failed to subscribe", "queue", c.queue, "error", err)
		} else {
			c.logger.Info("consumer started", "queue", c.queue)
			c.drain(ctx, deliveries)
			c.logger.Warn("deliveries channel closed", "queue", c.queue)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.conn.ReconnectNotify():
		}
	}
}

func (c *Consumer) subscribe() (<-chan amqp.Delivery, error) {
	var deliveries <-chan amqp.Delivery
	err := c.conn.WithChannel(func(ch *amqp.Channel) error {
		if err := ch.Qos(c.prefetch, 0, false); err != nil {
			return fmt.Errorf("set qos: %w", err)
		}
		d, err := ch.Consume(c.queue, "", false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("consume %s: %w", c.queue, err)
		}
		deliveries = d
		return nil
	})
	return deliveries, err
}

func (c *Consumer) drain(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-deliveries:
			if !ok {
				return
			}
			c.handle(ctx, raw)
		}
	}
}

// handle декодирует и обрабатывает одно сообщение.
// Нечитаемое сообщение уходит в DLQ, ошибка обработчика возвращает его в очередь.
func (c *Consumer) handle(ctx context.Context, raw amqp.Delivery) {
	var ev Event
	if err := json.Unmarshal(raw.Body, &ev); err != nil {
		c.logger.Error("failed to decode event", "queue", c.queue, "error", err)
		_ = raw.Nack(false, false)
		return
	}

	if err := c.handler(ctx, &ev); err != nil {
		c.logger.Error("handler failed",
			"queue", c.queue,
			"event_id", ev.ID,
			"type", ev.Type,
			"error", err,
		)
		_ = raw.Nack(false, true)
		return
	}

	_ = raw.Ack(false)
}
