package mq

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/marketagent/internal/domain"
)

type fakeAck struct {
	acked    int
	nacked   int
	requeued bool
}

func (a *fakeAck) Ack(uint64, bool) error {
	a.acked++
	return nil
}

func (a *fakeAck) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacked++
	a.requeued = requeue
	return nil
}

func (a *fakeAck) Reject(_ uint64, requeue bool) error {
	a.nacked++
	a.requeued = requeue
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPublisher_NewPublishing(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := NewPublisher(nil, Topology{}, "agent-1", quietLogger())
	p.now = func() time.Time { return fixed }

	outcome := domain.Outcome{
		TaskID: "t-1",
		Status: domain.TaskStatusSucceeded,
		Result: &domain.ExecutionResult{StatusCode: 200, Body: "ok"},
	}

	msg, err := p.newPublishing(outcome)
	if err != nil {
		t.Fatalf("newPublishing: %v", err)
	}

	if p.exchange != "agent.events" {
		t.Errorf("exchange = %q, want default agent.events", p.exchange)
	}
	if msg.ContentType != "application/json" || msg.DeliveryMode != amqp.Persistent {
		t.Errorf("unexpected publishing properties: %+v", msg)
	}
	if msg.Type != "task.outcome" || msg.AppId != "agent-1" || msg.MessageId == "" {
		t.Errorf("unexpected metadata: type=%q app=%q id=%q", msg.Type, msg.AppId, msg.MessageId)
	}

	var ev Event
	if err := json.Unmarshal(msg.Body, &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev.ID != msg.MessageId || !ev.Timestamp.Equal(fixed) {
		t.Errorf("envelope mismatch: %+v", ev)
	}

	got, err := ev.Outcome()
	if err != nil {
		t.Fatalf("Outcome: %v", err)
	}
	if got.TaskID != "t-1" || got.Status != domain.TaskStatusSucceeded || got.Result.StatusCode != 200 {
		t.Errorf("decoded outcome = %+v", got)
	}
}

func TestEvent_OutcomeWrongType(t *testing.T) {
	ev := Event{ID: "e-1", Type: "agent.started", Payload: json.RawMessage(`{}`)}
	if _, err := ev.Outcome(); err == nil {
		t.Error("expected error for non-outcome event")
	}
}

func TestConsumer_Handle(t *testing.T) {
	body, _ := json.Marshal(Event{
		ID:      "e-1",
		Type:    EventTaskOutcome,
		Payload: json.RawMessage(`{"task_id":"t-9","status":"FAILED"}`),
	})

	tests := []struct {
		name       string
		body       []byte
		handlerErr error
		wantAck    int
		wantNack   int
		wantQueue  bool
	}{
		{name: "handled", body: body, wantAck: 1},
		{name: "handler error requeues", body: body, handlerErr: errors.New("busy"), wantNack: 1, wantQueue: true},
		{name: "garbage goes to dlq", body: []byte("not json"), wantNack: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen *Event
			c := NewConsumer(nil, ConsumerConfig{
				Queue: "agent.outcomes",
				Handler: func(_ context.Context, ev *Event) error {
					seen = ev
					return tt.handlerErr
				},
				Logger: quietLogger(),
			})

			ack := &fakeAck{}
			c.handle(context.Background(), amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: tt.body})

			if ack.acked != tt.wantAck || ack.nacked != tt.wantNack || ack.requeued != tt.wantQueue {
				t.Errorf("ack=%d nack=%d requeue=%v", ack.acked, ack.nacked, ack.requeued)
			}
			if tt.wantAck == 1 {
				o, err := seen.Outcome()
				if err != nil || o.TaskID != "t-9" || o.Status != domain.TaskStatusFailed {
					t.Errorf("handler saw %+v (%v)", o, err)
				}
			}
		})
	}
}

func TestNewConsumer_Defaults(t *testing.T) {
	c := NewConsumer(nil, ConsumerConfig{Queue: "q"})
	if c.prefetch != 1 || c.logger == nil {
		t.Errorf("prefetch=%d logger=%v", c.prefetch, c.logger)
	}
}

func TestTopology_Defaults(t *testing.T) {
	top := Topology{Exchange: "custom.events"}.withDefaults()
	if top.Exchange != "custom.events" || top.OutcomeQueue != "agent.outcomes" || top.DeadLetterQ != "agent.outcomes.dlq" {
		t.Errorf("withDefaults = %+v", top)
	}

	desc := DefaultTopology().Describe()
	for _, want := range []string{"agent.events (topic)", "agent.outcomes [routing: task.#]", "agent.events.dlx"} {
		if !strings.Contains(desc, want) {
			t.Errorf("Describe() missing %q:\n%s", want, desc)
		}
	}
}
