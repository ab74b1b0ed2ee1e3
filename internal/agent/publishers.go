package agent

import (
	"context"
	"errors"

	"github.com/shaiso/marketagent/internal/domain"
)

// Publishers рассылает итог всем получателям (RabbitMQ, журнал в БД).
// Ошибка одного получателя не мешает остальным.
type Publishers []OutcomePublisher

func (p Publishers) PublishOutcome(ctx context.Context, outcome domain.Outcome) error {
	var errs []error
	for _, pub := range p {
		if pub == nil {
			continue
		}
		if err := pub.PublishOutcome(ctx, outcome); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
