package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/shaiso/marketagent/internal/mq"
)

func newEventsCmd(opts *options) *cobra.Command {
	var queue string

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Consume task outcome events from RabbitMQ and print them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if cfg.AMQP.URL == "" {
				return ErrNoBroker
			}
			logger := opts.logger(cfg)

			conn, err := mq.NewConnection(cfg.AMQP.URL, "marketagent-events", logger)
			if err != nil {
				return err
			}
			defer conn.Close()

			top := cfg.AMQP.Topology
			if err := top.Declare(conn); err != nil {
				return err
			}
			if queue == "" {
				queue = top.OutcomeQueue
			}

			out := opts.output()
			if !opts.jsonOutput {
				out.Success(top.Describe())
				out.Line(outcomeHeaders...)
			}

			consumer := mq.NewConsumer(conn, mq.ConsumerConfig{
				Queue:   queue,
				Handler: PrintOutcomeEvent(out),
				Logger:  logger,
			})

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			err = consumer.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&queue, "queue", "", "Queue to consume (default: amqp.topology.outcome_queue)")
	return cmd
}

// PrintOutcomeEvent возвращает Handler, печатающий каждое событие task.outcome.
// Прочие типы событий пропускаются.
func PrintOutcomeEvent(out *Output) mq.Handler {
	return func(_ context.Context, ev *mq.Event) error {
		if ev.Type != mq.EventTaskOutcome {
			return nil
		}
		outcome, err := ev.Outcome()
		if err != nil {
			// повторная доставка не исправит payload
			out.Error(err.Error())
			return nil
		}

		if out.jsonMode {
			out.JSON(ev)
			return nil
		}
		out.Line(outcomeRow(outcome)...)
		return nil
	}
}
