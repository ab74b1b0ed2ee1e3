package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newRunCmd(opts *options) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the agent until SIGINT/SIGTERM",
		Long: `Run polls the backend task queue, validates every instruction,
executes it against the marketplace with retries and reports the outcome.

With --once a single poll cycle is executed and the command exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			logger := opts.logger(cfg)

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			app, err := NewApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			logger.Info("starting marketagent",
				"agent_id", app.Agent.ID(),
				"backend", cfg.Backend.BaseURL,
				"token_store", cfg.Token.Store,
			)

			if once {
				return app.Agent.RunOnce(ctx)
			}
			return app.Run(ctx)
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "Run a single poll cycle and exit")
	return cmd
}

// signalContext отменяется по SIGINT/SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
