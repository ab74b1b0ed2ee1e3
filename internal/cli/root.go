package cli

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/marketagent/internal/config"
	"github.com/shaiso/marketagent/internal/telemetry"
)

// options — значения persistent флагов.
type options struct {
	configPath string
	jsonOutput bool
	statusURL  string
	logLevel   string

	stdout io.Writer
	stderr io.Writer
}

func (o *options) output() *Output {
	return NewOutputTo(o.stdout, o.stderr, o.jsonOutput)
}

func (o *options) client() *Client {
	return NewClient(o.statusURL)
}

// loadConfig читает конфигурацию и применяет --log-level.
func (o *options) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	return cfg, nil
}

func (o *options) logger(cfg *config.Config) *slog.Logger {
	logger := telemetry.SetupLogger(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)
	return logger
}

// NewRootCmd создаёт корневую команду marketagent.
func NewRootCmd(version string) *cobra.Command {
	opts := &options{stdout: os.Stdout, stderr: os.Stderr}

	root := &cobra.Command{
		Use:           "marketagent",
		Short:         "Marketplace task agent: polls the backend and executes validated HTTP instructions",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			opts.stdout = cmd.OutOrStdout()
			opts.stderr = cmd.ErrOrStderr()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "Config file (default: ./config.yaml or ./configs/config.yaml)")
	flags.BoolVar(&opts.jsonOutput, "json", false, "Output in JSON format")
	flags.StringVar(&opts.statusURL, "status-url", "http://127.0.0.1:9090", "Status API of a running agent")
	flags.StringVar(&opts.logLevel, "log-level", "", "Override log level (debug, info, warn, error)")

	root.AddCommand(
		newRunCmd(opts),
		newCheckCmd(opts),
		newTokenCmd(opts),
		newPingCmd(opts),
		newStatusCmd(opts),
		newOutcomesCmd(opts),
		newPollCmd(opts),
		newEventsCmd(opts),
	)

	return root
}
