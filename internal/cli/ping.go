package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/marketagent/internal/domain"
	"github.com/shaiso/marketagent/internal/fetch"
	"github.com/shaiso/marketagent/internal/guard"
	"github.com/shaiso/marketagent/internal/telemetry"
)

// PingResult — итог проверки доступности цели.
type PingResult struct {
	URL        string `json:"url"`
	Reachable  bool   `json:"reachable"`
	StatusCode int    `json:"status_code,omitempty"`
	Attempts   int    `json:"attempts"`
	TotalTime  string `json:"total_time"`
	Error      string `json:"error,omitempty"`
}

func newPingCmd(opts *options) *cobra.Command {
	var (
		method    string
		withRetry bool
		skipGuard bool
	)

	cmd := &cobra.Command{
		Use:   "ping <url>",
		Short: "Check that a marketplace URL is reachable with the agent's HTTP client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			inst := domain.Instruction{URL: args[0], Method: method}
			if !skipGuard {
				policy, err := guard.NewPolicy(cfg.Guard)
				if err != nil {
					return err
				}
				if res := Check(guard.New(policy), inst); !res.Accepted {
					return fmt.Errorf("%w: %s (%s)", ErrRejected, res.Reason, res.Rule)
				}
			}

			client := NewFetcher(cfg.Fetch, opts.logger(cfg), telemetry.NewMetrics(nil))
			res := Ping(cmd.Context(), client, inst, withRetry)

			opts.output().Fields([][2]string{
				{"URL", res.URL},
				{"Reachable", strconv.FormatBool(res.Reachable)},
				{"Status", strconv.Itoa(res.StatusCode)},
				{"Attempts", strconv.Itoa(res.Attempts)},
				{"Time", res.TotalTime},
				{"Error", res.Error},
			}, res)

			if !res.Reachable {
				return ErrUnreachable
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&method, "method", "X", http.MethodHead, "HTTP method")
	cmd.Flags().BoolVar(&withRetry, "retry", false, "Apply the configured retry policy")
	cmd.Flags().BoolVar(&skipGuard, "skip-guard", false, "Do not check the URL against the guard policy")
	return cmd
}

// Ping выполняет один логический вызов и описывает результат.
// Любой ответ 2xx/3xx считается успехом.
func Ping(ctx context.Context, client *fetch.Client, inst domain.Instruction, withRetry bool) PingResult {
	opts := fetch.Options{Method: inst.EffectiveMethod()}

	start := time.Now()
	var (
		res *fetch.Result
		err error
	)
	if withRetry {
		res, err = client.Fetch(ctx, inst.URL, opts)
	} else {
		res, err = client.FetchOnce(ctx, inst.URL, opts)
	}

	out := PingResult{
		URL:       inst.URL,
		Attempts:  1,
		TotalTime: time.Since(start).Round(time.Millisecond).String(),
	}
	if res != nil {
		out.StatusCode = res.StatusCode
		out.Attempts = res.Attempts
		out.TotalTime = res.TotalTime.Round(time.Millisecond).String()
	}

	var netErr *domain.NetworkError
	if errors.As(err, &netErr) {
		out.Attempts = netErr.Attempts
	}

	if err != nil {
		out.Error = err.Error()
		return out
	}
	out.Reachable = res.OK()
	return out
}
