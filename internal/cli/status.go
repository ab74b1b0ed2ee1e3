package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/marketagent/internal/domain"
)

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the state of a running agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := opts.client().Status(cmd.Context())
			if err != nil {
				return err
			}

			lastPoll := "-"
			if st.Agent.LastPollAt != nil {
				lastPoll = st.Agent.LastPollAt.Format(time.RFC3339)
			}

			opts.output().Fields([][2]string{
				{"Agent", st.Agent.AgentID},
				{"Running", strconv.FormatBool(st.Agent.Running)},
				{"Uptime", st.Uptime},
				{"Authenticated", strconv.FormatBool(st.Auth.Authenticated)},
				{"Token expires in", st.Auth.ExpiresIn},
				{"Poll interval", st.Scheduler.CurrentIntervalFormatted},
				{"Empty polls", strconv.Itoa(st.Scheduler.ConsecutiveEmptyPolls)},
				{"Errors", strconv.Itoa(st.Scheduler.ConsecutiveErrors)},
				{"Polls", strconv.FormatInt(st.Agent.Polls, 10)},
				{"Last poll", lastPoll},
				{"Succeeded", strconv.FormatInt(st.Agent.TasksSucceeded, 10)},
				{"Failed", strconv.FormatInt(st.Agent.TasksFailed, 10)},
				{"Rejected", strconv.FormatInt(st.Agent.TasksRejected, 10)},
				{"Backend breaker", st.Breaker},
				{"Last error", st.Agent.LastError},
			}, st)
			return nil
		},
	}
}

func newOutcomesCmd(opts *options) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "outcomes",
		Short: "List recent task outcomes recorded by a running agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			outcomes, err := opts.client().ListOutcomes(cmd.Context(), limit)
			if err != nil {
				return err
			}

			rows := make([][]string, len(outcomes))
			for i, o := range outcomes {
				rows[i] = outcomeRow(o)
			}
			opts.output().Print(outcomeHeaders, rows, outcomes)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Number of outcomes to show")
	return cmd
}

func newPollCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Ask a running agent to poll the backend now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := opts.client()
			if err := client.Poll(cmd.Context()); err != nil {
				return err
			}
			opts.output().Success("Poll cycle completed")
			return nil
		},
	}
}

var outcomeHeaders = []string{"TASK", "STATUS", "KIND", "ATTEMPTS", "DURATION", "FINISHED", "ERROR"}

func outcomeRow(o domain.Outcome) []string {
	finished := ""
	if !o.FinishedAt.IsZero() {
		finished = o.FinishedAt.Format(time.RFC3339)
	}
	return []string{
		o.TaskID,
		string(o.Status),
		string(o.Kind),
		strconv.Itoa(o.Attempts),
		fmt.Sprint(o.Duration.Round(time.Millisecond)),
		finished,
		o.Error,
	}
}
