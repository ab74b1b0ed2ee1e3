package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/marketagent/internal/domain"
	"github.com/shaiso/marketagent/internal/guard"
)

// CheckResult — вердикт проверки Instruction.
type CheckResult struct {
	Accepted bool   `json:"accepted"`
	Method   string `json:"method"`
	URL      string `json:"url"`
	Rule     string `json:"rule,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

func newCheckCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "check <file|->",
		Short: "Validate an instruction (or a task JSON) against the guard policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			policy, err := guard.NewPolicy(cfg.Guard)
			if err != nil {
				return err
			}

			data, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			inst, err := ParseInstruction(data)
			if err != nil {
				return err
			}

			res := Check(guard.New(policy), inst)

			out := opts.output()
			out.Fields([][2]string{
				{"Accepted", fmt.Sprint(res.Accepted)},
				{"Method", res.Method},
				{"URL", res.URL},
				{"Rule", res.Rule},
				{"Reason", res.Reason},
			}, res)

			if !res.Accepted {
				return fmt.Errorf("%w: %s", ErrRejected, res.Reason)
			}
			return nil
		},
	}
}

// Check прогоняет Instruction через validator.
func Check(v *guard.Validator, inst domain.Instruction) CheckResult {
	res := CheckResult{
		Accepted: true,
		Method:   inst.EffectiveMethod(),
		URL:      inst.URL,
	}

	if err := v.Validate(inst); err != nil {
		res.Accepted = false
		res.Reason = err.Error()

		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			res.Rule = ve.Rule
		}
	}
	return res
}

// ParseInstruction принимает Instruction или Task с полем instruction.
func ParseInstruction(data []byte) (domain.Instruction, error) {
	var probe struct {
		Instruction json.RawMessage `json:"instruction"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return domain.Instruction{}, fmt.Errorf("parse instruction: %w", err)
	}
	if len(bytes.TrimSpace(probe.Instruction)) > 0 {
		data = probe.Instruction
	}

	var inst domain.Instruction
	if err := json.Unmarshal(data, &inst); err != nil {
		return domain.Instruction{}, fmt.Errorf("parse instruction: %w", err)
	}
	return inst, nil
}

func readInput(stdin io.Reader, name string) ([]byte, error) {
	if name == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}

	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}
