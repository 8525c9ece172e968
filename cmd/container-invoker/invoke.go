package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"container-invoker/internal/app"

	"github.com/spf13/cobra"
)

func newInvokeCmd(opts *options) *cobra.Command {
	var (
		pairs      []string
		inputsJSON string
	)
	cmd := &cobra.Command{
		Use:   "invoke <request>",
		Short: "Run one invocation and print its result",
		Example: `  container-invoker invoke fib:11 --input n=10
  container-invoker invoke ecs_fib --inputs-json '{"n":10}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs, err := parseInputs(inputsJSON, pairs)
			if err != nil {
				return err
			}
			cfg, log, err := opts.load(os.Stderr) // stdout carries the result
			if err != nil {
				return err
			}
			a, err := app.Open(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			out, err := a.Invoker.Invoke(cmd.Context(), args[0], inputs)
			if err != nil {
				return err
			}
			b, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal outcome: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(b))
			if out.Err != nil {
				return fmt.Errorf("invocation %s failed: %w", out.InvocationID, out.Err)
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&pairs, "input", nil, "input as key=value; JSON values are decoded (repeatable)")
	cmd.Flags().StringVar(&inputsJSON, "inputs-json", "", "inputs as a JSON object; --input pairs override its keys")
	return cmd
}

// parseInputs merges a JSON object with key=value pairs. A value that parses
// as JSON keeps its type, anything else is taken as a string.
func parseInputs(object string, pairs []string) (map[string]any, error) {
	inputs := map[string]any{}
	if strings.TrimSpace(object) != "" {
		if err := json.Unmarshal([]byte(object), &inputs); err != nil {
			return nil, fmt.Errorf("--inputs-json: %w", err)
		}
		if inputs == nil {
			inputs = map[string]any{}
		}
	}
	for _, p := range pairs {
		key, raw, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("--input %q: want key=value", p)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		inputs[strings.TrimSpace(key)] = v
	}
	return inputs, nil
}
