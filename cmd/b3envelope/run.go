package main

import (
	"context"
	"fmt"
	"os"

	"b3wasmfuzz/internal/singlemodule"

	"github.com/spf13/cobra"
)

func newRunCommand(opts *rootOptions) *cobra.Command {
	var writeInputTo string

	cmd := &cobra.Command{
		Use:   "run <harness> <file>",
		Short: "Execute one input against a harness",
		Long: `Execute one input. Inputs that never reach the runtimes are reported as
uninteresting; any other harness error is a finding and fails the command.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			if writeInputTo != "" {
				os.Setenv(singlemodule.SnapshotEnv, writeInputTo)
				defer os.Unsetenv(singlemodule.SnapshotEnv)
			}

			registry, t, err := opts.lookupTarget(args[0])
			defer registry.Close(context.Background())
			if err != nil {
				return err
			}

			outcome, err := t.Execute(data)
			if singlemodule.IsUninteresting(err) {
				fmt.Fprintf(cmd.OutOrStdout(), "uninteresting: %v\n", err)
				return nil
			}
			if err != nil {
				return fmt.Errorf("finding: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: fingerprint=%016x exports=%d traps=%d\n", outcome.Fingerprint, outcome.Exports, outcome.Traps)
			return nil
		},
	}

	cmd.Flags().StringVar(&writeInputTo, "write-input-to", "", "write the executed input, as an envelope, to this path")
	return cmd
}
