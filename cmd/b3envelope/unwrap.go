package main

import (
	"fmt"
	"os"

	"b3wasmfuzz/internal/envelope"

	"github.com/spf13/cobra"
)

func newUnwrapCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "unwrap <in> <out>",
		Short: "Extract the seed of an envelope",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			env, err := envelope.Decode(data)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			if err := os.WriteFile(args[1], env.Seed, 0644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seed: %d bytes, module: %d bytes\n", len(env.Seed), len(env.Module))
			return nil
		},
	}
}
