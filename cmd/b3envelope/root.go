package main

import (
	"b3wasmfuzz/internal/target"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type rootOptions struct {
	Verbose bool
	MaxSize int
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "b3envelope",
		Short: "Inspect, convert and replay wasm fuzz inputs",
		Long: `Inputs are either bare seeds or envelopes: a wasm module whose last
custom section carries the seed it was generated from.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log harness decisions")
	cmd.PersistentFlags().IntVar(&opts.MaxSize, "max-size", 4096, "largest input a harness may produce")

	cmd.AddCommand(newWrapCommand(opts))
	cmd.AddCommand(newUnwrapCommand())
	cmd.AddCommand(newInspectCommand())
	cmd.AddCommand(newRunCommand(opts))
	return cmd
}

func (o *rootOptions) logger() *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if o.Verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// lookupTarget opens a registry and returns the named harness. The caller
// closes the registry.
func (o *rootOptions) lookupTarget(harness string) (*target.Registry, target.Target, error) {
	registry := target.NewRegistry(o.logger())
	t, err := registry.Lookup(harness)
	if err != nil {
		return registry, nil, err
	}
	return registry, t, nil
}
