package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"b3wasmfuzz/internal/envelope"
	"b3wasmfuzz/internal/target"
	"b3wasmfuzz/internal/utils"

	"github.com/spf13/cobra"
)

func newWrapCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "wrap <harness> <in> <out>",
		Short: "Turn bare seeds into envelopes",
		Long: `Generate the module of every bare seed with the harness and store it next
to the seed. <in> and <out> are both files or both directories. Envelopes
are copied unchanged; seeds whose envelope would exceed --max-size stay bare.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, t, err := opts.lookupTarget(args[0])
			defer registry.Close(context.Background())
			if err != nil {
				return err
			}

			info, err := os.Stat(args[1])
			if err != nil {
				return err
			}
			if !info.IsDir() {
				wrapped, err := wrapFile(t, args[1], args[2], opts.MaxSize)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: enveloped=%t\n", args[1], wrapped)
				return nil
			}

			total, wrapped, err := wrapDir(t, args[1], args[2], opts.MaxSize)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrapped %d of %d inputs\n", wrapped, total)
			return nil
		},
	}
}

// keep is a base mutator that leaves the seed as it is.
func keep(_ []byte, size, _ int) int {
	return size
}

// wrapFile writes the envelope of the seed in src to dst and reports whether
// dst is an envelope.
func wrapFile(t target.Target, src, dst string, maxSize int) (bool, error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return false, err
	}
	if _, err := envelope.Decode(data); err == nil {
		return true, utils.CopyFile(src, dst)
	}
	if len(data) > maxSize {
		return false, fmt.Errorf("%s is larger than %d bytes", src, maxSize)
	}

	buf := make([]byte, maxSize)
	n := copy(buf, data)
	n = t.Mutate(buf, n, maxSize, keep)
	out := buf[:n]

	if err := os.WriteFile(dst, out, 0644); err != nil {
		return false, err
	}
	_, err = envelope.Decode(out)
	return err == nil, nil
}

func wrapDir(t target.Target, src, dst string, maxSize int) (total, wrapped int, err error) {
	if err := os.MkdirAll(dst, 0755); err != nil {
		return 0, 0, err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return 0, 0, err
	}
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		ok, err := wrapFile(t, filepath.Join(src, entry.Name()), filepath.Join(dst, entry.Name()), maxSize)
		if err != nil {
			return total, wrapped, err
		}
		total++
		if ok {
			wrapped++
		}
	}
	return total, wrapped, nil
}
