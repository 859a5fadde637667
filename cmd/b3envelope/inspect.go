package main

import (
	"fmt"
	"io"
	"os"

	"b3wasmfuzz/internal/envelope"
	"b3wasmfuzz/internal/wasm"

	"github.com/spf13/cobra"
)

var sectionNames = map[byte]string{
	wasm.SectionCustom:    "custom",
	wasm.SectionType:      "type",
	wasm.SectionImport:    "import",
	wasm.SectionFunction:  "function",
	wasm.SectionTable:     "table",
	wasm.SectionMemory:    "memory",
	wasm.SectionGlobal:    "global",
	wasm.SectionExport:    "export",
	wasm.SectionStart:     "start",
	wasm.SectionElement:   "element",
	wasm.SectionCode:      "code",
	wasm.SectionData:      "data",
	wasm.SectionDataCount: "datacount",
	wasm.SectionTag:       "tag",
}

func newInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file>",
		Short: "List the sections of an input and its envelope split",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return inspect(cmd.OutOrStdout(), data)
		},
	}
}

func inspect(w io.Writer, data []byte) error {
	r, err := wasm.NewReader(data)
	if err != nil {
		fmt.Fprintf(w, "bare seed: %d bytes (%v)\n", len(data), err)
		return nil
	}
	kind := "module"
	if r.IsComponent() {
		kind = "component"
	}
	fmt.Fprintf(w, "%s: %d bytes\n", kind, len(data))

	for {
		sec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			fmt.Fprintf(w, "  malformed at offset %d: %v\n", r.Offset(), err)
			break
		}
		name, ok := sectionNames[sec.ID]
		if !ok || r.IsComponent() {
			name = fmt.Sprintf("id %d", sec.ID)
		}
		if sec.IsCustom() {
			name = fmt.Sprintf("custom %q", sec.Name)
		}
		fmt.Fprintf(w, "  [%6d, %6d) %s\n", sec.Start, sec.End, name)
	}

	env, err := envelope.Decode(data)
	if err != nil {
		fmt.Fprintln(w, "not an envelope")
		return nil
	}
	fmt.Fprintf(w, "envelope: module %d bytes, seed %d bytes at offset %d\n", len(env.Module), len(env.Seed), env.SeedOffset)
	return nil
}
