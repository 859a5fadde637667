// Package envelope stores a fuzz seed next to the module generated from it.
//
// An envelope is a wasm binary whose last section is a custom section named
// SectionName carrying the seed bytes. Chopping that section off leaves the
// original module, so the module survives changes to the generator that
// would otherwise map the same seed to something else.
package envelope

import (
	"errors"
	"fmt"
	"io"

	"b3wasmfuzz/internal/wasm"
)

// SectionName tags the seed-carrying custom section. The generator never
// emits custom sections with this name.
const SectionName = "b3-fuzz-input"

var ErrNotEnveloped = errors.New("input is not an envelope")

// Envelope is a decoded input. Module and Seed alias the decoded buffer.
type Envelope struct {
	Module []byte
	Seed   []byte

	// SeedOffset is the index of Seed[0] in the decoded buffer.
	SeedOffset int
}

// Encode returns a copy of module followed by a custom section holding seed.
func Encode(module, seed []byte) []byte {
	out := make([]byte, 0, len(module)+wasm.CustomSectionSize(SectionName, len(seed)))
	out = append(out, module...)
	return wasm.AppendCustomSection(out, SectionName, seed)
}

// Size is len(Encode(module, seed)) without building it.
func Size(moduleLen, seedLen int) int {
	return moduleLen + wasm.CustomSectionSize(SectionName, seedLen)
}

// Decode splits data into the module and the seed it carries. The seed
// section only counts when it ends exactly at the end of data. Every failure
// wraps ErrNotEnveloped; framing errors also wrap wasm.ErrMalformed.
func Decode(data []byte) (Envelope, error) {
	r, err := wasm.NewReader(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrNotEnveloped, err)
	}

	prevEnd := wasm.HeaderSize
	for {
		sec, err := r.Next()
		if err == io.EOF {
			return Envelope{}, ErrNotEnveloped
		}
		if err != nil {
			return Envelope{}, fmt.Errorf("%w: %w", ErrNotEnveloped, err)
		}

		if sec.IsCustom() && sec.Name == SectionName && sec.End == len(data) {
			return Envelope{
				Module:     data[:prevEnd:prevEnd],
				Seed:       sec.Data,
				SeedOffset: sec.End - len(sec.Data),
			}, nil
		}
		prevEnd = sec.End
	}
}

// IsMalformed reports whether err came from a structurally broken binary
// rather than a well-formed one without a trailing seed section.
func IsMalformed(err error) bool {
	return errors.Is(err, wasm.ErrMalformed)
}
