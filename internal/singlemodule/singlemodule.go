// Package singlemodule drives fuzz targets that take one generated wasm
// module per input.
//
// Inputs are either bare seeds, from which a configuration and a module are
// generated, or envelopes that already carry a module next to the seed it
// came from. Mutate keeps corpus entries in envelope form so that a saved
// module keeps reproducing after the generator changes.
package singlemodule

import (
	"errors"
	"fmt"
	"os"

	"b3wasmfuzz/internal/envelope"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"go.uber.org/zap"
)

// SnapshotEnv names a file that receives every executed input re-encoded as
// an envelope. Read on each call.
const SnapshotEnv = "WRITE_FUZZ_INPUT_TO"

// KnownValid tells a run whether the module is guaranteed to validate.
type KnownValid int

const (
	KnownValidNo KnownValid = iota
	KnownValidYes
)

func (k KnownValid) String() string {
	switch k {
	case KnownValidYes:
		return "yes"
	case KnownValidNo:
		return "no"
	default:
		return "unknown"
	}
}

var (
	ErrConfigDecode = errors.New("failed to decode config from seed")
	ErrGenerate     = errors.New("failed to generate module")
)

// IsUninteresting reports whether err means the input never reached the run
// function. Such inputs are dropped, not reported.
func IsUninteresting(err error) bool {
	return errors.Is(err, ErrConfigDecode) || errors.Is(err, ErrGenerate)
}

// GenerateFunc builds a module from a decoded configuration and the rest of
// the seed.
type GenerateFunc[T any] func(cfg *T, c *fuzz.ConsumeFuzzer) ([]byte, KnownValid, error)

// RunFunc is the fuzz target proper. Its errors are findings.
type RunFunc[T, U any] func(module []byte, valid KnownValid, cfg *T, c *fuzz.ConsumeFuzzer) (U, error)

// BaseMutator mutates data[:size] in place and returns the new size, which
// must not exceed maxSize.
type BaseMutator func(data []byte, size, maxSize int) int

// Harness binds a generator and a run function for one configuration type.
// It holds no mutable state and is safe for concurrent use.
type Harness[T, U any] struct {
	generate GenerateFunc[T]
	run      RunFunc[T, U]
	logger   *zap.Logger
}

func NewHarness[T, U any](logger *zap.Logger, generate GenerateFunc[T], run RunFunc[T, U]) *Harness[T, U] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Harness[T, U]{
		generate: generate,
		run:      run,
		logger:   logger,
	}
}

// Execute runs one input. ConfigDecode and Generate failures come back
// wrapped in the matching sentinel; run errors are returned untouched.
func (h *Harness[T, U]) Execute(input []byte) (U, error) {
	var zero U

	seed := input
	var fromEnvelope []byte
	if env, err := envelope.Decode(input); err == nil {
		h.logger.Debug("input is an envelope",
			zap.Int("module_size", len(env.Module)),
			zap.Int("seed_size", len(env.Seed)))
		fromEnvelope = env.Module
		seed = env.Seed
	} else {
		h.logger.Debug("input is a bare seed", zap.Int("seed_size", len(input)), zap.Error(err))
	}

	c := fuzz.NewConsumer(seed)
	cfg := new(T)
	if err := c.GenerateStruct(cfg); err != nil {
		h.logger.Debug("failed to decode config", zap.Error(err))
		return zero, fmt.Errorf("%w: %w", ErrConfigDecode, err)
	}
	generated, valid, err := h.generate(cfg, c)
	if err != nil {
		h.logger.Debug("failed to generate module", zap.Error(err))
		return zero, fmt.Errorf("%w: %w", ErrGenerate, err)
	}

	module := generated
	if fromEnvelope != nil {
		module = fromEnvelope
		valid = KnownValidNo
	}

	if path := os.Getenv(SnapshotEnv); path != "" {
		h.writeSnapshot(path, module, seed)
	}

	return h.run(module, valid, cfg, c)
}

func (h *Harness[T, U]) writeSnapshot(path string, module, seed []byte) {
	if err := os.WriteFile(path, envelope.Encode(module, seed), 0644); err != nil {
		h.logger.Fatal("failed to write fuzz input snapshot", zap.String("path", path), zap.Error(err))
	}
	h.logger.Debug("wrote fuzz input snapshot", zap.String("path", path))
}

// Mutate mutates the seed of data[:size] with base and wraps the result in a
// fresh envelope when it fits below maxSize. It returns the new size.
func (h *Harness[T, U]) Mutate(data []byte, size, maxSize int, base BaseMutator) int {
	if maxSize > len(data) {
		maxSize = len(data)
	}

	if env, err := envelope.Decode(data[:size]); err == nil {
		h.logger.Debug("mutating seed of envelope",
			zap.Int("module_size", len(env.Module)),
			zap.Int("seed_size", len(env.Seed)))
		size = copy(data, data[env.SeedOffset:env.SeedOffset+len(env.Seed)])
	} else {
		h.logger.Debug("mutating bare seed", zap.Int("size", size))
	}

	newSize := base(data, size, maxSize)
	seed := data[:newSize]

	c := fuzz.NewConsumer(seed)
	cfg := new(T)
	if err := c.GenerateStruct(cfg); err != nil {
		h.logger.Debug("mutated seed has no config, keeping it bare", zap.Error(err))
		return newSize
	}
	module, _, err := h.generate(cfg, c)
	if err != nil {
		h.logger.Debug("mutated seed does not generate, keeping it bare", zap.Error(err))
		return newSize
	}

	if envelope.Size(len(module), newSize) >= maxSize {
		h.logger.Debug("envelope does not fit, keeping bare seed",
			zap.Int("envelope_size", envelope.Size(len(module), newSize)),
			zap.Int("max_size", maxSize))
		return newSize
	}

	env := envelope.Encode(module, seed)
	h.logger.Debug("wrapped mutated seed",
		zap.Int("module_size", len(module)),
		zap.Int("seed_size", newSize),
		zap.Int("envelope_size", len(env)))
	return copy(data, env)
}
