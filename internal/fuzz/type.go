package fuzz

import (
	"context"
	"time"

	"b3wasmfuzz/internal/types"
)

// Fuzzer is a fuzzing engine.
type Fuzzer interface {
	// RunFuzz starts fuzzing the fuzzlet and returns without waiting.
	//
	// Fuzzing is expected to finish before the timeout and must stop when
	// ctx is done; the handler's resources are released with it.
	RunFuzz(ctx context.Context, fuzzlet *types.Fuzzlet, timeout time.Duration) (FuzzerHandler, error)
	SupportedEngines() []string
}

// FuzzerHandler exposes the results of a running engine.
type FuzzerHandler interface {
	// The channels are owned by the handler and closed once no more
	// crashes or seeds can show up, or when the RunFuzz context is done.
	ConsumeCrashes() (<-chan types.CrashMessage, error)
	ConsumeSeeds() (<-chan types.SeedMessage, error)

	// BlockUntilFinished returns once every instance has stopped.
	BlockUntilFinished()
}
