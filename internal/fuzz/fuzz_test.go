package fuzz

import (
	"context"
	"testing"
	"time"

	"b3wasmfuzz/internal/types"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

type stubFuzzer struct{ engines []string }

func (s *stubFuzzer) RunFuzz(context.Context, *types.Fuzzlet, time.Duration) (FuzzerHandler, error) {
	return nil, nil
}

func (s *stubFuzzer) SupportedEngines() []string { return s.engines }

func TestEngineMapSkipsUnavailableEngines(t *testing.T) {
	inproc := &stubFuzzer{[]string{"inproc", "wasm"}}
	var missing *stubFuzzer

	m := engineMap(zaptest.NewLogger(t), []Fuzzer{inproc, missing, nil})
	assert.Len(t, m, 2)
	assert.Same(t, inproc, m["wasm"])
}

func TestRunFuzzRejectsBadFuzzlets(t *testing.T) {
	runner := &FuzzRunner{
		logger:    zaptest.NewLogger(t),
		fuzzerMap: map[string]Fuzzer{},
	}

	assert.ErrorIs(t, runner.RunFuzz(context.Background(), nil, time.Second), ErrNilFuzzlet)

	fuzzlet := &types.Fuzzlet{TaskId: "task", Harness: "compile", FuzzEngine: "afl"}
	assert.ErrorIs(t, runner.RunFuzz(context.Background(), fuzzlet, time.Second), ErrEngineNotFound)
}
