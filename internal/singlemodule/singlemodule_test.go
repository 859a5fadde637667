package singlemodule_test

import (
	"bytes"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"b3wasmfuzz/internal/envelope"
	"b3wasmfuzz/internal/singlemodule"
	"b3wasmfuzz/internal/wasmgen"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
)

var emptyModule = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

type oneField struct {
	A uint32
}

type twoFields struct {
	A uint32
	B uint32
}

// ran captures what the run function was called with.
type ran struct {
	module []byte
	valid  singlemodule.KnownValid
}

func record[T any](module []byte, valid singlemodule.KnownValid, _ *T, _ *fuzz.ConsumeFuzzer) (ran, error) {
	return ran{append([]byte{}, module...), valid}, nil
}

func constGenerate[T any](module []byte) singlemodule.GenerateFunc[T] {
	return func(_ *T, _ *fuzz.ConsumeFuzzer) ([]byte, singlemodule.KnownValid, error) {
		return module, singlemodule.KnownValidYes, nil
	}
}

func wasmgenGenerate[T any](_ *T, c *fuzz.ConsumeFuzzer) ([]byte, singlemodule.KnownValid, error) {
	cfg := wasmgen.DefaultConfig()
	return wasmgen.Generate(&cfg, c)
}

func noopMutate(_ []byte, size, _ int) int {
	return size
}

func TestExecuteBareSeed(t *testing.T) {
	h := singlemodule.NewHarness(zaptest.NewLogger(t), constGenerate[oneField](emptyModule), record[oneField])

	got, err := h.Execute(make([]byte, 16))
	require.NoError(t, err)
	assert.Equal(t, emptyModule, got.module)
	assert.Equal(t, singlemodule.KnownValidYes, got.valid)
}

func TestExecuteEnvelopeIsNeverKnownValid(t *testing.T) {
	stored := wasmgenModule(t, 64)
	h := singlemodule.NewHarness(zaptest.NewLogger(t), constGenerate[oneField](emptyModule), record[oneField])

	got, err := h.Execute(envelope.Encode(stored, make([]byte, 16)))
	require.NoError(t, err)
	assert.Equal(t, stored, got.module)
	assert.Equal(t, singlemodule.KnownValidNo, got.valid)
}

func TestExecuteDecodesConfigFromEnvelopeSeed(t *testing.T) {
	var seen uint32
	run := func(_ []byte, _ singlemodule.KnownValid, cfg *oneField, _ *fuzz.ConsumeFuzzer) (struct{}, error) {
		seen = cfg.A
		return struct{}{}, nil
	}
	h := singlemodule.NewHarness(nil, constGenerate[oneField](emptyModule), run)

	// every byte is non-zero so the decoded field is non-zero whichever bytes
	// the consumer reads
	seed := bytes.Repeat([]byte{0x01, 0x02, 0x03, 0x04}, 4)
	_, err := h.Execute(envelope.Encode(emptyModule, seed))
	require.NoError(t, err)

	var want oneField
	require.NoError(t, fuzz.NewConsumer(seed).GenerateStruct(&want))
	assert.Equal(t, want.A, seen)
	assert.NotZero(t, seen)
}

func TestExecuteSkipsShortSeed(t *testing.T) {
	called := false
	run := func([]byte, singlemodule.KnownValid, *oneField, *fuzz.ConsumeFuzzer) (struct{}, error) {
		called = true
		return struct{}{}, nil
	}
	h := singlemodule.NewHarness(nil, constGenerate[oneField](emptyModule), run)

	_, err := h.Execute([]byte{0x01})
	require.ErrorIs(t, err, singlemodule.ErrConfigDecode)
	assert.True(t, singlemodule.IsUninteresting(err))
	assert.False(t, called)
}

func TestExecuteSkipsGenerateFailure(t *testing.T) {
	boom := errors.New("boom")
	generate := func(*oneField, *fuzz.ConsumeFuzzer) ([]byte, singlemodule.KnownValid, error) {
		return nil, singlemodule.KnownValidNo, boom
	}
	h := singlemodule.NewHarness(nil, generate, record[oneField])

	_, err := h.Execute(envelope.Encode(emptyModule, make([]byte, 16)))
	require.ErrorIs(t, err, singlemodule.ErrGenerate)
	assert.ErrorIs(t, err, boom)
	assert.True(t, singlemodule.IsUninteresting(err))
}

func TestExecuteSurfacesRunError(t *testing.T) {
	finding := errors.New("miscompile")
	run := func([]byte, singlemodule.KnownValid, *oneField, *fuzz.ConsumeFuzzer) (int, error) {
		return 7, finding
	}
	h := singlemodule.NewHarness(nil, constGenerate[oneField](emptyModule), run)

	got, err := h.Execute(make([]byte, 16))
	assert.Same(t, finding, err)
	assert.Equal(t, 7, got)
	assert.False(t, singlemodule.IsUninteresting(err))
}

func TestExecuteWritesSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.wasm")
	t.Setenv(singlemodule.SnapshotEnv, path)

	seed := make([]byte, 16)
	h := singlemodule.NewHarness(zaptest.NewLogger(t), constGenerate[oneField](emptyModule), record[oneField])
	_, err := h.Execute(seed)
	require.NoError(t, err)

	written, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, envelope.Encode(emptyModule, seed), written)

	// an enveloped input is written back with its own module
	stored := wasmgenModule(t, 32)
	_, err = h.Execute(envelope.Encode(stored, seed))
	require.NoError(t, err)
	written, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, envelope.Encode(stored, seed), written)
}

func TestExecuteAbortsOnSnapshotFailure(t *testing.T) {
	t.Setenv(singlemodule.SnapshotEnv, filepath.Join(t.TempDir(), "missing", "input.wasm"))

	logger := zaptest.NewLogger(t, zaptest.WrapOptions(zap.WithFatalHook(zapcore.WriteThenPanic)))
	h := singlemodule.NewHarness(logger, constGenerate[oneField](emptyModule), record[oneField])

	assert.Panics(t, func() {
		_, _ = h.Execute(make([]byte, 16))
	})
}

func TestMutateWrapsMinimalModule(t *testing.T) {
	const maxSize = 256
	seed := make([]byte, 16)
	data := make([]byte, maxSize)
	copy(data, seed)

	h := singlemodule.NewHarness(zaptest.NewLogger(t), constGenerate[oneField](emptyModule), record[oneField])
	n := h.Mutate(data, len(seed), maxSize, noopMutate)

	want := envelope.Encode(emptyModule, seed)
	require.Equal(t, len(want), n)
	assert.Equal(t, want, data[:n])

	env, err := envelope.Decode(data[:n])
	require.NoError(t, err)
	assert.Equal(t, emptyModule, env.Module)
	assert.Equal(t, seed, env.Seed)

	got, err := h.Execute(data[:n])
	require.NoError(t, err)
	assert.Equal(t, emptyModule, got.module)
	assert.Equal(t, singlemodule.KnownValidNo, got.valid)
}

func TestMutateStripsEnvelopeBeforeBaseMutator(t *testing.T) {
	const maxSize = 4096
	seed := []byte("0123456789abcdef-seed")
	enveloped := envelope.Encode(wasmgenModule(t, 100), seed)

	data := make([]byte, maxSize)
	copy(data, enveloped)

	var sawSize int
	var sawData []byte
	base := func(buf []byte, size, limit int) int {
		sawSize = size
		sawData = append([]byte{}, buf[:size]...)
		assert.Equal(t, maxSize, limit)
		return size
	}

	h := singlemodule.NewHarness(nil, constGenerate[oneField](emptyModule), record[oneField])
	n := h.Mutate(data, len(enveloped), maxSize, base)

	assert.Equal(t, len(seed), sawSize)
	assert.Equal(t, seed, sawData)
	// re-wrapped around the freshly generated module
	assert.Equal(t, envelope.Encode(emptyModule, seed), data[:n])
}

func TestMutateEmbedsMutatedSeed(t *testing.T) {
	const maxSize = 1024
	data := make([]byte, maxSize)
	copy(data, make([]byte, 16))

	appendBytes := func(buf []byte, size, limit int) int {
		return size + copy(buf[size:limit], "mutated")
	}

	h := singlemodule.NewHarness(nil, constGenerate[oneField](emptyModule), record[oneField])
	n := h.Mutate(data, 16, maxSize, appendBytes)

	env, err := envelope.Decode(data[:n])
	require.NoError(t, err)
	assert.Equal(t, append(make([]byte, 16), "mutated"...), env.Seed)
}

func TestMutateCapacityGuard(t *testing.T) {
	seed := make([]byte, 16)
	fits := envelope.Size(len(emptyModule), len(seed))

	for _, maxSize := range []int{len(seed), fits - 1, fits} {
		data := make([]byte, maxSize+64)
		for i := range data {
			data[i] = 0xee
		}
		copy(data, seed)
		var afterBase []byte
		base := func(buf []byte, size, _ int) int {
			buf[0] = 0x42
			afterBase = append([]byte{}, buf[:size]...)
			return size
		}

		h := singlemodule.NewHarness(nil, constGenerate[oneField](emptyModule), record[oneField])
		n := h.Mutate(data, len(seed), maxSize, base)

		assert.Equal(t, len(seed), n, "max size %d", maxSize)
		assert.Equal(t, afterBase, data[:n], "max size %d", maxSize)
		assert.Equal(t, byte(0xee), data[len(seed)], "max size %d", maxSize)
	}

	// one byte of headroom is enough
	data := make([]byte, fits+1)
	h := singlemodule.NewHarness(nil, constGenerate[oneField](emptyModule), record[oneField])
	assert.Equal(t, fits, h.Mutate(data, len(seed), fits+1, noopMutate))
}

func TestMutateKeepsBareSeedWhenConfigMissing(t *testing.T) {
	data := make([]byte, 1024)
	data[0] = 0x09

	h := singlemodule.NewHarness(nil, constGenerate[oneField](emptyModule), record[oneField])
	n := h.Mutate(data, 1, 1024, noopMutate)

	assert.Equal(t, 1, n)
	assert.Equal(t, byte(0x09), data[0])
}

func TestMutateKeepsBareSeedWhenGenerateFails(t *testing.T) {
	generate := func(*oneField, *fuzz.ConsumeFuzzer) ([]byte, singlemodule.KnownValid, error) {
		return nil, singlemodule.KnownValidNo, errors.New("nope")
	}
	data := make([]byte, 1024)
	enveloped := envelope.Encode(emptyModule, []byte("abcdefgh"))
	copy(data, enveloped)

	h := singlemodule.NewHarness(nil, generate, record[oneField])
	n := h.Mutate(data, len(enveloped), 1024, noopMutate)

	assert.Equal(t, []byte("abcdefgh"), data[:n])
}

func TestMutateIsDeterministic(t *testing.T) {
	seed := make([]byte, 128)
	rand.New(rand.NewSource(11)).Read(seed)

	h := singlemodule.NewHarness(nil, wasmgenGenerate[oneField], record[oneField])
	run := func() []byte {
		data := make([]byte, 4096)
		copy(data, seed)
		n := h.Mutate(data, len(seed), len(data), noopMutate)
		return data[:n]
	}
	assert.Equal(t, run(), run())
}

// A corpus entry produced under one configuration type must keep its module
// when executed under another.
func TestChangingConfigurationDoesNotChangeModule(t *testing.T) {
	const (
		maxSize  = 4096
		seedSize = 128
	)
	rng := rand.New(rand.NewSource(0))
	buf := make([]byte, maxSize)

	run1 := singlemodule.NewHarness(nil, wasmgenGenerate[oneField], record[oneField])
	run2 := singlemodule.NewHarness(nil, wasmgenGenerate[twoFields], record[twoFields])

	compares := 0
	for i := 0; i < 200; i++ {
		rng.Read(buf[:seedSize])

		first, err := run1.Execute(buf[:seedSize])
		if err != nil {
			continue
		}
		require.Equal(t, singlemodule.KnownValidYes, first.valid)

		n := run1.Mutate(buf, seedSize, maxSize, noopMutate)
		second, err := run2.Execute(buf[:n])
		if err != nil {
			continue
		}
		require.Equal(t, singlemodule.KnownValidNo, second.valid)
		require.Equal(t, first.module, second.module, "iteration %d", i)
		compares++
	}
	assert.Positive(t, compares)
}

func wasmgenModule(t *testing.T, seedSize int) []byte {
	t.Helper()
	seed := make([]byte, seedSize)
	rand.New(rand.NewSource(int64(seedSize))).Read(seed)
	cfg := wasmgen.DefaultConfig()
	module, _, err := wasmgen.Generate(&cfg, fuzz.NewConsumer(seed))
	require.NoError(t, err)
	return module
}
