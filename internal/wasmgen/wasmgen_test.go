package wasmgen

import (
	"context"
	"io"
	"math/rand"
	"testing"

	"b3wasmfuzz/internal/singlemodule"
	"b3wasmfuzz/internal/wasm"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"
)

func generate(t *testing.T, cfg Config, seed []byte) []byte {
	t.Helper()
	module, valid, err := Generate(&cfg, fuzz.NewConsumer(seed))
	require.NoError(t, err)
	assert.Equal(t, singlemodule.KnownValidYes, valid)
	return module
}

func TestGenerateIsDeterministic(t *testing.T) {
	seed := make([]byte, 256)
	rand.New(rand.NewSource(7)).Read(seed)

	a := generate(t, DefaultConfig(), seed)
	b := generate(t, DefaultConfig(), seed)
	assert.Equal(t, a, b)
}

func TestGenerateEmptySeed(t *testing.T) {
	module := generate(t, DefaultConfig(), nil)

	r, err := wasm.NewReader(module)
	require.NoError(t, err)
	var ids []byte
	for {
		sec, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		ids = append(ids, sec.ID)
	}
	assert.Equal(t, []byte{wasm.SectionType, wasm.SectionFunction, wasm.SectionExport, wasm.SectionCode}, ids)
}

func TestGenerateRejectsInvalidConfig(t *testing.T) {
	for _, cfg := range []Config{{MaxBodyOps: 1}, {MaxFuncs: 1}} {
		_, _, err := Generate(&cfg, fuzz.NewConsumer([]byte{1, 2, 3}))
		assert.ErrorIs(t, err, ErrInvalidConfig)
	}
}

func TestGeneratedModulesCompile(t *testing.T) {
	ctx := context.Background()
	r := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfigInterpreter())
	defer r.Close(ctx)

	rng := rand.New(rand.NewSource(0))
	configs := []Config{
		DefaultConfig(),
		{MaxFuncs: 16, MaxParams: 4, MaxBodyOps: 32, AllowMemory: true, AllowTraps: true},
		{MaxFuncs: 1, MaxParams: 0, MaxBodyOps: 1},
	}
	for _, cfg := range configs {
		for i := 0; i < 100; i++ {
			seed := make([]byte, rng.Intn(512))
			rng.Read(seed)
			module := generate(t, cfg, seed)

			compiled, err := r.CompileModule(ctx, module)
			require.NoError(t, err, "module %x", module)
			require.NoError(t, compiled.Close(ctx))
		}
	}
}

func TestGeneratedModulesHaveNoCustomSections(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 50; i++ {
		seed := make([]byte, 128)
		rng.Read(seed)
		r, err := wasm.NewReader(generate(t, DefaultConfig(), seed))
		require.NoError(t, err)
		for {
			sec, err := r.Next()
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			assert.False(t, sec.IsCustom())
		}
	}
}
