package envelope

import (
	"bytes"
	"math/rand"
	"testing"

	"b3wasmfuzz/internal/wasm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var emptyModule = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

func sampleModule() []byte {
	m := wasm.AppendHeader(nil)
	m = wasm.AppendSection(m, wasm.SectionType, []byte{0x01, wasm.FuncType, 0x00, 0x01, wasm.ValueI32})
	m = wasm.AppendSection(m, wasm.SectionFunction, []byte{0x01, 0x00})
	m = wasm.AppendCustomSection(m, "name", []byte{0x00})
	m = wasm.AppendSection(m, wasm.SectionCode, []byte{0x01, 0x04, 0x00, wasm.OpI32Const, 0x07, wasm.OpEnd})
	return m
}

func TestEncodeMinimalModule(t *testing.T) {
	seed := make([]byte, 16)

	got := Encode(emptyModule, seed)

	want := append([]byte{}, emptyModule...)
	want = append(want, 0x00, byte(1+len(SectionName)+len(seed)), byte(len(SectionName)))
	want = append(want, SectionName...)
	want = append(want, seed...)
	assert.Equal(t, want, got)
	assert.Equal(t, len(got), Size(len(emptyModule), len(seed)))

	env, err := Decode(got)
	require.NoError(t, err)
	assert.Equal(t, emptyModule, env.Module)
	assert.Equal(t, seed, env.Seed)
}

func TestRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	modules := [][]byte{emptyModule, sampleModule(), Encode(sampleModule(), []byte("older seed"))}
	for _, module := range modules {
		for _, n := range []int{0, 1, 127, 128, 5000} {
			seed := make([]byte, n)
			rng.Read(seed)

			env, err := Decode(Encode(module, seed))
			require.NoError(t, err)
			assert.Equal(t, module, env.Module)
			assert.Equal(t, seed, env.Seed)
		}
	}
}

func TestEncodeDoesNotAliasModule(t *testing.T) {
	module := sampleModule()
	orig := append([]byte{}, module...)
	out := Encode(module, []byte{1, 2, 3})
	out[0] = 0xff
	assert.Equal(t, orig, module)
}

func TestDecodeIsZeroCopy(t *testing.T) {
	data := Encode(sampleModule(), []byte("seed bytes"))
	snapshot := append([]byte{}, data...)

	env, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, snapshot, data)

	require.NotEmpty(t, env.Seed)
	assert.Same(t, &data[0], &env.Module[0])
	assert.Same(t, &data[env.SeedOffset], &env.Seed[0])
	assert.Equal(t, len(data), env.SeedOffset+len(env.Seed))

	// appending to the module view must not clobber the seed
	_ = append(env.Module, 0xaa)
	assert.Equal(t, snapshot, data)
}

func TestDecodeRejects(t *testing.T) {
	module := sampleModule()
	enveloped := Encode(module, []byte("seed"))

	tests := []struct {
		name      string
		data      []byte
		malformed bool
	}{
		{"empty", nil, true},
		{"not wasm", []byte("definitely not a module"), true},
		{"bare module", module, false},
		{"header only", emptyModule, false},
		{"other custom name", wasm.AppendCustomSection(append([]byte{}, module...), "b3-fuzz-inputs", []byte("seed")), false},
		{"seed section not last", wasm.AppendSection(append([]byte{}, enveloped...), wasm.SectionData, []byte{0x00}), false},
		{"trailing custom after seed", wasm.AppendCustomSection(append([]byte{}, enveloped...), "name", nil), false},
		{"truncated envelope", enveloped[:len(enveloped)-1], true},
		{"trailing garbage", append(append([]byte{}, enveloped...), 0xff), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			require.ErrorIs(t, err, ErrNotEnveloped)
			assert.Equal(t, tt.malformed, IsMalformed(err))
		})
	}
}

func TestDecodePicksLastSeedSection(t *testing.T) {
	first := Encode(sampleModule(), []byte("first"))
	data := Encode(first, []byte("second"))

	env, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, first, env.Module)
	assert.Equal(t, []byte("second"), env.Seed)
}

func TestDecodeComponent(t *testing.T) {
	component := append(append([]byte{}, wasm.Magic...), wasm.ComponentVersion...)
	env, err := Decode(Encode(component, []byte{9}))
	require.NoError(t, err)
	assert.Equal(t, component, env.Module)
	assert.Equal(t, []byte{9}, env.Seed)
}

func FuzzDecode(f *testing.F) {
	f.Add(emptyModule)
	f.Add(Encode(emptyModule, make([]byte, 16)))
	f.Add(Encode(sampleModule(), []byte("seed")))
	f.Add([]byte{0x00, 0x61, 0x73})

	f.Fuzz(func(t *testing.T, data []byte) {
		orig := bytes.Clone(data)
		env, err := Decode(data)
		if !bytes.Equal(orig, data) {
			t.Fatal("decode modified its input")
		}
		if err != nil {
			return
		}
		again, err := Decode(Encode(env.Module, env.Seed))
		if err != nil {
			t.Fatalf("re-encoded envelope does not decode: %v", err)
		}
		if !bytes.Equal(again.Module, env.Module) || !bytes.Equal(again.Seed, env.Seed) {
			t.Fatal("re-encoded envelope does not round trip")
		}
	})
}
