package mutator

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutateStaysWithinMaxSize(t *testing.T) {
	m := New(1, [][]byte{[]byte("memory"), []byte("\x00asm")})
	for _, maxSize := range []int{1, 4, 16, 256} {
		data := make([]byte, 512)
		size := 0
		for i := 0; i < 2000; i++ {
			size = m.Mutate(data, size, maxSize)
			require.GreaterOrEqual(t, size, 0)
			require.LessOrEqual(t, size, maxSize)
		}
	}
}

func TestMutateClampsToBuffer(t *testing.T) {
	m := New(2, nil)
	data := make([]byte, 8)
	for i := 0; i < 500; i++ {
		assert.LessOrEqual(t, m.Mutate(data, 8, 4096), 8)
	}
}

func TestMutateZeroCapacity(t *testing.T) {
	assert.Equal(t, 0, New(0, nil).Mutate(nil, 0, 10))
	assert.Equal(t, 0, New(0, nil).Mutate(make([]byte, 4), 2, 0))
}

func TestMutateIsDeterministic(t *testing.T) {
	run := func() []byte {
		m := New(42, [][]byte{[]byte("tok")})
		data := make([]byte, 128)
		size := copy(data, "hello wasm")
		for i := 0; i < 100; i++ {
			size = m.Mutate(data, size, len(data))
		}
		return append([]byte(nil), data[:size]...)
	}
	assert.Equal(t, run(), run())
}

func TestMutateChangesInput(t *testing.T) {
	m := New(7, nil)
	orig := []byte("0123456789abcdef")
	changed := 0
	for i := 0; i < 100; i++ {
		data := make([]byte, 64)
		size := copy(data, orig)
		size = m.Mutate(data, size, len(data))
		if !bytes.Equal(data[:size], orig) {
			changed++
		}
	}
	assert.Greater(t, changed, 50)
}

func TestMutateUsesDictionary(t *testing.T) {
	tok := []byte("b3-fuzz-input")
	m := New(3, [][]byte{tok})
	seen := false
	for i := 0; i < 200 && !seen; i++ {
		data := make([]byte, 256)
		size := copy(data, bytes.Repeat([]byte{'x'}, 32))
		size = m.Mutate(data, size, len(data))
		seen = bytes.Contains(data[:size], tok)
	}
	assert.True(t, seen)
}

func TestInsert(t *testing.T) {
	data := []byte("abcdef\x00\x00")
	size := insert(data, 6, 2, 2)
	assert.Equal(t, 8, size)
	assert.Equal(t, []byte("abcdcdef"), data)
}
