package crash

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"b3wasmfuzz/internal/envelope"
	"b3wasmfuzz/internal/types"
	"b3wasmfuzz/internal/wasm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var fuzzlet = &types.Fuzzlet{TaskId: "t1", Harness: "differential", FuzzEngine: "inproc"}

func writeCrash(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestStoreCrashEnvelope(t *testing.T) {
	tmp := t.TempDir()
	c := newCrashManager(nil, zaptest.NewLogger(t), filepath.Join(tmp, "store"))

	module := wasm.AppendHeader(nil)
	input := envelope.Encode(module, []byte("seed"))
	bug, err := c.storeCrash(types.CrashMessage{CrashFile: writeCrash(t, tmp, "a", input), Fuzzlet: fuzzlet})
	require.NoError(t, err)

	assert.True(t, bug.Enveloped)
	assert.Equal(t, len(module), bug.ModuleLen)
	assert.Equal(t, 4, bug.SeedLen)
	assert.Equal(t, filepath.Join(tmp, "store", "t1", "differential", bug.Digest), bug.POC)
	stored, err := os.ReadFile(bug.POC)
	require.NoError(t, err)
	assert.Equal(t, input, stored)
}

func TestStoreCrashBareSeed(t *testing.T) {
	tmp := t.TempDir()
	c := newCrashManager(nil, zaptest.NewLogger(t), tmp)

	bug, err := c.storeCrash(types.CrashMessage{CrashFile: writeCrash(t, tmp, "bare", []byte{1, 2, 3}), Fuzzlet: fuzzlet})
	require.NoError(t, err)
	assert.False(t, bug.Enveloped)
	assert.Zero(t, bug.ModuleLen)
	assert.Len(t, bug.Digest, 64)
}

func TestStoreCrashDeduplicates(t *testing.T) {
	tmp := t.TempDir()
	c := newCrashManager(nil, zaptest.NewLogger(t), filepath.Join(tmp, "store"))

	_, err := c.storeCrash(types.CrashMessage{CrashFile: writeCrash(t, tmp, "a", []byte("same")), Fuzzlet: fuzzlet})
	require.NoError(t, err)
	_, err = c.storeCrash(types.CrashMessage{CrashFile: writeCrash(t, tmp, "b", []byte("same")), Fuzzlet: fuzzlet})
	assert.ErrorIs(t, err, errDuplicate)

	_, err = c.storeCrash(types.CrashMessage{CrashFile: filepath.Join(tmp, "missing"), Fuzzlet: fuzzlet})
	assert.Error(t, err)
	_, err = c.storeCrash(types.CrashMessage{CrashFile: filepath.Join(tmp, "a")})
	assert.Error(t, err)
}

func TestFanInDrainsOnStop(t *testing.T) {
	tmp := t.TempDir()
	store := filepath.Join(tmp, "store")
	c := newCrashManager(nil, zaptest.NewLogger(t), store)
	go c.start()

	ch := make(chan types.CrashMessage, 2)
	c.RegisterCrashChan(context.Background(), ch)
	ch <- types.CrashMessage{CrashFile: writeCrash(t, tmp, "a", []byte("one")), Fuzzlet: fuzzlet}
	ch <- types.CrashMessage{CrashFile: writeCrash(t, tmp, "b", []byte("two")), Fuzzlet: fuzzlet}
	close(ch)
	c.stop()

	entries, err := os.ReadDir(filepath.Join(store, "t1", "differential"))
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
