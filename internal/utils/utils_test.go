package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
}

func readFiles(t *testing.T, dir string) map[string]string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	out := map[string]string{}
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		require.NoError(t, err)
		out[e.Name()] = string(data)
	}
	return out
}

func TestTarGzRoundTrip(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, "src")
	files := map[string]string{"a": "\x00asm\x01\x00\x00\x00", "b": "", "c": "seed"}
	writeFiles(t, src, files)
	require.NoError(t, os.Mkdir(filepath.Join(src, "nested"), 0755))

	archive := filepath.Join(tmp, "corpus.tar.gz")
	require.NoError(t, CompressTarGz(src, archive))
	assert.True(t, IsTarGz(archive))

	dst := filepath.Join(tmp, "dst")
	require.NoError(t, UnpackTarGz(archive, dst))
	assert.Equal(t, files, readFiles(t, dst))
}

func TestUnpackMergesIntoExistingDir(t *testing.T) {
	tmp := t.TempDir()
	writeFiles(t, filepath.Join(tmp, "one"), map[string]string{"a": "1"})
	writeFiles(t, filepath.Join(tmp, "two"), map[string]string{"b": "2"})
	require.NoError(t, CompressTarGz(filepath.Join(tmp, "one"), filepath.Join(tmp, "one.tar.gz")))
	require.NoError(t, CompressTarGz(filepath.Join(tmp, "two"), filepath.Join(tmp, "two.tar.gz")))

	dst := filepath.Join(tmp, "dst")
	require.NoError(t, UnpackTarGz(filepath.Join(tmp, "one.tar.gz"), dst))
	require.NoError(t, UnpackTarGz(filepath.Join(tmp, "two.tar.gz"), dst))
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, readFiles(t, dst))
}

func TestIsTarGzRejectsOtherFiles(t *testing.T) {
	tmp := t.TempDir()
	plain := filepath.Join(tmp, "plain")
	require.NoError(t, os.WriteFile(plain, []byte("not gzip"), 0644))
	assert.False(t, IsTarGz(plain))
	assert.False(t, IsTarGz(filepath.Join(tmp, "missing")))
	assert.Error(t, UnpackTarGz(plain, filepath.Join(tmp, "out")))
}

func TestCopyFileAndDir(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, "src")
	writeFiles(t, src, map[string]string{"x": "hello", "y": "world"})

	require.NoError(t, CopyFile(filepath.Join(src, "x"), filepath.Join(tmp, "x")))
	data, err := os.ReadFile(filepath.Join(tmp, "x"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	n, err := CopyDir(src, filepath.Join(tmp, "dst"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, map[string]string{"x": "hello", "y": "world"}, readFiles(t, filepath.Join(tmp, "dst")))

	assert.Error(t, CopyFile(filepath.Join(tmp, "missing"), filepath.Join(tmp, "z")))
}
