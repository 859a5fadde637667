package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DATABASE_URL", "postgres://localhost/b3")
	t.Setenv("RABBITMQ_URL", "amqp://localhost")
	t.Setenv("OVERRIDE_REDIS_URL", "redis://localhost:6379")
	t.Setenv("DICT_PATHS", " /a.dict, ,/b.dict")
	for _, key := range []string{"LOG_LEVEL", "SERVICE_NAME", "WORK_DIR", "CORE_COUNT", "MAX_INPUT_SIZE", "SCHEDULER_INTERVAL", "SCHEDULER_TASKS_PER_BATCH"} {
		t.Setenv(key, "")
	}

	cfg := LoadConfig()
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "b3wasmfuzz", cfg.ServiceName)
	assert.Equal(t, "/crs/b3wasmfuzz", cfg.WorkDir)
	assert.Equal(t, 16, cfg.CoreCount)
	assert.Equal(t, 4096, cfg.MaxInputSize)
	assert.Equal(t, 10*time.Minute, cfg.SchedulerConfig.SchedulingInterval)
	assert.Equal(t, 5, cfg.SchedulerConfig.TasksPerBatch)
	assert.Equal(t, []string{"/a.dict", "/b.dict"}, cfg.DictPaths)
}

func TestParseHelpers(t *testing.T) {
	assert.Equal(t, time.Second, parseDuration("bogus", time.Second))
	assert.Equal(t, 3*time.Minute, parseDuration("3m", time.Second))
	assert.Equal(t, 7, parseInt("x", 7))
	assert.Equal(t, 12, parseInt("12", 7))
	assert.Nil(t, parseList(""))
}

func TestLoadHarnessProfiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harnesses.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
harnesses:
  differential:
    max_size: 1024
    weight: 3
    dicts:
      - /dicts/wasm.dict
  compile:
    weight: 0.5
`), 0644))

	profiles, err := LoadHarnessProfiles(path)
	require.NoError(t, err)

	diff := profiles.Get("differential", 4096)
	assert.Equal(t, 1024, diff.MaxSize)
	assert.Equal(t, 3.0, diff.Weight)
	assert.Equal(t, []string{"/dicts/wasm.dict"}, diff.Dicts)

	compile := profiles.Get("compile", 4096)
	assert.Equal(t, 4096, compile.MaxSize)
	assert.Equal(t, 0.5, compile.Weight)

	other := profiles.Get("other", 2048)
	assert.Equal(t, HarnessProfile{MaxSize: 2048, Weight: 1}, other)
}

func TestLoadHarnessProfilesMissingFile(t *testing.T) {
	profiles, err := LoadHarnessProfiles(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Empty(t, profiles)

	profiles, err = LoadHarnessProfiles("")
	require.NoError(t, err)
	assert.Empty(t, profiles)
}

func TestLoadHarnessProfilesRejectsBadInput(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("harnesses: [1, 2"), 0644))
	_, err := LoadHarnessProfiles(bad)
	assert.Error(t, err)

	negative := filepath.Join(dir, "negative.yaml")
	require.NoError(t, os.WriteFile(negative, []byte("harnesses:\n  compile:\n    weight: -1\n"), 0644))
	_, err = LoadHarnessProfiles(negative)
	assert.Error(t, err)
}
