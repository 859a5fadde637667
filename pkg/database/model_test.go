package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricValueAndScan(t *testing.T) {
	v, err := Metric{"total": 3, "enveloped": 2}.Value()
	require.NoError(t, err)

	var m Metric
	require.NoError(t, m.Scan(v))
	assert.Equal(t, Metric{"total": 3.0, "enveloped": 2.0}, m)

	require.NoError(t, m.Scan(`{"total":1}`))
	assert.Equal(t, Metric{"total": 1.0}, m)

	require.NoError(t, m.Scan(nil))
	assert.Nil(t, m)

	assert.Error(t, m.Scan(42))

	v, err = Metric(nil).Value()
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestNewBugAndSeed(t *testing.T) {
	bug := NewBug("t1", "/crashes/t1/compile/ab", "compile", "ab", 40, 12, true)
	assert.Equal(t, "t1", bug.TaskID)
	assert.Equal(t, 40, bug.ModuleLen)
	assert.True(t, bug.Enveloped)
	assert.False(t, bug.CreatedAt.IsZero())

	seed := NewSeed("t1", "/seeds/x.tar.gz", "compile", WasmFuzz, "host", Metric{"total": 1})
	assert.Equal(t, WasmFuzz, seed.Fuzzer)
	assert.Equal(t, "host", seed.Instance)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "corpus:t1:compile", CorpusKey("t1", "compile"))
	assert.Equal(t, "seen:t1:compile", SeenKey("t1", "compile"))
	assert.Equal(t, "global:task_status:t1", TaskStatusKey("t1"))
	assert.Equal(t, "global:trace_context:t1", TaskTraceKey("t1"))
	assert.Equal(t, "global:task_metadata:t1", TaskMetadataKey("t1"))
}
