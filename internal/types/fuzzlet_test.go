package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuzzletFromRedisJSON(t *testing.T) {
	var f Fuzzlet
	require.NoError(t, json.Unmarshal([]byte(`{"task_id":"t1","harness":"compile","fuzz_engine":"inproc"}`), &f))
	assert.Equal(t, Fuzzlet{TaskId: "t1", Harness: "compile", FuzzEngine: "inproc"}, f)
	assert.Equal(t, "t1/compile@inproc", f.String())

	out, err := json.Marshal(&f)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "max_size")
}
