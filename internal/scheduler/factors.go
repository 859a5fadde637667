package scheduler

import (
	"b3wasmfuzz/config"
	"b3wasmfuzz/internal/types"
)

// TaskFactor spreads effort evenly across tasks regardless of how many
// harnesses each registers.
type TaskFactor struct{}

func (tf *TaskFactor) Score(fuzzlets []*types.Fuzzlet) []float64 {
	perTask := make(map[string]int)
	for _, fuzzlet := range fuzzlets {
		perTask[fuzzlet.TaskId]++
	}

	score := make([]float64, len(fuzzlets))
	for idx, fuzzlet := range fuzzlets {
		score[idx] = 1 / float64(perTask[fuzzlet.TaskId])
	}
	return score
}

// HarnessFactor scores by the weight in the harness profile.
type HarnessFactor struct {
	profiles config.HarnessProfiles
}

func (hf *HarnessFactor) Score(fuzzlets []*types.Fuzzlet) []float64 {
	score := make([]float64, len(fuzzlets))
	for idx, fuzzlet := range fuzzlets {
		score[idx] = hf.profiles.Get(fuzzlet.Harness, 0).Weight
	}
	return score
}
