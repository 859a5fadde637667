package scheduler

import (
	"math/rand"
	"time"

	"b3wasmfuzz/config"
	"b3wasmfuzz/internal/types"
)

// A factor scores every fuzzlet; the picker mixes the normalised scores of
// all factors by weight and samples one fuzzlet.
type factor interface {
	Score(fuzzlets []*types.Fuzzlet) []float64
}

type weightedFactor struct {
	factor factor
	weight float64
}

type picker struct {
	factors            []weightedFactor
	schedulingInterval time.Duration
	rng                *rand.Rand
}

func NewPicker(schedulingInterval time.Duration, profiles config.HarnessProfiles) *picker {
	return newPicker(schedulingInterval, profiles, rand.New(rand.NewSource(time.Now().UnixNano())))
}

func newPicker(schedulingInterval time.Duration, profiles config.HarnessProfiles, rng *rand.Rand) *picker {
	return &picker{
		factors: []weightedFactor{
			{&TaskFactor{}, 1.0},
			{&HarnessFactor{profiles}, 1.0},
		},
		schedulingInterval: schedulingInterval,
		rng:                rng,
	}
}

func (p *picker) pick(fuzzlets []*types.Fuzzlet) (*types.Fuzzlet, time.Duration) {
	finalScores := make([]float64, len(fuzzlets))
	for _, wf := range p.factors {
		for i, score := range balance(wf.factor.Score(fuzzlets)) {
			finalScores[i] += score * wf.weight
		}
	}

	r := p.rng.Float64()
	cumulative := 0.0
	for i, score := range balance(finalScores) {
		cumulative += score
		if r <= cumulative {
			return fuzzlets[i], p.schedulingInterval
		}
	}
	// rounding left r above the last cumulative score
	return fuzzlets[len(fuzzlets)-1], p.schedulingInterval
}

// balance normalises scores to sum to one. All-zero scores become uniform.
func balance(scores []float64) []float64 {
	balanced := make([]float64, len(scores))
	sum := 0.0
	for _, score := range scores {
		sum += score
	}
	for idx, score := range scores {
		if sum == 0 {
			balanced[idx] = 1 / float64(len(scores))
			continue
		}
		balanced[idx] = score / sum
	}
	return balanced
}
