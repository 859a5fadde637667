package inproc

import (
	"sync"

	"b3wasmfuzz/internal/types"
)

type InprocFuzzerHandler struct {
	crashChan chan types.CrashMessage
	queueChan chan types.SeedMessage

	outputFolder string

	wg *sync.WaitGroup
}

func (f *InprocFuzzerHandler) ConsumeCrashes() (<-chan types.CrashMessage, error) {
	return f.crashChan, nil
}

func (f *InprocFuzzerHandler) ConsumeSeeds() (<-chan types.SeedMessage, error) {
	return f.queueChan, nil
}

func (f *InprocFuzzerHandler) BlockUntilFinished() {
	f.wg.Wait()
}
