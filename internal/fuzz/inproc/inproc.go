// Package inproc is the in-process fuzzing engine. Instances run the
// harnesses of the target registry directly, sharing one view of the
// behaviours seen so far, and lay out their output like AFL++ so that the
// watchdogs pick up findings and queue entries.
package inproc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"b3wasmfuzz/config"
	"b3wasmfuzz/internal/corpus"
	"b3wasmfuzz/internal/dict"
	"b3wasmfuzz/internal/fuzz"
	"b3wasmfuzz/internal/target"
	"b3wasmfuzz/internal/types"
	"b3wasmfuzz/pkg/telemetry"
	"b3wasmfuzz/pkg/watchdog"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

const EngineName = "inproc"

type corpusCollector interface {
	CollectCorpusToDir(ctx context.Context, taskId, harness, dir string) error
}

type tokenSource interface {
	GrabDict(ctx context.Context, taskId, harness string) ([][]byte, error)
}

type targetLookup interface {
	Lookup(name string) (target.Target, error)
}

type InprocFuzzer struct {
	logger        *zap.Logger
	watchDogFac   *watchdog.WatchDogFactory
	corpusGrabber corpusCollector
	dictGrabber   tokenSource
	targets       targetLookup
	profiles      config.HarnessProfiles
	appConfig     *config.AppConfig
}

type InprocFuzzerParams struct {
	fx.In

	Logger        *zap.Logger
	CorpusGrabber *corpus.CorpusGrabber
	DictGrabber   *dict.DictGrabber
	WatchDogFac   *watchdog.WatchDogFactory
	Targets       *target.Registry
	Profiles      config.HarnessProfiles
	AppConfig     *config.AppConfig
}

func NewInprocFuzzer(params InprocFuzzerParams) *InprocFuzzer {
	return &InprocFuzzer{
		params.Logger.Named(EngineName),
		params.WatchDogFac,
		params.CorpusGrabber,
		params.DictGrabber,
		params.Targets,
		params.Profiles,
		params.AppConfig,
	}
}

func (f *InprocFuzzer) SupportedEngines() []string {
	return []string{EngineName, "wasm"}
}

func (f *InprocFuzzer) RunFuzz(ctx context.Context, fuzzlet *types.Fuzzlet, timeout time.Duration) (fuzz.FuzzerHandler, error) {
	tracer := telemetry.FromContext(ctx)
	logger := f.logger.With(
		zap.String("task_id", fuzzlet.TaskId),
		zap.String("harness", fuzzlet.Harness),
		zap.String("fuzz_engine", fuzzlet.FuzzEngine),
	)
	startTime := time.Now()

	t, err := f.targets.Lookup(fuzzlet.Harness)
	if err != nil {
		logger.Error("harness is not registered", zap.Error(err))
		return nil, err
	}

	seedsFolder, outputFolder, err := f.prepareDirs(fuzzlet)
	if err != nil {
		logger.Error("failed to prepare directories", zap.Error(err))
		return nil, err
	}

	tracer.AddEvent("fuzzer.inproc.prepare_seeds", telemetry.EventAttributes{})
	if err := f.corpusGrabber.CollectCorpusToDir(ctx, fuzzlet.TaskId, fuzzlet.Harness, seedsFolder); err != nil {
		logger.Error("failed to grab seeds", zap.Error(err))
	}
	seeds, err := loadSeeds(seedsFolder)
	if err != nil {
		logger.Error("failed to load seeds", zap.Error(err))
	}
	if len(seeds) == 0 {
		logger.Warn("starting from an empty corpus")
		seeds = [][]byte{{}}
	}

	tracer.AddEvent("fuzzer.inproc.prepare_dicts", telemetry.EventAttributes{})
	tokens, err := f.dictGrabber.GrabDict(ctx, fuzzlet.TaskId, fuzzlet.Harness)
	if err != nil {
		logger.Error("failed to grab dict, will not use it", zap.Error(err))
	}

	maxSize := fuzzlet.MaxSize
	if maxSize <= 0 {
		maxSize = f.profiles.Get(fuzzlet.Harness, f.appConfig.MaxInputSize).MaxSize
	}

	// Instances stop a little early so their last queue entries and stats
	// land before the runner cancels ctx.
	remaining := time.Until(startTime.Add(timeout))
	gracefulTimeout := time.Duration(float64(remaining) * 0.9)

	crashFileNotifyChan := make(chan string, 1024)
	crashChan := make(chan types.CrashMessage, 1024)
	crashWatchDog := f.watchDogFac.New(ctx, crashFileNotifyChan, filterEntries)
	go f.crashProxy(ctx, fuzzlet, crashFileNotifyChan, crashChan)

	queueFileNotifyChan := make(chan string, 1024)
	queueChan := make(chan types.SeedMessage, 1024)
	queueWatchDog := f.watchDogFac.New(ctx, queueFileNotifyChan, filterEntries)
	go f.seedProxy(fuzzlet, queueFileNotifyChan, queueChan)

	tracer.AddEvent("fuzzer.inproc.start", telemetry.EventAttributes{})
	shared := newSharedState()
	wg := &sync.WaitGroup{}
	for idx := range max(f.appConfig.CoreCount, 1) {
		name := "main"
		if idx > 0 {
			name = fmt.Sprintf("worker_%d", idx)
		}
		inst, err := newInstance(name, outputFolder, t, seeds, tokens, maxSize, shared, startTime.UnixNano()+int64(idx), logger)
		if err != nil {
			logger.Error("failed to prepare instance", zap.String("instance", name), zap.Error(err))
			continue
		}
		if err := crashWatchDog.AddDir(inst.crashDir()); err != nil {
			logger.Error("failed to watch crash folder", zap.Error(err))
		}
		if err := queueWatchDog.AddDir(inst.queueDir()); err != nil {
			logger.Error("failed to watch queue folder", zap.Error(err))
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			inst.Fuzz(ctx, gracefulTimeout)
		}()
	}

	return &InprocFuzzerHandler{
		crashChan,
		queueChan,
		outputFolder,
		wg,
	}, nil
}

// filterEntries keeps the files instances publish and drops everything else
// showing up in the watched folders.
func filterEntries(fileName string) bool {
	return strings.HasPrefix(filepath.Base(fileName), "id:")
}

// crashProxy forwards crash files as crash messages and records the first one
// as an event on the fuzzlet span.
func (f *InprocFuzzer) crashProxy(ctx context.Context, fuzzlet *types.Fuzzlet, fileNotifyChan <-chan string, crashChan chan<- types.CrashMessage) {
	tracer := telemetry.FromContext(ctx)
	defer close(crashChan)

	everFound := false
	for crashFile := range fileNotifyChan {
		crashChan <- types.CrashMessage{
			CrashFile: crashFile,
			Fuzzlet:   fuzzlet,
		}
		if !everFound {
			tracer.AddEvent("first_pov_found",
				telemetry.NewEventAttributes(map[string]string{
					"pov_name": filepath.Base(crashFile),
				}))
			everFound = true
		}
	}
}

func (f *InprocFuzzer) seedProxy(fuzzlet *types.Fuzzlet, fileNotifyChan <-chan string, seedChan chan<- types.SeedMessage) {
	defer close(seedChan)
	for seedFile := range fileNotifyChan {
		seedChan <- types.SeedMessage{
			SeedFile: seedFile,
			Fuzzlet:  fuzzlet,
		}
	}
}

// prepareDirs creates WORK_DIR/inproc/<task>/<harness>/{seeds,output}.
func (f *InprocFuzzer) prepareDirs(fuzzlet *types.Fuzzlet) (seedsFolder, outputFolder string, err error) {
	base := filepath.Join(f.appConfig.WorkDir, EngineName, fuzzlet.TaskId, fuzzlet.Harness)
	seedsFolder = filepath.Join(base, "seeds")
	outputFolder = filepath.Join(base, "output")
	for _, dir := range []string{seedsFolder, outputFolder} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", "", err
		}
	}
	return seedsFolder, outputFolder, nil
}

// loadSeeds reads every regular file of dir.
func loadSeeds(dir string) ([][]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	seeds := make([][]byte, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return seeds, err
		}
		seeds = append(seeds, data)
	}
	return seeds, nil
}

var InprocModule = fx.Options(
	fx.Provide(fx.Annotate(NewInprocFuzzer, fx.As(new(fuzz.Fuzzer)), fx.ResultTags(`group:"fuzzers"`))),
)
