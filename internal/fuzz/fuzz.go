package fuzz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"b3wasmfuzz/internal/crash"
	"b3wasmfuzz/internal/seeds"
	"b3wasmfuzz/internal/types"
	"b3wasmfuzz/pkg/database"
	"b3wasmfuzz/pkg/telemetry"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	ErrNilFuzzlet     = errors.New("fuzzlet is nil")
	ErrEngineNotFound = errors.New("fuzzer not found")
)

type TaskMetadata map[string]any // stored in Redis as JSON

type FuzzRunner struct {
	logger        *zap.Logger
	crashManager  *crash.CrashManager
	seedManager   *seeds.SeedManager
	fuzzerMap     map[string]Fuzzer
	tracerFactory *telemetry.TracerFactory
	redisClient   *redis.Client
}

type FuzzRunnerParams struct {
	fx.In
	Logger        *zap.Logger
	CrashManager  *crash.CrashManager
	SeedManager   *seeds.SeedManager
	Fuzzers       []Fuzzer `group:"fuzzers"`
	TracerFactory *telemetry.TracerFactory
	RedisClient   *redis.Client
}

func NewFuzzRunner(params FuzzRunnerParams) *FuzzRunner {
	return &FuzzRunner{
		params.Logger,
		params.CrashManager,
		params.SeedManager,
		engineMap(params.Logger, params.Fuzzers),
		params.TracerFactory,
		params.RedisClient,
	}
}

func engineMap(logger *zap.Logger, fuzzers []Fuzzer) map[string]Fuzzer {
	fuzzMap := make(map[string]Fuzzer)
	for _, fuzzer := range fuzzers {
		if fuzzer == nil {
			continue
		}
		fuzzerV := reflect.ValueOf(fuzzer)
		if fuzzerV.Kind() == reflect.Ptr && fuzzerV.IsNil() {
			continue // engine unavailable on this host
		}
		for _, engine := range fuzzer.SupportedEngines() {
			fuzzMap[engine] = fuzzer
			logger.Debug("fuzzer registered", zap.String("engine", engine))
		}
	}
	return fuzzMap
}

func (f *FuzzRunner) taskMetadata(ctx context.Context, taskID string) TaskMetadata {
	taskMetadata := make(TaskMetadata)
	raw, err := f.redisClient.Get(ctx, database.TaskMetadataKey(taskID)).Result()
	if err != nil {
		f.logger.Warn("failed to get task metadata from redis", zap.Error(err))
		return taskMetadata
	}
	if err := json.Unmarshal([]byte(raw), &taskMetadata); err != nil {
		f.logger.Error("failed to unmarshal task metadata", zap.Error(err))
	}
	return taskMetadata
}

// RunFuzz fuzzes the fuzzlet for at most timeout and routes its findings and
// queue entries to the managers.
func (f *FuzzRunner) RunFuzz(ctx context.Context, fuzzlet *types.Fuzzlet, timeout time.Duration) error {
	if fuzzlet == nil {
		f.logger.Error("fuzzlet is nil")
		return ErrNilFuzzlet
	}

	f.logger.Info("running fuzzlet",
		zap.String("task_id", fuzzlet.TaskId),
		zap.String("harness", fuzzlet.Harness),
		zap.String("engine", fuzzlet.FuzzEngine),
		zap.Int("max_size", fuzzlet.MaxSize),
		zap.Duration("timeout", timeout),
	)

	fuzzer, ok := f.fuzzerMap[fuzzlet.FuzzEngine]
	if !ok {
		f.logger.Error("fuzzer not found", zap.String("fuzz_engine", fuzzlet.FuzzEngine))
		return fmt.Errorf("%w: %s", ErrEngineNotFound, fuzzlet.FuzzEngine)
	}

	taskMetadata := f.taskMetadata(ctx, fuzzlet.TaskId)
	taskTrace, err := f.redisClient.Get(ctx, database.TaskTraceKey(fuzzlet.TaskId)).Result()
	if err != nil {
		f.logger.Warn("failed to get trace context from redis", zap.Error(err))
	}

	span := fmt.Sprintf("wasm fuzzing %s", fuzzlet.TaskId)
	fuzzTracer := f.tracerFactory.NewTracerSpawnedFrom(ctx, taskTrace, span).
		WithAttributes(
			telemetry.NewSpanAttributes(telemetry.Fuzzing).
				WithExtraAttributes(taskMetadata).
				WithTargetHarness(fuzzlet.Harness).
				WithFuzzEngine(fuzzlet.FuzzEngine),
		)
	fuzzTracer.Start()
	defer fuzzTracer.End()

	fuzzCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	fuzzCtx = context.WithValue(fuzzCtx, telemetry.TracerKey{}, fuzzTracer)

	handler, err := fuzzer.RunFuzz(fuzzCtx, fuzzlet, timeout)
	if err != nil {
		f.logger.Error("failed to run fuzzer", zap.Error(err))
		return err
	}

	crashChan, err := handler.ConsumeCrashes()
	if err != nil {
		f.logger.Error("failed to consume crashes", zap.Error(err))
		return err
	}
	f.crashManager.RegisterCrashChan(fuzzCtx, crashChan)

	seedChan, err := handler.ConsumeSeeds()
	if err != nil {
		f.logger.Error("failed to consume seeds", zap.Error(err))
		return err
	}
	f.seedManager.RegisterSeedChan(seedChan)

	handler.BlockUntilFinished()
	return nil
}
