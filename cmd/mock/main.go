package main

// mock the task scheduler: register a task and its fuzzlets in Redis

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"b3wasmfuzz/config"
	"b3wasmfuzz/internal/fuzz/inproc"
	"b3wasmfuzz/internal/types"
	"b3wasmfuzz/internal/utils"
	"b3wasmfuzz/pkg/database"
	"b3wasmfuzz/pkg/logger"
	"b3wasmfuzz/pkg/telemetry"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type mockOptions struct {
	harnesses []string
	seedsDir  string
	maxSize   int
}

type mockApp struct {
	redisClient  *redis.Client
	logger       *zap.Logger
	traceFactory *telemetry.TracerFactory
	appConfig    *config.AppConfig
	shutdowner   fx.Shutdowner
}

type mockParams struct {
	fx.In
	RedisClient  *redis.Client
	Logger       *zap.Logger
	TraceFactory *telemetry.TracerFactory
	AppConfig    *config.AppConfig
	Shutdowner   fx.Shutdowner
}

func newMockApp(p mockParams) *mockApp {
	return &mockApp{
		redisClient:  p.RedisClient,
		logger:       p.Logger,
		traceFactory: p.TraceFactory,
		appConfig:    p.AppConfig,
		shutdowner:   p.Shutdowner,
	}
}

func (m *mockApp) registerMockTask(opts mockOptions) error {
	ctx := context.Background()
	taskId := uuid.New().String()

	if err := m.redisClient.Set(ctx, database.TaskStatusKey(taskId), database.TaskProcessing, 0).Err(); err != nil {
		return fmt.Errorf("failed to set task status: %w", err)
	}

	metadata := struct {
		RoundId     string `json:"round_id"`
		ProjectName string `json:"project_name"`
		TaskId      string `json:"task_id"`
	}{
		"local-mock",
		"wazero",
		taskId,
	}
	metadataJson, _ := json.Marshal(metadata)
	m.redisClient.Set(ctx, database.TaskMetadataKey(taskId), metadataJson, 0)

	tracer := m.traceFactory.NewTracer(ctx, taskId)
	tracer.Start()
	defer tracer.End()
	m.redisClient.Set(ctx, database.TaskTraceKey(taskId), tracer.Export(), 0)

	for _, harness := range opts.harnesses {
		fuzzlet := types.Fuzzlet{
			TaskId:     taskId,
			Harness:    harness,
			FuzzEngine: inproc.EngineName,
			MaxSize:    opts.maxSize,
		}
		body, err := json.Marshal(fuzzlet)
		if err != nil {
			return fmt.Errorf("failed to marshal fuzzlet: %w", err)
		}
		if err := m.redisClient.SAdd(ctx, database.FuzzletsKey, body).Err(); err != nil {
			return fmt.Errorf("failed to register fuzzlet: %w", err)
		}

		if opts.seedsDir != "" {
			if err := m.registerSeeds(ctx, taskId, harness, opts.seedsDir); err != nil {
				return err
			}
		}
		m.logger.Info("Registered mock fuzzlet", zap.String("fuzzlet", fuzzlet.String()))
	}

	m.logger.Info("Successfully registered mock task",
		zap.String("task_id", taskId),
		zap.Strings("harnesses", opts.harnesses))

	return m.shutdowner.Shutdown()
}

// registerSeeds bundles dir and publishes it as the newest corpus of harness.
func (m *mockApp) registerSeeds(ctx context.Context, taskId, harness, dir string) error {
	bundle := filepath.Join(m.appConfig.WorkDir, "mock", fmt.Sprintf("%s_%s.tar.gz", taskId, harness))
	if err := os.MkdirAll(filepath.Dir(bundle), 0755); err != nil {
		return err
	}
	if err := utils.CompressTarGz(dir, bundle); err != nil {
		return fmt.Errorf("failed to bundle seeds: %w", err)
	}
	return m.redisClient.Set(ctx, database.CorpusKey(taskId, harness), bundle, 0).Err()
}

type harnessList []string

func (h *harnessList) String() string { return fmt.Sprint(*h) }

func (h *harnessList) Set(v string) error {
	*h = append(*h, v)
	return nil
}

func main() {
	var harnesses harnessList
	flag.Var(&harnesses, "harness", "harness to fuzz (repeatable)")
	seedsDir := flag.String("seeds", "", "directory of initial seeds")
	maxSize := flag.Int("max-size", 0, "input size limit of the fuzzlets")
	help := flag.Bool("help", false, "Show help message")
	flag.Parse()

	if *help {
		fmt.Println("Usage: mock [options]")
		fmt.Println("\nOptions:")
		flag.PrintDefaults()
		os.Exit(0)
	}
	if len(harnesses) == 0 {
		harnesses = harnessList{"compile", "differential"}
	}
	opts := mockOptions{harnesses, *seedsDir, *maxSize}

	app := fx.New(
		fx.Provide(
			config.LoadConfig,
			telemetry.NewTelemetry,
			logger.NewLogger,
			telemetry.NewTracerFactory,
			database.NewRedisClient,
			newMockApp,
		),
		fx.Invoke(func(mock *mockApp) error {
			return mock.registerMockTask(opts)
		}),
	)

	app.Run()
}
