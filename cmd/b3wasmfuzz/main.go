package main

import (
	"context"

	"b3wasmfuzz/config"
	"b3wasmfuzz/internal/corpus"
	"b3wasmfuzz/internal/crash"
	"b3wasmfuzz/internal/dict"
	"b3wasmfuzz/internal/fuzz"
	"b3wasmfuzz/internal/fuzz/inproc"
	"b3wasmfuzz/internal/scheduler"
	"b3wasmfuzz/internal/seeds"
	"b3wasmfuzz/internal/target"
	"b3wasmfuzz/pkg/database"
	"b3wasmfuzz/pkg/logger"
	"b3wasmfuzz/pkg/mq"
	"b3wasmfuzz/pkg/telemetry"
	"b3wasmfuzz/pkg/watchdog"

	_ "go.uber.org/automaxprocs"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func loadHarnessProfiles(appConfig *config.AppConfig, logger *zap.Logger) config.HarnessProfiles {
	profiles, err := config.LoadHarnessProfiles(appConfig.HarnessConfig)
	if err != nil {
		logger.Fatal("Failed to load harness profiles", zap.String("path", appConfig.HarnessConfig), zap.Error(err))
	}
	logger.Info("Loaded harness profiles", zap.Int("count", len(profiles)))
	return profiles
}

func newTargetRegistry(lc fx.Lifecycle, logger *zap.Logger) *target.Registry {
	registry := target.NewRegistry(logger.Named("target"))
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return registry.Close(ctx)
		},
	})
	logger.Info("Registered harnesses", zap.Strings("harnesses", registry.Names()))
	return registry
}

func main() {
	app := fx.New(
		fx.Provide(
			config.LoadConfig,           // inject config
			loadHarnessProfiles,         // inject per-harness profiles
			database.NewDBConnection,    // inject db connection
			database.NewRedisClient,     // inject redis client
			logger.NewLogger,            // inject logger
			mq.NewRabbitMQ,              // inject rabbitmq service
			telemetry.NewTelemetry,      // inject telemetry
			telemetry.NewTracerFactory,  // inject telemetry tracer factory
			newTargetRegistry,           // inject harness registry
			fuzz.NewFuzzRunner,          // inject fuzz runner
			dict.NewDictGrabber,         // inject dict grabber
			crash.NewCrashManager,       // inject crash manager
			seeds.NewSeedManager,        // inject seed manager
			watchdog.NewWatchDogFactory, // inject watchdog factory
		),
		inproc.InprocModule,         // inject in-process fuzzer module
		corpus.CorpusGrabbersModule, // inject seed grabbers
		fx.Invoke(
			scheduler.NewScheduler,
		),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			zlogger := fxevent.ZapLogger{Logger: log}
			zlogger.UseLogLevel(zap.DebugLevel)
			return &zlogger
		}),
	)
	app.Run()
}
