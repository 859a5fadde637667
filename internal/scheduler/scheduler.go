package scheduler

import (
	"context"
	"errors"
	"time"

	"b3wasmfuzz/config"
	"b3wasmfuzz/internal/fuzz"
	"b3wasmfuzz/internal/target"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const retryDelay = 10 * time.Second

var ErrNoFuzzlets = errors.New("no fuzzlets available")

type Scheduler struct {
	redisClient  *redis.Client
	logger       *zap.Logger
	fuzzRunner   *fuzz.FuzzRunner
	picker       *picker
	targets      *target.Registry
	profiles     config.HarnessProfiles
	maxInputSize int

	done chan struct{}
}

type SchedulerParams struct {
	fx.In

	Lc           fx.Lifecycle
	RedisClient  *redis.Client
	Logger       *zap.Logger
	FuzzerRunner *fuzz.FuzzRunner
	AppConfig    *config.AppConfig
	Profiles     config.HarnessProfiles
	Targets      *target.Registry
}

func NewScheduler(params SchedulerParams) *Scheduler {
	scheduler := &Scheduler{
		redisClient:  params.RedisClient,
		logger:       params.Logger.Named("scheduler"),
		fuzzRunner:   params.FuzzerRunner,
		picker:       NewPicker(params.AppConfig.SchedulerConfig.SchedulingInterval, params.Profiles),
		targets:      params.Targets,
		profiles:     params.Profiles,
		maxInputSize: params.AppConfig.MaxInputSize,
		done:         make(chan struct{}),
	}

	schedulerCtx, cancel := context.WithCancel(context.Background())

	params.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go scheduler.start(schedulerCtx)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			<-scheduler.done
			return nil
		},
	})
	return scheduler
}

// start runs epochs back to back until ctx is done, backing off after errors.
func (s *Scheduler) start(ctx context.Context) {
	defer close(s.done)
	var err error
	for {
		var delay time.Duration
		if err != nil {
			delay = retryDelay
		}

		select {
		case <-ctx.Done():
			s.logger.Info("scheduler context done, stopping scheduler")
			return
		case <-time.After(delay):
			err = s.stepEpoch(ctx)
		}
	}
}

// stepEpoch picks one fuzzlet and fuzzes it for one interval.
func (s *Scheduler) stepEpoch(ctx context.Context) error {
	fuzzlets, err := s.getFuzzlets(ctx)
	if err != nil {
		s.logger.Warn("redis fuzzlets key not available, tasks are not registered yet", zap.Error(err))
		return err
	}
	if len(fuzzlets) == 0 {
		s.logger.Warn("no fuzzlets available")
		return ErrNoFuzzlets
	}

	fuzzlet, timeout := s.picker.pick(fuzzlets)
	return s.fuzzRunner.RunFuzz(ctx, fuzzlet, timeout)
}
