package crash

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"b3wasmfuzz/config"
	"b3wasmfuzz/internal/envelope"
	"b3wasmfuzz/internal/types"
	"b3wasmfuzz/pkg/database"
	"b3wasmfuzz/pkg/telemetry"

	"github.com/zeebo/blake3"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// errDuplicate marks a crash already stored for the same harness.
var errDuplicate = errors.New("duplicate crash")

type CrashManager struct {
	db     *gorm.DB
	logger *zap.Logger

	crashFolder string
	crashChan   chan types.CrashMessage
	wg          sync.WaitGroup
	done        chan struct{}
}

type CrashManagerParams struct {
	fx.In

	DB        *gorm.DB
	Logger    *zap.Logger
	AppConfig *config.AppConfig
	Lifecycle fx.Lifecycle
}

func NewCrashManager(p CrashManagerParams) *CrashManager {
	crashFolder := filepath.Join(p.AppConfig.WorkDir, "crashes")
	if err := os.MkdirAll(crashFolder, 0755); err != nil {
		p.Logger.Fatal("failed to create crash folder", zap.String("crash_folder", crashFolder), zap.Error(err))
		return nil
	}

	c := newCrashManager(p.DB, p.Logger.Named("crash"), crashFolder)
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			c.logger.Debug("starting crash manager")
			go c.start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			c.logger.Info("stopping crash manager")
			c.stop()
			return nil
		},
	})
	return c
}

func newCrashManager(db *gorm.DB, logger *zap.Logger, crashFolder string) *CrashManager {
	return &CrashManager{
		db:          db,
		logger:      logger,
		crashFolder: crashFolder,
		crashChan:   make(chan types.CrashMessage, 1024),
		done:        make(chan struct{}),
	}
}

// stop waits for every registered channel to close, then drains the fan-in.
func (c *CrashManager) stop() {
	c.wg.Wait()
	close(c.crashChan)
	<-c.done
}

func (c *CrashManager) RegisterCrashChan(ctx context.Context, rCh <-chan types.CrashMessage) {
	c.wg.Add(1)
	povTracer := telemetry.FromContext(ctx).Spawn("finding manager")
	povTracer.Start()
	go func() {
		defer c.wg.Done()
		defer povTracer.End()

		findings := 0
		for crash := range rCh {
			findings++
			c.logger.Debug("new crash message received", zap.String("crash_file", crash.CrashFile))
			c.crashChan <- crash
		}
		c.logger.Debug("crash channel closed", zap.Int("findings", findings))

		povTracer.WithAttributes(telemetry.EmptySpanAttributes().WithExtraAttribute("findings", findings))
	}()
	c.logger.Debug("new crash channel registered")
}

func (c *CrashManager) start() {
	defer close(c.done)
	for crash := range c.crashChan {
		bug, err := c.storeCrash(crash)
		if errors.Is(err, errDuplicate) {
			c.logger.Debug("skipping duplicate crash", zap.String("crash_file", crash.CrashFile))
			continue
		}
		if err != nil {
			c.logger.Error("failed to process crash file", zap.Error(err))
			continue
		}
		if c.db == nil {
			continue
		}
		if err := database.AddBugs(context.Background(), c.db, []*database.Bug{bug}); err != nil {
			c.logger.Error("failed to add bug", zap.String("poc", bug.POC), zap.Error(err))
		}
	}
}

// storeCrash copies the crash into the content addressed store and
// describes it as a bug.
func (c *CrashManager) storeCrash(msg types.CrashMessage) (*database.Bug, error) {
	if msg.Fuzzlet == nil {
		return nil, errors.New("crash message without fuzzlet")
	}
	crashStore := filepath.Join(c.crashFolder, msg.Fuzzlet.TaskId, msg.Fuzzlet.Harness)
	if err := os.MkdirAll(crashStore, 0755); err != nil {
		return nil, fmt.Errorf("failed to create crash store directory: %w", err)
	}

	crashData, err := os.ReadFile(msg.CrashFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read crash file: %w", err)
	}
	digest := blake3.Sum256(crashData)
	digestHex := hex.EncodeToString(digest[:])
	crashPath := filepath.Join(crashStore, digestHex)

	f, err := os.OpenFile(crashPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if errors.Is(err, os.ErrExist) {
		return nil, errDuplicate
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create crash file: %w", err)
	}
	if _, err := f.Write(crashData); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write crash file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to write crash file: %w", err)
	}

	var moduleLen, seedLen int
	env, err := envelope.Decode(crashData)
	enveloped := err == nil
	if enveloped {
		moduleLen, seedLen = len(env.Module), len(env.Seed)
	}

	c.logger.Info("new finding stored",
		zap.String("task_id", msg.Fuzzlet.TaskId),
		zap.String("harness", msg.Fuzzlet.Harness),
		zap.String("poc", crashPath),
		zap.Bool("enveloped", enveloped))

	return database.NewBug(msg.Fuzzlet.TaskId, crashPath, msg.Fuzzlet.Harness, digestHex, moduleLen, seedLen, enveloped), nil
}
