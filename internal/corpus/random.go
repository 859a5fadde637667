package corpus

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	"b3wasmfuzz/config"
	"b3wasmfuzz/internal/target"
	"b3wasmfuzz/internal/utils"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	randomSeedCount = 30
	randomSeedSize  = 256
)

// RandomSeedGrabber bootstraps a harness that has no corpus yet. Seeds that
// generate a module are stored as envelopes.
type RandomSeedGrabber struct {
	targets      *target.Registry
	logger       *zap.Logger
	profiles     config.HarnessProfiles
	maxInputSize int
	workDir      string
}

type RandomSeedGrabberParams struct {
	fx.In

	Targets   *target.Registry
	Logger    *zap.Logger
	Profiles  config.HarnessProfiles
	AppConfig *config.AppConfig
}

func NewRandomSeedGrabber(params RandomSeedGrabberParams) *RandomSeedGrabber {
	return &RandomSeedGrabber{
		params.Targets,
		params.Logger,
		params.Profiles,
		params.AppConfig.MaxInputSize,
		filepath.Join(params.AppConfig.WorkDir, "fakeseeds"),
	}
}

// keep is a base mutator that leaves the seed as it is.
func keep(_ []byte, size, _ int) int {
	return size
}

func (s *RandomSeedGrabber) GrabCorpusBlob(_ context.Context, taskId, harness string) (string, error) {
	t, err := s.targets.Lookup(harness)
	if err != nil {
		return "", err
	}

	seedFolder := filepath.Join(s.workDir, taskId, harness)
	tarFilePath := filepath.Join(s.workDir, fmt.Sprintf("%s_%s_seeds.tar.gz", taskId, harness))
	if err := os.MkdirAll(seedFolder, 0755); err != nil {
		return "", err
	}

	maxSize := s.profiles.Get(harness, s.maxInputSize).MaxSize
	buf := make([]byte, maxSize)
	for i := range randomSeedCount {
		seed := buf[:min(randomSeedSize, maxSize)]
		if _, err := rand.Read(seed); err != nil {
			return "", err
		}
		n := t.Mutate(buf, len(seed), maxSize, keep)

		seedFilePath := filepath.Join(seedFolder, fmt.Sprintf("seed%d.bin", i))
		if err := os.WriteFile(seedFilePath, buf[:n], 0644); err != nil {
			return "", err
		}
	}

	if err := utils.CompressTarGz(seedFolder, tarFilePath); err != nil {
		return "", fmt.Errorf("failed to create tar file: %w", err)
	}

	s.logger.Info("Generated random seeds",
		zap.String("task_id", taskId),
		zap.String("harness", harness),
		zap.Int("count", randomSeedCount))
	return tarFilePath, nil
}
