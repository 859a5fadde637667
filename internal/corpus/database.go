package corpus

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"b3wasmfuzz/config"
	"b3wasmfuzz/internal/utils"
	"b3wasmfuzz/pkg/database"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// newestOwnBundles bounds how many of our own bundles are merged back in.
const newestOwnBundles = 10

var errNoDatabase = errors.New("no database connection")

type DBSeedGrabber struct {
	db      *gorm.DB
	logger  *zap.Logger
	workDir string
}

func NewDBSeedGrabber(db *gorm.DB, logger *zap.Logger, appConfig *config.AppConfig) *DBSeedGrabber {
	return &DBSeedGrabber{
		db,
		logger,
		filepath.Join(appConfig.WorkDir, "dbseeds"),
	}
}

// GrabCorpusBlob merges every bundle recorded for the harness into one.
func (s *DBSeedGrabber) GrabCorpusBlob(ctx context.Context, taskId, harness string) (string, error) {
	if s.db == nil {
		return "", errNoDatabase
	}

	paths, err := database.SeedPaths(ctx, s.db, taskId, harness, newestOwnBundles)
	if err != nil {
		return "", fmt.Errorf("failed to query seeds: %w", err)
	}
	if len(paths) == 0 {
		s.logger.Info("No seeds found in db", zap.String("task_id", taskId), zap.String("harness", harness))
		return "", errors.New("no seeds found in database")
	}

	wholeBlob := filepath.Join(s.workDir, taskId, harness)
	tarFilePath := filepath.Join(s.workDir, fmt.Sprintf("%s_%s_seeds.tar.gz", taskId, harness))
	if err := os.MkdirAll(wholeBlob, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	unpacked := 0
	for _, path := range paths {
		if err := utils.UnpackTarGz(path, wholeBlob); err != nil {
			s.logger.Error("Failed to unpack tar file", zap.String("path", path), zap.Error(err))
			continue
		}
		unpacked++
	}
	if unpacked == 0 {
		return "", errors.New("no seed bundle could be unpacked")
	}
	if err := utils.CompressTarGz(wholeBlob, tarFilePath); err != nil {
		return "", fmt.Errorf("failed to create tar file: %w", err)
	}

	s.logger.Info("Got seeds in db",
		zap.String("task_id", taskId),
		zap.String("harness", harness),
		zap.Int("bundles", unpacked))

	return tarFilePath, nil
}
