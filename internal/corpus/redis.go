package corpus

import (
	"context"
	"errors"
	"fmt"
	"os"

	"b3wasmfuzz/internal/utils"
	"b3wasmfuzz/pkg/database"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisCorpusGrabber returns the cumulative corpus kept by the seed manager.
type RedisCorpusGrabber struct {
	redisClient *redis.Client
	logger      *zap.Logger
}

func NewRedisCorpusGrabber(redisClient *redis.Client, logger *zap.Logger) *RedisCorpusGrabber {
	return &RedisCorpusGrabber{
		redisClient,
		logger,
	}
}

func (s *RedisCorpusGrabber) GrabCorpusBlob(ctx context.Context, taskId, harness string) (string, error) {
	seedPath, err := s.redisClient.Get(ctx, database.CorpusKey(taskId, harness)).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("no corpus found for harness %s in redis", harness)
	}
	if err != nil {
		return "", err
	}

	s.logger.Info("Got corpus from redis",
		zap.String("task_id", taskId),
		zap.String("harness", harness),
		zap.String("seed_path", seedPath))

	return checkBlob(seedPath)
}

// checkBlob verifies that path is a non-empty tar.gz file.
func checkBlob(path string) (string, error) {
	fileInfo, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("seed blob %s is not accessible: %w", path, err)
	}
	if fileInfo.Size() == 0 {
		return "", fmt.Errorf("seed blob %s is empty", path)
	}
	if !utils.IsTarGz(path) {
		return "", fmt.Errorf("seed blob %s is not a valid tar.gz file", path)
	}
	return path, nil
}
