package dict

import (
	"context"
	"fmt"
	"os"
	"strings"

	"b3wasmfuzz/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const DictRedisKey = "artifacts:%s:%s:dicts" // artifacts:<task_id>:<harness_name>:dicts

type DictGrabber struct {
	logger      *zap.Logger
	redisClient *redis.Client
	dictPaths   []string
	profiles    config.HarnessProfiles
}

type DictGrabberParams struct {
	fx.In

	Logger      *zap.Logger
	RedisClient *redis.Client
	AppConfig   *config.AppConfig
	Profiles    config.HarnessProfiles
}

func NewDictGrabber(params DictGrabberParams) *DictGrabber {
	return &DictGrabber{
		params.Logger,
		params.RedisClient,
		params.AppConfig.DictPaths,
		params.Profiles,
	}
}

// GrabDict collects the dictionary tokens of a harness from the paths
// registered in Redis, the globally configured paths and the harness
// profile. A harness without dictionaries gets no tokens and no error.
func (d *DictGrabber) GrabDict(ctx context.Context, taskId, harness string) ([][]byte, error) {
	key := fmt.Sprintf(DictRedisKey, taskId, harness)

	redisPaths, err := d.redisClient.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get dict set from redis: %w", err)
	}

	paths := make([]string, 0, len(redisPaths)+len(d.dictPaths))
	paths = append(paths, redisPaths...)
	paths = append(paths, d.dictPaths...)
	paths = append(paths, d.profiles[harness].Dicts...)

	d.logger.Info("Collecting dicts",
		zap.String("task_id", taskId),
		zap.String("harness", harness),
		zap.Int("redis_dicts", len(redisPaths)),
		zap.Int("num_dicts", len(paths)))

	var contents []string
	for _, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			d.logger.Warn("failed to read dict file", zap.String("path", path), zap.Error(err))
			continue
		}
		contents = append(contents, string(content))
	}

	tokens := ParseTokens(MergeLines(contents...))
	d.logger.Info("Got dict tokens",
		zap.String("task_id", taskId),
		zap.String("harness", harness),
		zap.Int("num_tokens", len(tokens)))
	return tokens, nil
}

// MergeLines joins dictionary files, dropping blank lines, comments and
// duplicates while keeping first-seen order.
func MergeLines(contents ...string) string {
	seen := make(map[string]struct{})
	var lines []string
	for _, content := range contents {
		for _, line := range strings.Split(content, "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			if _, ok := seen[line]; !ok {
				seen[line] = struct{}{}
				lines = append(lines, line)
			}
		}
	}
	return strings.Join(lines, "\n")
}
