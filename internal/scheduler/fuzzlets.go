package scheduler

import (
	"context"
	"encoding/json"

	"b3wasmfuzz/internal/types"
	"b3wasmfuzz/pkg/database"

	"go.uber.org/zap"
)

// getFuzzlets reads the registered fuzzlets and keeps those whose task is
// processing. Fuzzlets of canceled tasks are removed from Redis.
func (s *Scheduler) getFuzzlets(ctx context.Context) ([]*types.Fuzzlet, error) {
	s.logger.Debug("getting fuzzlets from redis")
	fuzzletJSONs, err := s.redisClient.SMembers(ctx, database.FuzzletsKey).Result()
	if err != nil {
		return nil, err
	}

	fuzzlets := make([]*types.Fuzzlet, 0, len(fuzzletJSONs))
	for _, fuzzletJSON := range fuzzletJSONs {
		fuzzlet := &types.Fuzzlet{}
		if err := json.Unmarshal([]byte(fuzzletJSON), fuzzlet); err != nil {
			s.logger.Error("malformed fuzzlet in redis, removing", zap.String("fuzzlet", fuzzletJSON), zap.Error(err))
			s.redisClient.SRem(ctx, database.FuzzletsKey, fuzzletJSON)
			continue
		}
		if _, err := s.targets.Lookup(fuzzlet.Harness); err != nil {
			s.logger.Warn("fuzzlet names an unknown harness, skipping", zap.String("harness", fuzzlet.Harness))
			continue
		}

		logger := s.logger.With(zap.String("task_id", fuzzlet.TaskId))

		status, err := s.redisClient.Get(ctx, database.TaskStatusKey(fuzzlet.TaskId)).Result()
		if status != database.TaskProcessing {
			if status == database.TaskCanceled {
				if err := s.redisClient.SRem(ctx, database.FuzzletsKey, fuzzletJSON).Err(); err != nil {
					logger.Error("failed to remove fuzzlet from redis", zap.Error(err))
				}
			} else {
				logger.Error("failed to get task status, skipping", zap.String("status", status), zap.Error(err))
			}
			continue
		}

		if fuzzlet.MaxSize == 0 {
			fuzzlet.MaxSize = s.profiles.Get(fuzzlet.Harness, s.maxInputSize).MaxSize
		}
		fuzzlets = append(fuzzlets, fuzzlet)
	}
	s.logger.Info("got fuzzlets from redis", zap.Int("count", len(fuzzlets)))
	return fuzzlets, nil
}
