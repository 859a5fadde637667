package corpus

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"

	"b3wasmfuzz/internal/envelope"
	"b3wasmfuzz/internal/utils"
	"b3wasmfuzz/pkg/telemetry"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrNoCorpus = errors.New("no corpus available")

type CorpusGrabber struct {
	grabbers []Grabber
	logger   *zap.Logger
}

type CorpusGrabberParams struct {
	fx.In

	Logger            *zap.Logger
	RedisGrabber      *RedisCorpusGrabber
	DBSeedGrabber     *DBSeedGrabber
	RandomSeedGrabber *RandomSeedGrabber
}

func NewCorpusGrabber(params CorpusGrabberParams) *CorpusGrabber {
	return newCorpusGrabber(params.Logger,
		params.RedisGrabber,
		params.DBSeedGrabber,
		params.RandomSeedGrabber,
	)
}

func newCorpusGrabber(logger *zap.Logger, grabbers ...Grabber) *CorpusGrabber {
	return &CorpusGrabber{
		grabbers: grabbers,
		logger:   logger,
	}
}

func grabberName(grabber Grabber) string {
	return reflect.TypeOf(grabber).String()
}

func (s *CorpusGrabber) getCorpusBlob(ctx context.Context, taskId, harness string) (string, error) {
	for _, grabber := range s.grabbers {
		if grabber == nil || reflect.ValueOf(grabber).IsNil() {
			s.logger.Warn("one seed grabber is nil")
			continue
		}
		corpusTar, err := s.getCorpusBlobFrom(ctx, taskId, harness, grabber)
		if err == nil {
			return corpusTar, nil
		}
	}
	return "", ErrNoCorpus
}

func (s *CorpusGrabber) getCorpusBlobFrom(ctx context.Context, taskId, harness string, grabber Grabber) (string, error) {
	name := grabberName(grabber)
	grabberTracer := telemetry.FromContext(ctx).Spawn(fmt.Sprintf("syncing corpus from %s", name))
	grabberTracer.Start()
	defer grabberTracer.End()

	corpusTar, err := grabber.GrabCorpusBlob(ctx, taskId, harness)
	if err != nil {
		s.logger.Warn("failed to grab corpus",
			zap.String("grabber", name),
			zap.String("task_id", taskId),
			zap.String("harness", harness),
			zap.Error(err))
		grabberTracer.AddEvent("failed_to_grab_corpus", telemetry.EventAttributes{})
		return "", fmt.Errorf("failed to grab corpus: %w", err)
	}

	s.logger.Info("grabbed corpus",
		zap.String("grabber", name),
		zap.String("task_id", taskId),
		zap.String("harness", harness))
	grabberTracer.WithAttributes(telemetry.EmptySpanAttributes().WithCorpusSource(name))
	return corpusTar, nil
}

// CollectCorpusToDir unpacks the first corpus bundle available into dir,
// which must exist.
func (s *CorpusGrabber) CollectCorpusToDir(ctx context.Context, taskId, harness, dir string) error {
	logger := s.logger.With(
		zap.String("task_id", taskId),
		zap.String("harness", harness),
		zap.String("corpus_folder", dir),
	)
	if _, err := os.Stat(dir); err != nil {
		logger.Error("failed to find corpus folder", zap.Error(err))
		return err
	}

	corpusTracer := telemetry.FromContext(ctx).Spawn("syncing corpus")
	corpusTracer.Start()
	defer corpusTracer.End()
	collectorCtx := context.WithValue(ctx, telemetry.TracerKey{}, corpusTracer)

	corpusBlob, err := s.getCorpusBlob(collectorCtx, taskId, harness)
	if err != nil {
		return err
	}

	if err := utils.UnpackTarGz(corpusBlob, dir); err != nil {
		logger.Error("failed to unpack corpus tar file", zap.Error(err))
		return err
	}

	total, enveloped, err := countEntries(dir)
	if err != nil {
		logger.Error("failed to read corpus folder", zap.Error(err))
	}
	logger.Info("successfully get corpus for fuzzing",
		zap.Int("seed_count", total),
		zap.Int("enveloped", enveloped))

	corpusTracer.WithAttributes(
		telemetry.EmptySpanAttributes().
			WithCorpusSize(total).
			WithCorpusEnveloped(enveloped),
	)
	return nil
}

// countEntries counts the regular files of dir and how many of them are
// envelopes.
func countEntries(dir string) (total, enveloped int, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, 0, err
	}
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		total++
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		if _, err := envelope.Decode(data); err == nil {
			enveloped++
		}
	}
	return total, enveloped, nil
}
