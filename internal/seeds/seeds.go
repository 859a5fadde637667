package seeds

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"b3wasmfuzz/config"
	"b3wasmfuzz/internal/envelope"
	"b3wasmfuzz/internal/types"
	"b3wasmfuzz/internal/utils"
	"b3wasmfuzz/pkg/database"
	"b3wasmfuzz/pkg/mq"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/zeebo/blake3"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	CorpusQueueName = "corpus_queue"
	batchSize       = 1024
	flushInterval   = 1 * time.Minute
)

type TaskHarness struct {
	taskID  string
	harness string
}

// seenSet remembers which corpus entries were already bundled.
type seenSet interface {
	markNew(ctx context.Context, th TaskHarness, digest string) bool
}

type redisSeenSet struct {
	client *redis.Client
	logger *zap.Logger
}

// markNew treats Redis errors as new so entries are never lost.
func (r *redisSeenSet) markNew(ctx context.Context, th TaskHarness, digest string) bool {
	added, err := r.client.SAdd(ctx, database.SeenKey(th.taskID, th.harness), digest).Result()
	if err != nil {
		r.logger.Warn("failed to record seed digest", zap.Error(err))
		return true
	}
	return added == 1
}

// corpusIndex tracks the cumulative corpus bundle of each harness.
type corpusIndex interface {
	latest(ctx context.Context, th TaskHarness) (string, error)
	update(ctx context.Context, th TaskHarness, path string) error
}

type redisCorpusIndex struct {
	client *redis.Client
}

func (r *redisCorpusIndex) latest(ctx context.Context, th TaskHarness) (string, error) {
	path, err := r.client.Get(ctx, database.CorpusKey(th.taskID, th.harness)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return path, err
}

func (r *redisCorpusIndex) update(ctx context.Context, th TaskHarness, path string) error {
	return r.client.Set(ctx, database.CorpusKey(th.taskID, th.harness), path, 0).Err()
}

type SeedManager struct {
	rabbitMQ mq.RabbitMQ
	db       *gorm.DB
	logger   *zap.Logger
	seen     seenSet
	corpus   corpusIndex

	seedFolder string
	seedChan   chan types.SeedMessage
	seedChanWg sync.WaitGroup
	done       chan struct{}
}

type SeedManagerParams struct {
	fx.In

	RabbitMQ    mq.RabbitMQ
	DB          *gorm.DB
	RedisClient *redis.Client
	Logger      *zap.Logger
	AppConfig   *config.AppConfig
	Lifecycle   fx.Lifecycle
}

func NewSeedManager(p SeedManagerParams) *SeedManager {
	seedFolder := filepath.Join(p.AppConfig.WorkDir, "seeds")
	if err := os.MkdirAll(seedFolder, 0755); err != nil {
		p.Logger.Fatal("failed to create seed folder", zap.String("seed_folder", seedFolder), zap.Error(err))
		return nil
	}

	logger := p.Logger.Named("seeds")
	s := newSeedManager(logger, seedFolder, &redisSeenSet{p.RedisClient, logger}, &redisCorpusIndex{p.RedisClient})
	s.rabbitMQ = p.RabbitMQ
	s.db = p.DB

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			s.logger.Debug("starting seed manager")
			if err := s.declareCorpusQueue(); err != nil {
				s.logger.Fatal("failed to declare corpus queue", zap.Error(err))
				return err
			}
			go s.start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			s.logger.Debug("stopping seed manager")
			s.stop()
			return nil
		},
	})

	return s
}

func newSeedManager(logger *zap.Logger, seedFolder string, seen seenSet, corpus corpusIndex) *SeedManager {
	return &SeedManager{
		logger:     logger,
		seen:       seen,
		corpus:     corpus,
		seedFolder: seedFolder,
		seedChan:   make(chan types.SeedMessage, batchSize),
		done:       make(chan struct{}),
	}
}

func (s *SeedManager) stop() {
	s.seedChanWg.Wait()
	close(s.seedChan)
	<-s.done
}

func (s *SeedManager) declareCorpusQueue() error {
	channel := s.rabbitMQ.GetChannel()
	if channel == nil {
		return fmt.Errorf("no rabbitmq channel available")
	}
	defer channel.Close()
	_, err := channel.QueueDeclare(
		CorpusQueueName,
		true,
		false,
		false,
		false,
		nil,
	)
	return err
}

// RegisterSeedChan routes a handler's seed channel into the fan-in channel.
func (s *SeedManager) RegisterSeedChan(rCh <-chan types.SeedMessage) {
	s.seedChanWg.Add(1)
	go func() {
		defer s.seedChanWg.Done()
		for seed := range rCh {
			s.seedChan <- seed
		}
	}()
}

// start batches seeds and flushes every batchSize messages or flushInterval.
func (s *SeedManager) start() {
	defer close(s.done)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]types.SeedMessage, 0, batchSize)
	for {
		select {
		case seed, ok := <-s.seedChan:
			if !ok {
				if len(batch) > 0 {
					s.processSeedMessages(batch)
				}
				return
			}
			batch = append(batch, seed)
			if len(batch) >= batchSize {
				s.processSeedMessages(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				s.processSeedMessages(batch)
				batch = batch[:0]
			}
		}
	}
}

func groupByHarness(msgs []types.SeedMessage) map[TaskHarness][]string {
	harnessSeeds := make(map[TaskHarness][]string)
	for _, msg := range msgs {
		if msg.Fuzzlet == nil {
			continue
		}
		th := TaskHarness{msg.Fuzzlet.TaskId, msg.Fuzzlet.Harness}
		harnessSeeds[th] = append(harnessSeeds[th], msg.SeedFile)
	}
	return harnessSeeds
}

func (s *SeedManager) processSeedMessages(msgs []types.SeedMessage) {
	ctx := context.Background()
	wg := sync.WaitGroup{}
	for th, seeds := range groupByHarness(msgs) {
		wg.Add(1)
		go func(th TaskHarness, seeds []string) {
			defer wg.Done()
			logger := s.logger.With(zap.String("task_id", th.taskID), zap.String("harness", th.harness))

			b, err := s.bundleSeeds(ctx, th, seeds)
			if err != nil {
				logger.Error("failed to create seed bundle", zap.Error(err))
				return
			}
			if b.total == 0 {
				logger.Debug("no new seeds in batch", zap.Int("seeds_count", len(seeds)))
				return
			}
			s.publish(ctx, th, b, logger)
		}(th, seeds)
	}
	wg.Wait()
}

type bundle struct {
	path      string
	total     int
	enveloped int
}

// bundleSeeds packs the not yet seen entries into a tar.gz under the seed
// folder. Entries are named by their blake3 digest.
func (s *SeedManager) bundleSeeds(ctx context.Context, th TaskHarness, seeds []string) (bundle, error) {
	tmpDir, err := os.MkdirTemp("", "seed-bundle-*")
	if err != nil {
		return bundle{}, fmt.Errorf("failed to create tmp dir for seed bundle: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	var b bundle
	for _, seed := range seeds {
		data, err := os.ReadFile(seed)
		if err != nil {
			s.logger.Warn("failed to read seed", zap.String("seed", seed), zap.Error(err))
			continue
		}
		digest := blake3.Sum256(data)
		name := hex.EncodeToString(digest[:])
		if !s.seen.markNew(ctx, th, name) {
			continue
		}
		if err := os.WriteFile(filepath.Join(tmpDir, name), data, 0644); err != nil {
			return bundle{}, fmt.Errorf("failed to stage seed: %w", err)
		}
		b.total++
		if _, err := envelope.Decode(data); err == nil {
			b.enveloped++
		}
	}
	if b.total == 0 {
		return b, nil
	}

	b.path = filepath.Join(s.seedFolder, th.harness+"-"+uuid.New().String()+".tar.gz")
	if err := utils.CompressTarGz(tmpDir, b.path); err != nil {
		return bundle{}, err
	}
	s.logger.Debug("seed bundle created",
		zap.String("bundle", b.path),
		zap.Int("total", b.total),
		zap.Int("enveloped", b.enveloped))
	return b, nil
}

// publish announces the bundle on the corpus queue, records it in the
// database and merges it into the harness's cumulative corpus.
func (s *SeedManager) publish(ctx context.Context, th TaskHarness, b bundle, logger *zap.Logger) {
	msg := types.CorpusMessage{
		TaskId:       th.taskID,
		Harness:      th.harness,
		SeedBlobPath: b.path,
		Total:        b.total,
		Enveloped:    b.enveloped,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		logger.Error("failed to marshal corpus message", zap.Error(err))
		return
	}

	if channel := s.rabbitMQ.GetChannel(); channel != nil {
		err := channel.PublishWithContext(ctx,
			"",
			CorpusQueueName,
			false,
			false,
			amqp.Publishing{
				ContentType: "application/json",
				Body:        body,
			},
		)
		channel.Close()
		if err != nil {
			logger.Error("failed to publish corpus message", zap.Error(err))
		}
	}

	hostname, _ := os.Hostname()
	seedEntry := database.NewSeed(th.taskID, b.path, th.harness, database.WasmFuzz, hostname,
		database.Metric{"total": b.total, "enveloped": b.enveloped})
	if err := database.AddSeed(ctx, s.db, seedEntry); err != nil {
		logger.Error("failed to save seed bundle to database", zap.Error(err))
	}

	if _, err := s.mergeCorpus(ctx, th, b); err != nil {
		logger.Error("failed to update corpus pointer", zap.Error(err))
	}
}

// mergeCorpus unpacks the current cumulative corpus and the new bundle into
// one directory, packs it as a fresh bundle and points the index at it.
// Entries are named by digest, so overlapping entries collapse.
func (s *SeedManager) mergeCorpus(ctx context.Context, th TaskHarness, b bundle) (string, error) {
	tmpDir, err := os.MkdirTemp("", "corpus-merge-*")
	if err != nil {
		return "", fmt.Errorf("failed to create tmp dir for corpus merge: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	prev, err := s.corpus.latest(ctx, th)
	if err != nil {
		return "", fmt.Errorf("failed to read corpus pointer: %w", err)
	}
	if prev != "" {
		if err := utils.UnpackTarGz(prev, tmpDir); err != nil {
			// start over from the new entries rather than drop them
			s.logger.Warn("failed to unpack previous corpus", zap.String("corpus", prev), zap.Error(err))
		}
	}
	if err := utils.UnpackTarGz(b.path, tmpDir); err != nil {
		return "", fmt.Errorf("failed to unpack seed bundle: %w", err)
	}

	merged := filepath.Join(s.seedFolder, th.harness+"-corpus-"+uuid.New().String()+".tar.gz")
	if err := utils.CompressTarGz(tmpDir, merged); err != nil {
		return "", err
	}
	if err := s.corpus.update(ctx, th, merged); err != nil {
		os.Remove(merged)
		return "", err
	}
	s.logger.Debug("corpus updated", zap.String("corpus", merged), zap.String("previous", prev))
	return merged, nil
}
