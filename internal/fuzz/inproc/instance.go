package inproc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"b3wasmfuzz/internal/envelope"
	"b3wasmfuzz/internal/mutator"
	"b3wasmfuzz/internal/singlemodule"
	"b3wasmfuzz/internal/target"
	"b3wasmfuzz/pkg/telemetry"

	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const statsInterval = 10 * time.Second

var errPanic = errors.New("harness panicked")

// sharedState is what the instances of one fuzzlet agree on: the behaviours
// already queued and the findings already saved.
type sharedState struct {
	mu           sync.Mutex
	fingerprints map[uint64]struct{}
	findings     map[string]struct{}
}

func newSharedState() *sharedState {
	return &sharedState{
		fingerprints: make(map[uint64]struct{}),
		findings:     make(map[string]struct{}),
	}
}

// claimFingerprint reports whether fp is new and records it.
func (s *sharedState) claimFingerprint(fp uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.fingerprints[fp]; ok {
		return false
	}
	s.fingerprints[fp] = struct{}{}
	return true
}

// claimFinding reports whether a finding with this key is new and records it.
func (s *sharedState) claimFinding(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.findings[key]; ok {
		return false
	}
	s.findings[key] = struct{}{}
	return true
}

type instanceStats struct {
	startTime     time.Time
	execsDone     int
	savedCrashes  int
	queued        int
	enveloped     int
	uninteresting int
	traps         int
}

// Instance is one fuzzing loop. Its output folder mirrors an AFL++
// instance: crashes/, queue/ and fuzzer_stats.
type Instance struct {
	Name      string
	OutputDir string

	target  target.Target
	corpus  [][]byte
	mutator *mutator.Mutator
	rng     *rand.Rand
	maxSize int
	shared  *sharedState
	stats   instanceStats

	logger *zap.Logger
}

func newInstance(name, outputFolder string, t target.Target, seeds, tokens [][]byte, maxSize int, shared *sharedState, seed int64, logger *zap.Logger) (*Instance, error) {
	inst := &Instance{
		Name:      name,
		OutputDir: filepath.Join(outputFolder, name),
		target:    t,
		corpus:    append([][]byte(nil), seeds...),
		mutator:   mutator.New(seed, tokens),
		rng:       rand.New(rand.NewSource(seed)),
		maxSize:   maxSize,
		shared:    shared,
		logger:    logger.With(zap.String("instance", name)),
	}
	for _, dir := range []string{inst.crashDir(), inst.queueDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}
	return inst, nil
}

func (m *Instance) crashDir() string  { return filepath.Join(m.OutputDir, "crashes") }
func (m *Instance) queueDir() string  { return filepath.Join(m.OutputDir, "queue") }
func (m *Instance) statsPath() string { return filepath.Join(m.OutputDir, "fuzzer_stats") }

// Fuzz runs the loop until timeout elapses or ctx is done, then reports the
// instance statistics on its own span.
func (m *Instance) Fuzz(ctx context.Context, timeout time.Duration) {
	instTracer := telemetry.FromContext(ctx).Spawn("running inproc fuzzer")
	instTracer.Start()
	defer instTracer.End()

	m.fuzz(ctx, timeout)

	data, err := os.ReadFile(m.statsPath())
	if err != nil {
		instTracer.SetStatus(codes.Error, "failed to read fuzzer stats")
		m.logger.Error("failed to read fuzzer stats", zap.Error(err))
		return
	}

	attrs, err := parseFuzzerStats(bytes.NewReader(data), m.logger)
	if err != nil {
		m.logger.Error("failed to parse fuzzer stats", zap.Error(err))
		return
	}
	instTracer.WithAttributes(attrs)
}

func (m *Instance) fuzz(ctx context.Context, timeout time.Duration) {
	fuzzCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	m.stats.startTime = time.Now()
	lastStats := m.stats.startTime
	buf := make([]byte, m.maxSize)

	m.logger.Info("running inproc fuzzer",
		zap.Int("corpus_count", len(m.corpus)),
		zap.Int("max_size", m.maxSize),
		zap.Duration("timeout", timeout))

	for fuzzCtx.Err() == nil {
		m.step(buf)
		if time.Since(lastStats) >= statsInterval {
			m.writeStats()
			lastStats = time.Now()
		}
	}
	m.writeStats()

	m.logger.Info("inproc fuzzer finished",
		zap.Int("execs_done", m.stats.execsDone),
		zap.Int("corpus_count", len(m.corpus)),
		zap.Int("saved_crashes", m.stats.savedCrashes))
}

// step mutates one corpus entry and runs it.
func (m *Instance) step(buf []byte) {
	entry := m.corpus[m.rng.Intn(len(m.corpus))]
	n := copy(buf, entry)
	n = m.target.Mutate(buf, n, m.maxSize, m.mutator.Mutate)
	input := buf[:n]

	outcome, err := m.execute(input)
	m.stats.execsDone++
	switch {
	case err == nil:
		m.stats.traps += outcome.Traps
		if m.shared.claimFingerprint(outcome.Fingerprint) {
			m.queue(input)
		}
	case singlemodule.IsUninteresting(err):
		m.stats.uninteresting++
	default:
		if m.shared.claimFinding(target.FindingKey(err)) {
			m.saveCrash(input, err)
		}
	}
}

// execute runs input and turns a panic in the harness into a finding.
func (m *Instance) execute(input []byte) (outcome target.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errPanic, r)
		}
	}()
	return m.target.Execute(input)
}

func (m *Instance) queue(input []byte) {
	entry := bytes.Clone(input)
	name := fmt.Sprintf("id:%06d", m.stats.queued)
	if err := m.publish(m.queueDir(), name, entry); err != nil {
		m.logger.Error("failed to write queue entry", zap.Error(err))
		return
	}
	m.stats.queued++
	if _, err := envelope.Decode(entry); err == nil {
		m.stats.enveloped++
	}
	m.corpus = append(m.corpus, entry)
}

func (m *Instance) saveCrash(input []byte, finding error) {
	name := fmt.Sprintf("id:%06d", m.stats.savedCrashes)
	if err := m.publish(m.crashDir(), name, input); err != nil {
		m.logger.Error("failed to write crash", zap.Error(err))
		return
	}
	m.stats.savedCrashes++
	m.logger.Warn("found crash",
		zap.String("crash_file", name),
		zap.Int("input_size", len(input)),
		zap.Error(finding))
}

// publish writes data next to the watched folder and renames it in, so
// watchers only ever see complete files.
func (m *Instance) publish(dir, name string, data []byte) error {
	tmp := filepath.Join(m.OutputDir, ".cur_input")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, name))
}

func (m *Instance) writeStats() {
	elapsed := time.Since(m.stats.startTime).Seconds()
	execsPerSec := 0.0
	if elapsed > 0 {
		execsPerSec = float64(m.stats.execsDone) / elapsed
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "start_time        : %d\n", m.stats.startTime.Unix())
	fmt.Fprintf(&b, "last_update       : %d\n", time.Now().Unix())
	fmt.Fprintf(&b, "fuzzer_name       : %s\n", m.Name)
	fmt.Fprintf(&b, "target_harness    : %s\n", m.target.Name())
	fmt.Fprintf(&b, "execs_done        : %d\n", m.stats.execsDone)
	fmt.Fprintf(&b, "execs_per_sec     : %.2f\n", execsPerSec)
	fmt.Fprintf(&b, "corpus_count      : %d\n", len(m.corpus))
	fmt.Fprintf(&b, "queued_paths      : %d\n", m.stats.queued)
	fmt.Fprintf(&b, "queued_enveloped  : %d\n", m.stats.enveloped)
	fmt.Fprintf(&b, "saved_crashes     : %d\n", m.stats.savedCrashes)
	fmt.Fprintf(&b, "uninteresting     : %d\n", m.stats.uninteresting)
	fmt.Fprintf(&b, "traps             : %d\n", m.stats.traps)
	fmt.Fprintf(&b, "max_size          : %d\n", m.maxSize)

	if err := os.WriteFile(m.statsPath(), b.Bytes(), 0644); err != nil {
		m.logger.Error("failed to write fuzzer stats", zap.Error(err))
	}
}
