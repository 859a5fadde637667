// Package target holds the registered fuzz harnesses. Each harness pairs the
// module generator with a run function over the wazero runtime.
package target

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"b3wasmfuzz/internal/singlemodule"
	"b3wasmfuzz/internal/wasmgen"

	"go.uber.org/zap"
)

var (
	ErrUnknownHarness   = errors.New("unknown harness")
	ErrValidityViolated = errors.New("module marked valid failed to compile")
	ErrDivergence       = errors.New("runtimes disagree")
)

// DivergenceError reports where the runtimes disagreed. Where is an export
// name or a phase such as "compile"; Detail carries the arguments and results.
type DivergenceError struct {
	Where  string
	Detail string
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf("%s: %s%s", ErrDivergence, e.Where, e.Detail)
}

func (e *DivergenceError) Unwrap() error { return ErrDivergence }

// FindingKey names the bug behind err. Divergences are keyed by where they
// happened so the same disagreement with other arguments is not reported twice.
func FindingKey(err error) string {
	var div *DivergenceError
	if errors.As(err, &div) {
		return ErrDivergence.Error() + ": " + div.Where
	}
	return err.Error()
}

// Outcome summarises one execution. Fingerprint buckets executions by the
// behaviour they exercised and stands in for coverage.
type Outcome struct {
	Fingerprint uint64
	Exports     int
	Traps       int
}

// Target is a harness with its configuration type erased.
type Target interface {
	Name() string
	Execute(input []byte) (Outcome, error)
	Mutate(data []byte, size, maxSize int, base singlemodule.BaseMutator) int
}

type harnessTarget struct {
	name string
	*singlemodule.Harness[wasmgen.Config, Outcome]
}

func (t *harnessTarget) Name() string {
	return t.name
}

// Registry maps harness names to targets. Targets share the registry's
// wazero runtimes and must not be used after Close.
type Registry struct {
	targets map[string]Target
	runner  *runner
}

func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		targets: make(map[string]Target),
		runner:  newRunner(context.Background()),
	}
	r.register(newTarget(logger, CompileHarness, r.runner.compile))
	r.register(newTarget(logger, DifferentialHarness, r.runner.differential))
	return r
}

func (r *Registry) Close(ctx context.Context) error {
	return r.runner.close(ctx)
}

func newTarget(logger *zap.Logger, name string, run singlemodule.RunFunc[wasmgen.Config, Outcome]) Target {
	h := singlemodule.NewHarness(logger.Named(name), wasmgen.Generate, run)
	return &harnessTarget{name, h}
}

func (r *Registry) register(t Target) {
	r.targets[t.Name()] = t
}

func (r *Registry) Lookup(name string) (Target, error) {
	t, ok := r.targets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownHarness, name)
	}
	return t, nil
}

// Names returns the registered harness names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.targets))
	for name := range r.targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
