package target

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"b3wasmfuzz/internal/singlemodule"
	"b3wasmfuzz/internal/wasmgen"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/cespare/xxhash/v2"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
)

const (
	CompileHarness      = "compile"
	DifferentialHarness = "differential"
)

// callTimeout bounds one instantiation or export call. Runtimes close the
// module when it expires, so a looping module cannot stall an instance.
const callTimeout = time.Second

// runner owns the runtimes shared by all executions. wazero runtimes are safe
// for concurrent use; every instantiation is anonymous.
type runner struct {
	interp      wazero.Runtime
	native      wazero.Runtime
	callTimeout time.Duration
}

func newRunner(ctx context.Context) *runner {
	return &runner{
		interp:      wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfigInterpreter().WithCloseOnContextDone(true)),
		native:      wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCloseOnContextDone(true)),
		callTimeout: callTimeout,
	}
}

func (r *runner) close(ctx context.Context) error {
	return errors.Join(r.interp.Close(ctx), r.native.Close(ctx))
}

// compile checks that modules the generator vouches for are accepted.
func (r *runner) compile(module []byte, valid singlemodule.KnownValid, _ *wasmgen.Config, _ *fuzz.ConsumeFuzzer) (Outcome, error) {
	ctx := context.Background()
	compiled, err := r.interp.CompileModule(ctx, module)
	if err != nil {
		if valid == singlemodule.KnownValidYes {
			return Outcome{}, fmt.Errorf("%w: %w", ErrValidityViolated, err)
		}
		return Outcome{Fingerprint: xxhash.Sum64String("compile-error")}, nil
	}
	defer compiled.Close(ctx)

	fp := newFingerprint()
	names := sortedExports(compiled)
	for _, name := range names {
		fp.signature(compiled.ExportedFunctions()[name])
	}
	return Outcome{Fingerprint: fp.Sum64(), Exports: len(names)}, nil
}

// differential runs every export under the interpreter and the native
// runtime and compares results and traps.
func (r *runner) differential(module []byte, valid singlemodule.KnownValid, _ *wasmgen.Config, c *fuzz.ConsumeFuzzer) (Outcome, error) {
	ctx := context.Background()

	interpCompiled, interpErr := r.interp.CompileModule(ctx, module)
	nativeCompiled, nativeErr := r.native.CompileModule(ctx, module)
	if interpErr == nil {
		defer interpCompiled.Close(ctx)
	}
	if nativeErr == nil {
		defer nativeCompiled.Close(ctx)
	}
	switch {
	case (interpErr == nil) != (nativeErr == nil):
		return Outcome{}, &DivergenceError{
			Where:  "compile",
			Detail: fmt.Sprintf(": interpreter=%v native=%v", interpErr, nativeErr),
		}
	case interpErr != nil && valid == singlemodule.KnownValidYes:
		return Outcome{}, fmt.Errorf("%w: %w", ErrValidityViolated, interpErr)
	case interpErr != nil:
		return Outcome{Fingerprint: xxhash.Sum64String("compile-error")}, nil
	}

	interpMod, interpErr := r.instantiate(r.interp, interpCompiled)
	nativeMod, nativeErr := r.instantiate(r.native, nativeCompiled)
	if interpErr == nil {
		defer interpMod.Close(ctx)
	}
	if nativeErr == nil {
		defer nativeMod.Close(ctx)
	}
	switch {
	case isTimeout(interpErr) || isTimeout(nativeErr):
		return Outcome{Fingerprint: xxhash.Sum64String("timeout")}, nil
	case (interpErr == nil) != (nativeErr == nil):
		return Outcome{}, &DivergenceError{
			Where:  "instantiate",
			Detail: fmt.Sprintf(": interpreter=%v native=%v", interpErr, nativeErr),
		}
	case interpErr != nil:
		// imports or a trapping start function
		return Outcome{Fingerprint: xxhash.Sum64String("instantiate-error")}, nil
	}

	fp := newFingerprint()
	out := Outcome{}
	for _, name := range sortedExports(interpCompiled) {
		def := interpCompiled.ExportedFunctions()[name]
		params := drawParams(def.ParamTypes(), c)

		want, wantErr := r.call(interpMod.ExportedFunction(name), params)
		got, gotErr := r.call(nativeMod.ExportedFunction(name), params)
		if isTimeout(wantErr) || isTimeout(gotErr) {
			// the module is closed now; later exports cannot run
			fp.Write([]byte("timeout"))
			break
		}
		if (wantErr == nil) != (gotErr == nil) {
			return Outcome{}, &DivergenceError{
				Where:  name,
				Detail: fmt.Sprintf("(%v) interpreter=%v native=%v", params, wantErr, gotErr),
			}
		}
		if wantErr == nil && !equalResults(def.ResultTypes(), want, got) {
			return Outcome{}, &DivergenceError{
				Where:  name,
				Detail: fmt.Sprintf("(%v) interpreter=%v native=%v", params, want, got),
			}
		}

		fp.signature(def)
		trapped := wantErr != nil
		if trapped {
			out.Traps++
		}
		fp.flag(trapped)
		out.Exports++
	}
	out.Fingerprint = fp.Sum64()
	return out, nil
}

func (r *runner) instantiate(rt wazero.Runtime, compiled wazero.CompiledModule) (api.Module, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.callTimeout)
	defer cancel()
	return rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(""))
}

func (r *runner) call(fn api.Function, params []uint64) ([]uint64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.callTimeout)
	defer cancel()
	return fn.Call(ctx, params...)
}

// isTimeout reports whether err is wazero closing a module on deadline.
func isTimeout(err error) bool {
	var exitErr *sys.ExitError
	return errors.As(err, &exitErr) && exitErr.ExitCode() == sys.ExitCodeDeadlineExceeded
}

func sortedExports(compiled wazero.CompiledModule) []string {
	exports := compiled.ExportedFunctions()
	names := make([]string, 0, len(exports))
	for name := range exports {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// drawParams takes arguments from the rest of the seed; missing bytes are 0.
func drawParams(types []api.ValueType, c *fuzz.ConsumeFuzzer) []uint64 {
	params := make([]uint64, len(types))
	for i, t := range types {
		v, err := c.GetUint64()
		if err != nil {
			continue
		}
		switch t {
		case api.ValueTypeI32:
			params[i] = api.EncodeI32(int32(v))
		default:
			params[i] = v
		}
	}
	return params
}

// equalResults compares results by type. Only the low 32 bits of an i32 or
// f32 result are defined; NaNs match regardless of payload.
func equalResults(types []api.ValueType, a, b []uint64) bool {
	if len(a) != len(b) || len(a) != len(types) {
		return false
	}
	for i, t := range types {
		switch t {
		case api.ValueTypeI32:
			if api.DecodeI32(a[i]) != api.DecodeI32(b[i]) {
				return false
			}
		case api.ValueTypeF32:
			x, y := api.DecodeF32(a[i]), api.DecodeF32(b[i])
			if x != y && !(math.IsNaN(float64(x)) && math.IsNaN(float64(y))) {
				return false
			}
		case api.ValueTypeF64:
			x, y := api.DecodeF64(a[i]), api.DecodeF64(b[i])
			if x != y && !(math.IsNaN(x) && math.IsNaN(y)) {
				return false
			}
		default:
			if a[i] != b[i] {
				return false
			}
		}
	}
	return true
}

type fingerprint struct {
	*xxhash.Digest
}

func newFingerprint() fingerprint {
	return fingerprint{xxhash.New()}
}

func (f fingerprint) signature(def api.FunctionDefinition) {
	f.Write(def.ParamTypes())
	f.Write([]byte{'>'})
	f.Write(def.ResultTypes())
	f.Write([]byte{';'})
}

func (f fingerprint) flag(set bool) {
	if set {
		f.Write([]byte{1})
		return
	}
	f.Write([]byte{0})
}
