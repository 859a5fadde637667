// Package wasmgen generates small valid core wasm modules from fuzzer bytes.
package wasmgen

import (
	"errors"
	"fmt"

	"b3wasmfuzz/internal/singlemodule"
	"b3wasmfuzz/internal/wasm"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
)

const (
	funcLimit   = 16
	paramLimit  = 4
	opsLimit    = 32
	memoryPages = 3
)

var ErrInvalidConfig = errors.New("invalid generator config")

// Config shapes the generated module. It is decoded from the head of the seed.
type Config struct {
	MaxFuncs    uint8
	MaxParams   uint8
	MaxBodyOps  uint8
	AllowMemory bool
	AllowTraps  bool
}

func DefaultConfig() Config {
	return Config{
		MaxFuncs:    4,
		MaxParams:   2,
		MaxBodyOps:  8,
		AllowMemory: true,
		AllowTraps:  true,
	}
}

func (c *Config) validate() error {
	if c.MaxFuncs == 0 {
		return fmt.Errorf("%w: at least one function is required", ErrInvalidConfig)
	}
	if c.MaxBodyOps == 0 {
		return fmt.Errorf("%w: function bodies need at least one op", ErrInvalidConfig)
	}
	return nil
}

func (c *Config) funcs() int  { return min(int(c.MaxFuncs), funcLimit) }
func (c *Config) params() int { return min(int(c.MaxParams), paramLimit) }
func (c *Config) ops() int    { return min(int(c.MaxBodyOps), opsLimit) }

// Generate builds a module from cfg and the remaining bytes of c. Running out
// of bytes picks the smallest choice, so every seed yields a module.
func Generate(cfg *Config, c *fuzz.ConsumeFuzzer) ([]byte, singlemodule.KnownValid, error) {
	if err := cfg.validate(); err != nil {
		return nil, singlemodule.KnownValidNo, err
	}
	u := unstructured{c}

	nfuncs := 1 + u.intn(cfg.funcs())
	sigs := make([]signature, nfuncs)
	for i := range sigs {
		sigs[i] = u.signature(cfg.params())
	}

	m := moduleBuilder{sigs: sigs}
	if cfg.AllowMemory && u.nextBool() {
		m.memoryPages = 1 + u.intn(memoryPages)
		m.hasMemory = true
	}
	for i := range sigs {
		b := bodyBuilder{u: u, sig: sigs[i], budget: cfg.ops(), traps: cfg.AllowTraps}
		m.bodies = append(m.bodies, b.build())
	}
	return m.bytes(), singlemodule.KnownValidYes, nil
}

type signature struct {
	params []byte
	result byte
}

// unstructured hands out choices from the seed, defaulting to zero once the
// seed is exhausted.
type unstructured struct {
	c *fuzz.ConsumeFuzzer
}

func (u unstructured) nextByte() byte {
	b, err := u.c.GetByte()
	if err != nil {
		return 0
	}
	return b
}

func (u unstructured) nextBool() bool {
	return u.nextByte()&1 == 1
}

func (u unstructured) intn(n int) int {
	if n <= 1 {
		return 0
	}
	return int(u.nextByte()) % n
}

func (u unstructured) i32() int32 {
	v, err := u.c.GetUint32()
	if err != nil {
		return 0
	}
	return int32(v)
}

func (u unstructured) i64() int64 {
	v, err := u.c.GetUint64()
	if err != nil {
		return 0
	}
	return int64(v)
}

func (u unstructured) valueType() byte {
	if u.nextBool() {
		return wasm.ValueI64
	}
	return wasm.ValueI32
}

func (u unstructured) signature(maxParams int) signature {
	sig := signature{params: make([]byte, u.intn(maxParams+1))}
	for i := range sig.params {
		sig.params[i] = u.valueType()
	}
	sig.result = u.valueType()
	return sig
}

type moduleBuilder struct {
	sigs        []signature
	bodies      [][]byte
	hasMemory   bool
	memoryPages int
}

func (m *moduleBuilder) bytes() []byte {
	out := wasm.AppendHeader(nil)

	types := wasm.AppendU32(nil, uint32(len(m.sigs)))
	for _, sig := range m.sigs {
		types = append(types, wasm.FuncType)
		types = wasm.AppendU32(types, uint32(len(sig.params)))
		types = append(types, sig.params...)
		types = append(types, 0x01, sig.result)
	}
	out = wasm.AppendSection(out, wasm.SectionType, types)

	funcs := wasm.AppendU32(nil, uint32(len(m.sigs)))
	for i := range m.sigs {
		funcs = wasm.AppendU32(funcs, uint32(i))
	}
	out = wasm.AppendSection(out, wasm.SectionFunction, funcs)

	if m.hasMemory {
		mem := []byte{0x01, 0x00}
		mem = wasm.AppendU32(mem, uint32(m.memoryPages))
		out = wasm.AppendSection(out, wasm.SectionMemory, mem)
	}

	nexports := len(m.sigs)
	if m.hasMemory {
		nexports++
	}
	exports := wasm.AppendU32(nil, uint32(nexports))
	for i := range m.sigs {
		exports = wasm.AppendName(exports, fmt.Sprintf("f%d", i))
		exports = append(exports, wasm.ExportFunc)
		exports = wasm.AppendU32(exports, uint32(i))
	}
	if m.hasMemory {
		exports = wasm.AppendName(exports, "memory")
		exports = append(exports, wasm.ExportMemory, 0x00)
	}
	out = wasm.AppendSection(out, wasm.SectionExport, exports)

	code := wasm.AppendU32(nil, uint32(len(m.bodies)))
	for _, body := range m.bodies {
		code = wasm.AppendU32(code, uint32(len(body)))
		code = append(code, body...)
	}
	return wasm.AppendSection(out, wasm.SectionCode, code)
}

type bodyBuilder struct {
	u      unstructured
	sig    signature
	budget int
	traps  bool
	out    []byte
}

func (b *bodyBuilder) build() []byte {
	b.out = append(b.out, 0x00) // no locals
	b.expr(b.sig.result)
	return append(b.out, wasm.OpEnd)
}

// expr emits code leaving exactly one value of type t on the stack.
func (b *bodyBuilder) expr(t byte) {
	if b.budget <= 0 {
		b.leaf(t)
		return
	}
	b.budget--

	switch b.u.intn(4) {
	case 0:
		b.leaf(t)
	case 1:
		b.expr(t)
		b.expr(t)
		b.binop(t)
	case 2:
		b.convert(t)
	default:
		// a discarded side expression keeps both value types in play
		b.expr(b.u.valueType())
		b.out = append(b.out, wasm.OpDrop)
		b.expr(t)
	}
}

func (b *bodyBuilder) leaf(t byte) {
	var locals []int
	for i, p := range b.sig.params {
		if p == t {
			locals = append(locals, i)
		}
	}
	if len(locals) > 0 && b.u.nextBool() {
		b.out = append(b.out, wasm.OpLocalGet)
		b.out = wasm.AppendU32(b.out, uint32(locals[b.u.intn(len(locals))]))
		return
	}
	if t == wasm.ValueI64 {
		b.out = append(b.out, wasm.OpI64Const)
		b.out = wasm.AppendI64(b.out, b.u.i64())
		return
	}
	b.out = append(b.out, wasm.OpI32Const)
	b.out = wasm.AppendI32(b.out, b.u.i32())
}

var (
	i32Ops     = []byte{wasm.OpI32Add, wasm.OpI32Sub, wasm.OpI32Mul, wasm.OpI32And, wasm.OpI32Or, wasm.OpI32Xor, wasm.OpI32Shl, wasm.OpI32ShrU, wasm.OpI32Rotl}
	i32TrapOps = []byte{wasm.OpI32DivS, wasm.OpI32DivU, wasm.OpI32RemU}
	i64Ops     = []byte{wasm.OpI64Add, wasm.OpI64Sub, wasm.OpI64Mul, wasm.OpI64And, wasm.OpI64Xor}
	i64TrapOps = []byte{wasm.OpI64DivU}
)

func (b *bodyBuilder) binop(t byte) {
	ops, trapOps := i32Ops, i32TrapOps
	if t == wasm.ValueI64 {
		ops, trapOps = i64Ops, i64TrapOps
	}
	if b.traps && b.u.intn(4) == 0 {
		ops = trapOps
	}
	b.out = append(b.out, ops[b.u.intn(len(ops))])
}

func (b *bodyBuilder) convert(t byte) {
	if t == wasm.ValueI64 {
		b.expr(wasm.ValueI32)
		b.out = append(b.out, wasm.OpI64ExtendU)
		return
	}
	if b.u.nextBool() {
		b.expr(wasm.ValueI32)
		b.out = append(b.out, wasm.OpI32Eqz)
		return
	}
	b.expr(wasm.ValueI64)
	b.out = append(b.out, wasm.OpI32WrapI64)
}
