package wasm

// Value types and opcodes used by the generator.
const (
	ValueI32 byte = 0x7f
	ValueI64 byte = 0x7e

	FuncType   byte = 0x60
	BlockEmpty byte = 0x40

	ExportFunc   byte = 0x00
	ExportMemory byte = 0x02

	OpUnreachable byte = 0x00
	OpLoop        byte = 0x03
	OpEnd         byte = 0x0b
	OpBr          byte = 0x0c
	OpDrop        byte = 0x1a
	OpLocalGet    byte = 0x20
	OpI32Const    byte = 0x41
	OpI64Const    byte = 0x42
	OpI32Eqz      byte = 0x45
	OpI32Add      byte = 0x6a
	OpI32Sub      byte = 0x6b
	OpI32Mul      byte = 0x6c
	OpI32DivS     byte = 0x6d
	OpI32DivU     byte = 0x6e
	OpI32RemU     byte = 0x70
	OpI32And      byte = 0x71
	OpI32Or       byte = 0x72
	OpI32Xor      byte = 0x73
	OpI32Shl      byte = 0x74
	OpI32ShrU     byte = 0x76
	OpI32Rotl     byte = 0x77
	OpI64Add      byte = 0x7c
	OpI64Sub      byte = 0x7d
	OpI64Mul      byte = 0x7e
	OpI64DivU     byte = 0x80
	OpI64And      byte = 0x83
	OpI64Xor      byte = 0x85
	OpI32WrapI64  byte = 0xa7
	OpI64ExtendU  byte = 0xad
)

// AppendHeader appends the core module preamble.
func AppendHeader(dst []byte) []byte {
	dst = append(dst, Magic...)
	return append(dst, ModuleVersion...)
}

// AppendU32 appends v as unsigned LEB128.
func AppendU32(dst []byte, v uint32) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(dst, c)
		}
		dst = append(dst, c|0x80)
	}
}

// AppendI32 appends v as signed LEB128.
func AppendI32(dst []byte, v int32) []byte {
	return AppendI64(dst, int64(v))
}

// AppendI64 appends v as signed LEB128.
func AppendI64(dst []byte, v int64) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && c&0x40 == 0) || (v == -1 && c&0x40 != 0) {
			return append(dst, c)
		}
		dst = append(dst, c|0x80)
	}
}

func AppendName(dst []byte, name string) []byte {
	dst = AppendU32(dst, uint32(len(name)))
	return append(dst, name...)
}

// AppendSection frames payload as a section with the given id.
func AppendSection(dst []byte, id byte, payload []byte) []byte {
	dst = append(dst, id)
	dst = AppendU32(dst, uint32(len(payload)))
	return append(dst, payload...)
}

// AppendCustomSection appends a custom section carrying name and data.
func AppendCustomSection(dst []byte, name string, data []byte) []byte {
	nameLen := uint32(len(name))
	size := uint32(sizeU32(nameLen)+len(name)) + uint32(len(data))

	dst = append(dst, SectionCustom)
	dst = AppendU32(dst, size)
	dst = AppendName(dst, name)
	return append(dst, data...)
}

// CustomSectionSize is the number of bytes AppendCustomSection adds.
func CustomSectionSize(name string, dataLen int) int {
	payload := sizeU32(uint32(len(name))) + len(name) + dataLen
	return 1 + sizeU32(uint32(payload)) + payload
}

func sizeU32(v uint32) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}
