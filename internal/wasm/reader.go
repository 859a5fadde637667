package wasm

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

const (
	HeaderSize = 8

	maxU32Bytes = 5 // ceil(32 / 7)
)

// section ids of a core module
const (
	SectionCustom byte = iota
	SectionType
	SectionImport
	SectionFunction
	SectionTable
	SectionMemory
	SectionGlobal
	SectionExport
	SectionStart
	SectionElement
	SectionCode
	SectionData
	SectionDataCount
	SectionTag
)

// highest section id of a component
const maxComponentSection = 11

var (
	Magic            = []byte{0x00, 0x61, 0x73, 0x6d}
	ModuleVersion    = []byte{0x01, 0x00, 0x00, 0x00}
	ComponentVersion = []byte{0x0d, 0x00, 0x01, 0x00}
)

var ErrMalformed = errors.New("malformed wasm binary")

// Section is one framed section. Start is the offset of the id byte, End the
// offset just past the payload. All slices alias the reader's input.
type Section struct {
	ID      byte
	Start   int
	End     int
	Payload []byte

	// set for custom sections only
	Name string
	Data []byte
}

func (s Section) IsCustom() bool {
	return s.ID == SectionCustom
}

// Reader walks the sections of a module or component without copying.
type Reader struct {
	data      []byte
	pos       int
	component bool
}

func NewReader(data []byte) (*Reader, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrMalformed, len(data))
	}
	if !bytes.Equal(data[:4], Magic) {
		return nil, fmt.Errorf("%w: bad magic %x", ErrMalformed, data[:4])
	}
	r := &Reader{data: data, pos: HeaderSize}
	switch version := data[4:8]; {
	case bytes.Equal(version, ModuleVersion):
	case bytes.Equal(version, ComponentVersion):
		r.component = true
	default:
		return nil, fmt.Errorf("%w: unsupported version %x", ErrMalformed, version)
	}
	return r, nil
}

func (r *Reader) IsComponent() bool {
	return r.component
}

// Offset is the end of the last section returned by Next.
func (r *Reader) Offset() int {
	return r.pos
}

// Next returns the next section, or io.EOF once the input is exhausted.
func (r *Reader) Next() (Section, error) {
	if r.pos == len(r.data) {
		return Section{}, io.EOF
	}
	start := r.pos
	id := r.data[r.pos]
	if !r.knownID(id) {
		return Section{}, fmt.Errorf("%w: unknown section id %d at offset %d", ErrMalformed, id, start)
	}

	size, n, err := ReadU32(r.data[start+1:])
	if err != nil {
		return Section{}, fmt.Errorf("%w: section size at offset %d", err, start+1)
	}
	payloadStart := start + 1 + n
	if uint64(size) > uint64(len(r.data)-payloadStart) {
		return Section{}, fmt.Errorf("%w: section at offset %d claims %d bytes, %d remain",
			ErrMalformed, start, size, len(r.data)-payloadStart)
	}
	end := payloadStart + int(size)

	sec := Section{
		ID:      id,
		Start:   start,
		End:     end,
		Payload: r.data[payloadStart:end:end],
	}
	if id == SectionCustom {
		name, data, err := splitCustom(sec.Payload)
		if err != nil {
			return Section{}, fmt.Errorf("%w: custom section at offset %d", err, start)
		}
		sec.Name = name
		sec.Data = data
	}

	r.pos = end
	return sec, nil
}

func (r *Reader) knownID(id byte) bool {
	if r.component {
		return id <= maxComponentSection
	}
	return id <= SectionTag
}

func splitCustom(payload []byte) (string, []byte, error) {
	nameLen, n, err := ReadU32(payload)
	if err != nil {
		return "", nil, err
	}
	if uint64(nameLen) > uint64(len(payload)-n) {
		return "", nil, fmt.Errorf("%w: name length %d exceeds payload", ErrMalformed, nameLen)
	}
	name := payload[n : n+int(nameLen)]
	if !utf8.Valid(name) {
		return "", nil, fmt.Errorf("%w: custom section name is not utf-8", ErrMalformed)
	}
	return string(name), payload[n+int(nameLen):], nil
}

// ReadU32 decodes an unsigned LEB128 u32 and returns it with the number of
// bytes consumed.
func ReadU32(b []byte) (uint32, int, error) {
	var result uint32
	for i := 0; i < maxU32Bytes; i++ {
		if i >= len(b) {
			return 0, 0, fmt.Errorf("%w: truncated leb128", ErrMalformed)
		}
		c := b[i]
		if i == maxU32Bytes-1 && c&0xf0 != 0 {
			return 0, 0, fmt.Errorf("%w: leb128 overflows u32", ErrMalformed)
		}
		result |= uint32(c&0x7f) << (7 * i)
		if c&0x80 == 0 {
			return result, i + 1, nil
		}
	}
	return 0, 0, fmt.Errorf("%w: leb128 longer than %d bytes", ErrMalformed, maxU32Bytes)
}
