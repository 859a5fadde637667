package wasm

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, data []byte) ([]Section, error) {
	t.Helper()
	r, err := NewReader(data)
	if err != nil {
		return nil, err
	}
	var sections []Section
	for {
		sec, err := r.Next()
		if err == io.EOF {
			return sections, nil
		}
		if err != nil {
			return sections, err
		}
		sections = append(sections, sec)
	}
}

func TestReaderEmptyModule(t *testing.T) {
	sections, err := readAll(t, AppendHeader(nil))
	require.NoError(t, err)
	assert.Empty(t, sections)
}

func TestReaderComponentHeader(t *testing.T) {
	data := append(append([]byte{}, Magic...), ComponentVersion...)
	r, err := NewReader(data)
	require.NoError(t, err)
	assert.True(t, r.IsComponent())
}

func TestReaderOffsets(t *testing.T) {
	data := AppendHeader(nil)
	data = AppendSection(data, SectionType, []byte{0x01, FuncType, 0x00, 0x00})
	data = AppendCustomSection(data, "meta", []byte("hello"))
	data = AppendSection(data, SectionFunction, []byte{0x01, 0x00})

	sections, err := readAll(t, data)
	require.NoError(t, err)
	require.Len(t, sections, 3)

	assert.Equal(t, SectionType, sections[0].ID)
	assert.Equal(t, HeaderSize, sections[0].Start)
	assert.Equal(t, HeaderSize+2+4, sections[0].End)

	assert.True(t, sections[1].IsCustom())
	assert.Equal(t, "meta", sections[1].Name)
	assert.Equal(t, []byte("hello"), sections[1].Data)
	assert.Equal(t, sections[0].End, sections[1].Start)

	assert.Equal(t, len(data), sections[2].End)
}

func TestReaderRejects(t *testing.T) {
	header := AppendHeader(nil)
	tests := []struct {
		name string
		data []byte
	}{
		{"short", []byte{0x00, 0x61, 0x73}},
		{"bad magic", []byte{0x00, 0x61, 0x73, 0x6e, 0x01, 0x00, 0x00, 0x00}},
		{"bad version", []byte{0x00, 0x61, 0x73, 0x6d, 0x02, 0x00, 0x00, 0x00}},
		{"unknown id", append(append([]byte{}, header...), 0x20, 0x00)},
		{"truncated size", append(append([]byte{}, header...), SectionType, 0x80)},
		{"truncated payload", append(append([]byte{}, header...), SectionType, 0x05, 0x01)},
		{"overlong size", append(append([]byte{}, header...), SectionType, 0x80, 0x80, 0x80, 0x80, 0x80, 0x00)},
		{"name past payload", append(append([]byte{}, header...), SectionCustom, 0x02, 0x09, 'a')},
		{"invalid utf-8 name", append(append([]byte{}, header...), SectionCustom, 0x02, 0x01, 0xff)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := readAll(t, tt.data)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestU32RoundTrip(t *testing.T) {
	for _, v := range []uint32{0, 1, 0x7f, 0x80, 0x3fff, 0x4000, 1 << 28, 0xffffffff} {
		enc := AppendU32(nil, v)
		assert.Len(t, enc, sizeU32(v))
		got, n, err := ReadU32(enc)
		require.NoError(t, err)
		assert.Equal(t, v, got)
		assert.Equal(t, len(enc), n)
	}
}

func TestReadU32Overflow(t *testing.T) {
	_, _, err := ReadU32([]byte{0xff, 0xff, 0xff, 0xff, 0x1f})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestAppendI64(t *testing.T) {
	tests := []struct {
		v    int64
		want []byte
	}{
		{0, []byte{0x00}},
		{2, []byte{0x02}},
		{-1, []byte{0x7f}},
		{63, []byte{0x3f}},
		{64, []byte{0xc0, 0x00}},
		{-64, []byte{0x40}},
		{-65, []byte{0xbf, 0x7f}},
		{624485, []byte{0xe5, 0x8e, 0x26}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AppendI64(nil, tt.v), "value %d", tt.v)
	}
}

func TestCustomSectionSize(t *testing.T) {
	for _, n := range []int{0, 1, 100, 127, 128, 20000} {
		got := AppendCustomSection(nil, "some-name", make([]byte, n))
		assert.Equal(t, len(got), CustomSectionSize("some-name", n), "data length %d", n)
	}
}
