// Package mutator is the byte level mutator handed to the harness mutate
// step. It never looks inside the seed.
package mutator

import (
	"math/rand"
)

const maxSteps = 8

// Mutator is not safe for concurrent use; every fuzzing instance owns one.
type Mutator struct {
	rng    *rand.Rand
	tokens [][]byte
}

func New(seed int64, tokens [][]byte) *Mutator {
	return &Mutator{
		rng:    rand.New(rand.NewSource(seed)),
		tokens: tokens,
	}
}

// Mutate edits data[:size] in place and returns the new size, which never
// exceeds maxSize or len(data).
func (m *Mutator) Mutate(data []byte, size, maxSize int) int {
	maxSize = min(maxSize, len(data))
	size = min(size, maxSize)
	if maxSize == 0 {
		return 0
	}

	steps := 1 + m.rng.Intn(maxSteps)
	for range steps {
		if size == 0 {
			data[0] = byte(m.rng.Intn(256))
			size = 1
		}

		switch m.rng.Intn(8) {
		case 0: // flip one bit
			data[m.rng.Intn(size)] ^= 1 << m.rng.Intn(8)

		case 1: // overwrite a short range with random bytes
			off := m.rng.Intn(size)
			end := min(off+1+m.rng.Intn(8), size)
			m.rng.Read(data[off:end])

		case 2: // add or subtract a small value
			off := m.rng.Intn(size)
			data[off] += byte(m.rng.Intn(35) - 17)

		case 3: // truncate
			size = m.rng.Intn(size + 1)

		case 4: // insert random bytes
			n := min(1+m.rng.Intn(16), maxSize-size)
			if n == 0 {
				continue
			}
			off := m.rng.Intn(size + 1)
			size = insert(data, size, off, n)
			m.rng.Read(data[off : off+n])

		case 5: // duplicate a range to another position
			from := m.rng.Intn(size)
			n := min(1+m.rng.Intn(32), size-from, maxSize-size)
			if n == 0 {
				continue
			}
			to := m.rng.Intn(size + 1)
			chunk := append([]byte(nil), data[from:from+n]...)
			size = insert(data, size, to, n)
			copy(data[to:], chunk)

		case 6: // insert a dictionary token
			tok := m.token()
			if tok == nil || len(tok) > maxSize-size {
				continue
			}
			off := m.rng.Intn(size + 1)
			size = insert(data, size, off, len(tok))
			copy(data[off:], tok)

		default: // overwrite with a dictionary token
			tok := m.token()
			if tok == nil || len(tok) > size {
				continue
			}
			copy(data[m.rng.Intn(size-len(tok)+1):], tok)
		}
	}
	return size
}

func (m *Mutator) token() []byte {
	if len(m.tokens) == 0 {
		return nil
	}
	return m.tokens[m.rng.Intn(len(m.tokens))]
}

// insert opens a gap of n bytes at off and returns the grown size. The caller
// checks capacity.
func insert(data []byte, size, off, n int) int {
	copy(data[off+n:size+n], data[off:size])
	return size + n
}
