// Package chain implements a deterministic hash-chain generator that expands
// a fixed seed and a monotonic counter into an unbounded pseudo-random byte
// stream. Persisting (seed, counter) after a draw allows exact resumption:
// re-deriving any block for a given pair is idempotent, and no block index is
// ever revisited within a session.
package chain

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// SeedSize is the fixed seed length in bytes.
const SeedSize = 32

// BlockSize is the output size of one hash block.
const BlockSize = sha256.Size

const seedInfoLabel = "entropyd chain seed v1"

// Generator expands a seed into hash blocks, one per counter value.
type Generator struct {
	seed    [SeedSize]byte
	counter uint64
}

// New creates a generator from a persisted (seed, counter) pair.
func New(seed []byte, counter uint64) (*Generator, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", SeedSize, len(seed))
	}
	g := &Generator{counter: counter}
	copy(g.seed[:], seed)
	return g, nil
}

// Counter reports the next block index; persist it alongside the seed to
// resume the stream without replaying consumed output.
func (g *Generator) Counter() uint64 {
	return g.counter
}

// Seed returns a copy of the generator seed.
func (g *Generator) Seed() []byte {
	seed := make([]byte, SeedSize)
	copy(seed, g.seed[:])
	return seed
}

// Block derives the next output block as Hash(seed || big-endian counter)
// and advances the counter. The counter advances by one per block regardless
// of how many of the block's bytes the caller consumes.
func (g *Generator) Block() [BlockSize]byte {
	var input [SeedSize + 8]byte
	copy(input[:SeedSize], g.seed[:])
	binary.BigEndian.PutUint64(input[SeedSize:], g.counter)
	g.counter++
	return sha256.Sum256(input[:])
}

// Uint32s derives count 32-bit values, generating as many blocks as needed
// and slicing each into big-endian 4-byte words.
func (g *Generator) Uint32s(count int) []uint32 {
	values := make([]uint32, 0, count)
	for len(values) < count {
		block := g.Block()
		for offset := 0; offset+4 <= BlockSize && len(values) < count; offset += 4 {
			values = append(values, binary.BigEndian.Uint32(block[offset:]))
		}
	}
	return values
}

// Draw maps count stream values into [min, max] via modulo reduction.
// The mapping is deliberately biased for ranges that do not evenly divide
// 2^32; the bias is accepted for this domain. Callers validate the range.
func (g *Generator) Draw(min, max, count int) []int {
	rangeSize := uint64(max) - uint64(min) + 1
	raw := g.Uint32s(count)
	numbers := make([]int, count)
	for i, v := range raw {
		numbers[i] = min + int(uint64(v)%rangeSize)
	}
	return numbers
}

// DeriveSeed stretches raw provider values into a fixed-size seed with
// HKDF-SHA256 so short or oddly sized provider batches still yield a full
// strength seed.
func DeriveSeed(raw []uint16) ([]byte, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("seed material is required")
	}
	secret := make([]byte, 2*len(raw))
	for i, v := range raw {
		binary.BigEndian.PutUint16(secret[2*i:], v)
	}
	reader := hkdf.New(sha256.New, secret, nil, []byte(seedInfoLabel))
	seed := make([]byte, SeedSize)
	if _, err := io.ReadFull(reader, seed); err != nil {
		return nil, fmt.Errorf("derive chain seed: %w", err)
	}
	return seed, nil
}

// SeedMaterialCount is how many raw provider values feed seed derivation.
const SeedMaterialCount = SeedSize / 2
