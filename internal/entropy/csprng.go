package entropy

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
)

// CSPRNGSource draws from the local cryptographically secure generator.
// It is the terminal tier of the fallback chain: a Read failure is still
// reported, but crypto/rand does not fail on supported platforms.
type CSPRNGSource struct{}

// NewCSPRNGSource creates the local CSPRNG source.
func NewCSPRNGSource() *CSPRNGSource {
	return &CSPRNGSource{}
}

// Provenance identifies values from this source as locally generated.
func (s *CSPRNGSource) Provenance() Provenance {
	return ProvenanceCSPRNG
}

// Fetch draws count raw 16-bit values from crypto/rand.
func (s *CSPRNGSource) Fetch(_ context.Context, count int) ([]uint16, error) {
	if count <= 0 {
		return nil, fmt.Errorf("csprng fetch count must be positive, got %d", count)
	}
	buf := make([]byte, 2*count)
	if _, err := crand.Read(buf); err != nil {
		return nil, fmt.Errorf("read csprng: %w", err)
	}
	values := make([]uint16, count)
	for i := range values {
		values[i] = binary.BigEndian.Uint16(buf[2*i:])
	}
	return values, nil
}

// Uint32s draws count raw 32-bit values from crypto/rand. The direct-draw
// tier uses the wider width so ranges beyond 16 bits stay reachable.
func Uint32s(count int) ([]uint32, error) {
	if count <= 0 {
		return nil, fmt.Errorf("csprng uint32 count must be positive, got %d", count)
	}
	buf := make([]byte, 4*count)
	if _, err := crand.Read(buf); err != nil {
		return nil, fmt.Errorf("read csprng: %w", err)
	}
	values := make([]uint32, count)
	for i := range values {
		values[i] = binary.BigEndian.Uint32(buf[4*i:])
	}
	return values, nil
}
