// Package entropy supplies raw random values from tiered sources: a
// quantum-noise HTTP provider, an atmospheric-noise HTTP provider, and a
// local CSPRNG that serves as the terminal fallback.
package entropy

import (
	"context"
	"fmt"
)

// MaxRawValue is the largest value a provider may return for a 16-bit draw.
const MaxRawValue = 65535

// Provenance identifies which entropy source produced a value.
type Provenance int

const (
	ProvenanceUnspecified Provenance = iota
	ProvenanceQuantum
	ProvenanceAtmospheric
	ProvenanceCSPRNG
)

func (p Provenance) String() string {
	switch p {
	case ProvenanceQuantum:
		return "quantum"
	case ProvenanceAtmospheric:
		return "atmospheric"
	case ProvenanceCSPRNG:
		return "csprng"
	default:
		return "unspecified"
	}
}

// ParseProvenance converts a stored provenance label back to its enum value.
func ParseProvenance(value string) (Provenance, error) {
	switch value {
	case "quantum":
		return ProvenanceQuantum, nil
	case "atmospheric":
		return ProvenanceAtmospheric, nil
	case "csprng":
		return ProvenanceCSPRNG, nil
	default:
		return ProvenanceUnspecified, fmt.Errorf("unknown provenance %q", value)
	}
}

// Source supplies raw 16-bit random values.
//
// Fetch failures from external providers are recoverable by contract: the
// caller abandons the tier and moves to the next one. No Source mutates
// shared state.
type Source interface {
	Fetch(ctx context.Context, count int) ([]uint16, error)
	Provenance() Provenance
}
