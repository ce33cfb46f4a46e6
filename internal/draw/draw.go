// Package draw synthesizes bounded integers from tiered entropy and
// orchestrates the fallback chain that guarantees a result even when every
// external provider is down.
package draw

import (
	"fmt"
	"strconv"

	"github.com/entropyd/entropyd/internal/entropy"
	apperrors "github.com/entropyd/entropyd/internal/platform/errors"
)

// MaxCount bounds how many numbers a single request may ask for.
const MaxCount = 100

// maxRangeSize keeps a single draw within a 32-bit unsigned domain.
const maxRangeSize = uint64(1) << 32

// Request describes one draw.
type Request struct {
	Min    int
	Max    int
	Count  int
	Unique bool
}

// RangeSize is the number of distinct values in [Min, Max].
func (r Request) RangeSize() uint64 {
	return uint64(r.Max) - uint64(r.Min) + 1
}

// Validate checks the request contract. Violations are contract errors:
// rejected immediately, never retried, and never a fallback condition.
func (r Request) Validate() error {
	if r.Min >= r.Max {
		return apperrors.WithMetadata(apperrors.CodeDrawInvalidRange,
			"min must be less than max",
			map[string]string{"min": strconv.Itoa(r.Min), "max": strconv.Itoa(r.Max)})
	}
	if r.RangeSize() > maxRangeSize {
		return apperrors.New(apperrors.CodeDrawRangeTooWide,
			"range must fit in a 32-bit unsigned integer")
	}
	if r.Count < 1 || r.Count > MaxCount {
		return apperrors.WithMetadata(apperrors.CodeDrawInvalidCount,
			fmt.Sprintf("count must be between 1 and %d", MaxCount),
			map[string]string{"count": strconv.Itoa(r.Count)})
	}
	if r.Unique && uint64(r.Count) > r.RangeSize() {
		return apperrors.New(apperrors.CodeDrawUniqueOverflow,
			"unique count exceeds the number of distinct values in range")
	}
	return nil
}

// Result carries the drawn numbers and the provenance of the raw entropy
// that produced them. The provenance reflects the tier the raw entropy came
// from even when CSPRNG top-up draws filled a uniqueness shortfall.
type Result struct {
	Numbers    []int
	Provenance entropy.Provenance
}
