package draw

import (
	"fmt"

	"github.com/entropyd/entropyd/internal/entropy"
)

// overFetchFactor is the uniqueness-mode heuristic: drawing three times the
// requested count bounds expected retries under low duplication rates. It is
// not a correctness requirement; correctness comes from the unconditional
// CSPRNG top-up below.
const overFetchFactor = 3

// uniqueFetchCount is how many raw values uniqueness mode draws up front
// from the active tier.
func uniqueFetchCount(req Request) int {
	fetch := req.Count * overFetchFactor
	if size := req.RangeSize(); uint64(fetch) > size {
		fetch = int(size)
	}
	return fetch
}

// dedupe keeps the first count distinct candidates in first-seen order.
func dedupe(candidates []int, count int) []int {
	seen := make(map[int]struct{}, count)
	numbers := make([]int, 0, count)
	for _, n := range candidates {
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		numbers = append(numbers, n)
		if len(numbers) == count {
			break
		}
	}
	return numbers
}

// topUpUnique fills numbers to count distinct members with direct CSPRNG
// draws reduced modulo the range. It always terminates: CSPRNG draws are
// independent of whatever source was exhausted, and the validated request
// guarantees the range holds at least count distinct values.
func topUpUnique(numbers []int, req Request) ([]int, error) {
	seen := make(map[int]struct{}, req.Count)
	for _, n := range numbers {
		seen[n] = struct{}{}
	}
	rangeSize := req.RangeSize()
	for len(numbers) < req.Count {
		raw, err := entropy.Uint32s(req.Count - len(numbers))
		if err != nil {
			return nil, fmt.Errorf("csprng top-up: %w", err)
		}
		for _, v := range raw {
			n := req.Min + int(uint64(v)%rangeSize)
			if _, dup := seen[n]; dup {
				continue
			}
			seen[n] = struct{}{}
			numbers = append(numbers, n)
			if len(numbers) == req.Count {
				break
			}
		}
	}
	return numbers, nil
}

// synthesizeUnique reduces over-fetched candidates to exactly count distinct
// numbers, topping up from the CSPRNG when the source fell short.
func synthesizeUnique(candidates []int, req Request) ([]int, error) {
	return topUpUnique(dedupe(candidates, req.Count), req)
}

// directDraw is the terminal fallback tier: count values straight from the
// local CSPRNG, reduced modulo the range. It cannot fail in practice.
func directDraw(req Request, count int) ([]int, error) {
	raw, err := entropy.Uint32s(count)
	if err != nil {
		return nil, fmt.Errorf("csprng draw: %w", err)
	}
	rangeSize := req.RangeSize()
	numbers := make([]int, count)
	for i, v := range raw {
		numbers[i] = req.Min + int(uint64(v)%rangeSize)
	}
	return numbers, nil
}
