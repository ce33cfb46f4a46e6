package entropy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/entropyd/entropyd/internal/platform/timeouts"
)

// DefaultQuantumURL is the public quantum-noise endpoint.
const DefaultQuantumURL = "https://qrng.anu.edu.au/API/jsonI.php"

// QuantumSource fetches raw values from a quantum-noise HTTP provider.
//
// The provider answers GET requests with a JSON payload carrying a success
// flag and an array of integers. Any non-2xx status, false flag, short or
// out-of-range result is a recoverable failure.
type QuantumSource struct {
	baseURL string
	client  *http.Client
}

// NewQuantumSource creates a quantum source against the given base URL.
func NewQuantumSource(baseURL string) *QuantumSource {
	if baseURL == "" {
		baseURL = DefaultQuantumURL
	}
	return &QuantumSource{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeouts.ProviderFetch},
	}
}

// Provenance identifies values from this source as quantum noise.
func (s *QuantumSource) Provenance() Provenance {
	return ProvenanceQuantum
}

type quantumPayload struct {
	Success bool  `json:"success"`
	Data    []int `json:"data"`
}

// Fetch requests count raw 16-bit values from the provider.
func (s *QuantumSource) Fetch(ctx context.Context, count int) ([]uint16, error) {
	if count <= 0 {
		return nil, fmt.Errorf("quantum fetch count must be positive, got %d", count)
	}

	query := url.Values{}
	query.Set("length", strconv.Itoa(count))
	query.Set("type", "uint16")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build quantum request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("quantum request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("quantum provider returned status %d", resp.StatusCode)
	}

	var payload quantumPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode quantum payload: %w", err)
	}
	if !payload.Success {
		return nil, fmt.Errorf("quantum provider reported failure")
	}
	if len(payload.Data) < count {
		return nil, fmt.Errorf("quantum provider returned %d values, want %d", len(payload.Data), count)
	}

	values := make([]uint16, count)
	for i := 0; i < count; i++ {
		v := payload.Data[i]
		if v < 0 || v > MaxRawValue {
			return nil, fmt.Errorf("quantum value %d out of 16-bit range", v)
		}
		values[i] = uint16(v)
	}
	return values, nil
}
