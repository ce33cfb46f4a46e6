package entropy

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/entropyd/entropyd/internal/platform/timeouts"
)

// DefaultAtmosphericURL is the public atmospheric-noise endpoint.
const DefaultAtmosphericURL = "https://www.random.org/integers/"

// AtmosphericSource fetches raw values from an atmospheric-noise HTTP
// provider that answers with newline-delimited integers as plain text.
// Short output or a non-numeric line is a recoverable failure.
type AtmosphericSource struct {
	baseURL string
	client  *http.Client
}

// NewAtmosphericSource creates an atmospheric source against the given base URL.
func NewAtmosphericSource(baseURL string) *AtmosphericSource {
	if baseURL == "" {
		baseURL = DefaultAtmosphericURL
	}
	return &AtmosphericSource{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeouts.ProviderFetch},
	}
}

// Provenance identifies values from this source as atmospheric noise.
func (s *AtmosphericSource) Provenance() Provenance {
	return ProvenanceAtmospheric
}

// Fetch requests count raw 16-bit values from the provider.
func (s *AtmosphericSource) Fetch(ctx context.Context, count int) ([]uint16, error) {
	if count <= 0 {
		return nil, fmt.Errorf("atmospheric fetch count must be positive, got %d", count)
	}

	query := url.Values{}
	query.Set("num", strconv.Itoa(count))
	query.Set("min", "0")
	query.Set("max", strconv.Itoa(MaxRawValue))
	query.Set("col", "1")
	query.Set("base", "10")
	query.Set("format", "plain")
	query.Set("rnd", "new")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build atmospheric request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("atmospheric request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("atmospheric provider returned status %d", resp.StatusCode)
	}

	values := make([]uint16, 0, count)
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		v, err := strconv.Atoi(line)
		if err != nil {
			return nil, fmt.Errorf("parse atmospheric line %q: %w", line, err)
		}
		if v < 0 || v > MaxRawValue {
			return nil, fmt.Errorf("atmospheric value %d out of 16-bit range", v)
		}
		values = append(values, uint16(v))
		if len(values) == count {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read atmospheric body: %w", err)
	}
	if len(values) < count {
		return nil, fmt.Errorf("atmospheric provider returned %d values, want %d", len(values), count)
	}
	return values, nil
}
