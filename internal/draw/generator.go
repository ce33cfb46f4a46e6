package draw

import (
	"context"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/entropyd/entropyd/internal/entropy"
)

// PoolConsumer is the slice of the pool manager the orchestrator needs.
type PoolConsumer interface {
	Consume(ctx context.Context, min, max, count int) ([]int, entropy.Provenance, error)
}

// Generator sequences the tiered fallback chain for one draw: the pool tier
// first, then the terminal direct-CSPRNG tier that cannot fail. Tiers are
// tried strictly sequentially; a tier either succeeds or is abandoned.
type Generator struct {
	pool   PoolConsumer
	logf   func(format string, args ...any)
	tracer trace.Tracer
}

// NewGenerator creates the fallback orchestrator over a pool manager.
func NewGenerator(pool PoolConsumer, logf func(format string, args ...any)) *Generator {
	if logf == nil {
		logf = log.Printf
	}
	return &Generator{
		pool:   pool,
		logf:   logf,
		tracer: otel.Tracer("entropyd/draw"),
	}
}

// Generate validates the request and produces a draw result. Contract errors
// surface verbatim; every other failure degrades through the chain, so a
// valid request always yields a result.
func (g *Generator) Generate(ctx context.Context, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}

	ctx, span := g.tracer.Start(ctx, "draw.generate")
	defer span.End()

	fetch := req.Count
	if req.Unique {
		fetch = uniqueFetchCount(req)
	}

	numbers, provenance, err := g.pool.Consume(ctx, req.Min, req.Max, fetch)
	if err != nil {
		// Pool tier abandoned; the terminal tier cannot fail.
		g.logf("pool tier failed, falling back to csprng: %v", err)
		numbers, err = directDraw(req, fetch)
		if err != nil {
			return Result{}, err
		}
		provenance = entropy.ProvenanceCSPRNG
	}

	if req.Unique {
		numbers, err = synthesizeUnique(numbers, req)
		if err != nil {
			return Result{}, err
		}
	} else {
		numbers = numbers[:req.Count]
	}

	span.SetAttributes(
		attribute.String("provenance", provenance.String()),
		attribute.Int("count", req.Count),
		attribute.Bool("unique", req.Unique),
	)
	return Result{Numbers: numbers, Provenance: provenance}, nil
}
