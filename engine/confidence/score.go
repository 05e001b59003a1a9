package confidence

import (
	"context"
	"fmt"
	"time"

	"github.com/chakssp/vcia-dhl-sub005/engine/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Score collects factors for s and aggregates them.
func (a *Aggregator) Score(ctx context.Context, s Subject, sc ScoreContext, opts Options) Result {
	return a.Aggregate(a.CollectFactors(ctx, s, sc), opts)
}

// StoreOutcome is the result of ScoreAndStore.
type StoreOutcome struct {
	Success bool   `json:"success"`
	ID      uint64 `json:"id"`
	Version int    `json:"version,omitempty"`
	Result  Result `json:"result"`
	Reason  string `json:"reason,omitempty"`
}

// ScoreAndStore scores a stored point and writes the rounded score to its
// confidenceScore field together with the strategy used. This overwrites
// any heuristic value left by enrichment.
func (a *Aggregator) ScoreAndStore(ctx context.Context, store domain.Store, id uint64, sc ScoreContext) StoreOutcome {
	ctx, span := otel.Tracer("engine/confidence").Start(ctx, "confidence.score_and_store")
	defer span.End()
	span.SetAttributes(attribute.Int64("point_id", int64(id)))

	fail := func(err error) StoreOutcome {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.log.Warn("confidence: store score failed", "point_id", id, "error", err)
		return StoreOutcome{ID: id, Reason: err.Error()}
	}

	p, err := store.GetPoint(ctx, id)
	if err != nil {
		return fail(fmt.Errorf("fetch: %w", err))
	}
	if p == nil {
		return fail(domain.ErrPointNotFound)
	}

	res := a.Score(ctx, Subject{ID: id, Payload: p.Payload}, sc, Options{})

	m := p.Payload.ToMap()
	version := p.Payload.Version + 1
	m[domain.KeyConfidenceScore] = int64(res.FinalScore)
	m[domain.KeyAggregationStrategy] = res.Strategy
	m[domain.KeyVersion] = int64(version)
	m[domain.KeyLastModified] = a.now().UTC().Format(time.RFC3339Nano)
	m[domain.KeyEnrichmentLevel] = int64(domain.EnrichmentLevel(m))

	if err := store.UpdatePayload(ctx, id, domain.PayloadFromMap(m)); err != nil {
		return fail(fmt.Errorf("write: %w", err))
	}
	span.SetAttributes(attribute.String("strategy", res.Strategy), attribute.Float64("score", res.FinalScore))
	return StoreOutcome{Success: true, ID: id, Version: version, Result: res}
}
