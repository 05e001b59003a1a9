// Package enrich tops up the derived metadata fields of stored points and
// keeps their enrichment level current.
package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/chakssp/vcia-dhl-sub005/engine/domain"
	"github.com/chakssp/vcia-dhl-sub005/pkg/fn"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// RelatedFinder returns ids of points related to a point.
type RelatedFinder interface {
	RelatedChunks(ctx context.Context, id uint64, limit int) ([]uint64, error)
}

// relatedLimit caps relatedChunks.
const relatedLimit = 10

// Deps holds the collaborators of the engine.
type Deps struct {
	Store   domain.Store
	Related RelatedFinder // optional; defaults to points sharing the filePath
	Logger  *slog.Logger
	Now     func() time.Time
}

// Stats counts enrichment activity.
type Stats struct {
	PointsEnriched   int64 `json:"pointsEnriched"`
	EnrichmentErrors int64 `json:"enrichmentErrors"`
	Runs             int64 `json:"runs"`
}

// Outcome is the result of enriching one point. Unchanged is set when
// nothing could be filled and the point was left as it was.
type Outcome struct {
	Success   bool     `json:"success"`
	ID        uint64   `json:"id"`
	Filled    []string `json:"filled,omitempty"`
	Level     int      `json:"enrichmentLevel"`
	Version   int      `json:"version,omitempty"`
	Reason    string   `json:"reason,omitempty"`
	Unchanged bool     `json:"unchanged,omitempty"`
}

// Engine is the enrichment engine.
type Engine struct {
	store   domain.Store
	related RelatedFinder
	log     *slog.Logger
	now     func() time.Time

	mu    sync.Mutex
	stats Stats
}

// New creates an Engine.
func New(deps Deps) *Engine {
	e := &Engine{store: deps.Store, related: deps.Related, log: deps.Logger, now: deps.Now}
	if e.log == nil {
		e.log = slog.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.related == nil {
		e.related = samePath{store: deps.Store}
	}
	return e
}

// EmptyFields lists the enrichment fields that are unset or empty.
func EmptyFields(p domain.Payload) []string {
	return domain.EmptyEnrichmentFields(p.ToMap())
}

// EnrichPoint fetches a point, fills its empty enrichment fields and writes
// it back. Values in data win over generated ones and are applied even to
// fields that are already set. Errors come back in the outcome.
func (e *Engine) EnrichPoint(ctx context.Context, id uint64, data map[string]any) Outcome {
	p, err := e.store.GetPoint(ctx, id)
	if err != nil {
		return e.fail(id, fmt.Errorf("fetch: %w", err))
	}
	if p == nil {
		return e.fail(id, domain.ErrPointNotFound)
	}

	m := p.Payload.ToMap()
	empty := domain.EmptyEnrichmentFields(m)
	gen := Generate(p.Payload, empty)
	for _, f := range empty {
		if f == domain.KeyRelatedChunks {
			gen[f] = e.relatedFor(ctx, *p)
		}
	}

	filled := make([]string, 0, len(empty))
	for _, f := range empty {
		if v, ok := gen[f]; ok && !domain.IsEmptyValue(v) {
			m[f] = v
			filled = append(filled, f)
		}
	}
	for k, v := range data {
		if domain.IsEmptyValue(v) {
			continue
		}
		if !slices.Contains(filled, k) {
			filled = append(filled, k)
		}
		m[k] = domain.CloneValue(v)
	}
	if len(filled) == 0 {
		return Outcome{Success: true, ID: id, Level: domain.EnrichmentLevel(m), Version: p.Payload.Version, Unchanged: true}
	}

	version := p.Payload.Version + 1
	level := domain.EnrichmentLevel(m)
	m[domain.KeyVersion] = int64(version)
	m[domain.KeyEnrichmentLevel] = int64(level)
	m[domain.KeyLastEnriched] = e.now().UTC().Format(time.RFC3339Nano)

	if err := e.store.UpdatePayload(ctx, id, domain.PayloadFromMap(m)); err != nil {
		return e.fail(id, fmt.Errorf("write: %w", err))
	}
	e.mu.Lock()
	e.stats.PointsEnriched++
	e.mu.Unlock()
	return Outcome{Success: true, ID: id, Filled: filled, Level: level, Version: version}
}

func (e *Engine) relatedFor(ctx context.Context, p domain.StoredPoint) []any {
	ids, err := e.related.RelatedChunks(ctx, p.ID, relatedLimit)
	if err != nil {
		e.log.Warn("enrich: related lookup failed", "point_id", p.ID, "error", err)
		return []any{}
	}
	out := make([]any, 0, len(ids))
	for _, id := range ids {
		if id != p.ID {
			out = append(out, int64(id))
		}
	}
	return out
}

func (e *Engine) fail(id uint64, err error) Outcome {
	e.mu.Lock()
	e.stats.EnrichmentErrors++
	e.mu.Unlock()
	e.log.Warn("enrich: point failed", "point_id", id, "error", err)
	return Outcome{ID: id, Reason: err.Error()}
}

// Stats returns a snapshot of the counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Reset zeroes the counters.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.stats = Stats{}
	e.mu.Unlock()
}

// AllOptions control EnrichAll.
type AllOptions struct {
	Threshold   int           // points below this level are enriched, default 90
	BatchSize   int           // default 10
	Concurrency int           // parallel points per batch, default BatchSize
	Delay       time.Duration // between batches, default 1s; negative disables
}

// Progress is emitted after each batch.
type Progress struct {
	RunID     string `json:"runId"`
	Batch     int    `json:"batch"`
	Batches   int    `json:"batches"`
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
	Enriched  int    `json:"enriched"`
	Unchanged int    `json:"unchanged"`
	Errors    int    `json:"errors"`
	Done      bool   `json:"done"`
}

// Summary is the result of EnrichAll.
type Summary struct {
	RunID     string `json:"runId"`
	Scanned   int    `json:"scanned"`
	Eligible  int    `json:"eligible"`
	Enriched  int    `json:"enriched"`
	Unchanged int    `json:"unchanged"`
	Errors    int    `json:"errors"`
	Err       string `json:"error,omitempty"`
}

// EnrichAll enriches every point whose enrichment level is below the
// threshold, in paced batches, reporting progress after each one.
func (e *Engine) EnrichAll(ctx context.Context, opts AllOptions, progress func(Progress)) Summary {
	if opts.Threshold <= 0 {
		opts.Threshold = 90
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = opts.BatchSize
	}
	if opts.Delay == 0 {
		opts.Delay = time.Second
	}

	ctx, span := otel.Tracer("engine/enrich").Start(ctx, "enrich.all")
	defer span.End()

	sum := Summary{RunID: uuid.NewString()}
	span.SetAttributes(attribute.String("run_id", sum.RunID))
	e.mu.Lock()
	e.stats.Runs++
	e.mu.Unlock()

	var ids []uint64
	err := domain.ScrollAll(ctx, e.store, domain.ScrollRequest{WithPayload: true}, func(p domain.StoredPoint) bool {
		sum.Scanned++
		if domain.EnrichmentLevel(p.Payload.ToMap()) < opts.Threshold {
			ids = append(ids, p.ID)
		}
		return true
	})
	if err != nil {
		e.mu.Lock()
		e.stats.EnrichmentErrors++
		e.mu.Unlock()
		e.log.Warn("enrich: scan failed", "run_id", sum.RunID, "error", err)
		sum.Err = err.Error()
		return sum
	}
	sum.Eligible = len(ids)

	batches := (len(ids) + opts.BatchSize - 1) / opts.BatchSize
	processed := 0
	err = fn.Paced(ctx, ids, opts.BatchSize, opts.Delay, func(ctx context.Context, i int, chunk []uint64) {
		outs := fn.ParMap(chunk, opts.Concurrency, func(id uint64) Outcome {
			return e.EnrichPoint(ctx, id, nil)
		})
		for _, o := range outs {
			switch {
			case !o.Success:
				sum.Errors++
			case o.Unchanged:
				sum.Unchanged++
			default:
				sum.Enriched++
			}
		}
		processed += len(chunk)
		p := Progress{
			RunID: sum.RunID, Batch: i + 1, Batches: batches,
			Processed: processed, Total: len(ids),
			Enriched: sum.Enriched, Unchanged: sum.Unchanged, Errors: sum.Errors,
			Done: processed == len(ids),
		}
		e.log.Info("enrich: batch done", "run_id", p.RunID, "batch", p.Batch, "batches", p.Batches, "enriched", p.Enriched)
		if progress != nil {
			progress(p)
		}
	})
	if err != nil {
		sum.Err = err.Error()
	}
	span.SetAttributes(attribute.Int("enriched", sum.Enriched), attribute.Int("errors", sum.Errors))
	return sum
}

// samePath finds related points by scrolling for the same filePath.
type samePath struct {
	store domain.Store
}

func (s samePath) RelatedChunks(ctx context.Context, id uint64, limit int) ([]uint64, error) {
	p, err := s.store.GetPoint(ctx, id)
	if err != nil || p == nil || p.Payload.FilePath == "" {
		return nil, err
	}
	var ids []uint64
	req := domain.ScrollRequest{Filter: domain.Match(domain.KeyFilePath, p.Payload.FilePath), WithPayload: false}
	err = domain.ScrollAll(ctx, s.store, req, func(o domain.StoredPoint) bool {
		if o.ID != id {
			ids = append(ids, o.ID)
		}
		return len(ids) < limit
	})
	return ids, err
}
