// Package consolidator constructs the ingestion engines once and exposes
// them as a single service with an explicit lifecycle.
package consolidator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chakssp/vcia-dhl-sub005/engine/analysis"
	"github.com/chakssp/vcia-dhl-sub005/engine/confidence"
	"github.com/chakssp/vcia-dhl-sub005/engine/dedup"
	"github.com/chakssp/vcia-dhl-sub005/engine/domain"
	"github.com/chakssp/vcia-dhl-sub005/engine/enrich"
	"github.com/chakssp/vcia-dhl-sub005/engine/identity"
	"github.com/chakssp/vcia-dhl-sub005/engine/ingest"
	"github.com/chakssp/vcia-dhl-sub005/pkg/metrics"
	"github.com/chakssp/vcia-dhl-sub005/pkg/resilience"
)

// CollectionEnsurer prepares the backing collection.
type CollectionEnsurer interface {
	EnsureCollection(ctx context.Context) error
}

// Graph links chunks on insert and finds their siblings on enrichment.
type Graph interface {
	ingest.ChunkLinker
	enrich.RelatedFinder
}

// Deps are the external collaborators. Only Store is required.
type Deps struct {
	Store    domain.Store
	Ensurer  CollectionEnsurer // nil: the collection is assumed to exist
	Embedder domain.Embedder
	Registry identity.Registry // nil: in-process registry
	Graph    Graph
	Sources  *confidence.Sources // nil: payload-derived sources
	Metrics  *metrics.Registry
	Logger   *slog.Logger
	Now      func() time.Time
}

// Settings tune the engines.
type Settings struct {
	Dims    int
	Weights confidence.Weights
	Breaker resilience.BreakerOpts
}

// Service owns one instance of every engine.
type Service struct {
	store   domain.Store
	ensurer CollectionEnsurer
	log     *slog.Logger
	metrics *metrics.Registry

	identity   *identity.Resolver
	dedup      *dedup.Resolver
	breaker    *resilience.Breaker
	ingest     *ingest.Engine
	enrich     *enrich.Engine
	confidence *confidence.Aggregator

	mu      sync.Mutex
	ready   bool
	lastErr error
}

// New wires the engines. It does no I/O; see Ready.
func New(deps Deps, s Settings) *Service {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	reg := deps.Metrics
	if reg == nil {
		reg = metrics.New()
	}

	bopts := s.Breaker
	if bopts.Name == "" {
		bopts.Name = "embedder"
	}
	onChange := bopts.OnStateChange
	bopts.OnStateChange = func(name string, from, to resilience.State) {
		log.Warn("consolidator: breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		reg.Counter(metrics.WithLabels("breaker_transitions_total", "to", to.String()), "Circuit breaker transitions").Inc()
		if onChange != nil {
			onChange(name, from, to)
		}
	}

	ids := identity.NewResolver(deps.Registry, log)
	dups := dedup.New(deps.Store, log)
	breaker := resilience.NewBreaker(bopts)

	var linker ingest.ChunkLinker
	var related enrich.RelatedFinder
	if deps.Graph != nil {
		linker, related = deps.Graph, deps.Graph
	}

	sources := confidence.NewPayloadSources()
	if deps.Sources != nil {
		sources = *deps.Sources
	}

	return &Service{
		store:    deps.Store,
		ensurer:  deps.Ensurer,
		log:      log,
		metrics:  reg,
		identity: ids,
		dedup:    dups,
		breaker:  breaker,
		ingest: ingest.New(ingest.Deps{
			Store:    deps.Store,
			Embedder: deps.Embedder,
			Breaker:  breaker,
			Identity: ids,
			Dedup:    dups,
			Graph:    linker,
			Dims:     s.Dims,
			Logger:   log,
			Now:      deps.Now,
		}),
		enrich: enrich.New(enrich.Deps{
			Store:   deps.Store,
			Related: related,
			Logger:  log,
			Now:     deps.Now,
		}),
		confidence: confidence.New(s.Weights, sources, log),
	}
}

// Ready ensures the collection exists. A failure leaves the service
// uninitialized and the next call tries again.
func (s *Service) Ready(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}
	if s.ensurer != nil {
		if err := s.ensurer.EnsureCollection(ctx); err != nil {
			s.lastErr = err
			s.log.Error("consolidator: initialization failed", "error", err)
			return fmt.Errorf("consolidator: %w: %w", domain.ErrStoreUnavailable, err)
		}
	}
	if err := s.ingest.SyncTotal(ctx); err != nil {
		s.log.Warn("consolidator: point count unavailable", "error", err)
	}
	s.ready = true
	s.lastErr = nil
	s.log.Info("consolidator: ready")
	return nil
}

// InsertOrUpdate writes one record.
func (s *Service) InsertOrUpdate(ctx context.Context, rec domain.Record, opts ingest.Options) ingest.Outcome {
	if err := s.Ready(ctx); err != nil {
		return ingest.Outcome{Action: ingest.OutcomeFailed, Reason: err.Error()}
	}
	out := s.ingest.InsertOrUpdate(ctx, rec, opts)
	s.metrics.Counter(metrics.WithLabels("ingest_outcomes_total", "action", out.Action), "Ingest outcomes by action").Inc()
	return out
}

// IngestBatch writes records in paced batches.
func (s *Service) IngestBatch(ctx context.Context, recs []domain.Record, opts ingest.BatchOptions, progress func(ingest.BatchProgress)) ingest.BatchSummary {
	if err := s.Ready(ctx); err != nil {
		return ingest.BatchSummary{Total: len(recs), Failed: len(recs), Err: err.Error()}
	}
	sum := s.ingest.IngestBatch(ctx, recs, opts, progress)
	for _, out := range sum.Outcomes {
		s.metrics.Counter(metrics.WithLabels("ingest_outcomes_total", "action", out.Action), "Ingest outcomes by action").Inc()
	}
	return sum
}

// EnrichPoint enriches one point.
func (s *Service) EnrichPoint(ctx context.Context, id uint64, data map[string]any) enrich.Outcome {
	if err := s.Ready(ctx); err != nil {
		return enrich.Outcome{ID: id, Reason: err.Error()}
	}
	return s.enrich.EnrichPoint(ctx, id, data)
}

// EnrichAll enriches every point below the threshold.
func (s *Service) EnrichAll(ctx context.Context, opts enrich.AllOptions, progress func(enrich.Progress)) enrich.Summary {
	if err := s.Ready(ctx); err != nil {
		return enrich.Summary{Err: err.Error()}
	}
	return s.enrich.EnrichAll(ctx, opts, progress)
}

// Score aggregates confidence for a stored point without writing it.
func (s *Service) Score(ctx context.Context, id uint64, sc confidence.ScoreContext) (confidence.Result, error) {
	if err := s.Ready(ctx); err != nil {
		return confidence.Result{}, err
	}
	p, err := s.store.GetPoint(ctx, id)
	if err != nil {
		return confidence.Result{}, fmt.Errorf("consolidator: get point %d: %w", id, err)
	}
	if p == nil {
		return confidence.Result{}, fmt.Errorf("consolidator: point %d: %w", id, domain.ErrPointNotFound)
	}
	start := time.Now()
	r := s.confidence.Score(ctx, confidence.Subject{ID: id, Payload: p.Payload}, sc, confidence.Options{})
	s.observeScore(r, time.Since(start))
	return r, nil
}

// ScoreAndStore aggregates confidence and writes it to the point.
func (s *Service) ScoreAndStore(ctx context.Context, id uint64, sc confidence.ScoreContext) confidence.StoreOutcome {
	if err := s.Ready(ctx); err != nil {
		return confidence.StoreOutcome{ID: id, Reason: err.Error()}
	}
	start := time.Now()
	out := s.confidence.ScoreAndStore(ctx, s.store, id, sc)
	if out.Success {
		s.observeScore(out.Result, time.Since(start))
	}
	return out
}

func (s *Service) observeScore(r confidence.Result, d time.Duration) {
	s.metrics.Histogram(metrics.WithLabels("confidence_aggregation_seconds", "strategy", r.Strategy), "Confidence aggregation latency", nil).ObserveDuration(d)
}

// SetWeights updates the balanced confidence weights.
func (s *Service) SetWeights(m map[string]float64) bool {
	return s.confidence.SetWeights(m)
}

// Weights returns the balanced confidence weights.
func (s *Service) Weights() confidence.Weights {
	return s.confidence.Weights()
}

// Analyze reports on the collection.
func (s *Service) Analyze(ctx context.Context) (analysis.Report, error) {
	if err := s.Ready(ctx); err != nil {
		return analysis.Report{}, err
	}
	return analysis.Analyze(ctx, s.store)
}

// Reset clears the id registry, the confidence cache and every counter.
func (s *Service) Reset(ctx context.Context) error {
	s.enrich.Reset()
	s.confidence.Reset()
	if err := s.ingest.Reset(ctx); err != nil {
		return fmt.Errorf("consolidator: reset: %w", err)
	}
	return nil
}
