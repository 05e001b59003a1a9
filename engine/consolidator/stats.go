package consolidator

import (
	"context"

	"github.com/chakssp/vcia-dhl-sub005/engine/confidence"
	"github.com/chakssp/vcia-dhl-sub005/engine/dedup"
	"github.com/chakssp/vcia-dhl-sub005/engine/enrich"
	"github.com/chakssp/vcia-dhl-sub005/engine/ingest"
	"github.com/chakssp/vcia-dhl-sub005/pkg/metrics"
	"github.com/chakssp/vcia-dhl-sub005/pkg/resilience"
)

// Stats is one snapshot across every engine.
type Stats struct {
	Ready      bool               `json:"ready"`
	LastError  string             `json:"lastError,omitempty"`
	Ingest     ingest.Stats       `json:"ingest"`
	Dedup      dedup.Stats        `json:"dedup"`
	Enrich     enrich.Stats       `json:"enrich"`
	Confidence confidence.Stats   `json:"confidence"`
	Embedder   resilience.Counts  `json:"embedder"`
	Weights    confidence.Weights `json:"weights"`
}

// Stats returns the snapshot and mirrors it into the metrics registry.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	st := Stats{Ready: s.ready}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	s.mu.Unlock()

	st.Ingest = s.ingest.Stats()
	st.Dedup = s.dedup.Stats()
	st.Enrich = s.enrich.Stats()
	st.Confidence = s.confidence.Stats()
	st.Embedder = s.breaker.Counts()
	st.Weights = s.confidence.Weights()
	s.mirror(st)
	return st
}

// Metrics returns the registry the service reports into.
func (s *Service) Metrics() *metrics.Registry {
	return s.metrics
}

// Refresh re-reads the point count from the store.
func (s *Service) Refresh(ctx context.Context) error {
	return s.ingest.SyncTotal(ctx)
}

func (s *Service) mirror(st Stats) {
	r := s.metrics
	set := func(name, help string, v int64) { r.Counter(name, help).Set(v) }

	ready := 0.0
	if st.Ready {
		ready = 1
	}
	r.Gauge("consolidator_ready", "1 once the collection is ensured").Set(ready)
	r.Gauge("collection_points", "Points in the collection").Set(float64(st.Ingest.TotalPoints))

	set("ingest_duplicates_total", "Duplicates found on ingest", st.Ingest.DuplicatesFound)
	set("ingest_write_errors_total", "Failed store writes", st.Ingest.WriteErrors)
	set("ingest_embedding_fallbacks_total", "Random vectors used in place of embeddings", st.Ingest.EmbeddingFallbacks)

	set("dedup_checks_total", "Duplicate checks", st.Dedup.Checks)
	set("dedup_query_errors_total", "Duplicate lookups that failed open", st.Dedup.QueryErrors)
	for reason, n := range st.Dedup.ByReason {
		set(metrics.WithLabels("dedup_matches_total", "reason", string(reason)), "Duplicate matches by tier", n)
	}

	set("enrich_points_total", "Points enriched", st.Enrich.PointsEnriched)
	set("enrich_errors_total", "Enrichment failures", st.Enrich.EnrichmentErrors)
	set("enrich_runs_total", "Bulk enrichment runs", st.Enrich.Runs)

	set("confidence_aggregations_total", "Aggregations computed", st.Confidence.Aggregations)
	set("confidence_cache_hits_total", "Aggregations served from cache", st.Confidence.CacheHits)
	set("confidence_budget_breaches_total", "Aggregations over the latency budget", st.Confidence.BudgetBreaches)
	r.Gauge("confidence_cache_entries", "Cached aggregation results").Set(float64(st.Confidence.CacheSize))
	for source, n := range st.Confidence.SourceFailures {
		set(metrics.WithLabels("confidence_source_failures_total", "source", source), "Factor source failures", n)
	}
	for name, w := range st.Weights.AsMap() {
		r.Gauge(metrics.WithLabels("confidence_weight", "factor", name), "Balanced confidence weights").Set(w)
	}

	set("embedder_calls_total", "Embedder calls through the breaker", st.Embedder.Calls)
	set("embedder_rejected_total", "Embedder calls rejected by the open breaker", st.Embedder.Rejected)
}
