// Package dedup classifies candidate records as new or duplicate by querying
// the store through an ordered list of lookup tiers.
package dedup

import (
	"context"
	"log/slog"
	"sync"

	"github.com/chakssp/vcia-dhl-sub005/engine/domain"
)

// Similarity reported by each tier.
const (
	SimilarityExact        = 1.0
	SimilarityNameFallback = 0.95
	SimilarityContentHash  = 0.9
)

// Candidate is a record together with its derived content hash.
type Candidate struct {
	Record      domain.Record
	ContentHash string
}

// Tier is one lookup strategy. It returns (nil, nil) when it does not apply
// or finds nothing.
type Tier struct {
	Reason domain.DuplicateReason
	Lookup func(ctx context.Context, s domain.Store, c Candidate) (*domain.DuplicateMatch, error)
}

// DefaultTiers is the chunk, path+hash, name, content-hash order.
var DefaultTiers = []Tier{
	{Reason: domain.ReasonChunkExact, Lookup: chunkTier},
	{Reason: domain.ReasonPathHashExact, Lookup: pathTier},
	{Reason: domain.ReasonNameFallback, Lookup: nameTier},
	{Reason: domain.ReasonContentHashFallback, Lookup: contentTier},
}

// Stats counts resolver activity.
type Stats struct {
	Checks      int64                            `json:"checks"`
	Duplicates  int64                            `json:"duplicates"`
	QueryErrors int64                            `json:"queryErrors"`
	ByReason    map[domain.DuplicateReason]int64 `json:"byReason"`
}

// Resolver runs the tiers in order and stops at the first hit.
type Resolver struct {
	store domain.Store
	tiers []Tier
	log   *slog.Logger

	mu    sync.Mutex
	stats Stats
}

// New creates a Resolver with DefaultTiers.
func New(store domain.Store, log *slog.Logger) *Resolver {
	return NewWithTiers(store, DefaultTiers, log)
}

// NewWithTiers creates a Resolver with a custom tier list.
func NewWithTiers(store domain.Store, tiers []Tier, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{store: store, tiers: tiers, log: log, stats: Stats{ByReason: map[domain.DuplicateReason]int64{}}}
}

// Check classifies c. A query error is logged, counted and turns the whole
// check into "not a duplicate" so ingestion never blocks on a lookup.
func (r *Resolver) Check(ctx context.Context, c Candidate) domain.DuplicateMatch {
	r.mu.Lock()
	r.stats.Checks++
	r.mu.Unlock()

	for _, t := range r.tiers {
		m, err := t.Lookup(ctx, r.store, c)
		if err != nil {
			r.mu.Lock()
			r.stats.QueryErrors++
			r.mu.Unlock()
			r.log.Warn("dedup: lookup failed", "tier", t.Reason, "path", c.Record.Path, "error", err)
			return domain.DuplicateMatch{}
		}
		if m == nil || !m.IsDuplicate {
			continue
		}
		r.mu.Lock()
		r.stats.Duplicates++
		r.stats.ByReason[m.Reason]++
		r.mu.Unlock()
		r.log.Debug("dedup: duplicate", "tier", m.Reason, "path", c.Record.Path, "point_id", m.ExistingPoint.ID)
		return *m
	}
	return domain.DuplicateMatch{}
}

// Stats returns a snapshot.
func (r *Resolver) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.stats
	out.ByReason = make(map[domain.DuplicateReason]int64, len(r.stats.ByReason))
	for k, v := range r.stats.ByReason {
		out.ByReason[k] = v
	}
	return out
}

// Reset clears the counters.
func (r *Resolver) Reset() {
	r.mu.Lock()
	r.stats = Stats{ByReason: map[domain.DuplicateReason]int64{}}
	r.mu.Unlock()
}

func hit(p domain.StoredPoint, reason domain.DuplicateReason, sim float64) *domain.DuplicateMatch {
	return &domain.DuplicateMatch{IsDuplicate: true, ExistingPoint: &p, Similarity: sim, Reason: reason}
}

func first(ctx context.Context, s domain.Store, f domain.Filter, limit int) ([]domain.StoredPoint, error) {
	page, err := s.ScrollPoints(ctx, domain.ScrollRequest{Filter: f, Limit: limit, WithPayload: true})
	if err != nil {
		return nil, err
	}
	return page.Points, nil
}

func chunkTier(ctx context.Context, s domain.Store, c Candidate) (*domain.DuplicateMatch, error) {
	if !c.Record.HasChunk() || c.Record.Name() == "" {
		return nil, nil
	}
	pts, err := first(ctx, s, domain.Filter{Must: []domain.FieldMatch{
		{Key: domain.KeyFileName, Value: c.Record.Name()},
		{Key: domain.KeyChunkIndex, Value: *c.Record.ChunkIndex},
	}}, 1)
	if err != nil || len(pts) == 0 {
		return nil, err
	}
	return hit(pts[0], domain.ReasonChunkExact, SimilarityExact), nil
}

// pathReuseLimit bounds how many same-path points are inspected for a hash.
const pathReuseLimit = 10

func pathTier(ctx context.Context, s domain.Store, c Candidate) (*domain.DuplicateMatch, error) {
	if c.Record.Path == "" {
		return nil, nil
	}
	pts, err := first(ctx, s, domain.Match(domain.KeyFilePath, c.Record.Path), pathReuseLimit)
	if err != nil {
		return nil, err
	}
	for _, p := range pts {
		if p.Payload.FilePath == c.Record.Path && p.Payload.ContentHash == c.ContentHash {
			return hit(p, domain.ReasonPathHashExact, SimilarityExact), nil
		}
	}
	return nil, nil
}

func nameTier(ctx context.Context, s domain.Store, c Candidate) (*domain.DuplicateMatch, error) {
	name := c.Record.Name()
	if name == "" {
		return nil, nil
	}
	pts, err := first(ctx, s, domain.Match(domain.KeyFileName, name), 1)
	if err != nil || len(pts) == 0 {
		return nil, err
	}
	return hit(pts[0], domain.ReasonNameFallback, SimilarityNameFallback), nil
}

func contentTier(ctx context.Context, s domain.Store, c Candidate) (*domain.DuplicateMatch, error) {
	if c.ContentHash == "" || c.ContentHash == "0" {
		return nil, nil
	}
	pts, err := first(ctx, s, domain.Match(domain.KeyContentHash, c.ContentHash), 1)
	if err != nil || len(pts) == 0 {
		return nil, err
	}
	return hit(pts[0], domain.ReasonContentHashFallback, SimilarityContentHash), nil
}
