// Package ingest writes candidate records into the vector store, resolving
// duplicates first and reconciling payloads on update or merge.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/chakssp/vcia-dhl-sub005/engine/dedup"
	"github.com/chakssp/vcia-dhl-sub005/engine/domain"
	"github.com/chakssp/vcia-dhl-sub005/engine/identity"
	"github.com/chakssp/vcia-dhl-sub005/pkg/fn"
	"github.com/chakssp/vcia-dhl-sub005/pkg/resilience"
)

// Action selects what happens when a candidate is a duplicate.
type Action string

const (
	ActionSkip   Action = "skip"
	ActionUpdate Action = "update"
	ActionMerge  Action = "merge"
)

// ParseAction maps a string to an Action. Empty means skip.
func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case "", ActionSkip:
		return ActionSkip, nil
	case ActionUpdate, ActionMerge:
		return Action(s), nil
	}
	return "", fmt.Errorf("ingest: %w: %q", domain.ErrUnknownAction, s)
}

// Options tune one InsertOrUpdate call.
type Options struct {
	Action         Action   `json:"duplicateAction,omitempty"`
	PreserveFields []string `json:"preserveFields,omitempty"`
}

// Outcome is the result of one write attempt. It is never an error: write
// failures come back with Success false and the cause in Reason.
type Outcome struct {
	Success   bool                   `json:"success"`
	Action    string                 `json:"action"`
	ID        uint64                 `json:"id,omitempty"`
	Reason    string                 `json:"reason,omitempty"`
	Duplicate domain.DuplicateReason `json:"duplicateReason,omitempty"`
	Version   int                    `json:"version,omitempty"`
}

// Outcome actions.
const (
	OutcomeInserted = "inserted"
	OutcomeSkipped  = "skipped"
	OutcomeUpdated  = "updated"
	OutcomeMerged   = "merged"
	OutcomeFailed   = "failed"
)

// Stats counts engine activity since construction or the last Reset.
// TotalPoints is bumped on every insert, so an upsert over an existing id
// overcounts until the next SyncTotal; IngestBatch re-syncs when it ends.
type Stats struct {
	DuplicatesFound    int64 `json:"duplicatesFound"`
	Skipped            int64 `json:"skipped"`
	Updated            int64 `json:"updated"`
	Merged             int64 `json:"merged"`
	Inserted           int64 `json:"inserted"`
	TotalPoints        int64 `json:"totalPoints"`
	WriteErrors        int64 `json:"writeErrors"`
	EmbeddingFallbacks int64 `json:"embeddingFallbacks"`
}

// ChunkLinker records that a stored chunk belongs to a file.
type ChunkLinker interface {
	LinkChunk(ctx context.Context, filePath string, chunkID uint64, index int) error
}

// Deps holds the collaborators of the engine.
type Deps struct {
	Store    domain.Store
	Embedder domain.Embedder // optional
	Breaker  *resilience.Breaker
	Identity *identity.Resolver
	Dedup    *dedup.Resolver
	Graph    ChunkLinker // optional
	Dims     int
	Logger   *slog.Logger
	Now      func() time.Time
	Rand     *rand.Rand
}

// Engine is the upsert engine.
type Engine struct {
	store    domain.Store
	embedder domain.Embedder
	breaker  *resilience.Breaker
	ids      *identity.Resolver
	dups     *dedup.Resolver
	graph    ChunkLinker
	dims     int
	log      *slog.Logger
	now      func() time.Time

	randMu sync.Mutex
	rnd    *rand.Rand

	mu    sync.Mutex
	stats Stats

	prepare fn.Stage[domain.Record, prepared]
}

// prepared is a validated record with its identity and duplicate status.
type prepared struct {
	rec   domain.Record
	ident identity.Identity
	match domain.DuplicateMatch
}

// New creates an Engine. Missing resolvers and breaker get defaults.
func New(deps Deps) *Engine {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{
		store:    deps.Store,
		embedder: deps.Embedder,
		breaker:  deps.Breaker,
		ids:      deps.Identity,
		dups:     deps.Dedup,
		graph:    deps.Graph,
		dims:     deps.Dims,
		log:      log,
		now:      deps.Now,
		rnd:      deps.Rand,
	}
	if e.ids == nil {
		e.ids = identity.NewResolver(nil, log)
	}
	if e.dups == nil {
		e.dups = dedup.New(deps.Store, log)
	}
	if e.breaker == nil {
		opts := resilience.DefaultBreakerOpts
		opts.Name = "embedder"
		e.breaker = resilience.NewBreaker(opts)
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.rnd == nil {
		e.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	e.prepare = fn.Then(
		fn.TracedStage("ingest.validate", validate),
		fn.TracedStage("ingest.resolve", e.resolve),
	)
	return e
}

var validate fn.Stage[domain.Record, domain.Record] = func(_ context.Context, r domain.Record) fn.Result[domain.Record] {
	if err := domain.ValidateRecord(r); err != nil {
		return fn.Err[domain.Record](err)
	}
	return fn.Ok(r)
}

func (e *Engine) resolve(ctx context.Context, r domain.Record) fn.Result[prepared] {
	ident := e.ids.Resolve(ctx, r)
	match := e.dups.Check(ctx, dedup.Candidate{Record: r, ContentHash: ident.ContentHash})
	return fn.Ok(prepared{rec: r, ident: ident, match: match})
}

// InsertOrUpdate resolves duplicates for rec and writes it according to
// opts.Action.
func (e *Engine) InsertOrUpdate(ctx context.Context, rec domain.Record, opts Options) Outcome {
	p, err := e.prepare(ctx, rec).Unwrap()
	if err != nil {
		e.bump(func(s *Stats) { s.WriteErrors++ })
		e.log.Error("ingest: rejected record", "path", rec.Path, "error", err)
		return Outcome{Action: OutcomeFailed, Reason: err.Error()}
	}

	if !p.match.IsDuplicate {
		return e.insert(ctx, p)
	}

	e.bump(func(s *Stats) { s.DuplicatesFound++ })
	existing := p.match.ExistingPoint
	e.log.Debug("ingest: duplicate", "path", rec.Path, "reason", p.match.Reason, "point_id", existing.ID)

	switch opts.Action {
	case ActionUpdate:
		return e.rewrite(ctx, p, opts, ActionUpdate)
	case ActionMerge:
		return e.rewrite(ctx, p, opts, ActionMerge)
	case "", ActionSkip:
		e.bump(func(s *Stats) { s.Skipped++ })
		return Outcome{Action: OutcomeSkipped, ID: existing.ID, Reason: "duplicate", Duplicate: p.match.Reason}
	default:
		e.bump(func(s *Stats) { s.WriteErrors++ })
		return Outcome{Action: OutcomeFailed, ID: existing.ID, Reason: fmt.Sprintf("%v: %q", domain.ErrUnknownAction, opts.Action)}
	}
}

// incoming is the discovery payload of rec: its metadata without protected
// keys, then the record's own file fields.
func incoming(rec domain.Record) map[string]any {
	m := domain.StripQdrantOnly(rec.Metadata)
	m[domain.KeyFilePath] = rec.Path
	m[domain.KeyFileName] = rec.Name()
	m[domain.KeyContent] = rec.Text()
	m[domain.KeySize] = rec.Size
	if rec.LastModified > 0 {
		m[domain.KeyFileModified] = rec.LastModified
	}
	if rec.HasChunk() {
		m[domain.KeyChunkIndex] = int64(*rec.ChunkIndex)
	}
	return m
}

func (e *Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339Nano)
}

func (e *Engine) insert(ctx context.Context, p prepared) Outcome {
	now := e.stamp()
	m := incoming(p.rec)
	m[domain.KeyID] = int64(p.ident.ID)
	m[domain.KeyContentHash] = p.ident.ContentHash
	m[domain.KeyVersion] = int64(1)
	m[domain.KeyInsertedAt] = now
	m[domain.KeyLastModified] = now
	m[domain.KeyEnrichmentLevel] = int64(domain.EnrichmentLevel(m))

	point := domain.StoredPoint{
		ID:      p.ident.ID,
		Vector:  e.vectorFor(ctx, p.rec),
		Payload: domain.PayloadFromMap(m),
	}
	if err := e.store.InsertPoint(ctx, point); err != nil {
		return e.failed(p.ident.ID, "insert", err)
	}
	e.bump(func(s *Stats) {
		s.Inserted++
		s.TotalPoints++
	})

	if e.graph != nil && p.rec.HasChunk() {
		if err := e.graph.LinkChunk(ctx, p.rec.Path, point.ID, *p.rec.ChunkIndex); err != nil {
			e.log.Warn("ingest: chunk link failed", "point_id", point.ID, "error", err)
		}
	}
	return Outcome{Success: true, Action: OutcomeInserted, ID: point.ID, Version: 1}
}

// rewrite handles update and merge. The live payload is re-fetched because
// another writer may have touched the point since the duplicate check.
func (e *Engine) rewrite(ctx context.Context, p prepared, opts Options, action Action) Outcome {
	id := p.match.ExistingPoint.ID
	current := p.match.ExistingPoint.Payload

	live, err := e.store.GetPoint(ctx, id)
	switch {
	case err != nil:
		e.log.Warn("ingest: refetch failed, using matched payload", "point_id", id, "error", err)
	case live == nil:
		e.log.Warn("ingest: matched point vanished, inserting", "point_id", id)
		return e.insert(ctx, p)
	default:
		current = live.Payload
	}

	existing := current.ToMap()
	var next map[string]any
	outcome := OutcomeUpdated
	if action == ActionMerge {
		next = MergePayloads(existing, incoming(p.rec))
		outcome = OutcomeMerged
	} else {
		next = OverwritePayload(existing, incoming(p.rec), opts.PreserveFields)
	}

	// contentHash always describes the content being written.
	if c, ok := domain.AsString(next[domain.KeyContent]); ok {
		next[domain.KeyContentHash] = identity.ContentHash(c)
	}

	now := e.stamp()
	version := int(current.Version) + 1
	next[domain.KeyVersion] = int64(version)
	next[domain.KeyLastModified] = now
	if action == ActionMerge {
		count, _ := domain.AsInt(existing[domain.KeyMergeCount])
		next[domain.KeyMergeCount] = count + 1
		next[domain.KeyLastMerged] = now
	}
	next[domain.KeyEnrichmentLevel] = int64(domain.EnrichmentLevel(next))

	if err := e.store.UpdatePayload(ctx, id, domain.PayloadFromMap(next)); err != nil {
		return e.failed(id, string(action), err)
	}
	e.bump(func(s *Stats) {
		if action == ActionMerge {
			s.Merged++
		} else {
			s.Updated++
		}
	})
	return Outcome{Success: true, Action: outcome, ID: id, Duplicate: p.match.Reason, Version: version}
}

func (e *Engine) failed(id uint64, op string, err error) Outcome {
	e.bump(func(s *Stats) { s.WriteErrors++ })
	e.log.Error("ingest: write failed", "op", op, "point_id", id, "error", err)
	return Outcome{Action: OutcomeFailed, ID: id, Reason: err.Error()}
}

// vectorFor returns the record's own vector, an embedding, or a random unit
// vector when neither is usable.
func (e *Engine) vectorFor(ctx context.Context, rec domain.Record) []float32 {
	if len(rec.Vector) > 0 && domain.ValidateVector(rec.Vector, e.dims) == nil {
		return rec.Vector
	}
	if e.embedder != nil {
		embed := resilience.BreakerStage(e.breaker, func(ctx context.Context, text string) fn.Result[[]float32] {
			return fn.FromPair(e.embedder.GenerateEmbedding(ctx, text))
		})
		v, err := embed(ctx, rec.Text()).Unwrap()
		if err == nil {
			err = domain.ValidateVector(v, e.dims)
		}
		if err == nil {
			return v
		}
		e.log.Warn("ingest: embedding unavailable, using random vector", "path", rec.Path, "error", err)
	}
	e.bump(func(s *Stats) { s.EmbeddingFallbacks++ })
	return e.randomVector()
}

func (e *Engine) randomVector() []float32 {
	dims := e.dims
	if dims <= 0 {
		dims = 1
	}
	e.randMu.Lock()
	defer e.randMu.Unlock()
	v := make([]float32, dims)
	var norm float64
	for i := range v {
		x := e.rnd.Float64()*2 - 1
		v[i] = float32(x)
		norm += x * x
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		v[0] = 1
		return v
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

func (e *Engine) bump(f func(*Stats)) {
	e.mu.Lock()
	f(&e.stats)
	e.mu.Unlock()
}

// Stats returns a snapshot of the counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Reset clears the counters, the identity registry and the dedup stats.
func (e *Engine) Reset(ctx context.Context) error {
	e.mu.Lock()
	e.stats = Stats{}
	e.mu.Unlock()
	e.dups.Reset()
	if err := e.ids.Reset(ctx); err != nil {
		return fmt.Errorf("ingest: reset: %w", err)
	}
	return nil
}

// SyncTotal sets TotalPoints from the store's collection info.
func (e *Engine) SyncTotal(ctx context.Context) error {
	info, err := e.store.CollectionInfo(ctx)
	if err != nil {
		return fmt.Errorf("ingest: %w: %w", domain.ErrStoreUnavailable, err)
	}
	e.bump(func(s *Stats) { s.TotalPoints = int64(info.PointsCount) })
	return nil
}

// IsSkip reports whether o is a duplicate skip.
func (o Outcome) IsSkip() bool { return o.Action == OutcomeSkipped }

// Err returns a non-nil error for failed outcomes.
func (o Outcome) Err() error {
	if o.Action != OutcomeFailed {
		return nil
	}
	return errors.New(o.Reason)
}
