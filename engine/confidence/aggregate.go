package confidence

import (
	"encoding/json"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const (
	// CacheSize bounds the result cache.
	CacheSize = 500
	// CacheEvict is how many of the oldest entries go when the cache is full.
	CacheEvict = 50
	// Budget is the target duration of one aggregation.
	Budget = 50 * time.Millisecond
)

// Linear is an optional final rescaling: score*Slope + Intercept.
type Linear struct {
	Slope     float64 `json:"slope"`
	Intercept float64 `json:"intercept"`
}

// Options tune one aggregation. They are part of the cache key.
type Options struct {
	Normalizer *Linear `json:"normalizer,omitempty"`
	// Strategy forces a strategy instead of selecting one.
	Strategy string `json:"strategy,omitempty"`
}

// Result is one aggregated score.
type Result struct {
	FinalScore float64            `json:"finalScore"`
	Confidence float64            `json:"confidence"`
	Strategy   string             `json:"strategy"`
	Breakdown  map[string]float64 `json:"breakdown"`
	Weights    Weights            `json:"weights"`
	Timestamp  time.Time          `json:"timestamp"`
	Cached     bool               `json:"cached,omitempty"`
}

// Stats counts aggregator activity.
type Stats struct {
	Aggregations   int64            `json:"aggregations"`
	CacheHits      int64            `json:"cacheHits"`
	CacheSize      int              `json:"cacheSize"`
	BudgetBreaches int64            `json:"budgetBreaches"`
	LastDuration   time.Duration    `json:"lastDuration"`
	SourceFailures map[string]int64 `json:"sourceFailures"`
	WeightUpdates  int64            `json:"weightUpdates"`
	RejectedWeight int64            `json:"rejectedWeights"`
}

// Aggregator computes confidence results. It is safe for concurrent use.
type Aggregator struct {
	log     *slog.Logger
	now     func() time.Time
	sources Sources

	mu      sync.Mutex
	weights Weights
	cache   map[uint64]Result
	order   []uint64
	stats   Stats
}

// New creates an Aggregator with the given balanced weights; zero weights
// mean DefaultWeights.
func New(weights Weights, sources Sources, log *slog.Logger) *Aggregator {
	if log == nil {
		log = slog.Default()
	}
	if weights == (Weights{}) {
		weights = DefaultWeights
	}
	return &Aggregator{
		log:     log,
		now:     time.Now,
		sources: sources,
		weights: weights.Normalized(),
		cache:   make(map[uint64]Result),
		stats:   Stats{SourceFailures: map[string]int64{}},
	}
}

// Weights returns the current balanced weights.
func (a *Aggregator) Weights() Weights {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.weights
}

// SetWeights merges m into the balanced weights. Keys are factor family
// names. It returns false and changes nothing if a key is unknown, a value
// is outside [0,1] or the total would be 0; otherwise the set is normalised
// to sum to 1 and the cache is cleared.
func (a *Aggregator) SetWeights(m map[string]float64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	next, ok := a.weights.Merge(m)
	if !ok || !next.Valid() {
		a.stats.RejectedWeight++
		a.log.Warn("confidence: weights rejected", "weights", m)
		return false
	}
	a.weights = next.Normalized()
	a.clearCacheLocked()
	a.stats.WeightUpdates++
	return true
}

// Aggregate selects a strategy for f and combines it into a Result.
func (a *Aggregator) Aggregate(f Factors, opts Options) Result {
	start := time.Now()
	weights := a.Weights()

	key, keyed := cacheKey(f, weights, opts)
	if keyed {
		a.mu.Lock()
		if r, ok := a.cache[key]; ok {
			a.stats.CacheHits++
			a.mu.Unlock()
			r.Cached = true
			r.Breakdown = cloneBreakdown(r.Breakdown)
			return r
		}
		a.mu.Unlock()
	}

	strategy := opts.Strategy
	if strategy == "" {
		strategy = SelectStrategy(f)
	}
	w := weights
	if p, ok := Profiles[strategy]; ok {
		w = p
	}

	var r Result
	if strategy == StrategyZeroRelevance && f.ZeroResolution != nil {
		r = zeroRelevance(f)
	} else {
		r = weighted(f, w)
	}
	r.Strategy = strategy
	r.Weights = w
	r.Timestamp = a.now()
	r = normalize(r, opts.Normalizer)

	elapsed := time.Since(start)
	a.mu.Lock()
	a.stats.Aggregations++
	a.stats.LastDuration = elapsed
	if elapsed > Budget {
		a.stats.BudgetBreaches++
	}
	if keyed {
		a.putLocked(key, r)
	}
	a.mu.Unlock()
	if elapsed > Budget {
		a.log.Warn("confidence: aggregation over budget", "duration", elapsed, "strategy", strategy)
	}

	r.Breakdown = cloneBreakdown(r.Breakdown)
	return r
}

func zeroRelevance(f Factors) Result {
	ctxScore := 0.0
	if f.Contextual != nil {
		ctxScore = f.Contextual.Composite()
	}
	zr := f.ZeroResolution
	return Result{
		FinalScore: zr.NewScore*0.6 + ctxScore*0.4,
		Confidence: zr.Confidence * 0.8,
		Breakdown: map[string]float64{
			FactorZero:       zr.NewScore * 0.6,
			FactorContextual: ctxScore * 0.4,
		},
	}
}

// weighted sums the contributions of the present factors and divides by the
// weight of those factors.
func weighted(f Factors, w Weights) Result {
	var total, totalWeight, conf float64
	breakdown := make(map[string]float64, 4)

	if q := f.QdrantScore; q != nil {
		c := q.Score * w.QdrantScore
		breakdown[FactorQdrant] = c
		total += c
		totalWeight += w.QdrantScore
		conf += q.Confidence * w.QdrantScore
	}
	if b := f.CategoryBoost; b != nil {
		base := total
		if base == 0 {
			base = 10
		}
		c := base * (b.Boost - 1) * w.CategoryBoost
		breakdown[FactorCategory] = c
		total += c
		totalWeight += w.CategoryBoost
		conf += b.Confidence * w.CategoryBoost
	}
	if p := f.PrefixEnhancement; p != nil {
		c := p.Enhancement * 100 * w.PrefixEnhancement
		breakdown[FactorPrefix] = c
		total += c
		totalWeight += w.PrefixEnhancement
		conf += p.Confidence * w.PrefixEnhancement
	}
	if x := f.Contextual; x != nil {
		c := x.Composite() * w.Contextual
		breakdown[FactorContextual] = c
		total += c
		totalWeight += w.Contextual
		conf += x.Confidence() * w.Contextual
	}

	if totalWeight <= 0 {
		return Result{Breakdown: breakdown}
	}
	return Result{FinalScore: total / totalWeight, Confidence: conf / totalWeight, Breakdown: breakdown}
}

// normalize applies the optional normaliser, clamps the score to [0,100]
// and rounds it, and clamps confidence to [0,1] at three decimals.
func normalize(r Result, lin *Linear) Result {
	s := r.FinalScore
	if lin != nil {
		s = s*lin.Slope + lin.Intercept
	}
	r.FinalScore = math.Round(clamp(s, 0, 100))
	r.Confidence = math.Round(clamp(r.Confidence, 0, 1)*1000) / 1000
	return r
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Min(math.Max(v, lo), hi)
}

func cacheKey(f Factors, w Weights, o Options) (uint64, bool) {
	data, err := json.Marshal(struct {
		F Factors
		W Weights
		O Options
	}{f, w, o})
	if err != nil {
		// NaN and Inf are not encodable; such inputs are simply not cached.
		return 0, false
	}
	return xxhash.Sum64(data), true
}

func (a *Aggregator) putLocked(key uint64, r Result) {
	if _, ok := a.cache[key]; ok {
		return
	}
	if len(a.cache) >= CacheSize {
		n := min(CacheEvict, len(a.order))
		for _, k := range a.order[:n] {
			delete(a.cache, k)
		}
		a.order = append(a.order[:0:0], a.order[n:]...)
	}
	a.cache[key] = r
	a.order = append(a.order, key)
}

func (a *Aggregator) clearCacheLocked() {
	a.cache = make(map[uint64]Result)
	a.order = nil
}

// ClearCache drops every cached result.
func (a *Aggregator) ClearCache() {
	a.mu.Lock()
	a.clearCacheLocked()
	a.mu.Unlock()
}

// Stats returns a snapshot of the counters.
func (a *Aggregator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.stats
	s.CacheSize = len(a.cache)
	s.SourceFailures = make(map[string]int64, len(a.stats.SourceFailures))
	for k, v := range a.stats.SourceFailures {
		s.SourceFailures[k] = v
	}
	return s
}

// Reset clears the cache and counters. Weights are kept.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.clearCacheLocked()
	a.stats = Stats{SourceFailures: map[string]int64{}}
	a.mu.Unlock()
}

func (a *Aggregator) sourceFailed(name string) {
	a.mu.Lock()
	a.stats.SourceFailures[name]++
	a.mu.Unlock()
}

func cloneBreakdown(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
