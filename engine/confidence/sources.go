package confidence

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/chakssp/vcia-dhl-sub005/engine/domain"
)

// Subject is the point being scored.
type Subject struct {
	ID      uint64
	Payload domain.Payload
}

// ScoreContext carries the caller's view of the scoring request.
type ScoreContext struct {
	Now   time.Time
	Terms []string // query or topic terms for path relevance
}

// Each upstream service returns nil, nil when it has nothing to say.
type (
	SemanticScorer interface {
		SemanticScore(ctx context.Context, s Subject, sc ScoreContext) (*QdrantScore, error)
	}
	CategoryBooster interface {
		CategoryBoost(ctx context.Context, s Subject, sc ScoreContext) (*CategoryBoost, error)
	}
	PrefixEnhancer interface {
		PrefixEnhancement(ctx context.Context, s Subject, sc ScoreContext) (*PrefixEnhancement, error)
	}
	ZeroResolver interface {
		ResolveZero(ctx context.Context, s Subject, sc ScoreContext) (*ZeroResolution, error)
	}
)

// Sources groups the factor services. Nil members are skipped.
type Sources struct {
	Semantic SemanticScorer
	Category CategoryBooster
	Prefix   PrefixEnhancer
	Zero     ZeroResolver
	Context  *ContextAnalyzer
}

// Defaults used when a configured source fails.
var (
	defaultQdrant   = QdrantScore{Source: "default"}
	defaultCategory = CategoryBoost{Boost: 1, Strategy: "default"}
	defaultPrefix   = PrefixEnhancement{}
	defaultZero     = ZeroResolution{Method: "default"}
)

// CollectFactors asks every configured source for its factor. A failing
// source contributes its zero-confidence default and is counted; it never
// aborts collection.
func (a *Aggregator) CollectFactors(ctx context.Context, s Subject, sc ScoreContext) Factors {
	var f Factors
	src := a.sources

	if src.Semantic != nil {
		f.QdrantScore = collect(ctx, a, FactorQdrant, defaultQdrant, func() (*QdrantScore, error) {
			return src.Semantic.SemanticScore(ctx, s, sc)
		})
	}
	if src.Category != nil {
		f.CategoryBoost = collect(ctx, a, FactorCategory, defaultCategory, func() (*CategoryBoost, error) {
			return src.Category.CategoryBoost(ctx, s, sc)
		})
	}
	if src.Prefix != nil {
		f.PrefixEnhancement = collect(ctx, a, FactorPrefix, defaultPrefix, func() (*PrefixEnhancement, error) {
			return src.Prefix.PrefixEnhancement(ctx, s, sc)
		})
	}
	if src.Zero != nil {
		f.ZeroResolution = collect(ctx, a, FactorZero, defaultZero, func() (*ZeroResolution, error) {
			return src.Zero.ResolveZero(ctx, s, sc)
		})
	}
	if src.Context != nil {
		c := src.Context.Analyze(s.Payload, sc)
		f.Contextual = &c
	}
	return f
}

func collect[T any](ctx context.Context, a *Aggregator, name string, def T, call func() (*T, error)) (out *T) {
	defer func() {
		if r := recover(); r != nil {
			a.sourceFailed(name)
			a.log.Warn("confidence: source panicked", "source", name, "panic", fmt.Sprint(r))
			d := def
			out = &d
		}
	}()
	if err := ctx.Err(); err != nil {
		a.sourceFailed(name)
		d := def
		return &d
	}
	v, err := call()
	if err != nil {
		a.sourceFailed(name)
		a.log.Warn("confidence: source failed", "source", name, "error", err)
		d := def
		return &d
	}
	return v
}

// ContextAnalyzer derives the contextual factor from a payload.
type ContextAnalyzer struct {
	MinSize int64 // default 500
	MaxSize int64 // default 50000
}

// Recency buckets by age of the file.
var recencyBuckets = []struct {
	within time.Duration
	value  float64
}{
	{7 * 24 * time.Hour, 1.0},
	{30 * 24 * time.Hour, 0.7},
	{90 * 24 * time.Hour, 0.4},
}

// Analyze computes recency from fileModified (or lastModified), size
// fitness, the share of terms found in the path, and quality markers.
func (c *ContextAnalyzer) Analyze(p domain.Payload, sc ScoreContext) Contextual {
	now := sc.Now
	if now.IsZero() {
		now = time.Now()
	}
	minSize, maxSize := c.MinSize, c.MaxSize
	if minSize <= 0 {
		minSize = 500
	}
	if maxSize <= 0 {
		maxSize = 50000
	}

	out := Contextual{
		SizeAppropriate:   p.Size >= minSize && p.Size <= maxSize,
		PathRelevance:     pathRelevance(p, sc.Terms),
		QualityIndicators: qualityIndicators(p),
	}
	if t, ok := modified(p); ok {
		age := now.Sub(t)
		out.Recency = 0.1
		for _, b := range recencyBuckets {
			if age < b.within {
				out.Recency = b.value
				break
			}
		}
	}
	return out
}

func modified(p domain.Payload) (time.Time, bool) {
	if p.FileModified > 0 {
		return time.UnixMilli(p.FileModified), true
	}
	if p.LastModified != "" {
		if t, err := time.Parse(time.RFC3339Nano, p.LastModified); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// pathRelevance is the share of terms, or categories when no terms are
// given, that occur in the file path.
func pathRelevance(p domain.Payload, terms []string) float64 {
	if len(terms) == 0 {
		terms = p.Categories
	}
	path := strings.ToLower(p.FilePath)
	if path == "" || len(terms) == 0 {
		return 0
	}
	hits, n := 0, 0
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		n++
		if strings.Contains(path, t) {
			hits++
		}
	}
	if n == 0 {
		return 0
	}
	return float64(hits) / float64(n)
}

func qualityIndicators(p domain.Payload) int {
	n := 0
	for _, ok := range []bool{
		len(p.Categories) > 0,
		p.Analyzed != nil && *p.Analyzed,
		p.Approved != nil && *p.Approved,
		strings.TrimSpace(p.Preview) != "",
		strings.TrimSpace(p.AnalysisType) != "",
		len(p.Keywords) > 0,
		p.RelevanceScore != nil && *p.RelevanceScore > 50,
	} {
		if ok {
			n++
		}
	}
	return n
}

// Payload keys read by PayloadSources beyond the well-known fields.
const (
	KeyPrefixMatches           = "prefixMatches"
	KeyZeroRelevanceResolved   = "zeroRelevanceResolved"
	KeyZeroRelevanceScore      = "zeroRelevanceScore"
	KeyZeroRelevanceConfidence = "zeroRelevanceConfidence"
	KeyZeroRelevanceMethod     = "zeroRelevanceMethod"
)

// PayloadSources reads every factor from fields already stored on the
// point, so stored points can be scored without the upstream services.
type PayloadSources struct{}

// NewPayloadSources returns Sources backed entirely by the payload.
func NewPayloadSources() Sources {
	ps := PayloadSources{}
	return Sources{Semantic: ps, Category: ps, Prefix: ps, Zero: ps, Context: &ContextAnalyzer{}}
}

func (PayloadSources) SemanticScore(_ context.Context, s Subject, _ ScoreContext) (*QdrantScore, error) {
	p := s.Payload
	if p.RelevanceScore == nil {
		return nil, nil
	}
	conf := 0.6
	if p.Analyzed != nil && *p.Analyzed {
		conf = 0.9
	}
	return &QdrantScore{Score: *p.RelevanceScore, Confidence: conf, Source: "payload"}, nil
}

func (PayloadSources) CategoryBoost(_ context.Context, s Subject, _ ScoreContext) (*CategoryBoost, error) {
	n := len(s.Payload.Categories)
	if n == 0 {
		return nil, nil
	}
	return &CategoryBoost{
		Boost:      1 + 0.1*float64(min(n, 15)),
		Confidence: math.Min(0.5+0.1*float64(n), 1),
		Strategy:   "payload_categories",
	}, nil
}

func (PayloadSources) PrefixEnhancement(_ context.Context, s Subject, _ ScoreContext) (*PrefixEnhancement, error) {
	v, ok := s.Payload.Get(KeyPrefixMatches)
	if !ok {
		return nil, nil
	}
	n, ok := domain.AsInt(v)
	if !ok {
		return nil, fmt.Errorf("confidence: %s is %T", KeyPrefixMatches, v)
	}
	return &PrefixEnhancement{
		Enhancement: math.Min(0.02*float64(n), 0.2),
		Confidence:  0.7,
		Matches:     int(n),
	}, nil
}

func (PayloadSources) ResolveZero(_ context.Context, s Subject, _ ScoreContext) (*ZeroResolution, error) {
	p := s.Payload
	if p.RelevanceScore != nil && *p.RelevanceScore > 0 {
		return nil, nil
	}
	v, ok := p.Get(KeyZeroRelevanceResolved)
	if !ok {
		return nil, nil
	}
	resolved, _ := v.(bool)
	zr := &ZeroResolution{Resolved: resolved, Method: "payload"}
	if v, ok := p.Get(KeyZeroRelevanceScore); ok {
		zr.NewScore, _ = domain.AsFloat(v)
	}
	if v, ok := p.Get(KeyZeroRelevanceConfidence); ok {
		zr.Confidence, _ = domain.AsFloat(v)
	}
	if v, ok := p.Get(KeyZeroRelevanceMethod); ok {
		if m, ok := domain.AsString(v); ok && m != "" {
			zr.Method = m
		}
	}
	return zr, nil
}
