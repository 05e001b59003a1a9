package confidence

import "math"

// Strategy names.
const (
	StrategyZeroRelevance  = "zero_relevance"
	StrategyQdrantDominant = "qdrant_dominant"
	StrategyCategoryRich   = "category_rich"
	StrategyPrefixEnhanced = "prefix_enhanced"
	StrategyBalanced       = "balanced"
)

// Rule selects a strategy when Match holds.
type Rule struct {
	Strategy string
	Match    func(Factors) bool
}

// Rules are evaluated in order; the first match wins and balanced is the
// fallback.
var Rules = []Rule{
	{StrategyZeroRelevance, func(f Factors) bool {
		return f.ZeroResolution != nil && f.ZeroResolution.Resolved
	}},
	{StrategyQdrantDominant, func(f Factors) bool {
		return f.QdrantScore != nil && f.QdrantScore.Score > 50 && f.QdrantScore.Confidence > 0.8
	}},
	{StrategyCategoryRich, func(f Factors) bool {
		return f.CategoryBoost != nil && f.CategoryBoost.Boost > 2.0
	}},
	{StrategyPrefixEnhanced, func(f Factors) bool {
		return f.PrefixEnhancement != nil && f.PrefixEnhancement.Matches > 5
	}},
}

// SelectStrategy applies Rules to f.
func SelectStrategy(f Factors) string {
	return selectFrom(Rules, f)
}

func selectFrom(rules []Rule, f Factors) string {
	for _, r := range rules {
		if r.Match(f) {
			return r.Strategy
		}
	}
	return StrategyBalanced
}

// Weights are the per-family weights of a weighted strategy.
type Weights struct {
	QdrantScore       float64 `json:"qdrantScore" toml:"qdrant_score"`
	CategoryBoost     float64 `json:"categoryBoost" toml:"category_boost"`
	PrefixEnhancement float64 `json:"prefixEnhancement" toml:"prefix_enhancement"`
	Contextual        float64 `json:"contextual" toml:"contextual"`
}

// DefaultWeights are the balanced weights.
var DefaultWeights = Weights{QdrantScore: 0.4, CategoryBoost: 0.3, PrefixEnhancement: 0.2, Contextual: 0.1}

// Profiles are the fixed weights of the non-balanced strategies.
var Profiles = map[string]Weights{
	StrategyQdrantDominant: {QdrantScore: 0.6, CategoryBoost: 0.2, PrefixEnhancement: 0.1, Contextual: 0.1},
	StrategyCategoryRich:   {QdrantScore: 0.3, CategoryBoost: 0.4, PrefixEnhancement: 0.2, Contextual: 0.1},
	StrategyPrefixEnhanced: {QdrantScore: 0.3, CategoryBoost: 0.2, PrefixEnhancement: 0.4, Contextual: 0.1},
}

// Sum adds the four weights.
func (w Weights) Sum() float64 {
	return w.QdrantScore + w.CategoryBoost + w.PrefixEnhancement + w.Contextual
}

// AsMap keys the weights by factor family.
func (w Weights) AsMap() map[string]float64 {
	return map[string]float64{
		FactorQdrant:     w.QdrantScore,
		FactorCategory:   w.CategoryBoost,
		FactorPrefix:     w.PrefixEnhancement,
		FactorContextual: w.Contextual,
	}
}

// Merge returns w with the entries of m applied. Unknown keys fail.
func (w Weights) Merge(m map[string]float64) (Weights, bool) {
	for k, v := range m {
		switch k {
		case FactorQdrant:
			w.QdrantScore = v
		case FactorCategory:
			w.CategoryBoost = v
		case FactorPrefix:
			w.PrefixEnhancement = v
		case FactorContextual:
			w.Contextual = v
		default:
			return w, false
		}
	}
	return w, true
}

// Valid reports whether every weight is in [0,1] and the total is positive.
func (w Weights) Valid() bool {
	for _, v := range w.AsMap() {
		if !(v >= 0 && v <= 1) {
			return false
		}
	}
	return w.Sum() > 0
}

// Normalized scales w to sum to 1. Weights already summing to 1 are
// returned unchanged.
func (w Weights) Normalized() Weights {
	s := w.Sum()
	if s <= 0 || math.Abs(s-1) < 1e-9 {
		return w
	}
	return Weights{
		QdrantScore:       w.QdrantScore / s,
		CategoryBoost:     w.CategoryBoost / s,
		PrefixEnhancement: w.PrefixEnhancement / s,
		Contextual:        w.Contextual / s,
	}
}
