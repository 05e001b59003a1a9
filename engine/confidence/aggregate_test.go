package confidence

import (
	"math"
	"math/rand"
	"testing"
)

func qs(score, conf float64) *QdrantScore { return &QdrantScore{Score: score, Confidence: conf} }

func TestSelectStrategyPrecedence(t *testing.T) {
	tests := []struct {
		name string
		f    Factors
		want string
	}{
		{"empty", Factors{}, StrategyBalanced},
		{"zero beats qdrant", Factors{
			ZeroResolution: &ZeroResolution{Resolved: true},
			QdrantScore:    qs(90, 0.95),
		}, StrategyZeroRelevance},
		{"unresolved zero ignored", Factors{ZeroResolution: &ZeroResolution{}}, StrategyBalanced},
		{"qdrant dominant", Factors{QdrantScore: qs(75, 0.9)}, StrategyQdrantDominant},
		{"qdrant thresholds unmet", Factors{
			QdrantScore:       qs(75, 0.8),
			CategoryBoost:     &CategoryBoost{Boost: 1.8},
			PrefixEnhancement: &PrefixEnhancement{Matches: 8},
		}, StrategyPrefixEnhanced},
		{"category before prefix", Factors{
			CategoryBoost:     &CategoryBoost{Boost: 2.5},
			PrefixEnhancement: &PrefixEnhancement{Matches: 8},
		}, StrategyCategoryRich},
		{"boost exactly 2", Factors{CategoryBoost: &CategoryBoost{Boost: 2}}, StrategyBalanced},
		{"five matches", Factors{PrefixEnhancement: &PrefixEnhancement{Matches: 5}}, StrategyBalanced},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SelectStrategy(tt.f); got != tt.want {
				t.Errorf("SelectStrategy = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestAggregateWeighted(t *testing.T) {
	a := New(Weights{}, Sources{}, nil)

	r := a.Aggregate(Factors{QdrantScore: qs(60, 0.5)}, Options{})
	if r.Strategy != StrategyBalanced || r.FinalScore != 60 || r.Confidence != 0.5 {
		t.Fatalf("qdrant only: %+v", r)
	}

	r = a.Aggregate(Factors{PrefixEnhancement: &PrefixEnhancement{Enhancement: 0.1, Confidence: 0.7, Matches: 3}}, Options{})
	if r.FinalScore != 10 || r.Confidence != 0.7 {
		t.Fatalf("prefix only: %+v", r)
	}
	if math.Abs(r.Breakdown[FactorPrefix]-2) > 1e-9 {
		t.Fatalf("breakdown = %v", r.Breakdown)
	}

	// 24 from qdrant, then 24*(1.5-1)*0.3 = 3.6 uplift; total weight 0.7.
	r = a.Aggregate(Factors{QdrantScore: qs(60, 0.5), CategoryBoost: &CategoryBoost{Boost: 1.5, Confidence: 1}}, Options{})
	if r.FinalScore != 39 || r.Confidence != 0.714 {
		t.Fatalf("qdrant+category: %+v", r)
	}
}

func TestAggregateCategoryWithoutRunningScore(t *testing.T) {
	a := New(Weights{}, Sources{}, nil)
	r := a.Aggregate(Factors{CategoryBoost: &CategoryBoost{Boost: 1.8, Confidence: 0.6}}, Options{})
	// 10*(0.8)*0.3 / 0.3
	if r.FinalScore != 8 || r.Confidence != 0.6 {
		t.Fatalf("got %+v", r)
	}
}

func TestAggregateZeroRelevance(t *testing.T) {
	a := New(Weights{}, Sources{}, nil)
	f := Factors{
		ZeroResolution: &ZeroResolution{Resolved: true, NewScore: 50, Confidence: 0.5},
		Contextual:     &Contextual{Recency: 1, SizeAppropriate: true, PathRelevance: 0.5, QualityIndicators: 3},
	}
	r := a.Aggregate(f, Options{})
	if r.Strategy != StrategyZeroRelevance || r.FinalScore != 40 || r.Confidence != 0.4 {
		t.Fatalf("got %+v", r)
	}
}

func TestAggregateProfileWeights(t *testing.T) {
	a := New(Weights{}, Sources{}, nil)
	r := a.Aggregate(Factors{QdrantScore: qs(80, 0.9)}, Options{})
	if r.Weights != Profiles[StrategyQdrantDominant] {
		t.Fatalf("weights = %+v", r.Weights)
	}
	r = a.Aggregate(Factors{QdrantScore: qs(80, 0.9)}, Options{Strategy: StrategyBalanced})
	if r.Strategy != StrategyBalanced || r.Weights != a.Weights() {
		t.Fatalf("forced = %+v", r)
	}
}

func TestAggregateNormalizer(t *testing.T) {
	a := New(Weights{}, Sources{}, nil)
	f := Factors{QdrantScore: qs(60, 0.5)}
	if r := a.Aggregate(f, Options{Normalizer: &Linear{Slope: 0.5, Intercept: 10}}); r.FinalScore != 40 {
		t.Fatalf("normalised = %v", r.FinalScore)
	}
	if r := a.Aggregate(f, Options{Normalizer: &Linear{Slope: 3}}); r.FinalScore != 100 {
		t.Fatalf("clamped = %v", r.FinalScore)
	}
}

func randomFactors(r *rand.Rand) Factors {
	num := func() float64 {
		switch r.Intn(12) {
		case 0:
			return math.NaN()
		case 1:
			return math.Inf(1 - 2*r.Intn(2))
		case 2:
			return 0
		case 3:
			return -r.Float64() * 1000
		default:
			return r.Float64() * 200
		}
	}
	var f Factors
	if r.Intn(2) == 0 {
		f.QdrantScore = &QdrantScore{Score: num(), Confidence: num()}
	}
	if r.Intn(2) == 0 {
		f.CategoryBoost = &CategoryBoost{Boost: num(), Confidence: num()}
	}
	if r.Intn(2) == 0 {
		f.PrefixEnhancement = &PrefixEnhancement{Enhancement: num(), Confidence: num(), Matches: r.Intn(12)}
	}
	if r.Intn(2) == 0 {
		f.ZeroResolution = &ZeroResolution{Resolved: r.Intn(2) == 0, NewScore: num(), Confidence: num()}
	}
	if r.Intn(2) == 0 {
		f.Contextual = &Contextual{Recency: num(), SizeAppropriate: r.Intn(2) == 0, PathRelevance: num(), QualityIndicators: r.Intn(10) - 2}
	}
	return f
}

func TestAggregateAlwaysBounded(t *testing.T) {
	a := New(Weights{}, Sources{}, nil)
	check := func(f Factors, opts Options) {
		t.Helper()
		r := a.Aggregate(f, opts)
		if math.IsNaN(r.FinalScore) || r.FinalScore < 0 || r.FinalScore > 100 {
			t.Fatalf("finalScore %v out of range for %+v", r.FinalScore, f)
		}
		if math.IsNaN(r.Confidence) || r.Confidence < 0 || r.Confidence > 1 {
			t.Fatalf("confidence %v out of range for %+v", r.Confidence, f)
		}
	}

	check(Factors{}, Options{})
	check(Factors{
		QdrantScore:       &QdrantScore{},
		CategoryBoost:     &CategoryBoost{},
		PrefixEnhancement: &PrefixEnhancement{},
		ZeroResolution:    &ZeroResolution{},
		Contextual:        &Contextual{},
	}, Options{})

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 3000; i++ {
		opts := Options{}
		if rng.Intn(4) == 0 {
			opts.Normalizer = &Linear{Slope: rng.Float64()*4 - 2, Intercept: rng.Float64()*100 - 50}
		}
		check(randomFactors(rng), opts)
	}
}

func TestAggregateCache(t *testing.T) {
	a := New(Weights{}, Sources{}, nil)
	f := Factors{QdrantScore: qs(60, 0.5)}

	first := a.Aggregate(f, Options{})
	second := a.Aggregate(f, Options{})
	if first.Cached || !second.Cached || second.FinalScore != first.FinalScore {
		t.Fatalf("first=%+v second=%+v", first, second)
	}
	second.Breakdown[FactorQdrant] = -1
	if third := a.Aggregate(f, Options{}); third.Breakdown[FactorQdrant] == -1 {
		t.Fatal("cached breakdown aliased")
	}
	if a.Aggregate(f, Options{Normalizer: &Linear{Slope: 1}}).Cached {
		t.Fatal("options must be part of the key")
	}
	if st := a.Stats(); st.CacheHits != 2 || st.CacheSize != 2 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestAggregateNaNNotCached(t *testing.T) {
	a := New(Weights{}, Sources{}, nil)
	f := Factors{QdrantScore: qs(math.NaN(), 0.5)}
	a.Aggregate(f, Options{})
	if r := a.Aggregate(f, Options{}); r.Cached || a.Stats().CacheSize != 0 {
		t.Fatalf("NaN input cached: %+v", r)
	}
}

func TestCacheEviction(t *testing.T) {
	a := New(Weights{}, Sources{}, nil)
	for i := 0; i <= CacheSize; i++ {
		a.Aggregate(Factors{QdrantScore: qs(float64(i), 0.5)}, Options{})
	}
	if got := a.Stats().CacheSize; got != CacheSize+1-CacheEvict {
		t.Fatalf("cache size = %d", got)
	}
	// The oldest entries went first.
	if a.Aggregate(Factors{QdrantScore: qs(0, 0.5)}, Options{}).Cached {
		t.Fatal("oldest entry survived eviction")
	}
	if !a.Aggregate(Factors{QdrantScore: qs(float64(CacheSize), 0.5)}, Options{}).Cached {
		t.Fatal("newest entry evicted")
	}
}

func TestSetWeights(t *testing.T) {
	a := New(Weights{}, Sources{}, nil)
	a.Aggregate(Factors{QdrantScore: qs(60, 0.5)}, Options{})
	before := a.Weights()

	for _, bad := range []map[string]float64{
		{"qdrantScore": 2},
		{"qdrantScore": -0.1},
		{"bogus": 0.5},
		{"qdrantScore": 0, "categoryBoost": 0, "prefixEnhancement": 0, "contextual": 0},
		{"contextual": math.NaN()},
	} {
		if a.SetWeights(bad) {
			t.Fatalf("SetWeights(%v) accepted", bad)
		}
		if a.Weights() != before {
			t.Fatalf("weights changed by %v: %+v", bad, a.Weights())
		}
	}
	if st := a.Stats(); st.CacheSize != 1 || st.RejectedWeight != 5 {
		t.Fatalf("rejected update touched state: %+v", st)
	}

	if !a.SetWeights(map[string]float64{"contextual": 0.6}) {
		t.Fatal("valid update rejected")
	}
	w := a.Weights()
	if math.Abs(w.Sum()-1) > 1e-9 || math.Abs(w.Contextual-0.6/1.5) > 1e-9 {
		t.Fatalf("weights = %+v", w)
	}
	if st := a.Stats(); st.CacheSize != 0 || st.WeightUpdates != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestResetKeepsWeights(t *testing.T) {
	a := New(Weights{QdrantScore: 1}, Sources{}, nil)
	a.Aggregate(Factors{QdrantScore: qs(60, 0.5)}, Options{})
	a.Reset()
	if st := a.Stats(); st.Aggregations != 0 || st.CacheSize != 0 {
		t.Fatalf("stats = %+v", st)
	}
	if a.Weights() != (Weights{QdrantScore: 1}) {
		t.Fatalf("weights = %+v", a.Weights())
	}
}
