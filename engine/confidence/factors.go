// Package confidence combines independent relevance signals into one
// bounded confidence score per point.
package confidence

// QdrantScore is the semantic similarity signal, 0-100.
type QdrantScore struct {
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source,omitempty"`
}

// CategoryBoost is a multiplicative uplift from categorisation, 1 meaning none.
type CategoryBoost struct {
	Boost      float64 `json:"boost"`
	Confidence float64 `json:"confidence"`
	Strategy   string  `json:"strategy,omitempty"`
}

// PrefixEnhancement is the prefix-match signal; Enhancement is 0-0.2.
type PrefixEnhancement struct {
	Enhancement float64 `json:"enhancement"`
	Confidence  float64 `json:"confidence"`
	Matches     int     `json:"matches"`
}

// ZeroResolution is a rescue score for items that scored zero relevance.
type ZeroResolution struct {
	Resolved   bool    `json:"resolved"`
	NewScore   float64 `json:"newScore"`
	Confidence float64 `json:"confidence"`
	Method     string  `json:"method,omitempty"`
}

// Contextual holds cheap signals about the item itself. Recency and
// PathRelevance are 0-1.
type Contextual struct {
	Recency           float64 `json:"recency"`
	SizeAppropriate   bool    `json:"sizeAppropriate"`
	PathRelevance     float64 `json:"pathRelevance"`
	QualityIndicators int     `json:"qualityIndicators"`
}

// Composite is recency*10 + 5 for an appropriate size + pathRelevance*8 +
// min(quality*2, 12), capped at 30.
func (c Contextual) Composite() float64 {
	v := c.Recency*10 + c.PathRelevance*8 + min(float64(c.QualityIndicators)*2, 12)
	if c.SizeAppropriate {
		v += 5
	}
	return min(v, 30)
}

// Confidence is the composite as a fraction of its cap.
func (c Contextual) Confidence() float64 {
	return min(max(c.Composite()/30, 0), 1)
}

// Factors is one sub-record per signal family; nil means the signal is absent.
type Factors struct {
	QdrantScore       *QdrantScore       `json:"qdrantScore,omitempty"`
	CategoryBoost     *CategoryBoost     `json:"categoryBoost,omitempty"`
	PrefixEnhancement *PrefixEnhancement `json:"prefixEnhancement,omitempty"`
	ZeroResolution    *ZeroResolution    `json:"zeroResolution,omitempty"`
	Contextual        *Contextual        `json:"contextual,omitempty"`
}

// Factor family names used in breakdowns, weights and failure counters.
const (
	FactorQdrant     = "qdrantScore"
	FactorCategory   = "categoryBoost"
	FactorPrefix     = "prefixEnhancement"
	FactorZero       = "zeroResolution"
	FactorContextual = "contextual"
)
