package domain

import (
	"encoding/json"
	"maps"
	"slices"
)

// Payload keys of the well-known fields.
const (
	KeyID                  = "id"
	KeyFilePath            = "filePath"
	KeyFileName            = "fileName"
	KeyContent             = "content"
	KeyContentHash         = "contentHash"
	KeyChunkIndex          = "chunkIndex"
	KeySize                = "size"
	KeyFileModified        = "fileModified"
	KeyCategories          = "categories"
	KeyAnalyzed            = "analyzed"
	KeyApproved            = "approved"
	KeyRelevanceScore      = "relevanceScore"
	KeyPreview             = "preview"
	KeyAnalysisType        = "analysisType"
	KeyVersion             = "version"
	KeyEnrichmentLevel     = "enrichmentLevel"
	KeyInsertedAt          = "insertedAt"
	KeyLastModified        = "lastModified"
	KeyLastEnriched        = "lastEnriched"
	KeyLastMerged          = "lastMerged"
	KeyMergeCount          = "mergeCount"
	KeyAggregationStrategy = "aggregationStrategy"
	KeyKeywords            = "keywords"
	KeySentiment           = "sentiment"
	KeyDecisiveMoment      = "decisiveMoment"
	KeyBreakthrough        = "breakthrough"
	KeyConfidenceScore     = "confidenceScore"
	KeyExpertiseLevel      = "expertiseLevel"
	KeyQuestionTypes       = "questionTypes"
	KeyRelatedChunks       = "relatedChunks"
	KeyHasCodeExamples     = "hasCodeExamples"
	KeyHasActionItems      = "hasActionItems"
)

// Payload is the structured metadata of a point: the well-known fields are
// typed, anything else travels in Extra. Optional scalars are pointers so
// that "unset" and "false/zero" stay distinguishable.
type Payload struct {
	FilePath     string
	FileName     string
	Content      string
	ContentHash  string
	ChunkIndex   *int
	Size         int64
	FileModified int64

	Categories     []string
	Analyzed       *bool
	Approved       *bool
	RelevanceScore *float64
	Preview        string
	AnalysisType   string

	Version             int
	EnrichmentLevel     int
	InsertedAt          string
	LastModified        string
	LastEnriched        string
	LastMerged          string
	MergeCount          int
	AggregationStrategy string

	Keywords        []string
	Sentiment       string
	DecisiveMoment  *bool
	Breakthrough    *bool
	ConfidenceScore *int
	ExpertiseLevel  string
	QuestionTypes   []string
	RelatedChunks   []uint64
	HasCodeExamples *bool
	HasActionItems  *bool

	Extra map[string]any
}

// ToMap flattens the payload into an open map. Unset fields are omitted.
func (p Payload) ToMap() map[string]any {
	m := make(map[string]any, len(p.Extra)+16)
	for k, v := range p.Extra {
		m[k] = CloneValue(v)
	}
	putString(m, KeyFilePath, p.FilePath)
	putString(m, KeyFileName, p.FileName)
	putString(m, KeyContent, p.Content)
	putString(m, KeyContentHash, p.ContentHash)
	if p.ChunkIndex != nil {
		m[KeyChunkIndex] = int64(*p.ChunkIndex)
	}
	putInt(m, KeySize, p.Size)
	putInt(m, KeyFileModified, p.FileModified)

	putStrings(m, KeyCategories, p.Categories)
	putBool(m, KeyAnalyzed, p.Analyzed)
	putBool(m, KeyApproved, p.Approved)
	if p.RelevanceScore != nil {
		m[KeyRelevanceScore] = *p.RelevanceScore
	}
	putString(m, KeyPreview, p.Preview)
	putString(m, KeyAnalysisType, p.AnalysisType)

	putInt(m, KeyVersion, int64(p.Version))
	putInt(m, KeyEnrichmentLevel, int64(p.EnrichmentLevel))
	putString(m, KeyInsertedAt, p.InsertedAt)
	putString(m, KeyLastModified, p.LastModified)
	putString(m, KeyLastEnriched, p.LastEnriched)
	putString(m, KeyLastMerged, p.LastMerged)
	putInt(m, KeyMergeCount, int64(p.MergeCount))
	putString(m, KeyAggregationStrategy, p.AggregationStrategy)

	putStrings(m, KeyKeywords, p.Keywords)
	putString(m, KeySentiment, p.Sentiment)
	putBool(m, KeyDecisiveMoment, p.DecisiveMoment)
	putBool(m, KeyBreakthrough, p.Breakthrough)
	if p.ConfidenceScore != nil {
		m[KeyConfidenceScore] = int64(*p.ConfidenceScore)
	}
	putString(m, KeyExpertiseLevel, p.ExpertiseLevel)
	putStrings(m, KeyQuestionTypes, p.QuestionTypes)
	if len(p.RelatedChunks) > 0 {
		ids := make([]any, len(p.RelatedChunks))
		for i, id := range p.RelatedChunks {
			ids[i] = int64(id)
		}
		m[KeyRelatedChunks] = ids
	}
	putBool(m, KeyHasCodeExamples, p.HasCodeExamples)
	putBool(m, KeyHasActionItems, p.HasActionItems)
	return m
}

// PayloadFromMap is the inverse of ToMap. Values of the wrong type for a
// well-known key are kept in Extra rather than dropped.
func PayloadFromMap(m map[string]any) Payload {
	var p Payload
	extra := make(map[string]any)
	for k, v := range m {
		if v == nil {
			continue
		}
		if !p.set(k, v) {
			extra[k] = CloneValue(v)
		}
	}
	if len(extra) > 0 {
		p.Extra = extra
	}
	return p
}

// set assigns a well-known field and reports whether k was consumed.
func (p *Payload) set(k string, v any) bool {
	var ok bool
	switch k {
	case KeyFilePath:
		p.FilePath, ok = AsString(v)
	case KeyFileName:
		p.FileName, ok = AsString(v)
	case KeyContent:
		p.Content, ok = AsString(v)
	case KeyContentHash:
		p.ContentHash, ok = AsString(v)
	case KeyChunkIndex:
		var n int64
		if n, ok = AsInt(v); ok {
			i := int(n)
			p.ChunkIndex = &i
		}
	case KeySize:
		p.Size, ok = AsInt(v)
	case KeyFileModified:
		p.FileModified, ok = AsInt(v)
	case KeyCategories:
		p.Categories, ok = AsStrings(v)
	case KeyAnalyzed:
		p.Analyzed, ok = boolPtr(v)
	case KeyApproved:
		p.Approved, ok = boolPtr(v)
	case KeyRelevanceScore:
		var f float64
		if f, ok = AsFloat(v); ok {
			p.RelevanceScore = &f
		}
	case KeyPreview:
		p.Preview, ok = AsString(v)
	case KeyAnalysisType:
		p.AnalysisType, ok = AsString(v)
	case KeyVersion:
		p.Version, ok = intField(v)
	case KeyEnrichmentLevel:
		p.EnrichmentLevel, ok = intField(v)
	case KeyInsertedAt:
		p.InsertedAt, ok = AsString(v)
	case KeyLastModified:
		p.LastModified, ok = AsString(v)
	case KeyLastEnriched:
		p.LastEnriched, ok = AsString(v)
	case KeyLastMerged:
		p.LastMerged, ok = AsString(v)
	case KeyMergeCount:
		p.MergeCount, ok = intField(v)
	case KeyAggregationStrategy:
		p.AggregationStrategy, ok = AsString(v)
	case KeyKeywords:
		p.Keywords, ok = AsStrings(v)
	case KeySentiment:
		p.Sentiment, ok = AsString(v)
	case KeyDecisiveMoment:
		p.DecisiveMoment, ok = boolPtr(v)
	case KeyBreakthrough:
		p.Breakthrough, ok = boolPtr(v)
	case KeyConfidenceScore:
		var n int
		if n, ok = intField(v); ok {
			p.ConfidenceScore = &n
		}
	case KeyExpertiseLevel:
		p.ExpertiseLevel, ok = AsString(v)
	case KeyQuestionTypes:
		p.QuestionTypes, ok = AsStrings(v)
	case KeyRelatedChunks:
		p.RelatedChunks, ok = AsIDs(v)
	case KeyHasCodeExamples:
		p.HasCodeExamples, ok = boolPtr(v)
	case KeyHasActionItems:
		p.HasActionItems, ok = boolPtr(v)
	}
	return ok
}

// Clone returns a deep copy.
func (p Payload) Clone() Payload {
	return PayloadFromMap(p.ToMap())
}

// Get returns a field by payload key, well-known or extra.
func (p Payload) Get(key string) (any, bool) {
	v, ok := p.ToMap()[key]
	return v, ok
}

// MarshalJSON encodes the flattened map form.
func (p Payload) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.ToMap())
}

// UnmarshalJSON decodes the flattened map form.
func (p *Payload) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*p = PayloadFromMap(m)
	return nil
}

func putString(m map[string]any, k, v string) {
	if v != "" {
		m[k] = v
	}
}

func putInt(m map[string]any, k string, v int64) {
	if v != 0 {
		m[k] = v
	}
}

func putBool(m map[string]any, k string, v *bool) {
	if v != nil {
		m[k] = *v
	}
}

func putStrings(m map[string]any, k string, v []string) {
	if len(v) == 0 {
		return
	}
	out := make([]any, len(v))
	for i, s := range v {
		out[i] = s
	}
	m[k] = out
}

func boolPtr(v any) (*bool, bool) {
	b, ok := v.(bool)
	if !ok {
		return nil, false
	}
	return &b, true
}

func intField(v any) (int, bool) {
	n, ok := AsInt(v)
	return int(n), ok
}

// AsString returns v as a string when it is one.
func AsString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// AsInt coerces the numeric types produced by JSON, gRPC and Go literals.
func AsInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float32:
		return int64(n), float32(int64(n)) == n
	case float64:
		return int64(n), float64(int64(n)) == n
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

// AsFloat coerces any numeric value to float64.
func AsFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	if i, ok := AsInt(v); ok {
		return float64(i), true
	}
	return 0, false
}

// AsStrings accepts []string or a []any made only of strings.
func AsStrings(v any) ([]string, bool) {
	switch s := v.(type) {
	case []string:
		return slices.Clone(s), true
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			str, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, str)
		}
		return out, true
	}
	return nil, false
}

// AsIDs accepts a list of non-negative integers.
func AsIDs(v any) ([]uint64, bool) {
	switch s := v.(type) {
	case []uint64:
		return slices.Clone(s), true
	case []any:
		out := make([]uint64, 0, len(s))
		for _, e := range s {
			n, ok := AsInt(e)
			if !ok || n < 0 {
				return nil, false
			}
			out = append(out, uint64(n))
		}
		return out, true
	}
	return nil, false
}

// CloneValue deep-copies nested maps and lists; scalars are returned as is.
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := maps.Clone(t)
		for k, e := range out {
			out[k] = CloneValue(e)
		}
		return out
	case []any:
		out := slices.Clone(t)
		for i, e := range out {
			out[i] = CloneValue(e)
		}
		return out
	case []string:
		return slices.Clone(t)
	}
	return v
}

// CloneMap deep-copies an open payload map.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return CloneValue(m).(map[string]any)
}
