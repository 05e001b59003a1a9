package domain

import (
	"math"
	"reflect"
	"strings"
)

// QdrantOnlyFields are owned by the identity and enrichment pipelines.
// Incoming discovery data never overwrites them.
var QdrantOnlyFields = map[string]struct{}{
	KeyID:              {},
	KeyVersion:         {},
	KeyContentHash:     {},
	KeyInsertedAt:      {},
	KeyEnrichmentLevel: {},
	KeyLastEnriched:    {},
	KeyMergeCount:      {},
	KeyLastMerged:      {},
	KeyKeywords:        {},
	KeySentiment:       {},
	KeyDecisiveMoment:  {},
	KeyBreakthrough:    {},
	KeyConfidenceScore: {},
	KeyExpertiseLevel:  {},
	KeyQuestionTypes:   {},
}

// EnrichmentFields is the fixed field list that enrichmentLevel measures.
var EnrichmentFields = []string{
	KeyKeywords,
	KeySentiment,
	KeyDecisiveMoment,
	KeyBreakthrough,
	KeyConfidenceScore,
	KeyExpertiseLevel,
	KeyQuestionTypes,
	KeyRelatedChunks,
	KeyHasCodeExamples,
	KeyHasActionItems,
}

// IsQdrantOnly reports whether key belongs to the protected set.
func IsQdrantOnly(key string) bool {
	_, ok := QdrantOnlyFields[key]
	return ok
}

// IsEmptyValue reports nil, blank strings, empty lists and empty maps.
// false and 0 are values, not emptiness.
func IsEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case []string:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	case float64:
		return math.IsNaN(t)
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// EmptyEnrichmentFields returns the enrichment fields that are empty in m,
// in EnrichmentFields order.
func EmptyEnrichmentFields(m map[string]any) []string {
	var out []string
	for _, f := range EnrichmentFields {
		if IsEmptyValue(m[f]) {
			out = append(out, f)
		}
	}
	return out
}

// EnrichmentLevel is round(100 * filled / total) over EnrichmentFields.
func EnrichmentLevel(m map[string]any) int {
	filled := len(EnrichmentFields) - len(EmptyEnrichmentFields(m))
	return int(math.Round(100 * float64(filled) / float64(len(EnrichmentFields))))
}

// StripQdrantOnly returns a copy of m without protected keys.
func StripQdrantOnly(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if IsQdrantOnly(k) {
			continue
		}
		out[k] = CloneValue(v)
	}
	return out
}
