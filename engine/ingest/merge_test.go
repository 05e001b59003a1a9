package ingest

import (
	"math/rand"
	"reflect"
	"testing"

	"github.com/chakssp/vcia-dhl-sub005/engine/domain"
)

func TestMergePayloads(t *testing.T) {
	tests := []struct {
		name     string
		existing map[string]any
		incoming map[string]any
		want     map[string]any
	}{
		{"list union keeps order",
			map[string]any{"categories": []any{"x"}},
			map[string]any{"categories": []any{"y", "x"}},
			map[string]any{"categories": []any{"x", "y"}}},
		{"empty existing is filled",
			map[string]any{"preview": "  "},
			map[string]any{"preview": "new"},
			map[string]any{"preview": "new"}},
		{"empty incoming does not clobber",
			map[string]any{"preview": "old"},
			map[string]any{"preview": ""},
			map[string]any{"preview": "old"}},
		{"scalar overwritten by non-empty",
			map[string]any{"analysisType": "a"},
			map[string]any{"analysisType": "b"},
			map[string]any{"analysisType": "b"}},
		{"false is a value",
			map[string]any{"approved": true},
			map[string]any{"approved": false},
			map[string]any{"approved": false}},
		{"protected skipped",
			map[string]any{"version": int64(3), "keywords": []any{"k"}},
			map[string]any{"version": int64(1), "keywords": []any{"z"}, "sentiment": "negative"},
			map[string]any{"version": int64(3), "keywords": []any{"k"}}},
		{"numbers collapse across types",
			map[string]any{"tags": []any{int64(1)}},
			map[string]any{"tags": []any{float64(1), float64(2)}},
			map[string]any{"tags": []any{int64(1), float64(2)}}},
		{"nil existing",
			nil,
			map[string]any{"preview": "p"},
			map[string]any{"preview": "p"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MergePayloads(tt.existing, tt.incoming)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestMergePayloadsDoesNotAlias(t *testing.T) {
	existing := map[string]any{"categories": []any{"x"}}
	incoming := map[string]any{"extra": map[string]any{"a": "b"}}
	got := MergePayloads(existing, incoming)
	got["categories"].([]any)[0] = "mutated"
	got["extra"].(map[string]any)["a"] = "mutated"
	if existing["categories"].([]any)[0] != "x" || incoming["extra"].(map[string]any)["a"] != "b" {
		t.Fatal("merge result aliases its inputs")
	}
}

var propertyKeys = []string{
	"id", "version", "contentHash", "insertedAt", "enrichmentLevel", "lastEnriched",
	"mergeCount", "lastMerged", "keywords", "sentiment", "decisiveMoment", "breakthrough",
	"confidenceScore", "expertiseLevel", "questionTypes",
	"categories", "preview", "analysisType", "filePath", "approved", "relevanceScore", "custom",
}

func randomValue(r *rand.Rand) any {
	switch r.Intn(7) {
	case 0:
		return nil
	case 1:
		return ""
	case 2:
		return "v" + string(rune('a'+r.Intn(26)))
	case 3:
		return int64(r.Intn(100))
	case 4:
		return r.Intn(2) == 0
	case 5:
		n := r.Intn(3)
		l := make([]any, n)
		for i := range l {
			l[i] = "e" + string(rune('a'+r.Intn(4)))
		}
		return l
	default:
		return map[string]any{"k": r.Float64()}
	}
}

func randomPayload(r *rand.Rand) map[string]any {
	m := make(map[string]any)
	for _, k := range propertyKeys {
		if r.Intn(2) == 0 {
			m[k] = randomValue(r)
		}
	}
	return m
}

func TestMergeNeverTouchesProtectedFields(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 2000; i++ {
		existing := randomPayload(r)
		incoming := randomPayload(r)
		got := MergePayloads(existing, incoming)
		for k := range domain.QdrantOnlyFields {
			ev, had := existing[k]
			gv, has := got[k]
			if had != has || !reflect.DeepEqual(ev, gv) {
				t.Fatalf("iteration %d: %s changed from %#v to %#v (incoming %#v)", i, k, ev, gv, incoming[k])
			}
		}
	}
}

func TestOverwritePayloadKeepsProtectedFields(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		existing := randomPayload(r)
		incoming := randomPayload(r)
		var preserve []string
		if i%2 == 0 {
			preserve = []string{"categories"}
		}
		got := OverwritePayload(existing, incoming, preserve)
		for k := range domain.QdrantOnlyFields {
			ev, had := existing[k]
			gv, has := got[k]
			if had != has || !reflect.DeepEqual(ev, gv) {
				t.Fatalf("iteration %d: %s changed from %#v to %#v", i, k, ev, gv)
			}
		}
	}
}
