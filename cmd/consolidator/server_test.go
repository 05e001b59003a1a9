package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/chakssp/vcia-dhl-sub005/engine/confidence"
	"github.com/chakssp/vcia-dhl-sub005/engine/consolidator"
	"github.com/chakssp/vcia-dhl-sub005/engine/enrich"
	"github.com/chakssp/vcia-dhl-sub005/engine/ingest"
	"github.com/chakssp/vcia-dhl-sub005/engine/semantic"
)

type staticEmbedder struct{}

func (staticEmbedder) GenerateEmbedding(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0, 0}, nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := consolidator.New(consolidator.Deps{
		Store:    semantic.NewMemoryStore("docs", 4),
		Embedder: staticEmbedder{},
		Logger:   log,
	}, consolidator.Settings{Dims: 4})
	batch := ingest.BatchOptions{Options: ingest.Options{Action: ingest.ActionSkip}, BatchSize: 10, Concurrency: 1, Delay: -1}
	ts := httptest.NewServer(newServer(svc, batch, log).handler())
	t.Cleanup(ts.Close)
	return ts
}

func call(t *testing.T, ts *httptest.Server, method, path, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, ts.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

const noteRecord = `{"path":"/notes/decision.md","content":"We decided to ship the new architecture.","size":1200,"metadata":{"categories":["planning"],"relevanceScore":80}}`

func TestServerIngestFlow(t *testing.T) {
	ts := newTestServer(t)

	var first ingest.Outcome
	if code := call(t, ts, http.MethodPost, "/ingest", `{"record":`+noteRecord+`}`, &first); code != http.StatusCreated {
		t.Fatalf("insert status = %d (%+v)", code, first)
	}
	if first.ID == 0 || first.Action != ingest.OutcomeInserted {
		t.Fatalf("insert = %+v", first)
	}

	var dup ingest.Outcome
	if code := call(t, ts, http.MethodPost, "/ingest", `{"record":`+noteRecord+`}`, &dup); code != http.StatusOK || dup.Action != ingest.OutcomeSkipped {
		t.Fatalf("duplicate status = %d (%+v)", code, dup)
	}

	var sum ingest.BatchSummary
	batch := `{"records":[{"path":"/notes/a.md","content":"alpha"},{"path":"/notes/b.md","content":"beta"}]}`
	if code := call(t, ts, http.MethodPost, "/ingest", batch, &sum); code != http.StatusOK || sum.Inserted != 2 {
		t.Fatalf("batch status = %d (%+v)", code, sum)
	}

	var enriched enrich.Outcome
	path := fmt.Sprintf("/enrich/%d", first.ID)
	if code := call(t, ts, http.MethodPost, path, `{"analysisType":"decision"}`, &enriched); code != http.StatusOK || !enriched.Success {
		t.Fatalf("enrich status = %d (%+v)", code, enriched)
	}

	var res confidence.Result
	if code := call(t, ts, http.MethodPost, fmt.Sprintf("/score/%d", first.ID), "", &res); code != http.StatusOK {
		t.Fatalf("score status = %d", code)
	}
	if res.Strategy == "" || res.FinalScore < 0 || res.FinalScore > 100 {
		t.Fatalf("score = %+v", res)
	}

	var stored confidence.StoreOutcome
	if code := call(t, ts, http.MethodPost, fmt.Sprintf("/score/%d?store=true", first.ID), `{"terms":["notes"]}`, &stored); code != http.StatusOK || !stored.Success {
		t.Fatalf("store status = %d (%+v)", code, stored)
	}
	if stored.Version != enriched.Version+1 {
		t.Fatalf("stored version = %d, enriched version = %d", stored.Version, enriched.Version)
	}

	var st consolidator.Stats
	if code := call(t, ts, http.MethodGet, "/stats", "", &st); code != http.StatusOK || !st.Ready || st.Ingest.Inserted != 3 || st.Ingest.Skipped != 1 {
		t.Fatalf("stats status = %d (%+v)", code, st)
	}

	resp, err := ts.Client().Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	text, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	for _, want := range []string{"http_requests_total", `ingest_outcomes_total{action="inserted"} 3`, "enrich_points_total 1"} {
		if !strings.Contains(string(text), want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestServerErrors(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"health", http.MethodGet, "/healthz", "", http.StatusOK},
		{"bad json", http.MethodPost, "/ingest", "{", http.StatusBadRequest},
		{"empty ingest", http.MethodPost, "/ingest", "{}", http.StatusBadRequest},
		{"bad action", http.MethodPost, "/ingest", `{"record":` + noteRecord + `,"options":{"duplicateAction":"replace"}}`, http.StatusBadRequest},
		{"invalid record", http.MethodPost, "/ingest", `{"record":{"content":"no path"}}`, http.StatusUnprocessableEntity},
		{"enrich bad id", http.MethodPost, "/enrich/abc", "", http.StatusBadRequest},
		{"enrich missing", http.MethodPost, "/enrich/999", "", http.StatusNotFound},
		{"score missing", http.MethodPost, "/score/999", "", http.StatusNotFound},
		{"store missing", http.MethodPost, "/score/999?store=true", "", http.StatusNotFound},
		{"weights out of range", http.MethodPut, "/weights", `{"qdrantScore":2}`, http.StatusBadRequest},
		{"weights unknown", http.MethodPut, "/weights", `{"recency":0.2}`, http.StatusBadRequest},
		{"weights empty", http.MethodPut, "/weights", `{}`, http.StatusBadRequest},
		{"wrong method", http.MethodGet, "/ingest", "", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code := call(t, ts, tt.method, tt.path, tt.body, nil); code != tt.want {
				t.Fatalf("status = %d, want %d", code, tt.want)
			}
		})
	}
}

func TestServerWeights(t *testing.T) {
	ts := newTestServer(t)

	var w confidence.Weights
	if code := call(t, ts, http.MethodPut, "/weights", `{"qdrantScore":0.5,"categoryBoost":0.2,"prefixEnhancement":0.2,"contextual":0.1}`, &w); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if w.QdrantScore < 0.49 || w.QdrantScore > 0.51 {
		t.Fatalf("weights = %+v", w)
	}

	var got confidence.Weights
	call(t, ts, http.MethodGet, "/weights", "", &got)
	if got != w {
		t.Fatalf("GET /weights = %+v, want %+v", got, w)
	}
}
