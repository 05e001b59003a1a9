package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCounter(t *testing.T) {
	r := New()
	c := r.Counter("points_inserted_total", "Inserted points")
	c.Inc()
	c.Add(4)
	if c.Value() != 5 {
		t.Fatalf("expected 5, got %d", c.Value())
	}
	if r.Counter("points_inserted_total", "") != c {
		t.Fatal("expected same counter instance")
	}
	c.Set(2)
	if c.Value() != 2 {
		t.Fatalf("mirrored value = %d", c.Value())
	}
}

func TestGauge(t *testing.T) {
	r := New()
	g := r.Gauge("enrichment_level_avg", "")
	g.Set(72.5)
	if g.Value() != 72.5 {
		t.Fatalf("expected 72.5, got %v", g.Value())
	}
}

func TestHistogramBuckets(t *testing.T) {
	r := New()
	h := r.Histogram("aggregation_seconds", "", []float64{0.01, 0.05, 0.1})
	h.Observe(0.005)
	h.Observe(0.03)
	h.ObserveDuration(80 * time.Millisecond)
	h.Observe(2)

	_, counts, sum, count := h.snapshot()
	if count != 4 || counts[0] != 1 || counts[1] != 1 || counts[2] != 1 {
		t.Fatalf("counts = %v count = %d", counts, count)
	}
	if sum < 2.11 || sum > 2.12 {
		t.Fatalf("sum = %v", sum)
	}
}

func TestWithLabels(t *testing.T) {
	tests := []struct {
		kvs  []string
		want string
	}{
		{[]string{"action", "merged"}, `ingest_outcomes_total{action="merged"}`},
		{[]string{"action", "merged", "source", "nats"}, `ingest_outcomes_total{action="merged",source="nats"}`},
		{nil, "ingest_outcomes_total"},
		{[]string{"dangling"}, "ingest_outcomes_total"},
	}
	for _, tt := range tests {
		if got := WithLabels("ingest_outcomes_total", tt.kvs...); got != tt.want {
			t.Errorf("WithLabels(%v) = %q, want %q", tt.kvs, got, tt.want)
		}
	}
}

func TestRender(t *testing.T) {
	r := New()
	r.Counter(WithLabels("ingest_outcomes_total", "action", "inserted"), "Ingest outcomes").Add(7)
	r.Counter(WithLabels("ingest_outcomes_total", "action", "skipped"), "").Add(3)
	r.Gauge("collection_points", "Points in the collection").Set(10)
	h := r.Histogram(WithLabels("aggregation_seconds", "strategy", "balanced"), "Aggregation latency", []float64{0.01, 0.05})
	h.Observe(0.004)
	h.Observe(0.2)

	out := r.Render()
	for _, want := range []string{
		"# HELP ingest_outcomes_total Ingest outcomes",
		"# TYPE ingest_outcomes_total counter",
		`ingest_outcomes_total{action="inserted"} 7`,
		`ingest_outcomes_total{action="skipped"} 3`,
		"# TYPE collection_points gauge",
		"collection_points 10",
		"# TYPE aggregation_seconds histogram",
		`aggregation_seconds_bucket{le="0.01",strategy="balanced"} 1`,
		`aggregation_seconds_bucket{le="0.05",strategy="balanced"} 1`,
		`aggregation_seconds_bucket{le="+Inf",strategy="balanced"} 2`,
		`aggregation_seconds_count{strategy="balanced"} 2`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
	if strings.Count(out, "# TYPE ingest_outcomes_total") != 1 {
		t.Errorf("family rendered twice:\n%s", out)
	}
}

func TestHandler(t *testing.T) {
	r := New()
	r.Counter("dedup_checks_total", "").Inc()

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content type %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "dedup_checks_total 1") {
		t.Errorf("body:\n%s", rec.Body.String())
	}
}

func TestBaseName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"foo_total", "foo_total"},
		{`foo_total{k="v"}`, "foo_total"},
		{`foo{a="1",b="2"}`, "foo"},
	}
	for _, tt := range tests {
		if got := baseName(tt.in); got != tt.want {
			t.Errorf("baseName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
