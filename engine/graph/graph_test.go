package graph

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

type mockResult struct {
	records []*neo4j.Record
	idx     int
}

func newMockResult(records ...*neo4j.Record) *mockResult { return &mockResult{records: records} }

func (m *mockResult) Next(context.Context) bool {
	if m.idx < len(m.records) {
		m.idx++
		return true
	}
	return false
}

func (m *mockResult) Record() *neo4j.Record { return m.records[m.idx-1] }

// trackingTx records all cypher queries executed.
type trackingTx struct {
	queries []string
	params  []map[string]any
	results []*mockResult
	err     error
}

func (t *trackingTx) Run(_ context.Context, cypher string, params map[string]any) (CypherResult, error) {
	t.queries = append(t.queries, cypher)
	t.params = append(t.params, params)
	if t.err != nil {
		return nil, t.err
	}
	if len(t.results) > 0 {
		r := t.results[0]
		t.results = t.results[1:]
		return r, nil
	}
	return newMockResult(), nil
}

type trackingSession struct {
	tx     *trackingTx
	writes int
	closed int
}

func (s *trackingSession) Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error) {
	return s.tx.Run(ctx, cypher, params)
}
func (s *trackingSession) Close(context.Context) error { s.closed++; return nil }
func (s *trackingSession) ExecuteWrite(_ context.Context, work func(tx CypherRunner) (any, error)) (any, error) {
	s.writes++
	return work(s.tx)
}

type trackingOpener struct {
	session *trackingSession
}

func (o *trackingOpener) OpenSession(context.Context) CypherSession { return o.session }

func newTrackingGraph() (*ChunkGraph, *trackingSession) {
	sess := &trackingSession{tx: &trackingTx{}}
	return NewWithOpener(&trackingOpener{session: sess}), sess
}

func idRecord(id, idx int64) *neo4j.Record {
	return &neo4j.Record{Keys: []string{"id", "idx"}, Values: []any{id, idx}}
}

func TestLinkChunk(t *testing.T) {
	g, sess := newTrackingGraph()
	if err := g.LinkChunk(context.Background(), "/docs/a.md", 42, 3); err != nil {
		t.Fatal(err)
	}
	if sess.writes != 1 || sess.closed != 1 {
		t.Fatalf("writes=%d closed=%d", sess.writes, sess.closed)
	}
	q := sess.tx.queries[0]
	for _, want := range []string{"MERGE (f:File {path: $path})", "MERGE (c:Chunk {id: $id})", "MERGE (f)-[:HAS_CHUNK]->(c)"} {
		if !strings.Contains(q, want) {
			t.Fatalf("query missing %q:\n%s", want, q)
		}
	}
	want := map[string]any{"path": "/docs/a.md", "id": int64(42), "index": int64(3)}
	if !reflect.DeepEqual(sess.tx.params[0], want) {
		t.Fatalf("params = %v", sess.tx.params[0])
	}
}

func TestLinkChunkError(t *testing.T) {
	g, sess := newTrackingGraph()
	sess.tx.err = errors.New("unavailable")
	if err := g.LinkChunk(context.Background(), "/a", 1, 0); err == nil || !strings.Contains(err.Error(), "link chunk 1") {
		t.Fatalf("err = %v", err)
	}
}

func TestRelatedChunks(t *testing.T) {
	g, sess := newTrackingGraph()
	sess.tx.results = []*mockResult{newMockResult(idRecord(10, 0), idRecord(12, 2), idRecord(-1, 3))}
	ids, err := g.RelatedChunks(context.Background(), 11, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(ids, []uint64{10, 12}) {
		t.Fatalf("ids = %v", ids)
	}
	if sess.tx.params[0]["limit"] != int64(10) || sess.tx.params[0]["id"] != int64(11) {
		t.Fatalf("params = %v", sess.tx.params[0])
	}
}

func TestFileChunksUsesRepo(t *testing.T) {
	g, sess := newTrackingGraph()
	node := dbtype.Node{Props: map[string]any{"id": int64(5), "path": "/a.md", "index": int64(1)}}
	sess.tx.results = []*mockResult{newMockResult(&neo4j.Record{Keys: []string{"n"}, Values: []any{node}})}
	chunks, err := g.FileChunks(context.Background(), "/a.md")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(chunks, []Chunk{{ID: 5, Path: "/a.md", Index: 1}}) {
		t.Fatalf("chunks = %+v", chunks)
	}
	if !strings.Contains(sess.tx.queries[0], "MATCH (n:Chunk) WHERE n.path = $f_path") {
		t.Fatalf("query = %s", sess.tx.queries[0])
	}
}

func TestCounts(t *testing.T) {
	g, sess := newTrackingGraph()
	count := func(n int64) *mockResult {
		return newMockResult(&neo4j.Record{Keys: []string{"count"}, Values: []any{n}})
	}
	sess.tx.results = []*mockResult{count(7), count(2)}
	files, chunks, err := g.Counts(context.Background())
	if err != nil || files != 2 || chunks != 7 {
		t.Fatalf("files=%d chunks=%d err=%v", files, chunks, err)
	}
}

func TestEnsureSchema(t *testing.T) {
	g, sess := newTrackingGraph()
	if err := g.EnsureSchema(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(sess.tx.queries) != 2 || !strings.Contains(sess.tx.queries[1], "c.id IS UNIQUE") {
		t.Fatalf("queries = %v", sess.tx.queries)
	}
}
