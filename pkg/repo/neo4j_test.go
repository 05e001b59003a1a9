package repo

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type mockResult struct {
	records []*neo4j.Record
	idx     int
}

func (m *mockResult) Next(ctx context.Context) bool {
	if m.idx < len(m.records) {
		m.idx++
		return true
	}
	return false
}

func (m *mockResult) Record() *neo4j.Record {
	return m.records[m.idx-1]
}

type mockRunner struct {
	result  *mockResult
	err     error
	cyphers []string
	params  []map[string]any
	closed  int
}

func (m *mockRunner) Run(ctx context.Context, cypher string, params map[string]any) (Result, error) {
	m.cyphers = append(m.cyphers, cypher)
	m.params = append(m.params, params)
	if m.err != nil {
		return nil, m.err
	}
	if m.result == nil {
		return &mockResult{}, nil
	}
	return m.result, nil
}

func (m *mockRunner) Close(ctx context.Context) error { m.closed++; return nil }

type entity struct {
	ID   string
	Name string
}

func makeRecord(id, name string) *neo4j.Record {
	return &neo4j.Record{
		Values: []any{map[string]any{"id": id, "name": name}},
		Keys:   []string{"n"},
	}
}

func newTestRepo(r *mockRunner, opts ...Neo4jOption[entity, string]) *Neo4jRepo[entity, string] {
	return NewNeo4jRepo[entity, string](
		func(context.Context) Runner { return r },
		"Entity",
		func(e entity) map[string]any { return map[string]any{"id": e.ID, "name": e.Name} },
		func(rec *neo4j.Record) (entity, error) {
			if len(rec.Values) == 0 {
				return entity{}, errors.New("empty")
			}
			m, ok := rec.Values[0].(map[string]any)
			if !ok {
				return entity{}, errors.New("bad type")
			}
			return entity{ID: m["id"].(string), Name: m["name"].(string)}, nil
		},
		opts...,
	)
}

func TestGet(t *testing.T) {
	r := &mockRunner{result: &mockResult{records: []*neo4j.Record{makeRecord("1", "one")}}}
	e, err := newTestRepo(r).Get(context.Background(), "1")
	if err != nil {
		t.Fatal(err)
	}
	if e.Name != "one" {
		t.Fatalf("got %+v", e)
	}
	if r.closed != 1 {
		t.Fatalf("session closed %d times", r.closed)
	}
}

func TestGetNotFound(t *testing.T) {
	r := &mockRunner{}
	_, err := newTestRepo(r).Get(context.Background(), "x")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestGetRunError(t *testing.T) {
	r := &mockRunner{err: errors.New("down")}
	if _, err := newTestRepo(r).Get(context.Background(), "x"); err == nil {
		t.Fatal("expected error")
	}
}

func TestWithIDKey(t *testing.T) {
	r := &mockRunner{}
	_, _ = newTestRepo(r, WithIDKey[entity, string]("uuid")).Get(context.Background(), "x")
	if !strings.Contains(r.cyphers[0], "{uuid: $id}") {
		t.Fatalf("cypher = %s", r.cyphers[0])
	}
}

func TestListFilterAndOrder(t *testing.T) {
	r := &mockRunner{result: &mockResult{records: []*neo4j.Record{makeRecord("1", "a"), makeRecord("2", "b")}}}
	items, err := newTestRepo(r).List(context.Background(), ListOpts{
		Filter:  map[string]any{"path": "/x", "bad key": 1, "index": 2},
		OrderBy: "index",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %v", items)
	}
	want := "MATCH (n:Entity) WHERE n.index = $f_index AND n.path = $f_path RETURN n ORDER BY n.index SKIP $offset LIMIT $limit"
	if r.cyphers[0] != want {
		t.Fatalf("cypher =\n%s\nwant\n%s", r.cyphers[0], want)
	}
	if r.params[0]["limit"] != 100 || r.params[0]["f_path"] != "/x" {
		t.Fatalf("params = %v", r.params[0])
	}
}

func TestListRejectsInjectedOrder(t *testing.T) {
	r := &mockRunner{}
	_, _ = newTestRepo(r).List(context.Background(), ListOpts{OrderBy: "id DETACH DELETE n"})
	if strings.Contains(r.cyphers[0], "ORDER BY") {
		t.Fatalf("cypher = %s", r.cyphers[0])
	}
}

func TestSave(t *testing.T) {
	r := &mockRunner{}
	if err := newTestRepo(r).Save(context.Background(), entity{ID: "7", Name: "seven"}); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(r.cyphers[0], "MERGE (n:Entity {id: $id})") || r.params[0]["id"] != "7" {
		t.Fatalf("cypher=%s params=%v", r.cyphers[0], r.params[0])
	}
}

func TestCount(t *testing.T) {
	rec := &neo4j.Record{Keys: []string{"count"}, Values: []any{int64(4)}}
	r := &mockRunner{result: &mockResult{records: []*neo4j.Record{rec}}}
	n, err := newTestRepo(r).Count(context.Background(), nil)
	if err != nil || n != 4 {
		t.Fatalf("n=%d err=%v", n, err)
	}
}
