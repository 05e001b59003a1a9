package semantic

import (
	"context"
	"errors"
	"testing"

	"github.com/chakssp/vcia-dhl-sub005/engine/domain"
)

func seedMemory(t *testing.T) *MemoryStore {
	t.Helper()
	m := NewMemoryStore("mem", 2)
	ctx := context.Background()
	zero, one := 0, 1
	pts := []domain.StoredPoint{
		{ID: 30, Vector: []float32{1, 0}, Payload: domain.Payload{FileName: "a.md", ChunkIndex: &zero, Categories: []string{"x", "y"}}},
		{ID: 10, Vector: []float32{0, 1}, Payload: domain.Payload{FileName: "a.md", ChunkIndex: &one}},
		{ID: 20, Vector: []float32{1, 1}, Payload: domain.Payload{FileName: "b.md"}},
	}
	for _, p := range pts {
		if err := m.InsertPoint(ctx, p); err != nil {
			t.Fatal(err)
		}
	}
	return m
}

func TestMemoryStore_ScrollOrderAndPaging(t *testing.T) {
	m := seedMemory(t)
	ctx := context.Background()
	page, err := m.ScrollPoints(ctx, domain.ScrollRequest{Limit: 2, WithPayload: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Points) != 2 || page.Points[0].ID != 10 || page.Points[1].ID != 20 {
		t.Fatalf("page 1 = %+v", page.Points)
	}
	if page.NextOffset == nil || *page.NextOffset != 30 {
		t.Fatalf("next = %v", page.NextOffset)
	}
	page, _ = m.ScrollPoints(ctx, domain.ScrollRequest{Limit: 2, Offset: page.NextOffset})
	if len(page.Points) != 1 || page.NextOffset != nil {
		t.Fatalf("page 2 = %+v", page)
	}
	if page.Points[0].Payload.FileName != "" {
		t.Fatal("payload must be omitted when WithPayload is false")
	}
}

func TestMemoryStore_Filters(t *testing.T) {
	m := seedMemory(t)
	ctx := context.Background()
	page, _ := m.ScrollPoints(ctx, domain.ScrollRequest{Filter: domain.Filter{Must: []domain.FieldMatch{
		{Key: "fileName", Value: "a.md"}, {Key: "chunkIndex", Value: 1},
	}}})
	if len(page.Points) != 1 || page.Points[0].ID != 10 {
		t.Fatalf("chunk filter = %+v", page.Points)
	}
	page, _ = m.ScrollPoints(ctx, domain.ScrollRequest{Filter: domain.Match("categories", "y")})
	if len(page.Points) != 1 || page.Points[0].ID != 30 {
		t.Fatalf("list filter = %+v", page.Points)
	}
	page, _ = m.ScrollPoints(ctx, domain.ScrollRequest{Filter: domain.Match("fileName", "missing")})
	if len(page.Points) != 0 {
		t.Fatalf("expected no match, got %+v", page.Points)
	}
}

func TestMemoryStore_GetUpdateIsolation(t *testing.T) {
	m := seedMemory(t)
	ctx := context.Background()
	p, err := m.GetPoint(ctx, 20)
	if err != nil || p == nil {
		t.Fatalf("get: %v %v", p, err)
	}
	p.Payload.FileName = "mutated"
	again, _ := m.GetPoint(ctx, 20)
	if again.Payload.FileName != "b.md" {
		t.Fatal("GetPoint must return a copy")
	}
	if err := m.UpdatePayload(ctx, 20, domain.Payload{FileName: "c.md", Version: 2}); err != nil {
		t.Fatal(err)
	}
	again, _ = m.GetPoint(ctx, 20)
	if again.Payload.FileName != "c.md" || again.Payload.Version != 2 {
		t.Fatalf("update not applied: %+v", again.Payload)
	}
	if err := m.UpdatePayload(ctx, 999, domain.Payload{}); !errors.Is(err, domain.ErrPointNotFound) {
		t.Fatalf("expected ErrPointNotFound, got %v", err)
	}
	if missing, err := m.GetPoint(ctx, 999); missing != nil || err != nil {
		t.Fatal("expected (nil, nil) for a missing point")
	}
}

func TestMemoryStore_CollectionInfoAndDims(t *testing.T) {
	m := seedMemory(t)
	info, _ := m.CollectionInfo(context.Background())
	if info.PointsCount != 3 || info.VectorSize != 2 || info.Name != "mem" {
		t.Fatalf("info = %+v", info)
	}
	err := m.InsertPoint(context.Background(), domain.StoredPoint{ID: 1, Vector: []float32{1}})
	if !errors.Is(err, domain.ErrInvalidVector) {
		t.Fatalf("expected ErrInvalidVector, got %v", err)
	}
}
