package semantic

import (
	"context"
	"slices"
	"sync"

	"github.com/chakssp/vcia-dhl-sub005/engine/domain"
)

// MemoryStore implements domain.Store in process memory. Points are paged in
// ascending id order, matching Qdrant's scroll ordering for numeric ids.
type MemoryStore struct {
	mu     sync.RWMutex
	points map[uint64]domain.StoredPoint
	dims   int
	name   string
}

var _ domain.Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store for vectors of size dims.
func NewMemoryStore(name string, dims int) *MemoryStore {
	return &MemoryStore{points: make(map[uint64]domain.StoredPoint), dims: dims, name: name}
}

func (m *MemoryStore) InsertPoint(_ context.Context, p domain.StoredPoint) error {
	if err := domain.ValidateVector(p.Vector, m.dims); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p.Vector = slices.Clone(p.Vector)
	p.Payload = p.Payload.Clone()
	m.points[p.ID] = p
	return nil
}

func (m *MemoryStore) UpdatePayload(_ context.Context, id uint64, payload domain.Payload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.points[id]
	if !ok {
		return domain.ErrPointNotFound
	}
	p.Payload = payload.Clone()
	m.points[id] = p
	return nil
}

func (m *MemoryStore) GetPoint(_ context.Context, id uint64) (*domain.StoredPoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.points[id]
	if !ok {
		return nil, nil
	}
	out := copyPoint(p, true, true)
	return &out, nil
}

func (m *MemoryStore) ScrollPoints(_ context.Context, req domain.ScrollRequest) (domain.ScrollPage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit := req.Limit
	if limit <= 0 {
		limit = 100
	}
	ids := make([]uint64, 0, len(m.points))
	for id := range m.points {
		if req.Offset != nil && id < *req.Offset {
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var page domain.ScrollPage
	for _, id := range ids {
		p := m.points[id]
		if !matches(p.Payload.ToMap(), req.Filter) {
			continue
		}
		if len(page.Points) == limit {
			next := id
			page.NextOffset = &next
			break
		}
		page.Points = append(page.Points, copyPoint(p, req.WithPayload, req.WithVector))
	}
	return page, nil
}

func (m *MemoryStore) CollectionInfo(context.Context) (domain.CollectionInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return domain.CollectionInfo{Name: m.name, PointsCount: uint64(len(m.points)), VectorSize: m.dims}, nil
}

// Len returns the number of stored points.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.points)
}

func copyPoint(p domain.StoredPoint, withPayload, withVector bool) domain.StoredPoint {
	out := domain.StoredPoint{ID: p.ID}
	if withPayload {
		out.Payload = p.Payload.Clone()
	}
	if withVector {
		out.Vector = slices.Clone(p.Vector)
	}
	return out
}

// matches applies Qdrant exact-match semantics: a clause on a list field
// matches when any element equals the value.
func matches(payload map[string]any, f domain.Filter) bool {
	for _, c := range f.Must {
		v, ok := payload[c.Key]
		if !ok || !valueMatches(v, c.Value) {
			return false
		}
	}
	return true
}

func valueMatches(stored, want any) bool {
	if list, ok := stored.([]any); ok {
		for _, e := range list {
			if valueMatches(e, want) {
				return true
			}
		}
		return false
	}
	switch w := want.(type) {
	case string:
		s, ok := stored.(string)
		return ok && s == w
	case bool:
		b, ok := stored.(bool)
		return ok && b == w
	}
	wi, ok := domain.AsInt(want)
	if !ok {
		return false
	}
	si, ok := domain.AsInt(stored)
	return ok && si == wi
}
