// Package domain defines the record, point and payload model shared by the
// consolidation engines, together with the store and embedder ports they use.
package domain

import (
	"context"
	"path/filepath"
)

// Record is a candidate document or chunk produced by a document source,
// before it reaches the vector store.
type Record struct {
	Path         string         `json:"path"`
	FileName     string         `json:"fileName,omitempty"`
	Content      string         `json:"content,omitempty"`
	ChunkText    string         `json:"chunkText,omitempty"`
	Size         int64          `json:"size"`
	LastModified int64          `json:"lastModified"` // unix millis, 0 when unknown
	ChunkIndex   *int           `json:"chunkIndex,omitempty"`
	Vector       []float32      `json:"vector,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Text returns the chunk text when present, otherwise the full content.
func (r Record) Text() string {
	if r.ChunkText != "" {
		return r.ChunkText
	}
	return r.Content
}

// Name returns FileName, or the base of Path when FileName is empty.
func (r Record) Name() string {
	if r.FileName != "" {
		return r.FileName
	}
	if r.Path == "" {
		return ""
	}
	return filepath.Base(r.Path)
}

// HasChunk reports whether the record carries a usable chunk index.
func (r Record) HasChunk() bool {
	return r.ChunkIndex != nil && *r.ChunkIndex >= 0
}

// StoredPoint is one point as held by the vector store.
type StoredPoint struct {
	ID      uint64    `json:"id"`
	Vector  []float32 `json:"vector,omitempty"`
	Payload Payload   `json:"payload"`
}

// DuplicateReason names the tier that matched a candidate.
type DuplicateReason string

const (
	ReasonChunkExact          DuplicateReason = "chunk_exact"
	ReasonPathHashExact       DuplicateReason = "path_hash_exact"
	ReasonNameFallback        DuplicateReason = "name_fallback"
	ReasonContentHashFallback DuplicateReason = "content_hash_fallback"
)

// DuplicateMatch is the classification of one candidate record.
type DuplicateMatch struct {
	IsDuplicate   bool            `json:"isDuplicate"`
	ExistingPoint *StoredPoint    `json:"existingPoint,omitempty"`
	Similarity    float64         `json:"similarity"`
	Reason        DuplicateReason `json:"reason,omitempty"`
}

// FieldMatch is one exact-match clause of a store filter.
type FieldMatch struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// Filter is a conjunction of exact-match clauses.
type Filter struct {
	Must []FieldMatch `json:"must,omitempty"`
}

// Match builds a single-clause filter.
func Match(key string, value any) Filter {
	return Filter{Must: []FieldMatch{{Key: key, Value: value}}}
}

// ScrollRequest pages through points matching a filter.
type ScrollRequest struct {
	Filter      Filter
	Limit       int
	Offset      *uint64
	WithPayload bool
	WithVector  bool
}

// ScrollPage is one page of a scroll. NextOffset is nil on the last page.
type ScrollPage struct {
	Points     []StoredPoint
	NextOffset *uint64
}

// CollectionInfo describes the backing collection.
type CollectionInfo struct {
	Name        string `json:"name"`
	PointsCount uint64 `json:"pointsCount"`
	VectorSize  int    `json:"vectorSize"`
}

// Store is the vector-store collaborator. GetPoint returns (nil, nil) when
// the id is absent. UpdatePayload replaces the whole payload.
type Store interface {
	InsertPoint(ctx context.Context, p StoredPoint) error
	UpdatePayload(ctx context.Context, id uint64, payload Payload) error
	GetPoint(ctx context.Context, id uint64) (*StoredPoint, error)
	ScrollPoints(ctx context.Context, req ScrollRequest) (ScrollPage, error)
	CollectionInfo(ctx context.Context) (CollectionInfo, error)
}

// Embedder produces a fixed-dimension vector for a text.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// ScrollAll walks every page matching req and calls fn for each point.
// Returning false from fn stops the walk.
func ScrollAll(ctx context.Context, s Store, req ScrollRequest, fn func(StoredPoint) bool) error {
	if req.Limit <= 0 {
		req.Limit = 100
	}
	for {
		page, err := s.ScrollPoints(ctx, req)
		if err != nil {
			return err
		}
		for _, p := range page.Points {
			if !fn(p) {
				return nil
			}
		}
		if page.NextOffset == nil || len(page.Points) == 0 {
			return nil
		}
		req.Offset = page.NextOffset
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}
