// Package repo defines a generic keyed repository and its Neo4j implementation.
package repo

import "context"

// Repository is a generic keyed store of nodes.
type Repository[T any, ID comparable] interface {
	Get(ctx context.Context, id ID) (T, error)
	List(ctx context.Context, opts ListOpts) ([]T, error)
	Save(ctx context.Context, entity T) error
	Count(ctx context.Context, filter map[string]any) (int64, error)
}

// ListOpts controls pagination and filtering for List operations.
// Filter keys are property names matched for equality.
type ListOpts struct {
	Offset  int
	Limit   int
	Filter  map[string]any
	OrderBy string
}
