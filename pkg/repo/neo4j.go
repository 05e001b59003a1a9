package repo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// ErrNotFound is returned by Get when no node has the id.
var ErrNotFound = errors.New("repo: not found")

// Result is the minimal interface needed from a neo4j result.
type Result interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
}

// Runner is the minimal interface needed from a neo4j session.
type Runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (Result, error)
	Close(ctx context.Context) error
}

// SessionFunc opens a session for one operation.
type SessionFunc func(ctx context.Context) Runner

// DriverSessions opens default-database sessions on driver.
func DriverSessions(driver neo4j.DriverWithContext) SessionFunc {
	return func(ctx context.Context) Runner {
		return &neo4jSessionAdapter{sess: driver.NewSession(ctx, neo4j.SessionConfig{})}
	}
}

// Neo4jRepo is a generic Neo4j-backed repository over nodes of one label.
type Neo4jRepo[T any, ID comparable] struct {
	sessions   SessionFunc
	label      string
	idKey      string
	toMap      func(T) map[string]any
	fromRecord func(*neo4j.Record) (T, error)
}

// Neo4jOption configures a Neo4jRepo.
type Neo4jOption[T any, ID comparable] func(*Neo4jRepo[T, ID])

// WithIDKey sets the property name used as the ID (default "id").
func WithIDKey[T any, ID comparable](key string) Neo4jOption[T, ID] {
	return func(r *Neo4jRepo[T, ID]) { r.idKey = key }
}

// NewNeo4jRepo creates a repository. fromRecord receives records whose only
// column is the node bound as "n".
func NewNeo4jRepo[T any, ID comparable](
	sessions SessionFunc,
	label string,
	toMap func(T) map[string]any,
	fromRecord func(*neo4j.Record) (T, error),
	opts ...Neo4jOption[T, ID],
) *Neo4jRepo[T, ID] {
	r := &Neo4jRepo[T, ID]{
		sessions:   sessions,
		label:      label,
		idKey:      "id",
		toMap:      toMap,
		fromRecord: fromRecord,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Compile-time interface check.
var _ Repository[any, string] = (*Neo4jRepo[any, string])(nil)

// neo4jSessionAdapter adapts neo4j.SessionWithContext to the Runner interface.
type neo4jSessionAdapter struct {
	sess neo4j.SessionWithContext
}

func (a *neo4jSessionAdapter) Run(ctx context.Context, cypher string, params map[string]any) (Result, error) {
	return a.sess.Run(ctx, cypher, params)
}

func (a *neo4jSessionAdapter) Close(ctx context.Context) error {
	return a.sess.Close(ctx)
}

func (r *Neo4jRepo[T, ID]) Get(ctx context.Context, id ID) (T, error) {
	var zero T
	sess := r.sessions(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf("MATCH (n:%s {%s: $id}) RETURN n", r.label, r.idKey)
	result, err := sess.Run(ctx, cypher, map[string]any{"id": id})
	if err != nil {
		return zero, err
	}
	if !result.Next(ctx) {
		return zero, fmt.Errorf("%s %v: %w", r.label, id, ErrNotFound)
	}
	return r.fromRecord(result.Record())
}

func (r *Neo4jRepo[T, ID]) List(ctx context.Context, opts ListOpts) ([]T, error) {
	sess := r.sessions(ctx)
	defer sess.Close(ctx)

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	where, params := whereClause(opts.Filter)
	params["offset"] = opts.Offset
	params["limit"] = limit

	order := ""
	if identRe.MatchString(opts.OrderBy) {
		order = " ORDER BY n." + opts.OrderBy
	}
	cypher := fmt.Sprintf("MATCH (n:%s)%s RETURN n%s SKIP $offset LIMIT $limit", r.label, where, order)

	result, err := sess.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}

	var items []T
	for result.Next(ctx) {
		item, err := r.fromRecord(result.Record())
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// Save merges the node on its id and overwrites the given properties.
func (r *Neo4jRepo[T, ID]) Save(ctx context.Context, entity T) error {
	sess := r.sessions(ctx)
	defer sess.Close(ctx)

	props := r.toMap(entity)
	id, ok := props[r.idKey]
	if !ok {
		return fmt.Errorf("repo: %s: missing %s", r.label, r.idKey)
	}
	cypher := fmt.Sprintf("MERGE (n:%s {%s: $id}) SET n += $props", r.label, r.idKey)
	_, err := sess.Run(ctx, cypher, map[string]any{"id": id, "props": props})
	return err
}

// Count returns how many nodes match filter.
func (r *Neo4jRepo[T, ID]) Count(ctx context.Context, filter map[string]any) (int64, error) {
	sess := r.sessions(ctx)
	defer sess.Close(ctx)

	where, params := whereClause(filter)
	cypher := fmt.Sprintf("MATCH (n:%s)%s RETURN count(n) AS count", r.label, where)
	result, err := sess.Run(ctx, cypher, params)
	if err != nil {
		return 0, err
	}
	if !result.Next(ctx) {
		return 0, nil
	}
	v, _ := result.Record().Get("count")
	n, _ := v.(int64)
	return n, nil
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// whereClause renders equality filters on valid property names; other keys
// are ignored. Keys are sorted so the query text is stable.
func whereClause(filter map[string]any) (string, map[string]any) {
	params := make(map[string]any, len(filter)+2)
	keys := make([]string, 0, len(filter))
	for k := range filter {
		if identRe.MatchString(k) {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return "", params
	}
	sort.Strings(keys)
	conds := make([]string, len(keys))
	for i, k := range keys {
		p := "f_" + k
		conds[i] = fmt.Sprintf("n.%s = $%s", k, p)
		params[p] = filter[k]
	}
	return " WHERE " + strings.Join(conds, " AND "), params
}
