// Package graph keeps the file/chunk relationship graph in Neo4j and answers
// which stored chunks are related to a given one.
package graph

import (
	"context"
	"fmt"

	"github.com/chakssp/vcia-dhl-sub005/pkg/repo"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

// CypherResult is the part of a neo4j result the graph reads.
type CypherResult = repo.Result

// CypherRunner runs one statement.
type CypherRunner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error)
}

// CypherSession is a session that can also run a managed write transaction.
type CypherSession interface {
	CypherRunner
	Close(ctx context.Context) error
	ExecuteWrite(ctx context.Context, work func(tx CypherRunner) (any, error)) (any, error)
}

// SessionOpener opens sessions; the driver implements it in production and
// tests substitute a recording fake.
type SessionOpener interface {
	OpenSession(ctx context.Context) CypherSession
}

// Chunk is a chunk node.
type Chunk struct {
	ID    int64  `json:"id"`
	Path  string `json:"path"`
	Index int64  `json:"index"`
}

// ChunkGraph links stored chunks to the files they came from.
type ChunkGraph struct {
	opener SessionOpener
	chunks *repo.Neo4jRepo[Chunk, int64]
}

// New creates a ChunkGraph on a driver.
func New(driver neo4j.DriverWithContext) *ChunkGraph {
	return NewWithOpener(driverOpener{driver: driver})
}

// NewWithOpener creates a ChunkGraph on any session source.
func NewWithOpener(opener SessionOpener) *ChunkGraph {
	sessions := func(ctx context.Context) repo.Runner { return opener.OpenSession(ctx) }
	return &ChunkGraph{
		opener: opener,
		chunks: repo.NewNeo4jRepo[Chunk, int64](sessions, "Chunk", chunkToMap, chunkFromRecord),
	}
}

// Dial connects to Neo4j and verifies connectivity.
func Dial(ctx context.Context, url, user, pass string) (neo4j.DriverWithContext, error) {
	auth := neo4j.NoAuth()
	if user != "" {
		auth = neo4j.BasicAuth(user, pass, "")
	}
	driver, err := neo4j.NewDriverWithContext(url, auth)
	if err != nil {
		return nil, fmt.Errorf("graph: connect: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("graph: verify: %w", err)
	}
	return driver, nil
}

// EnsureSchema creates the uniqueness constraints the MERGEs rely on.
func (g *ChunkGraph) EnsureSchema(ctx context.Context) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	for _, cypher := range []string{
		`CREATE CONSTRAINT file_path IF NOT EXISTS FOR (f:File) REQUIRE f.path IS UNIQUE`,
		`CREATE CONSTRAINT chunk_id IF NOT EXISTS FOR (c:Chunk) REQUIRE c.id IS UNIQUE`,
	} {
		if _, err := sess.Run(ctx, cypher, nil); err != nil {
			return fmt.Errorf("graph: schema: %w", err)
		}
	}
	return nil
}

// LinkChunk records (:File {path})-[:HAS_CHUNK]->(:Chunk {id}).
func (g *ChunkGraph) LinkChunk(ctx context.Context, filePath string, chunkID uint64, index int) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	_, err := sess.ExecuteWrite(ctx, func(tx CypherRunner) (any, error) {
		cypher := `MERGE (f:File {path: $path})
		           MERGE (c:Chunk {id: $id})
		           SET c.path = $path, c.index = $index
		           MERGE (f)-[:HAS_CHUNK]->(c)`
		_, err := tx.Run(ctx, cypher, map[string]any{
			"path":  filePath,
			"id":    int64(chunkID),
			"index": int64(index),
		})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("graph: link chunk %d: %w", chunkID, err)
	}
	return nil
}

// RelatedChunks returns the ids of the other chunks of the same file, in
// chunk order.
func (g *ChunkGraph) RelatedChunks(ctx context.Context, chunkID uint64, limit int) ([]uint64, error) {
	if limit <= 0 {
		limit = 10
	}
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (c:Chunk {id: $id})<-[:HAS_CHUNK]-(:File)-[:HAS_CHUNK]->(o:Chunk)
	           WHERE o.id <> $id
	           RETURN DISTINCT o.id AS id, o.index AS idx
	           ORDER BY idx
	           LIMIT $limit`
	result, err := sess.Run(ctx, cypher, map[string]any{"id": int64(chunkID), "limit": int64(limit)})
	if err != nil {
		return nil, fmt.Errorf("graph: related chunks: %w", err)
	}
	var ids []uint64
	for result.Next(ctx) {
		v, _ := result.Record().Get("id")
		if id, ok := v.(int64); ok && id >= 0 {
			ids = append(ids, uint64(id))
		}
	}
	return ids, nil
}

// Chunk returns one chunk node.
func (g *ChunkGraph) Chunk(ctx context.Context, id uint64) (Chunk, error) {
	return g.chunks.Get(ctx, int64(id))
}

// FileChunks lists the chunks recorded for a file in chunk order.
func (g *ChunkGraph) FileChunks(ctx context.Context, filePath string) ([]Chunk, error) {
	return g.chunks.List(ctx, repo.ListOpts{Filter: map[string]any{"path": filePath}, OrderBy: "index", Limit: 1000})
}

// Counts reports how many file and chunk nodes exist.
func (g *ChunkGraph) Counts(ctx context.Context) (files, chunks int64, err error) {
	chunks, err = g.chunks.Count(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("graph: count chunks: %w", err)
	}
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)
	result, err := sess.Run(ctx, `MATCH (f:File) RETURN count(f) AS count`, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("graph: count files: %w", err)
	}
	if result.Next(ctx) {
		v, _ := result.Record().Get("count")
		files, _ = v.(int64)
	}
	return files, chunks, nil
}

func chunkToMap(c Chunk) map[string]any {
	return map[string]any{"id": c.ID, "path": c.Path, "index": c.Index}
}

func chunkFromRecord(rec *neo4j.Record) (Chunk, error) {
	node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "n")
	if err != nil {
		return Chunk{}, fmt.Errorf("graph: chunk record: %w", err)
	}
	c := Chunk{}
	c.ID, _ = node.Props["id"].(int64)
	c.Path, _ = node.Props["path"].(string)
	c.Index, _ = node.Props["index"].(int64)
	return c, nil
}

// driverOpener adapts a neo4j driver to SessionOpener.
type driverOpener struct {
	driver neo4j.DriverWithContext
}

func (d driverOpener) OpenSession(ctx context.Context) CypherSession {
	return &driverSession{sess: d.driver.NewSession(ctx, neo4j.SessionConfig{})}
}

type driverSession struct {
	sess neo4j.SessionWithContext
}

func (s *driverSession) Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error) {
	return s.sess.Run(ctx, cypher, params)
}

func (s *driverSession) Close(ctx context.Context) error { return s.sess.Close(ctx) }

func (s *driverSession) ExecuteWrite(ctx context.Context, work func(tx CypherRunner) (any, error)) (any, error) {
	return s.sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return work(txRunner{tx: tx})
	})
}

type txRunner struct {
	tx neo4j.ManagedTransaction
}

func (t txRunner) Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error) {
	return t.tx.Run(ctx, cypher, params)
}
