package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/chakssp/vcia-dhl-sub005/engine/confidence"
	"github.com/chakssp/vcia-dhl-sub005/engine/consolidator"
	"github.com/chakssp/vcia-dhl-sub005/engine/graph"
	"github.com/chakssp/vcia-dhl-sub005/engine/identity"
	"github.com/chakssp/vcia-dhl-sub005/engine/semantic"
	"github.com/chakssp/vcia-dhl-sub005/pkg/config"
	"github.com/chakssp/vcia-dhl-sub005/pkg/fn"
	"github.com/chakssp/vcia-dhl-sub005/pkg/ollama"
	"github.com/chakssp/vcia-dhl-sub005/pkg/resilience"
)

type commandContext struct {
	configFlag  *string
	backendFlag *string
	jsonFlag    *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, backendFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		configFlag:  configFlag,
		backendFlag: backendFlag,
		jsonFlag:    jsonFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if c.backendFlag != nil {
			if backend := strings.ToLower(strings.TrimSpace(*c.backendFlag)); backend != "" {
				cfg.Qdrant.Store = backend
				if err := cfg.Validate(); err != nil {
					c.configErr = err
					return
				}
			}
		}
		if err := cfg.EnsureStateDir(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// jsonOutput reports whether results should be written as JSON: always with
// --json, otherwise whenever stdout is not a terminal.
func (c *commandContext) jsonOutput(cmd *cobra.Command) bool {
	if c.jsonFlag != nil && *c.jsonFlag {
		return true
	}
	return !isTerminal(cmd.OutOrStdout())
}

// withLock runs fn holding the single-writer lock.
func (c *commandContext) withLock(fn func() error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another consolidator writer holds %s", cfg.LockPath())
	}
	defer func() { _ = lock.Unlock() }()
	return fn()
}

func newLogger(l config.Logging, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// app is one wired service plus the connections it owns.
type app struct {
	cfg   *config.Config
	log   *slog.Logger
	svc   *consolidator.Service
	nc    *nats.Conn
	graph *graph.ChunkGraph

	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// openApp connects the configured backends. Only the vector store is
// required; Redis, Neo4j and NATS degrade to their in-process fallbacks
// with a warning.
func (c *commandContext) openApp(ctx context.Context, withNATS bool) (*app, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	log := newLogger(cfg.Logging, os.Stderr)
	slog.SetDefault(log)
	a := &app{cfg: cfg, log: log}

	deps := consolidator.Deps{
		Embedder: ollama.New(ollama.Options{
			BaseURL: cfg.Embedding.URL,
			Model:   cfg.Embedding.Model,
			RPS:     cfg.Embedding.RPS,
			Burst:   cfg.Embedding.Burst,
			Timeout: cfg.Embedding.Timeout(),
		}),
		Logger: log,
	}

	switch cfg.Qdrant.Store {
	case "memory":
		deps.Store = semantic.NewMemoryStore(cfg.Qdrant.Collection, cfg.Qdrant.Dims)
		log.Warn("using in-memory store; points are lost on exit")
	default:
		vs, err := semantic.New(cfg.Qdrant.Addr, cfg.Qdrant.Collection, cfg.Qdrant.Dims)
		if err != nil {
			return nil, fmt.Errorf("qdrant connect: %w", err)
		}
		a.closers = append(a.closers, func() { _ = vs.Close() })
		deps.Store, deps.Ensurer = vs, vs
	}

	if cfg.Redis.Addr != "" {
		rdb, err := fn.Retry(ctx, dialRetry, func(ctx context.Context) fn.Result[*redis.Client] {
			return fn.FromPair(identity.DialRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB))
		}).Unwrap()
		if err != nil {
			log.Warn("redis unavailable; id registry is process local", "error", err)
		} else {
			a.closers = append(a.closers, func() { _ = rdb.Close() })
			deps.Registry = identity.NewRedisRegistry(rdb, cfg.Qdrant.Collection)
		}
	}

	if cfg.Neo4j.URL != "" {
		if g, err := openGraph(ctx, cfg.Neo4j, a); err != nil {
			log.Warn("neo4j unavailable; related chunks come from the store", "error", err)
		} else {
			deps.Graph, a.graph = g, g
		}
	}

	if withNATS && cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name("consolidator"))
		if err != nil {
			log.Warn("nats unavailable; consumer and progress events disabled", "error", err)
		} else {
			a.closers = append(a.closers, func() { _ = nc.Drain() })
			a.nc = nc
		}
	}

	a.svc = consolidator.New(deps, consolidator.Settings{
		Dims:    cfg.Qdrant.Dims,
		Weights: confidence.Weights(cfg.Confidence.Weights),
		Breaker: resilience.BreakerOpts{
			Name:          "embedder",
			FailThreshold: cfg.Embedding.BreakerFailures,
			Timeout:       cfg.Embedding.BreakerTimeout(),
		},
	})
	return a, nil
}

// dialRetry covers backends that are still starting next to the process.
var dialRetry = fn.RetryOpts{MaxAttempts: 3, InitialWait: 500 * time.Millisecond, MaxWait: 2 * time.Second, Jitter: true}

func openGraph(ctx context.Context, n config.Neo4j, a *app) (*graph.ChunkGraph, error) {
	driver, err := fn.Retry(ctx, dialRetry, func(ctx context.Context) fn.Result[neo4j.DriverWithContext] {
		return fn.FromPair(graph.Dial(ctx, n.URL, n.User, n.Pass))
	}).Unwrap()
	if err != nil {
		return nil, err
	}
	g := graph.New(driver)
	if err := g.EnsureSchema(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, err
	}
	a.closers = append(a.closers, closeDriver(driver))
	return g, nil
}

func closeDriver(d neo4j.DriverWithContext) func() {
	return func() { _ = d.Close(context.Background()) }
}

// runWithApp opens the app under the writer lock, runs fn and closes it.
func (c *commandContext) runWithApp(cmd *cobra.Command, withNATS bool, fn func(*app) error) error {
	return c.withLock(func() error {
		a, err := c.openApp(cmd.Context(), withNATS)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(a)
	})
}

var errNoResults = errors.New("nothing to do")
