// Package config loads the consolidator's TOML configuration.
//
// Load starts from Default, decodes the file if it exists, applies
// environment overrides, normalizes and validates. Missing files are not an
// error: every setting has a working default for a local stack.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Qdrant selects and addresses the vector store.
type Qdrant struct {
	Store      string `toml:"store"` // "qdrant" or "memory"
	Addr       string `toml:"addr"`
	Collection string `toml:"collection"`
	Dims       int    `toml:"dims"`
}

// Embedding configures the Ollama embedder and its circuit breaker.
type Embedding struct {
	URL                   string  `toml:"url"`
	Model                 string  `toml:"model"`
	RPS                   float64 `toml:"rps"`
	Burst                 int     `toml:"burst"`
	TimeoutSeconds        int     `toml:"timeout_seconds"`
	BreakerFailures       int     `toml:"breaker_failures"`
	BreakerTimeoutSeconds int     `toml:"breaker_timeout_seconds"`
}

// NATS configures the ingest consumer and progress events. An empty URL
// disables NATS.
type NATS struct {
	URL             string `toml:"url"`
	IngestSubject   string `toml:"ingest_subject"`
	DLQSubject      string `toml:"dlq_subject"`
	ProgressSubject string `toml:"progress_subject"`
	EnrichSubject   string `toml:"enrich_subject"`
	MaxRetries      int    `toml:"max_retries"`
}

// Neo4j addresses the chunk graph. An empty URL disables it.
type Neo4j struct {
	URL  string `toml:"url"`
	User string `toml:"user"`
	Pass string `toml:"pass"`
}

// Redis addresses the shared id registry. An empty Addr keeps the registry
// in process memory.
type Redis struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// Ingest holds upsert defaults.
type Ingest struct {
	DuplicateAction string   `toml:"duplicate_action"`
	PreserveFields  []string `toml:"preserve_fields"`
	BatchSize       int      `toml:"batch_size"`
	Concurrency     int      `toml:"concurrency"`
	DelayMillis     int      `toml:"delay_ms"`
}

// Enrich holds bulk enrichment settings.
type Enrich struct {
	Threshold       int `toml:"threshold"`
	BatchSize       int `toml:"batch_size"`
	DelayMillis     int `toml:"delay_ms"`
	IntervalSeconds int `toml:"interval_seconds"` // serve: 0 disables the periodic run
}

// Weights are the balanced confidence weights.
type Weights struct {
	QdrantScore       float64 `toml:"qdrant_score"`
	CategoryBoost     float64 `toml:"category_boost"`
	PrefixEnhancement float64 `toml:"prefix_enhancement"`
	Contextual        float64 `toml:"contextual"`
}

// Confidence configures the aggregator.
type Confidence struct {
	Weights Weights `toml:"weights"`
}

// Logging selects the slog handler.
type Logging struct {
	Format string `toml:"format"` // "text" or "json"
	Level  string `toml:"level"`
}

// Server configures the serve command.
type Server struct {
	Bind     string `toml:"bind"`
	StateDir string `toml:"state_dir"`
}

// Config is the whole configuration file.
type Config struct {
	Qdrant     Qdrant     `toml:"qdrant"`
	Embedding  Embedding  `toml:"embedding"`
	NATS       NATS       `toml:"nats"`
	Neo4j      Neo4j      `toml:"neo4j"`
	Redis      Redis      `toml:"redis"`
	Ingest     Ingest     `toml:"ingest"`
	Enrich     Enrich     `toml:"enrich"`
	Confidence Confidence `toml:"confidence"`
	Logging    Logging    `toml:"logging"`
	Server     Server     `toml:"server"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Qdrant: Qdrant{Store: "qdrant", Addr: "localhost:6334", Collection: "knowledge_consolidator", Dims: 768},
		Embedding: Embedding{
			URL: "http://localhost:11434", Model: "nomic-embed-text",
			RPS: 10, Burst: 5, TimeoutSeconds: 30,
			BreakerFailures: 5, BreakerTimeoutSeconds: 30,
		},
		NATS: NATS{
			IngestSubject:   "consolidator.ingest",
			DLQSubject:      "consolidator.ingest.dlq",
			ProgressSubject: "consolidator.progress",
			EnrichSubject:   "consolidator.enrich",
			MaxRetries:      3,
		},
		Ingest: Ingest{DuplicateAction: "skip", BatchSize: 10, Concurrency: 1, DelayMillis: 1000},
		Enrich: Enrich{Threshold: 90, BatchSize: 10, DelayMillis: 1000},
		Confidence: Confidence{Weights: Weights{
			QdrantScore: 0.4, CategoryBoost: 0.3, PrefixEnhancement: 0.2, Contextual: 0.1,
		}},
		Logging: Logging{Format: "text", Level: "info"},
		Server:  Server{Bind: "127.0.0.1:8088", StateDir: "~/.local/state/consolidator"},
	}
}

// DefaultPath is where Load looks when no path is given.
const DefaultPath = "~/.config/consolidator/config.toml"

// Load reads the configuration at path (or DefaultPath, then
// ./consolidator.toml). It returns the resolved path and whether a file was
// found.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolved, exists, err := resolvePath(path)
	if err != nil {
		return nil, "", false, err
	}
	if exists {
		f, err := os.Open(resolved)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		dec := toml.NewDecoder(f)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()
	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolved, exists, nil
}

// Encode renders cfg as TOML.
func (c Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}

func resolvePath(path string) (string, bool, error) {
	candidates := []string{path}
	if path == "" {
		candidates = []string{DefaultPath, "consolidator.toml"}
	}
	var first string
	for _, p := range candidates {
		expanded, err := ExpandPath(p)
		if err != nil {
			return "", false, err
		}
		if first == "" {
			first = expanded
		}
		info, err := os.Stat(expanded)
		switch {
		case err == nil && !info.IsDir():
			return expanded, true, nil
		case err != nil && !errors.Is(err, fs.ErrNotExist):
			return "", false, fmt.Errorf("stat config: %w", err)
		}
	}
	return first, false, nil
}

// envOverrides maps environment variables onto fields.
func (c *Config) envOverrides() map[string]*string {
	return map[string]*string{
		"QDRANT_ADDR":    &c.Qdrant.Addr,
		"OLLAMA_URL":     &c.Embedding.URL,
		"NATS_URL":       &c.NATS.URL,
		"NEO4J_URL":      &c.Neo4j.URL,
		"NEO4J_USER":     &c.Neo4j.User,
		"NEO4J_PASS":     &c.Neo4j.Pass,
		"REDIS_ADDR":     &c.Redis.Addr,
		"REDIS_PASSWORD": &c.Redis.Password,
	}
}

func (c *Config) applyEnv() {
	for key, field := range c.envOverrides() {
		if v, ok := os.LookupEnv(key); ok {
			*field = strings.TrimSpace(v)
		}
	}
}

func (c *Config) normalize() error {
	c.Qdrant.Store = strings.ToLower(strings.TrimSpace(c.Qdrant.Store))
	c.Ingest.DuplicateAction = strings.ToLower(strings.TrimSpace(c.Ingest.DuplicateAction))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Embedding.URL = strings.TrimRight(strings.TrimSpace(c.Embedding.URL), "/")

	fields := c.Ingest.PreserveFields[:0]
	for _, f := range c.Ingest.PreserveFields {
		if f = strings.TrimSpace(f); f != "" {
			fields = append(fields, f)
		}
	}
	c.Ingest.PreserveFields = fields

	var err error
	if c.Server.StateDir, err = ExpandPath(c.Server.StateDir); err != nil {
		return fmt.Errorf("server.state_dir: %w", err)
	}
	return nil
}

// LockPath is the single-writer lock file for write commands.
func (c *Config) LockPath() string {
	return filepath.Join(c.Server.StateDir, "consolidator.lock")
}

// EnsureStateDir creates the state directory.
func (c *Config) EnsureStateDir() error {
	if err := os.MkdirAll(c.Server.StateDir, 0o755); err != nil {
		return fmt.Errorf("create state directory %q: %w", c.Server.StateDir, err)
	}
	return nil
}

// Timeout is the HTTP timeout for one embedding request.
func (e Embedding) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

// BreakerTimeout is how long the breaker stays open.
func (e Embedding) BreakerTimeout() time.Duration {
	return time.Duration(e.BreakerTimeoutSeconds) * time.Second
}

// Delay is the pause between ingest batches.
func (i Ingest) Delay() time.Duration {
	return time.Duration(i.DelayMillis) * time.Millisecond
}

// Delay is the pause between enrichment batches.
func (e Enrich) Delay() time.Duration {
	return time.Duration(e.DelayMillis) * time.Millisecond
}

// Interval is the period of the serve command's enrichment run.
func (e Enrich) Interval() time.Duration {
	return time.Duration(e.IntervalSeconds) * time.Second
}

// ExpandPath resolves a leading ~ and makes path absolute.
func ExpandPath(path string) (string, error) {
	if path == "" {
		return path, nil
	}
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if path == "~" {
			path = home
		} else if len(path) > 1 && (path[1] == '/' || path[1] == '\\') {
			path = filepath.Join(home, path[2:])
		}
	}
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", path, err)
	}
	return abs, nil
}
