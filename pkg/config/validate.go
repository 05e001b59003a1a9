package config

import (
	"errors"
	"fmt"
	"math"
)

// Validate reports the first unusable setting.
func (c *Config) Validate() error {
	for _, check := range []func() error{
		c.validateQdrant,
		c.validateEmbedding,
		c.validateIngest,
		c.validateEnrich,
		c.validateWeights,
		c.validateLogging,
	} {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateQdrant() error {
	switch c.Qdrant.Store {
	case "qdrant":
		if c.Qdrant.Addr == "" {
			return errors.New("qdrant.addr must be set when qdrant.store is \"qdrant\"")
		}
	case "memory":
	default:
		return fmt.Errorf("qdrant.store must be \"qdrant\" or \"memory\", got %q", c.Qdrant.Store)
	}
	if c.Qdrant.Collection == "" {
		return errors.New("qdrant.collection must be set")
	}
	if c.Qdrant.Dims <= 0 {
		return fmt.Errorf("qdrant.dims must be positive, got %d", c.Qdrant.Dims)
	}
	return nil
}

func (c *Config) validateEmbedding() error {
	if c.Embedding.RPS <= 0 || c.Embedding.Burst <= 0 {
		return errors.New("embedding.rps and embedding.burst must be positive")
	}
	if c.Embedding.BreakerFailures <= 0 || c.Embedding.BreakerTimeoutSeconds <= 0 {
		return errors.New("embedding.breaker_failures and embedding.breaker_timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateIngest() error {
	switch c.Ingest.DuplicateAction {
	case "skip", "update", "merge":
	default:
		return fmt.Errorf("ingest.duplicate_action must be skip, update or merge, got %q", c.Ingest.DuplicateAction)
	}
	if c.Ingest.BatchSize <= 0 || c.Ingest.Concurrency <= 0 {
		return errors.New("ingest.batch_size and ingest.concurrency must be positive")
	}
	if c.Ingest.DelayMillis < 0 {
		return errors.New("ingest.delay_ms must not be negative")
	}
	return nil
}

func (c *Config) validateEnrich() error {
	if c.Enrich.Threshold < 0 || c.Enrich.Threshold > 100 {
		return fmt.Errorf("enrich.threshold must be between 0 and 100, got %d", c.Enrich.Threshold)
	}
	if c.Enrich.BatchSize <= 0 {
		return errors.New("enrich.batch_size must be positive")
	}
	if c.Enrich.DelayMillis < 0 || c.Enrich.IntervalSeconds < 0 {
		return errors.New("enrich.delay_ms and enrich.interval_seconds must not be negative")
	}
	return nil
}

func (c *Config) validateWeights() error {
	w := c.Confidence.Weights
	named := map[string]float64{
		"qdrant_score":       w.QdrantScore,
		"category_boost":     w.CategoryBoost,
		"prefix_enhancement": w.PrefixEnhancement,
		"contextual":         w.Contextual,
	}
	sum := 0.0
	for name, v := range named {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("confidence.weights.%s must be between 0 and 1, got %v", name, v)
		}
		sum += v
	}
	if sum == 0 {
		return errors.New("confidence.weights must not all be zero")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	return nil
}
