package ingest

import (
	"context"
	"time"

	"github.com/chakssp/vcia-dhl-sub005/engine/domain"
	"github.com/chakssp/vcia-dhl-sub005/pkg/fn"
)

// BatchOptions control IngestBatch pacing.
type BatchOptions struct {
	Options
	BatchSize   int           // default 10
	Concurrency int           // writers inside a batch, default 1
	Delay       time.Duration // between batches; negative disables
}

// DefaultBatchOptions returns batches of 10, one writer, 1s apart.
func DefaultBatchOptions() BatchOptions {
	return BatchOptions{Options: Options{Action: ActionSkip}, BatchSize: 10, Concurrency: 1, Delay: time.Second}
}

// BatchProgress is reported after each batch.
type BatchProgress struct {
	Batch     int `json:"batch"`
	Batches   int `json:"batches"`
	Processed int `json:"processed"`
	Total     int `json:"total"`
}

// BatchSummary totals the outcomes of a batch run.
type BatchSummary struct {
	Total    int       `json:"total"`
	Inserted int       `json:"inserted"`
	Updated  int       `json:"updated"`
	Merged   int       `json:"merged"`
	Skipped  int       `json:"skipped"`
	Failed   int       `json:"failed"`
	Outcomes []Outcome `json:"outcomes"`
	Err      string    `json:"error,omitempty"`
}

func (s *BatchSummary) add(o Outcome) {
	s.Outcomes = append(s.Outcomes, o)
	switch o.Action {
	case OutcomeInserted:
		s.Inserted++
	case OutcomeUpdated:
		s.Updated++
	case OutcomeMerged:
		s.Merged++
	case OutcomeSkipped:
		s.Skipped++
	default:
		s.Failed++
	}
}

// IngestBatch writes records in paced batches. A cancelled context stops
// the run between batches; the summary covers what was written.
func (e *Engine) IngestBatch(ctx context.Context, records []domain.Record, opts BatchOptions, progress func(BatchProgress)) BatchSummary {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Delay == 0 {
		opts.Delay = time.Second
	}

	sum := BatchSummary{Total: len(records), Outcomes: make([]Outcome, 0, len(records))}
	batches := (len(records) + opts.BatchSize - 1) / opts.BatchSize
	processed := 0

	err := fn.Paced(ctx, records, opts.BatchSize, opts.Delay, func(ctx context.Context, i int, chunk []domain.Record) {
		outs := fn.ParMap(chunk, opts.Concurrency, func(r domain.Record) Outcome {
			return e.InsertOrUpdate(ctx, r, opts.Options)
		})
		for _, o := range outs {
			sum.add(o)
		}
		processed += len(chunk)
		p := BatchProgress{Batch: i + 1, Batches: batches, Processed: processed, Total: len(records)}

		e.log.Info("ingest: batch done", "batch", p.Batch, "batches", p.Batches, "processed", p.Processed)
		if progress != nil {
			progress(p)
		}
	})
	if err != nil {
		sum.Err = err.Error()
	}
	if err := e.SyncTotal(context.WithoutCancel(ctx)); err != nil {
		e.log.Warn("ingest: point count refresh failed", "error", err)
	}
	return sum
}
