package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/chakssp/vcia-dhl-sub005/engine/domain"
	"github.com/chakssp/vcia-dhl-sub005/engine/ingest"
)

// batchIngester is the part of the service the watcher drives.
type batchIngester interface {
	IngestBatch(ctx context.Context, recs []domain.Record, opts ingest.BatchOptions, progress func(ingest.BatchProgress)) ingest.BatchSummary
}

// dropWatcher ingests record files dropped into a directory. A file is
// processed again only when its size changes.
type dropWatcher struct {
	svc        batchIngester
	opts       ingest.BatchOptions
	log        *slog.Logger
	extensions []string
	onSummary  func(path string, sum ingest.BatchSummary)

	seen map[string]int64
}

func newDropWatcher(svc batchIngester, opts ingest.BatchOptions, log *slog.Logger) *dropWatcher {
	if log == nil {
		log = slog.Default()
	}
	return &dropWatcher{
		svc:        svc,
		opts:       opts,
		log:        log,
		extensions: []string{".jsonl", ".json"},
		seen:       map[string]int64{},
	}
}

func (w *dropWatcher) watched(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range w.extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// scan processes the files already present in dir.
func (w *dropWatcher) scan(ctx context.Context, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read drop directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, err := w.handle(ctx, filepath.Join(dir, e.Name())); err != nil {
			w.log.Warn("watch: file skipped", "path", e.Name(), "error", err)
		}
	}
	return nil
}

// handle ingests path unless it was already processed at its current size.
// A file that fails to decode is left unmarked so a later write retries it.
func (w *dropWatcher) handle(ctx context.Context, path string) (bool, error) {
	if !w.watched(path) {
		return false, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	key := filepath.Base(path)
	if size, ok := w.seen[key]; ok && size == info.Size() {
		return false, nil
	}

	recs, err := readRecordsFile(path)
	if err != nil {
		return false, err
	}
	w.seen[key] = info.Size()
	if len(recs) == 0 {
		return true, nil
	}

	sum := w.svc.IngestBatch(ctx, recs, w.opts, nil)
	w.log.Info("watch: file ingested",
		"path", key,
		"total", sum.Total,
		"inserted", sum.Inserted,
		"skipped", sum.Skipped,
		"failed", sum.Failed,
	)
	if w.onSummary != nil {
		w.onSummary(path, sum)
	}
	if sum.Err != "" {
		return true, errors.New(sum.Err)
	}
	return true, nil
}

// run processes existing files, then every create or write in dir until ctx
// ends.
func (w *dropWatcher) run(ctx context.Context, dir string) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	if err := w.scan(ctx, dir); err != nil {
		return err
	}
	w.log.Info("watch: waiting for record files", "dir", dir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if _, err := w.handle(ctx, event.Name); err != nil {
				w.log.Warn("watch: file skipped", "path", event.Name, "error", err)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Error("watch: watcher error", "error", err)
		}
	}
}
