package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/chakssp/vcia-dhl-sub005/engine/domain"
	"github.com/chakssp/vcia-dhl-sub005/engine/ingest"
	"github.com/chakssp/vcia-dhl-sub005/pkg/config"
)

const maxRecordLine = 16 << 20

// readRecords decodes either a JSON array of records or one record per line.
// Blank lines are skipped.
func readRecords(r io.Reader) ([]domain.Record, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if first == '[' {
		var recs []domain.Record
		if err := json.NewDecoder(br).Decode(&recs); err != nil {
			return nil, fmt.Errorf("decode record array: %w", err)
		}
		return recs, nil
	}

	var recs []domain.Record
	sc := bufio.NewScanner(br)
	sc.Buffer(make([]byte, 0, 64<<10), maxRecordLine)
	line := 0
	for sc.Scan() {
		line++
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		var rec domain.Record
		if err := json.Unmarshal(b, &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		recs = append(recs, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("line %d: %w", line+1, err)
	}
	return recs, nil
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}

// readRecordsFile reads path, or stdin for "-".
func readRecordsFile(path string) ([]domain.Record, error) {
	if path == "-" {
		return readRecords(os.Stdin)
	}
	expanded, err := config.ExpandPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(expanded)
	if err != nil {
		return nil, fmt.Errorf("open records: %w", err)
	}
	defer f.Close()
	recs, err := readRecords(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", expanded, err)
	}
	return recs, nil
}

// batchOptions builds ingest options from the config, letting non-empty
// flags win.
func batchOptions(cfg *config.Config, action string, preserve []string) (ingest.BatchOptions, error) {
	if action == "" {
		action = cfg.Ingest.DuplicateAction
	}
	act, err := ingest.ParseAction(action)
	if err != nil {
		return ingest.BatchOptions{}, err
	}
	if len(preserve) == 0 {
		preserve = cfg.Ingest.PreserveFields
	}
	delay := cfg.Ingest.Delay()
	if delay == 0 {
		delay = -1
	}
	return ingest.BatchOptions{
		Options:     ingest.Options{Action: act, PreserveFields: preserve},
		BatchSize:   cfg.Ingest.BatchSize,
		Concurrency: cfg.Ingest.Concurrency,
		Delay:       delay,
	}, nil
}
