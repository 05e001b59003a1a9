package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chakssp/vcia-dhl-sub005/engine/ingest"
	"github.com/chakssp/vcia-dhl-sub005/pkg/natsutil"
)

func newIngestCommand(ctx *commandContext) *cobra.Command {
	var file string
	var action string
	var preserve []string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest records from a JSON or JSONL file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			opts, err := batchOptions(cfg, action, preserve)
			if err != nil {
				return err
			}
			recs, err := readRecordsFile(file)
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				return fmt.Errorf("%s: %w", file, errNoResults)
			}

			return ctx.runWithApp(cmd, true, func(a *app) error {
				publish := natsutil.Progress[ingest.BatchProgress](cmd.Context(), a.nc, cfg.NATS.ProgressSubject, "ingest", a.log)
				sum := a.svc.IngestBatch(cmd.Context(), recs, opts, func(p ingest.BatchProgress) {
					a.log.Info("ingest: batch done", "batch", p.Batch, "batches", p.Batches, "processed", p.Processed, "total", p.Total)
					publish(p)
				})
				if err := printBatchSummary(cmd, ctx.jsonOutput(cmd), sum); err != nil {
					return err
				}
				if sum.Err != "" {
					return errors.New(sum.Err)
				}
				if sum.Failed > 0 {
					return fmt.Errorf("%d of %d records failed", sum.Failed, sum.Total)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Records file, JSON array or one record per line ('-' for stdin)")
	cmd.Flags().StringVar(&action, "action", "", "Duplicate action: skip, update or merge (default from config)")
	cmd.Flags().StringSliceVar(&preserve, "preserve", nil, "Payload fields kept when updating a duplicate")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func printBatchSummary(cmd *cobra.Command, asJSON bool, sum ingest.BatchSummary) error {
	if asJSON {
		return writeJSON(cmd, sum)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, keyValueTable([][]string{
		{"Total", itoa(sum.Total)},
		{"Inserted", itoa(sum.Inserted)},
		{"Updated", itoa(sum.Updated)},
		{"Merged", itoa(sum.Merged)},
		{"Skipped", itoa(sum.Skipped)},
		{"Failed", itoa(sum.Failed)},
	}))

	var failed [][]string
	for _, o := range sum.Outcomes {
		if o.Action == ingest.OutcomeFailed {
			failed = append(failed, []string{fmt.Sprint(o.ID), o.Reason})
		}
	}
	if len(failed) > 0 {
		fmt.Fprintln(out, renderTable([]string{"ID", "Failure"}, failed, []columnAlignment{alignRight, alignLeft}))
	}
	return nil
}
