package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chakssp/vcia-dhl-sub005/engine/enrich"
	"github.com/chakssp/vcia-dhl-sub005/pkg/config"
	"github.com/chakssp/vcia-dhl-sub005/pkg/natsutil"
)

func newEnrichCommand(ctx *commandContext) *cobra.Command {
	var id uint64
	var threshold int

	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Fill empty enrichment fields on one point or on every incomplete point",
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON := ctx.jsonOutput(cmd)
			if cmd.Flags().Changed("id") {
				return ctx.runWithApp(cmd, false, func(a *app) error {
					out := a.svc.EnrichPoint(cmd.Context(), id, nil)
					if err := printEnrichOutcome(cmd, asJSON, out); err != nil {
						return err
					}
					if !out.Success {
						return errors.New(out.Reason)
					}
					return nil
				})
			}

			return ctx.runWithApp(cmd, true, func(a *app) error {
				opts := enrichOptions(a.cfg)
				if threshold > 0 {
					opts.Threshold = threshold
				}
				publish := natsutil.Progress[enrich.Progress](cmd.Context(), a.nc, a.cfg.NATS.ProgressSubject, "enrich", a.log)
				sum := a.svc.EnrichAll(cmd.Context(), opts, func(p enrich.Progress) {
					a.log.Info("enrich: batch done", "run_id", p.RunID, "batch", p.Batch, "batches", p.Batches, "enriched", p.Enriched, "errors", p.Errors)
					publish(p)
				})
				if err := printEnrichSummary(cmd, asJSON, sum); err != nil {
					return err
				}
				if sum.Err != "" {
					return errors.New(sum.Err)
				}
				return nil
			})
		},
	}

	cmd.Flags().Uint64Var(&id, "id", 0, "Enrich only this point")
	cmd.Flags().IntVar(&threshold, "threshold", 0, "Enrich points below this level (default from config)")
	return cmd
}

func enrichOptions(cfg *config.Config) enrich.AllOptions {
	delay := cfg.Enrich.Delay()
	if delay == 0 {
		delay = -1
	}
	return enrich.AllOptions{
		Threshold: cfg.Enrich.Threshold,
		BatchSize: cfg.Enrich.BatchSize,
		Delay:     delay,
	}
}

func printEnrichOutcome(cmd *cobra.Command, asJSON bool, out enrich.Outcome) error {
	if asJSON {
		return writeJSON(cmd, out)
	}
	rows := [][]string{
		{"ID", fmt.Sprint(out.ID)},
		{"Success", yesNo(out.Success)},
	}
	if out.Success {
		rows = append(rows,
			[]string{"Enrichment level", itoa(out.Level)},
			[]string{"Version", itoa(out.Version)},
			[]string{"Filled", strings.Join(out.Filled, ", ")},
		)
	} else {
		rows = append(rows, []string{"Reason", out.Reason})
	}
	fmt.Fprintln(cmd.OutOrStdout(), keyValueTable(rows))
	return nil
}

func printEnrichSummary(cmd *cobra.Command, asJSON bool, sum enrich.Summary) error {
	if asJSON {
		return writeJSON(cmd, sum)
	}
	fmt.Fprintln(cmd.OutOrStdout(), keyValueTable([][]string{
		{"Run", sum.RunID},
		{"Scanned", itoa(sum.Scanned)},
		{"Eligible", itoa(sum.Eligible)},
		{"Enriched", itoa(sum.Enriched)},
		{"Unchanged", itoa(sum.Unchanged)},
		{"Errors", itoa(sum.Errors)},
	}))
	return nil
}
