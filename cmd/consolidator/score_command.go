package main

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/chakssp/vcia-dhl-sub005/engine/confidence"
)

func newScoreCommand(ctx *commandContext) *cobra.Command {
	var id uint64
	var store bool
	var terms []string

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Aggregate the confidence score of a stored point",
		RunE: func(cmd *cobra.Command, args []string) error {
			sc := confidence.ScoreContext{Now: time.Now(), Terms: terms}
			asJSON := ctx.jsonOutput(cmd)

			if !store {
				a, err := ctx.openApp(cmd.Context(), false)
				if err != nil {
					return err
				}
				defer a.Close()
				r, err := a.svc.Score(cmd.Context(), id, sc)
				if err != nil {
					return err
				}
				return printScore(cmd, asJSON, id, r)
			}

			return ctx.runWithApp(cmd, false, func(a *app) error {
				out := a.svc.ScoreAndStore(cmd.Context(), id, sc)
				if !out.Success {
					return errors.New(out.Reason)
				}
				if asJSON {
					return writeJSON(cmd, out)
				}
				if err := printScore(cmd, false, id, out.Result); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "stored as version %d\n", out.Version)
				return nil
			})
		},
	}

	cmd.Flags().Uint64Var(&id, "id", 0, "Point to score")
	cmd.Flags().BoolVar(&store, "store", false, "Write the score back to the point")
	cmd.Flags().StringSliceVar(&terms, "terms", nil, "Topic terms for path relevance")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func printScore(cmd *cobra.Command, asJSON bool, id uint64, r confidence.Result) error {
	if asJSON {
		return writeJSON(cmd, struct {
			ID uint64 `json:"id"`
			confidence.Result
		}{id, r})
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, keyValueTable([][]string{
		{"ID", fmt.Sprint(id)},
		{"Score", ftoa(r.FinalScore, 0)},
		{"Confidence", ftoa(r.Confidence, 3)},
		{"Strategy", r.Strategy},
	}))

	weights := r.Weights.AsMap()
	factors := make([]string, 0, len(r.Breakdown))
	for k := range r.Breakdown {
		factors = append(factors, k)
	}
	sort.Strings(factors)
	rows := make([][]string, 0, len(factors))
	for _, k := range factors {
		rows = append(rows, []string{k, ftoa(weights[k], 2), ftoa(r.Breakdown[k], 2)})
	}
	if len(rows) > 0 {
		fmt.Fprintln(out, renderTable([]string{"Factor", "Weight", "Contribution"}, rows, []columnAlignment{alignLeft, alignRight, alignRight}))
	}
	return nil
}
