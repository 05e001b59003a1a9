package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/chakssp/vcia-dhl-sub005/engine/analysis"
)

func newAnalyzeCommand(ctx *commandContext) *cobra.Command {
	var top int

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Report on the points in the collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.openApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.Close()
			rep, err := a.svc.Analyze(cmd.Context())
			if err != nil {
				return err
			}
			res := analyzeResult{Report: rep}
			if a.graph != nil {
				files, chunks, err := a.graph.Counts(cmd.Context())
				if err != nil {
					a.log.Warn("graph counts unavailable", "error", err)
				} else {
					res.Graph = &graphCounts{Files: files, Chunks: chunks}
				}
			}
			if ctx.jsonOutput(cmd) {
				return writeJSON(cmd, res)
			}
			printReport(cmd, res, top)
			return nil
		},
	}

	cmd.Flags().IntVar(&top, "top", 10, "Rows shown per distribution (0 for all)")
	return cmd
}

// analyzeResult is the collection report plus the chunk graph size when a
// graph is configured.
type analyzeResult struct {
	analysis.Report
	Graph *graphCounts `json:"graph,omitempty"`
}

type graphCounts struct {
	Files  int64 `json:"files"`
	Chunks int64 `json:"chunks"`
}

func printReport(cmd *cobra.Command, res analyzeResult, top int) {
	out := cmd.OutOrStdout()
	rep := res.Report
	rows := [][]string{
		{"Collection", rep.Collection.Name},
		{"Points", itoa(rep.TotalPoints)},
		{"Unique files", itoa(rep.UniqueFiles)},
		{"Average enrichment", ftoa(rep.AverageEnrichment, 1)},
		{"With file info", pct(rep.Ratio(rep.Quality.WithFile))},
		{"With categories", pct(rep.Ratio(rep.Quality.WithCategories))},
		{"With analysis type", pct(rep.Ratio(rep.Quality.WithAnalysisType))},
		{"Fully enriched", pct(rep.Ratio(rep.Quality.FullyEnriched))},
	}
	if res.Graph != nil {
		rows = append(rows,
			[]string{"Graph files", strconv.FormatInt(res.Graph.Files, 10)},
			[]string{"Graph chunks", strconv.FormatInt(res.Graph.Chunks, 10)},
		)
	}
	fmt.Fprintln(out, keyValueTable(rows))

	for _, d := range []struct {
		title  string
		counts []analysis.Count
	}{
		{"Category", rep.Categories},
		{"Analysis type", rep.AnalysisTypes},
		{"Enrichment level", rep.EnrichmentLevels},
	} {
		if len(d.counts) == 0 {
			continue
		}
		counts := d.counts
		if top > 0 && len(counts) > top {
			counts = counts[:top]
		}
		rows := make([][]string, 0, len(counts))
		for _, c := range counts {
			rows = append(rows, []string{c.Name, itoa(c.Count), pct(c.Percent)})
		}
		fmt.Fprintln(out, renderTable([]string{d.title, "Points", "Share"}, rows, []columnAlignment{alignLeft, alignRight, alignRight}))
	}
}

func pct(v float64) string {
	return ftoa(v, 1) + "%"
}
