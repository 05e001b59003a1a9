// Package analysis reports on the contents of a collection: which files it
// holds, how points are categorised and how complete their enrichment is.
package analysis

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"strconv"

	"github.com/chakssp/vcia-dhl-sub005/engine/domain"
)

// Count is one bucket of a distribution. Percent is relative to all points.
type Count struct {
	Name    string  `json:"name"`
	Count   int     `json:"count"`
	Percent float64 `json:"percent"`
}

// Quality holds data-completeness counts.
type Quality struct {
	WithFile         int `json:"withFile"`
	WithCategories   int `json:"withCategories"`
	WithAnalysisType int `json:"withAnalysisType"`
	FullyEnriched    int `json:"fullyEnriched"`
}

// Report summarises a collection.
type Report struct {
	Collection        domain.CollectionInfo `json:"collection"`
	TotalPoints       int                   `json:"totalPoints"`
	UniqueFiles       int                   `json:"uniqueFiles"`
	Files             []string              `json:"files"`
	Fields            []string              `json:"fields"`
	Categories        []Count               `json:"categories"`
	AnalysisTypes     []Count               `json:"analysisTypes"`
	EnrichmentLevels  []Count               `json:"enrichmentLevels"`
	AverageEnrichment float64               `json:"averageEnrichment"`
	Quality           Quality               `json:"quality"`
}

// Ratio returns n as a percentage of the report's points, one decimal.
func (r Report) Ratio(n int) float64 {
	return percent(n, r.TotalPoints)
}

// Analyze scrolls every point in store and builds a Report.
func Analyze(ctx context.Context, store domain.Store) (Report, error) {
	var r Report
	info, err := store.CollectionInfo(ctx)
	if err != nil {
		return r, fmt.Errorf("analysis: collection info: %w", err)
	}
	r.Collection = info

	files := map[string]struct{}{}
	fields := map[string]struct{}{}
	cats := map[string]int{}
	types := map[string]int{}
	levels := map[string]int{}
	levelSum := 0

	err = domain.ScrollAll(ctx, store, domain.ScrollRequest{WithPayload: true}, func(sp domain.StoredPoint) bool {
		p := sp.Payload
		r.TotalPoints++
		for k := range p.ToMap() {
			fields[k] = struct{}{}
		}

		file := p.FilePath
		if file == "" {
			file = p.FileName
		}
		if file != "" {
			files[file] = struct{}{}
			r.Quality.WithFile++
		}
		if len(p.Categories) > 0 {
			r.Quality.WithCategories++
			for _, c := range p.Categories {
				cats[c]++
			}
		}
		if p.AnalysisType != "" {
			r.Quality.WithAnalysisType++
			types[p.AnalysisType]++
		}
		levels[strconv.Itoa(p.EnrichmentLevel)]++
		levelSum += p.EnrichmentLevel
		if p.EnrichmentLevel >= 100 {
			r.Quality.FullyEnriched++
		}
		return true
	})
	if err != nil {
		return r, fmt.Errorf("analysis: scroll: %w", err)
	}

	r.UniqueFiles = len(files)
	r.Files = sortedKeys(files)
	r.Fields = sortedKeys(fields)
	r.Categories = distribution(cats, r.TotalPoints)
	r.AnalysisTypes = distribution(types, r.TotalPoints)
	r.EnrichmentLevels = distribution(levels, r.TotalPoints)
	if r.TotalPoints > 0 {
		r.AverageEnrichment = math.Round(float64(levelSum)/float64(r.TotalPoints)*10) / 10
	}
	return r, nil
}

// distribution sorts buckets by count descending, then name.
func distribution(m map[string]int, total int) []Count {
	out := make([]Count, 0, len(m))
	for k, v := range m {
		out = append(out, Count{Name: k, Count: v, Percent: percent(v, total)})
	}
	slices.SortFunc(out, func(a, b Count) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return out
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*1000) / 10
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
