package signature

import (
	"fmt"
	"math"
	"sort"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat"

	"github.com/massonix/sc-cold-shock-artifacts/diffexp"
	"github.com/massonix/sc-cold-shock-artifacts/expression"
	"github.com/massonix/sc-cold-shock-artifacts/results"
	"github.com/massonix/sc-cold-shock-artifacts/study"
)

// Spearman returns the rank correlation of paired observations, averaging
// ranks over ties.
func Spearman(x, y []float64) (float64, error) {
	if len(x) != len(y) {
		return 0, fmt.Errorf("spearman: %d and %d observations", len(x), len(y))
	}
	if len(x) < 3 {
		return 0, fmt.Errorf("spearman: %d pairs are too few", len(x))
	}

	rx, _ := diffexp.AverageRanks(x)
	ry, _ := diffexp.AverageRanks(y)

	return stat.Correlation(rx, ry, nil), nil
}

// TrendPoint is one sample's median signature score placed on the storage
// time axis.
type TrendPoint struct {
	Sample    string
	Condition string
	Hours     float64
	Median    float64
	NCells    int
}

// TimeTrend computes per-sample median scores and their Spearman correlation
// with hours of storage. Fewer than three samples yield the points with a
// NaN correlation, since a rank correlation over two samples says nothing.
func TimeTrend(d *expression.Dataset, scores []float64) ([]TrendPoint, float64, error) {
	if len(scores) != d.NCells() {
		return nil, 0, fmt.Errorf("%d scores for %d cells", len(scores), d.NCells())
	}

	samples, ok := d.Cells.Strings(expression.ColSample)
	if !ok {
		return nil, 0, fmt.Errorf("cell table has no %s column", expression.ColSample)
	}
	rawConds, ok := d.Cells.Strings(expression.ColCondition)
	if !ok {
		return nil, 0, fmt.Errorf("cell table has no %s column", expression.ColCondition)
	}

	bySample := make(map[string][]float64)
	conds := make(map[string]study.Condition)
	for c, sample := range samples {
		cond, err := study.ParseCondition(rawConds[c])
		if err != nil {
			return nil, 0, fmt.Errorf("cell %d: %w", c, err)
		}
		conds[sample] = cond
		bySample[sample] = append(bySample[sample], scores[c])
	}

	names := make([]string, 0, len(bySample))
	for sample := range bySample {
		names = append(names, sample)
	}
	sort.Strings(names)

	points := make([]TrendPoint, 0, len(names))
	for _, sample := range names {
		median, err := stats.Median(bySample[sample])
		if err != nil {
			return nil, 0, err
		}
		points = append(points, TrendPoint{
			Sample:    sample,
			Condition: conds[sample].Label(),
			Hours:     float64(conds[sample].Hours),
			Median:    median,
			NCells:    len(bySample[sample]),
		})
	}
	sort.Slice(points, func(i, j int) bool {
		if points[i].Hours != points[j].Hours {
			return points[i].Hours < points[j].Hours
		}
		return points[i].Sample < points[j].Sample
	})

	if len(points) < 3 {
		return points, math.NaN(), nil
	}

	hours := make([]float64, len(points))
	medians := make([]float64, len(points))
	for i, p := range points {
		hours[i] = p.Hours
		medians[i] = p.Median
	}
	rho, err := Spearman(hours, medians)
	if err != nil {
		return nil, 0, err
	}

	return points, rho, nil
}

// DEGOverlap asks whether the genes a contrast calls significant are
// enriched for the set, against the contrast's tested genes as background.
func DEGOverlap(degs []results.DEG, set Set, padjCutoff, lfcCutoff float64) (diffexp.Enrichment, error) {
	var universe, hits []string
	seen := make(map[string]struct{}, len(degs))
	for _, row := range degs {
		if _, dup := seen[row.Gene]; dup {
			continue
		}
		seen[row.Gene] = struct{}{}
		universe = append(universe, row.Gene)
		if row.PAdjusted.Valid && row.PAdjusted.Float64 < padjCutoff && math.Abs(row.Log2FC) >= lfcCutoff {
			hits = append(hits, row.Gene)
		}
	}

	if len(hits) == 0 {
		return diffexp.Enrichment{}, fmt.Errorf("no genes pass padj < %g and |log2FC| >= %g", padjCutoff, lfcCutoff)
	}

	return diffexp.EnrichmentTest(hits, set.Genes, universe)
}
