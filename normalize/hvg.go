package normalize

import (
	"fmt"
	"sort"

	hist2 "github.com/grd/histogram"
	"github.com/montanaflynn/stats"

	"github.com/massonix/sc-cold-shock-artifacts/expression"
)

// Defaults for highly variable gene selection.
const (
	DefaultHVGBins    = 20
	DefaultHVGTop     = 2000
	DefaultHVGMinMean = 0.1
)

// HVGResult holds the variance trend outcome. Ratio is variance over the
// expected variance of genes with a similar mean; genes that were not
// candidates keep a zero ratio.
type HVGResult struct {
	Ratio []float64
	Keep  []bool
	NKept int
}

// SelectHVG flags the topN genes whose variance most exceeds the trend for
// their expression level. Genes are binned by mean, the expected variance of
// a bin is its median variance, and genes are ranked by the ratio of the two.
func SelectHVG(st *GeneStats, nBins, topN int, minMean float64) (*HVGResult, error) {
	if nBins <= 0 {
		nBins = DefaultHVGBins
	}
	if topN <= 0 {
		topN = DefaultHVGTop
	}

	out := &HVGResult{
		Ratio: make([]float64, len(st.Mean)),
		Keep:  make([]bool, len(st.Mean)),
	}

	candidates := make([]int, 0, len(st.Mean))
	min, max := 0.0, 0.0
	for g := range st.Mean {
		if st.Mean[g] < minMean || st.Variance[g] <= 0 {
			continue
		}
		if len(candidates) == 0 || st.Mean[g] < min {
			min = st.Mean[g]
		}
		if len(candidates) == 0 || st.Mean[g] > max {
			max = st.Mean[g]
		}
		candidates = append(candidates, g)
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no genes pass the mean %.3g and positive variance requirements", minMean)
	}

	width := (max - min) / float64(nBins)
	if width == 0 {
		width = 1
	}
	hg, err := hist2.NewHistogram(hist2.Range(min, uint(nBins), width))
	if err != nil {
		return nil, err
	}

	binOf := func(mean float64) int {
		bin, err := hg.Find(mean)
		if err != nil {
			// The largest mean sits on the half-open range's top edge.
			return nBins - 1
		}
		return bin
	}

	binVars := make([][]float64, nBins)
	for _, g := range candidates {
		hg.Add(st.Mean[g])
		b := binOf(st.Mean[g])
		binVars[b] = append(binVars[b], st.Variance[g])
	}

	expected := make([]float64, nBins)
	for b := range binVars {
		if len(binVars[b]) == 0 {
			continue
		}
		if expected[b], err = stats.Median(binVars[b]); err != nil {
			return nil, err
		}
	}

	for _, g := range candidates {
		if e := expected[binOf(st.Mean[g])]; e > 0 {
			out.Ratio[g] = st.Variance[g] / e
		}
	}

	ranked := append([]int{}, candidates...)
	sort.Slice(ranked, func(i, j int) bool {
		if out.Ratio[ranked[i]] != out.Ratio[ranked[j]] {
			return out.Ratio[ranked[i]] > out.Ratio[ranked[j]]
		}
		return ranked[i] < ranked[j]
	})
	if topN > len(ranked) {
		topN = len(ranked)
	}
	for _, g := range ranked[:topN] {
		out.Keep[g] = true
	}
	out.NKept = topN

	return out, nil
}

// Annotate installs the per-gene statistics and the selection as gene
// metadata columns.
func Annotate(d *expression.Dataset, st *GeneStats, hvg *HVGResult) error {
	if err := d.GeneMeta.SetFloats(expression.ColGeneMean, st.Mean); err != nil {
		return err
	}
	if err := d.GeneMeta.SetFloats(expression.ColGeneVar, st.Variance); err != nil {
		return err
	}
	if err := d.GeneMeta.SetFloats(expression.ColGeneVarStd, hvg.Ratio); err != nil {
		return err
	}

	perGene := d.Counts.GeneNCells()
	detected := make([]float64, len(perGene))
	for g, n := range perGene {
		detected[g] = float64(n)
	}
	if err := d.GeneMeta.SetFloats(expression.ColGeneNCells, detected); err != nil {
		return err
	}

	flags := make([]string, len(hvg.Keep))
	for g, k := range hvg.Keep {
		if k {
			flags[g] = "true"
		} else {
			flags[g] = "false"
		}
	}

	return d.GeneMeta.SetStrings(expression.ColGeneHVG, flags)
}

// HVGIndices returns the gene indices flagged highly variable in the gene
// metadata, in gene order.
func HVGIndices(d *expression.Dataset) ([]int, error) {
	flags, ok := d.GeneMeta.Strings(expression.ColGeneHVG)
	if !ok {
		return nil, fmt.Errorf("gene table has no %s column; run normalization first", expression.ColGeneHVG)
	}

	out := make([]int, 0)
	for g, f := range flags {
		if f == "true" {
			out = append(out, g)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no genes are flagged highly variable")
	}

	return out, nil
}
