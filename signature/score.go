package signature

import (
	"fmt"
	"math/rand"
	"sort"

	hist2 "github.com/grd/histogram"
	"github.com/montanaflynn/stats"

	"github.com/massonix/sc-cold-shock-artifacts/diffexp"
	"github.com/massonix/sc-cold-shock-artifacts/expression"
	"github.com/massonix/sc-cold-shock-artifacts/normalize"
	"github.com/massonix/sc-cold-shock-artifacts/results"
	"github.com/massonix/sc-cold-shock-artifacts/study"
)

// Defaults for module scoring.
const (
	DefaultScoreBins     = 24
	DefaultScoreControls = 100
)

type ScoreOptions struct {
	Bins     int
	Controls int
	Seed     int64
}

func DefaultScoreOptions() ScoreOptions {
	return ScoreOptions{Bins: DefaultScoreBins, Controls: DefaultScoreControls, Seed: 1}
}

// Resolve maps a set's symbols onto dataset feature indices, also reporting
// the symbols the dataset lacks.
func Resolve(d *expression.Dataset, set Set) (idx []int, missing []string) {
	for _, gene := range set.Genes {
		if i, ok := d.FeatureIndexByName(gene); ok {
			idx = append(idx, i)
		} else {
			missing = append(missing, gene)
		}
	}

	return idx, missing
}

// ModuleScore scores every cell for one gene set: the mean normalized
// expression over the set's genes minus the mean over control genes drawn
// from the same expression bins. Controls are sampled per signature gene
// from genes of similar dataset-wide mean, so the score reads as enrichment
// over a matched background rather than raw expression.
func ModuleScore(d *expression.Dataset, sizeFactors []float64, set Set, opts ScoreOptions) ([]float64, error) {
	if opts.Bins <= 0 {
		opts.Bins = DefaultScoreBins
	}
	if opts.Controls <= 0 {
		opts.Controls = DefaultScoreControls
	}
	if len(sizeFactors) != d.NCells() {
		return nil, fmt.Errorf("%d size factors for %d cells", len(sizeFactors), d.NCells())
	}

	sigIdx, _ := Resolve(d, set)
	if len(sigIdx) == 0 {
		return nil, fmt.Errorf("none of the %d genes of set %q are present in the dataset", len(set.Genes), set.Name)
	}

	st, err := normalize.ComputeGeneStats(d.Counts, sizeFactors)
	if err != nil {
		return nil, err
	}

	min, max := st.Mean[0], st.Mean[0]
	for _, m := range st.Mean {
		if m < min {
			min = m
		}
		if m > max {
			max = m
		}
	}
	width := (max - min) / float64(opts.Bins)
	if width == 0 {
		width = 1
	}
	hg, err := hist2.NewHistogram(hist2.Range(min, uint(opts.Bins), width))
	if err != nil {
		return nil, err
	}
	binOf := func(mean float64) int {
		bin, err := hg.Find(mean)
		if err != nil {
			// The largest mean sits on the half-open range's top edge.
			return opts.Bins - 1
		}
		return bin
	}

	inSet := make(map[int]bool, len(sigIdx))
	for _, g := range sigIdx {
		inSet[g] = true
	}
	members := make([][]int, opts.Bins)
	var all []int
	for g := 0; g < d.NGenes(); g++ {
		if inSet[g] {
			continue
		}
		b := binOf(st.Mean[g])
		members[b] = append(members[b], g)
		all = append(all, g)
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	var ctrl []int
	ctrlSeen := make(map[int]bool)
	pick := func(g int) {
		if !ctrlSeen[g] {
			ctrlSeen[g] = true
			ctrl = append(ctrl, g)
		}
	}
	for _, g := range sigIdx {
		pool := members[binOf(st.Mean[g])]
		if len(pool) == 0 {
			// A bin holding only signature genes offers no controls.
			pool = all
		}
		if opts.Controls >= len(pool) {
			for _, c := range pool {
				pick(c)
			}
			continue
		}
		for _, j := range rng.Perm(len(pool))[:opts.Controls] {
			pick(pool[j])
		}
	}
	if len(ctrl) == 0 {
		return nil, fmt.Errorf("the dataset has no genes outside set %q to serve as controls", set.Name)
	}

	scores := make([]float64, d.NCells())
	addMean := func(idx []int, sign float64) {
		w := sign / float64(len(idx))
		for _, g := range idx {
			cells, raw := d.Counts.GeneEntries(g)
			for i := range cells {
				c := cells[i]
				scores[c] += w * normalize.Value(raw[i], sizeFactors[c])
			}
		}
	}
	addMean(sigIdx, 1)
	addMean(ctrl, -1)

	return scores, nil
}

// Summarize aggregates per-cell scores into per-sample rows, one for the
// sample as a whole under cell type "all" and one per cell type when the
// cell table carries labels. Condition labels are canonicalized so raw
// spellings like "fresh" and "8h" group correctly.
func Summarize(d *expression.Dataset, name string, scores []float64) ([]results.SignatureScore, error) {
	if len(scores) != d.NCells() {
		return nil, fmt.Errorf("%d scores for %d cells", len(scores), d.NCells())
	}

	samples, ok := d.Cells.Strings(expression.ColSample)
	if !ok {
		return nil, fmt.Errorf("cell table has no %s column", expression.ColSample)
	}
	rawConds, ok := d.Cells.Strings(expression.ColCondition)
	if !ok {
		return nil, fmt.Errorf("cell table has no %s column", expression.ColCondition)
	}
	types, hasTypes := d.Cells.Strings(expression.ColCellType)

	condOf := make(map[string]string)
	for c, sample := range samples {
		cond, err := study.ParseCondition(rawConds[c])
		if err != nil {
			return nil, fmt.Errorf("cell %d: %w", c, err)
		}
		label := cond.Label()
		if prev, seen := condOf[sample]; seen && prev != label {
			return nil, fmt.Errorf("sample %s spans conditions %s and %s", sample, prev, label)
		}
		condOf[sample] = label
	}

	type key struct{ sample, cellType string }
	groups := make(map[key][]float64)
	for c := range scores {
		groups[key{samples[c], diffexp.CellTypeAll}] = append(groups[key{samples[c], diffexp.CellTypeAll}], scores[c])
		if hasTypes {
			groups[key{samples[c], types[c]}] = append(groups[key{samples[c], types[c]}], scores[c])
		}
	}

	keys := make([]key, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].sample != keys[j].sample {
			return keys[i].sample < keys[j].sample
		}
		return keys[i].cellType < keys[j].cellType
	})

	out := make([]results.SignatureScore, 0, len(keys))
	for _, k := range keys {
		vals := groups[k]
		median, err := stats.Median(vals)
		if err != nil {
			return nil, err
		}
		sum := 0.0
		for _, v := range vals {
			sum += v
		}
		out = append(out, results.SignatureScore{
			Signature:   name,
			Sample:      k.sample,
			Condition:   condOf[k.sample],
			CellType:    k.cellType,
			NCells:      len(vals),
			MeanScore:   sum / float64(len(vals)),
			MedianScore: median,
		})
	}

	return out, nil
}
