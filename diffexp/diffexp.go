// Package diffexp tests genes for expression differences between sample
// storage conditions with a Wilcoxon rank-sum test, the same comparison the
// published notebooks ran per cell type and time point.
package diffexp

import (
	"fmt"
	"math"
	"sort"

	"github.com/massonix/sc-cold-shock-artifacts/expression"
	"github.com/massonix/sc-cold-shock-artifacts/normalize"
	"github.com/massonix/sc-cold-shock-artifacts/results"
	"github.com/massonix/sc-cold-shock-artifacts/study"

	"github.com/carbocation/pfx"
	"gopkg.in/guregu/null.v3"
)

// CellTypeAll marks contrast rows computed over every cell regardless of
// annotation.
const CellTypeAll = "all"

// Options bound which genes are tested and which count as differential.
type Options struct {
	// MinFraction skips genes detected in fewer cells than this share of
	// both groups.
	MinFraction float64

	// Pseudocount is added to the de-logged group means before the fold
	// change ratio.
	Pseudocount float64

	// MinCells is the smallest group worth testing.
	MinCells int

	PadjCutoff float64
	LFCCutoff  float64
}

func DefaultOptions() Options {
	return Options{
		MinFraction: 0.10,
		Pseudocount: 1,
		MinCells:    3,
		PadjCutoff:  0.05,
		LFCCutoff:   0.25,
	}
}

// CompareGroups tests every sufficiently detected gene between two disjoint
// groups of cells. Group means and fold changes are on the de-logged
// normalized scale, Seurat style. Rows come back ordered by P value and
// carry Benjamini-Hochberg adjusted values; Contrast and CellType are left
// for the caller.
func CompareGroups(d *expression.Dataset, sizeFactors []float64, caseIdx, refIdx []int, opts Options) ([]results.DEG, error) {
	nCells := d.Counts.NCells()
	if len(sizeFactors) != nCells {
		return nil, fmt.Errorf("got %d size factors for %d cells", len(sizeFactors), nCells)
	}
	if len(caseIdx) == 0 || len(refIdx) == 0 {
		return nil, fmt.Errorf("both groups need cells, got %d and %d", len(caseIdx), len(refIdx))
	}
	if len(caseIdx) < opts.MinCells || len(refIdx) < opts.MinCells {
		return nil, fmt.Errorf("need at least %d cells per group, got %d and %d", opts.MinCells, len(caseIdx), len(refIdx))
	}

	const (
		inNeither = iota
		inCase
		inRef
	)
	group := make([]int8, nCells)
	pos := make([]int, nCells)
	for i, c := range caseIdx {
		if c < 0 || c >= nCells {
			return nil, fmt.Errorf("case cell %d out of range", c)
		}
		group[c] = inCase
		pos[c] = i
	}
	for i, c := range refIdx {
		if c < 0 || c >= nCells {
			return nil, fmt.Errorf("reference cell %d out of range", c)
		}
		if group[c] == inCase {
			return nil, fmt.Errorf("cell %d is in both groups", c)
		}
		group[c] = inRef
		pos[c] = i
	}

	caseVals := make([]float64, len(caseIdx))
	refVals := make([]float64, len(refIdx))

	out := make([]results.DEG, 0)
	for g := 0; g < d.Counts.NGenes(); g++ {
		for i := range caseVals {
			caseVals[i] = 0
		}
		for i := range refVals {
			refVals[i] = 0
		}

		var nExprCase, nExprRef int
		var sumCase, sumRef float64
		cells, raw := d.Counts.GeneEntries(g)
		for i, cell := range cells {
			if raw[i] == 0 {
				continue
			}
			switch group[cell] {
			case inCase:
				caseVals[pos[cell]] = normalize.Value(raw[i], sizeFactors[cell])
				sumCase += raw[i] / sizeFactors[cell]
				nExprCase++
			case inRef:
				refVals[pos[cell]] = normalize.Value(raw[i], sizeFactors[cell])
				sumRef += raw[i] / sizeFactors[cell]
				nExprRef++
			}
		}

		pctCase := float64(nExprCase) / float64(len(caseIdx))
		pctRef := float64(nExprRef) / float64(len(refIdx))
		if pctCase < opts.MinFraction && pctRef < opts.MinFraction {
			continue
		}

		meanCase := sumCase / float64(len(caseIdx))
		meanRef := sumRef / float64(len(refIdx))

		_, p, err := Wilcoxon(caseVals, refVals)
		if err != nil {
			return nil, pfx.Err(err)
		}

		out = append(out, results.DEG{
			Gene:     d.Features[g].Name,
			Log2FC:   math.Log2((meanCase + opts.Pseudocount) / (meanRef + opts.Pseudocount)),
			PValue:   p,
			MeanCase: meanCase,
			MeanRef:  meanRef,
			PctCase:  pctCase,
			PctRef:   pctRef,
		})
	}

	ps := make([]float64, len(out))
	for i := range out {
		ps[i] = out[i].PValue
	}
	for i, adj := range BenjaminiHochberg(ps) {
		out[i].PAdjusted = null.FloatFrom(adj)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].PValue != out[j].PValue {
			return out[i].PValue < out[j].PValue
		}
		return out[i].Gene < out[j].Gene
	})

	return out, nil
}

// ContrastName labels a condition-vs-reference comparison.
func ContrastName(condition, reference string) string {
	return condition + "_vs_" + reference
}

// ConditionContrasts tests every stored condition against the fresh 0h
// baseline, across all cells and once more per annotated cell type, and
// tallies the significant genes of each contrast. Condition labels are
// canonicalized first so 8h and 8h_RT cells land in the same group.
// Contrasts with fewer than MinCells cells on either side are skipped.
func ConditionContrasts(d *expression.Dataset, sizeFactors []float64, opts Options) ([]results.DEG, []results.DEGCount, error) {
	condRaw, ok := d.Cells.Strings(expression.ColCondition)
	if !ok {
		return nil, nil, fmt.Errorf("cell table has no %s column", expression.ColCondition)
	}

	labels := make([]string, len(condRaw))
	parsed := make(map[string]study.Condition)
	for i, raw := range condRaw {
		cond, err := study.ParseCondition(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("cell %d: %v", i, err)
		}
		labels[i] = cond.Label()
		parsed[cond.Label()] = cond
	}
	if _, ok := parsed["0h"]; !ok {
		return nil, nil, fmt.Errorf("no fresh 0h cells to compare against")
	}

	order := make([]string, 0, len(parsed))
	for l := range parsed {
		order = append(order, l)
	}
	sort.Slice(order, func(i, j int) bool { return parsed[order[i]].Order() < parsed[order[j]].Order() })

	types := []string{CellTypeAll}
	byType, hasTypes := d.Cells.Strings(expression.ColCellType)
	if hasTypes {
		distinct := make(map[string]struct{})
		for _, t := range byType {
			distinct[t] = struct{}{}
		}
		for t := range distinct {
			types = append(types, t)
		}
		sort.Strings(types[1:])
	}

	var degs []results.DEG
	var counts []results.DEGCount
	for _, cond := range order {
		if cond == "0h" {
			continue
		}
		name := ContrastName(cond, "0h")

		for _, ct := range types {
			caseIdx := cellsWhere(labels, byType, cond, ct)
			refIdx := cellsWhere(labels, byType, "0h", ct)
			if len(caseIdx) < opts.MinCells || len(refIdx) < opts.MinCells {
				continue
			}

			rows, err := CompareGroups(d, sizeFactors, caseIdx, refIdx, opts)
			if err != nil {
				return nil, nil, pfx.Err(err)
			}

			count := results.DEGCount{Contrast: name, CellType: ct, NTested: len(rows)}
			for i := range rows {
				rows[i].Contrast = name
				rows[i].CellType = ct
				if !rows[i].PAdjusted.Valid || rows[i].PAdjusted.Float64 >= opts.PadjCutoff {
					continue
				}
				switch {
				case rows[i].Log2FC >= opts.LFCCutoff:
					count.NUp++
				case rows[i].Log2FC <= -opts.LFCCutoff:
					count.NDown++
				}
			}

			degs = append(degs, rows...)
			counts = append(counts, count)
		}
	}

	if len(counts) == 0 {
		return nil, nil, fmt.Errorf("no contrast had at least %d cells per group", opts.MinCells)
	}

	return degs, counts, nil
}

// cellsWhere selects cells by canonical condition label, and by cell type
// unless the type is CellTypeAll.
func cellsWhere(labels, types []string, cond, cellType string) []int {
	out := make([]int, 0)
	for i := range labels {
		if labels[i] != cond {
			continue
		}
		if cellType != CellTypeAll && types[i] != cellType {
			continue
		}
		out = append(out, i)
	}

	return out
}
