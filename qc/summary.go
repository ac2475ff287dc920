package qc

import (
	"fmt"

	"github.com/montanaflynn/stats"

	"github.com/massonix/sc-cold-shock-artifacts/expression"
	"github.com/massonix/sc-cold-shock-artifacts/results"
)

// Summarize aggregates metrics and verdict per sample into rows for the
// results database. The cell table must carry sample and condition columns.
func Summarize(d *expression.Dataset, m *Metrics, v *Verdict) ([]results.QCSummary, error) {
	samples, ok := d.Cells.Strings(expression.ColSample)
	if !ok {
		return nil, fmt.Errorf("cell table has no %s column", expression.ColSample)
	}
	conditions, ok := d.Cells.Strings(expression.ColCondition)
	if !ok {
		return nil, fmt.Errorf("cell table has no %s column", expression.ColCondition)
	}

	order := make([]string, 0)
	bySample := make(map[string][]int)
	for i, s := range samples {
		if _, seen := bySample[s]; !seen {
			order = append(order, s)
		}
		bySample[s] = append(bySample[s], i)
	}

	out := make([]results.QCSummary, 0, len(order))
	for _, s := range order {
		idx := bySample[s]

		counts := make([]float64, len(idx))
		genes := make([]float64, len(idx))
		mito := make([]float64, len(idx))
		row := results.QCSummary{Sample: s, Condition: conditions[idx[0]], NCells: len(idx)}
		for j, i := range idx {
			counts[j] = m.TotalCounts[i]
			genes[j] = m.NGenes[i]
			mito[j] = m.PctMito[i]
			if v.Pass[i] {
				row.NPass++
			}
			if v.Flags[i]&FlagLowCounts != 0 {
				row.NFailCounts++
			}
			if v.Flags[i]&FlagLowGenes != 0 {
				row.NFailGenes++
			}
			if v.Flags[i]&FlagHighMito != 0 {
				row.NFailMito++
			}
		}

		var err error
		if row.MedianCounts, err = stats.Median(counts); err != nil {
			return nil, fmt.Errorf("sample %s: %w", s, err)
		}
		if row.MedianGenes, err = stats.Median(genes); err != nil {
			return nil, fmt.Errorf("sample %s: %w", s, err)
		}
		if row.MedianPctMito, err = stats.Median(mito); err != nil {
			return nil, fmt.Errorf("sample %s: %w", s, err)
		}

		out = append(out, row)
	}

	return out, nil
}
