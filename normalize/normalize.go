// Package normalize turns raw counts into comparable expression values:
// library size factors, log transformation, and the mean-variance machinery
// that picks highly variable genes.
package normalize

import (
	"fmt"
	"math"

	"github.com/montanaflynn/stats"

	"github.com/massonix/sc-cold-shock-artifacts/expression"
)

// SizeFactors returns per-cell scaling factors: library size over the median
// library size, so the typical cell keeps its counts unchanged. Cells with
// no counts cannot be normalized and are an error; they should have been
// removed by quality control.
func SizeFactors(m *expression.Matrix) ([]float64, error) {
	sums := m.CellSums()
	for c, s := range sums {
		if s <= 0 {
			return nil, fmt.Errorf("cell %d has no counts", c)
		}
	}

	median, err := stats.Median(sums)
	if err != nil {
		return nil, err
	}

	out := make([]float64, len(sums))
	for c, s := range sums {
		out[c] = s / median
	}

	return out, nil
}

// Value is the normalized expression of one raw count under a size factor.
func Value(count, sizeFactor float64) float64 {
	return math.Log1p(count / sizeFactor)
}

// CellValues returns one cell's nonzero normalized values alongside their
// gene indices. The gene index slice aliases matrix storage.
func CellValues(m *expression.Matrix, cell int, sizeFactor float64) ([]int32, []float64) {
	genes, raw := m.CellEntries(cell)
	vals := make([]float64, len(raw))
	for i, v := range raw {
		vals[i] = Value(v, sizeFactor)
	}

	return genes, vals
}

// GeneVector returns one gene's normalized expression across every cell,
// zeros included.
func GeneVector(m *expression.Matrix, gene int, sizeFactors []float64) []float64 {
	out := make([]float64, m.NCells())
	cells, raw := m.GeneEntries(gene)
	for i, c := range cells {
		out[c] = Value(raw[i], sizeFactors[c])
	}

	return out
}

// Dense materializes the normalized values of the selected genes as one row
// per cell, in the order of geneIdx.
func Dense(m *expression.Matrix, sizeFactors []float64, geneIdx []int) [][]float64 {
	col := make(map[int32]int, len(geneIdx))
	for j, g := range geneIdx {
		col[int32(g)] = j
	}

	out := make([][]float64, m.NCells())
	for c := range out {
		out[c] = make([]float64, len(geneIdx))
		genes, raw := m.CellEntries(c)
		for i, g := range genes {
			if j, ok := col[g]; ok {
				out[c][j] = Value(raw[i], sizeFactors[c])
			}
		}
	}

	return out
}

// GeneStats holds the per-gene moments of normalized expression.
type GeneStats struct {
	Mean     []float64
	Variance []float64
}

// ComputeGeneStats computes mean and sample variance of normalized
// expression per gene without materializing the dense matrix. Zero counts
// normalize to zero, so only the nonzero entries are walked.
func ComputeGeneStats(m *expression.Matrix, sizeFactors []float64) (*GeneStats, error) {
	n := float64(m.NCells())
	if n < 2 {
		return nil, fmt.Errorf("%d cells are too few for variance estimates", m.NCells())
	}

	st := &GeneStats{
		Mean:     make([]float64, m.NGenes()),
		Variance: make([]float64, m.NGenes()),
	}
	for g := 0; g < m.NGenes(); g++ {
		cells, raw := m.GeneEntries(g)
		var s1, s2 float64
		for i := range cells {
			v := Value(raw[i], sizeFactors[cells[i]])
			s1 += v
			s2 += v * v
		}
		mean := s1 / n
		st.Mean[g] = mean
		st.Variance[g] = (s2 - n*mean*mean) / (n - 1)
		if st.Variance[g] < 0 {
			st.Variance[g] = 0
		}
	}

	return st, nil
}
