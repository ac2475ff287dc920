// Package expression holds the single-cell expression container that every
// analysis step reads and writes: a sparse cell-by-gene count matrix, the
// barcode and feature axes, per-cell and per-gene metadata tables, and any
// embeddings computed along the way.
package expression

import (
	"fmt"
	"sort"
)

// Matrix is a sparse count matrix indexed both by cell and by gene. QC and
// normalization walk cells; differential expression and signature scoring
// walk genes; keeping both index directions costs 2x the triplet memory and
// saves quadratic scans everywhere else.
type Matrix struct {
	nCells, nGenes int

	// by-cell index: entries for cell i live in [cellPtr[i], cellPtr[i+1]),
	// with gene indices ascending within a cell.
	cellPtr  []int
	cellGene []int32
	cellVal  []float64

	// by-gene index: entries for gene g live in [genePtr[g], genePtr[g+1]),
	// with cell indices ascending within a gene.
	genePtr  []int
	geneCell []int32
	geneVal  []float64
}

// NewMatrixFromTriplets builds a Matrix from parallel triplet slices.
// Duplicate (cell, gene) entries are summed, matching how aligners emit
// multiple chunks for one feature.
func NewMatrixFromTriplets(nCells, nGenes int, cells, genes []int32, vals []float64) (*Matrix, error) {
	if len(cells) != len(genes) || len(cells) != len(vals) {
		return nil, fmt.Errorf("triplet slices disagree in length: %d cells, %d genes, %d values", len(cells), len(genes), len(vals))
	}

	for i := range cells {
		if c := cells[i]; c < 0 || int(c) >= nCells {
			return nil, fmt.Errorf("triplet %d: cell index %d out of range [0, %d)", i, c, nCells)
		}
		if g := genes[i]; g < 0 || int(g) >= nGenes {
			return nil, fmt.Errorf("triplet %d: gene index %d out of range [0, %d)", i, g, nGenes)
		}
	}

	m := &Matrix{nCells: nCells, nGenes: nGenes}

	// First pass groups by cell in input order, second pass groups by gene
	// with cells ascending, third pass rebuilds the by-cell index with genes
	// ascending. Each pass is a stable counting sort.
	nnz := len(vals)

	tmpPtr := make([]int, nCells+1)
	for _, c := range cells {
		tmpPtr[c+1]++
	}
	for i := 0; i < nCells; i++ {
		tmpPtr[i+1] += tmpPtr[i]
	}
	tmpGene := make([]int32, nnz)
	tmpVal := make([]float64, nnz)
	fill := make([]int, nCells)
	for i := range vals {
		c := cells[i]
		at := tmpPtr[c] + fill[c]
		tmpGene[at] = genes[i]
		tmpVal[at] = vals[i]
		fill[c]++
	}

	m.genePtr = make([]int, nGenes+1)
	for _, g := range tmpGene {
		m.genePtr[g+1]++
	}
	for g := 0; g < nGenes; g++ {
		m.genePtr[g+1] += m.genePtr[g]
	}
	m.geneCell = make([]int32, nnz)
	m.geneVal = make([]float64, nnz)
	gfill := make([]int, nGenes)
	for c := 0; c < nCells; c++ {
		for k := tmpPtr[c]; k < tmpPtr[c+1]; k++ {
			g := tmpGene[k]
			at := m.genePtr[g] + gfill[g]
			m.geneCell[at] = int32(c)
			m.geneVal[at] = tmpVal[k]
			gfill[g]++
		}
	}

	m.cellPtr = make([]int, nCells+1)
	copy(m.cellPtr, tmpPtr)
	m.cellGene = make([]int32, nnz)
	m.cellVal = make([]float64, nnz)
	cfill := make([]int, nCells)
	for g := 0; g < nGenes; g++ {
		for k := m.genePtr[g]; k < m.genePtr[g+1]; k++ {
			c := m.geneCell[k]
			at := m.cellPtr[c] + cfill[c]
			m.cellGene[at] = int32(g)
			m.cellVal[at] = m.geneVal[k]
			cfill[c]++
		}
	}

	m.sumDuplicates()

	return m, nil
}

// sumDuplicates collapses repeated (cell, gene) entries in place. Both index
// directions are already sorted, so duplicates are adjacent.
func (m *Matrix) sumDuplicates() {
	dedup := func(ptr []int, idx []int32, val []float64) ([]int, []int32, []float64, bool) {
		changed := false
		outPtr := make([]int, len(ptr))
		w := 0
		for i := 0; i < len(ptr)-1; i++ {
			outPtr[i] = w
			for k := ptr[i]; k < ptr[i+1]; k++ {
				if k > ptr[i] && idx[k] == idx[w-1] {
					val[w-1] += val[k]
					changed = true
					continue
				}
				idx[w] = idx[k]
				val[w] = val[k]
				w++
			}
		}
		outPtr[len(ptr)-1] = w

		return outPtr, idx[:w], val[:w], changed
	}

	var changed bool
	m.cellPtr, m.cellGene, m.cellVal, changed = dedup(m.cellPtr, m.cellGene, m.cellVal)
	if changed {
		m.genePtr, m.geneCell, m.geneVal, _ = dedup(m.genePtr, m.geneCell, m.geneVal)
	}
}

func (m *Matrix) NCells() int { return m.nCells }
func (m *Matrix) NGenes() int { return m.nGenes }
func (m *Matrix) NNZ() int    { return len(m.cellVal) }

// CellEntries returns the gene indices and values for one cell. The returned
// slices alias internal storage and must not be modified.
func (m *Matrix) CellEntries(cell int) ([]int32, []float64) {
	lo, hi := m.cellPtr[cell], m.cellPtr[cell+1]

	return m.cellGene[lo:hi], m.cellVal[lo:hi]
}

// GeneEntries returns the cell indices and values for one gene. The returned
// slices alias internal storage and must not be modified.
func (m *Matrix) GeneEntries(gene int) ([]int32, []float64) {
	lo, hi := m.genePtr[gene], m.genePtr[gene+1]

	return m.geneCell[lo:hi], m.geneVal[lo:hi]
}

// At returns the count at (cell, gene), zero when absent.
func (m *Matrix) At(cell, gene int) float64 {
	genes, vals := m.CellEntries(cell)
	i := sort.Search(len(genes), func(i int) bool { return genes[i] >= int32(gene) })
	if i < len(genes) && genes[i] == int32(gene) {
		return vals[i]
	}

	return 0
}

// CellSums returns the total counts per cell (the library sizes).
func (m *Matrix) CellSums() []float64 {
	out := make([]float64, m.nCells)
	for c := 0; c < m.nCells; c++ {
		_, vals := m.CellEntries(c)
		for _, v := range vals {
			out[c] += v
		}
	}

	return out
}

// GeneNCells returns, per gene, the number of cells with a nonzero count.
func (m *Matrix) GeneNCells() []int {
	out := make([]int, m.nGenes)
	for g := 0; g < m.nGenes; g++ {
		out[g] = m.genePtr[g+1] - m.genePtr[g]
	}

	return out
}

// CellNGenes returns, per cell, the number of detected genes.
func (m *Matrix) CellNGenes() []int {
	out := make([]int, m.nCells)
	for c := 0; c < m.nCells; c++ {
		out[c] = m.cellPtr[c+1] - m.cellPtr[c]
	}

	return out
}

// SelectCells builds a new matrix holding only the cells where keep is true,
// in their original order.
func (m *Matrix) SelectCells(keep []bool) (*Matrix, error) {
	if len(keep) != m.nCells {
		return nil, fmt.Errorf("keep mask has %d entries for %d cells", len(keep), m.nCells)
	}

	newIdx := make([]int32, m.nCells)
	n := int32(0)
	for c, k := range keep {
		if k {
			newIdx[c] = n
			n++
		} else {
			newIdx[c] = -1
		}
	}

	cells := make([]int32, 0, m.NNZ())
	genes := make([]int32, 0, m.NNZ())
	vals := make([]float64, 0, m.NNZ())
	for c := 0; c < m.nCells; c++ {
		if newIdx[c] < 0 {
			continue
		}
		gs, vs := m.CellEntries(c)
		for i := range gs {
			cells = append(cells, newIdx[c])
			genes = append(genes, gs[i])
			vals = append(vals, vs[i])
		}
	}

	return NewMatrixFromTriplets(int(n), m.nGenes, cells, genes, vals)
}

// SelectGenes builds a new matrix holding only the genes where keep is true.
func (m *Matrix) SelectGenes(keep []bool) (*Matrix, error) {
	if len(keep) != m.nGenes {
		return nil, fmt.Errorf("keep mask has %d entries for %d genes", len(keep), m.nGenes)
	}

	newIdx := make([]int32, m.nGenes)
	n := int32(0)
	for g, k := range keep {
		if k {
			newIdx[g] = n
			n++
		} else {
			newIdx[g] = -1
		}
	}

	cells := make([]int32, 0, m.NNZ())
	genes := make([]int32, 0, m.NNZ())
	vals := make([]float64, 0, m.NNZ())
	for g := 0; g < m.nGenes; g++ {
		if newIdx[g] < 0 {
			continue
		}
		cs, vs := m.GeneEntries(g)
		for i := range cs {
			cells = append(cells, cs[i])
			genes = append(genes, newIdx[g])
			vals = append(vals, vs[i])
		}
	}

	return NewMatrixFromTriplets(m.nCells, int(n), cells, genes, vals)
}
