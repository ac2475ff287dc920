// Package reduce computes the low-dimensional views downstream steps work
// in: principal components over the variable genes, nearest neighbor and
// shared nearest neighbor graphs, and a t-SNE for figures.
package reduce

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/massonix/sc-cold-shock-artifacts/expression"
)

// DefaultComponents is how many principal components the analyses keep.
const DefaultComponents = 30

// PCAOptions tunes the decomposition.
type PCAOptions struct {
	NComponents int
	// Scale divides each gene by its standard deviation after centering, so
	// highly expressed genes cannot dominate the rotation.
	Scale bool
}

func DefaultPCAOptions() PCAOptions {
	return PCAOptions{NComponents: DefaultComponents, Scale: true}
}

// PCA decomposes the cells-by-genes slice of normalized expression. geneIdx
// names the gene behind each column so the fitted model can be applied to
// other profiles later. Returns the model and the per-cell scores.
func PCA(dense [][]float64, geneIdx []int, opts PCAOptions) (*expression.PCAModel, *expression.Embedding, error) {
	nCells := len(dense)
	if nCells < 2 {
		return nil, nil, fmt.Errorf("%d cells are too few to decompose", nCells)
	}
	nGenes := len(dense[0])
	if nGenes == 0 {
		return nil, nil, fmt.Errorf("no genes selected")
	}
	if len(geneIdx) != nGenes {
		return nil, nil, fmt.Errorf("%d gene indices for %d columns", len(geneIdx), nGenes)
	}

	nPCs := opts.NComponents
	if nPCs <= 0 {
		nPCs = DefaultComponents
	}
	if limit := nCells - 1; nPCs > limit {
		nPCs = limit
	}
	if nPCs > nGenes {
		nPCs = nGenes
	}

	model := &expression.PCAModel{
		GeneIdx: append([]int{}, geneIdx...),
		Mean:    make([]float64, nGenes),
		Scale:   make([]float64, nGenes),
	}

	for j := 0; j < nGenes; j++ {
		var sum float64
		for i := 0; i < nCells; i++ {
			sum += dense[i][j]
		}
		model.Mean[j] = sum / float64(nCells)

		model.Scale[j] = 1
		if opts.Scale {
			var ss float64
			for i := 0; i < nCells; i++ {
				dev := dense[i][j] - model.Mean[j]
				ss += dev * dev
			}
			if sd := math.Sqrt(ss / float64(nCells-1)); sd > 0 {
				model.Scale[j] = sd
			}
		}
	}

	data := make([]float64, nCells*nGenes)
	for i := 0; i < nCells; i++ {
		for j := 0; j < nGenes; j++ {
			data[i*nGenes+j] = (dense[i][j] - model.Mean[j]) / model.Scale[j]
		}
	}
	x := mat.NewDense(nCells, nGenes, data)

	var svd mat.SVD
	if ok := svd.Factorize(x, mat.SVDThin); !ok {
		return nil, nil, fmt.Errorf("singular value decomposition failed to converge")
	}

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	sigma := svd.Values(nil)

	var totalVar float64
	for _, s := range sigma {
		totalVar += s * s
	}

	model.Components = make([][]float64, nGenes)
	for j := 0; j < nGenes; j++ {
		model.Components[j] = make([]float64, nPCs)
		for p := 0; p < nPCs; p++ {
			model.Components[j][p] = v.At(j, p)
		}
	}

	model.VarianceExplained = make([]float64, nPCs)
	for p := 0; p < nPCs; p++ {
		if totalVar > 0 {
			model.VarianceExplained[p] = sigma[p] * sigma[p] / totalVar
		}
	}

	emb := &expression.Embedding{Name: "pca", Coords: make([][]float64, nCells)}
	for i := 0; i < nCells; i++ {
		emb.Coords[i] = make([]float64, nPCs)
		for p := 0; p < nPCs; p++ {
			emb.Coords[i][p] = u.At(i, p) * sigma[p]
		}
	}

	return model, emb, nil
}

// Project places one expression profile, given as normalized values over the
// model's genes in model order, into the fitted component space.
func Project(model *expression.PCAModel, profile []float64) ([]float64, error) {
	if len(profile) != len(model.GeneIdx) {
		return nil, fmt.Errorf("profile has %d values for a model over %d genes", len(profile), len(model.GeneIdx))
	}

	out := make([]float64, model.NPCs())
	for j := range profile {
		std := (profile[j] - model.Mean[j]) / model.Scale[j]
		for p := range out {
			out[p] += std * model.Components[j][p]
		}
	}

	return out, nil
}
