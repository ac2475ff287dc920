package expression

import "fmt"

// Feature is one row of a 10x features.tsv: the stable identifier, the
// display symbol, and the library type.
type Feature struct {
	ID   string
	Name string
	Type string
}

// Embedding is a low-dimensional coordinate set with one row per cell.
type Embedding struct {
	Name   string
	Coords [][]float64
}

func (e *Embedding) Dim() int {
	if len(e.Coords) == 0 {
		return 0
	}

	return len(e.Coords[0])
}

// PCAModel captures a fitted principal component basis so later steps can
// project new profiles (simulated doublets, held-out cells) into the same
// space the clustering saw.
type PCAModel struct {
	// GeneIdx maps component rows back to gene indices in the matrix the
	// model was fitted on.
	GeneIdx []int
	// Mean and Scale standardize expression before projection.
	Mean  []float64
	Scale []float64
	// Components holds one column per PC, one row per entry of GeneIdx.
	Components [][]float64
	// VarianceExplained is the fraction of total variance per PC.
	VarianceExplained []float64
}

func (p *PCAModel) NPCs() int {
	if len(p.Components) == 0 {
		return 0
	}

	return len(p.Components[0])
}

// Dataset bundles everything one analysis step hands to the next.
type Dataset struct {
	Counts   *Matrix
	Barcodes []string
	Features []Feature

	// Cells has one row per barcode, GeneMeta one row per feature.
	Cells    *MetaTable
	GeneMeta *MetaTable

	Embeddings map[string]*Embedding
	PCA        *PCAModel
}

func NewDataset(counts *Matrix, barcodes []string, features []Feature) (*Dataset, error) {
	d := &Dataset{
		Counts:     counts,
		Barcodes:   barcodes,
		Features:   features,
		Cells:      NewMetaTable(counts.NCells()),
		GeneMeta:   NewMetaTable(counts.NGenes()),
		Embeddings: make(map[string]*Embedding),
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}

	return d, nil
}

func (d *Dataset) NCells() int { return d.Counts.NCells() }
func (d *Dataset) NGenes() int { return d.Counts.NGenes() }

// Validate checks that all axes agree on their lengths.
func (d *Dataset) Validate() error {
	if len(d.Barcodes) != d.Counts.NCells() {
		return fmt.Errorf("%d barcodes for %d matrix cells", len(d.Barcodes), d.Counts.NCells())
	}
	if len(d.Features) != d.Counts.NGenes() {
		return fmt.Errorf("%d features for %d matrix genes", len(d.Features), d.Counts.NGenes())
	}
	if d.Cells != nil && d.Cells.Len() != d.Counts.NCells() {
		return fmt.Errorf("cell table has %d rows for %d cells", d.Cells.Len(), d.Counts.NCells())
	}
	if d.GeneMeta != nil && d.GeneMeta.Len() != d.Counts.NGenes() {
		return fmt.Errorf("gene table has %d rows for %d genes", d.GeneMeta.Len(), d.Counts.NGenes())
	}
	for name, emb := range d.Embeddings {
		if len(emb.Coords) != d.Counts.NCells() {
			return fmt.Errorf("embedding %s has %d rows for %d cells", name, len(emb.Coords), d.Counts.NCells())
		}
	}

	return nil
}

// FeatureIndexByName returns the index of the first feature whose symbol
// matches name. Symbols are not unique in 10x references, so callers that
// care about duplicates should scan Features themselves.
func (d *Dataset) FeatureIndexByName(name string) (int, bool) {
	for i, f := range d.Features {
		if f.Name == name {
			return i, true
		}
	}

	return 0, false
}

// SelectCells returns a dataset restricted to the cells where keep is true.
// Embeddings are subset alongside; the PCA model transfers unchanged because
// the gene axis is untouched.
func (d *Dataset) SelectCells(keep []bool) (*Dataset, error) {
	counts, err := d.Counts.SelectCells(keep)
	if err != nil {
		return nil, err
	}

	out := &Dataset{
		Counts:     counts,
		Barcodes:   make([]string, 0, counts.NCells()),
		Features:   d.Features,
		GeneMeta:   d.GeneMeta,
		Embeddings: make(map[string]*Embedding),
		PCA:        d.PCA,
	}
	for i, k := range keep {
		if k {
			out.Barcodes = append(out.Barcodes, d.Barcodes[i])
		}
	}
	if d.Cells != nil {
		if out.Cells, err = d.Cells.Subset(keep); err != nil {
			return nil, err
		}
	}
	for name, emb := range d.Embeddings {
		sub := &Embedding{Name: emb.Name, Coords: make([][]float64, 0, counts.NCells())}
		for i, k := range keep {
			if k {
				sub.Coords = append(sub.Coords, emb.Coords[i])
			}
		}
		out.Embeddings[name] = sub
	}

	return out, out.Validate()
}

// SelectGenes returns a dataset restricted to the genes where keep is true.
// Any fitted PCA model is dropped because its gene indices no longer apply.
func (d *Dataset) SelectGenes(keep []bool) (*Dataset, error) {
	counts, err := d.Counts.SelectGenes(keep)
	if err != nil {
		return nil, err
	}

	out := &Dataset{
		Counts:     counts,
		Barcodes:   d.Barcodes,
		Features:   make([]Feature, 0, counts.NGenes()),
		Cells:      d.Cells,
		Embeddings: d.Embeddings,
	}
	for i, k := range keep {
		if k {
			out.Features = append(out.Features, d.Features[i])
		}
	}
	if d.GeneMeta != nil {
		if out.GeneMeta, err = d.GeneMeta.Subset(keep); err != nil {
			return nil, err
		}
	}

	return out, out.Validate()
}
