package expression

import (
	"fmt"
	"math"
	"strings"
)

// relabelBarcode replaces a trailing numeric library suffix with the new
// library number, the way cellranger aggr numbers merged libraries.
func relabelBarcode(bc string, library int) string {
	if i := strings.LastIndexByte(bc, '-'); i >= 0 {
		digits := bc[i+1:]
		if digits != "" && strings.Trim(digits, "0123456789") == "" {
			bc = bc[:i]
		}
	}

	return fmt.Sprintf("%s-%d", bc, library)
}

// Concat stacks datasets cell-wise into one dataset over a shared feature
// table. Barcodes get a numeric library suffix so repeated barcodes across
// libraries stay distinct. Cell metadata columns are unioned, with entries a
// dataset lacks left blank or NaN. Gene metadata comes from the first
// dataset, and embeddings or fitted models do not survive concatenation.
func Concat(datasets ...*Dataset) (*Dataset, error) {
	if len(datasets) == 0 {
		return nil, fmt.Errorf("concat: no datasets")
	}

	features := datasets[0].Features
	nGenes := datasets[0].NGenes()
	total := 0
	for i, d := range datasets {
		if d.NGenes() != nGenes {
			return nil, fmt.Errorf("concat: dataset %d has %d genes, want %d", i, d.NGenes(), nGenes)
		}
		for g, f := range d.Features {
			if f != features[g] {
				return nil, fmt.Errorf("concat: dataset %d feature %d is %s, want %s", i, g, f.ID, features[g].ID)
			}
		}
		total += d.NCells()
	}

	var cells, genes []int32
	var vals []float64
	barcodes := make([]string, 0, total)
	offset := 0
	for i, d := range datasets {
		for c := 0; c < d.NCells(); c++ {
			gs, vs := d.Counts.CellEntries(c)
			for j, g := range gs {
				cells = append(cells, int32(offset+c))
				genes = append(genes, g)
				vals = append(vals, vs[j])
			}
		}
		for _, bc := range d.Barcodes {
			barcodes = append(barcodes, relabelBarcode(bc, i+1))
		}
		offset += d.NCells()
	}

	counts, err := NewMatrixFromTriplets(total, nGenes, cells, genes, vals)
	if err != nil {
		return nil, err
	}
	out, err := NewDataset(counts, barcodes, features)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	for _, d := range datasets {
		for _, name := range d.Cells.Names() {
			if seen[name] {
				continue
			}
			seen[name] = true

			kind, _ := d.Cells.Kind(name)
			for j, other := range datasets {
				if k2, ok := other.Cells.Kind(name); ok && k2 != kind {
					return nil, fmt.Errorf("concat: column %s is %s in one dataset and %s in dataset %d", name, kind, k2, j)
				}
			}

			switch kind {
			case KindFloat:
				col := make([]float64, 0, total)
				for _, other := range datasets {
					if v, ok := other.Cells.Floats(name); ok {
						col = append(col, v...)
					} else {
						for i := 0; i < other.NCells(); i++ {
							col = append(col, math.NaN())
						}
					}
				}
				if err := out.Cells.SetFloats(name, col); err != nil {
					return nil, err
				}
			default:
				col := make([]string, 0, total)
				for _, other := range datasets {
					if v, ok := other.Cells.Strings(name); ok {
						col = append(col, v...)
					} else {
						col = append(col, make([]string, other.NCells())...)
					}
				}
				if err := out.Cells.SetStrings(name, col); err != nil {
					return nil, err
				}
			}
		}
	}

	first := datasets[0].GeneMeta
	for _, name := range first.Names() {
		if kind, _ := first.Kind(name); kind == KindFloat {
			v, _ := first.Floats(name)
			if err := out.GeneMeta.SetFloats(name, append([]float64(nil), v...)); err != nil {
				return nil, err
			}
		} else {
			v, _ := first.Strings(name)
			if err := out.GeneMeta.SetStrings(name, append([]string(nil), v...)); err != nil {
				return nil, err
			}
		}
	}

	return out, nil
}
