package expression

import (
	"math"
	"testing"
)

func concatInput(t *testing.T, barcodes []string, counts [][]float64) *Dataset {
	t.Helper()

	var cells, genes []int32
	var vals []float64
	for c := range counts {
		for g, v := range counts[c] {
			if v == 0 {
				continue
			}
			cells = append(cells, int32(c))
			genes = append(genes, int32(g))
			vals = append(vals, v)
		}
	}

	m, err := NewMatrixFromTriplets(len(counts), 2, cells, genes, vals)
	if err != nil {
		t.Fatalf("NewMatrixFromTriplets: %v", err)
	}
	features := []Feature{
		{ID: "ENSG1", Name: "RBM3", Type: FeatureTypeGene},
		{ID: "ENSG2", Name: "CIRBP", Type: FeatureTypeGene},
	}
	d, err := NewDataset(m, barcodes, features)
	if err != nil {
		t.Fatalf("NewDataset: %v", err)
	}

	return d
}

func TestConcat(t *testing.T) {
	a := concatInput(t, []string{"AAAC-1", "TTTG-1"}, [][]float64{{5, 0}, {0, 3}})
	b := concatInput(t, []string{"AAAC-1", "GGGA-1"}, [][]float64{{1, 2}, {4, 0}})

	if err := a.Cells.SetStrings(ColSample, []string{"s1", "s1"}); err != nil {
		t.Fatal(err)
	}
	if err := a.Cells.SetFloats("score", []float64{0.5, 0.7}); err != nil {
		t.Fatal(err)
	}
	if err := b.Cells.SetStrings(ColSample, []string{"s2", "s2"}); err != nil {
		t.Fatal(err)
	}
	if err := a.GeneMeta.SetFloats(ColGeneMean, []float64{2.5, 1.5}); err != nil {
		t.Fatal(err)
	}

	merged, err := Concat(a, b)
	if err != nil {
		t.Fatalf("Concat: %v", err)
	}

	if merged.NCells() != 4 || merged.NGenes() != 2 {
		t.Fatalf("got %d cells x %d genes, want 4 x 2", merged.NCells(), merged.NGenes())
	}

	// The shared AAAC barcode stays distinct through library suffixes.
	wantBarcodes := []string{"AAAC-1", "TTTG-1", "AAAC-2", "GGGA-2"}
	for i, want := range wantBarcodes {
		if merged.Barcodes[i] != want {
			t.Errorf("barcode %d: got %s, want %s", i, merged.Barcodes[i], want)
		}
	}

	wantCounts := [][]float64{{5, 0}, {0, 3}, {1, 2}, {4, 0}}
	for c := range wantCounts {
		for g := range wantCounts[c] {
			if got := merged.Counts.At(c, g); got != wantCounts[c][g] {
				t.Errorf("At(%d, %d): got %v, want %v", c, g, got, wantCounts[c][g])
			}
		}
	}

	samples, ok := merged.Cells.Strings(ColSample)
	if !ok {
		t.Fatal("merged dataset lost the sample column")
	}
	wantSamples := []string{"s1", "s1", "s2", "s2"}
	for i, want := range wantSamples {
		if samples[i] != want {
			t.Errorf("sample %d: got %s, want %s", i, samples[i], want)
		}
	}

	scores, ok := merged.Cells.Floats("score")
	if !ok {
		t.Fatal("merged dataset lost the score column")
	}
	if scores[0] != 0.5 || scores[1] != 0.7 {
		t.Errorf("got scores %v, want 0.5 and 0.7 first", scores[:2])
	}
	if !math.IsNaN(scores[2]) || !math.IsNaN(scores[3]) {
		t.Errorf("cells without the column should score NaN, got %v", scores[2:])
	}

	means, ok := merged.GeneMeta.Floats(ColGeneMean)
	if !ok || means[0] != 2.5 {
		t.Errorf("gene metadata of the first dataset should carry over, got %v, %v", means, ok)
	}
}

func TestConcatFeatureMismatch(t *testing.T) {
	a := concatInput(t, []string{"AAAC-1"}, [][]float64{{5, 0}})
	b := concatInput(t, []string{"TTTG-1"}, [][]float64{{1, 2}})
	b.Features[1].Name = "JUN"

	if _, err := Concat(a, b); err == nil {
		t.Fatal("expected an error for differing feature tables")
	}
}

func TestConcatKindConflict(t *testing.T) {
	a := concatInput(t, []string{"AAAC-1"}, [][]float64{{5, 0}})
	b := concatInput(t, []string{"TTTG-1"}, [][]float64{{1, 2}})
	if err := a.Cells.SetStrings("batch", []string{"x"}); err != nil {
		t.Fatal(err)
	}
	if err := b.Cells.SetFloats("batch", []float64{1}); err != nil {
		t.Fatal(err)
	}

	if _, err := Concat(a, b); err == nil {
		t.Fatal("expected an error for a column typed differently across datasets")
	}
}

func TestRelabelBarcode(t *testing.T) {
	cases := []struct {
		bc      string
		library int
		want    string
	}{
		{"AAACCTG-1", 2, "AAACCTG-2"},
		{"AAACCTG", 1, "AAACCTG-1"},
		{"AAACCTG-12", 3, "AAACCTG-3"},
		{"A-TT", 1, "A-TT-1"},
	}
	for _, c := range cases {
		if got := relabelBarcode(c.bc, c.library); got != c.want {
			t.Errorf("relabelBarcode(%q, %d): got %q, want %q", c.bc, c.library, got, c.want)
		}
	}
}
