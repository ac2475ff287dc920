package normalize

import (
	"math"
	"testing"

	"github.com/massonix/sc-cold-shock-artifacts/expression"
)

func hvgStats() *GeneStats {
	return &GeneStats{
		Mean:     []float64{0.05, 0.5, 0.5, 0.6, 0.55, 3.0, 3.1, 3.05},
		Variance: []float64{9.0, 0, 1.0, 1.2, 5.0, 2.0, 2.2, 2.1},
	}
}

func TestSelectHVG(t *testing.T) {
	// Two bins: low-mean genes 2, 3, 4 (median variance 1.2) and high-mean
	// genes 5, 6, 7 (median variance 2.1). Gene 0 is under the mean floor and
	// gene 1 has no variance.
	hvg, err := SelectHVG(hvgStats(), 2, 2, DefaultHVGMinMean)
	if err != nil {
		t.Fatalf("SelectHVG: %v", err)
	}

	if hvg.NKept != 2 {
		t.Fatalf("got %d kept, want 2", hvg.NKept)
	}
	if !hvg.Keep[4] {
		t.Error("gene 4 with variance 5.0 against an expected 1.2 must rank first")
	}
	if !hvg.Keep[6] {
		t.Error("gene 6 with ratio 2.2/2.1 must take the second slot")
	}
	if hvg.Keep[0] || hvg.Keep[1] {
		t.Error("excluded genes can never be flagged")
	}

	if math.Abs(hvg.Ratio[4]-5.0/1.2) > tolerance {
		t.Errorf("gene 4 ratio: got %v, want %v", hvg.Ratio[4], 5.0/1.2)
	}
	if hvg.Ratio[0] != 0 || hvg.Ratio[1] != 0 {
		t.Errorf("non-candidates keep a zero ratio: %v, %v", hvg.Ratio[0], hvg.Ratio[1])
	}
	// Gene 6 owns the top edge of the mean range and must still land in the
	// high bin.
	if math.Abs(hvg.Ratio[6]-2.2/2.1) > tolerance {
		t.Errorf("gene 6 ratio: got %v, want %v", hvg.Ratio[6], 2.2/2.1)
	}
}

func TestSelectHVGFewCandidates(t *testing.T) {
	hvg, err := SelectHVG(hvgStats(), 2, 100, DefaultHVGMinMean)
	if err != nil {
		t.Fatalf("SelectHVG: %v", err)
	}
	if hvg.NKept != 6 {
		t.Errorf("asking for more than exist keeps all candidates: got %d, want 6", hvg.NKept)
	}

	empty := &GeneStats{Mean: []float64{0.01}, Variance: []float64{1}}
	if _, err := SelectHVG(empty, 2, 10, DefaultHVGMinMean); err == nil {
		t.Error("expected error with no candidate genes")
	}
}

func TestAnnotateAndHVGIndices(t *testing.T) {
	m, err := expression.NewMatrixFromTriplets(2, 3,
		[]int32{0, 0, 1, 1},
		[]int32{0, 1, 1, 2},
		[]float64{4, 2, 3, 5},
	)
	if err != nil {
		t.Fatal(err)
	}
	d, err := expression.NewDataset(m, []string{"A-1", "B-1"}, []expression.Feature{
		{ID: "ENSG01", Name: "CIRBP", Type: expression.FeatureTypeGene},
		{ID: "ENSG02", Name: "RBM3", Type: expression.FeatureTypeGene},
		{ID: "ENSG03", Name: "FOS", Type: expression.FeatureTypeGene},
	})
	if err != nil {
		t.Fatal(err)
	}

	st := &GeneStats{Mean: []float64{1, 2, 3}, Variance: []float64{0.5, 1.5, 2.5}}
	hvg := &HVGResult{Ratio: []float64{0.8, 1.9, 1.1}, Keep: []bool{false, true, true}, NKept: 2}
	if err := Annotate(d, st, hvg); err != nil {
		t.Fatalf("Annotate: %v", err)
	}

	if _, err := HVGIndices(d); err != nil {
		t.Fatalf("HVGIndices: %v", err)
	}
	idx, _ := HVGIndices(d)
	if len(idx) != 2 || idx[0] != 1 || idx[1] != 2 {
		t.Errorf("HVG indices: got %v, want [1 2]", idx)
	}

	detected, ok := d.GeneMeta.Floats(expression.ColGeneNCells)
	if !ok || detected[1] != 2 {
		t.Errorf("detected cells column: %v, %v", detected, ok)
	}

	bare, err := expression.NewDataset(m, []string{"A-1", "B-1"}, d.Features)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := HVGIndices(bare); err == nil {
		t.Error("expected error before annotation")
	}
}
