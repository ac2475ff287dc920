package doublet

import (
	"math"
	"testing"

	"github.com/massonix/sc-cold-shock-artifacts/expression"
)

func TestScoreCells(t *testing.T) {
	// Four tight singlets and one suspect sitting in the middle of the
	// simulated points.
	singlets := [][]float64{{0}, {1}, {2}, {3}, {10}}
	doublets := [][]float64{{9.5}, {10.5}, {9.8}, {10.2}}

	scores, err := scoreCells(singlets, doublets, 3)
	if err != nil {
		t.Fatal(err)
	}

	// Simulation ratio is 4/9, so an all-simulated neighborhood scores
	// 1 / (4/9).
	if want := 9.0 / 4; math.Abs(scores[4]-want) > 1e-12 {
		t.Errorf("suspect score = %v, want %v", scores[4], want)
	}
	for c := 0; c < 4; c++ {
		if scores[c] != 0 {
			t.Errorf("singlet %d score = %v, want 0", c, scores[c])
		}
	}

	if _, err := scoreCells(singlets, nil, 3); err == nil {
		t.Error("expected an error without simulated points")
	}
}

func TestCallTop(t *testing.T) {
	calls, threshold := callTop([]float64{0.1, 2, 0.3, 1.5}, 0.5)
	if !calls[1] || !calls[3] || calls[0] || calls[2] {
		t.Errorf("calls = %v, want cells 1 and 3", calls)
	}
	if threshold != 1.5 {
		t.Errorf("threshold = %v, want 1.5", threshold)
	}

	calls, threshold = callTop([]float64{1, 1, 0.5}, 1.0/3)
	if !calls[0] || calls[1] || calls[2] {
		t.Errorf("tied calls = %v, want cell 0 only", calls)
	}
	if threshold != 1 {
		t.Errorf("tied threshold = %v, want 1", threshold)
	}

	calls, threshold = callTop([]float64{1, 2}, 0)
	if calls[0] || calls[1] || !math.IsInf(threshold, 1) {
		t.Errorf("no expected doublets: calls = %v, threshold = %v", calls, threshold)
	}
}

func TestExpectedFraction(t *testing.T) {
	if got := ExpectedFraction(DefaultRate, 1000); math.Abs(got-0.008) > 1e-12 {
		t.Errorf("1000 cells = %v, want 0.008", got)
	}
	if got := ExpectedFraction(DefaultRate, 5000); math.Abs(got-0.04) > 1e-12 {
		t.Errorf("5000 cells = %v, want 0.04", got)
	}
	if got := ExpectedFraction(DefaultRate, 200000); got != 1 {
		t.Errorf("200000 cells = %v, want the 1.0 cap", got)
	}
}

// simDataset has eight cells over two genes with equal totals and an
// identity projection, so the combined space is just normalized expression.
func simDataset(t *testing.T) *expression.Dataset {
	t.Helper()

	cells := make([]int32, 0, 16)
	genes := make([]int32, 0, 16)
	vals := make([]float64, 0, 16)
	barcodes := make([]string, 0, 8)
	for c := 0; c < 8; c++ {
		cells = append(cells, int32(c), int32(c))
		genes = append(genes, 0, 1)
		vals = append(vals, float64(c+1), float64(9-c))
		barcodes = append(barcodes, string(rune('a'+c)))
	}

	m, err := expression.NewMatrixFromTriplets(8, 2, cells, genes, vals)
	if err != nil {
		t.Fatal(err)
	}
	d, err := expression.NewDataset(m, barcodes, []expression.Feature{
		{ID: "ENSG1", Name: "CD3D", Type: expression.FeatureTypeGene},
		{ID: "ENSG2", Name: "LYZ", Type: expression.FeatureTypeGene},
	})
	if err != nil {
		t.Fatal(err)
	}

	d.PCA = &expression.PCAModel{
		GeneIdx:           []int{0, 1},
		Mean:              []float64{0, 0},
		Scale:             []float64{1, 1},
		Components:        [][]float64{{1, 0}, {0, 1}},
		VarianceExplained: []float64{0.6, 0.4},
	}

	return d
}

func TestProfiles(t *testing.T) {
	d := simDataset(t)

	// Cell 0 holds counts 1 and 8 at unit size factor.
	got := singletProfile(d, 0, 1)
	want := []float64{math.Log1p(1), math.Log1p(8)}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Fatalf("singlet profile = %v, want %v", got, want)
		}
	}

	// Cells 0 and 7 sum to counts 9 and 10; at twice the median depth the
	// size factor is 2.
	got = pairProfile(d, 0, 7, 2)
	want = []float64{math.Log1p(4.5), math.Log1p(5)}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Fatalf("pair profile = %v, want %v", got, want)
		}
	}
}

func TestSimulate(t *testing.T) {
	d := simDataset(t)

	opts := DefaultOptions()
	opts.K = 3
	opts.ExpectedFraction = 0.25

	sc, err := Simulate(d, opts)
	if err != nil {
		t.Fatal(err)
	}

	if len(sc.Score) != 8 || len(sc.Pairs) != 8 {
		t.Fatalf("got %d scores and %d pairs, want 8 each", len(sc.Score), len(sc.Pairs))
	}
	for _, p := range sc.Pairs {
		if p[0] == p[1] || p[0] < 0 || p[0] >= 8 || p[1] < 0 || p[1] >= 8 {
			t.Errorf("bad pair %v", p)
		}
	}

	if n := sc.NCalled(); n != 2 {
		t.Errorf("called %d cells, want 2", n)
	}
	for i, called := range sc.Call {
		if called && sc.Score[i] < sc.Threshold {
			t.Errorf("cell %d called below threshold", i)
		}
		if !called && sc.Score[i] > sc.Threshold {
			t.Errorf("cell %d missed above threshold", i)
		}
	}

	var sum float64
	for _, s := range sc.Score {
		sum += s
	}
	mean := sum / float64(len(sc.Score))
	if math.Abs(sc.Mean-mean) > 1e-9 {
		t.Errorf("running mean = %v, want %v", sc.Mean, mean)
	}
	var ss float64
	for _, s := range sc.Score {
		ss += (s - mean) * (s - mean)
	}
	if sd := math.Sqrt(ss / float64(len(sc.Score)-1)); math.Abs(sc.SD-sd) > 1e-9 {
		t.Errorf("running SD = %v, want %v", sc.SD, sd)
	}

	again, err := Simulate(d, opts)
	if err != nil {
		t.Fatal(err)
	}
	for i := range sc.Score {
		if sc.Score[i] != again.Score[i] {
			t.Fatalf("scores differ between identical runs at cell %d", i)
		}
	}

	if err := Annotate(d, sc); err != nil {
		t.Fatal(err)
	}
	callCol, ok := d.Cells.Strings(expression.ColDoubletCall)
	if !ok {
		t.Fatal("doublet call column missing")
	}
	nDoublet := 0
	for _, c := range callCol {
		if c == CallSimDoublet {
			nDoublet++
		}
	}
	if nDoublet != 2 {
		t.Errorf("%d cells annotated as doublets, want 2", nDoublet)
	}

	d.PCA = nil
	if _, err := Simulate(d, opts); err == nil {
		t.Error("expected an error without a PCA model")
	}
}
