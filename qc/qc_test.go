package qc

import (
	"math"
	"testing"

	"github.com/massonix/sc-cold-shock-artifacts/expression"
)

func qcDataset(t *testing.T) *expression.Dataset {
	t.Helper()

	// 3 cells x 3 genes; MT-CO1 is mitochondrial.
	m, err := expression.NewMatrixFromTriplets(3, 3,
		[]int32{0, 0, 1, 2},
		[]int32{0, 2, 2, 1},
		[]float64{9, 1, 4, 6},
	)
	if err != nil {
		t.Fatal(err)
	}
	d, err := expression.NewDataset(m,
		[]string{"AAAC-1", "AAAG-1", "AATC-1"},
		[]expression.Feature{
			{ID: "ENSG01", Name: "CD3D", Type: expression.FeatureTypeGene},
			{ID: "ENSG02", Name: "RPS18", Type: expression.FeatureTypeGene},
			{ID: "ENSG03", Name: "MT-CO1", Type: expression.FeatureTypeGene},
		})
	if err != nil {
		t.Fatal(err)
	}

	return d
}

func TestAnnotateMetrics(t *testing.T) {
	d := qcDataset(t)

	m, err := AnnotateMetrics(d, "")
	if err != nil {
		t.Fatalf("AnnotateMetrics: %v", err)
	}

	wantTotals := []float64{10, 4, 6}
	wantGenes := []float64{2, 1, 1}
	wantMito := []float64{10, 100, 0}
	wantRibo := []float64{0, 0, 100}
	for i := range wantTotals {
		if m.TotalCounts[i] != wantTotals[i] {
			t.Errorf("cell %d total: got %v, want %v", i, m.TotalCounts[i], wantTotals[i])
		}
		if m.NGenes[i] != wantGenes[i] {
			t.Errorf("cell %d genes: got %v, want %v", i, m.NGenes[i], wantGenes[i])
		}
		if m.PctMito[i] != wantMito[i] {
			t.Errorf("cell %d pct mito: got %v, want %v", i, m.PctMito[i], wantMito[i])
		}
		if m.PctRibo[i] != wantRibo[i] {
			t.Errorf("cell %d pct ribo: got %v, want %v", i, m.PctRibo[i], wantRibo[i])
		}
	}

	if got, want := m.Moments.Counts.Mean(), 20.0/3; math.Abs(got-want) > 1e-9 {
		t.Errorf("running mean of totals: got %v, want %v", got, want)
	}

	if _, ok := d.Cells.Floats(expression.ColPctMito); !ok {
		t.Error("metrics must be installed as cell columns")
	}
	if _, ok := d.Cells.Floats(expression.ColPctRibo); !ok {
		t.Error("pct_ribo must be installed as a cell column")
	}

	if _, err := AnnotateMetrics(d, "NOPE-"); err == nil {
		t.Error("expected error when no features match the prefix")
	}
}

func TestOutlierThreshold(t *testing.T) {
	metric := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 100}

	// median 6, MAD 3: upper cutoff 6 + 3*1.4826*3.
	got, err := OutlierThreshold(metric, 3, UpperTail, false)
	if err != nil {
		t.Fatalf("OutlierThreshold: %v", err)
	}
	want := 6 + 3*madScale*3
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("upper cutoff: got %v, want %v", got, want)
	}

	lower, err := OutlierThreshold(metric, 3, LowerTail, false)
	if err != nil {
		t.Fatalf("OutlierThreshold: %v", err)
	}
	if lower >= got {
		t.Errorf("lower cutoff %v must sit below upper cutoff %v", lower, got)
	}
}

func evalMetrics() *Metrics {
	return &Metrics{
		TotalCounts: []float64{4200, 4400, 4600, 4800, 5000, 5200, 5400, 5600, 5800, 6000, 6200, 50},
		NGenes:      []float64{1400, 1450, 1500, 1550, 1600, 1650, 1700, 1750, 1800, 1850, 1900, 25},
		PctMito:     []float64{3, 3.5, 4, 4.5, 5, 5.5, 6, 6.5, 7, 7.5, 8, 85},
	}
}

func TestEvaluate(t *testing.T) {
	v, err := Evaluate(evalMetrics(), DefaultOptions())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	if v.NPass() != 11 {
		t.Errorf("got %d passing cells, want 11", v.NPass())
	}
	if v.Pass[11] {
		t.Error("the planted outlier cell must fail")
	}
	want := FlagLowCounts | FlagLowGenes | FlagHighMito
	if v.Flags[11] != want {
		t.Errorf("outlier flags: got %s, want %s", FlagNames(v.Flags[11]), FlagNames(want))
	}
	for i := 0; i < 11; i++ {
		if v.Flags[i] != 0 {
			t.Errorf("cell %d flagged %s, want clean", i, FlagNames(v.Flags[i]))
		}
	}
}

func TestEvaluateHardFloors(t *testing.T) {
	opts := DefaultOptions()
	opts.MinCounts = 4500

	v, err := Evaluate(evalMetrics(), opts)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if v.Thresholds.MinCounts != 4500 {
		t.Errorf("hard floor must win over a lower adaptive cutoff: got %v", v.Thresholds.MinCounts)
	}
	if got := v.NFailed(FlagLowCounts); got != 3 {
		t.Errorf("cells under the floor: got %d, want 3", got)
	}
}

func TestEvaluateMitoCap(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxPctMito = 7.2

	v, err := Evaluate(evalMetrics(), opts)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if v.Thresholds.MaxPctMito != 7.2 {
		t.Errorf("cap must win over a higher adaptive cutoff: got %v", v.Thresholds.MaxPctMito)
	}
	if got := v.NFailed(FlagHighMito); got != 3 {
		t.Errorf("cells over the cap: got %d, want 3 (7.5, 8, 85)", got)
	}
}

func TestFlagNames(t *testing.T) {
	if got := FlagNames(0); got != "" {
		t.Errorf("clean cell: got %q, want empty", got)
	}
	if got := FlagNames(FlagLowCounts | FlagHighMito); got != "low_counts;high_mito" {
		t.Errorf("got %q", got)
	}
}
