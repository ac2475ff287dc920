package signature

import (
	"fmt"
	"math"
	"testing"

	"gopkg.in/guregu/null.v3"

	"github.com/massonix/sc-cold-shock-artifacts/expression"
	"github.com/massonix/sc-cold-shock-artifacts/results"
)

func TestSpearman(t *testing.T) {
	// Truth values from R's cor(x, y, method = "spearman").
	for _, tc := range []struct {
		x, y []float64
		want float64
	}{
		{[]float64{1, 2, 3, 4, 5}, []float64{5, 3, 4, 2, 1}, -0.9},
		{[]float64{1, 2, 3, 4, 5}, []float64{1, 4, 9, 16, 25}, 1},
		{[]float64{1, 2, 2, 3}, []float64{10, 20, 20, 40}, 1},
	} {
		got, err := Spearman(tc.x, tc.y)
		if err != nil {
			t.Fatal(err)
		}
		if math.Abs(got-tc.want) > 1e-12 {
			t.Errorf("Spearman(%v, %v) = %v, want %v", tc.x, tc.y, got, tc.want)
		}
	}
}

func TestSpearmanErrors(t *testing.T) {
	if _, err := Spearman([]float64{1, 2}, []float64{1}); err == nil {
		t.Error("mismatched lengths should fail")
	}
	if _, err := Spearman([]float64{1, 2}, []float64{2, 1}); err == nil {
		t.Error("two pairs should fail")
	}
}

// trendDataset holds three samples of two cells each along the storage time
// course.
func trendDataset(t *testing.T) *expression.Dataset {
	t.Helper()

	n := 6
	cells := make([]int32, n)
	genes := make([]int32, n)
	vals := make([]float64, n)
	barcodes := make([]string, n)
	for c := 0; c < n; c++ {
		cells[c] = int32(c)
		vals[c] = 1
		barcodes[c] = fmt.Sprintf("c%d", c)
	}

	m, err := expression.NewMatrixFromTriplets(n, 1, cells, genes, vals)
	if err != nil {
		t.Fatal(err)
	}
	d, err := expression.NewDataset(m, barcodes, []expression.Feature{
		{ID: "ENSG1", Name: "RBM3", Type: expression.FeatureTypeGene},
	})
	if err != nil {
		t.Fatal(err)
	}

	err = d.Cells.SetStrings(expression.ColSample,
		[]string{"f1", "f1", "t2", "t2", "t8", "t8"})
	if err != nil {
		t.Fatal(err)
	}
	err = d.Cells.SetStrings(expression.ColCondition,
		[]string{"fresh", "fresh", "2h", "2h", "8h", "8h"})
	if err != nil {
		t.Fatal(err)
	}

	return d
}

func TestTimeTrend(t *testing.T) {
	d := trendDataset(t)

	points, rho, err := TimeTrend(d, []float64{0, 0, 1, 1, 2, 2})
	if err != nil {
		t.Fatal(err)
	}

	if len(points) != 3 {
		t.Fatalf("got %d points, want 3", len(points))
	}
	wantHours := []float64{0, 2, 8}
	wantConds := []string{"0h", "2h_RT", "8h_RT"}
	for i, p := range points {
		if p.Hours != wantHours[i] || p.Condition != wantConds[i] {
			t.Errorf("point %d = %+v", i, p)
		}
		if p.Median != float64(i) || p.NCells != 2 {
			t.Errorf("point %d = %+v, want median %d over 2 cells", i, p, i)
		}
	}

	// Scores climb monotonically with hours.
	if math.Abs(rho-1) > 1e-12 {
		t.Errorf("rho = %v, want 1", rho)
	}
}

func TestTimeTrendTooFewSamples(t *testing.T) {
	d := trendDataset(t)
	err := d.Cells.SetStrings(expression.ColSample,
		[]string{"f1", "f1", "f1", "t8", "t8", "t8"})
	if err != nil {
		t.Fatal(err)
	}
	err = d.Cells.SetStrings(expression.ColCondition,
		[]string{"0h", "0h", "0h", "8h", "8h", "8h"})
	if err != nil {
		t.Fatal(err)
	}

	points, rho, err := TimeTrend(d, []float64{0, 0, 0, 1, 1, 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(points) != 2 || !math.IsNaN(rho) {
		t.Errorf("points = %d, rho = %v; want 2 points and NaN", len(points), rho)
	}
}

func TestDEGOverlap(t *testing.T) {
	var degs []results.DEG
	for i := 1; i <= 10; i++ {
		row := results.DEG{Gene: fmt.Sprintf("G%d", i)}
		if i <= 4 {
			row.Log2FC = 1
			row.PAdjusted = null.FloatFrom(0.01)
		} else {
			row.PAdjusted = null.FloatFrom(0.9)
		}
		degs = append(degs, row)
	}

	enr, err := DEGOverlap(degs, Set{Name: "sig", Genes: []string{"G1", "G2", "G5"}}, 0.05, 0.25)
	if err != nil {
		t.Fatal(err)
	}

	if enr.NOverlap != 2 || enr.NDEGOnly != 2 || enr.NSigOnly != 1 || enr.NBackground != 5 {
		t.Errorf("table = %d/%d/%d/%d, want 2/2/1/5",
			enr.NOverlap, enr.NDEGOnly, enr.NSigOnly, enr.NBackground)
	}
	if enr.OddsRatio != 5 {
		t.Errorf("odds ratio = %v, want 5", enr.OddsRatio)
	}
	if enr.P <= 0 || enr.P > 1 {
		t.Errorf("P = %v", enr.P)
	}
}

func TestDEGOverlapNoHits(t *testing.T) {
	degs := []results.DEG{
		{Gene: "G1", PAdjusted: null.FloatFrom(0.9)},
		{Gene: "G2", PAdjusted: null.FloatFrom(0.8)},
	}

	if _, err := DEGOverlap(degs, Set{Genes: []string{"G1"}}, 0.05, 0.25); err == nil {
		t.Error("expected an error when nothing is significant")
	}
}
