package timecourse

import (
	"fmt"
	"math"
	"testing"

	"github.com/massonix/sc-cold-shock-artifacts/expression"
	"github.com/massonix/sc-cold-shock-artifacts/study"
)

func mustCondition(t *testing.T, label string) study.Condition {
	t.Helper()
	cond, err := study.ParseCondition(label)
	if err != nil {
		t.Fatal(err)
	}
	return cond
}

func TestDiscardExtremes(t *testing.T) {
	kept, err := discardExtremes([]float64{5, 1, 9, 3, 7}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(kept) != 3 || kept[0] != 3 || kept[1] != 5 || kept[2] != 7 {
		t.Errorf("kept = %v, want [3 5 7]", kept)
	}

	same, err := discardExtremes([]float64{2, 1}, 0)
	if err != nil || len(same) != 2 {
		t.Errorf("n=0 should keep everything, got %v, %v", same, err)
	}

	if _, err := discardExtremes([]float64{1, 2}, 1); err == nil {
		t.Error("discarding everything should fail")
	}
}

func TestSeriesExtrema(t *testing.T) {
	series := Series{
		Donor: "male",
		Entries: []Entry{
			{mustCondition(t, "0h"), 100},
			{mustCondition(t, "2h"), 90},
			{mustCondition(t, "8h"), 80},
			{mustCondition(t, "24h_RT"), 20},
		},
	}

	res, err := series.Extrema(0, 0)
	if err != nil {
		t.Fatal(err)
	}

	if res.ConditionAtMax != "0h" || res.Max != 100 {
		t.Errorf("max = %s at %v", res.ConditionAtMax, res.Max)
	}
	if res.ConditionAtMin != "24h_RT" || res.Min != 20 {
		t.Errorf("min = %s at %v", res.ConditionAtMin, res.Min)
	}

	// The 8h to 24h step loses 60 of a 100 peak.
	if math.Abs(res.MaxOneStepDrop-0.6) > 1e-12 {
		t.Errorf("MaxOneStepDrop = %v, want 0.6", res.MaxOneStepDrop)
	}
	if res.DropStart != "8h_RT" || res.DropEnd != "24h_RT" {
		t.Errorf("drop interval = %s to %s", res.DropStart, res.DropEnd)
	}

	// Without smoothing the synthetic metric equals the true one.
	if res.SmoothedMax != 100 || res.SmoothedMin != 20 {
		t.Errorf("smoothed = %v, %v", res.SmoothedMax, res.SmoothedMin)
	}
}

func TestSeriesExtremaSmoothed(t *testing.T) {
	series := Series{
		Donor: "female",
		Entries: []Entry{
			{mustCondition(t, "0h"), 100},
			{mustCondition(t, "2h"), 90},
			{mustCondition(t, "8h"), 80},
			{mustCondition(t, "24h_RT"), 20},
		},
	}

	res, err := series.Extrema(1, 0)
	if err != nil {
		t.Fatal(err)
	}

	// The edge windows clamp: the first point smooths over {100, 90} and the
	// last over {80, 20}.
	if res.SmoothedMax != 95 {
		t.Errorf("SmoothedMax = %v, want 95", res.SmoothedMax)
	}
	if res.SmoothedMin != 50 {
		t.Errorf("SmoothedMin = %v, want 50", res.SmoothedMin)
	}
}

func TestRunFromSlices(t *testing.T) {
	donors := []string{"A", "A", "A", "A", "A", "A", "B", "B", "B", "B", "B", "B"}
	conditions := []string{
		"fresh", "fresh", "2h", "2h", "8h", "8h",
		"fresh", "fresh", "2h", "2h", "8h", "8h",
	}
	metric := []float64{10, 12, 8, 10, 2, 4, 5, 5, 5, 5, 5, 5}

	res, err := RunFromSlices(donors, conditions, metric, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 2 || res[0].Donor != "A" || res[1].Donor != "B" {
		t.Fatalf("res = %+v", res)
	}

	a := res[0]
	if a.Max != 11 || a.ConditionAtMax != "0h" || a.Min != 3 || a.ConditionAtMin != "8h_RT" {
		t.Errorf("donor A extremes = %+v", a)
	}
	if math.Abs(a.MaxOneStepDrop-6.0/11) > 1e-12 {
		t.Errorf("donor A drop = %v, want %v", a.MaxOneStepDrop, 6.0/11)
	}
	if a.DropStart != "2h_RT" || a.DropEnd != "8h_RT" {
		t.Errorf("donor A drop interval = %s to %s", a.DropStart, a.DropEnd)
	}

	b := res[1]
	if b.MaxOneStepDrop != 0 || b.DropStart != "" {
		t.Errorf("a flat trajectory should have no drop, got %+v", b)
	}
}

func TestRunFromSlicesErrors(t *testing.T) {
	if _, err := RunFromSlices([]string{"A"}, []string{"0h", "2h"}, []float64{1}, 0, 0); err == nil {
		t.Error("mismatched lengths should fail")
	}
	if _, err := RunFromSlices([]string{"A"}, []string{"whenever"}, []float64{1}, 0, 0); err == nil {
		t.Error("an unparseable condition should fail")
	}
	if _, err := RunFromSlices(nil, nil, nil, 0, 0); err == nil {
		t.Error("empty input should fail")
	}
}

func TestRunMetric(t *testing.T) {
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

	err = d.Cells.SetStrings(expression.ColDonor, []string{"A", "A", "A", "A", "A", "A"})
	if err != nil {
		t.Fatal(err)
	}
	err = d.Cells.SetStrings(expression.ColCondition, []string{"0h", "0h", "2h", "2h", "8h", "8h"})
	if err != nil {
		t.Fatal(err)
	}
	err = d.Cells.SetFloats(expression.ColNGenes, []float64{1000, 1200, 900, 1100, 500, 700})
	if err != nil {
		t.Fatal(err)
	}

	res, err := RunMetric(d, expression.ColNGenes, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 {
		t.Fatalf("got %d results, want 1", len(res))
	}
	if res[0].Metric != expression.ColNGenes {
		t.Errorf("metric name = %q", res[0].Metric)
	}
	if res[0].Max != 1100 || res[0].Min != 600 {
		t.Errorf("extremes = %v, %v, want 1100, 600", res[0].Max, res[0].Min)
	}

	if _, err := RunMetric(d, "no_such_column", 0, 0); err == nil {
		t.Error("a missing column should fail")
	}
}

func TestSeriesFromSlices(t *testing.T) {
	donors := []string{"B", "B", "A", "A", "A", "A"}
	conditions := []string{"8h", "fresh", "2h_4C", "2h_4C", "0h", "0h"}
	metric := []float64{40, 50, 10, 20, 4, 8}

	all, err := SeriesFromSlices(donors, conditions, metric)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].Donor != "A" || all[1].Donor != "B" {
		t.Fatalf("got %d series in order %v, want A then B", len(all), all)
	}

	// Donor A: 0h collapses to 6, 2h at 4C to 15, ordered by hours.
	a := all[0]
	if len(a.Entries) != 2 {
		t.Fatalf("donor A has %d entries, want 2", len(a.Entries))
	}
	if got := a.Entries[0].Condition.Label(); got != "0h" || a.Entries[0].Metric != 6 {
		t.Errorf("first entry = %s %v, want 0h 6", got, a.Entries[0].Metric)
	}
	if got := a.Entries[1].Condition.Label(); got != "2h_4C" || a.Entries[1].Metric != 15 {
		t.Errorf("second entry = %s %v, want 2h_4C 15", got, a.Entries[1].Metric)
	}

	b := all[1]
	if len(b.Entries) != 2 || b.Entries[0].Condition.Label() != "0h" || b.Entries[1].Condition.Label() != "8h_RT" {
		t.Errorf("donor B entries = %v", b.Entries)
	}
}
