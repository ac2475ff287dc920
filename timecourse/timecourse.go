// Package timecourse traces per-donor QC metrics along the storage series.
// Cells sharing a donor and condition collapse to their median, the
// conditions line up by hours, and each trajectory reports its extremes and
// the storage interval with the steepest decline.
package timecourse

import (
	"fmt"
	"sort"

	"github.com/montanaflynn/stats"

	"github.com/massonix/sc-cold-shock-artifacts/expression"
	"github.com/massonix/sc-cold-shock-artifacts/study"
)

// Defaults for trajectory smoothing. A window of one compares each condition
// against its immediate neighbors.
const (
	DefaultWindow   = 1
	DefaultDiscards = 0
)

// Entry is one point of a trajectory: the condition and the collapsed metric
// of the donor's cells under it.
type Entry struct {
	Condition study.Condition
	Metric    float64
}

// Series is one donor's metric trajectory, ordered along the storage series.
type Series struct {
	Donor   string
	Entries []Entry
}

// Result summarizes one trajectory. MaxOneStepDrop is the largest decline
// between adjacent conditions as a fraction of the trajectory's maximum, and
// DropStart and DropEnd name the interval where it happens.
type Result struct {
	Donor          string
	Metric         string
	MaxOneStepDrop float64
	DropStart      string
	DropEnd        string
	ConditionAtMin string
	Min            float64
	SmoothedMin    float64
	ConditionAtMax string
	Max            float64
	SmoothedMax    float64
	Window         int
	Discards       int
}

type synthEntry struct {
	Condition  study.Condition
	Metric     float64
	TrueMetric float64
}

// adjacent collects the metrics of the window centered on i. The window
// clamps at the ends of the series, since storage time does not wrap.
func (s *Series) adjacent(i, n int) []float64 {
	lo := i - n
	if lo < 0 {
		lo = 0
	}
	hi := i + n
	if hi > len(s.Entries)-1 {
		hi = len(s.Entries) - 1
	}

	out := make([]float64, 0, hi-lo+1)
	for j := lo; j <= hi; j++ {
		out = append(out, s.Entries[j].Metric)
	}

	return out
}

// Extrema walks the trajectory, smoothing each point over its window after
// discarding the discardN most extreme values, and reports the minimum, the
// maximum, and the steepest one-step decline.
func (s *Series) Extrema(adjacentN, discardN int) (Result, error) {
	out := Result{Donor: s.Donor, Window: adjacentN, Discards: discardN}
	if len(s.Entries) == 0 {
		return out, fmt.Errorf("donor %s has an empty trajectory", s.Donor)
	}

	synthetic := make([]synthEntry, 0, len(s.Entries))

	var rawDrop, last float64
	for i, e := range s.Entries {
		kept, err := discardExtremes(s.adjacent(i, adjacentN), discardN)
		if err != nil {
			return out, err
		}
		smoothed, err := stats.Median(kept)
		if err != nil {
			return out, err
		}
		synthetic = append(synthetic, synthEntry{
			Condition:  e.Condition,
			Metric:     smoothed,
			TrueMetric: e.Metric,
		})

		if i > 0 {
			if drop := last - e.Metric; drop > rawDrop {
				rawDrop = drop
				out.DropStart = s.Entries[i-1].Condition.Label()
				out.DropEnd = e.Condition.Label()
			}
		}
		last = e.Metric
	}

	// Extremes are ranked on the true metric, not the smoothed one.
	sort.Slice(synthetic, func(i, j int) bool {
		return synthetic[i].TrueMetric < synthetic[j].TrueMetric
	})

	max := synthetic[len(synthetic)-1]
	min := synthetic[0]

	// The drop reads as a fraction of the trajectory's peak.
	if max.TrueMetric > 0 {
		out.MaxOneStepDrop = rawDrop / max.TrueMetric
	}

	out.ConditionAtMax = max.Condition.Label()
	out.Max = max.TrueMetric
	out.SmoothedMax = max.Metric
	out.ConditionAtMin = min.Condition.Label()
	out.Min = min.TrueMetric
	out.SmoothedMin = min.Metric

	return out, nil
}

// SeriesFromSlices groups parallel slices, the donor, condition label, and
// metric value of each cell, into one ordered trajectory per donor. Condition
// labels may be raw spellings; they are canonicalized before grouping.
func SeriesFromSlices(donors, conditions []string, metric []float64) ([]Series, error) {
	if len(donors) != len(conditions) || len(metric) != len(donors) {
		return nil, fmt.Errorf("donors, conditions, and metric differ in length: %d, %d, %d",
			len(donors), len(conditions), len(metric))
	}
	if len(donors) == 0 {
		return nil, fmt.Errorf("no cells to trace")
	}

	grouped := make(map[string]map[study.Condition][]float64)
	for i, donor := range donors {
		cond, err := study.ParseCondition(conditions[i])
		if err != nil {
			return nil, fmt.Errorf("cell %d: %w", i, err)
		}

		byCond := grouped[donor]
		if byCond == nil {
			byCond = make(map[study.Condition][]float64)
			grouped[donor] = byCond
		}
		byCond[cond] = append(byCond[cond], metric[i])
	}

	out := make([]Series, 0, len(grouped))
	for donor, byCond := range grouped {
		series := Series{Donor: donor}
		for cond, vals := range byCond {
			collapsed, err := stats.Median(vals)
			if err != nil {
				return nil, err
			}
			series.Entries = append(series.Entries, Entry{Condition: cond, Metric: collapsed})
		}
		sort.Slice(series.Entries, func(i, j int) bool {
			return series.Entries[i].Condition.Order() < series.Entries[j].Condition.Order()
		})
		out = append(out, series)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Donor < out[j].Donor })

	return out, nil
}

// RunFromSlices builds the per-donor trajectories and summarizes each one.
func RunFromSlices(donors, conditions []string, metric []float64, adjacentN, discardN int) ([]Result, error) {
	all, err := SeriesFromSlices(donors, conditions, metric)
	if err != nil {
		return nil, err
	}

	out := make([]Result, 0, len(all))
	for _, series := range all {
		res, err := series.Extrema(adjacentN, discardN)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}

	return out, nil
}

// MetricSeries builds the per-donor trajectories of one numeric cell column
// against the donor and condition columns of the dataset's cell table.
func MetricSeries(d *expression.Dataset, column string) ([]Series, error) {
	vals, ok := d.Cells.Floats(column)
	if !ok {
		return nil, fmt.Errorf("cell table has no numeric %s column", column)
	}
	donors, ok := d.Cells.Strings(expression.ColDonor)
	if !ok {
		return nil, fmt.Errorf("cell table has no %s column", expression.ColDonor)
	}
	conditions, ok := d.Cells.Strings(expression.ColCondition)
	if !ok {
		return nil, fmt.Errorf("cell table has no %s column", expression.ColCondition)
	}

	return SeriesFromSlices(donors, conditions, vals)
}

// RunMetric traces one numeric cell column and summarizes every donor's
// trajectory.
func RunMetric(d *expression.Dataset, column string, adjacentN, discardN int) ([]Result, error) {
	all, err := MetricSeries(d, column)
	if err != nil {
		return nil, err
	}

	out := make([]Result, 0, len(all))
	for _, series := range all {
		res, err := series.Extrema(adjacentN, discardN)
		if err != nil {
			return nil, err
		}
		res.Metric = column
		out = append(out, res)
	}

	return out, nil
}

// discardExtremes sorts a copy of vals and drops the n smallest and n
// largest values.
func discardExtremes(vals []float64, n int) ([]float64, error) {
	if n < 0 {
		return nil, fmt.Errorf("cannot discard %d values", n)
	}
	if 2*n >= len(vals) {
		return nil, fmt.Errorf("discarding %d extremes from each end of %d values leaves nothing", n, len(vals))
	}
	if n == 0 {
		return vals, nil
	}

	sorted := append([]float64{}, vals...)
	sort.Float64s(sorted)

	return sorted[n : len(sorted)-n], nil
}
