// Package qc computes per-cell quality metrics and flags outlier cells the
// way scater's isOutlier does: a cell fails when a metric sits more than a
// set number of median absolute deviations from the median of its sample's
// distribution.
package qc

import (
	"fmt"
	"math"
	"strings"

	"github.com/carbocation/runningvariance"
	"github.com/montanaflynn/stats"

	"github.com/massonix/sc-cold-shock-artifacts/expression"
)

// DefaultMitoPrefix matches human mitochondrial gene symbols.
const DefaultMitoPrefix = "MT-"

// DefaultRiboPrefixes match human cytosolic ribosomal protein gene symbols.
var DefaultRiboPrefixes = []string{"RPS", "RPL"}

// madScale makes the MAD a consistent estimator of the standard deviation
// for normal data, as R's mad() does.
const madScale = 1.4826

// Metrics holds the per-cell quality metrics, one entry per cell, together
// with running moments accumulated while they were computed.
type Metrics struct {
	TotalCounts []float64
	NGenes      []float64
	PctMito     []float64
	PctRibo     []float64

	Moments Moments
}

// Moments carries a streaming mean/SD accumulator per metric.
type Moments struct {
	Counts *runningvariance.RunningStat
	Genes  *runningvariance.RunningStat
	Mito   *runningvariance.RunningStat
	Ribo   *runningvariance.RunningStat
}

// AnnotateMetrics computes library size, detected genes, and the
// mitochondrial and ribosomal fractions per cell, and installs them as cell
// metadata columns.
func AnnotateMetrics(d *expression.Dataset, mitoPrefix string) (*Metrics, error) {
	if mitoPrefix == "" {
		mitoPrefix = DefaultMitoPrefix
	}

	isMito := make([]bool, d.NGenes())
	isRibo := make([]bool, d.NGenes())
	nMito := 0
	for i, f := range d.Features {
		if strings.HasPrefix(f.Name, mitoPrefix) {
			isMito[i] = true
			nMito++
		}
		for _, p := range DefaultRiboPrefixes {
			if strings.HasPrefix(f.Name, p) {
				isRibo[i] = true
				break
			}
		}
	}
	if nMito == 0 {
		return nil, fmt.Errorf("no features match the mitochondrial prefix %q", mitoPrefix)
	}

	m := &Metrics{
		TotalCounts: make([]float64, d.NCells()),
		NGenes:      make([]float64, d.NCells()),
		PctMito:     make([]float64, d.NCells()),
		PctRibo:     make([]float64, d.NCells()),
		Moments: Moments{
			Counts: runningvariance.NewRunningStat(),
			Genes:  runningvariance.NewRunningStat(),
			Mito:   runningvariance.NewRunningStat(),
			Ribo:   runningvariance.NewRunningStat(),
		},
	}
	for c := 0; c < d.NCells(); c++ {
		genes, vals := d.Counts.CellEntries(c)
		var total, mito, ribo float64
		for i, g := range genes {
			total += vals[i]
			if isMito[g] {
				mito += vals[i]
			}
			if isRibo[g] {
				ribo += vals[i]
			}
		}
		m.TotalCounts[c] = total
		m.NGenes[c] = float64(len(genes))
		if total > 0 {
			m.PctMito[c] = 100 * mito / total
			m.PctRibo[c] = 100 * ribo / total
		}
		m.Moments.Counts.Push(m.TotalCounts[c])
		m.Moments.Genes.Push(m.NGenes[c])
		m.Moments.Mito.Push(m.PctMito[c])
		m.Moments.Ribo.Push(m.PctRibo[c])
	}

	if err := d.Cells.SetFloats(expression.ColTotalCounts, m.TotalCounts); err != nil {
		return nil, err
	}
	if err := d.Cells.SetFloats(expression.ColNGenes, m.NGenes); err != nil {
		return nil, err
	}
	if err := d.Cells.SetFloats(expression.ColPctMito, m.PctMito); err != nil {
		return nil, err
	}
	if err := d.Cells.SetFloats(expression.ColPctRibo, m.PctRibo); err != nil {
		return nil, err
	}

	return m, nil
}

// Tail selects which side of the distribution counts as an outlier.
type Tail int

const (
	LowerTail Tail = iota
	UpperTail
)

// OutlierThreshold returns the cutoff nmads MADs from the median. With
// logScale the statistics are computed on log1p values and the cutoff is
// transformed back to the metric's scale.
func OutlierThreshold(metric []float64, nmads float64, tail Tail, logScale bool) (float64, error) {
	vals := metric
	if logScale {
		vals = make([]float64, len(metric))
		for i, v := range metric {
			vals[i] = math.Log1p(v)
		}
	}

	median, err := stats.Median(vals)
	if err != nil {
		return 0, err
	}
	mad, err := stats.MedianAbsoluteDeviation(vals)
	if err != nil {
		return 0, err
	}
	mad *= madScale

	cutoff := median - nmads*mad
	if tail == UpperTail {
		cutoff = median + nmads*mad
	}
	if logScale {
		cutoff = math.Expm1(cutoff)
	}

	return cutoff, nil
}

// Flag bits for the reasons a cell failed.
const (
	FlagLowCounts uint8 = 1 << iota
	FlagLowGenes
	FlagHighMito
)

// FlagNames renders a flag bitmask like "low_counts;high_mito", or "" for a
// passing cell.
func FlagNames(flags uint8) string {
	var parts []string
	if flags&FlagLowCounts != 0 {
		parts = append(parts, "low_counts")
	}
	if flags&FlagLowGenes != 0 {
		parts = append(parts, "low_genes")
	}
	if flags&FlagHighMito != 0 {
		parts = append(parts, "high_mito")
	}

	return strings.Join(parts, ";")
}

// Options tunes outlier detection. Zero hard limits are ignored.
type Options struct {
	// NMADs is the distance from the median that marks an outlier.
	NMADs float64
	// MinCounts and MinGenes are hard floors applied on top of the adaptive
	// cutoffs.
	MinCounts float64
	MinGenes  float64
	// MaxPctMito caps the adaptive mitochondrial cutoff.
	MaxPctMito float64
}

// DefaultOptions mirrors the usual three MAD convention.
func DefaultOptions() Options {
	return Options{NMADs: 3}
}

// Thresholds are the effective cutoffs applied to one group of cells.
type Thresholds struct {
	MinCounts  float64
	MinGenes   float64
	MaxPctMito float64
}

// Verdict is the outcome of outlier detection over one group of cells.
type Verdict struct {
	Thresholds Thresholds
	Flags      []uint8
	Pass       []bool
}

func (v *Verdict) NPass() int {
	n := 0
	for _, p := range v.Pass {
		if p {
			n++
		}
	}

	return n
}

// NFailed counts cells carrying the given flag.
func (v *Verdict) NFailed(flag uint8) int {
	n := 0
	for _, f := range v.Flags {
		if f&flag != 0 {
			n++
		}
	}

	return n
}

// Evaluate flags outliers among one group of cells. Counts and genes are
// judged on the log scale in the lower tail, the mitochondrial fraction on
// the raw scale in the upper tail.
func Evaluate(m *Metrics, opts Options) (*Verdict, error) {
	if opts.NMADs <= 0 {
		opts.NMADs = 3
	}

	countsLo, err := OutlierThreshold(m.TotalCounts, opts.NMADs, LowerTail, true)
	if err != nil {
		return nil, err
	}
	if opts.MinCounts > countsLo {
		countsLo = opts.MinCounts
	}

	genesLo, err := OutlierThreshold(m.NGenes, opts.NMADs, LowerTail, true)
	if err != nil {
		return nil, err
	}
	if opts.MinGenes > genesLo {
		genesLo = opts.MinGenes
	}

	mitoHi, err := OutlierThreshold(m.PctMito, opts.NMADs, UpperTail, false)
	if err != nil {
		return nil, err
	}
	if opts.MaxPctMito > 0 && opts.MaxPctMito < mitoHi {
		mitoHi = opts.MaxPctMito
	}

	v := &Verdict{
		Thresholds: Thresholds{MinCounts: countsLo, MinGenes: genesLo, MaxPctMito: mitoHi},
		Flags:      make([]uint8, len(m.TotalCounts)),
		Pass:       make([]bool, len(m.TotalCounts)),
	}
	for i := range m.TotalCounts {
		if m.TotalCounts[i] < countsLo {
			v.Flags[i] |= FlagLowCounts
		}
		if m.NGenes[i] < genesLo {
			v.Flags[i] |= FlagLowGenes
		}
		if m.PctMito[i] > mitoHi {
			v.Flags[i] |= FlagHighMito
		}
		v.Pass[i] = v.Flags[i] == 0
	}

	return v, nil
}

// EvaluatePerSample runs Evaluate separately for the cells of each sample,
// so a deeply sequenced sample cannot shift the cutoffs of a shallow one.
// The returned verdict covers all cells in their original order.
func EvaluatePerSample(d *expression.Dataset, m *Metrics, opts Options) (*Verdict, error) {
	samples, ok := d.Cells.Strings(expression.ColSample)
	if !ok {
		return nil, fmt.Errorf("cell table has no %s column", expression.ColSample)
	}

	order := make([]string, 0)
	bySample := make(map[string][]int)
	for i, s := range samples {
		if _, seen := bySample[s]; !seen {
			order = append(order, s)
		}
		bySample[s] = append(bySample[s], i)
	}

	out := &Verdict{
		Flags: make([]uint8, d.NCells()),
		Pass:  make([]bool, d.NCells()),
	}
	for _, s := range order {
		idx := bySample[s]
		sub := &Metrics{
			TotalCounts: make([]float64, len(idx)),
			NGenes:      make([]float64, len(idx)),
			PctMito:     make([]float64, len(idx)),
		}
		for j, i := range idx {
			sub.TotalCounts[j] = m.TotalCounts[i]
			sub.NGenes[j] = m.NGenes[i]
			sub.PctMito[j] = m.PctMito[i]
		}
		v, err := Evaluate(sub, opts)
		if err != nil {
			return nil, fmt.Errorf("sample %s: %w", s, err)
		}
		for j, i := range idx {
			out.Flags[i] = v.Flags[j]
			out.Pass[i] = v.Pass[j]
		}
	}

	return out, nil
}

// Annotate installs the verdict as qc_pass and qc_flags cell columns.
func Annotate(d *expression.Dataset, v *Verdict) error {
	pass := make([]string, len(v.Pass))
	flags := make([]string, len(v.Flags))
	for i := range v.Pass {
		if v.Pass[i] {
			pass[i] = "true"
		} else {
			pass[i] = "false"
		}
		flags[i] = FlagNames(v.Flags[i])
	}
	if err := d.Cells.SetStrings(expression.ColQCPass, pass); err != nil {
		return err
	}

	return d.Cells.SetStrings(expression.ColQCFlags, flags)
}

// Filter returns the dataset restricted to passing cells.
func Filter(d *expression.Dataset, v *Verdict) (*expression.Dataset, error) {
	return d.SelectCells(v.Pass)
}

// FilterGenes drops genes detected in fewer than minCells cells.
func FilterGenes(d *expression.Dataset, minCells int) (*expression.Dataset, error) {
	perGene := d.Counts.GeneNCells()
	keep := make([]bool, d.NGenes())
	for g, n := range perGene {
		keep[g] = n >= minCells
	}

	return d.SelectGenes(keep)
}
