// Package doublet scores cells against simulated doublets. Synthetic
// doublets are built by summing the counts of random cell pairs, normalized
// like any cell, and projected into the dataset's fitted PCA space; a real
// cell whose neighborhood fills up with simulations is itself suspect.
package doublet

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/massonix/sc-cold-shock-artifacts/expression"
	"github.com/massonix/sc-cold-shock-artifacts/normalize"
	"github.com/massonix/sc-cold-shock-artifacts/reduce"

	"github.com/carbocation/pfx"
	"github.com/carbocation/runningvariance"
	"github.com/montanaflynn/stats"
)

// Cell table values for the doublet call column.
const (
	CallSimDoublet = "SimDoublet"
	CallSinglet    = "singlet"
)

// DefaultRate is the expected doublet share per thousand recovered cells,
// the usual rule of thumb for droplet loading.
const DefaultRate = 0.008

// Options configure one simulation round.
type Options struct {
	// NSim is the number of simulated doublets; zero means one per cell.
	NSim int

	// K is the neighborhood size scored in the combined space.
	K int

	// Rate is the expected doublet fraction per thousand recovered cells.
	Rate float64

	// ExpectedFraction overrides the rate-derived expectation when
	// positive, for example with the doublet share demultiplexing saw.
	ExpectedFraction float64

	Seed int64
}

func DefaultOptions() Options {
	return Options{K: reduce.DefaultK, Rate: DefaultRate, Seed: 1}
}

// ExpectedFraction is the doublet share expected of a library with n
// recovered cells: rate per thousand cells, growing linearly with load.
func ExpectedFraction(rate float64, nCells int) float64 {
	f := rate * float64(nCells) / 1000
	if f > 1 {
		f = 1
	}

	return f
}

// Scores is the outcome of one simulation round.
type Scores struct {
	// Score is the per-cell enrichment of simulated doublets among the
	// cell's neighbors; 1 means the neighborhood mirrors the overall
	// simulation ratio.
	Score []float64

	Call      []bool
	Threshold float64
	Expected  float64
	Pairs     [][2]int

	// Mean and SD summarize Score.
	Mean float64
	SD   float64
}

// NCalled counts flagged cells.
func (s *Scores) NCalled() int {
	n := 0
	for _, c := range s.Call {
		if c {
			n++
		}
	}

	return n
}

// Simulate builds synthetic doublets, scores every real cell, and flags the
// top scorers up to the expected doublet fraction.
func Simulate(d *expression.Dataset, opts Options) (*Scores, error) {
	if d.PCA == nil || d.PCA.NPCs() == 0 {
		return nil, fmt.Errorf("dataset has no fitted PCA model to project into")
	}
	nCells := d.Counts.NCells()
	if nCells < 4 {
		return nil, fmt.Errorf("%d cells are too few to simulate from", nCells)
	}

	nSim := opts.NSim
	if nSim <= 0 {
		nSim = nCells
	}
	k := opts.K
	if k <= 0 {
		k = reduce.DefaultK
	}

	sums := d.Counts.CellSums()
	medianLib, err := stats.Median(sums)
	if err != nil {
		return nil, pfx.Err(err)
	}
	if medianLib <= 0 {
		return nil, fmt.Errorf("median library size is zero")
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	pairs := make([][2]int, nSim)
	for s := range pairs {
		a := rng.Intn(nCells)
		b := rng.Intn(nCells)
		for b == a {
			b = rng.Intn(nCells)
		}
		pairs[s] = [2]int{a, b}
	}

	singlets := make([][]float64, nCells)
	for c := range singlets {
		coords, err := reduce.Project(d.PCA, singletProfile(d, c, sums[c]/medianLib))
		if err != nil {
			return nil, pfx.Err(err)
		}
		singlets[c] = coords
	}

	doublets := make([][]float64, nSim)
	for s, pair := range pairs {
		profile := pairProfile(d, pair[0], pair[1], (sums[pair[0]]+sums[pair[1]])/medianLib)
		coords, err := reduce.Project(d.PCA, profile)
		if err != nil {
			return nil, pfx.Err(err)
		}
		doublets[s] = coords
	}

	scores, err := scoreCells(singlets, doublets, k)
	if err != nil {
		return nil, err
	}

	expected := opts.ExpectedFraction
	if expected <= 0 {
		rate := opts.Rate
		if rate <= 0 {
			rate = DefaultRate
		}
		expected = ExpectedFraction(rate, nCells)
	}
	calls, threshold := callTop(scores, expected)

	rs := runningvariance.NewRunningStat()
	for _, s := range scores {
		rs.Push(s)
	}

	return &Scores{
		Score:     scores,
		Call:      calls,
		Threshold: threshold,
		Expected:  expected,
		Pairs:     pairs,
		Mean:      rs.Mean(),
		SD:        rs.StandardDeviation(),
	}, nil
}

// singletProfile is one cell's normalized expression over the model genes.
func singletProfile(d *expression.Dataset, cell int, sf float64) []float64 {
	counts := make(map[int]float64)
	genes, vals := d.Counts.CellEntries(cell)
	for i, g := range genes {
		counts[int(g)] += vals[i]
	}

	return modelValues(d.PCA, counts, sf)
}

// pairProfile sums two cells into one synthetic doublet profile.
func pairProfile(d *expression.Dataset, a, b int, sf float64) []float64 {
	counts := make(map[int]float64)
	for _, cell := range [2]int{a, b} {
		genes, vals := d.Counts.CellEntries(cell)
		for i, g := range genes {
			counts[int(g)] += vals[i]
		}
	}

	return modelValues(d.PCA, counts, sf)
}

func modelValues(model *expression.PCAModel, counts map[int]float64, sf float64) []float64 {
	out := make([]float64, len(model.GeneIdx))
	for j, g := range model.GeneIdx {
		out[j] = normalize.Value(counts[g], sf)
	}

	return out
}

// scoreCells measures, for each singlet, the share of simulated points among
// its k nearest neighbors in the combined space, scaled by the simulation
// ratio so 1 is neutral.
func scoreCells(singlets, doublets [][]float64, k int) ([]float64, error) {
	nReal := len(singlets)
	nSim := len(doublets)
	if nReal == 0 || nSim == 0 {
		return nil, fmt.Errorf("scoring needs both real and simulated points, got %d and %d", nReal, nSim)
	}

	combined := make([][]float64, 0, nReal+nSim)
	combined = append(combined, singlets...)
	combined = append(combined, doublets...)

	nb, err := reduce.KNN(combined, k)
	if err != nil {
		return nil, pfx.Err(err)
	}

	simRatio := float64(nSim) / float64(nReal+nSim)
	scores := make([]float64, nReal)
	for c := 0; c < nReal; c++ {
		nSimNeighbors := 0
		for _, j := range nb.Idx[c] {
			if j >= nReal {
				nSimNeighbors++
			}
		}
		scores[c] = float64(nSimNeighbors) / float64(k) / simRatio
	}

	return scores, nil
}

// callTop flags the highest-scoring share of cells. Ties break toward the
// lower cell index.
func callTop(scores []float64, expectedFraction float64) (calls []bool, threshold float64) {
	n := len(scores)
	calls = make([]bool, n)

	nFlag := int(math.Round(expectedFraction * float64(n)))
	if nFlag > n {
		nFlag = n
	}
	if nFlag == 0 {
		return calls, math.Inf(1)
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool {
		if scores[order[i]] != scores[order[j]] {
			return scores[order[i]] > scores[order[j]]
		}
		return order[i] < order[j]
	})

	for _, i := range order[:nFlag] {
		calls[i] = true
	}

	return calls, scores[order[nFlag-1]]
}

// Annotate stores scores and calls on the cell table.
func Annotate(d *expression.Dataset, sc *Scores) error {
	if err := d.Cells.SetFloats(expression.ColDoubletScore, sc.Score); err != nil {
		return err
	}

	call := make([]string, len(sc.Call))
	for i, c := range sc.Call {
		call[i] = CallSinglet
		if c {
			call[i] = CallSimDoublet
		}
	}

	return d.Cells.SetStrings(expression.ColDoubletCall, call)
}
