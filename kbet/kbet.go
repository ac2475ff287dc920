// Package kbet measures how well groups of cells intermix in an embedding.
// It is a reimplementation of the kBET idea: in a well mixed dataset, the
// label composition of any small neighborhood matches the global
// composition, and a chi-square test should rarely reject.
package kbet

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/massonix/sc-cold-shock-artifacts/expression"
	"github.com/massonix/sc-cold-shock-artifacts/reduce"
	"github.com/massonix/sc-cold-shock-artifacts/results"
	"github.com/massonix/sc-cold-shock-artifacts/study"

	"github.com/carbocation/pfx"
	"github.com/montanaflynn/stats"
	"github.com/tokenme/probab/dst"
)

// Options configure one mixability test.
type Options struct {
	// K is the neighborhood size including the center cell. Zero means a
	// tenth of the cells, at least ten.
	K int

	// TestFraction is the share of cells whose neighborhoods are tested.
	TestFraction float64

	// MaxTests caps the number of tested neighborhoods.
	MaxTests int

	// Alpha is the per-neighborhood rejection level.
	Alpha float64

	Seed int64
}

func DefaultOptions() Options {
	return Options{
		TestFraction: 0.10,
		MaxTests:     500,
		Alpha:        0.05,
		Seed:         1,
	}
}

// Result summarizes the tested neighborhoods of one labeling.
type Result struct {
	K       int
	NTested int

	// RejectionRate is the share of neighborhoods whose composition
	// differs from the global label mix at Alpha.
	RejectionRate float64

	// ExpectedRate is the same rate after shuffling the labels, the
	// rejection level this test geometry produces under perfect mixing.
	ExpectedRate float64

	MedianP float64
}

// Test runs the neighborhood chi-square test over one embedding.
func Test(coords [][]float64, labels []string, opts Options) (Result, error) {
	n := len(coords)
	if n == 0 {
		return Result{}, fmt.Errorf("kbet: no cells")
	}
	if len(labels) != n {
		return Result{}, fmt.Errorf("kbet: %d labels for %d cells", len(labels), n)
	}

	k := opts.K
	if k <= 0 {
		k = n / 10
		if k < 10 {
			k = 10
		}
	}
	if k > n {
		k = n
	}
	if k < 2 {
		return Result{}, fmt.Errorf("kbet: neighborhood of %d cells is too small", k)
	}

	counts := make(map[string]int)
	for _, l := range labels {
		counts[l]++
	}
	if len(counts) < 2 {
		return Result{}, fmt.Errorf("kbet: need at least two labels, got %d", len(counts))
	}

	order := make([]string, 0, len(counts))
	for l := range counts {
		order = append(order, l)
	}
	sort.Strings(order)

	labelIdx := make(map[string]int, len(order))
	expected := make([]float64, len(order))
	for i, l := range order {
		labelIdx[l] = i
		expected[i] = float64(k) * float64(counts[l]) / float64(n)
	}

	nb, err := reduce.KNN(coords, k-1)
	if err != nil {
		return Result{}, pfx.Err(err)
	}

	nTests := int(math.Round(opts.TestFraction * float64(n)))
	if nTests < 1 {
		nTests = 1
	}
	if opts.MaxTests > 0 && nTests > opts.MaxTests {
		nTests = opts.MaxTests
	}
	if nTests > n {
		nTests = n
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	testCells := rng.Perm(n)[:nTests]

	rejected, ps := rejections(nb, testCells, labels, labelIdx, expected, opts.Alpha)

	// Null calibration: the same neighborhoods with shuffled labels.
	shuffled := make([]string, n)
	for i, j := range rng.Perm(n) {
		shuffled[i] = labels[j]
	}
	nullRejected, _ := rejections(nb, testCells, shuffled, labelIdx, expected, opts.Alpha)

	median, err := stats.Median(ps)
	if err != nil {
		return Result{}, pfx.Err(err)
	}

	return Result{
		K:             k,
		NTested:       nTests,
		RejectionRate: float64(rejected) / float64(nTests),
		ExpectedRate:  float64(nullRejected) / float64(nTests),
		MedianP:       median,
	}, nil
}

// rejections tests each chosen neighborhood, center cell included, against
// the expected label counts.
func rejections(nb *reduce.Neighbors, testCells []int, labels []string, labelIdx map[string]int, expected []float64, alpha float64) (rejected int, ps []float64) {
	obs := make([]float64, len(expected))
	ps = make([]float64, 0, len(testCells))

	for _, c := range testCells {
		for i := range obs {
			obs[i] = 0
		}
		obs[labelIdx[labels[c]]]++
		for _, j := range nb.Idx[c] {
			obs[labelIdx[labels[j]]]++
		}

		var x2 float64
		for i := range obs {
			diff := obs[i] - expected[i]
			x2 += diff * diff / expected[i]
		}

		p := chiSquareP(x2, len(expected)-1)
		ps = append(ps, p)
		if p < alpha {
			rejected++
		}
	}

	return rejected, ps
}

func chiSquareP(x2 float64, df int) (p float64) {
	defer func() { recover() }()

	p = 1.0 - dst.ChiSquareCDF(int64(df))(x2)

	return
}

// PairwiseByCondition tests each stored condition against the fresh cells
// over the named embedding, one result row per pair in storage-series
// order.
func PairwiseByCondition(d *expression.Dataset, embedding string, opts Options) ([]results.KBET, error) {
	emb, ok := d.Embeddings[embedding]
	if !ok {
		return nil, fmt.Errorf("dataset has no %s embedding", embedding)
	}

	condRaw, ok := d.Cells.Strings(expression.ColCondition)
	if !ok {
		return nil, fmt.Errorf("cell table has no %s column", expression.ColCondition)
	}

	labels := make([]string, len(condRaw))
	parsed := make(map[string]study.Condition)
	for i, raw := range condRaw {
		cond, err := study.ParseCondition(raw)
		if err != nil {
			return nil, fmt.Errorf("cell %d: %v", i, err)
		}
		labels[i] = cond.Label()
		parsed[cond.Label()] = cond
	}
	if _, ok := parsed["0h"]; !ok {
		return nil, fmt.Errorf("no fresh 0h cells to test against")
	}

	order := make([]string, 0, len(parsed))
	for l := range parsed {
		order = append(order, l)
	}
	sort.Slice(order, func(i, j int) bool { return parsed[order[i]].Order() < parsed[order[j]].Order() })

	out := make([]results.KBET, 0, len(order)-1)
	for _, cond := range order {
		if cond == "0h" {
			continue
		}

		var coords [][]float64
		var pair []string
		for i, l := range labels {
			if l != cond && l != "0h" {
				continue
			}
			coords = append(coords, emb.Coords[i])
			pair = append(pair, l)
		}

		r, err := Test(coords, pair, opts)
		if err != nil {
			return nil, fmt.Errorf("%s vs 0h: %v", cond, err)
		}

		out = append(out, results.KBET{
			Grouping:         "condition",
			GroupLabel:       cond + "_vs_0h",
			NeighborhoodSize: r.K,
			NNeighborhoods:   r.NTested,
			RejectionRate:    r.RejectionRate,
			ExpectedRate:     r.ExpectedRate,
			MedianP:          r.MedianP,
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("only fresh cells present, nothing to test")
	}

	return out, nil
}
