package diffexp

import (
	"fmt"
	"sort"
)

// ExactLimit is the largest per-group size for which the exact U
// distribution is evaluated. Bigger groups, or any ties, fall back to the
// normal approximation, the same switch R's wilcox.test makes.
const ExactLimit = 50

// Wilcoxon runs a two-sided Wilcoxon rank-sum (Mann-Whitney) test and
// returns the U statistic of x relative to y with its P value.
func Wilcoxon(x, y []float64) (u, p float64, err error) {
	n1, n2 := len(x), len(y)
	if n1 == 0 || n2 == 0 {
		return 0, 0, fmt.Errorf("wilcoxon: both groups need values, got %d and %d", n1, n2)
	}

	pooled := make([]float64, 0, n1+n2)
	pooled = append(pooled, x...)
	pooled = append(pooled, y...)
	ranks, ties := AverageRanks(pooled)

	var r1 float64
	for i := 0; i < n1; i++ {
		r1 += ranks[i]
	}
	u = r1 - float64(n1)*float64(n1+1)/2

	if len(ties) == 0 && n1 < ExactLimit && n2 < ExactLimit {
		// Tie-free rank sums are integral, so u is too.
		return u, exactP(n1, n2, int(u)), nil
	}

	return u, approxP(n1, n2, u, ties), nil
}

// AverageRanks ranks values 1..n, giving tied values the mean rank of their
// run. The returned tie sizes cover each run longer than one value.
func AverageRanks(v []float64) (ranks []float64, ties []int) {
	n := len(v)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(i, j int) bool { return v[idx[i]] < v[idx[j]] })

	ranks = make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j < n && v[idx[j]] == v[idx[i]] {
			j++
		}
		mean := float64(i+j+1) / 2
		for k := i; k < j; k++ {
			ranks[idx[k]] = mean
		}
		if j-i > 1 {
			ties = append(ties, j-i)
		}
		i = j
	}

	return ranks, ties
}
