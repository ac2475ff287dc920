package diffexp

import "sort"

// BenjaminiHochberg adjusts P values to control the false discovery rate.
// The result is in the input's order.
func BenjaminiHochberg(p []float64) []float64 {
	n := len(p)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(i, j int) bool { return p[idx[i]] < p[idx[j]] })

	out := make([]float64, n)
	min := 1.0
	for i := n - 1; i >= 0; i-- {
		adj := p[idx[i]] * float64(n) / float64(i+1)
		if adj < min {
			min = adj
		}
		out[idx[i]] = min
	}

	return out
}
