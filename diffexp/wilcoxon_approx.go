package diffexp

import (
	"math"

	"github.com/tokenme/probab/dst"
)

// approxP is the tie-corrected normal approximation with continuity
// correction, matching the large-sample branch of R's wilcox.test.
func approxP(n1, n2 int, u float64, ties []int) float64 {
	fn1, fn2 := float64(n1), float64(n2)
	n := fn1 + fn2

	var tieSum float64
	for _, t := range ties {
		ft := float64(t)
		tieSum += ft*ft*ft - ft
	}
	sigma := math.Sqrt(fn1 * fn2 / 12 * ((n + 1) - tieSum/(n*(n-1))))
	if sigma == 0 {
		// Every pooled value is identical; there is nothing to test.
		return 1
	}

	// Continuity correction pulls the statistic half a step toward the mean.
	z := u - fn1*fn2/2
	switch {
	case z > 0:
		z -= 0.5
	case z < 0:
		z += 0.5
	}
	z /= sigma

	lower := dst.NormalCDF(0, 1)(z)

	return 2 * math.Min(lower, 1-lower)
}
