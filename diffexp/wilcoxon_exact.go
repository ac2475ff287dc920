package diffexp

import (
	"math/big"

	"github.com/BenLubar/memoize"
)

// The counting recursion refers to its own memoized form, so the variable
// cannot be initialized in its own declaration.
var memoizedCountU func(int, int, int) float64

func init() {
	memoizedCountU = memoize.Memoize(countU).(func(int, int, int) float64)
}

// exactP doubles the smaller tail of the exact U distribution. The
// distribution is symmetric about n1*n2/2, so the upper tail of u equals the
// lower tail of n1*n2-u.
func exactP(n1, n2, u int) float64 {
	if 2*u > n1*n2 {
		u = n1*n2 - u
	}

	var tail float64
	for k := 0; k <= u; k++ {
		tail += memoizedCountU(n1, n2, k)
	}

	p := 2 * tail / arrangements(n1, n2)
	if p > 1 {
		p = 1
	}

	return p
}

// countU counts the tie-free orderings of n1+n2 values whose U statistic is
// exactly u. Dropping the largest pooled value removes either n2 from U (it
// came from the first group) or nothing (it came from the second).
func countU(n1, n2, u int) float64 {
	if u < 0 || u > n1*n2 {
		return 0
	}
	if n1 == 0 || n2 == 0 {
		if u == 0 {
			return 1
		}
		return 0
	}

	return memoizedCountU(n1-1, n2, u-n2) + memoizedCountU(n1, n2-1, u)
}

// arrangements is C(n1+n2, n1), the number of distinct group orderings.
func arrangements(n1, n2 int) float64 {
	num := new(big.Int).MulRange(int64(n2)+1, int64(n1+n2))
	den := new(big.Int).MulRange(1, int64(n1))
	out, _ := new(big.Rat).SetFrac(num, den).Float64()

	return out
}
