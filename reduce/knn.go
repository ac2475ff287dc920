package reduce

import (
	"fmt"
	"math"
	"sort"
)

// DefaultK is the neighborhood size for graph construction.
const DefaultK = 30

// DefaultSNNPrune drops shared neighbor edges with Jaccard overlap below
// one fifteenth.
const DefaultSNNPrune = 1.0 / 15.0

// Neighbors holds, per cell, its k nearest other cells by Euclidean distance
// in the embedding, closest first. A cell is never its own neighbor here.
type Neighbors struct {
	K    int
	Idx  [][]int
	Dist [][]float64
}

type candidate struct {
	idx  int
	dist float64
}

func (c candidate) closer(o candidate) bool {
	if c.dist != o.dist {
		return c.dist < o.dist
	}

	return c.idx < o.idx
}

// KNN brute-forces the k nearest neighbors of every cell. Ties break toward
// the lower cell index so results are reproducible.
func KNN(coords [][]float64, k int) (*Neighbors, error) {
	n := len(coords)
	if k <= 0 {
		k = DefaultK
	}
	if k >= n {
		return nil, fmt.Errorf("k %d needs more than %d cells", k, n)
	}

	nb := &Neighbors{
		K:    k,
		Idx:  make([][]int, n),
		Dist: make([][]float64, n),
	}

	for i := 0; i < n; i++ {
		best := make([]candidate, 0, k+1)
		for j := 0; j < n; j++ {
			if j == i {
				continue
			}
			c := candidate{idx: j, dist: euclidean(coords[i], coords[j])}
			if len(best) == k && !c.closer(best[k-1]) {
				continue
			}
			at := sort.Search(len(best), func(m int) bool { return c.closer(best[m]) })
			best = append(best, candidate{})
			copy(best[at+1:], best[at:])
			best[at] = c
			if len(best) > k {
				best = best[:k]
			}
		}

		nb.Idx[i] = make([]int, k)
		nb.Dist[i] = make([]float64, k)
		for m, c := range best {
			nb.Idx[i][m] = c.idx
			nb.Dist[i][m] = c.dist
		}
	}

	return nb, nil
}

func euclidean(a, b []float64) float64 {
	var ss float64
	for d := range a {
		dev := a[d] - b[d]
		ss += dev * dev
	}

	return math.Sqrt(ss)
}

// Edge is one weighted undirected edge between two cells.
type Edge struct {
	A, B   int
	Weight float64
}

// SNN builds the shared nearest neighbor graph: for every k nearest neighbor
// pair, the edge weight is the Jaccard overlap of the two cells' neighbor
// sets (each including the cell itself). Edges below prune are dropped.
func SNN(nb *Neighbors, prune float64) []Edge {
	if prune <= 0 {
		prune = DefaultSNNPrune
	}

	n := len(nb.Idx)
	sets := make([]map[int]struct{}, n)
	for i := 0; i < n; i++ {
		sets[i] = make(map[int]struct{}, nb.K+1)
		sets[i][i] = struct{}{}
		for _, j := range nb.Idx[i] {
			sets[i][j] = struct{}{}
		}
	}

	seen := make(map[[2]int]struct{})
	edges := make([]Edge, 0, n*nb.K/2)
	for i := 0; i < n; i++ {
		for _, j := range nb.Idx[i] {
			a, b := i, j
			if a > b {
				a, b = b, a
			}
			key := [2]int{a, b}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}

			shared := 0
			for member := range sets[a] {
				if _, ok := sets[b][member]; ok {
					shared++
				}
			}
			union := len(sets[a]) + len(sets[b]) - shared
			w := float64(shared) / float64(union)
			if w >= prune {
				edges = append(edges, Edge{A: a, B: b, Weight: w})
			}
		}
	}

	sort.Slice(edges, func(x, y int) bool {
		if edges[x].A != edges[y].A {
			return edges[x].A < edges[y].A
		}
		return edges[x].B < edges[y].B
	})

	return edges
}
