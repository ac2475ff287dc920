// Package cluster groups cells on the shared nearest neighbor graph and
// names the groups with curated marker genes.
package cluster

import (
	"fmt"
	"sort"

	"github.com/theodesp/unionfind"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/community"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/massonix/sc-cold-shock-artifacts/reduce"
)

// DefaultResolution is the Louvain resolution parameter.
const DefaultResolution = 1.0

// Louvain partitions cells by modularity optimization over the weighted
// graph. Cluster numbers are assigned by decreasing cluster size, so cluster
// 0 is always the largest. Cells not touched by any edge form their own
// singleton clusters.
func Louvain(nCells int, edges []reduce.Edge, resolution float64) ([]int, error) {
	if nCells == 0 {
		return nil, fmt.Errorf("no cells to cluster")
	}
	if resolution <= 0 {
		resolution = DefaultResolution
	}

	g := simple.NewWeightedUndirectedGraph(0, 0)
	for i := 0; i < nCells; i++ {
		g.AddNode(simple.Node(i))
	}
	for _, e := range edges {
		if e.A == e.B {
			continue
		}
		if e.A < 0 || e.A >= nCells || e.B < 0 || e.B >= nCells {
			return nil, fmt.Errorf("edge %d-%d outside %d cells", e.A, e.B, nCells)
		}
		g.SetWeightedEdge(g.NewWeightedEdge(simple.Node(e.A), simple.Node(e.B), e.Weight))
	}

	reduced := community.Modularize(g, resolution, nil)
	communities := reduced.Communities()

	// Order clusters by size, then by their smallest member for stability.
	sort.Slice(communities, func(i, j int) bool {
		if len(communities[i]) != len(communities[j]) {
			return len(communities[i]) > len(communities[j])
		}
		return minID(communities[i]) < minID(communities[j])
	})

	out := make([]int, nCells)
	for i := range out {
		out[i] = -1
	}
	for label, comm := range communities {
		for _, node := range comm {
			out[node.ID()] = label
		}
	}
	for i, c := range out {
		if c < 0 {
			return nil, fmt.Errorf("cell %d was not assigned to any community", i)
		}
	}

	return out, nil
}

func minID(nodes []graph.Node) int64 {
	min := nodes[0].ID()
	for _, n := range nodes[1:] {
		if n.ID() < min {
			min = n.ID()
		}
	}

	return min
}

// NClusters returns the number of distinct cluster labels.
func NClusters(clusters []int) int {
	max := -1
	for _, c := range clusters {
		if c > max {
			max = c
		}
	}

	return max + 1
}

// Components returns the connected components of the graph, largest first.
// A fragmented graph is worth a look before trusting the clustering: a
// component that is disconnected from the rest can never merge with it.
func Components(nCells int, edges []reduce.Edge) [][]int {
	uf := unionfind.NewThreadSafeUnionFind(nCells)
	for _, e := range edges {
		uf.Union(e.A, e.B)
	}

	byRoot := make(map[int][]int)
	for i := 0; i < nCells; i++ {
		root := uf.Root(i)
		if root < 0 {
			// Never unioned: the cell is its own component.
			root = i
		}
		byRoot[root] = append(byRoot[root], i)
	}

	out := make([][]int, 0, len(byRoot))
	for _, members := range byRoot {
		sort.Ints(members)
		out = append(out, members)
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i][0] < out[j][0]
	})

	return out
}
