package cluster

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/massonix/sc-cold-shock-artifacts/expression"
	"github.com/massonix/sc-cold-shock-artifacts/normalize"
	"github.com/massonix/sc-cold-shock-artifacts/results"
)

// UnknownType labels clusters whose marker evidence is too thin to call.
const UnknownType = "unknown"

// DefaultLabelMargin is the minimum lead the best marker score needs over
// the runner-up.
const DefaultLabelMargin = 0.05

// DefaultMarkers covers the main blood lineages. CLL blasts carry the B
// program and surface under the B label.
func DefaultMarkers() map[string][]string {
	return map[string][]string{
		"T":        {"CD3D", "CD3E", "CD2", "IL7R", "TRAC"},
		"B":        {"CD79A", "CD79B", "MS4A1", "CD19"},
		"NK":       {"GNLY", "NKG7", "KLRD1"},
		"Monocyte": {"LYZ", "CD14", "FCGR3A", "S100A8"},
		"Platelet": {"PPBP", "PF4"},
	}
}

// LabelClusters scores each cluster against each marker set (mean normalized
// expression over the set's genes and the cluster's cells) and returns the
// winning label per cluster. A cluster whose best score does not lead by at
// least margin is unknown.
func LabelClusters(d *expression.Dataset, sizeFactors []float64, clusters []int, markers map[string][]string, margin float64) (map[int]string, error) {
	if margin <= 0 {
		margin = DefaultLabelMargin
	}
	nClusters := NClusters(clusters)
	if nClusters == 0 {
		return nil, fmt.Errorf("no clusters to label")
	}

	labels := make([]string, 0, len(markers))
	for label := range markers {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	clusterSize := make([]float64, nClusters)
	for _, c := range clusters {
		clusterSize[c]++
	}

	// score[c][l] accumulates per-gene cluster means for label l.
	score := make([][]float64, nClusters)
	for c := range score {
		score[c] = make([]float64, len(labels))
	}

	for l, label := range labels {
		idx := make([]int, 0, len(markers[label]))
		for _, name := range markers[label] {
			if g, ok := d.FeatureIndexByName(name); ok {
				idx = append(idx, g)
			}
		}
		if len(idx) == 0 {
			return nil, fmt.Errorf("no marker genes for %s are in the feature table", label)
		}

		for _, g := range idx {
			cells, raw := d.Counts.GeneEntries(g)
			sums := make([]float64, nClusters)
			for i, cell := range cells {
				sums[clusters[cell]] += normalize.Value(raw[i], sizeFactors[cell])
			}
			for c := range sums {
				score[c][l] += sums[c] / clusterSize[c] / float64(len(idx))
			}
		}
	}

	out := make(map[int]string, nClusters)
	for c := 0; c < nClusters; c++ {
		best, second := -1, -1
		for l := range labels {
			if best < 0 || score[c][l] > score[c][best] {
				second = best
				best = l
			} else if second < 0 || score[c][l] > score[c][second] {
				second = l
			}
		}
		out[c] = labels[best]
		if second >= 0 && score[c][best]-score[c][second] < margin {
			out[c] = UnknownType
		}
	}

	return out, nil
}

// Annotate installs cluster numbers and their type labels as cell columns.
func Annotate(d *expression.Dataset, clusters []int, types map[int]string) error {
	clusterCol := make([]string, len(clusters))
	typeCol := make([]string, len(clusters))
	for i, c := range clusters {
		clusterCol[i] = strconv.Itoa(c)
		typeCol[i] = types[c]
	}
	if err := d.Cells.SetStrings(expression.ColCluster, clusterCol); err != nil {
		return err
	}

	return d.Cells.SetStrings(expression.ColCellType, typeCol)
}

// Composition tallies each cluster's cells by sample. The fraction is the
// share of the cluster contributed by that sample, so a cluster dominated by
// one storage condition stands out immediately.
func Composition(d *expression.Dataset) ([]results.Composition, error) {
	clusters, ok := d.Cells.Strings(expression.ColCluster)
	if !ok {
		return nil, fmt.Errorf("cell table has no %s column", expression.ColCluster)
	}
	types, ok := d.Cells.Strings(expression.ColCellType)
	if !ok {
		return nil, fmt.Errorf("cell table has no %s column", expression.ColCellType)
	}
	samples, ok := d.Cells.Strings(expression.ColSample)
	if !ok {
		return nil, fmt.Errorf("cell table has no %s column", expression.ColSample)
	}
	conditions, ok := d.Cells.Strings(expression.ColCondition)
	if !ok {
		return nil, fmt.Errorf("cell table has no %s column", expression.ColCondition)
	}

	type key struct{ cluster, sample string }
	counts := make(map[key]int)
	clusterTotals := make(map[string]int)
	meta := make(map[key]results.Composition)
	for i := range clusters {
		k := key{clusters[i], samples[i]}
		counts[k]++
		clusterTotals[clusters[i]]++
		if _, seen := meta[k]; !seen {
			meta[k] = results.Composition{
				Cluster:   clusters[i],
				CellType:  types[i],
				Condition: conditions[i],
				Sample:    samples[i],
			}
		}
	}

	keys := make([]key, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].cluster != keys[j].cluster {
			return keys[i].cluster < keys[j].cluster
		}
		return keys[i].sample < keys[j].sample
	})

	out := make([]results.Composition, 0, len(keys))
	for _, k := range keys {
		row := meta[k]
		row.NCells = counts[k]
		row.Fraction = float64(counts[k]) / float64(clusterTotals[k.cluster])
		out = append(out, row)
	}

	return out, nil
}
