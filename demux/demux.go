// Package demux assigns cells of a pooled male plus female library to their
// donors using sex-specific expression: XIST marks female cells, a panel of
// Y-linked genes marks male cells.
package demux

import (
	"fmt"

	"github.com/massonix/sc-cold-shock-artifacts/expression"
	"github.com/massonix/sc-cold-shock-artifacts/results"
	"github.com/massonix/sc-cold-shock-artifacts/study"
)

// Marker gene symbols. XIST is transcribed only from an inactive X, and the
// Y-linked panel is silent in female cells.
var (
	FemaleMarkers = []string{"XIST"}
	MaleMarkers   = []string{"RPS4Y1", "DDX3Y", "EIF1AY", "UTY", "KDM5D"}
)

// Call is the verdict for one cell.
type Call string

const (
	CallFemale     Call = "female"
	CallMale       Call = "male"
	CallDoublet    Call = "doublet"
	CallUnassigned Call = "unassigned"
)

// Options sets the minimum summed marker counts required to call each sex.
type Options struct {
	MinFemale float64
	MinMale   float64
}

func DefaultOptions() Options {
	return Options{MinFemale: 1, MinMale: 1}
}

// Assignment holds per-cell scores and calls for one library.
type Assignment struct {
	FemaleScore []float64
	MaleScore   []float64
	Calls       []Call
}

func (a *Assignment) NCalled(c Call) int {
	n := 0
	for _, got := range a.Calls {
		if got == c {
			n++
		}
	}

	return n
}

// markerScore sums raw counts over the named genes, cell by cell. At least
// one marker must exist in the feature table.
func markerScore(d *expression.Dataset, markers []string) ([]float64, error) {
	idx := make([]int, 0, len(markers))
	for _, name := range markers {
		if i, ok := d.FeatureIndexByName(name); ok {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		return nil, fmt.Errorf("none of the marker genes %v are in the feature table", markers)
	}

	out := make([]float64, d.NCells())
	for _, g := range idx {
		cells, vals := d.Counts.GeneEntries(g)
		for i, c := range cells {
			out[c] += vals[i]
		}
	}

	return out, nil
}

// Assign scores and calls every cell. A cell expressing both marker sets
// above threshold is a cross-donor doublet; a cell expressing neither stays
// unassigned.
func Assign(d *expression.Dataset, opts Options) (*Assignment, error) {
	if opts.MinFemale <= 0 {
		opts.MinFemale = 1
	}
	if opts.MinMale <= 0 {
		opts.MinMale = 1
	}

	female, err := markerScore(d, FemaleMarkers)
	if err != nil {
		return nil, err
	}
	male, err := markerScore(d, MaleMarkers)
	if err != nil {
		return nil, err
	}

	a := &Assignment{
		FemaleScore: female,
		MaleScore:   male,
		Calls:       make([]Call, d.NCells()),
	}
	for i := range a.Calls {
		isFemale := female[i] >= opts.MinFemale
		isMale := male[i] >= opts.MinMale
		switch {
		case isFemale && isMale:
			a.Calls[i] = CallDoublet
		case isFemale:
			a.Calls[i] = CallFemale
		case isMale:
			a.Calls[i] = CallMale
		default:
			a.Calls[i] = CallUnassigned
		}
	}

	return a, nil
}

// Annotate resolves calls to donor IDs using the sample's donor roster and
// installs the result as the donor cell column. Doublet and unassigned cells
// keep their call name as the donor value.
func Annotate(d *expression.Dataset, a *Assignment, sample study.Sample) error {
	femaleDonor, okF := sample.DonorBySex(study.SexFemale)
	maleDonor, okM := sample.DonorBySex(study.SexMale)
	if !okF || !okM {
		return fmt.Errorf("sample %s: demultiplexing needs exactly one male and one female donor, have %d donors", sample.ID, len(sample.Donors))
	}

	donors := make([]string, len(a.Calls))
	for i, c := range a.Calls {
		switch c {
		case CallFemale:
			donors[i] = femaleDonor.ID
		case CallMale:
			donors[i] = maleDonor.ID
		default:
			donors[i] = string(c)
		}
	}

	return d.Cells.SetStrings(expression.ColDonor, donors)
}

// KeepAssigned returns the dataset restricted to cells assigned to a single
// donor.
func KeepAssigned(d *expression.Dataset, a *Assignment) (*expression.Dataset, error) {
	keep := make([]bool, len(a.Calls))
	for i, c := range a.Calls {
		keep[i] = c == CallFemale || c == CallMale
	}

	return d.SelectCells(keep)
}

// Summarize tallies calls into rows for the results database, one row per
// donor plus rows for doublet and unassigned barcodes.
func Summarize(a *Assignment, sample study.Sample) ([]results.DemuxSummary, error) {
	femaleDonor, okF := sample.DonorBySex(study.SexFemale)
	maleDonor, okM := sample.DonorBySex(study.SexMale)
	if !okF || !okM {
		return nil, fmt.Errorf("sample %s: demultiplexing needs exactly one male and one female donor", sample.ID)
	}

	total := len(a.Calls)
	if total == 0 {
		return nil, fmt.Errorf("sample %s: no cells", sample.ID)
	}

	row := func(donor string, n int) results.DemuxSummary {
		return results.DemuxSummary{
			Sample:   sample.ID,
			Donor:    donor,
			NCells:   n,
			Fraction: float64(n) / float64(total),
		}
	}

	return []results.DemuxSummary{
		row(femaleDonor.ID, a.NCalled(CallFemale)),
		row(maleDonor.ID, a.NCalled(CallMale)),
		row(string(CallDoublet), a.NCalled(CallDoublet)),
		row(string(CallUnassigned), a.NCalled(CallUnassigned)),
	}, nil
}
