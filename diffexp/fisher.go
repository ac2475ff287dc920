package diffexp

import (
	"fmt"

	fet "github.com/glycerine/golang-fisher-exact"
)

// Enrichment reports how a DEG list overlaps a gene signature within the
// universe of tested genes.
type Enrichment struct {
	NOverlap    int
	NDEGOnly    int
	NSigOnly    int
	NBackground int

	OddsRatio float64
	P         float64 // two-sided
	EnrichP   float64 // one-sided, overlap larger than chance
}

// EnrichmentTest runs a Fisher exact test of degs against signature, with
// universe as the background. Signature genes outside the universe are
// ignored; every DEG must be in the universe.
func EnrichmentTest(degs, signature, universe []string) (Enrichment, error) {
	if len(universe) == 0 {
		return Enrichment{}, fmt.Errorf("enrichment: empty gene universe")
	}

	inUniverse := make(map[string]struct{}, len(universe))
	for _, g := range universe {
		inUniverse[g] = struct{}{}
	}

	inSig := make(map[string]struct{})
	for _, g := range signature {
		if _, ok := inUniverse[g]; ok {
			inSig[g] = struct{}{}
		}
	}
	if len(inSig) == 0 {
		return Enrichment{}, fmt.Errorf("enrichment: no signature gene is in the tested universe")
	}

	var e Enrichment
	inDEG := make(map[string]struct{}, len(degs))
	for _, g := range degs {
		if _, ok := inUniverse[g]; !ok {
			return Enrichment{}, fmt.Errorf("enrichment: DEG %s is not in the tested universe", g)
		}
		if _, seen := inDEG[g]; seen {
			continue
		}
		inDEG[g] = struct{}{}
		if _, ok := inSig[g]; ok {
			e.NOverlap++
		} else {
			e.NDEGOnly++
		}
	}
	e.NSigOnly = len(inSig) - e.NOverlap
	e.NBackground = len(inUniverse) - e.NOverlap - e.NDEGOnly - e.NSigOnly

	_, _, rightp, twop := fet.FisherExactTest(e.NOverlap, e.NDEGOnly, e.NSigOnly, e.NBackground)
	e.P = twop
	e.EnrichP = rightp
	e.OddsRatio = float64(e.NOverlap) * float64(e.NBackground) /
		(float64(e.NDEGOnly) * float64(e.NSigOnly))

	return e, nil
}
