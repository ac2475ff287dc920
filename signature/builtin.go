package signature

import (
	"sort"
	"strings"
)

// Builtins are the gene programs the study tracks without needing an external
// file. The coldshock program is the time-dependent signature from the
// sampling-artifact time course: the cold-induced RNA binding proteins RBM3
// and CIRBP together with the immediate-early and stress response genes that
// climb while blood sits at room temperature. The dissociation program is the
// van den Brink et al. 2017 warm-dissociation stress set, lifted to human
// symbols, kept here to separate handling stress from storage time.
var Builtins = map[string]Set{
	"coldshock": {
		Name:        "coldshock",
		Description: "cold-shock and storage-time response program",
		Genes: []string{
			"RBM3", "CIRBP",
			"JUN", "JUNB", "JUND", "FOS", "FOSB", "EGR1",
			"DUSP1", "KLF6", "NFKBIA", "ZFP36", "IER2", "PPP1R15A",
			"HSPA1A", "HSPA1B",
		},
	},
	"dissociation": {
		Name:        "dissociation",
		Description: "warm dissociation stress program (van den Brink 2017)",
		Genes: []string{
			"ATF3", "BTG2", "CEBPB", "CEBPD", "DUSP1", "EGR1",
			"FOS", "FOSB", "HSPA1A", "HSPA1B", "HSPB1",
			"IER2", "IER3", "JUN", "JUNB", "JUND",
			"NR4A1", "SOCS3", "ZFP36",
		},
	},
}

// BuiltinNames lists the builtin signatures in a stable order, so tools that
// default to scoring all of them emit rows in the same order every run.
func BuiltinNames() string {
	names := make([]string, 0, len(Builtins))
	for m := range Builtins {
		names = append(names, m)
	}
	sort.Strings(names)

	return strings.Join(names, ", ")
}
