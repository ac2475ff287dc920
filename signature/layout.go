package signature

import (
	"fmt"
	"strings"
)

// Layout describes how gene-set rows are laid out in a delimited file. A
// negative ColSet means the file carries no set names and every gene belongs
// to one set named by the caller.
type Layout struct {
	Delimiter rune
	Comment   rune
	ColSet    int
	ColGene   int
	Parser    *func(layout *Layout, row []string) (Row, error)
}

// Row is the parsed form of one file row: the set it names (possibly empty)
// and the genes it contributes.
type Row struct {
	Set         string
	Description string
	Genes       []string
}

var (
	listParseRow = ListParseRow
	gmtParseRow  = GMTParseRow
	tsvParseRow  = TSVParseRow
)

var Layouts = map[string]Layout{
	// One gene symbol per line. '#' comments are permitted.
	"LIST": {
		Delimiter: '\t',
		Comment:   '#',
		ColSet:    -1,
		ColGene:   0,
		Parser:    &listParseRow,
	},
	// Broad GMT: set name, description, then one gene per remaining column.
	"GMT": {
		Delimiter: '\t',
		Comment:   '#',
		ColSet:    0,
		ColGene:   2,
		Parser:    &gmtParseRow,
	},
	// Long form: one set-gene pair per line, no header.
	"TSV": {
		Delimiter: '\t',
		Comment:   '#',
		ColSet:    0,
		ColGene:   1,
		Parser:    &tsvParseRow,
	},
}

func LayoutNames() string {
	b := strings.Builder{}
	i := 0
	for m := range Layouts {
		if i != 0 {
			b.WriteString(", ")
		}
		b.WriteString(m)
		i++
	}

	return b.String()
}

// ListParseRow parses one gene per line, taking the symbol from ColGene.
func ListParseRow(layout *Layout, row []string) (Row, error) {
	if len(row) <= layout.ColGene {
		return Row{}, fmt.Errorf("row has %d columns, but the layout reads the gene from column %d", len(row), layout.ColGene)
	}

	gene := strings.TrimSpace(row[layout.ColGene])
	if gene == "" {
		return Row{}, nil
	}

	return Row{Genes: []string{gene}}, nil
}

// GMTParseRow parses one whole set per line: name, description, genes.
func GMTParseRow(layout *Layout, row []string) (Row, error) {
	if len(row) <= layout.ColGene {
		return Row{}, fmt.Errorf("GMT row has %d columns, want at least a name, a description, and one gene", len(row))
	}

	out := Row{
		Set:         strings.TrimSpace(row[layout.ColSet]),
		Description: strings.TrimSpace(row[1]),
	}
	if out.Set == "" {
		return Row{}, fmt.Errorf("GMT row has an empty set name")
	}

	for _, gene := range row[layout.ColGene:] {
		if gene = strings.TrimSpace(gene); gene != "" {
			out.Genes = append(out.Genes, gene)
		}
	}

	return out, nil
}

// TSVParseRow parses one set-gene pair per line from the configured columns.
func TSVParseRow(layout *Layout, row []string) (Row, error) {
	need := layout.ColSet
	if layout.ColGene > need {
		need = layout.ColGene
	}
	if len(row) <= need {
		return Row{}, fmt.Errorf("row has %d columns, but the layout reads columns %d and %d", len(row), layout.ColSet, layout.ColGene)
	}

	set := strings.TrimSpace(row[layout.ColSet])
	gene := strings.TrimSpace(row[layout.ColGene])
	if set == "" || gene == "" {
		return Row{}, fmt.Errorf("row %v has an empty set or gene field", row)
	}

	return Row{Set: set, Genes: []string{gene}}, nil
}
