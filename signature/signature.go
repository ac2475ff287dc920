// Package signature scores gene programs over cells and compares them across
// samples. Sets come from builtin tables or from delimited files in one of
// several layouts, and scoring follows the bin-matched control-gene scheme
// that AddModuleScore popularized.
package signature

import (
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/carbocation/pfx"

	coldshock "github.com/massonix/sc-cold-shock-artifacts"
)

// Set is one named gene program.
type Set struct {
	Name        string
	Description string
	Genes       []string
}

// SetParser pairs a layout with csv settings derived from it. Consumers copy
// the settings onto their own csv.Reader.
type SetParser struct {
	CSVReaderSettings *csv.Reader
	Layout            Layout
}

func New(layout string) (*SetParser, error) {
	l, exists := Layouts[layout]
	if !exists {
		return nil, fmt.Errorf("layout %s is not found. Valid layout names include: %s", layout, LayoutNames())
	}

	return NewWithLayout(l)
}

func NewWithLayout(layout Layout) (*SetParser, error) {
	n := &SetParser{}
	n.Layout = layout
	n.CSVReaderSettings = &csv.Reader{}
	n.CSVReaderSettings.Comma = layout.Delimiter
	n.CSVReaderSettings.Comment = layout.Comment
	n.CSVReaderSettings.FieldsPerRecord = -1
	n.CSVReaderSettings.TrimLeadingSpace = true

	return n, nil
}

func (sp *SetParser) ParseRow(row []string) (Row, error) {
	return (*sp.Layout.Parser)(&sp.Layout, row)
}

// ReadSets consumes a gene-set file and merges its rows into named sets,
// keeping first-seen order for sets and genes alike. Repeated genes within a
// set are dropped. defaultName names the output of layouts that carry no set
// column, such as LIST files.
func ReadSets(r io.Reader, parser *SetParser, defaultName string) ([]Set, error) {
	reader := csv.NewReader(r)
	reader.Comma = parser.CSVReaderSettings.Comma
	reader.Comment = parser.CSVReaderSettings.Comment
	reader.FieldsPerRecord = parser.CSVReaderSettings.FieldsPerRecord
	reader.TrimLeadingSpace = parser.CSVReaderSettings.TrimLeadingSpace

	var out []Set
	index := make(map[string]int)
	seen := make(map[string]map[string]struct{})

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, pfx.Err(err)
		}

		parsed, err := parser.ParseRow(row)
		if err != nil {
			return nil, pfx.Err(err)
		}
		if parsed.Set == "" && len(parsed.Genes) == 0 {
			continue
		}

		name := parsed.Set
		if name == "" {
			name = defaultName
		}

		i, exists := index[name]
		if !exists {
			i = len(out)
			index[name] = i
			out = append(out, Set{Name: name, Description: parsed.Description})
			seen[name] = make(map[string]struct{})
		}
		if out[i].Description == "" {
			out[i].Description = parsed.Description
		}

		for _, gene := range parsed.Genes {
			if _, dup := seen[name][gene]; dup {
				continue
			}
			seen[name][gene] = struct{}{}
			out[i].Genes = append(out[i].Genes, gene)
		}
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("no gene sets found")
	}

	return out, nil
}

// ReadSetsFile opens path (plain or compressed, local or gs://) and parses
// it with the named layout. Sets from layouts without a set column are named
// after the file.
func ReadSetsFile(path, layout string) ([]Set, error) {
	parser, err := New(layout)
	if err != nil {
		return nil, err
	}

	f, err := coldshock.OpenDecompressed(path)
	if err != nil {
		return nil, pfx.Err(err)
	}
	defer f.Close()

	return ReadSets(f, parser, setNameFromPath(path))
}

func setNameFromPath(path string) string {
	name := filepath.Base(path)
	name = strings.TrimSuffix(name, ".gz")
	return strings.TrimSuffix(name, filepath.Ext(name))
}
