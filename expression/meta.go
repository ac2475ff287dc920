package expression

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/carbocation/pfx"
)

// ColumnKind tags a metadata column so bundles can round-trip types through
// CSV without guessing.
type ColumnKind string

const (
	KindString ColumnKind = "string"
	KindFloat  ColumnKind = "float"
)

// Well-known per-cell metadata columns. Analysis steps add their outputs to
// the cell table under these names so downstream tools can find them.
const (
	ColSample       = "sample"
	ColDonor        = "donor"
	ColCondition    = "condition"
	ColTotalCounts  = "total_counts"
	ColNGenes       = "n_genes"
	ColPctMito      = "pct_mito"
	ColPctRibo      = "pct_ribo"
	ColQCPass       = "qc_pass"
	ColQCFlags      = "qc_flags"
	ColCluster      = "cluster"
	ColCellType     = "cell_type"
	ColDoubletScore = "doublet_score"
	ColDoubletCall  = "doublet_call"
)

// Well-known per-gene metadata columns.
const (
	ColGeneMean   = "mean"
	ColGeneVar    = "variance"
	ColGeneVarStd = "variance_standardized"
	ColGeneHVG    = "highly_variable"
	ColGeneNCells = "n_cells"
)

// MetaTable is a small column store keyed by name. Every column has exactly
// one row per axis element (cell or gene).
type MetaTable struct {
	n       int
	order   []string
	strings map[string][]string
	floats  map[string][]float64
}

func NewMetaTable(n int) *MetaTable {
	return &MetaTable{
		n:       n,
		strings: make(map[string][]string),
		floats:  make(map[string][]float64),
	}
}

func (t *MetaTable) Len() int { return t.n }

// Names returns the column names in insertion order.
func (t *MetaTable) Names() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)

	return out
}

func (t *MetaTable) Kind(name string) (ColumnKind, bool) {
	if _, ok := t.strings[name]; ok {
		return KindString, true
	}
	if _, ok := t.floats[name]; ok {
		return KindFloat, true
	}

	return "", false
}

func (t *MetaTable) noteColumn(name string) {
	for _, existing := range t.order {
		if existing == name {
			return
		}
	}
	t.order = append(t.order, name)
}

// SetStrings installs or replaces a string column.
func (t *MetaTable) SetStrings(name string, vals []string) error {
	if len(vals) != t.n {
		return fmt.Errorf("column %s: %d values for %d rows", name, len(vals), t.n)
	}
	delete(t.floats, name)
	t.strings[name] = vals
	t.noteColumn(name)

	return nil
}

// SetFloats installs or replaces a float column.
func (t *MetaTable) SetFloats(name string, vals []float64) error {
	if len(vals) != t.n {
		return fmt.Errorf("column %s: %d values for %d rows", name, len(vals), t.n)
	}
	delete(t.strings, name)
	t.floats[name] = vals
	t.noteColumn(name)

	return nil
}

func (t *MetaTable) Strings(name string) ([]string, bool) {
	v, ok := t.strings[name]

	return v, ok
}

func (t *MetaTable) Floats(name string) ([]float64, bool) {
	v, ok := t.floats[name]

	return v, ok
}

// Subset returns a new table holding only the rows where keep is true.
func (t *MetaTable) Subset(keep []bool) (*MetaTable, error) {
	if len(keep) != t.n {
		return nil, fmt.Errorf("keep mask has %d entries for %d rows", len(keep), t.n)
	}

	n := 0
	for _, k := range keep {
		if k {
			n++
		}
	}

	out := NewMetaTable(n)
	for _, name := range t.order {
		if col, ok := t.strings[name]; ok {
			sub := make([]string, 0, n)
			for i, k := range keep {
				if k {
					sub = append(sub, col[i])
				}
			}
			if err := out.SetStrings(name, sub); err != nil {
				return nil, err
			}
			continue
		}
		col := t.floats[name]
		sub := make([]float64, 0, n)
		for i, k := range keep {
			if k {
				sub = append(sub, col[i])
			}
		}
		if err := out.SetFloats(name, sub); err != nil {
			return nil, err
		}
	}

	return out, nil
}

// WriteCSV renders the table with one header row and one row per element.
// Floats use the shortest representation that round-trips.
func (t *MetaTable) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.order); err != nil {
		return pfx.Err(err)
	}

	row := make([]string, len(t.order))
	for i := 0; i < t.n; i++ {
		for j, name := range t.order {
			if col, ok := t.strings[name]; ok {
				row[j] = col[i]
				continue
			}
			row[j] = strconv.FormatFloat(t.floats[name][i], 'g', -1, 64)
		}
		if err := cw.Write(row); err != nil {
			return pfx.Err(err)
		}
	}
	cw.Flush()

	return pfx.Err(cw.Error())
}

// ReadMetaCSV parses a table written by WriteCSV. kinds assigns a type to
// each column; unnamed columns are read as strings.
func ReadMetaCSV(r io.Reader, kinds map[string]ColumnKind) (*MetaTable, error) {
	cr := csv.NewReader(r)
	records, err := cr.ReadAll()
	if err != nil {
		return nil, pfx.Err(err)
	}
	if len(records) < 1 {
		return nil, fmt.Errorf("metadata CSV has no header row")
	}

	header := records[0]
	rows := records[1:]
	out := NewMetaTable(len(rows))
	for j, name := range header {
		if kinds[name] == KindFloat {
			col := make([]float64, len(rows))
			for i, rec := range rows {
				v, err := strconv.ParseFloat(rec[j], 64)
				if err != nil {
					return nil, fmt.Errorf("column %s row %d: %w", name, i+1, err)
				}
				col[i] = v
			}
			if err := out.SetFloats(name, col); err != nil {
				return nil, err
			}
			continue
		}
		col := make([]string, len(rows))
		for i, rec := range rows {
			col[i] = rec[j]
		}
		if err := out.SetStrings(name, col); err != nil {
			return nil, err
		}
	}

	return out, nil
}
