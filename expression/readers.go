package expression

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	coldshock "github.com/massonix/sc-cold-shock-artifacts"
)

// Columns of a 10x features.tsv.
const (
	featureID int = iota
	featureName
	featureType
)

// FeatureTypeGene is the library type of ordinary gene expression rows.
const FeatureTypeGene = "Gene Expression"

// Features streams rows of a features.tsv, which may be gzipped.
type Features struct {
	rc      io.ReadCloser
	scanner *bufio.Scanner
	err     error
	nCols   int
	lineNo  int
}

func OpenFeatures(path string) (*Features, error) {
	rc, err := coldshock.OpenDecompressed(path)
	if err != nil {
		return nil, err
	}

	return &Features{rc: rc, scanner: bufio.NewScanner(rc)}, nil
}

func (f *Features) Close() error {
	return f.rc.Close()
}

func (f *Features) Err() error {
	if f.err != nil {
		return f.err
	}

	return f.scanner.Err()
}

// Read returns the next feature, or nil at end of input or on error. Files
// from older references carry only two columns; the type then defaults to
// gene expression.
func (f *Features) Read() *Feature {
	if f.err != nil || !f.scanner.Scan() {
		return nil
	}
	f.lineNo++

	cols := strings.Split(f.scanner.Text(), "\t")
	if len(cols) < featureName+1 {
		f.err = fmt.Errorf("features line %d: %d columns, want at least 2", f.lineNo, len(cols))
		return nil
	}
	if f.nCols == 0 {
		f.nCols = len(cols)
	} else if len(cols) != f.nCols {
		f.err = fmt.Errorf("features line %d: %d columns, earlier lines had %d", f.lineNo, len(cols), f.nCols)
		return nil
	}

	row := &Feature{
		ID:   cols[featureID],
		Name: cols[featureName],
		Type: FeatureTypeGene,
	}
	if len(cols) > featureType {
		row.Type = cols[featureType]
	}

	return row
}

// ReadAllFeatures slurps a features.tsv into memory.
func ReadAllFeatures(path string) ([]Feature, error) {
	f, err := OpenFeatures(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Feature
	for row := f.Read(); row != nil; row = f.Read() {
		out = append(out, *row)
	}
	if err := f.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

// Barcodes streams rows of a barcodes.tsv, which may be gzipped.
type Barcodes struct {
	rc      io.ReadCloser
	scanner *bufio.Scanner
	err     error
}

func OpenBarcodes(path string) (*Barcodes, error) {
	rc, err := coldshock.OpenDecompressed(path)
	if err != nil {
		return nil, err
	}

	return &Barcodes{rc: rc, scanner: bufio.NewScanner(rc)}, nil
}

func (b *Barcodes) Close() error {
	return b.rc.Close()
}

func (b *Barcodes) Err() error {
	if b.err != nil {
		return b.err
	}

	return b.scanner.Err()
}

// Read returns the next barcode, or the empty string at end of input.
func (b *Barcodes) Read() string {
	if b.err != nil || !b.scanner.Scan() {
		return ""
	}

	// cellranger suffixes barcodes with a GEM well like "-1"; the suffix is
	// kept because merged studies rely on it to stay unique.
	return strings.TrimSpace(b.scanner.Text())
}

// ReadAllBarcodes slurps a barcodes.tsv into memory.
func ReadAllBarcodes(path string) ([]string, error) {
	b, err := OpenBarcodes(path)
	if err != nil {
		return nil, err
	}
	defer b.Close()

	var out []string
	for bc := b.Read(); bc != ""; bc = b.Read() {
		out = append(out, bc)
	}
	if err := b.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

// ReadMatrixDir loads a cellranger-style triple (matrix.mtx, barcodes.tsv,
// features.tsv, any of which may be gzipped) from one directory.
func ReadMatrixDir(dir string) (*Dataset, error) {
	mtxPath := coldshock.JoinPath(dir, "matrix.mtx")
	rc, err := coldshock.OpenDecompressed(mtxPath)
	if err != nil {
		return nil, err
	}
	counts, err := ReadMTX(rc)
	rc.Close()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", mtxPath, err)
	}

	barcodes, err := ReadAllBarcodes(coldshock.JoinPath(dir, "barcodes.tsv"))
	if err != nil {
		return nil, err
	}

	features, err := ReadAllFeatures(coldshock.JoinPath(dir, "features.tsv"))
	if err != nil {
		// Older cellranger releases name this file genes.tsv.
		var err2 error
		features, err2 = ReadAllFeatures(coldshock.JoinPath(dir, "genes.tsv"))
		if err2 != nil {
			return nil, err
		}
	}

	return NewDataset(counts, barcodes, features)
}
