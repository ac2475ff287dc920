package expression

import (
	"compress/gzip"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/carbocation/pfx"
	coldshock "github.com/massonix/sc-cold-shock-artifacts"
	"github.com/massonix/sc-cold-shock-artifacts/sessioninfo"
)

// ManifestName is the file that makes a directory a bundle.
const ManifestName = "bundle.json"

// Member names inside a manifest.
const (
	MemberMatrix   = "matrix"
	MemberBarcodes = "barcodes"
	MemberFeatures = "features"
	MemberCells    = "cells"
	MemberGenes    = "genes"
	MemberPCA      = "pca_model"

	memberEmbeddingPrefix = "embedding:"
)

// Member records where one bundle component lives and what its bytes hashed
// to when written.
type Member struct {
	File     string `json:"file"`
	Checksum string `json:"checksum"`
}

// Manifest describes a bundle directory: which files belong to it, how the
// metadata columns are typed, and which tool produced it.
type Manifest struct {
	Study     string    `json:"study"`
	Tool      string    `json:"tool"`
	CreatedAt time.Time `json:"created_at"`
	NCells    int       `json:"n_cells"`
	NGenes    int       `json:"n_genes"`

	CellColumns map[string]ColumnKind `json:"cell_columns"`
	GeneColumns map[string]ColumnKind `json:"gene_columns"`

	// PCAVariance is the per-component variance fraction of any stored model.
	PCAVariance []float64 `json:"pca_variance,omitempty"`

	Members map[string]Member `json:"members"`

	// Session records the build that wrote the bundle.
	Session string `json:"session"`
}

// EmbeddingNames lists the embeddings stored in the bundle, sorted.
func (m *Manifest) EmbeddingNames() []string {
	var out []string
	for key := range m.Members {
		if len(key) > len(memberEmbeddingPrefix) && key[:len(memberEmbeddingPrefix)] == memberEmbeddingPrefix {
			out = append(out, key[len(memberEmbeddingPrefix):])
		}
	}
	sort.Strings(out)

	return out
}

func columnKinds(t *MetaTable) map[string]ColumnKind {
	out := make(map[string]ColumnKind)
	if t == nil {
		return out
	}
	for _, name := range t.Names() {
		kind, _ := t.Kind(name)
		out[name] = kind
	}

	return out
}

func writeMember(dir, file string, gz bool, render func(io.Writer) error) (Member, error) {
	path := filepath.Join(dir, file)
	f, err := os.Create(path)
	if err != nil {
		return Member{}, pfx.Err(err)
	}

	var w io.Writer = f
	var gzw *gzip.Writer
	if gz {
		gzw = gzip.NewWriter(f)
		w = gzw
	}
	if err := render(w); err != nil {
		f.Close()
		return Member{}, err
	}
	if gzw != nil {
		if err := gzw.Close(); err != nil {
			f.Close()
			return Member{}, pfx.Err(err)
		}
	}
	if err := f.Close(); err != nil {
		return Member{}, pfx.Err(err)
	}

	sum, err := coldshock.ChecksumFile(path)
	if err != nil {
		return Member{}, err
	}

	return Member{File: file, Checksum: sum}, nil
}

// WriteBundle persists the dataset under dir, one file per component plus a
// bundle.json manifest. The matrix and its axes are gzipped; the metadata
// tables stay plain CSV so they can be eyeballed.
func WriteBundle(dir string, d *Dataset, study, tool string) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return pfx.Err(err)
	}

	manifest := &Manifest{
		Study:       study,
		Tool:        tool,
		CreatedAt:   time.Now().UTC(),
		NCells:      d.NCells(),
		NGenes:      d.NGenes(),
		CellColumns: columnKinds(d.Cells),
		GeneColumns: columnKinds(d.GeneMeta),
		Members:     make(map[string]Member),
		Session:     sessioninfo.Get().String(),
	}

	var err error
	if manifest.Members[MemberMatrix], err = writeMember(dir, "matrix.mtx.gz", true, func(w io.Writer) error {
		return WriteMTX(w, d.Counts)
	}); err != nil {
		return err
	}

	if manifest.Members[MemberBarcodes], err = writeMember(dir, "barcodes.tsv.gz", true, func(w io.Writer) error {
		for _, bc := range d.Barcodes {
			if _, err := fmt.Fprintln(w, bc); err != nil {
				return pfx.Err(err)
			}
		}
		return nil
	}); err != nil {
		return err
	}

	if manifest.Members[MemberFeatures], err = writeMember(dir, "features.tsv.gz", true, func(w io.Writer) error {
		for _, f := range d.Features {
			if _, err := fmt.Fprintf(w, "%s\t%s\t%s\n", f.ID, f.Name, f.Type); err != nil {
				return pfx.Err(err)
			}
		}
		return nil
	}); err != nil {
		return err
	}

	if d.Cells != nil {
		if manifest.Members[MemberCells], err = writeMember(dir, "cells.csv", false, d.Cells.WriteCSV); err != nil {
			return err
		}
	}
	if d.GeneMeta != nil {
		if manifest.Members[MemberGenes], err = writeMember(dir, "genes.csv", false, d.GeneMeta.WriteCSV); err != nil {
			return err
		}
	}

	for name, emb := range d.Embeddings {
		file := "embedding_" + name + ".csv"
		if manifest.Members[memberEmbeddingPrefix+name], err = writeMember(dir, file, false, func(w io.Writer) error {
			return writeEmbeddingCSV(w, emb)
		}); err != nil {
			return err
		}
	}

	if d.PCA != nil {
		manifest.PCAVariance = d.PCA.VarianceExplained
		if manifest.Members[MemberPCA], err = writeMember(dir, "pca_model.csv", false, func(w io.Writer) error {
			return writePCAModelCSV(w, d.PCA)
		}); err != nil {
			return err
		}
	}

	f, err := os.Create(filepath.Join(dir, ManifestName))
	if err != nil {
		return pfx.Err(err)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(manifest); err != nil {
		f.Close()
		return pfx.Err(err)
	}

	return pfx.Err(f.Close())
}

// ReadManifest fetches and parses just the manifest of a bundle, local or
// on Google Storage.
func ReadManifest(dir string) (*Manifest, error) {
	rc, err := coldshock.Open(coldshock.JoinPath(dir, ManifestName))
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	manifest := &Manifest{}
	if err := json.NewDecoder(rc).Decode(manifest); err != nil {
		return nil, pfx.Err(err)
	}

	return manifest, nil
}

// OpenBundle loads a full dataset back from a bundle directory.
func OpenBundle(dir string) (*Dataset, *Manifest, error) {
	manifest, err := ReadManifest(dir)
	if err != nil {
		return nil, nil, err
	}

	openMember := func(key string) (io.ReadCloser, error) {
		member, ok := manifest.Members[key]
		if !ok {
			return nil, fmt.Errorf("bundle %s has no %s member", dir, key)
		}

		return coldshock.OpenDecompressed(coldshock.JoinPath(dir, member.File))
	}

	rc, err := openMember(MemberMatrix)
	if err != nil {
		return nil, nil, err
	}
	counts, err := ReadMTX(rc)
	rc.Close()
	if err != nil {
		return nil, nil, err
	}

	d := &Dataset{
		Counts:     counts,
		Embeddings: make(map[string]*Embedding),
	}

	member, ok := manifest.Members[MemberBarcodes]
	if !ok {
		return nil, nil, fmt.Errorf("bundle %s has no %s member", dir, MemberBarcodes)
	}
	if d.Barcodes, err = ReadAllBarcodes(coldshock.JoinPath(dir, member.File)); err != nil {
		return nil, nil, err
	}

	member, ok = manifest.Members[MemberFeatures]
	if !ok {
		return nil, nil, fmt.Errorf("bundle %s has no %s member", dir, MemberFeatures)
	}
	if d.Features, err = ReadAllFeatures(coldshock.JoinPath(dir, member.File)); err != nil {
		return nil, nil, err
	}

	if _, ok := manifest.Members[MemberCells]; ok {
		rc, err := openMember(MemberCells)
		if err != nil {
			return nil, nil, err
		}
		d.Cells, err = ReadMetaCSV(rc, manifest.CellColumns)
		rc.Close()
		if err != nil {
			return nil, nil, err
		}
	} else {
		d.Cells = NewMetaTable(counts.NCells())
	}

	if _, ok := manifest.Members[MemberGenes]; ok {
		rc, err := openMember(MemberGenes)
		if err != nil {
			return nil, nil, err
		}
		d.GeneMeta, err = ReadMetaCSV(rc, manifest.GeneColumns)
		rc.Close()
		if err != nil {
			return nil, nil, err
		}
	} else {
		d.GeneMeta = NewMetaTable(counts.NGenes())
	}

	for _, name := range manifest.EmbeddingNames() {
		rc, err := openMember(memberEmbeddingPrefix + name)
		if err != nil {
			return nil, nil, err
		}
		emb, err := readEmbeddingCSV(rc, name)
		rc.Close()
		if err != nil {
			return nil, nil, err
		}
		d.Embeddings[name] = emb
	}

	if _, ok := manifest.Members[MemberPCA]; ok {
		rc, err := openMember(MemberPCA)
		if err != nil {
			return nil, nil, err
		}
		d.PCA, err = readPCAModelCSV(rc)
		rc.Close()
		if err != nil {
			return nil, nil, err
		}
		d.PCA.VarianceExplained = manifest.PCAVariance
	}

	if err := d.Validate(); err != nil {
		return nil, nil, fmt.Errorf("bundle %s: %w", dir, err)
	}

	return d, manifest, nil
}

// Verify re-hashes every member on disk against the manifest. A mismatch
// means the bundle was modified after it was written.
func (m *Manifest) Verify(dir string) error {
	keys := make([]string, 0, len(m.Members))
	for key := range m.Members {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		member := m.Members[key]
		sum, err := coldshock.ChecksumFile(coldshock.JoinPath(dir, member.File))
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if sum != member.Checksum {
			return fmt.Errorf("%s (%s): checksum mismatch", key, member.File)
		}
	}

	return nil
}

func writeEmbeddingCSV(w io.Writer, emb *Embedding) error {
	cw := csv.NewWriter(w)

	header := make([]string, emb.Dim())
	for j := range header {
		header[j] = fmt.Sprintf("%s_%d", emb.Name, j+1)
	}
	if err := cw.Write(header); err != nil {
		return pfx.Err(err)
	}

	row := make([]string, emb.Dim())
	for _, coords := range emb.Coords {
		for j, v := range coords {
			row[j] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if err := cw.Write(row); err != nil {
			return pfx.Err(err)
		}
	}
	cw.Flush()

	return pfx.Err(cw.Error())
}

func readEmbeddingCSV(r io.Reader, name string) (*Embedding, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, pfx.Err(err)
	}
	if len(records) < 1 {
		return nil, fmt.Errorf("embedding %s: no header row", name)
	}

	emb := &Embedding{Name: name, Coords: make([][]float64, 0, len(records)-1)}
	for i, rec := range records[1:] {
		coords := make([]float64, len(rec))
		for j, field := range rec {
			if coords[j], err = strconv.ParseFloat(field, 64); err != nil {
				return nil, fmt.Errorf("embedding %s row %d: %w", name, i+1, err)
			}
		}
		emb.Coords = append(emb.Coords, coords)
	}

	return emb, nil
}

func writePCAModelCSV(w io.Writer, p *PCAModel) error {
	cw := csv.NewWriter(w)

	header := make([]string, 3+p.NPCs())
	header[0] = "gene_index"
	header[1] = "mean"
	header[2] = "scale"
	for j := 0; j < p.NPCs(); j++ {
		header[3+j] = fmt.Sprintf("pc%d", j+1)
	}
	if err := cw.Write(header); err != nil {
		return pfx.Err(err)
	}

	row := make([]string, len(header))
	for i, g := range p.GeneIdx {
		row[0] = strconv.Itoa(g)
		row[1] = strconv.FormatFloat(p.Mean[i], 'g', -1, 64)
		row[2] = strconv.FormatFloat(p.Scale[i], 'g', -1, 64)
		for j, v := range p.Components[i] {
			row[3+j] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if err := cw.Write(row); err != nil {
			return pfx.Err(err)
		}
	}
	cw.Flush()

	return pfx.Err(cw.Error())
}

func readPCAModelCSV(r io.Reader) (*PCAModel, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, pfx.Err(err)
	}
	if len(records) < 1 {
		return nil, fmt.Errorf("model CSV has no header row")
	}
	nPCs := len(records[0]) - 3
	if nPCs < 1 {
		return nil, fmt.Errorf("model CSV header has %d columns, want at least 4", len(records[0]))
	}

	p := &PCAModel{}
	for i, rec := range records[1:] {
		if len(rec) != nPCs+3 {
			return nil, fmt.Errorf("model CSV row %d: %d columns, want %d", i+1, len(rec), nPCs+3)
		}
		g, err := strconv.Atoi(rec[0])
		if err != nil {
			return nil, fmt.Errorf("model CSV row %d: %w", i+1, err)
		}
		mean, err := strconv.ParseFloat(rec[1], 64)
		if err != nil {
			return nil, fmt.Errorf("model CSV row %d: %w", i+1, err)
		}
		scale, err := strconv.ParseFloat(rec[2], 64)
		if err != nil {
			return nil, fmt.Errorf("model CSV row %d: %w", i+1, err)
		}
		comps := make([]float64, nPCs)
		for j := 0; j < nPCs; j++ {
			if comps[j], err = strconv.ParseFloat(rec[3+j], 64); err != nil {
				return nil, fmt.Errorf("model CSV row %d: %w", i+1, err)
			}
		}
		p.GeneIdx = append(p.GeneIdx, g)
		p.Mean = append(p.Mean, mean)
		p.Scale = append(p.Scale, scale)
		p.Components = append(p.Components, comps)
	}

	return p, nil
}
