package expression

import (
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"
)

func testDataset(t *testing.T) *Dataset {
	t.Helper()

	d, err := NewDataset(testMatrix(t),
		[]string{"AAAC-1", "AAAG-1", "AATC-1"},
		[]Feature{
			{ID: "ENSG01", Name: "CD3D", Type: FeatureTypeGene},
			{ID: "ENSG02", Name: "MS4A1", Type: FeatureTypeGene},
			{ID: "ENSG03", Name: "NKG7", Type: FeatureTypeGene},
			{ID: "ENSG04", Name: "LYZ", Type: FeatureTypeGene},
		})
	if err != nil {
		t.Fatalf("NewDataset: %v", err)
	}

	d.Cells.SetStrings(ColSample, []string{"p1_0h", "p1_0h", "p1_8h"})
	d.Cells.SetFloats(ColPctMito, []float64{2.5, 7.75, 1})
	d.GeneMeta.SetFloats(ColGeneMean, []float64{2.1, 0.5, 1.4, 1.9})

	d.Embeddings["tsne"] = &Embedding{
		Name:   "tsne",
		Coords: [][]float64{{1.5, -2}, {0, 3.25}, {-4, 0.5}},
	}
	d.PCA = &PCAModel{
		GeneIdx:           []int{0, 2},
		Mean:              []float64{1.2, 0.8},
		Scale:             []float64{0.9, 1.1},
		Components:        [][]float64{{0.6, -0.8}, {0.8, 0.6}},
		VarianceExplained: []float64{0.7, 0.3},
	}

	return d
}

func TestDatasetSelect(t *testing.T) {
	d := testDataset(t)

	sub, err := d.SelectCells([]bool{true, false, true})
	if err != nil {
		t.Fatalf("SelectCells: %v", err)
	}
	if sub.NCells() != 2 {
		t.Fatalf("got %d cells, want 2", sub.NCells())
	}
	if sub.Barcodes[1] != "AATC-1" {
		t.Errorf("barcodes not subset: %v", sub.Barcodes)
	}
	if sub.PCA == nil {
		t.Error("cell selection must keep the fitted model")
	}
	emb := sub.Embeddings["tsne"]
	if len(emb.Coords) != 2 || emb.Coords[1][0] != -4 {
		t.Errorf("embedding not subset alongside cells: %+v", emb.Coords)
	}

	subG, err := d.SelectGenes([]bool{true, true, false, true})
	if err != nil {
		t.Fatalf("SelectGenes: %v", err)
	}
	if subG.NGenes() != 3 {
		t.Fatalf("got %d genes, want 3", subG.NGenes())
	}
	if subG.Features[2].Name != "LYZ" {
		t.Errorf("features not subset: %+v", subG.Features)
	}
	if subG.PCA != nil {
		t.Error("gene selection must drop the fitted model")
	}
	if _, ok := subG.FeatureIndexByName("NKG7"); ok {
		t.Error("dropped gene still findable by name")
	}
}

func TestBundleRoundTrip(t *testing.T) {
	d := testDataset(t)
	dir := filepath.Join(t.TempDir(), "bundle")

	if err := WriteBundle(dir, d, "pbmc", "unittest"); err != nil {
		t.Fatalf("WriteBundle: %v", err)
	}

	back, manifest, err := OpenBundle(dir)
	if err != nil {
		t.Fatalf("OpenBundle: %v", err)
	}

	if manifest.Study != "pbmc" || manifest.Tool != "unittest" {
		t.Errorf("manifest provenance: got %q/%q", manifest.Study, manifest.Tool)
	}
	if manifest.NCells != 3 || manifest.NGenes != 4 {
		t.Errorf("manifest shape: got %d x %d", manifest.NCells, manifest.NGenes)
	}

	if back.NCells() != d.NCells() || back.NGenes() != d.NGenes() {
		t.Fatalf("shape changed: %d x %d vs %d x %d", back.NCells(), back.NGenes(), d.NCells(), d.NGenes())
	}
	for c := 0; c < d.NCells(); c++ {
		for g := 0; g < d.NGenes(); g++ {
			if back.Counts.At(c, g) != d.Counts.At(c, g) {
				t.Errorf("count at (%d, %d): got %v, want %v", c, g, back.Counts.At(c, g), d.Counts.At(c, g))
			}
		}
	}
	for i := range d.Barcodes {
		if back.Barcodes[i] != d.Barcodes[i] {
			t.Errorf("barcode %d: got %q, want %q", i, back.Barcodes[i], d.Barcodes[i])
		}
	}
	if back.Features[3].Name != "LYZ" || back.Features[0].ID != "ENSG01" {
		t.Errorf("features changed: %+v", back.Features)
	}

	mito, ok := back.Cells.Floats(ColPctMito)
	if !ok || mito[1] != 7.75 {
		t.Errorf("cell float column: got %v, %v", mito, ok)
	}
	samples, ok := back.Cells.Strings(ColSample)
	if !ok || samples[2] != "p1_8h" {
		t.Errorf("cell string column: got %v, %v", samples, ok)
	}
	means, ok := back.GeneMeta.Floats(ColGeneMean)
	if !ok || means[0] != 2.1 {
		t.Errorf("gene float column: got %v, %v", means, ok)
	}

	emb, ok := back.Embeddings["tsne"]
	if !ok {
		t.Fatal("embedding missing after round trip")
	}
	if emb.Dim() != 2 || emb.Coords[1][1] != 3.25 {
		t.Errorf("embedding coords: %+v", emb.Coords)
	}

	if back.PCA == nil {
		t.Fatal("model missing after round trip")
	}
	if back.PCA.NPCs() != 2 || back.PCA.GeneIdx[1] != 2 || back.PCA.Components[0][1] != -0.8 {
		t.Errorf("model changed: %+v", back.PCA)
	}
	if len(back.PCA.VarianceExplained) != 2 || back.PCA.VarianceExplained[0] != 0.7 {
		t.Errorf("model variance: %v", back.PCA.VarianceExplained)
	}

	if err := manifest.Verify(dir); err != nil {
		t.Errorf("Verify on pristine bundle: %v", err)
	}
}

func TestBundleVerifyDetectsTampering(t *testing.T) {
	d := testDataset(t)
	dir := filepath.Join(t.TempDir(), "bundle")

	if err := WriteBundle(dir, d, "pbmc", "unittest"); err != nil {
		t.Fatalf("WriteBundle: %v", err)
	}
	manifest, err := ReadManifest(dir)
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "cells.csv"), []byte("sample\nedited\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := manifest.Verify(dir); err == nil {
		t.Error("Verify must fail after a member is rewritten")
	}
}

func TestReadMatrixDir(t *testing.T) {
	dir := t.TempDir()

	mtx := "%%MatrixMarket matrix coordinate integer general\n2 2 2\n1 1 4\n2 2 6\n"
	f, err := os.Create(filepath.Join(dir, "matrix.mtx.gz"))
	if err != nil {
		t.Fatal(err)
	}
	gz := gzip.NewWriter(f)
	if _, err := gz.Write([]byte(mtx)); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(dir, "barcodes.tsv"), []byte("AAAC-1\nAAAG-1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "features.tsv"), []byte("ENSG01\tCD3D\tGene Expression\nENSG02\tLYZ\tGene Expression\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	d, err := ReadMatrixDir(dir)
	if err != nil {
		t.Fatalf("ReadMatrixDir: %v", err)
	}
	if d.NCells() != 2 || d.NGenes() != 2 {
		t.Fatalf("got %d x %d, want 2 x 2", d.NCells(), d.NGenes())
	}
	if d.Counts.At(1, 1) != 6 {
		t.Errorf("At(1, 1): got %v, want 6", d.Counts.At(1, 1))
	}
	if d.Features[1].Name != "LYZ" {
		t.Errorf("features: %+v", d.Features)
	}
	if d.Barcodes[0] != "AAAC-1" {
		t.Errorf("barcodes: %v", d.Barcodes)
	}
}

func TestReadMatrixDirGenesFallback(t *testing.T) {
	dir := t.TempDir()

	mtx := "%%MatrixMarket matrix coordinate integer general\n1 1 1\n1 1 3\n"
	if err := os.WriteFile(filepath.Join(dir, "matrix.mtx"), []byte(mtx), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "barcodes.tsv"), []byte("AAAC-1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	// Two-column genes.tsv from an older pipeline release.
	if err := os.WriteFile(filepath.Join(dir, "genes.tsv"), []byte("ENSG01\tCD3D\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	d, err := ReadMatrixDir(dir)
	if err != nil {
		t.Fatalf("ReadMatrixDir: %v", err)
	}
	if d.Features[0].Type != FeatureTypeGene {
		t.Errorf("two-column rows default to %q, got %q", FeatureTypeGene, d.Features[0].Type)
	}
}
