package coldshock

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDetectCompression(t *testing.T) {
	var gzBuf bytes.Buffer
	gw := gzip.NewWriter(&gzBuf)
	if _, err := gw.Write([]byte("barcode-1\nbarcode-2\n")); err != nil {
		t.Fatal(err)
	}
	gw.Close()

	for _, v := range []struct {
		name string
		data []byte
		want Compression
	}{
		{"gzip", gzBuf.Bytes(), CompressionGzip},
		{"plain", []byte("%%MatrixMarket matrix coordinate integer general\n"), CompressionNone},
		{"xz", []byte{0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00, 0x01, 0x02}, CompressionXZ},
		{"zip", []byte{0x50, 0x4b, 0x03, 0x04, 0x0a, 0x00}, CompressionZip},
		{"compress-z", []byte{0x1f, 0x9d, 0x90, 0x4d}, CompressionZ},
		{"bzip2", []byte{0x42, 0x5a, 0x68, 0x39}, CompressionBzip2},
		{"starts-with-x", []byte("xist\tgene\n"), CompressionNone},
	} {
		got, err := DetectCompression(bufio.NewReader(bytes.NewReader(v.data)))
		if err != nil {
			t.Fatalf("%s: %v", v.name, err)
		}
		if got != v.want {
			t.Errorf("%s: detected %v, want %v", v.name, got, v.want)
		}
	}
}

func TestNewDecompressedReaderRoundTrip(t *testing.T) {
	const payload = "AAACCCAAGAAACACT-1\nAAACCCAAGAAACCAT-1\n"

	var gzBuf bytes.Buffer
	gw := gzip.NewWriter(&gzBuf)
	io.WriteString(gw, payload)
	gw.Close()

	for _, v := range []struct {
		name string
		data []byte
	}{
		{"plain", []byte(payload)},
		{"gzip", gzBuf.Bytes()},
	} {
		rc, err := NewDecompressedReader(io.NopCloser(bytes.NewReader(v.data)))
		if err != nil {
			t.Fatalf("%s: %v", v.name, err)
		}
		out, err := io.ReadAll(rc)
		if err != nil {
			t.Fatalf("%s: %v", v.name, err)
		}
		rc.Close()
		if string(out) != payload {
			t.Errorf("%s: got %q, want %q", v.name, out, payload)
		}
	}
}

func TestOpenDecompressedFallsBackToGz(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "barcodes.tsv")

	f, err := os.Create(path + ".gz")
	if err != nil {
		t.Fatal(err)
	}
	gw := gzip.NewWriter(f)
	io.WriteString(gw, "CELL-1\n")
	gw.Close()
	f.Close()

	// Ask for the uncompressed name; only the .gz variant exists.
	rc, err := OpenDecompressed(path)
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()

	out, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "CELL-1\n" {
		t.Errorf("got %q", out)
	}
}

func TestDetermineDelimiter(t *testing.T) {
	for _, v := range []struct {
		data string
		want rune
	}{
		{"sample,donor,condition\npbmc_0h,D1,0h\npbmc_8h,D1,8h_RT\n", ','},
		{"sample\tdonor\tcondition\npbmc_0h\tD1\t0h\npbmc_8h\tD1\t8h_RT\n", '\t'},
	} {
		if got := DetermineDelimiter(strings.NewReader(v.data)); got != v.want {
			t.Errorf("got %q, want %q", got, v.want)
		}
	}
}

func TestChecksumStable(t *testing.T) {
	a, err := Checksum(strings.NewReader("matrix"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := Checksum(strings.NewReader("matrix"))
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("checksum not stable: %s vs %s", a, b)
	}
	if len(a) != 128 {
		t.Errorf("expected 512-bit hex digest, got %d chars", len(a))
	}

	c, _ := Checksum(strings.NewReader("matrix2"))
	if c == a {
		t.Error("different content produced identical checksum")
	}
}

func TestJoinPath(t *testing.T) {
	if got := JoinPath("gs://bucket/study", "pbmc_0h", "matrix.mtx"); got != "gs://bucket/study/pbmc_0h/matrix.mtx" {
		t.Errorf("gs join: %s", got)
	}
	if got := JoinPath("/data/study", "pbmc_0h"); got != filepath.Join("/data/study", "pbmc_0h") {
		t.Errorf("local join: %s", got)
	}
}
