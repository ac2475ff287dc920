package expression

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/carbocation/pfx"
)

const mtxBanner = "%%MatrixMarket"

// ReadMTX parses a MatrixMarket coordinate file as written by cellranger:
// genes are rows, cells are columns, indices are 1-based.
func ReadMTX(r io.Reader) (*Matrix, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	if !scanner.Scan() {
		return nil, fmt.Errorf("empty matrix file: %w", scanner.Err())
	}
	banner := strings.Fields(scanner.Text())
	if len(banner) < 5 || banner[0] != mtxBanner {
		return nil, fmt.Errorf("not a MatrixMarket file (header %q)", scanner.Text())
	}
	if banner[1] != "matrix" || banner[2] != "coordinate" {
		return nil, fmt.Errorf("unsupported MatrixMarket layout %q, want coordinate matrix", scanner.Text())
	}
	if banner[3] != "integer" && banner[3] != "real" {
		return nil, fmt.Errorf("unsupported MatrixMarket field %q, want integer or real", banner[3])
	}
	if banner[4] != "general" {
		return nil, fmt.Errorf("unsupported MatrixMarket symmetry %q, want general", banner[4])
	}

	var nGenes, nCells, nnz int
	sawSize := false
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "%") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, fmt.Errorf("malformed size line %q", line)
		}
		var err error
		if nGenes, err = strconv.Atoi(fields[0]); err != nil {
			return nil, pfx.Err(err)
		}
		if nCells, err = strconv.Atoi(fields[1]); err != nil {
			return nil, pfx.Err(err)
		}
		if nnz, err = strconv.Atoi(fields[2]); err != nil {
			return nil, pfx.Err(err)
		}
		sawSize = true
		break
	}
	if !sawSize {
		return nil, fmt.Errorf("matrix file ends before its size line: %w", scanner.Err())
	}

	cells := make([]int32, 0, nnz)
	genes := make([]int32, 0, nnz)
	vals := make([]float64, 0, nnz)
	lineNum := 0
	for scanner.Scan() {
		line := scanner.Text()
		lineNum++
		if line == "" || strings.HasPrefix(line, "%") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, fmt.Errorf("entry %d: malformed line %q", lineNum, line)
		}
		g, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", lineNum, err)
		}
		c, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", lineNum, err)
		}
		v, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", lineNum, err)
		}
		if g < 1 || g > nGenes || c < 1 || c > nCells {
			return nil, fmt.Errorf("entry %d: index (%d, %d) outside %d x %d", lineNum, g, c, nGenes, nCells)
		}
		genes = append(genes, int32(g-1))
		cells = append(cells, int32(c-1))
		vals = append(vals, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, pfx.Err(err)
	}
	if len(vals) != nnz {
		return nil, fmt.Errorf("size line promised %d entries, file has %d", nnz, len(vals))
	}

	return NewMatrixFromTriplets(nCells, nGenes, cells, genes, vals)
}

// WriteMTX renders the matrix in the same orientation ReadMTX expects. The
// field type is integer when every stored value is whole.
func WriteMTX(w io.Writer, m *Matrix) error {
	field := "integer"
	for g := 0; g < m.NGenes() && field == "integer"; g++ {
		_, vals := m.GeneEntries(g)
		for _, v := range vals {
			if v != math.Trunc(v) {
				field = "real"
				break
			}
		}
	}

	bw := bufio.NewWriterSize(w, 1024*1024)
	if _, err := fmt.Fprintf(bw, "%s matrix coordinate %s general\n", mtxBanner, field); err != nil {
		return pfx.Err(err)
	}
	if _, err := fmt.Fprintf(bw, "%d %d %d\n", m.NGenes(), m.NCells(), m.NNZ()); err != nil {
		return pfx.Err(err)
	}

	buf := make([]byte, 0, 64)
	for g := 0; g < m.NGenes(); g++ {
		cells, vals := m.GeneEntries(g)
		for i := range cells {
			buf = buf[:0]
			buf = strconv.AppendInt(buf, int64(g+1), 10)
			buf = append(buf, ' ')
			buf = strconv.AppendInt(buf, int64(cells[i]+1), 10)
			buf = append(buf, ' ')
			if field == "integer" {
				buf = strconv.AppendInt(buf, int64(vals[i]), 10)
			} else {
				buf = strconv.AppendFloat(buf, vals[i], 'g', -1, 64)
			}
			buf = append(buf, '\n')
			if _, err := bw.Write(buf); err != nil {
				return pfx.Err(err)
			}
		}
	}

	return pfx.Err(bw.Flush())
}
