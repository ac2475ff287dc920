package study

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strings"

	coldshock "github.com/massonix/sc-cold-shock-artifacts"

	"github.com/araddon/dateparse"
	"github.com/carbocation/pfx"
	"github.com/extrame/xls"
	"github.com/gocarina/gocsv"
)

// SheetRow is one line of a wet-lab sample sheet. Sheets arrive as CSV/TSV
// exports or as legacy .xls workbooks, one row per sample-donor pairing.
type SheetRow struct {
	Sample      string `csv:"sample"`
	Donor       string `csv:"donor"`
	Sex         string `csv:"sex"`
	Condition   string `csv:"condition"`
	CollectedAt string `csv:"collected_at"`
	PreparedAt  string `csv:"prepared_at"`
}

// ReadSampleSheet loads a sheet, sniffing the delimiter for text exports
// (which may be gzipped or on gs://) and falling back to the xls reader for
// legacy workbooks on local disk.
func ReadSampleSheet(path string) ([]SheetRow, error) {
	if strings.HasSuffix(strings.ToLower(path), ".xls") {
		return readXLSSheet(path)
	}

	rc, err := coldshock.OpenDecompressed(path)
	if err != nil {
		return nil, pfx.Err(err)
	}
	defer rc.Close()

	fileBytes, err := io.ReadAll(rc)
	if err != nil {
		return nil, pfx.Err(err)
	}

	delimiter := coldshock.DetermineDelimiter(bytes.NewReader(fileBytes))

	gocsv.SetCSVReader(func(in io.Reader) gocsv.CSVReader {
		r := csv.NewReader(in)
		r.Comma = delimiter
		r.LazyQuotes = true
		r.TrimLeadingSpace = true
		return r
	})

	rows := []*SheetRow{}
	if err := gocsv.UnmarshalBytes(fileBytes, &rows); err != nil {
		return nil, pfx.Err(err)
	}

	out := make([]SheetRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r)
	}

	return out, nil
}

// xls workbooks are read positionally from the first sheet, with a header row
// naming the same columns the CSV layout uses.
func readXLSSheet(path string) ([]SheetRow, error) {
	wb, err := xls.Open(path, "utf-8")
	if err != nil {
		return nil, pfx.Err(err)
	}

	sheet := wb.GetSheet(0)
	if sheet == nil {
		return nil, fmt.Errorf("%s: workbook has no sheets", path)
	}

	header := make(map[string]int)
	if row := sheet.Row(0); row != nil {
		for c := row.FirstCol(); c <= row.LastCol(); c++ {
			header[strings.TrimSpace(strings.ToLower(row.Col(c)))] = c
		}
	}
	for _, required := range []string{"sample", "donor", "sex", "condition"} {
		if _, exists := header[required]; !exists {
			return nil, fmt.Errorf("%s: sheet is missing required column %q", path, required)
		}
	}

	col := func(row *xls.Row, name string) string {
		idx, exists := header[name]
		if !exists {
			return ""
		}
		return strings.TrimSpace(row.Col(idx))
	}

	out := make([]SheetRow, 0, int(sheet.MaxRow))
	for i := 1; i <= int(sheet.MaxRow); i++ {
		row := sheet.Row(i)
		if row == nil {
			continue
		}
		r := SheetRow{
			Sample:      col(row, "sample"),
			Donor:       col(row, "donor"),
			Sex:         col(row, "sex"),
			Condition:   col(row, "condition"),
			CollectedAt: col(row, "collected_at"),
			PreparedAt:  col(row, "prepared_at"),
		}
		if r.Sample == "" {
			continue
		}
		out = append(out, r)
	}

	return out, nil
}

// DeriveHours computes the elapsed hours between two timestamps written in
// whatever format the wet lab used that day.
func DeriveHours(collected, prepared string) (float64, error) {
	c, err := dateparse.ParseAny(collected)
	if err != nil {
		return 0, fmt.Errorf("cannot parse collection time %q: %v", collected, err)
	}
	p, err := dateparse.ParseAny(prepared)
	if err != nil {
		return 0, fmt.Errorf("cannot parse preparation time %q: %v", prepared, err)
	}

	hours := p.Sub(c).Hours()
	if hours < 0 {
		return 0, fmt.Errorf("preparation time %q precedes collection time %q", prepared, collected)
	}

	return math.Round(hours), nil
}

// MergeSheet folds sheet rows into the config: donors and timestamps are
// attached to their samples, and a sheet condition that disagrees with the
// config is an error rather than a silent override. When a sample ends up
// with both timestamps, the hours they imply must agree with its condition
// label to within one hour.
func MergeSheet(cfg *Config, rows []SheetRow) error {
	byID := make(map[string]int)
	for i, s := range cfg.Samples {
		byID[s.ID] = i
	}

	for _, r := range rows {
		idx, exists := byID[r.Sample]
		if !exists {
			return fmt.Errorf("sample sheet row for unknown sample %q", r.Sample)
		}

		s := &cfg.Samples[idx]

		if r.Condition != "" {
			if s.Condition == "" {
				s.Condition = r.Condition
			} else if s.Condition != r.Condition {
				return fmt.Errorf("sample %s: sheet condition %q disagrees with config condition %q", r.Sample, r.Condition, s.Condition)
			}
		}

		if r.Donor != "" {
			found := false
			for _, d := range s.Donors {
				if d.ID == r.Donor {
					found = true
					break
				}
			}
			if !found {
				s.Donors = append(s.Donors, Donor{ID: r.Donor, Sex: strings.ToLower(r.Sex)})
			}
		}

		if r.CollectedAt != "" {
			s.CollectedAt = r.CollectedAt
		}
		if r.PreparedAt != "" {
			s.PreparedAt = r.PreparedAt
		}
	}

	return cfg.Validate()
}
