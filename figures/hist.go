package figures

import (
	"fmt"
	"io"

	"github.com/aybabtme/uniplot/histogram"
	hist2 "github.com/grd/histogram"
	"github.com/wcharczuk/go-chart/v2"
)

// HistogramPNG bins vals and draws the counts as bars. Labels mark every few
// bin edges to keep the axis readable.
func HistogramPNG(path, title string, vals []float64, nBins int) error {
	if len(vals) == 0 {
		return fmt.Errorf("no values to bin")
	}
	if nBins <= 0 {
		nBins = 30
	}

	min, max := vals[0], vals[0]
	for _, v := range vals {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	width := (max - min) / float64(nBins)
	if width == 0 {
		width = 1
	}

	hg, err := hist2.NewHistogram(hist2.Range(min, uint(nBins), width))
	if err != nil {
		return err
	}

	counts := make([]float64, nBins)
	for _, v := range vals {
		hg.Add(v)
		bin, err := hg.Find(v)
		if err != nil {
			// The largest value sits on the half-open range's top edge.
			bin = nBins - 1
		}
		counts[bin]++
	}

	labelEvery := nBins / 6
	if labelEvery < 1 {
		labelEvery = 1
	}
	bars := make([]chart.Value, nBins)
	for i := range bars {
		bars[i] = chart.Value{Value: counts[i]}
		if i%labelEvery == 0 {
			bars[i].Label = fmt.Sprintf("%.3g", min+width*float64(i))
		}
	}

	return BarChart(path, title, "cells", bars)
}

// TerminalHist prints an ascii histogram, for quick reads in command logs.
func TerminalHist(w io.Writer, vals []float64, bins int) error {
	if len(vals) == 0 {
		return fmt.Errorf("no values to bin")
	}
	if bins <= 0 {
		bins = 10
	}

	hist := histogram.Hist(bins, vals)

	return histogram.Fprint(w, hist, histogram.Linear(40))
}
