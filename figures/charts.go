package figures

import (
	"bytes"
	"fmt"
	"os"

	"github.com/wcharczuk/go-chart/v2"

	"github.com/massonix/sc-cold-shock-artifacts/diffexp"
	"github.com/massonix/sc-cold-shock-artifacts/normalize"
	"github.com/massonix/sc-cold-shock-artifacts/results"
)

// Line is one named series of a metric-over-time chart.
type Line struct {
	Name   string
	Hours  []float64
	Values []float64
}

// MetricOverTime draws one line per series against hours of storage.
func MetricOverTime(path, title, yLabel string, lines []Line) error {
	if len(lines) == 0 {
		return fmt.Errorf("no series to draw")
	}

	palette := DefaultPalette()
	series := make([]chart.Series, 0, len(lines))
	for i, l := range lines {
		if len(l.Hours) != len(l.Values) {
			return fmt.Errorf("series %s: %d hours for %d values", l.Name, len(l.Hours), len(l.Values))
		}
		series = append(series, chart.ContinuousSeries{
			Name:    l.Name,
			XValues: l.Hours,
			YValues: l.Values,
			Style: chart.Style{
				StrokeColor: chartColor(palette[i%len(palette)]),
				StrokeWidth: 2,
				DotColor:    chartColor(palette[i%len(palette)]),
				DotWidth:    4,
			},
		})
	}

	graph := chart.Chart{
		Title:  title,
		Width:  800,
		Height: 500,
		XAxis:  chart.XAxis{Name: "hours before library prep"},
		YAxis:  chart.YAxis{Name: yLabel},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	buffer := bytes.NewBuffer([]byte{})
	if err := graph.Render(chart.PNG, buffer); err != nil {
		return err
	}

	return writeBuffer(path, buffer)
}

// BarChart draws labeled bars.
func BarChart(path, title, yLabel string, bars []chart.Value) error {
	if len(bars) == 0 {
		return fmt.Errorf("no bars to draw")
	}

	graph := chart.BarChart{
		Title:    title,
		Width:    200 + 80*len(bars),
		Height:   500,
		BarWidth: 40,
		YAxis:    chart.YAxis{Name: yLabel},
		Bars:     bars,
	}

	buffer := bytes.NewBuffer([]byte{})
	if err := graph.Render(chart.PNG, buffer); err != nil {
		return err
	}

	return writeBuffer(path, buffer)
}

// DEGCountBars draws the number of differential genes per contrast, using
// the whole-dataset rows and skipping the per-type splits.
func DEGCountBars(path string, rows []results.DEGCount) error {
	var bars []chart.Value
	for _, row := range rows {
		if row.CellType != diffexp.CellTypeAll {
			continue
		}
		bars = append(bars, chart.Value{
			Label: row.Contrast,
			Value: float64(row.NUp + row.NDown),
		})
	}

	return BarChart(path, "differential genes by condition", "genes at padj < 0.05", bars)
}

// KBETBars draws kBET rejection rates per comparison.
func KBETBars(path string, rows []results.KBET) error {
	bars := make([]chart.Value, 0, len(rows))
	for _, row := range rows {
		bars = append(bars, chart.Value{Label: row.GroupLabel, Value: row.RejectionRate})
	}

	return BarChart(path, "kBET rejection rate", "rejected neighborhoods", bars)
}

// MeanVarianceScatter draws per-gene variance against mean normalized
// expression, highlighting the genes kept as highly variable.
func MeanVarianceScatter(path string, st *normalize.GeneStats, keep []bool) error {
	if len(keep) != len(st.Mean) {
		return fmt.Errorf("%d flags for %d genes", len(keep), len(st.Mean))
	}

	var baseX, baseY, hvgX, hvgY []float64
	for g := range st.Mean {
		if keep[g] {
			hvgX = append(hvgX, st.Mean[g])
			hvgY = append(hvgY, st.Variance[g])
		} else {
			baseX = append(baseX, st.Mean[g])
			baseY = append(baseY, st.Variance[g])
		}
	}

	dots := func(name string, x, y []float64, c chart.Style) chart.Series {
		return chart.ContinuousSeries{Name: name, XValues: x, YValues: y, Style: c}
	}

	graph := chart.Chart{
		Title:  "gene variance against mean expression",
		Width:  800,
		Height: 600,
		XAxis:  chart.XAxis{Name: "mean log1p expression"},
		YAxis:  chart.YAxis{Name: "variance"},
	}
	if len(baseX) > 0 {
		graph.Series = append(graph.Series, dots("other genes", baseX, baseY, chart.Style{
			StrokeWidth: chart.Disabled,
			DotWidth:    2,
			DotColor:    chart.ColorAlternateGray,
		}))
	}
	if len(hvgX) > 0 {
		graph.Series = append(graph.Series, dots("highly variable", hvgX, hvgY, chart.Style{
			StrokeWidth: chart.Disabled,
			DotWidth:    3,
			DotColor:    chart.ColorRed,
		}))
	}
	if len(graph.Series) == 0 {
		return fmt.Errorf("no genes to draw")
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	buffer := bytes.NewBuffer([]byte{})
	if err := graph.Render(chart.PNG, buffer); err != nil {
		return err
	}

	return writeBuffer(path, buffer)
}

func writeBuffer(path string, buffer *bytes.Buffer) error {
	outFile, err := os.Create(path)
	if err != nil {
		return err
	}
	defer outFile.Close()

	if _, err := buffer.WriteTo(outFile); err != nil {
		return err
	}

	return nil
}
