package figures

import (
	"fmt"
	"image/color"
	"sort"

	"github.com/fogleman/gg"

	"github.com/massonix/sc-cold-shock-artifacts/expression"
)

// ScatterOptions style an embedding scatter. Zero values fall back to the
// defaults.
type ScatterOptions struct {
	Width       int
	Height      int
	PointRadius float64
	Title       string
	XLabel      string
	YLabel      string
	Palette     []color.Color
}

const legendWidth = 160.0

// EmbeddingScatter draws the first two dimensions of an embedding, one point
// per cell colored by its label, with a legend down the right edge.
func EmbeddingScatter(path string, emb *expression.Embedding, labels []string, opts ScatterOptions) error {
	if emb == nil || emb.Dim() < 2 {
		return fmt.Errorf("embedding scatter needs at least 2 dimensions")
	}
	if len(labels) != len(emb.Coords) {
		return fmt.Errorf("%d labels for %d cells", len(labels), len(emb.Coords))
	}

	if opts.Width <= 0 {
		opts.Width = 900
	}
	if opts.Height <= 0 {
		opts.Height = 700
	}
	if opts.PointRadius <= 0 {
		opts.PointRadius = 2
	}
	if opts.XLabel == "" {
		opts.XLabel = emb.Name + " 1"
	}
	if opts.YLabel == "" {
		opts.YLabel = emb.Name + " 2"
	}

	distinct := make(map[string]bool)
	for _, l := range labels {
		distinct[l] = true
	}
	levels := make([]string, 0, len(distinct))
	for l := range distinct {
		levels = append(levels, l)
	}
	sort.Strings(levels)
	colorOf := levelColors(levels, opts.Palette)

	minX, maxX := emb.Coords[0][0], emb.Coords[0][0]
	minY, maxY := emb.Coords[0][1], emb.Coords[0][1]
	for _, c := range emb.Coords {
		if c[0] < minX {
			minX = c[0]
		}
		if c[0] > maxX {
			maxX = c[0]
		}
		if c[1] < minY {
			minY = c[1]
		}
		if c[1] > maxY {
			maxY = c[1]
		}
	}
	if maxX == minX {
		maxX = minX + 1
	}
	if maxY == minY {
		maxY = minY + 1
	}

	const margin = 50.0
	plotW := float64(opts.Width) - legendWidth
	plotH := float64(opts.Height)
	sx := func(x float64) float64 {
		return margin + (x-minX)/(maxX-minX)*(plotW-2*margin)
	}
	// Image y grows downward, embedding y grows upward.
	sy := func(y float64) float64 {
		return margin + (maxY-y)/(maxY-minY)*(plotH-2*margin)
	}

	ctx := gg.NewContext(opts.Width, opts.Height)
	ctx.SetRGB(1, 1, 1)
	ctx.Clear()

	for i, c := range emb.Coords {
		ctx.SetColor(colorOf[labels[i]])
		ctx.DrawCircle(sx(c[0]), sy(c[1]), opts.PointRadius)
		ctx.Fill()
	}

	ctx.SetRGB(0, 0, 0)
	if opts.Title != "" {
		ctx.DrawStringAnchored(opts.Title, plotW/2, margin/2, 0.5, 0.5)
	}
	ctx.DrawStringAnchored(opts.XLabel, plotW/2, plotH-margin/2, 0.5, 0.5)
	ctx.Push()
	ctx.RotateAbout(-gg.Radians(90), margin/2, plotH/2)
	ctx.DrawStringAnchored(opts.YLabel, margin/2, plotH/2, 0.5, 0.5)
	ctx.Pop()

	legendX := plotW + 10
	for i, level := range levels {
		y := margin + float64(i)*18
		ctx.SetColor(colorOf[level])
		ctx.DrawRectangle(legendX, y, 12, 12)
		ctx.Fill()
		ctx.SetRGB(0, 0, 0)
		ctx.DrawString(level, legendX+18, y+11)
	}

	return ctx.SavePNG(path)
}
