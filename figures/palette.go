// Package figures renders the study's plots: embedding scatters, QC
// histograms, time and batch summaries, and multi-panel montages.
package figures

import (
	"fmt"
	"image/color"
	"strings"

	"github.com/icza/gox/imagex/colorx"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

// defaultHex is the categorical palette used when a figure is not handed its
// own colors.
var defaultHex = []string{
	"#1f77b4", "#ff7f0e", "#2ca02c", "#d62728", "#9467bd",
	"#8c564b", "#e377c2", "#7f7f7f", "#bcbd22", "#17becf",
}

// DefaultPalette returns the builtin categorical palette.
func DefaultPalette() []color.Color {
	out, err := ParsePalette(strings.Join(defaultHex, ","))
	if err != nil {
		// The builtin hex strings always parse.
		panic(err)
	}

	return out
}

// ParsePalette parses a comma-separated list of hex colors such as
// "#1f77b4,#ff7f0e".
func ParsePalette(list string) ([]color.Color, error) {
	parts := strings.Split(list, ",")
	out := make([]color.Color, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		c, err := colorx.ParseHexColor(part)
		if err != nil {
			return nil, fmt.Errorf("color %q: %w", part, err)
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no colors in palette %q", list)
	}

	return out, nil
}

// levelColors assigns palette colors to sorted label levels, cycling when
// there are more levels than colors.
func levelColors(levels []string, palette []color.Color) map[string]color.Color {
	if len(palette) == 0 {
		palette = DefaultPalette()
	}
	out := make(map[string]color.Color, len(levels))
	for i, level := range levels {
		out[level] = palette[i%len(palette)]
	}

	return out
}

func chartColor(c color.Color) drawing.Color {
	r, g, b, a := c.RGBA()
	return drawing.Color{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: uint8(a >> 8)}
}
