package figures

import (
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// Montage pastes rendered panels onto a grid, left to right then top to
// bottom. Panels narrower than the widest one are scaled up to a common
// column width, keeping aspect.
func Montage(path string, panels []string, cols int) error {
	if len(panels) == 0 {
		return fmt.Errorf("no panels to assemble")
	}
	if cols <= 0 {
		cols = 2
	}
	if cols > len(panels) {
		cols = len(panels)
	}

	imgs := make([]image.Image, 0, len(panels))
	cellW, cellH := 0, 0
	for _, p := range panels {
		img, err := imaging.Open(p)
		if err != nil {
			return fmt.Errorf("panel %s: %w", p, err)
		}
		imgs = append(imgs, img)
		if w := img.Bounds().Dx(); w > cellW {
			cellW = w
		}
	}
	for i, img := range imgs {
		if img.Bounds().Dx() != cellW {
			imgs[i] = imaging.Resize(img, cellW, 0, imaging.Lanczos)
		}
		if h := imgs[i].Bounds().Dy(); h > cellH {
			cellH = h
		}
	}

	rows := (len(imgs) + cols - 1) / cols
	canvas := imaging.New(cols*cellW, rows*cellH, color.White)
	for i, img := range imgs {
		x := (i % cols) * cellW
		y := (i / cols) * cellH
		canvas = imaging.Paste(canvas, img, image.Pt(x, y))
	}

	return imaging.Save(canvas, path)
}
