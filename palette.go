package tileoverlay

import (
	"fmt"
	"image"
	"image/color"

	"github.com/ericpauley/go-quantize/quantize"
)

const paletteSize = 16

// summarizePalette returns up to n colors representative of the opaque
// pixels in m. Transparent pixels are left out entirely so they do not skew
// the median cut.
func summarizePalette(m *image.NRGBA, n int) color.Palette {
	w, h := m.Rect.Dx(), m.Rect.Dy()

	var opaque []uint8
	for y := 0; y < h; y++ {
		row := m.Pix[y*m.Stride : y*m.Stride+w*4]
		for x := 0; x < w; x++ {
			if row[x*4+3] != 0 {
				opaque = append(opaque, row[x*4:x*4+4]...)
			}
		}
	}
	if len(opaque) == 0 {
		return nil
	}

	strip := &image.NRGBA{
		Pix:    opaque,
		Stride: len(opaque),
		Rect:   image.Rect(0, 0, len(opaque)/4, 1),
	}

	q := quantize.MedianCutQuantizer{}
	return q.Quantize(make(color.Palette, 0, n), strip)
}

func hexColor(c color.Color) string {
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	return fmt.Sprintf("#%02x%02x%02x", n.R, n.G, n.B)
}
