package tileoverlay

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMagnify(t *testing.T) {
	m := image.NewNRGBA(image.Rect(5, 5, 7, 6))
	m.SetNRGBA(5, 5, color.NRGBA{1, 2, 3, 4})
	m.SetNRGBA(6, 5, color.NRGBA{9, 8, 7, 0})

	dst := magnify(m, 3)
	assert.Equal(t, image.Rect(0, 0, 6, 3), dst.Bounds())
	for y := 0; y < 3; y++ {
		for x := 0; x < 6; x++ {
			assert.Equal(t, m.NRGBAAt(5+x/3, 5), dst.NRGBAAt(x, y), "pixel %d,%d", x, y)
		}
	}
}

func TestOver(t *testing.T) {
	tests := []struct {
		name     string
		dst, src color.NRGBA
		want     color.NRGBA
	}{
		{"transparent source", color.NRGBA{201, 99, 51, 77}, color.NRGBA{0xff, 0, 0, 0}, color.NRGBA{201, 99, 51, 77}},
		{"opaque source", color.NRGBA{201, 99, 51, 77}, color.NRGBA{0xff, 0, 0, 0xff}, color.NRGBA{0xff, 0, 0, 0xff}},
		{"half over opaque", color.NRGBA{0, 0, 0xff, 0xff}, color.NRGBA{0xff, 0, 0, 0x80}, color.NRGBA{0x80, 0, 0x7f, 0xff}},
		{"half over nothing", color.NRGBA{}, color.NRGBA{0xff, 0, 0, 0x80}, color.NRGBA{0xff, 0, 0, 0x80}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := image.NewNRGBA(image.Rect(0, 0, 1, 1))
			dst.SetNRGBA(0, 0, tt.dst)
			src := image.NewNRGBA(image.Rect(0, 0, 2, 2))
			src.SetNRGBA(0, 0, tt.src)

			over(dst, src)
			assert.Equal(t, tt.want, dst.NRGBAAt(0, 0))
		})
	}
}
