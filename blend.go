package tileoverlay

import (
	"image"
	"image/color"
)

// asNRGBA returns m as non-premultiplied pixels. Every pixel is converted
// individually so the colour of translucent and fully transparent pixels
// survives exactly.
func asNRGBA(m image.Image) *image.NRGBA {
	if nm, ok := m.(*image.NRGBA); ok {
		return nm
	}
	b := m.Bounds()
	nm := image.NewNRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			nm.SetNRGBA(x, y, color.NRGBAModel.Convert(m.At(x, y)).(color.NRGBA))
		}
	}
	return nm
}

// magnify returns m enlarged by factor, each pixel copied verbatim into a
// factor by factor block
func magnify(m *image.NRGBA, factor int) *image.NRGBA {
	w, h := m.Rect.Dx(), m.Rect.Dy()
	dst := image.NewNRGBA(image.Rect(0, 0, w*factor, h*factor))

	for y := 0; y < h; y++ {
		src := m.Pix[m.PixOffset(m.Rect.Min.X, m.Rect.Min.Y+y):]
		row := dst.Pix[y*factor*dst.Stride : y*factor*dst.Stride+dst.Stride]
		for x := 0; x < w; x++ {
			p := src[x*4 : x*4+4]
			for i := 0; i < factor; i++ {
				copy(row[(x*factor+i)*4:], p)
			}
		}
		for i := 1; i < factor; i++ {
			copy(dst.Pix[(y*factor+i)*dst.Stride:], row)
		}
	}

	return dst
}

// over composites src onto dst, both anchored at the origin. Only pixels
// where src has a non-zero alpha are touched.
func over(dst, src *image.NRGBA) {
	r := dst.Rect.Intersect(src.Rect)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			si := src.PixOffset(x, y)
			sa := uint32(src.Pix[si+3])
			if sa == 0 {
				continue
			}

			di := dst.PixOffset(x, y)
			s := src.Pix[si : si+4 : si+4]
			d := dst.Pix[di : di+4 : di+4]
			if sa == 0xff {
				copy(d, s)
				continue
			}

			// Non-premultiplied source-over, da' is the destination's
			// remaining contribution
			da := uint32(d[3]) * (0xff - sa) / 0xff
			oa := sa + da
			for i := 0; i < 3; i++ {
				d[i] = uint8((uint32(s[i])*sa + uint32(d[i])*da + oa/2) / oa)
			}
			d[3] = uint8(oa)
		}
	}
}
