package chunk

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/draw"
	"image/png"
	"io"
	"strings"
)

var errEmpty = errors.New("chunk: no image data")

type decoder struct {
	r     io.Reader
	image *image.NRGBA
}

func (d *decoder) decode() error {
	m, err := png.Decode(d.r)
	if err != nil {
		return err
	}

	// Fully opaque chunks come back as RGB, everything else as NRGBA
	if nm, ok := m.(*image.NRGBA); ok && nm.Rect.Min == (image.Point{}) {
		d.image = nm
		return nil
	}

	b := m.Bounds()
	d.image = image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(d.image, d.image.Bounds(), m, b.Min, draw.Src)

	return nil
}

// Decode reads a PNG encoded chunk from r
func Decode(r io.Reader) (*image.NRGBA, error) {
	d := decoder{r: r}
	if err := d.decode(); err != nil {
		return nil, err
	}
	return d.image, nil
}

// DecodeString decodes a chunk previously produced by EncodeToString
func DecodeString(s string) (*image.NRGBA, error) {
	if s == "" {
		return nil, errEmpty
	}
	// Tolerate data URLs as produced by browser canvases
	if i := strings.Index(s, ";base64,"); i >= 0 {
		s = s[i+len(";base64,"):]
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return Decode(bytes.NewReader(b))
}
