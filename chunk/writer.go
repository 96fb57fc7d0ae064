package chunk

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/png"
	"io"
)

type encoder struct {
	w   io.Writer
	enc png.Encoder
}

func (e *encoder) encode(m *image.NRGBA) error {
	// Adjust image so that top-left corner is at (0, 0)
	if m.Rect.Min != (image.Point{}) {
		dup := *m
		dup.Rect = dup.Rect.Sub(dup.Rect.Min)
		m = &dup
	}
	return e.enc.Encode(e.w, m)
}

// Encode writes the chunk m to w as a PNG image
func Encode(w io.Writer, m *image.NRGBA) error {
	e := encoder{
		w: w,
		enc: png.Encoder{
			CompressionLevel: png.BestCompression,
		},
	}
	return e.encode(m)
}

// EncodeToString returns the chunk m as base64 encoded PNG bytes
func EncodeToString(m *image.NRGBA) (string, error) {
	b := new(bytes.Buffer)
	if err := Encode(b, m); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b.Bytes()), nil
}
