/*
Package chunk implements the codec used for template chunks.

A chunk is the part of a template that falls on a single canvas tile,
magnified by the template grid factor. Chunks are stored losslessly as
8-bit non-premultiplied RGBA PNG images. For persistence the PNG bytes are
additionally wrapped in standard base64 so they can live inside a JSON
document.
*/
package chunk

import (
	"image"
)

// New returns a fully transparent chunk for a tile of the given size
// magnified by gridFactor
func New(tileSize, gridFactor int) *image.NRGBA {
	side := tileSize * gridFactor
	return image.NewNRGBA(image.Rect(0, 0, side, side))
}

// Center returns the offset of the centre cell of a grid cell of the given
// factor
func Center(gridFactor int) int {
	return gridFactor >> 1
}
