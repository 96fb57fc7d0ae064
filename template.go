package tileoverlay

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	_ "image/png"
	"sort"

	"github.com/bodgit/tileoverlay/chunk"
	"github.com/bodgit/tileoverlay/record"
	"github.com/bodgit/tileoverlay/tile"
	_ "golang.org/x/image/bmp"
)

// DefaultGridFactor is the magnification applied to each template pixel
const DefaultGridFactor = 3

// Limits on what a single template may cost to decompose
const (
	maxTemplatePixels = 1 << 26
	maxChunkBytes     = 1 << 30
)

// Template is a single user supplied image anchored onto the canvas
type Template struct {
	ID          string
	DisplayName string
	Anchor      tile.Anchor
	TileSize    int
	GridFactor  int

	// PixelCount is the number of pixels in the source image with a non-zero
	// alpha channel. It is fixed once the template has been processed.
	PixelCount int

	// Colors holds up to paletteSize representative colors of the opaque
	// pixels
	Colors color.Palette

	Chunks  map[tile.Key]*image.NRGBA
	Encoded map[tile.Key]string

	source    []byte
	hasAnchor bool
	processed bool
	workers   int
}

// NewTemplate returns an unprocessed template for the source image bytes
// anchored at anchor. Either may be nil, in which case Process fails.
func NewTemplate(name string, source []byte, anchor *tile.Anchor, tileSize, gridFactor int) *Template {
	t := &Template{
		DisplayName: name,
		TileSize:    tileSize,
		GridFactor:  gridFactor,
		source:      source,
		workers:     defaultWorkers,
	}
	if anchor != nil {
		t.Anchor = *anchor
		t.hasAnchor = true
	}
	return t
}

func (t *Template) validate() error {
	switch {
	case len(t.source) == 0:
		return Validationf("template %q has no image", t.DisplayName)
	case !t.hasAnchor:
		return Validationf("template %q has no coordinates", t.DisplayName)
	case t.TileSize <= 0:
		return Validationf("tile size %d must be positive", t.TileSize)
	case t.GridFactor < 1 || t.GridFactor%2 == 0:
		return Validationf("grid factor %d must be a positive odd number", t.GridFactor)
	}
	return nil
}

func toNRGBA(m image.Image) *image.NRGBA {
	if nm, ok := m.(*image.NRGBA); ok && nm.Rect.Min == (image.Point{}) {
		return nm
	}
	b := m.Bounds()
	nm := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(nm, nm.Bounds(), m, b.Min, draw.Src)
	return nm
}

// checkSize rejects images whose dimensions, or the chunks they would need,
// are too large before any pixel data is decoded
func (t *Template) checkSize() error {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(t.source))
	if err != nil {
		return &DecodeError{What: "template image", Err: err}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Validationf("template %q has no pixels", t.DisplayName)
	}
	if int64(cfg.Width)*int64(cfg.Height) > maxTemplatePixels {
		return Validationf("template %q is %dx%d, larger than %d pixels", t.DisplayName, cfg.Width, cfg.Height, maxTemplatePixels)
	}

	first, _, _ := tile.Locate(t.Anchor, t.TileSize, 0, 0)
	last, _, _ := tile.Locate(t.Anchor, t.TileSize, cfg.Width-1, cfg.Height-1)
	tiles := int64(last.X-first.X+1) * int64(last.Y-first.Y+1)
	side := int64(t.TileSize) * int64(t.GridFactor)
	if tiles*side*side*4 > maxChunkBytes {
		return Validationf("template %q covers %d tiles, too many at grid factor %d", t.DisplayName, tiles, t.GridFactor)
	}

	return nil
}

// Process decodes the source image and splits it into one chunk per tile it
// covers. Each opaque source pixel is written to the centre cell of its
// GridFactor sized block, the remainder of the block is left transparent.
// Process only does work the first time it succeeds.
func (t *Template) Process(ctx context.Context) error {
	if t.processed {
		return nil
	}
	if err := t.validate(); err != nil {
		return err
	}

	if err := t.checkSize(); err != nil {
		return err
	}

	src, _, err := image.Decode(bytes.NewReader(t.source))
	if err != nil {
		return &DecodeError{What: "template image", Err: err}
	}
	m := toNRGBA(src)
	w, h := m.Rect.Dx(), m.Rect.Dy()

	var (
		count  int
		chunks = make(map[tile.Key]*image.NRGBA)
		center = chunk.Center(t.GridFactor)
	)

	for y := 0; y < h; y++ {
		row := m.Pix[y*m.Stride : y*m.Stride+w*4]
		for x := 0; x < w; x++ {
			p := row[x*4 : x*4+4 : x*4+4]
			if p[3] == 0 {
				continue
			}
			count++

			k, lx, ly := tile.Locate(t.Anchor, t.TileSize, x, y)
			c, ok := chunks[k]
			if !ok {
				c = chunk.New(t.TileSize, t.GridFactor)
				chunks[k] = c
			}

			i := c.PixOffset(lx*t.GridFactor+center, ly*t.GridFactor+center)
			copy(c.Pix[i:i+4], p)
		}

		if y&0xff == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
	}

	encoded, err := encodeChunks(ctx, chunks, t.workers)
	if err != nil {
		return err
	}

	t.PixelCount = count
	t.Colors = summarizePalette(m, paletteSize)
	t.Chunks = chunks
	t.Encoded = encoded
	t.source = nil
	t.processed = true

	return nil
}

// Keys returns the tiles covered by the template in row-major order
func (t *Template) Keys() []tile.Key {
	keys := keysOf(t.Chunks)
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Y != keys[j].Y {
			return keys[i].Y < keys[j].Y
		}
		return keys[i].X < keys[j].X
	})
	return keys
}

// Record returns the persisted form of a processed template
func (t *Template) Record() record.Template {
	r := record.Template{
		DisplayName:   t.DisplayName,
		Coords:        t.Anchor.Slice(),
		TileSize:      t.TileSize,
		PixelGridSize: t.GridFactor,
		PixelCount:    t.PixelCount,
		Chunks:        make(map[string]string, len(t.Encoded)),
	}
	for k, v := range t.Encoded {
		r.Chunks[k.String()] = v
	}
	return r
}

// TemplateFromRecord rebuilds a template from its persisted form by
// decoding the stored chunks. The source image is not needed.
func TemplateFromRecord(ctx context.Context, id string, r record.Template) (*Template, error) {
	if err := r.Validate(); err != nil {
		return nil, &ValidationError{Msg: err.Error()}
	}

	encoded := make(map[tile.Key]string, len(r.Chunks))
	for s, v := range r.Chunks {
		k, err := tile.ParseKey(s)
		if err != nil {
			return nil, Validationf("template %q: chunk key %q: %v", r.DisplayName, s, err)
		}
		encoded[k] = v
	}

	chunks, err := decodeChunks(ctx, encoded, defaultWorkers)
	if err != nil {
		return nil, err
	}

	side := r.TileSize * r.PixelGridSize
	for k, c := range chunks {
		if c.Rect.Dx() != side || c.Rect.Dy() != side {
			return nil, Validationf("template %q: chunk %s is %dx%d, expected %dx%d", r.DisplayName, k, c.Rect.Dx(), c.Rect.Dy(), side, side)
		}
	}

	t := &Template{
		ID:          id,
		DisplayName: r.DisplayName,
		Anchor:      tile.Anchor{TileX: r.Coords[0], TileY: r.Coords[1], PixelX: r.Coords[2], PixelY: r.Coords[3]},
		TileSize:    r.TileSize,
		GridFactor:  r.PixelGridSize,
		PixelCount:  r.PixelCount,
		Chunks:      chunks,
		Encoded:     encoded,
		hasAnchor:   true,
		processed:   true,
		workers:     defaultWorkers,
	}
	samples := t.samples()
	if t.PixelCount == 0 {
		t.PixelCount = samples.Rect.Dx()
	}
	t.Colors = summarizePalette(samples, paletteSize)

	return t, nil
}

// samples gathers the opaque centre sample of every grid cell into a single
// row, recovering the source pixels of a template rebuilt from its chunks
func (t *Template) samples() *image.NRGBA {
	var pix []uint8
	center := chunk.Center(t.GridFactor)
	for _, k := range t.Keys() {
		c := t.Chunks[k]
		for y := center; y < c.Rect.Dy(); y += t.GridFactor {
			for x := center; x < c.Rect.Dx(); x += t.GridFactor {
				i := c.PixOffset(x, y)
				if c.Pix[i+3] != 0 {
					pix = append(pix, c.Pix[i:i+4]...)
				}
			}
		}
	}
	return &image.NRGBA{
		Pix:    pix,
		Stride: len(pix),
		Rect:   image.Rect(0, 0, len(pix)/4, 1),
	}
}
