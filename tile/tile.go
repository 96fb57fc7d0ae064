/*
Package tile maps pixels in template-local space onto the tiling grid of the
host canvas.

The canvas is split into square tiles of a fixed size, each addressed by an
integer (x, y) pair. A template is anchored by the tile containing its
top-left pixel plus the offset of that pixel within the tile. All division is
floor division so a template may also extend left of or above its anchor.
*/
package tile

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// DefaultSize is the edge length in pixels of a host canvas tile
const DefaultSize = 1000

var errBadKey = errors.New("tile: malformed key")

// Key identifies a single tile
type Key struct {
	X, Y int
}

// String returns the canonical "x,y" form of the key
func (k Key) String() string {
	return strconv.Itoa(k.X) + "," + strconv.Itoa(k.Y)
}

// ParseKey parses the canonical "x,y" form returned by Key.String
func ParseKey(s string) (Key, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return Key{}, errBadKey
	}
	x, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return Key{}, errBadKey
	}
	y, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return Key{}, errBadKey
	}
	return Key{X: x, Y: y}, nil
}

// Anchor locates the top-left corner of a template in global pixel space
type Anchor struct {
	TileX, TileY   int
	PixelX, PixelY int
}

// AnchorFromSlice builds an Anchor from the [tileX, tileY, pixelX, pixelY]
// form used on the wire and in persisted records
func AnchorFromSlice(s []int) (Anchor, error) {
	if len(s) != 4 {
		return Anchor{}, fmt.Errorf("tile: anchor needs 4 coordinates, got %d", len(s))
	}
	return Anchor{TileX: s[0], TileY: s[1], PixelX: s[2], PixelY: s[3]}, nil
}

// Slice returns the anchor in [tileX, tileY, pixelX, pixelY] form
func (a Anchor) Slice() [4]int {
	return [4]int{a.TileX, a.TileY, a.PixelX, a.PixelY}
}

func (a Anchor) String() string {
	return fmt.Sprintf("[%d, %d, %d, %d]", a.TileX, a.TileY, a.PixelX, a.PixelY)
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int) int {
	m := a % b
	if m != 0 && ((m < 0) != (b < 0)) {
		m += b
	}
	return m
}

// Locate maps the template-local pixel (x, y) of a template anchored at a to
// the tile containing it and the pixel offset within that tile. size must be
// positive.
func Locate(a Anchor, size, x, y int) (Key, int, int) {
	gx := a.PixelX + x
	gy := a.PixelY + y

	k := Key{
		X: a.TileX + floorDiv(gx, size),
		Y: a.TileY + floorDiv(gy, size),
	}

	return k, floorMod(gx, size), floorMod(gy, size)
}
