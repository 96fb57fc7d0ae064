/*
Package bridge splices template compositing into the network traffic of the
host page.

Two sides exchange messages. The observer sits in front of the host's own
requests, classifies each one by endpoint and forwards tile images, tagged
with a correlation id, to the privileged side where the Compositor lives.
The observer holds the original response until a reply carrying the same id
arrives and substitutes its bytes, or gives up after a timeout and lets the
original bytes through.

Endpoint classification is a heuristic: path segments that are purely
numeric or contain a dot are assumed to be identifiers or filenames and are
skipped, so a meaningful segment that merely looks numeric is misclassified.
*/
package bridge

import (
	"math"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/bodgit/tileoverlay"
	"github.com/bodgit/tileoverlay/tile"
)

// Endpoint names understood by the Handler
const (
	EndpointMe    = "me"
	EndpointPixel = "pixel"
	EndpointTiles = "tiles"
)

func splitEndpoint(endpoint string) (string, string) {
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		return endpoint[:i], endpoint[i+1:]
	}
	return endpoint, ""
}

func numeric(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// coordinate parses a query parameter value, an empty value counts as zero
func coordinate(s string) (float64, bool) {
	if strings.TrimSpace(s) == "" {
		return 0, true
	}
	return numeric(s)
}

// EndpointName returns the last path segment of endpoint that is neither
// numeric nor contains a dot, ignoring any query string
func EndpointName(endpoint string) string {
	p, _ := splitEndpoint(endpoint)

	var name string
	for _, s := range strings.Split(p, "/") {
		if s == "" || strings.Contains(s, ".") {
			continue
		}
		if _, ok := numeric(s); ok {
			continue
		}
		name = s
	}
	return name
}

// TileKey extracts the tile coordinates from a tile image URL such as
// "/files/s0/tiles/12/34.png"
func TileKey(endpoint string) (tile.Key, error) {
	p, _ := splitEndpoint(endpoint)
	p = strings.TrimRight(p, "/")

	last := path.Base(p)
	last = strings.TrimSuffix(last, path.Ext(last))
	y, err := strconv.Atoi(last)
	if err != nil {
		return tile.Key{}, tileoverlay.Validationf("no tile y coordinate in %q", endpoint)
	}

	x, err := strconv.Atoi(path.Base(path.Dir(p)))
	if err != nil {
		return tile.Key{}, tileoverlay.Validationf("no tile x coordinate in %q", endpoint)
	}

	return tile.Key{X: x, Y: y}, nil
}

// PixelCoords extracts the [tileX, tileY, pixelX, pixelY] coordinates from a
// pixel endpoint such as "/s0/pixel/635/1241?x=3&y=4". The numeric path
// segments are the tile coordinates, in order, and the x and y query
// parameters the pixel within the tile. Both parameters must be present but
// may be empty, in which case they are zero.
func PixelCoords(endpoint string) ([4]int, error) {
	p, q := splitEndpoint(endpoint)

	var tiles []int
	for _, s := range strings.Split(p, "/") {
		if s == "" {
			continue
		}
		if f, ok := numeric(s); ok {
			tiles = append(tiles, int(f))
		}
	}

	values, err := url.ParseQuery(q)
	if err != nil {
		return [4]int{}, tileoverlay.Validationf("malformed query in %q", endpoint)
	}

	if len(tiles) < 2 || !values.Has("x") || !values.Has("y") {
		return [4]int{}, tileoverlay.Validationf("invalid coordinates in %q", endpoint)
	}

	px, ok := coordinate(values.Get("x"))
	if !ok {
		return [4]int{}, tileoverlay.Validationf("invalid x coordinate in %q", endpoint)
	}
	py, ok := coordinate(values.Get("y"))
	if !ok {
		return [4]int{}, tileoverlay.Validationf("invalid y coordinate in %q", endpoint)
	}

	return [4]int{tiles[0], tiles[1], int(px), int(py)}, nil
}
