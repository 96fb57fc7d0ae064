/*
Package tileoverlay is a library for previewing pixel art templates on top of a
tile based collaborative canvas.

Templates are split into per-tile chunks magnified by a grid factor and are
merged into tile images as they are fetched by the host page, so the host
renders the template without any change to its own code.
*/
package tileoverlay

import (
	"context"
	"io"
	"runtime"
	"sync"

	"github.com/bodgit/tileoverlay/tile"
	"github.com/dgraph-io/ristretto/v2"
	"github.com/sirupsen/logrus"
)

// DefaultScope is the persistence scope used until a user id is known
const DefaultScope = "default"

var defaultWorkers = runtime.NumCPU()

// Store persists the encoded template set of a scope. Load returns nil data
// and no error when nothing has been saved for the scope.
type Store interface {
	Save(ctx context.Context, scope string, data []byte) error
	Load(ctx context.Context, scope string) ([]byte, error)
}

// Compositor owns the set of active templates and merges them into tiles
type Compositor struct {
	mu         sync.RWMutex
	templates  map[string]*Template
	order      []string
	enabled    bool
	userID     string
	generation uint64

	// saveMu orders snapshots with their writes so a slow save never
	// overwrites a newer one
	saveMu sync.Mutex
	store  Store
	ui     UI
	logger logrus.FieldLogger
	cache  *ristretto.Cache[string, []byte]

	tileSize   int
	gridFactor int
	workers    int
	cacheSize  int64
}

// Option configures a Compositor
type Option func(*Compositor) error

// WithTileSize sets the edge length of a host tile, defaults to
// tile.DefaultSize
func WithTileSize(size int) Option {
	return func(c *Compositor) error {
		if size <= 0 {
			return Validationf("tile size %d must be positive", size)
		}
		c.tileSize = size
		return nil
	}
}

// WithGridFactor sets the magnification used both to decompose templates and
// to merge them into tiles, defaults to DefaultGridFactor
func WithGridFactor(factor int) Option {
	return func(c *Compositor) error {
		if factor < 1 || factor%2 == 0 {
			return Validationf("grid factor %d must be a positive odd number", factor)
		}
		c.gridFactor = factor
		return nil
	}
}

// WithWorkers sets the number of goroutines used to encode and decode
// chunks
func WithWorkers(n int) Option {
	return func(c *Compositor) error {
		if n > 0 {
			c.workers = n
		}
		return nil
	}
}

// WithCacheSize sets the maximum number of bytes of merged tiles to keep.
// Zero disables the cache.
func WithCacheSize(n int64) Option {
	return func(c *Compositor) error {
		c.cacheSize = n
		return nil
	}
}

// New returns a Compositor with templates enabled and no templates. store
// and ui may be nil.
func New(store Store, ui UI, logger logrus.FieldLogger, options ...Option) (*Compositor, error) {
	c := &Compositor{
		templates:  make(map[string]*Template),
		enabled:    true,
		store:      store,
		ui:         ui,
		logger:     logger,
		tileSize:   tile.DefaultSize,
		gridFactor: DefaultGridFactor,
		workers:    defaultWorkers,
		cacheSize:  64 << 20,
	}
	if c.ui == nil {
		c.ui = discardUI{}
	}
	if c.logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		c.logger = l
	}

	for _, option := range options {
		if err := option(c); err != nil {
			return nil, err
		}
	}

	if c.cacheSize > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
			NumCounters: 10000,
			MaxCost:     c.cacheSize,
			BufferItems: 64,
		})
		if err != nil {
			return nil, err
		}
		c.cache = cache
	}

	return c, nil
}

// Close releases the tile cache
func (c *Compositor) Close() error {
	if c.cache != nil {
		c.cache.Close()
	}
	return nil
}

// TileSize returns the tile size templates are decomposed with
func (c *Compositor) TileSize() int {
	return c.tileSize
}

// GridFactor returns the magnification templates are decomposed and merged
// with
func (c *Compositor) GridFactor() int {
	return c.gridFactor
}
