package tileoverlay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"strings"

	"github.com/bodgit/tileoverlay/record"
	"github.com/bodgit/tileoverlay/tile"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Summary describes a registered template
type Summary struct {
	ID          string      `json:"id"`
	DisplayName string      `json:"displayName"`
	Anchor      tile.Anchor `json:"anchor"`
	PixelCount  int         `json:"pixelCount"`
	Tiles       []string    `json:"tiles"`
	Colors      []string    `json:"colors,omitempty"`
}

func (c *Compositor) register(t *Template) {
	if _, ok := c.templates[t.ID]; !ok {
		c.order = append(c.order, t.ID)
	}
	c.templates[t.ID] = t
	c.generation++
}

// CreateTemplate decomposes the image in file anchored at anchor and
// registers the result. Nothing is registered if the image cannot be
// processed. A failure to persist the new template is reported to the user
// but does not fail the call.
func (c *Compositor) CreateTemplate(ctx context.Context, name string, file []byte, anchor *tile.Anchor) (string, error) {
	t := NewTemplate(name, file, anchor, c.tileSize, c.gridFactor)
	t.workers = c.workers

	if err := t.Process(ctx); err != nil {
		c.logger.WithError(err).WithField("template", name).Warn("Unable to create template")
		c.ui.DisplayError(err.Error())
		return "", err
	}
	t.ID = uuid.NewString()

	c.mu.Lock()
	c.register(t)
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"id":       t.ID,
		"template": t.DisplayName,
		"anchor":   t.Anchor.String(),
		"pixels":   t.PixelCount,
		"tiles":    len(t.Chunks),
	}).Info("Template created")

	c.ui.DisplayStatus(fmt.Sprintf("Template %q created with %d pixels across %d tiles", t.DisplayName, t.PixelCount, len(t.Chunks)))
	c.ui.UpdateText("ns-template-colors", strings.Join(hexColors(t), " "))

	if err := c.SaveTemplates(ctx); err != nil {
		c.ui.DisplayError("The template could not be saved and will be lost when the session ends")
	}

	return t.ID, nil
}

// RemoveTemplate unregisters the template with the given id and persists
// the remaining set
func (c *Compositor) RemoveTemplate(ctx context.Context, id string) (bool, error) {
	c.mu.Lock()
	if _, ok := c.templates[id]; !ok {
		c.mu.Unlock()
		return false, nil
	}
	delete(c.templates, id)
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.generation++
	c.mu.Unlock()

	c.logger.WithField("id", id).Info("Template removed")

	return true, c.SaveTemplates(ctx)
}

// Templates returns a summary of every registered template in registration
// order
func (c *Compositor) Templates() []Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	summaries := make([]Summary, 0, len(c.order))
	for _, id := range c.order {
		t := c.templates[id]
		s := Summary{
			ID:          t.ID,
			DisplayName: t.DisplayName,
			Anchor:      t.Anchor,
			PixelCount:  t.PixelCount,
			Colors:      hexColors(t),
		}
		for _, k := range t.Keys() {
			s.Tiles = append(s.Tiles, k.String())
		}
		summaries = append(summaries, s)
	}
	return summaries
}

func hexColors(t *Template) []string {
	colors := make([]string, 0, len(t.Colors))
	for _, c := range t.Colors {
		colors = append(colors, hexColor(c))
	}
	return colors
}

// ToggleTemplates enables or disables merging templates into tiles. The
// templates themselves are kept either way.
func (c *Compositor) ToggleTemplates(enable bool) {
	c.mu.Lock()
	c.enabled = enable
	c.mu.Unlock()

	if enable {
		c.ui.DisplayStatus("Templates enabled")
	} else {
		c.ui.DisplayStatus("Templates disabled")
	}
}

// Enabled reports whether templates are merged into tiles
func (c *Compositor) Enabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

// SetUserID scopes subsequent persistence to the given user
func (c *Compositor) SetUserID(id string) {
	c.mu.Lock()
	c.userID = id
	c.mu.Unlock()
}

// UserID returns the current user id, if any
func (c *Compositor) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Compositor) scope() string {
	if id := c.UserID(); id != "" {
		return id
	}
	return DefaultScope
}

// DrawTemplateOnTile merges every enabled template chunk for the tile key
// into the encoded tile image. The tile is magnified by the same grid factor
// the templates were decomposed with and chunks are drawn over it in
// registration order. The original bytes are returned untouched if no
// template covers the tile, templates are disabled or anything goes wrong.
func (c *Compositor) DrawTemplateOnTile(tileBytes []byte, key tile.Key) []byte {
	c.mu.RLock()
	if !c.enabled {
		c.mu.RUnlock()
		return tileBytes
	}
	var layers []*image.NRGBA
	for _, id := range c.order {
		if m, ok := c.templates[id].Chunks[key]; ok {
			layers = append(layers, m)
		}
	}
	generation := c.generation
	c.mu.RUnlock()

	if len(layers) == 0 {
		return tileBytes
	}

	cacheKey := fmt.Sprintf("%d|%s|%s", generation, key, checksum(tileBytes))
	if c.cache != nil {
		if b, ok := c.cache.Get(cacheKey); ok {
			return b
		}
	}

	b, err := c.merge(tileBytes, layers)
	if err != nil {
		c.logger.WithError(&CompositingError{Key: key.String(), Err: err}).Warn("Returning tile unmodified")
		return tileBytes
	}

	if c.cache != nil {
		c.cache.Set(cacheKey, b, int64(len(b)))
	}

	c.logger.WithFields(logrus.Fields{
		"tile":      key.String(),
		"templates": len(layers),
	}).Debug("Merged templates into tile")

	return b
}

func (c *Compositor) merge(tileBytes []byte, layers []*image.NRGBA) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(tileBytes))
	if err != nil {
		return nil, err
	}

	dst := magnify(asNRGBA(src), c.gridFactor)
	for _, m := range layers {
		over(dst, m)
	}

	b := new(bytes.Buffer)
	if err := png.Encode(b, dst); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// TemplatesForSaving returns the encoded form of every registered template
func (c *Compositor) TemplatesForSaving() ([]byte, error) {
	c.mu.RLock()
	set := record.New()
	set.UserID = c.userID
	for _, id := range c.order {
		set.Set(id, c.templates[id].Record())
	}
	c.mu.RUnlock()

	return set.MarshalBinary()
}

// SaveTemplates persists every registered template to the store under the
// current user scope
func (c *Compositor) SaveTemplates(ctx context.Context) error {
	if c.store == nil {
		return nil
	}

	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	data, err := c.TemplatesForSaving()
	if err != nil {
		return err
	}

	scope := c.scope()
	if err := c.store.Save(ctx, scope, data); err != nil {
		err = &PersistenceError{Scope: scope, Err: err}
		c.logger.WithError(err).Error("Unable to save templates")
		return err
	}

	c.logger.WithFields(logrus.Fields{
		"scope": scope,
		"bytes": len(data),
	}).Debug("Saved templates")

	return nil
}

// LoadTemplates rebuilds the templates persisted under the current user
// scope
func (c *Compositor) LoadTemplates(ctx context.Context) error {
	if c.store == nil {
		return nil
	}

	scope := c.scope()
	data, err := c.store.Load(ctx, scope)
	if err != nil {
		err = &PersistenceError{Scope: scope, Err: err}
		c.logger.WithError(err).Error("Unable to load templates")
		c.ui.DisplayError("Saved templates could not be loaded")
		return err
	}
	if data == nil {
		return nil
	}

	return c.LoadTemplatesFromData(ctx, data)
}

// LoadTemplatesFromData rebuilds templates from data previously returned by
// TemplatesForSaving. Only the stored chunks are decoded. Templates that
// cannot be rebuilt, or were decomposed with a different tile size or grid
// factor, are skipped and reported in the returned error; the rest are
// registered.
func (c *Compositor) LoadTemplatesFromData(ctx context.Context, data []byte) error {
	set := record.New()
	if err := set.UnmarshalBinary(data); err != nil {
		return &DecodeError{What: "template set", Err: err}
	}

	var (
		loaded []*Template
		errs   []error
	)
	for _, id := range set.IDs() {
		r, _ := set.Get(id)

		var (
			t   *Template
			err error
		)
		switch {
		case r.TileSize != c.tileSize:
			err = Validationf("template %q uses tile size %d, expected %d", r.DisplayName, r.TileSize, c.tileSize)
		case r.PixelGridSize != c.gridFactor:
			err = Validationf("template %q uses grid factor %d, expected %d", r.DisplayName, r.PixelGridSize, c.gridFactor)
		default:
			t, err = TemplateFromRecord(ctx, id, r)
		}
		if err != nil {
			c.logger.WithError(err).WithField("id", id).Warn("Skipping template")
			errs = append(errs, fmt.Errorf("template %s: %w", id, err))
			continue
		}
		loaded = append(loaded, t)
	}

	c.mu.Lock()
	for _, t := range loaded {
		c.register(t)
	}
	c.mu.Unlock()

	c.logger.WithField("templates", len(loaded)).Info("Loaded templates")
	c.ui.DisplayStatus(fmt.Sprintf("Loaded %d templates", len(loaded)))

	if len(errs) > 0 {
		c.ui.DisplayError(fmt.Sprintf("%d templates could not be loaded", len(errs)))
	}

	return errors.Join(errs...)
}
