/*
Package record implements the persisted form of a set of templates.

Only the data needed to rebuild a template without decomposing its source
image again is kept: the display name, the anchor, the tile size, the grid
factor and the encoded chunks keyed by their "x,y" tile key. The set is
stored as a single JSON document per user scope.
*/
package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// SchemaVersion is written into every encoded Set
const SchemaVersion = 1

// Template is the persisted form of a single template
type Template struct {
	DisplayName   string            `json:"displayName"`
	Coords        [4]int            `json:"coords"`
	TileSize      int               `json:"tileSize"`
	PixelGridSize int               `json:"pixelGridSize"`
	PixelCount    int               `json:"pixelCount,omitempty"`
	Chunks        map[string]string `json:"chunks"`
}

// Validate checks the template has the fields required to rebuild it
func (t *Template) Validate() error {
	switch {
	case t.TileSize <= 0:
		return fmt.Errorf("record: invalid tile size %d", t.TileSize)
	case t.PixelGridSize < 1 || t.PixelGridSize%2 == 0:
		return fmt.Errorf("record: pixel grid size %d is not a positive odd number", t.PixelGridSize)
	case len(t.Chunks) == 0:
		return errors.New("record: no chunks")
	}
	return nil
}

// Set is a collection of templates keyed by template id. It implements the
// encoding.BinaryMarshaler and encoding.BinaryUnmarshaler interfaces.
type Set struct {
	UserID    string
	templates map[string]Template
	order     []string
}

type jsonSet struct {
	SchemaVersion int                 `json:"schemaVersion"`
	UserID        string              `json:"whoami,omitempty"`
	Order         []string            `json:"order,omitempty"`
	Templates     map[string]Template `json:"templates"`
}

// New returns an empty set
func New() *Set {
	return &Set{
		templates: make(map[string]Template),
	}
}

// Length returns the number of templates in the set
func (s *Set) Length() int {
	return len(s.templates)
}

// Set stores the template under the given id, replacing any existing
// template with the same id but keeping its position
func (s *Set) Set(id string, t Template) {
	if _, ok := s.templates[id]; !ok {
		s.order = append(s.order, id)
	}
	s.templates[id] = t
}

// Get returns the template stored under id
func (s *Set) Get(id string) (Template, bool) {
	t, ok := s.templates[id]
	return t, ok
}

// IDs returns the template ids in the order they were added
func (s *Set) IDs() []string {
	return append(s.order[:0:0], s.order...)
}

// MarshalBinary encodes the set as JSON
func (s *Set) MarshalBinary() ([]byte, error) {
	return json.Marshal(jsonSet{
		SchemaVersion: SchemaVersion,
		UserID:        s.UserID,
		Order:         s.order,
		Templates:     s.templates,
	})
}

// UnmarshalBinary decodes a set previously encoded with MarshalBinary
func (s *Set) UnmarshalBinary(b []byte) error {
	var js jsonSet
	if err := json.Unmarshal(b, &js); err != nil {
		return err
	}
	if js.SchemaVersion > SchemaVersion {
		return fmt.Errorf("record: unsupported schema version %d", js.SchemaVersion)
	}

	s.UserID = js.UserID
	s.templates = make(map[string]Template, len(js.Templates))
	s.order = nil

	seen := make(map[string]struct{}, len(js.Templates))
	for _, id := range js.Order {
		if t, ok := js.Templates[id]; ok {
			if _, dup := seen[id]; !dup {
				seen[id] = struct{}{}
				s.Set(id, t)
			}
		}
	}

	// Anything missing from the order list is appended in id order
	var rest []string
	for id := range js.Templates {
		if _, ok := seen[id]; !ok {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	for _, id := range rest {
		s.Set(id, js.Templates[id])
	}

	return nil
}
