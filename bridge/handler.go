package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/bodgit/tileoverlay"
	"github.com/bodgit/tileoverlay/tile"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Compositor is the part of tileoverlay.Compositor used by the Handler
type Compositor interface {
	DrawTemplateOnTile(tileBytes []byte, key tile.Key) []byte
	SetUserID(id string)
}

// Handler is the privileged side of the bridge. It answers tile requests
// with composited tiles and turns observed user and pixel responses into UI
// updates.
type Handler struct {
	compositor Compositor
	ui         tileoverlay.UI
	logger     logrus.FieldLogger
	printer    *message.Printer

	mu         sync.Mutex
	lastCoords *[4]int
}

// NewHandler returns a Handler for the given compositor
func NewHandler(compositor Compositor, ui tileoverlay.UI, logger logrus.FieldLogger) *Handler {
	return &Handler{
		compositor: compositor,
		ui:         ui,
		logger:     logger,
		printer:    message.NewPrinter(language.English),
	}
}

// Handle processes a single request. A response is returned only for tile
// requests; everything else is observed.
func (h *Handler) Handle(ctx context.Context, req *Request) *Response {
	name := EndpointName(req.Endpoint)

	h.logger.WithFields(logrus.Fields{
		"endpoint": name,
		"blobID":   req.BlobID,
	}).Debug("Received message")

	switch name {
	case EndpointMe:
		h.updateUserInfo(req.JSONData)
	case EndpointPixel:
		h.handlePixel(req.Endpoint)
	case EndpointTiles:
		if len(req.BlobData) == 0 || req.BlobID == "" {
			return nil
		}
		return h.handleTile(req)
	}

	return nil
}

func (h *Handler) handleTile(req *Request) *Response {
	resp := &Response{
		Source:   SourceResponse,
		BlobID:   req.BlobID,
		BlobData: req.BlobData,
		Blink:    req.Blink,
	}

	key, err := TileKey(req.Endpoint)
	if err != nil {
		h.logger.WithError(err).Warn("Passing tile through unmodified")
		return resp
	}

	resp.BlobData = h.compositor.DrawTemplateOnTile(req.BlobData, key)

	return resp
}

type userInfo struct {
	Status        json.RawMessage `json:"status"`
	ID            json.RawMessage `json:"id"`
	Name          string          `json:"name"`
	Droplets      float64         `json:"droplets"`
	Level         float64         `json:"level"`
	PixelsPainted float64         `json:"pixelsPainted"`
}

func rawString(raw json.RawMessage) string {
	return strings.Trim(strings.TrimSpace(string(raw)), `"`)
}

// nextLevel returns the number of pixels still to paint to reach the next
// level
func nextLevel(level, painted float64) float64 {
	return math.Ceil(math.Pow(math.Floor(level)*math.Pow(30, 0.65), 1/0.65) - painted)
}

func (h *Handler) updateUserInfo(data json.RawMessage) {
	var info userInfo
	if err := json.Unmarshal(data, &info); err != nil {
		h.logger.WithError(err).Warn("Malformed user data")
		h.ui.DisplayError("Could not read the user data")
		return
	}

	if status := rawString(info.Status); status != "" && status != "null" && status[0] != '2' {
		h.ui.DisplayError("Could not fetch the user data. Are you logged in?")
		return
	}

	h.ui.UpdateText("ns-user-name", "User: "+info.Name)
	h.ui.UpdateText("ns-user-droplets", h.printer.Sprintf("Droplets: %d", int64(info.Droplets)))
	h.ui.UpdateText("ns-user-nextlevel", h.printer.Sprintf("Next level in %d pixels", int64(nextLevel(info.Level, info.PixelsPainted))))

	if id := rawString(info.ID); id != "" && id != "null" {
		h.compositor.SetUserID(id)
	}
}

func (h *Handler) handlePixel(endpoint string) {
	coords, err := PixelCoords(endpoint)
	if err != nil {
		h.logger.WithError(err).Debug("Rejected pixel coordinates")
		h.ui.DisplayError("Invalid coordinates received. Try clicking on the canvas first.")
		return
	}

	h.mu.Lock()
	h.lastCoords = &coords
	h.mu.Unlock()

	h.ui.DisplayStatus(fmt.Sprintf("Captured coordinates: [%d, %d, %d, %d]", coords[0], coords[1], coords[2], coords[3]))
	for i, id := range []string{"ns-input-tx", "ns-input-ty", "ns-input-px", "ns-input-py"} {
		h.ui.UpdateText(id, fmt.Sprint(coords[i]))
	}
}

// LastCoords returns the most recently captured pixel coordinates as an
// anchor
func (h *Handler) LastCoords() (tile.Anchor, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.lastCoords == nil {
		return tile.Anchor{}, false
	}
	c := h.lastCoords
	return tile.Anchor{TileX: c[0], TileY: c[1], PixelX: c[2], PixelY: c[3]}, true
}
