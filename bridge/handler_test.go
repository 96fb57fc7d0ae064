package bridge

import (
	"context"
	"sync"
	"testing"

	"github.com/bodgit/tileoverlay/tile"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCompositor struct {
	mu     sync.Mutex
	keys   []tile.Key
	userID string
}

func (c *fakeCompositor) DrawTemplateOnTile(b []byte, key tile.Key) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys = append(c.keys, key)
	return append([]byte("composited:"), b...)
}

func (c *fakeCompositor) SetUserID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = id
}

type recordingUI struct {
	mu       sync.Mutex
	text     map[string]string
	statuses []string
	errors   []string
}

func newRecordingUI() *recordingUI {
	return &recordingUI{text: make(map[string]string)}
}

func (u *recordingUI) UpdateText(id, value string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.text[id] = value
}

func (u *recordingUI) DisplayStatus(msg string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.statuses = append(u.statuses, msg)
}

func (u *recordingUI) DisplayError(msg string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.errors = append(u.errors, msg)
}

func newTestHandler() (*Handler, *fakeCompositor, *recordingUI) {
	logger, _ := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	c := &fakeCompositor{}
	ui := newRecordingUI()
	return NewHandler(c, ui, logger), c, ui
}

func TestHandleTile(t *testing.T) {
	h, c, _ := newTestHandler()

	resp := h.Handle(context.Background(), &Request{
		Source:   SourceRequest,
		Endpoint: "https://backend.example.com/files/s0/tiles/7/9.png",
		BlobID:   "blob",
		BlobData: []byte("tile"),
		Blink:    []byte(`123`),
	})
	require.NotNil(t, resp)
	assert.Equal(t, SourceResponse, resp.Source)
	assert.Equal(t, "blob", resp.BlobID)
	assert.Equal(t, []byte("composited:tile"), resp.BlobData)
	assert.Equal(t, `123`, string(resp.Blink))
	assert.Equal(t, []tile.Key{{X: 7, Y: 9}}, c.keys)

	// Tiles without usable coordinates are echoed back untouched
	resp = h.Handle(context.Background(), &Request{
		Source:   SourceRequest,
		Endpoint: "/tiles/latest.png",
		BlobID:   "other",
		BlobData: []byte("tile"),
	})
	require.NotNil(t, resp)
	assert.Equal(t, []byte("tile"), resp.BlobData)
	assert.Len(t, c.keys, 1)

	// Nothing to reply to without a blob
	assert.Nil(t, h.Handle(context.Background(), &Request{Source: SourceRequest, Endpoint: "/tiles/1/1.png"}))
}

func TestHandleMe(t *testing.T) {
	h, c, ui := newTestHandler()

	resp := h.Handle(context.Background(), &Request{
		Source:   SourceRequest,
		Endpoint: "/me",
		JSONData: []byte(`{"id":4242,"name":"painter","droplets":12345,"level":2.5,"pixelsPainted":10}`),
	})
	assert.Nil(t, resp)

	assert.Equal(t, "User: painter", ui.text["ns-user-name"])
	assert.Equal(t, "Droplets: 12,345", ui.text["ns-user-droplets"])
	assert.Equal(t, "Next level in 78 pixels", ui.text["ns-user-nextlevel"])
	assert.Equal(t, "4242", c.userID)
	assert.Empty(t, ui.errors)
}

func TestHandleMeErrors(t *testing.T) {
	h, c, ui := newTestHandler()

	h.Handle(context.Background(), &Request{
		Source:   SourceRequest,
		Endpoint: "/me",
		JSONData: []byte(`{"status":401,"id":1}`),
	})
	h.Handle(context.Background(), &Request{
		Source:   SourceRequest,
		Endpoint: "/me",
		JSONData: []byte(`not json`),
	})

	assert.Len(t, ui.errors, 2)
	assert.Empty(t, ui.text)
	assert.Empty(t, c.userID)
}

func TestHandlePixel(t *testing.T) {
	h, _, ui := newTestHandler()

	_, ok := h.LastCoords()
	assert.False(t, ok)

	h.Handle(context.Background(), &Request{Source: SourceRequest, Endpoint: "/s0/pixel/635/1241?x=3&y=4"})

	anchor, ok := h.LastCoords()
	require.True(t, ok)
	assert.Equal(t, tile.Anchor{TileX: 635, TileY: 1241, PixelX: 3, PixelY: 4}, anchor)
	assert.Equal(t, map[string]string{
		"ns-input-tx": "635",
		"ns-input-ty": "1241",
		"ns-input-px": "3",
		"ns-input-py": "4",
	}, ui.text)
	assert.Len(t, ui.statuses, 1)

	// Invalid coordinates are reported and the last good ones are kept
	h.Handle(context.Background(), &Request{Source: SourceRequest, Endpoint: "/s0/pixel/635?x=3&y=4"})
	assert.Len(t, ui.errors, 1)
	anchor, ok = h.LastCoords()
	require.True(t, ok)
	assert.Equal(t, 635, anchor.TileX)
}

func TestNextLevel(t *testing.T) {
	assert.Equal(t, 78.0, nextLevel(2.5, 10))
	assert.Equal(t, 78.0, nextLevel(2, 10))
}
