package server

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/bodgit/tileoverlay"
	"github.com/bodgit/tileoverlay/bridge"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func encodePNG(t *testing.T, m image.Image) []byte {
	t.Helper()
	b := new(bytes.Buffer)
	require.NoError(t, png.Encode(b, m))
	return b.Bytes()
}

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	m := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			m.SetNRGBA(x, y, c)
		}
	}
	return m
}

type fixture struct {
	compositor *tileoverlay.Compositor
	handler    http.Handler
	upstream   *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger, _ := test.NewNullLogger()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/tiles/") {
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(encodePNG(t, solid(4, 4, color.NRGBA{0, 0, 0xff, 0xff})))
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(upstream.Close)

	c, err := tileoverlay.New(nil, nil, logger, tileoverlay.WithTileSize(4), tileoverlay.WithGridFactor(3))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	h := bridge.NewHandler(c, tileoverlay.LogUI{Logger: logger}, logger)
	o := bridge.NewObserver(nil, bridge.NewCorrelator(0, 5*time.Second), logger)
	o.Sender = bridge.NewPipe(h, o.Deliver)

	u, err := url.Parse(upstream.URL)
	require.NoError(t, err)

	return &fixture{
		compositor: c,
		handler:    New(c, h, o, u, logger).Handler(),
		upstream:   upstream,
	}
}

func (f *fixture) do(r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, r)
	return w
}

func createRequest(t *testing.T, fields map[string]string, file []byte) *http.Request {
	t.Helper()
	body := new(bytes.Buffer)
	mw := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if file != nil {
		fw, err := mw.CreateFormFile("file", "template.png")
		require.NoError(t, err)
		_, err = fw.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	r := httptest.NewRequest(http.MethodPost, "/templates", body)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	return r
}

func (f *fixture) create(t *testing.T) string {
	t.Helper()
	w := f.do(createRequest(t, map[string]string{
		"name": "red",
		"tx":   "0",
		"ty":   "0",
		"px":   "1",
		"py":   "1",
	}, encodePNG(t, solid(2, 2, color.NRGBA{0xff, 0, 0, 0xff}))))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var body struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotEmpty(t, body.ID)
	return body.ID
}

func TestTemplates(t *testing.T) {
	f := newFixture(t)
	id := f.create(t)

	w := f.do(httptest.NewRequest(http.MethodGet, "/templates", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var list struct {
		Enabled   bool                   `json:"enabled"`
		Templates []tileoverlay.Summary `json:"templates"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.True(t, list.Enabled)
	require.Len(t, list.Templates, 1)
	assert.Equal(t, id, list.Templates[0].ID)
	assert.Equal(t, "red", list.Templates[0].DisplayName)
	assert.Equal(t, 4, list.Templates[0].PixelCount)

	// Export, remove and import again
	w = f.do(httptest.NewRequest(http.MethodGet, "/templates/export", nil))
	require.Equal(t, http.StatusOK, w.Code)
	exported := w.Body.Bytes()

	w = f.do(httptest.NewRequest(http.MethodDelete, "/templates/"+id, nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, f.compositor.Templates())

	w = f.do(httptest.NewRequest(http.MethodDelete, "/templates/"+id, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(httptest.NewRequest(http.MethodPost, "/templates/import", bytes.NewReader(exported)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, f.compositor.Templates(), 1)
	assert.Equal(t, id, f.compositor.Templates()[0].ID)

	w = f.do(httptest.NewRequest(http.MethodPost, "/templates/import", strings.NewReader("garbage")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateErrors(t *testing.T) {
	f := newFixture(t)

	w := f.do(createRequest(t, map[string]string{"tx": "0", "ty": "0", "px": "0", "py": "0"}, nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(createRequest(t, map[string]string{"tx": "0", "ty": "zero"}, []byte("x")))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(createRequest(t, map[string]string{"tx": "0", "ty": "0"}, encodePNG(t, solid(1, 1, color.NRGBA{A: 0xff}))))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// No coordinates given and none captured yet
	w = f.do(createRequest(t, nil, encodePNG(t, solid(1, 1, color.NRGBA{A: 0xff}))))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(createRequest(t, map[string]string{"tx": "0", "ty": "0", "px": "0", "py": "0"}, []byte("not an image")))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Empty(t, f.compositor.Templates())
}

func toggle(f *fixture, value string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, "/templates/toggle", strings.NewReader(url.Values{"enabled": {value}}.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return f.do(r)
}

func TestToggle(t *testing.T) {
	f := newFixture(t)

	w := toggle(f, "false")
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, f.compositor.Enabled())

	w = toggle(f, "true")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, f.compositor.Enabled())

	w = toggle(f, "maybe")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProxy(t *testing.T) {
	f := newFixture(t)
	f.create(t)

	w := f.do(httptest.NewRequest(http.MethodGet, "/tiles/0/0.png", nil))
	require.Equal(t, http.StatusOK, w.Code)

	m, err := png.Decode(w.Body)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 12, 12), m.Bounds())

	// Template pixel (0,0) lands at tile pixel (1,1), the centre of its cell
	// is red and the rest of the cell keeps the tile colour
	r, g, b, _ := m.At(4, 4).RGBA()
	assert.Equal(t, [3]uint32{0xffff, 0, 0}, [3]uint32{r, g, b})
	r, g, b, _ = m.At(3, 3).RGBA()
	assert.Equal(t, [3]uint32{0, 0, 0xffff}, [3]uint32{r, g, b})

	// Tiles without a template pass through untouched
	w = f.do(httptest.NewRequest(http.MethodGet, "/tiles/5/5.png", nil))
	require.Equal(t, http.StatusOK, w.Code)
	m, err = png.Decode(w.Body)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 4), m.Bounds())

	w = f.do(httptest.NewRequest(http.MethodGet, "/elsewhere", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
