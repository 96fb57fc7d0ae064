package bridge

import (
	"testing"

	"github.com/bodgit/tileoverlay"
	"github.com/bodgit/tileoverlay/tile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndpointName(t *testing.T) {
	tests := []struct {
		endpoint string
		name     string
	}{
		{"/me", "me"},
		{"https://backend.example.com/me", "me"},
		{"/s0/pixel/635/1241?x=3&y=4", "pixel"},
		{"/files/s0/tiles/12/34.png", "tiles"},
		{"/tiles/12/34.png?t=1", "tiles"},
		{"/alliance/", "alliance"},
		{"/123/456", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			assert.Equal(t, tt.name, EndpointName(tt.endpoint))
		})
	}
}

func TestTileKey(t *testing.T) {
	tests := []struct {
		endpoint string
		key      tile.Key
	}{
		{"/tiles/12/34.png", tile.Key{X: 12, Y: 34}},
		{"https://backend.example.com/files/s0/tiles/1088/678.png?cache=1", tile.Key{X: 1088, Y: 678}},
		{"/tiles/-1/0.png", tile.Key{X: -1, Y: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			k, err := TileKey(tt.endpoint)
			require.NoError(t, err)
			assert.Equal(t, tt.key, k)
		})
	}

	for _, endpoint := range []string{"/tiles/a/34.png", "/tiles/12/b.png", "/tiles"} {
		_, err := TileKey(endpoint)
		var verr *tileoverlay.ValidationError
		assert.ErrorAs(t, err, &verr, endpoint)
	}
}

func TestPixelCoords(t *testing.T) {
	coords, err := PixelCoords("/s0/pixel/635/1241?x=3&y=4")
	require.NoError(t, err)
	assert.Equal(t, [4]int{635, 1241, 3, 4}, coords)

	coords, err = PixelCoords("https://backend.example.com/s0/pixel/1/2?y=999&x=0")
	require.NoError(t, err)
	assert.Equal(t, [4]int{1, 2, 0, 999}, coords)

	// Present but empty parameters are zero
	coords, err = PixelCoords("/s0/pixel/635/1241?x=&y=")
	require.NoError(t, err)
	assert.Equal(t, [4]int{635, 1241, 0, 0}, coords)

	tests := []string{
		"/s0/pixel/635?x=3&y=4",
		"/s0/pixel/635/1241?x=3",
		"/s0/pixel/635/1241?y=4",
		"/s0/pixel/635/1241",
		"/s0/pixel/635/1241?x=three&y=4",
		"/s0/pixel/635/1241?x=3&y=NaN",
	}

	for _, endpoint := range tests {
		t.Run(endpoint, func(t *testing.T) {
			_, err := PixelCoords(endpoint)
			var verr *tileoverlay.ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestDecodeRequest(t *testing.T) {
	req, err := DecodeRequest([]byte(`{"source":"novo-script","endpoint":"/tiles/1/2.png","blobID":"abc","blobData":"AQID"}`))
	require.NoError(t, err)
	assert.Equal(t, "/tiles/1/2.png", req.Endpoint)
	assert.Equal(t, "abc", req.BlobID)
	assert.Equal(t, []byte{1, 2, 3}, req.BlobData)

	for _, b := range []string{
		`{"source":"something-else","endpoint":"/me"}`,
		`{"source":"novo-script"}`,
		`{"source":"novo-script-response","blobID":"abc"}`,
		`not json`,
	} {
		_, err := DecodeRequest([]byte(b))
		assert.ErrorIs(t, err, ErrProtocolMismatch, b)
	}
}

func TestDecodeResponse(t *testing.T) {
	resp, err := DecodeResponse([]byte(`{"source":"novo-script-response","blobID":"abc","blobData":"AQID","blink":42}`))
	require.NoError(t, err)
	assert.Equal(t, "abc", resp.BlobID)
	assert.Equal(t, []byte{1, 2, 3}, resp.BlobData)
	assert.JSONEq(t, `42`, string(resp.Blink))

	for _, b := range []string{
		`{"source":"novo-script","blobID":"abc"}`,
		`{"source":"novo-script-response"}`,
		`[]`,
	} {
		_, err := DecodeResponse([]byte(b))
		assert.ErrorIs(t, err, ErrProtocolMismatch, b)
	}
}
