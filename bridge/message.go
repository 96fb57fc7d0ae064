package bridge

import (
	"encoding/json"
	"errors"
)

// Discriminators carried by every message so they can share a channel with
// unrelated traffic
const (
	SourceRequest  = "novo-script"
	SourceResponse = "novo-script-response"
)

// ErrProtocolMismatch is returned for messages that do not belong to the
// bridge. They should be dropped without further reporting.
var ErrProtocolMismatch = errors.New("bridge: protocol mismatch")

// Request is sent by the observer for every classified response it sees
type Request struct {
	Source   string          `json:"source"`
	Endpoint string          `json:"endpoint"`
	JSONData json.RawMessage `json:"jsonData,omitempty"`
	BlobData []byte          `json:"blobData,omitempty"`
	BlobID   string          `json:"blobID,omitempty"`
	Blink    json.RawMessage `json:"blink,omitempty"`
}

// Response carries the replacement bytes for the request with the same
// BlobID
type Response struct {
	Source   string          `json:"source"`
	BlobID   string          `json:"blobID"`
	BlobData []byte          `json:"blobData"`
	Blink    json.RawMessage `json:"blink,omitempty"`
}

// DecodeRequest decodes a request message
func DecodeRequest(b []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(b, &req); err != nil {
		return nil, ErrProtocolMismatch
	}
	if req.Source != SourceRequest || req.Endpoint == "" {
		return nil, ErrProtocolMismatch
	}
	return &req, nil
}

// DecodeResponse decodes a response message
func DecodeResponse(b []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(b, &resp); err != nil {
		return nil, ErrProtocolMismatch
	}
	if resp.Source != SourceResponse || resp.BlobID == "" {
		return nil, ErrProtocolMismatch
	}
	return &resp, nil
}
