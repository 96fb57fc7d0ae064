package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Observer is an http.RoundTripper that forwards the responses of the host
// endpoints to the privileged side. Tile images are held until the
// correlated reply arrives and are replaced by it; everything else is only
// observed.
type Observer struct {
	next       http.RoundTripper
	correlator *Correlator
	logger     logrus.FieldLogger

	// Sender must be set before the Observer is used
	Sender Sender
}

// NewObserver returns an Observer wrapping next, or
// http.DefaultTransport if next is nil
func NewObserver(next http.RoundTripper, correlator *Correlator, logger logrus.FieldLogger) *Observer {
	if next == nil {
		next = http.DefaultTransport
	}
	return &Observer{
		next:       next,
		correlator: correlator,
		logger:     logger,
	}
}

// Deliver passes a response received from the privileged side to the
// request waiting for it
func (o *Observer) Deliver(resp *Response) {
	if !o.correlator.Resolve(resp) {
		o.logger.WithField("blobID", resp.BlobID).Debug("Dropping uncorrelated response")
	}
}

func replaceBody(resp *http.Response, b []byte) {
	resp.Body = io.NopCloser(bytes.NewReader(b))
	resp.ContentLength = int64(len(b))
	resp.Header.Set("Content-Length", strconv.Itoa(len(b)))
}

// RoundTrip implements http.RoundTripper
func (o *Observer) RoundTrip(r *http.Request) (*http.Response, error) {
	resp, err := o.next.RoundTrip(r)
	if err != nil {
		return nil, err
	}

	endpoint := r.URL.String()
	name := EndpointName(r.URL.Path)

	switch name {
	case EndpointTiles:
		if resp.StatusCode != http.StatusOK {
			return resp, nil
		}
		return o.substitute(r, resp, endpoint)
	case EndpointMe, EndpointPixel:
		b, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}
		replaceBody(resp, b)

		req := &Request{
			Source:   SourceRequest,
			Endpoint: endpoint,
		}
		if json.Valid(b) {
			req.JSONData = b
		}
		if err := o.Sender.Send(r.Context(), req); err != nil {
			o.logger.WithError(err).WithField("endpoint", name).Warn("Unable to forward response")
		}
	}

	return resp, nil
}

func (o *Observer) substitute(r *http.Request, resp *http.Response, endpoint string) (*http.Response, error) {
	b, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}

	req := &Request{
		Source:   SourceRequest,
		Endpoint: endpoint,
		BlobData: b,
		BlobID:   uuid.NewString(),
	}

	logger := o.logger.WithFields(logrus.Fields{
		"endpoint": endpoint,
		"blobID":   req.BlobID,
	})

	reply, err := o.correlator.Call(r.Context(), o.Sender, req)
	if err != nil {
		logger.WithError(err).Warn("Serving original tile")
		replaceBody(resp, b)
		return resp, nil
	}

	replaceBody(resp, reply.BlobData)
	if !bytes.Equal(reply.BlobData, b) {
		logger.Debug("Serving composited tile")
		resp.Header.Set("Content-Type", "image/png")
		resp.Header.Del("Etag")
		resp.Header.Del("Content-Encoding")
	}

	return resp, nil
}

// Pipe is a Sender connecting an Observer to a Handler in the same process
type Pipe struct {
	handler *Handler
	deliver func(*Response)
}

// NewPipe returns a Pipe passing requests to h and replies to deliver,
// typically Observer.Deliver
func NewPipe(h *Handler, deliver func(*Response)) *Pipe {
	return &Pipe{
		handler: h,
		deliver: deliver,
	}
}

// Send hands req to the Handler without waiting for it to be processed
func (p *Pipe) Send(ctx context.Context, req *Request) error {
	ctx = context.WithoutCancel(ctx)
	go func() {
		if resp := p.handler.Handle(ctx, req); resp != nil {
			p.deliver(resp)
		}
	}()
	return nil
}
