package bridge

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1 << 16,
	WriteBufferSize: 1 << 16,
	// The page lives on the host's origin, cross-origin access is decided
	// by the HTTP layer
	CheckOrigin: func(*http.Request) bool { return true },
}

type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) writeJSON(v interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return w.conn.WriteJSON(v)
}

// ServeHTTP upgrades the connection to a websocket and serves requests
// from it until it is closed
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("Unable to upgrade bridge connection")
		return
	}
	defer conn.Close()

	h.logger.WithField("remote", r.RemoteAddr).Info("Bridge connected")

	if err := h.Serve(r.Context(), conn); err != nil {
		h.logger.WithError(err).Warn("Bridge connection failed")
		return
	}

	h.logger.WithField("remote", r.RemoteAddr).Info("Bridge disconnected")
}

// Serve reads requests from conn and writes back responses. Requests are
// handled concurrently so responses may be written in any order. Messages
// that are not bridge requests are ignored.
func (h *Handler) Serve(ctx context.Context, conn *websocket.Conn) error {
	w := &wsWriter{conn: conn}

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}

		req, err := DecodeRequest(b)
		if err != nil {
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if resp := h.Handle(ctx, req); resp != nil {
				if err := w.writeJSON(resp); err != nil {
					h.logger.WithError(err).WithField("blobID", resp.BlobID).Warn("Unable to send response")
				}
			}
		}()
	}
}

// Client is the observer end of a websocket bridge
type Client struct {
	w       *wsWriter
	deliver func(*Response)
	done    chan struct{}
}

// Dial connects to the websocket bridge at url. Responses received are
// passed to deliver, typically Observer.Deliver.
func Dial(ctx context.Context, url string, deliver func(*Response)) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	c := &Client{
		w:       &wsWriter{conn: conn},
		deliver: deliver,
		done:    make(chan struct{}),
	}
	go c.readLoop()

	return c, nil
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		_, b, err := c.w.conn.ReadMessage()
		if err != nil {
			return
		}
		if resp, err := DecodeResponse(b); err == nil {
			c.deliver(resp)
		}
	}
}

// Send writes req to the bridge
func (c *Client) Send(_ context.Context, req *Request) error {
	return c.w.writeJSON(req)
}

// Done is closed once the connection has gone away
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close shuts the connection down cleanly
func (c *Client) Close() error {
	c.w.mu.Lock()
	err := c.w.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.w.mu.Unlock()

	select {
	case <-c.done:
	case <-time.After(writeWait):
	}

	if cerr := c.w.conn.Close(); err == nil {
		err = cerr
	}
	return err
}
