package bridge

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Defaults used by NewCorrelator when given zero values
const (
	DefaultMaxPending = 256
	DefaultTimeout    = 10 * time.Second
)

var (
	// ErrTimeout is returned when no response arrives in time
	ErrTimeout = errors.New("bridge: timed out waiting for response")
	// ErrTooManyPending is returned when the correlation table is full
	ErrTooManyPending = errors.New("bridge: too many pending requests")
	// ErrDuplicateID is returned when a request reuses a pending blob id
	ErrDuplicateID = errors.New("bridge: duplicate blob id")
	errNoBlobID    = errors.New("bridge: request has no blob id")
)

// Sender delivers requests to the privileged side
type Sender interface {
	Send(ctx context.Context, req *Request) error
}

// Correlator pairs requests with their responses by blob id. The table is
// bounded and every entry is removed when its call returns, whether a
// response arrived or not.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]chan *Response
	limit   int
	timeout time.Duration
}

// NewCorrelator returns a Correlator holding at most limit outstanding
// requests, each waiting no longer than timeout
func NewCorrelator(limit int, timeout time.Duration) *Correlator {
	if limit <= 0 {
		limit = DefaultMaxPending
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Correlator{
		pending: make(map[string]chan *Response),
		limit:   limit,
		timeout: timeout,
	}
}

func (c *Correlator) register(id string) (chan *Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.pending[id]; ok {
		return nil, ErrDuplicateID
	}
	if len(c.pending) >= c.limit {
		return nil, ErrTooManyPending
	}

	ch := make(chan *Response, 1)
	c.pending[id] = ch
	return ch, nil
}

func (c *Correlator) forget(id string, ch chan *Response) {
	c.mu.Lock()
	if c.pending[id] == ch {
		delete(c.pending, id)
	}
	c.mu.Unlock()
}

// Call sends req with s and waits for the response with the same blob id
func (c *Correlator) Call(ctx context.Context, s Sender, req *Request) (*Response, error) {
	if req.BlobID == "" {
		return nil, errNoBlobID
	}

	ch, err := c.register(req.BlobID)
	if err != nil {
		return nil, err
	}
	defer c.forget(req.BlobID, ch)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := s.Send(ctx, req); err != nil {
		return nil, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
}

// Resolve hands resp to the call waiting for it. It reports false if no
// call is waiting, for example because it already timed out.
func (c *Correlator) Resolve(resp *Response) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, ok := c.pending[resp.BlobID]
	if !ok {
		return false
	}
	delete(c.pending, resp.BlobID)
	ch <- resp

	return true
}

// Pending returns the number of calls waiting for a response
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
