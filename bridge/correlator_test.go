package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type senderFunc func(context.Context, *Request) error

func (f senderFunc) Send(ctx context.Context, req *Request) error {
	return f(ctx, req)
}

// echoSender answers every request asynchronously with its own blob
func echoSender(c *Correlator) Sender {
	return senderFunc(func(_ context.Context, req *Request) error {
		go c.Resolve(&Response{Source: SourceResponse, BlobID: req.BlobID, BlobData: req.BlobData})
		return nil
	})
}

var silentSender = senderFunc(func(context.Context, *Request) error { return nil })

func TestCorrelatorCall(t *testing.T) {
	c := NewCorrelator(0, time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := &Request{Source: SourceRequest, Endpoint: "/tiles/0/0.png", BlobID: string(rune('A' + i)), BlobData: []byte{byte(i)}}
			resp, err := c.Call(context.Background(), echoSender(c), req)
			if assert.NoError(t, err) {
				assert.Equal(t, []byte{byte(i)}, resp.BlobData)
			}
		}(i)
	}
	wg.Wait()

	assert.Zero(t, c.Pending())
}

func TestCorrelatorTimeout(t *testing.T) {
	c := NewCorrelator(0, 20*time.Millisecond)

	_, err := c.Call(context.Background(), silentSender, &Request{BlobID: "late"})
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Zero(t, c.Pending())

	// A response arriving after the timeout is ignored
	assert.False(t, c.Resolve(&Response{BlobID: "late"}))
}

func TestCorrelatorCancelled(t *testing.T) {
	c := NewCorrelator(0, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Call(ctx, silentSender, &Request{BlobID: "cancelled"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, c.Pending())
}

func TestCorrelatorLimits(t *testing.T) {
	c := NewCorrelator(1, time.Minute)

	started := make(chan struct{})
	blocking := senderFunc(func(context.Context, *Request) error {
		close(started)
		return nil
	})

	done := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), blocking, &Request{BlobID: "first"})
		done <- err
	}()
	<-started

	_, err := c.Call(context.Background(), silentSender, &Request{BlobID: "first"})
	assert.ErrorIs(t, err, ErrDuplicateID)

	_, err = c.Call(context.Background(), silentSender, &Request{BlobID: "second"})
	assert.ErrorIs(t, err, ErrTooManyPending)

	require.True(t, c.Resolve(&Response{BlobID: "first"}))
	assert.NoError(t, <-done)

	// Unknown and repeated responses are ignored
	assert.False(t, c.Resolve(&Response{BlobID: "first"}))
	assert.False(t, c.Resolve(&Response{BlobID: "unknown"}))
}

func TestCorrelatorSendError(t *testing.T) {
	c := NewCorrelator(0, time.Minute)
	failed := errors.New("send failed")

	_, err := c.Call(context.Background(), senderFunc(func(context.Context, *Request) error { return failed }), &Request{BlobID: "x"})
	assert.ErrorIs(t, err, failed)
	assert.Zero(t, c.Pending())

	_, err = c.Call(context.Background(), silentSender, &Request{})
	assert.Error(t, err)
}
