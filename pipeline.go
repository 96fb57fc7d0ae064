package tileoverlay

import (
	"context"
	"image"
	"sync"

	"github.com/bodgit/tileoverlay/chunk"
	"github.com/bodgit/tileoverlay/tile"
)

type encodedChunk struct {
	key  tile.Key
	data string
}

type decodedChunk struct {
	key   tile.Key
	image *image.NRGBA
}

func emitKeys(ctx context.Context, keys []tile.Key) (<-chan tile.Key, <-chan error) {
	out := make(chan tile.Key)
	errc := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errc)
		for _, k := range keys {
			select {
			case out <- k:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
	}()
	return out, errc
}

func encodeWorker(ctx context.Context, chunks map[tile.Key]*image.NRGBA, in <-chan tile.Key, out chan<- encodedChunk) <-chan error {
	errc := make(chan error, 1)
	go func() {
		defer close(errc)
		for k := range in {
			s, err := chunk.EncodeToString(chunks[k])
			if err != nil {
				errc <- err
				return
			}
			select {
			case out <- encodedChunk{key: k, data: s}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return errc
}

func decodeWorker(ctx context.Context, encoded map[tile.Key]string, in <-chan tile.Key, out chan<- decodedChunk) <-chan error {
	errc := make(chan error, 1)
	go func() {
		defer close(errc)
		for k := range in {
			m, err := chunk.DecodeString(encoded[k])
			if err != nil {
				errc <- &DecodeError{What: "chunk " + k.String(), Err: err}
				return
			}
			select {
			case out <- decodedChunk{key: k, image: m}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return errc
}

func waitForPipeline(cancel context.CancelFunc, errs ...<-chan error) error {
	errc := mergeErrors(errs...)
	var first error
	for err := range errc {
		if err != nil && first == nil {
			first = err
			cancel()
		}
	}
	return first
}

func mergeErrors(cs ...<-chan error) <-chan error {
	var wg sync.WaitGroup
	out := make(chan error, len(cs))
	wg.Add(len(cs))
	for _, c := range cs {
		go func(c <-chan error) {
			for n := range c {
				out <- n
			}
			wg.Done()
		}(c)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

func keysOf[V any](m map[tile.Key]V) []tile.Key {
	keys := make([]tile.Key, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

// encodeChunks encodes every chunk using a pool of workers. Either every
// chunk is encoded or an error is returned.
func encodeChunks(ctx context.Context, chunks map[tile.Key]*image.NRGBA, workers int) (map[tile.Key]string, error) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	keys, errc := emitKeys(ctx, keysOf(chunks))
	errcList := []<-chan error{errc}

	results := make(chan encodedChunk)
	for i := 0; i < workers; i++ {
		errcList = append(errcList, encodeWorker(ctx, chunks, keys, results))
	}

	encoded := make(map[tile.Key]string, len(chunks))
	done := make(chan struct{})
	go func() {
		defer close(done)
		for r := range results {
			encoded[r.key] = r.data
		}
	}()

	err := waitForPipeline(cancelFunc, errcList...)
	close(results)
	<-done

	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return encoded, nil
}

// decodeChunks is the inverse of encodeChunks
func decodeChunks(ctx context.Context, encoded map[tile.Key]string, workers int) (map[tile.Key]*image.NRGBA, error) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	keys, errc := emitKeys(ctx, keysOf(encoded))
	errcList := []<-chan error{errc}

	results := make(chan decodedChunk)
	for i := 0; i < workers; i++ {
		errcList = append(errcList, decodeWorker(ctx, encoded, keys, results))
	}

	chunks := make(map[tile.Key]*image.NRGBA, len(encoded))
	done := make(chan struct{})
	go func() {
		defer close(done)
		for r := range results {
			chunks[r.key] = r.image
		}
	}()

	err := waitForPipeline(cancelFunc, errcList...)
	close(results)
	<-done

	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return chunks, nil
}
