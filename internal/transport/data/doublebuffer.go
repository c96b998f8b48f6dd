package data

import (
	"context"
	"io"

	"github.com/roethlar/blit/internal/buffer"
)

// doubleBufferedCopy streams src to dst using two pool buffers so that
// reading the next chunk from disk overlaps with writing the previous
// chunk to the socket. One goroutine fills buffers
// from src and hands them to a channel; the caller's goroutine drains the
// channel and writes each to dst, returning the buffer to the pool once
// written.
func doubleBufferedCopy(ctx context.Context, dst io.Writer, src io.Reader, pool *buffer.Pool, chunkBytes int, total int64) error {
	type chunk struct {
		buf []byte
		n   int
		err error
	}

	filled := make(chan chunk, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		defer close(filled)
		remaining := total
		for remaining > 0 {
			size := chunkBytes
			if int64(size) > remaining {
				size = int(remaining)
			}
			buf, err := pool.Get(ctx, size)
			if err != nil {
				select {
				case filled <- chunk{err: err}:
				case <-done:
				}
				return
			}
			n, err := io.ReadFull(src, buf[:size])
			if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
				pool.Put(buf)
				select {
				case filled <- chunk{err: err}:
				case <-done:
				}
				return
			}
			select {
			case filled <- chunk{buf: buf, n: n}:
			case <-done:
				pool.Put(buf)
				return
			}
			remaining -= int64(n)
		}
	}()

	for c := range filled {
		if c.err != nil {
			return c.err
		}
		if _, err := dst.Write(c.buf[:c.n]); err != nil {
			pool.Put(c.buf)
			return err
		}
		pool.Put(c.buf)
	}
	return nil
}
