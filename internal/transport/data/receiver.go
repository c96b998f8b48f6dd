package data

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/roethlar/blit/pkg/errors"
	"github.com/roethlar/blit/pkg/types"
)

// DefaultUnpackWorkers bounds how many tar shards may be unpacked
// concurrently per Receiver, independent of how many streams are
// delivering them.
const DefaultUnpackWorkers = 4

// Receiver accepts data-plane stream connections carrying a previously
// negotiated token, writing large-file bodies straight to disk and
// handing tar shards to a bounded worker pool so unpacking never blocks
// a stream's ability to read its next frame.
type Receiver struct {
	destRoot      types.Locator
	expectedToken []byte
	sem           chan struct{}

	wg      sync.WaitGroup
	mu      sync.Mutex
	firstErr error
}

// NewReceiver builds a Receiver rooted at destRoot, accepting only
// streams that present expectedToken. unpackWorkers <= 0 uses
// DefaultUnpackWorkers.
func NewReceiver(destRoot types.Locator, expectedToken []byte, unpackWorkers int) *Receiver {
	if unpackWorkers <= 0 {
		unpackWorkers = DefaultUnpackWorkers
	}
	return &Receiver{
		destRoot:      destRoot,
		expectedToken: expectedToken,
		sem:           make(chan struct{}, unpackWorkers),
	}
}

// ServeConn reads frames from one accepted stream connection until EOF
// or a protocol error, dispatching each to the matching handler. The
// first frame must be the stream's token. This is the Push-direction
// entry point: the receiver accepts connections the payload sender
// dialed.
func (r *Receiver) ServeConn(ctx context.Context, nc net.Conn) error {
	sc := newStreamConn(nc)

	first, err := sc.readHeader()
	if err != nil {
		return wrapData(errors.ErrCodeNetworkError, "read_token_frame", err)
	}
	if first.Kind != frameKindToken || !bytes.Equal(first.Token, r.expectedToken) {
		return wrapData(errors.ErrCodeTokenRejected, "verify_token", fmt.Errorf("stream token mismatch"))
	}

	return r.serveFrames(ctx, sc)
}

// DialReceiver dials every stream named by session and presents the
// negotiated token on each, then serves frames on them concurrently.
// This is the Pull-direction entry point: the receiver dials out to the
// daemon that is about to send payload bytes, mirroring DialSender's
// role on the opposite direction. Callers must call Wait to block until
// every dialed stream and in-flight shard unpack has finished.
func DialReceiver(ctx context.Context, session types.NegotiatedSession, destRoot types.Locator, unpackWorkers int) (*Receiver, error) {
	r := NewReceiver(destRoot, session.Token, unpackWorkers)
	dialer := &net.Dialer{}

	conns := make([]net.Conn, 0, session.StreamCount)
	for i := 0; i < session.StreamCount; i++ {
		nc, err := dialer.DialContext(ctx, "tcp", session.TCPEndpoint)
		if err != nil {
			closeConns(conns)
			return nil, wrapData(errors.ErrCodeConnectionFailed, "dial_receiver", err)
		}
		sc := newStreamConn(nc)
		if err := sc.writeToken(session.Token); err != nil {
			nc.Close()
			closeConns(conns)
			return nil, err
		}
		conns = append(conns, nc)
	}

	r.wg.Add(len(conns))
	for _, nc := range conns {
		nc := nc
		go func() {
			defer r.wg.Done()
			if err := r.serveFrames(ctx, newStreamConn(nc)); err != nil {
				r.recordErr(err)
			}
		}()
	}
	return r, nil
}

func closeConns(conns []net.Conn) {
	for _, nc := range conns {
		nc.Close()
	}
}

// serveFrames loops reading frames off an already-authenticated stream
// connection until EOF or a protocol error.
func (r *Receiver) serveFrames(ctx context.Context, sc *streamConn) error {
	chunk := make([]byte, 1<<20)
	for {
		h, err := sc.readHeader()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return wrapData(errors.ErrCodeNetworkError, "read_frame_header", err)
		}

		switch h.Kind {
		case frameKindFile:
			if err := r.receiveFile(sc, h, chunk); err != nil {
				return err
			}
		case frameKindTarShard:
			if err := r.receiveShard(ctx, sc, h); err != nil {
				return err
			}
		default:
			return wrapData(errors.ErrCodeProtocolUnexpectedMessage, "read_frame_header",
				fmt.Errorf("unexpected frame kind %d", h.Kind))
		}
	}
}

func (r *Receiver) receiveFile(sc *streamConn, h frameHeader, chunk []byte) error {
	dest := joinDestPath(r.destRoot, h.Record.Path)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return wrapData(errors.ErrCodeCopyFailed, "mkdir_file_dest", err)
	}

	mode := os.FileMode(h.Record.Mode & 0o777)
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return wrapData(errors.ErrCodeCopyFailed, "open_file_dest", err)
	}
	if err := sc.readFileBody(f, h.BodyBytes, chunk); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return wrapData(errors.ErrCodeCopyFailed, "close_file_dest", err)
	}

	if err := os.Chmod(dest, mode); err != nil {
		return wrapData(errors.ErrCodeCopyFailed, "chmod_file_dest", err)
	}
	if err := os.Chtimes(dest, time.Now(), h.Record.MTime.Std()); err != nil {
		return wrapData(errors.ErrCodeCopyFailed, "chtimes_file_dest", err)
	}
	return nil
}

// receiveShard reads the shard's raw bytes off the wire synchronously
// (so the frame boundary is respected) but unpacks it on a pooled
// background goroutine, letting the stream move on to its next frame
// while the unpack runs.
func (r *Receiver) receiveShard(ctx context.Context, sc *streamConn, h frameHeader) error {
	buf := make([]byte, h.BodyBytes)
	if _, err := io.ReadFull(sc.nc, buf); err != nil {
		return wrapData(errors.ErrCodeCopyFailed, "read_tar_shard_body", err)
	}

	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	destRoot := r.destRoot
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() { <-r.sem }()
		if _, err := unpackTarShard(bytes.NewReader(buf), string(destRoot), joinDestString); err != nil {
			r.recordErr(err)
		}
	}()
	return nil
}

func (r *Receiver) recordErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.firstErr == nil {
		r.firstErr = err
	}
}

// Wait blocks until every in-flight shard unpack has finished and
// returns the first error any of them reported, if any.
func (r *Receiver) Wait() error {
	r.wg.Wait()
	return r.firstErr
}

func joinDestPath(root types.Locator, rel string) string {
	return filepath.Join(string(root), rel)
}

func joinDestString(root, rel string) string {
	return filepath.Join(root, rel)
}
