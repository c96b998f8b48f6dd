package data

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roethlar/blit/internal/buffer"
	"github.com/roethlar/blit/pkg/errors"
	"github.com/roethlar/blit/pkg/types"
)

// smallFileThreshold is the largest entry size still eligible for
// tar-shard batching; at or above it an entry gets its own stream frame.
const smallFileThreshold = 4 * 1024 * 1024

// shardTargetBytes bounds how much content buildTarShard accumulates
// before the scheduler seals and dispatches a shard, independent of the
// facade's own (larger) batch caps.
const shardTargetBytes = 8 * 1024 * 1024

// OpenFunc resolves a transfer entry's source locator to its readable
// content. The sender never touches the filesystem directly so it can be
// driven from local disk or, for remote-to-remote transfers, from a pull
// side enumeration.
type OpenFunc func(types.Locator) (io.ReadCloser, error)

// Sender owns stream_count TCP connections to a negotiated data-plane
// endpoint and distributes transfer entries across whichever connection
// is next idle (work units are file-sized or shard-sized slices, never
// a single large file striped across streams).
type Sender struct {
	streams    []*streamConn
	pool       *buffer.Pool
	chunkBytes int
}

// DialSender opens every stream named by session and authenticates each
// with the negotiated token.
func DialSender(ctx context.Context, session types.NegotiatedSession, pool *buffer.Pool, chunkBytes int) (*Sender, error) {
	if chunkBytes <= 0 {
		chunkBytes = 1 << 20
	}
	streams := make([]*streamConn, 0, session.StreamCount)
	dialer := &net.Dialer{}

	for i := 0; i < session.StreamCount; i++ {
		nc, err := dialer.DialContext(ctx, "tcp", session.TCPEndpoint)
		if err != nil {
			closeAll(streams)
			return nil, wrapData(errors.ErrCodeConnectionFailed, "dial", err)
		}
		sc := newStreamConn(nc)
		if err := sc.writeToken(session.Token); err != nil {
			closeAll(streams)
			nc.Close()
			return nil, err
		}
		streams = append(streams, sc)
	}

	return &Sender{streams: streams, pool: pool, chunkBytes: chunkBytes}, nil
}

// AcceptSender accepts streamCount connections on ln and verifies each
// presents expectedToken before handing it to the sender, becoming the
// payload source over connections it accepted rather than dialed. This
// is the Pull-direction entry point: the daemon holding the files
// listens for the puller's data-plane connections, mirroring
// Receiver.ServeConn's role on the opposite direction.
func AcceptSender(ctx context.Context, ln net.Listener, expectedToken []byte, streamCount int, pool *buffer.Pool, chunkBytes int) (*Sender, error) {
	if chunkBytes <= 0 {
		chunkBytes = 1 << 20
	}
	streams := make([]*streamConn, 0, streamCount)

	for i := 0; i < streamCount; i++ {
		nc, err := ln.Accept()
		if err != nil {
			closeAll(streams)
			return nil, wrapData(errors.ErrCodeConnectionFailed, "accept", err)
		}
		sc := newStreamConn(nc)
		first, err := sc.readHeader()
		if err != nil {
			nc.Close()
			closeAll(streams)
			return nil, wrapData(errors.ErrCodeNetworkError, "read_token_frame", err)
		}
		if first.Kind != frameKindToken || !bytes.Equal(first.Token, expectedToken) {
			nc.Close()
			closeAll(streams)
			return nil, wrapData(errors.ErrCodeTokenRejected, "verify_token", fmt.Errorf("stream token mismatch"))
		}
		streams = append(streams, sc)
	}

	return &Sender{streams: streams, pool: pool, chunkBytes: chunkBytes}, nil
}

func closeAll(streams []*streamConn) {
	for _, s := range streams {
		s.nc.Close()
	}
}

// Close tears down every stream connection.
func (s *Sender) Close() error {
	var firstErr error
	for _, st := range s.streams {
		if err := st.nc.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// workItem is one unit the scheduler hands to an idle stream: either a
// single large file or a pre-built tar shard of small ones.
type workItem struct {
	file      *types.TransferEntry
	shard     *types.TarShard
	shardData []byte
}

// Send partitions entries into large-file and small-file-shard work
// items and fans them out across every open stream, so the stream that
// finishes its current item first picks up the next one.
func (s *Sender) Send(ctx context.Context, entries []types.TransferEntry, open OpenFunc) error {
	items, err := s.scheduleWork(entries, open)
	if err != nil {
		return err
	}

	work := make(chan workItem)
	g, gctx := errgroup.WithContext(ctx)

	for _, st := range s.streams {
		st := st
		g.Go(func() error {
			for {
				select {
				case item, ok := <-work:
					if !ok {
						return nil
					}
					if err := s.sendItem(gctx, st, item, open); err != nil {
						return err
					}
				case <-gctx.Done():
					return gctx.Err()
				}
			}
		})
	}

	g.Go(func() error {
		defer close(work)
		for _, item := range items {
			select {
			case work <- item:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	return g.Wait()
}

func (s *Sender) sendItem(ctx context.Context, st *streamConn, item workItem, open OpenFunc) error {
	if item.file != nil {
		rc, err := open(item.file.Src)
		if err != nil {
			return wrapData(errors.ErrCodeCopyFailed, "open_file_entry", err)
		}
		defer rc.Close()
		return st.writeFileFrame(ctx, item.file.Record, rc, s.pool, s.chunkBytes)
	}
	return st.writeTarShardFrame(*item.shard, item.shardData)
}

func (s *Sender) scheduleWork(entries []types.TransferEntry, open OpenFunc) ([]workItem, error) {
	var items []workItem
	var shardBatch []types.TransferEntry
	var shardBytes uint64

	flushShard := func() error {
		if len(shardBatch) == 0 {
			return nil
		}
		shard, data, err := buildTarShard(shardBatch, open)
		if err != nil {
			return err
		}
		items = append(items, workItem{shard: &shard, shardData: data})
		shardBatch = nil
		shardBytes = 0
		return nil
	}

	for i := range entries {
		entry := entries[i]
		if entry.Record.Size >= smallFileThreshold {
			if err := flushShard(); err != nil {
				return nil, err
			}
			items = append(items, workItem{file: &entry})
			continue
		}
		shardBatch = append(shardBatch, entry)
		shardBytes += entry.Record.Size
		if shardBytes >= shardTargetBytes {
			if err := flushShard(); err != nil {
				return nil, err
			}
		}
	}
	if err := flushShard(); err != nil {
		return nil, err
	}
	return items, nil
}

// idleTimeout is the 30 s per-stream idle bound. Neither Sender nor
// Receiver references it, so data-plane streams apply no idle timeout.
const idleTimeout = 30 * time.Second
