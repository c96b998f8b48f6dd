// Package data implements the C11 data plane: after control-plane
// negotiation, the client opens stream_count TCP connections to the
// advertised endpoint and moves payload bytes across them, large files
// as individual streams and runs of small files batched into tar shards.
// A gRPC fallback (see grpcfallback.go) takes over when the TCP endpoint
// is unreachable or the server forces it.
package data

import (
	"context"
	"encoding/gob"
	"io"
	"net"

	"github.com/roethlar/blit/internal/buffer"
	"github.com/roethlar/blit/pkg/errors"
	"github.com/roethlar/blit/pkg/types"
)

// frameKind discriminates the frames multiplexed onto one data stream.
// Every frame begins with a gob-encoded frameHeader; frameKindFile and
// frameKindTarShard are immediately followed by BodyBytes of raw payload
// read straight off the connection, kept off the gob wire entirely so large bodies never
// pay gob's per-element encoding cost.
type frameKind int

const (
	frameKindToken frameKind = iota
	frameKindFile
	frameKindTarShard
)

type frameHeader struct {
	Kind      frameKind
	Token     []byte
	Record    types.FileRecord
	Shard     types.TarShard
	BodyBytes int64
}

// streamConn pairs a net.Conn with the gob encoder/decoder bound to it for
// frame headers; body bytes are read/written directly against nc.
type streamConn struct {
	nc  net.Conn
	enc *gob.Encoder
	dec *gob.Decoder
}

func newStreamConn(nc net.Conn) *streamConn {
	return &streamConn{nc: nc, enc: gob.NewEncoder(nc), dec: gob.NewDecoder(connByteReader{nc})}
}

// connByteReader gives gob an io.ByteReader over nc so that gob does not
// wrap nc in its own bufio.Reader, which would read ahead past a frame
// header into the raw body bytes that follow it.
type connByteReader struct{ io.Reader }

func (r connByteReader) ReadByte() (byte, error) {
	var b [1]byte
	_, err := io.ReadFull(r.Reader, b[:])
	return b[0], err
}

func (s *streamConn) writeToken(token []byte) error {
	return s.enc.Encode(frameHeader{Kind: frameKindToken, Token: token})
}

func (s *streamConn) readHeader() (frameHeader, error) {
	var h frameHeader
	if err := s.dec.Decode(&h); err != nil {
		return frameHeader{}, err
	}
	return h, nil
}

// writeFileFrame sends one large file's header followed by its body,
// using doubleBufferedCopy so disk reads overlap with socket writes.
func (s *streamConn) writeFileFrame(ctx context.Context, rec types.FileRecord, body io.Reader, pool *buffer.Pool, chunkBytes int) error {
	if err := s.enc.Encode(frameHeader{Kind: frameKindFile, Record: rec, BodyBytes: int64(rec.Size)}); err != nil {
		return wrapData(errors.ErrCodeNetworkError, "write_file_header", err)
	}
	if err := doubleBufferedCopy(ctx, s.nc, body, pool, chunkBytes, int64(rec.Size)); err != nil {
		return wrapData(errors.ErrCodeCopyFailed, "write_file_body", err)
	}
	return nil
}

// readFileBody copies exactly BodyBytes from the connection into dst.
func (s *streamConn) readFileBody(dst io.Writer, bodyBytes int64, chunk []byte) error {
	_, err := io.CopyBuffer(dst, io.LimitReader(s.nc, bodyBytes), chunk)
	if err != nil {
		return wrapData(errors.ErrCodeCopyFailed, "read_file_body", err)
	}
	return nil
}

// writeTarShardFrame sends a shard header followed by tarBytes raw bytes
// (a complete, self-delimiting archive/tar stream written by the caller).
func (s *streamConn) writeTarShardFrame(shard types.TarShard, tarBytes []byte) error {
	if err := s.enc.Encode(frameHeader{Kind: frameKindTarShard, Shard: shard, BodyBytes: int64(len(tarBytes))}); err != nil {
		return wrapData(errors.ErrCodeNetworkError, "write_tar_shard_header", err)
	}
	if _, err := s.nc.Write(tarBytes); err != nil {
		return wrapData(errors.ErrCodeNetworkError, "write_tar_shard_body", err)
	}
	return nil
}

func wrapData(code errors.ErrorCode, op string, err error) error {
	return errors.NewError(code, "data plane "+op+" failed").
		WithComponent("transport/data").WithOperation(op).WithCause(err)
}
