package data

import (
	"bytes"
	"context"
	"encoding/gob"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/roethlar/blit/pkg/errors"
	"github.com/roethlar/blit/pkg/types"
)

// grpcChunkBytes bounds each fallback sub-chunk to 1 MiB, matching the
// TCP path's first-byte-latency expectations on links where the direct
// data-plane port is unreachable.
const grpcChunkBytes = 1 << 20

// serviceName and methodName name the single bidirectional-streaming
// RPC the fallback exposes. There is no .proto file behind it: the
// service is registered with a hand-written grpc.ServiceDesc carrying
// wrapperspb.BytesValue frames, each holding an opaque gob-encoded
// frameHeader-plus-body envelope, so the fallback speaks real gRPC wire
// framing without needing a generated stub.
const serviceName = "blit.data.FallbackTransfer"
const methodName = "Stream"

// grpcEnvelope is the sole payload gob-encoded into every
// wrapperspb.BytesValue exchanged over the fallback stream.
type grpcEnvelope struct {
	Header frameHeader
	Body   []byte // at most grpcChunkBytes; BodyBytes on Header may span several envelopes
}

func encodeEnvelope(env grpcEnvelope) (*wrapperspb.BytesValue, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(env); err != nil {
		return nil, wrapData(errors.ErrCodeNetworkError, "encode_grpc_envelope", err)
	}
	return wrapperspb.Bytes(buf.Bytes()), nil
}

func decodeEnvelope(msg *wrapperspb.BytesValue) (grpcEnvelope, error) {
	var env grpcEnvelope
	if err := gob.NewDecoder(bytes.NewReader(msg.GetValue())).Decode(&env); err != nil {
		return grpcEnvelope{}, wrapData(errors.ErrCodeProtocolUnexpectedMessage, "decode_grpc_envelope", err)
	}
	return env, nil
}

// fallbackHandlerFunc processes one inbound envelope from a fallback
// client; NewFallbackServiceDesc closes over one to build the
// hand-registered service.
type fallbackHandlerFunc func(ctx context.Context, env grpcEnvelope) error

// NewFallbackServiceDesc builds the fallback RPC's ServiceDesc without
// any generated stub, dispatching every inbound envelope to handle. This
// mirrors the shape protoc-gen-go-grpc would generate for a `stream
// BytesValue returns (stream BytesValue)` RPC, but the handler is bound
// by closure instead of through a generated server interface, since no
// .proto file is compiled for this service.
func NewFallbackServiceDesc(handle fallbackHandlerFunc) *grpc.ServiceDesc {
	return &grpc.ServiceDesc{
		ServiceName: serviceName,
		HandlerType: (*any)(nil),
		Methods:     []grpc.MethodDesc{},
		Streams: []grpc.StreamDesc{
			{
				StreamName: methodName,
				Handler: func(_ any, stream grpc.ServerStream) error {
					return runFallbackStreamHandler(stream, handle)
				},
				ServerStreams: true,
				ClientStreams: true,
			},
		},
		Metadata: "blit/data/grpcfallback.go",
	}
}

func runFallbackStreamHandler(stream grpc.ServerStream, handle fallbackHandlerFunc) error {
	ctx := stream.Context()

	for {
		var msg wrapperspb.BytesValue
		if err := stream.RecvMsg(&msg); err != nil {
			if err == io.EOF {
				return nil
			}
			return wrapData(errors.ErrCodeNetworkError, "grpc_fallback_recv", err)
		}
		env, err := decodeEnvelope(&msg)
		if err != nil {
			return err
		}
		if handle != nil {
			if err := handle(ctx, env); err != nil {
				return err
			}
		}
	}
}

// FallbackClient drives the client side of the fallback stream over an
// established grpc.ClientConn, sending file bodies as grpcChunkBytes
// sub-chunks. It has no tar-shard send path.
type FallbackClient struct {
	stream grpc.ClientStream
}

// NewFallbackClient opens the bidirectional fallback stream.
func NewFallbackClient(ctx context.Context, cc grpc.ClientConnInterface) (*FallbackClient, error) {
	desc := &grpc.StreamDesc{StreamName: methodName, ServerStreams: true, ClientStreams: true}
	stream, err := cc.NewStream(ctx, desc, "/"+serviceName+"/"+methodName)
	if err != nil {
		return nil, wrapData(errors.ErrCodeConnectionFailed, "grpc_fallback_dial", err)
	}
	return &FallbackClient{stream: stream}, nil
}

// SendFile streams rec's body in grpcChunkBytes sub-chunks over the
// fallback RPC, setting Summary.FallbackUsed is the caller's
// responsibility once every file has gone through this path.
func (c *FallbackClient) SendFile(rec types.FileRecord, body io.Reader) error {
	remaining := int64(rec.Size)
	buf := make([]byte, grpcChunkBytes)
	first := true

	for remaining > 0 || first {
		size := int64(len(buf))
		if size > remaining {
			size = remaining
		}
		n, err := io.ReadFull(body, buf[:size])
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return wrapData(errors.ErrCodeCopyFailed, "grpc_fallback_read", err)
		}

		header := frameHeader{Kind: frameKindFile, BodyBytes: int64(n)}
		if first {
			header.Record = rec
		}
		env, err := encodeEnvelope(grpcEnvelope{Header: header, Body: append([]byte(nil), buf[:n]...)})
		if err != nil {
			return err
		}
		if err := c.stream.SendMsg(env); err != nil {
			return wrapData(errors.ErrCodeNetworkError, "grpc_fallback_send", err)
		}

		remaining -= int64(n)
		first = false
		if n == 0 {
			break
		}
	}
	return c.stream.CloseSend()
}
