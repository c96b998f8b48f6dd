package data

import (
	"bytes"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/roethlar/blit/pkg/types"
)

// TestFallbackRoundTrip_DeliversFileOverGRPC drives the hand-registered
// fallback service over an in-memory bufconn listener end to end: a
// FallbackClient sends a small file in sub-chunks, and the server-side
// handler reassembles the body from the received envelopes.
func TestFallbackRoundTrip_DeliversFileOverGRPC(t *testing.T) {
	t.Parallel()

	lis := bufconn.Listen(1024 * 1024)
	defer lis.Close()

	var mu sync.Mutex
	var gotRecord types.FileRecord
	var gotBody bytes.Buffer
	sawRecord := false

	handle := func(_ context.Context, env grpcEnvelope) error {
		mu.Lock()
		defer mu.Unlock()
		if !sawRecord && env.Header.Record.Path != "" {
			gotRecord = env.Header.Record
			sawRecord = true
		}
		gotBody.Write(env.Body)
		return nil
	}

	srv := grpc.NewServer()
	srv.RegisterService(NewFallbackServiceDesc(handle), nil)
	go srv.Serve(lis)
	defer srv.Stop()

	dialer := func(context.Context, string) (net.Conn, error) { return lis.Dial() }
	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	defer cc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	client, err := NewFallbackClient(ctx, cc)
	if err != nil {
		t.Fatalf("NewFallbackClient: %v", err)
	}

	content := bytes.Repeat([]byte("f"), grpcChunkBytes+1000)
	rec := types.FileRecord{Path: "fallback.bin", Size: uint64(len(content))}

	if err := client.SendFile(rec, bytes.NewReader(content)); err != nil {
		t.Fatalf("SendFile: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		done := gotBody.Len() == len(content)
		mu.Unlock()
		if done {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for body, got %d of %d bytes", gotBody.Len(), len(content))
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotRecord.Path != "fallback.bin" {
		t.Errorf("gotRecord.Path = %q, want fallback.bin", gotRecord.Path)
	}
	if !bytes.Equal(gotBody.Bytes(), content) {
		t.Error("reassembled body does not match sent content")
	}
}

func TestEncodeDecodeEnvelope_RoundTrips(t *testing.T) {
	t.Parallel()

	env := grpcEnvelope{
		Header: frameHeader{Kind: frameKindFile, Record: types.FileRecord{Path: "x", Size: 3}, BodyBytes: 3},
		Body:   []byte("abc"),
	}

	msg, err := encodeEnvelope(env)
	if err != nil {
		t.Fatalf("encodeEnvelope: %v", err)
	}
	got, err := decodeEnvelope(msg)
	if err != nil {
		t.Fatalf("decodeEnvelope: %v", err)
	}
	if got.Header.Record.Path != "x" || !bytes.Equal(got.Body, []byte("abc")) {
		t.Errorf("got = %+v, want path x with body abc", got)
	}
}
