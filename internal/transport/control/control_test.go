package control

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/roethlar/blit/pkg/types"
)

func TestControlPlane_FullNegotiationRoundTrip(t *testing.T) {
	t.Parallel()

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	client := NewClient(clientConn)
	server := NewServer(serverConn)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		done <- runServer(ctx, server)
	}()

	if err := client.SendHeader(ctx, Header{Module: "m", Mode: types.ModeMirror, DestPath: "sub"}); err != nil {
		t.Fatalf("SendHeader: %v", err)
	}
	if err := client.RecvAck(ctx); err != nil {
		t.Fatalf("RecvAck: %v", err)
	}

	if err := client.SendFileHeader(ctx, types.FileRecord{Path: "a.txt", Size: 10}); err != nil {
		t.Fatalf("SendFileHeader: %v", err)
	}
	if err := client.SendManifestComplete(ctx); err != nil {
		t.Fatalf("SendManifestComplete: %v", err)
	}

	var needed []types.FileRecord
	for {
		batch, err := client.RecvNeedListBatch(ctx)
		if err != nil {
			t.Fatalf("RecvNeedListBatch: %v", err)
		}
		needed = append(needed, batch.Entries...)
		if batch.Final {
			break
		}
	}
	if len(needed) != 1 || needed[0].Path != "a.txt" {
		t.Errorf("needed = %+v, want one entry a.txt", needed)
	}

	session, err := client.RecvNegotiation(ctx)
	if err != nil {
		t.Fatalf("RecvNegotiation: %v", err)
	}
	if session.TCPEndpoint != "127.0.0.1:9000" {
		t.Errorf("TCPEndpoint = %q, want 127.0.0.1:9000", session.TCPEndpoint)
	}

	summary, err := client.RecvSummary(ctx)
	if err != nil {
		t.Fatalf("RecvSummary: %v", err)
	}
	if summary.FilesTransferred != 1 {
		t.Errorf("FilesTransferred = %d, want 1", summary.FilesTransferred)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("server: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server goroutine")
	}
}

// runServer plays the server side of the protocol for the round-trip test:
// ack the header, classify the one streamed entry as needed, negotiate a
// session, and report a matching summary.
func runServer(ctx context.Context, s *Server) error {
	if _, err := s.RecvHeader(ctx); err != nil {
		return err
	}
	if err := s.SendAck(ctx); err != nil {
		return err
	}

	var entries []types.FileRecord
	for {
		rec, done, err := s.RecvFileHeader(ctx)
		if err != nil {
			return err
		}
		if done {
			break
		}
		entries = append(entries, rec)
	}

	if err := s.SendNeedListBatch(ctx, NeedListBatch{Entries: entries, Final: true}); err != nil {
		return err
	}
	if err := s.SendNegotiation(ctx, types.NegotiatedSession{TCPEndpoint: "127.0.0.1:9000", StreamCount: 2}); err != nil {
		return err
	}
	return s.SendSummary(ctx, types.Summary{FilesTransferred: uint64(len(entries))})
}
