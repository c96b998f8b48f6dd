package data

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/roethlar/blit/internal/buffer"
	"github.com/roethlar/blit/pkg/types"
)

// TestAcceptSenderDialReceiver_DeliversFilesInPullDirection exercises the
// Pull-direction pairing: the side holding the files accepts the data
// connections and sends, while the side wanting the files dials out and
// receives — the mirror image of DialSender/Receiver.ServeConn's Push
// pairing covered by TestSenderReceiver_DeliversLargeAndSmallFiles.
func TestAcceptSenderDialReceiver_DeliversFilesInPullDirection(t *testing.T) {
	t.Parallel()

	srcDir := t.TempDir()
	dstDir := t.TempDir()

	largeContent := bytes.Repeat([]byte("P"), smallFileThreshold+2048)
	smallContent := []byte("pulled small file")
	writeTemp(t, srcDir, "large.bin", largeContent)
	writeTemp(t, srcDir, "small.txt", smallContent)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	token := []byte("pull-token")
	pool := buffer.NewPool(4<<20, []int{64 * 1024, 1 << 20})

	entries := []types.TransferEntry{
		{Record: types.FileRecord{Path: "large.bin", Size: uint64(len(largeContent)), Mode: 0o644}, Src: types.Locator(filepath.Join(srcDir, "large.bin"))},
		{Record: types.FileRecord{Path: "small.txt", Size: uint64(len(smallContent)), Mode: 0o644}, Src: types.Locator(filepath.Join(srcDir, "small.txt"))},
	}
	open := func(l types.Locator) (io.ReadCloser, error) { return os.Open(string(l)) }

	senderDone := make(chan error, 1)
	go func() {
		sender, err := AcceptSender(context.Background(), ln, token, 2, pool, 256*1024)
		if err != nil {
			senderDone <- err
			return
		}
		defer sender.Close()
		senderDone <- sender.Send(context.Background(), entries, open)
	}()

	session := types.NegotiatedSession{TCPEndpoint: ln.Addr().String(), Token: token, StreamCount: 2}
	receiver, err := DialReceiver(context.Background(), session, types.Locator(dstDir), 2)
	if err != nil {
		t.Fatalf("DialReceiver: %v", err)
	}

	if err := receiver.Wait(); err != nil {
		t.Fatalf("receiver.Wait: %v", err)
	}
	if err := <-senderDone; err != nil {
		t.Fatalf("AcceptSender/Send: %v", err)
	}

	waitForFile(t, filepath.Join(dstDir, "large.bin"), largeContent)
	waitForFile(t, filepath.Join(dstDir, "small.txt"), smallContent)
}

func TestAcceptSender_RejectsMismatchedToken(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	pool := buffer.NewPool(1<<20, []int{4096})
	acceptErr := make(chan error, 1)
	go func() {
		_, err := AcceptSender(context.Background(), ln, []byte("expected"), 1, pool, 4096)
		acceptErr <- err
	}()

	session := types.NegotiatedSession{TCPEndpoint: ln.Addr().String(), Token: []byte("wrong"), StreamCount: 1}
	receiver, err := DialReceiver(context.Background(), session, types.Locator(t.TempDir()), 1)
	if err != nil {
		t.Fatalf("DialReceiver: %v", err)
	}
	_ = receiver.Wait()

	if err := <-acceptErr; err == nil {
		t.Fatal("expected AcceptSender to reject a mismatched token")
	}
}
