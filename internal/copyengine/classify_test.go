package copyengine

import (
	"os"
	"syscall"
	"testing"

	"golang.org/x/sys/unix"

	blerrors "github.com/roethlar/blit/pkg/errors"
	"github.com/roethlar/blit/pkg/types"
)

func TestClassify_MapsErrnoToTypedCodes(t *testing.T) {
	t.Parallel()

	entry := types.TransferEntry{Src: "/src/a", Dst: "/dst/a"}

	cases := []struct {
		name string
		err  error
		want blerrors.ErrorCode
	}{
		{"not exist", &os.PathError{Op: "open", Path: "/src/a", Err: unix.ENOENT}, blerrors.ErrCodeFileNotFound},
		{"permission", &os.PathError{Op: "open", Path: "/src/a", Err: unix.EACCES}, blerrors.ErrCodePermissionDenied},
		{"read only fs", &os.PathError{Op: "write", Path: "/dst/a", Err: unix.EROFS}, blerrors.ErrCodePermissionDenied},
		{"no space", &os.PathError{Op: "write", Path: "/dst/a", Err: unix.ENOSPC}, blerrors.ErrCodeDiskFull},
		{"other", &os.PathError{Op: "write", Path: "/dst/a", Err: syscall.EIO}, blerrors.ErrCodeCopyFailed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			wrapped := classify(tc.err, entry, "copy")
			blitErr, ok := wrapped.(*blerrors.BlitError)
			if !ok {
				t.Fatalf("classify returned %T, want *blerrors.BlitError", wrapped)
			}
			if blitErr.Code != tc.want {
				t.Errorf("Code = %v, want %v", blitErr.Code, tc.want)
			}
		})
	}
}
