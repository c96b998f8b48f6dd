package data

import (
	"archive/tar"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"

	"github.com/roethlar/blit/pkg/errors"
	"github.com/roethlar/blit/pkg/types"
)

// buildTarShard packs a run of small files into one self-contained
// archive/tar stream. open resolves an entry's
// source locator to its readable content; the manifest hash lets a
// receiver verify it unpacked the shard it expects.
func buildTarShard(entries []types.TransferEntry, open func(types.Locator) (io.ReadCloser, error)) (types.TarShard, []byte, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	paths := make([]string, 0, len(entries))

	for _, entry := range entries {
		rc, err := open(entry.Src)
		if err != nil {
			return types.TarShard{}, nil, wrapData(errors.ErrCodeCopyFailed, "open_shard_entry", err)
		}

		hdr := &tar.Header{
			Name:    entry.Record.Path,
			Size:    int64(entry.Record.Size),
			Mode:    int64(entry.Record.Mode & 0o777),
			ModTime: entry.Record.MTime.Std(),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			rc.Close()
			return types.TarShard{}, nil, wrapData(errors.ErrCodeCopyFailed, "write_shard_header", err)
		}
		if _, err := io.Copy(tw, rc); err != nil {
			rc.Close()
			return types.TarShard{}, nil, wrapData(errors.ErrCodeCopyFailed, "write_shard_body", err)
		}
		rc.Close()
		paths = append(paths, entry.Record.Path)
	}

	if err := tw.Close(); err != nil {
		return types.TarShard{}, nil, wrapData(errors.ErrCodeCopyFailed, "close_shard", err)
	}

	h := blake3.New()
	_, _ = h.Write(buf.Bytes())
	var manifestHash [32]byte
	copy(manifestHash[:], h.Sum(nil))

	shard := types.TarShard{
		ManifestHash: manifestHash,
		Paths:        paths,
		Complete:     true,
	}
	return shard, buf.Bytes(), nil
}

// unpackTarShard streams a tar archive directly into destRoot, reapplying
// each entry's mtime and permission bits atomically after its last byte
// lands.
func unpackTarShard(r io.Reader, destRoot string, joinDest func(root, rel string) string) ([]string, error) {
	tr := tar.NewReader(r)
	var unpacked []string

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return unpacked, wrapData(errors.ErrCodeCopyFailed, "read_shard_header", err)
		}

		dest := joinDest(destRoot, hdr.Name)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return unpacked, wrapData(errors.ErrCodeCopyFailed, "mkdir_shard_dest", err)
		}
		f, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode))
		if err != nil {
			return unpacked, wrapData(errors.ErrCodeCopyFailed, "open_shard_dest", err)
		}
		if _, err := io.Copy(f, tr); err != nil {
			f.Close()
			return unpacked, wrapData(errors.ErrCodeCopyFailed, "write_shard_dest", err)
		}
		if err := f.Close(); err != nil {
			return unpacked, wrapData(errors.ErrCodeCopyFailed, "close_shard_dest", err)
		}
		if err := os.Chmod(dest, os.FileMode(hdr.Mode)); err != nil {
			return unpacked, wrapData(errors.ErrCodeCopyFailed, "chmod_shard_dest", err)
		}
		if err := os.Chtimes(dest, time.Now(), hdr.ModTime); err != nil {
			return unpacked, wrapData(errors.ErrCodeCopyFailed, "chtimes_shard_dest", err)
		}
		unpacked = append(unpacked, hdr.Name)
	}

	return unpacked, nil
}
