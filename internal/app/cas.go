package app

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/forgecore/forge/internal/contentsession"
	"github.com/forgecore/forge/internal/vsohash"
)

// LocalCAS is a minimal filesystem-backed content store standing in for
// the remote store contentsession.Session talks to. spec.md explicitly
// leaves persistent cache backing stores out of scope ("their interfaces
// are specified, not their internals"), so this is not a protocol
// implementation of anything real-world, just enough of a backend to
// exercise C7's capability interfaces end to end against real bytes.
type LocalCAS struct {
	Root string
}

func (c LocalCAS) path(hash vsohash.ContentHash) string {
	return filepath.Join(c.Root, fmt.Sprintf("%d-%s", hash.Algorithm, hex.EncodeToString(hash.Bytes[:])))
}

// Put hashes data and writes it into the store, returning the hash under
// which it can later be pinned, opened, or placed.
func (c LocalCAS) Put(data []byte) (vsohash.ContentHash, error) {
	blob, err := vsohash.HashBytes(context.Background(), data, 1)
	if err != nil {
		return vsohash.ContentHash{}, err
	}
	hash := blob.ContentHash()
	if err := os.MkdirAll(c.Root, 0o755); err != nil {
		return vsohash.ContentHash{}, err
	}
	if err := os.WriteFile(c.path(hash), data, 0o644); err != nil {
		return vsohash.ContentHash{}, err
	}
	return hash, nil
}

func (c LocalCAS) Pin(ctx context.Context, hash vsohash.ContentHash) (contentsession.PinResult, error) {
	if _, err := os.Stat(c.path(hash)); err != nil {
		return contentsession.PinResult{Status: contentsession.ContentNotFound}, nil
	}
	return contentsession.PinResult{Status: contentsession.Success}, nil
}

func (c LocalCAS) PinBulk(ctx context.Context, hashes []vsohash.ContentHash) ([]contentsession.PinResult, error) {
	out := make([]contentsession.PinResult, len(hashes))
	for i, h := range hashes {
		result, err := c.Pin(ctx, h)
		if err != nil {
			return nil, err
		}
		out[i] = result
	}
	return out, nil
}

func (c LocalCAS) OpenStream(ctx context.Context, hash vsohash.ContentHash) (io.ReadCloser, error) {
	return os.Open(c.path(hash))
}

func (c LocalCAS) PlaceFile(ctx context.Context, hash vsohash.ContentHash, destination string, access contentsession.AccessMode, replacement contentsession.ReplacementMode, realization contentsession.RealizationMode) (contentsession.PinStatus, error) {
	src, err := os.Open(c.path(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return contentsession.ContentNotFound, nil
		}
		return contentsession.Error, err
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return contentsession.Error, err
	}
	mode := os.FileMode(0o644)
	if access == contentsession.AccessReadOnly {
		mode = 0o444
	}
	dst, err := os.OpenFile(destination, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return contentsession.Error, err
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		return contentsession.Error, err
	}
	return contentsession.Success, nil
}
