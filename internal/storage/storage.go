// Package storage abstracts where uploaded files, extracted pictures and
// rendered presentations live, so the pipeline runs the same against local
// disk and S3.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// MaxReadSize bounds ReadFile. Uploads larger than this are rejected.
const MaxReadSize = 64 << 20

// ErrTooLarge is returned by ReadFile for objects above MaxReadSize.
var ErrTooLarge = errors.New("storage: file too large")

// FileStore is a minimal interface for file-oriented storage.
//
// Paths are forward-slash separated and relative to the store root.
// Implementations must be safe for concurrent use.
type FileStore interface {
	// Open opens the named file for reading. A missing file yields an error
	// wrapping os.ErrNotExist.
	Open(ctx context.Context, path string) (io.ReadCloser, error)

	// Put stores r under path, replacing any existing file. Readers never
	// observe a partially written file.
	Put(ctx context.Context, path string, r io.Reader, contentType string) error

	// Exists reports whether the named file exists.
	Exists(ctx context.Context, path string) (bool, error)
}

// ReadFile reads the whole named file.
func ReadFile(ctx context.Context, fs FileStore, path string) ([]byte, error) {
	rc, err := fs.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(io.LimitReader(rc, MaxReadSize+1))
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", path, err)
	}
	if len(data) > MaxReadSize {
		return nil, fmt.Errorf("storage: read %s: %w", path, ErrTooLarge)
	}
	return data, nil
}
