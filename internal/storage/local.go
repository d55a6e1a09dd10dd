package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrInvalidPath is returned for paths that are absolute or climb out of the
// store root.
var ErrInvalidPath = errors.New("storage: path outside store root")

// Local implements FileStore on top of the local filesystem. Paths resolve
// against the root directory and may not leave it.
type Local struct {
	root     string
	absolute bool
}

type LocalOption func(*Local)

// WithAbsolutePaths lets absolute paths through as given, so CLI users can
// point at files anywhere on disk. Relative paths stay confined to the root.
func WithAbsolutePaths() LocalOption {
	return func(l *Local) {
		l.absolute = true
	}
}

// NewLocal creates a Local store rooted at dir, creating it if needed.
func NewLocal(dir string, opts ...LocalOption) (*Local, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	l := &Local{root: abs}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Resolve turns a storage path into a filesystem path.
func (l *Local) Resolve(path string) (string, error) {
	p := filepath.FromSlash(path)
	if filepath.IsAbs(p) && l.absolute {
		return filepath.Clean(p), nil
	}
	if !filepath.IsLocal(p) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	return filepath.Join(l.root, p), nil
}

func (l *Local) Open(_ context.Context, path string) (io.ReadCloser, error) {
	full, err := l.Resolve(path)
	if err != nil {
		return nil, err
	}
	return os.Open(full)
}

// Put writes to a temporary sibling and renames it into place.
func (l *Local) Put(_ context.Context, path string, r io.Reader, _ string) error {
	full, err := l.Resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), ".put-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return nil
}

func (l *Local) Exists(_ context.Context, path string) (bool, error) {
	full, err := l.Resolve(path)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(full)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

var _ FileStore = (*Local)(nil)
