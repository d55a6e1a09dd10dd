package paramstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Dir serves parameters from files under a root directory: the parameter
// "/chatppt/prompts/chatbot" is read from <root>/chatppt/prompts/chatbot.
// It backs the local CLI where SSM is not reachable.
type Dir struct {
	root string
}

func NewDir(root string) (*Dir, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("paramstore: dir must not be empty")
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("paramstore: stat dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("paramstore: %s is not a directory", root)
	}
	return &Dir{root: root}, nil
}

func (d *Dir) path(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}
	rel := filepath.Clean("/" + name)
	return filepath.Join(d.root, filepath.FromSlash(rel)), nil
}

func (d *Dir) GetParameter(_ context.Context, name string) (string, error) {
	p, err := d.path(name)
	if err != nil {
		return "", err
	}
	raw, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return "", fmt.Errorf("paramstore: read %q: %w", name, err)
	}
	return strings.TrimRight(string(raw), "\r\n"), nil
}

func (d *Dir) GetParameters(ctx context.Context, names ...string) (map[string]string, error) {
	values := make(map[string]string, len(names))
	for _, n := range names {
		v, err := d.GetParameter(ctx, n)
		if err != nil {
			return nil, err
		}
		values[strings.TrimSpace(n)] = v
	}
	return values, nil
}

var _ Getter = (*Dir)(nil)
