// SPDX-License-Identifier: Apache-2.0

package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore implements Store on the local filesystem, primarily for
// development and tests.
type LocalStore struct {
	basePath string
}

func NewLocalStore(basePath string) (*LocalStore, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}
	return &LocalStore{basePath: basePath}, nil
}

func (l *LocalStore) fullPath(path string) string {
	return filepath.Join(l.basePath, filepath.FromSlash(strings.TrimPrefix(path, "/")))
}

func (l *LocalStore) Write(ctx context.Context, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dest := l.fullPath(path)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create object directory: %w", err)
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return fmt.Errorf("write object %s: %w", path, err)
	}
	return nil
}

func (l *LocalStore) Read(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(l.fullPath(path))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", path, err)
	}
	return data, nil
}

func (l *LocalStore) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Remove(l.fullPath(path)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete object %s: %w", path, err)
	}
	return nil
}

func (l *LocalStore) Exists(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	if _, err := os.Stat(l.fullPath(path)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat object %s: %w", path, err)
	}
	return true, nil
}
