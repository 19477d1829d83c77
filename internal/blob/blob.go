// SPDX-License-Identifier: Apache-2.0

// Package blob provides object storage for raw import batches.
package blob

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Read when no object exists at the given path.
var ErrNotFound = errors.New("object not found")

// Store abstracts content-addressed-by-path object storage.
// Implementations include S3 and the local filesystem for development.
type Store interface {
	// Write stores data at path, overwriting any existing object.
	Write(ctx context.Context, path string, data []byte) error

	// Read returns the object at path, or ErrNotFound.
	Read(ctx context.Context, path string) ([]byte, error)

	// Delete removes the object at path. Deleting a missing object is not an
	// error.
	Delete(ctx context.Context, path string) error

	// Exists reports whether an object is stored at path.
	Exists(ctx context.Context, path string) (bool, error)
}
