// Package disk defines the storage adapter surface the listing pipeline
// reads from, and a registry of named disks built from configuration.
package disk

import (
	"context"

	"diskbrowser/pkg/types"
)

// Adapter is the read surface of one storage backend.
// Paths are backend-relative and slash separated; "" is the disk root.
// Implementations wrap missing paths with types.ErrNotFound and I/O
// failures with types.ErrBackendUnavailable.
type Adapter interface {
	// List returns the immediate children of path.
	List(ctx context.Context, path string) ([]types.RawEntry, error)

	Size(ctx context.Context, path string) (int64, error)
	LastModified(ctx context.Context, path string) (int64, error)
	Visibility(ctx context.Context, path string) (types.Visibility, error)

	// Metadata returns the raw entry for path. found is false when the
	// path exists as a directory but the backend keeps no metadata for it
	// (object stores without directory markers).
	Metadata(ctx context.Context, path string) (entry types.RawEntry, found bool, err error)

	// Directories returns the immediate subdirectory paths of path.
	Directories(ctx context.Context, path string) ([]string, error)

	// AllFiles and AllDirectories enumerate the whole tree.
	AllFiles(ctx context.Context) ([]string, error)
	AllDirectories(ctx context.Context) ([]string, error)
}

// Closer is implemented by adapters holding connections or file handles.
type Closer interface {
	Close() error
}
