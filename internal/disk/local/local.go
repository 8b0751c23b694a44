// Package local provides a disk backed by a directory on the local filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/charlievieth/fastwalk"

	"diskbrowser/pkg/types"
)

// Config holds local disk settings.
type Config struct {
	Root string `mapstructure:"root" validate:"required"`
}

// Disk reads a directory tree rooted at Root.
type Disk struct {
	root string
}

// New creates a local disk. The root must exist and be a directory.
func New(cfg Config) (*Disk, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("root is required")
	}

	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", cfg.Root, err)
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", root)
	}

	return &Disk{root: root}, nil
}

// fullPath maps a backend-relative path below root; ".." cannot escape it.
func (d *Disk) fullPath(p string) string {
	clean := path.Clean("/" + strings.TrimPrefix(p, "/"))
	return filepath.Join(d.root, filepath.FromSlash(clean))
}

func (d *Disk) relPath(full string) (string, error) {
	rel, err := filepath.Rel(d.root, full)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." {
		return "", nil
	}
	return rel, nil
}

func wrap(op, p string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s %s: %w", op, p, types.ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w: %v", op, p, types.ErrBackendUnavailable, err)
}

func joinRel(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

// List returns the children of p. Child paths are built from the cleaned
// directory, so "." and ".." list the root as "".
func (d *Disk) List(ctx context.Context, p string) ([]types.RawEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	full := d.fullPath(p)
	dirEntries, err := os.ReadDir(full)
	if err != nil {
		return nil, wrap("list", p, err)
	}
	dir, err := d.relPath(full)
	if err != nil {
		return nil, wrap("list", p, err)
	}

	entries := make([]types.RawEntry, 0, len(dirEntries))
	for _, de := range dirEntries {
		info, err := de.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue // removed between readdir and stat
			}
			return nil, wrap("stat", joinRel(dir, de.Name()), err)
		}
		entries = append(entries, rawEntry(joinRel(dir, de.Name()), info))
	}
	return entries, nil
}

func rawEntry(p string, info fs.FileInfo) types.RawEntry {
	entry := types.RawEntry{
		Path:      p,
		Type:      types.TypeFile,
		Timestamp: types.Int64(info.ModTime().Unix()),
	}
	if info.IsDir() {
		entry.Type = types.TypeDir
	} else {
		entry.Size = types.Int64(info.Size())
	}
	return entry
}

func (d *Disk) stat(op, p string) (fs.FileInfo, error) {
	info, err := os.Stat(d.fullPath(p))
	if err != nil {
		return nil, wrap(op, p, err)
	}
	return info, nil
}

// fileStat is stat for operations defined on files only. A directory reads
// as a missing file.
func (d *Disk) fileStat(op, p string) (fs.FileInfo, error) {
	info, err := d.stat(op, p)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s %s: is a directory: %w", op, p, types.ErrNotFound)
	}
	return info, nil
}

func (d *Disk) Size(_ context.Context, p string) (int64, error) {
	info, err := d.fileStat("size", p)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (d *Disk) LastModified(_ context.Context, p string) (int64, error) {
	info, err := d.stat("last modified", p)
	if err != nil {
		return 0, err
	}
	return info.ModTime().Unix(), nil
}

// Visibility is public when the file is world readable.
func (d *Disk) Visibility(_ context.Context, p string) (types.Visibility, error) {
	info, err := d.fileStat("visibility", p)
	if err != nil {
		return "", err
	}
	return VisibilityOf(info.Mode()), nil
}

// VisibilityOf maps permission bits to a visibility.
func VisibilityOf(mode fs.FileMode) types.Visibility {
	if mode.Perm()&0o004 != 0 {
		return types.VisibilityPublic
	}
	return types.VisibilityPrivate
}

func (d *Disk) Metadata(_ context.Context, p string) (types.RawEntry, bool, error) {
	info, err := d.stat("metadata", p)
	if err != nil {
		return types.RawEntry{}, false, err
	}
	rel, err := d.relPath(d.fullPath(p))
	if err != nil {
		return types.RawEntry{}, false, wrap("metadata", p, err)
	}
	return rawEntry(rel, info), true, nil
}

func (d *Disk) Directories(ctx context.Context, p string) ([]string, error) {
	entries, err := d.List(ctx, p)
	if err != nil {
		return nil, err
	}

	var dirs []string
	for _, e := range entries {
		if e.Type == types.TypeDir {
			dirs = append(dirs, e.Path)
		}
	}
	return dirs, nil
}

func (d *Disk) AllFiles(ctx context.Context) ([]string, error) {
	return d.walk(ctx, false)
}

func (d *Disk) AllDirectories(ctx context.Context) ([]string, error) {
	return d.walk(ctx, true)
}

// walk enumerates the tree with fastwalk. The callback runs on several
// goroutines, so results are collected under a mutex and sorted at the end.
func (d *Disk) walk(ctx context.Context, wantDirs bool) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		mu    sync.Mutex
		paths []string
	)

	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, d.root, func(p string, de os.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			return err
		}
		if p == d.root || de.IsDir() != wantDirs {
			return nil
		}

		rel, err := d.relPath(p)
		if err != nil {
			return err
		}

		mu.Lock()
		paths = append(paths, rel)
		mu.Unlock()
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, wrap("walk", "", err)
	}

	sort.Strings(paths)
	return paths, nil
}
