// Package disktest provides an in-memory disk for tests. It can mimic
// object stores that keep no metadata for directories and can inject
// failures per operation and path.
package disktest

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"diskbrowser/pkg/types"
)

type fakeFile struct {
	size       int64
	timestamp  int64
	visibility types.Visibility
}

type fakeDir struct {
	timestamp *int64 // nil: no metadata, like an S3 prefix
}

// Fake is a disk.Adapter over maps. Listing order is insertion order.
type Fake struct {
	mu    sync.Mutex
	files map[string]fakeFile
	dirs  map[string]fakeDir
	order []string
	fail  map[string]error
	calls map[string]int

	// BareListing makes List return entries without size or timestamp,
	// forcing callers back onto Size and LastModified.
	BareListing bool
	// DuplicateListing makes List return every entry twice.
	DuplicateListing bool

	CloseErr error
	Closed   bool
}

func New() *Fake {
	return &Fake{
		files: make(map[string]fakeFile),
		dirs:  map[string]fakeDir{"": {}},
		fail:  make(map[string]error),
		calls: make(map[string]int),
	}
}

func clean(p string) string {
	return strings.TrimPrefix(path.Clean("/"+strings.TrimPrefix(p, "/")), "/")
}

func parent(p string) string {
	dir := path.Dir(p)
	if dir == "." || dir == "/" {
		return ""
	}
	return dir
}

func (f *Fake) track(p string) {
	for _, existing := range f.order {
		if existing == p {
			return
		}
	}
	f.order = append(f.order, p)
}

func (f *Fake) implyParents(p string) {
	for dir := parent(p); dir != ""; dir = parent(dir) {
		if _, ok := f.dirs[dir]; !ok {
			f.dirs[dir] = fakeDir{}
		}
		f.track(dir)
	}
}

// AddFile adds a file and implies its parent directories without metadata.
func (f *Fake) AddFile(p string, size, timestamp int64, visibility types.Visibility) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()

	p = clean(p)
	f.implyParents(p)
	f.files[p] = fakeFile{size: size, timestamp: timestamp, visibility: visibility}
	f.track(p)
	return f
}

// AddDir adds a directory that carries a timestamp.
func (f *Fake) AddDir(p string, timestamp int64) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()

	p = clean(p)
	f.implyParents(p)
	ts := timestamp
	f.dirs[p] = fakeDir{timestamp: &ts}
	f.track(p)
	return f
}

// AddPrefix adds a directory with no metadata.
func (f *Fake) AddPrefix(p string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()

	p = clean(p)
	f.implyParents(p)
	if _, ok := f.dirs[p]; !ok {
		f.dirs[p] = fakeDir{}
	}
	f.track(p)
	return f
}

// Fail makes op fail with err for path p; p "*" matches every path.
// Ops are named after the adapter methods: "List", "Size", ...
func (f *Fake) Fail(op, p string, err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()

	if p != "*" {
		p = clean(p)
	}
	f.fail[op+"|"+p] = err
	return f
}

// Calls returns how many times op was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// enter must be called with the lock held
func (f *Fake) enter(op, p string) error {
	f.calls[op]++
	if err, ok := f.fail[op+"|"+p]; ok {
		return err
	}
	if err, ok := f.fail[op+"|*"]; ok {
		return err
	}
	return nil
}

func (f *Fake) List(_ context.Context, p string) ([]types.RawEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p = clean(p)
	if err := f.enter("List", p); err != nil {
		return nil, err
	}
	if _, ok := f.dirs[p]; !ok {
		return nil, fmt.Errorf("list %s: %w", p, types.ErrNotFound)
	}

	var entries []types.RawEntry
	for _, child := range f.order {
		if parent(child) != p {
			continue
		}
		entry := f.rawEntry(child)
		if f.BareListing {
			entry.Size = nil
			entry.Timestamp = nil
		}
		entries = append(entries, entry)
		if f.DuplicateListing {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (f *Fake) rawEntry(p string) types.RawEntry {
	if file, ok := f.files[p]; ok {
		return types.RawEntry{
			Type:      types.TypeFile,
			Path:      p,
			Size:      types.Int64(file.size),
			Timestamp: types.Int64(file.timestamp),
		}
	}
	entry := types.RawEntry{Type: types.TypeDir, Path: p}
	if ts := f.dirs[p].timestamp; ts != nil {
		entry.Timestamp = types.Int64(*ts)
	}
	return entry
}

func (f *Fake) file(op, p string) (fakeFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p = clean(p)
	if err := f.enter(op, p); err != nil {
		return fakeFile{}, err
	}
	file, ok := f.files[p]
	if !ok {
		return fakeFile{}, fmt.Errorf("%s %s: %w", strings.ToLower(op), p, types.ErrNotFound)
	}
	return file, nil
}

func (f *Fake) Size(_ context.Context, p string) (int64, error) {
	file, err := f.file("Size", p)
	return file.size, err
}

func (f *Fake) LastModified(_ context.Context, p string) (int64, error) {
	file, err := f.file("LastModified", p)
	return file.timestamp, err
}

func (f *Fake) Visibility(_ context.Context, p string) (types.Visibility, error) {
	file, err := f.file("Visibility", p)
	if err != nil {
		return "", err
	}
	if file.visibility == "" {
		return types.VisibilityPublic, nil
	}
	return file.visibility, nil
}

func (f *Fake) Metadata(_ context.Context, p string) (types.RawEntry, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p = clean(p)
	if err := f.enter("Metadata", p); err != nil {
		return types.RawEntry{}, false, err
	}
	if _, ok := f.files[p]; ok {
		return f.rawEntry(p), true, nil
	}
	dir, ok := f.dirs[p]
	if !ok {
		return types.RawEntry{}, false, fmt.Errorf("metadata %s: %w", p, types.ErrNotFound)
	}
	if dir.timestamp == nil {
		return types.RawEntry{}, false, nil
	}
	return f.rawEntry(p), true, nil
}

func (f *Fake) Directories(_ context.Context, p string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p = clean(p)
	if err := f.enter("Directories", p); err != nil {
		return nil, err
	}
	if _, ok := f.dirs[p]; !ok {
		return nil, fmt.Errorf("directories %s: %w", p, types.ErrNotFound)
	}

	var dirs []string
	for _, child := range f.order {
		if _, isDir := f.dirs[child]; isDir && parent(child) == p {
			dirs = append(dirs, child)
		}
	}
	return dirs, nil
}

func (f *Fake) AllFiles(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.enter("AllFiles", ""); err != nil {
		return nil, err
	}
	files := make([]string, 0, len(f.files))
	for p := range f.files {
		files = append(files, p)
	}
	sort.Strings(files)
	return files, nil
}

func (f *Fake) AllDirectories(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.enter("AllDirectories", ""); err != nil {
		return nil, err
	}
	dirs := make([]string, 0, len(f.dirs))
	for p := range f.dirs {
		if p != "" {
			dirs = append(dirs, p)
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return f.CloseErr
}
