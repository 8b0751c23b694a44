// Package filesystem implements the "virtual" disk: a file tree whose
// records live in a badger store and are indexed in memory. Directories
// that only exist because a file sits below them carry no metadata, like
// prefixes on an object store.
package filesystem

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"diskbrowser/internal/storage"
	"diskbrowser/pkg/types"
)

type VirtualFS struct {
	items map[string]*types.FileRecord // explicit records: files and created dirs
	dirs  map[string]bool              // every directory, explicit or implied
	store *storage.PersistentStore
	mutex sync.RWMutex
}

func New(store *storage.PersistentStore) (*VirtualFS, error) {
	vfs := &VirtualFS{
		items: make(map[string]*types.FileRecord),
		dirs:  make(map[string]bool),
		store: store,
	}

	vfs.dirs[""] = true

	records, err := store.GetAllRecords()
	if err != nil {
		return nil, fmt.Errorf("failed to load records: %w", err)
	}

	for i := range records {
		record := records[i]
		record.Path = Clean(record.Path)
		vfs.addToMemory(&record)
	}

	return vfs, nil
}

// Clean normalizes p to the backend-relative form used as index key.
// The root is "".
func Clean(p string) string {
	return strings.TrimPrefix(path.Clean("/"+strings.TrimPrefix(p, "/")), "/")
}

func parent(p string) string {
	dir := path.Dir(p)
	if dir == "." {
		return ""
	}
	return dir
}

// addToMemory indexes a record and all its parent directories
func (vfs *VirtualFS) addToMemory(record *types.FileRecord) {
	vfs.items[record.Path] = record
	if record.Type == types.TypeDir {
		vfs.dirs[record.Path] = true
	}

	for dir := parent(record.Path); dir != ""; dir = parent(dir) {
		vfs.dirs[dir] = true
	}
}

// List returns the immediate children of a directory, directories first,
// both in case-insensitive name order
func (vfs *VirtualFS) List(ctx context.Context, dirPath string) ([]types.RawEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vfs.mutex.RLock()
	defer vfs.mutex.RUnlock()

	dirPath = Clean(dirPath)
	if !vfs.dirs[dirPath] {
		return nil, fmt.Errorf("list %s: %w", dirPath, types.ErrNotFound)
	}

	var entries []types.RawEntry
	for dir := range vfs.dirs {
		if dir != "" && parent(dir) == dirPath {
			entries = append(entries, vfs.rawEntry(dir))
		}
	}
	for itemPath, item := range vfs.items {
		if item.Type == types.TypeFile && parent(itemPath) == dirPath {
			entries = append(entries, vfs.rawEntry(itemPath))
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Type != entries[j].Type {
			return entries[i].Type == types.TypeDir
		}
		return strings.ToLower(entries[i].Path) < strings.ToLower(entries[j].Path)
	})

	return entries, nil
}

// rawEntry must be called with the read lock held
func (vfs *VirtualFS) rawEntry(p string) types.RawEntry {
	entry := types.RawEntry{Path: p, Type: types.TypeDir}
	if item, ok := vfs.items[p]; ok {
		entry.Type = item.Type
		entry.Timestamp = types.Int64(item.Timestamp)
		if item.Type == types.TypeFile {
			entry.Size = types.Int64(item.Size)
		}
	}
	return entry
}

func (vfs *VirtualFS) file(p string) (*types.FileRecord, error) {
	vfs.mutex.RLock()
	defer vfs.mutex.RUnlock()

	p = Clean(p)
	item, ok := vfs.items[p]
	if !ok || item.Type != types.TypeFile {
		return nil, fmt.Errorf("file %s: %w", p, types.ErrNotFound)
	}
	return item, nil
}

func (vfs *VirtualFS) Size(_ context.Context, p string) (int64, error) {
	item, err := vfs.file(p)
	if err != nil {
		return 0, err
	}
	return item.Size, nil
}

func (vfs *VirtualFS) LastModified(_ context.Context, p string) (int64, error) {
	vfs.mutex.RLock()
	defer vfs.mutex.RUnlock()

	p = Clean(p)
	if item, ok := vfs.items[p]; ok {
		return item.Timestamp, nil
	}
	return 0, fmt.Errorf("last modified %s: %w", p, types.ErrNotFound)
}

func (vfs *VirtualFS) Visibility(_ context.Context, p string) (types.Visibility, error) {
	item, err := vfs.file(p)
	if err != nil {
		return "", err
	}
	if item.Visibility == "" {
		return types.VisibilityPublic, nil
	}
	return item.Visibility, nil
}

// Metadata reports found=false for implied directories
func (vfs *VirtualFS) Metadata(_ context.Context, p string) (types.RawEntry, bool, error) {
	vfs.mutex.RLock()
	defer vfs.mutex.RUnlock()

	p = Clean(p)
	if _, ok := vfs.items[p]; ok {
		return vfs.rawEntry(p), true, nil
	}
	if vfs.dirs[p] {
		return types.RawEntry{}, false, nil
	}
	return types.RawEntry{}, false, fmt.Errorf("metadata %s: %w", p, types.ErrNotFound)
}

func (vfs *VirtualFS) Directories(_ context.Context, dirPath string) ([]string, error) {
	vfs.mutex.RLock()
	defer vfs.mutex.RUnlock()

	dirPath = Clean(dirPath)
	if !vfs.dirs[dirPath] {
		return nil, fmt.Errorf("directories %s: %w", dirPath, types.ErrNotFound)
	}

	var dirs []string
	for dir := range vfs.dirs {
		if dir != "" && parent(dir) == dirPath {
			dirs = append(dirs, dir)
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

// AllFiles returns every file path in the filesystem
func (vfs *VirtualFS) AllFiles(_ context.Context) ([]string, error) {
	vfs.mutex.RLock()
	defer vfs.mutex.RUnlock()

	var files []string
	for p, item := range vfs.items {
		if item.Type == types.TypeFile {
			files = append(files, p)
		}
	}
	sort.Strings(files)
	return files, nil
}

// AllDirectories returns every directory path except the root
func (vfs *VirtualFS) AllDirectories(_ context.Context) ([]string, error) {
	vfs.mutex.RLock()
	defer vfs.mutex.RUnlock()

	var dirs []string
	for dir := range vfs.dirs {
		if dir != "" {
			dirs = append(dirs, dir)
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

// PutFile adds or replaces a file and persists it
func (vfs *VirtualFS) PutFile(record types.FileRecord) error {
	vfs.mutex.Lock()
	defer vfs.mutex.Unlock()

	record.Path = Clean(record.Path)
	record.Type = types.TypeFile
	if record.Path == "" {
		return fmt.Errorf("file path cannot be empty")
	}

	if vfs.dirs[record.Path] {
		return fmt.Errorf("directory exists at path: %s", record.Path)
	}
	if err := vfs.checkParents(record.Path); err != nil {
		return err
	}

	// Persist to storage first
	if err := vfs.store.SetRecord(&record); err != nil {
		return fmt.Errorf("failed to persist record: %w", err)
	}

	vfs.addToMemory(&record)
	return nil
}

// checkParents fails when an ancestor of p is a file. Must be called with
// the write lock held.
func (vfs *VirtualFS) checkParents(p string) error {
	for dir := parent(p); dir != ""; dir = parent(dir) {
		if item, ok := vfs.items[dir]; ok && item.Type == types.TypeFile {
			return fmt.Errorf("file exists at parent path: %s", dir)
		}
	}
	return nil
}

// MakeDir records a directory explicitly so it keeps metadata and survives
// without children
func (vfs *VirtualFS) MakeDir(dirPath string, timestamp int64) error {
	vfs.mutex.Lock()
	defer vfs.mutex.Unlock()

	dirPath = Clean(dirPath)
	if dirPath == "" {
		return fmt.Errorf("cannot create the root directory")
	}
	if item, ok := vfs.items[dirPath]; ok && item.Type == types.TypeFile {
		return fmt.Errorf("file exists at path: %s", dirPath)
	}
	if err := vfs.checkParents(dirPath); err != nil {
		return err
	}

	record := &types.FileRecord{Path: dirPath, Type: types.TypeDir, Timestamp: timestamp}
	if err := vfs.store.SetRecord(record); err != nil {
		return fmt.Errorf("failed to persist record: %w", err)
	}

	vfs.addToMemory(record)
	return nil
}

// RemoveFile removes a file from the virtual filesystem and persistent storage
func (vfs *VirtualFS) RemoveFile(filePath string) error {
	vfs.mutex.Lock()
	defer vfs.mutex.Unlock()

	filePath = Clean(filePath)

	item, exists := vfs.items[filePath]
	if !exists || item.Type != types.TypeFile {
		return fmt.Errorf("file %s: %w", filePath, types.ErrNotFound)
	}

	if err := vfs.store.DeleteRecord(filePath); err != nil {
		return fmt.Errorf("failed to remove record from storage: %w", err)
	}

	delete(vfs.items, filePath)

	vfs.cleanupEmptyDirectories(filePath)
	return nil
}

// cleanupEmptyDirectories removes implied parent directories left without
// children after a removal
func (vfs *VirtualFS) cleanupEmptyDirectories(filePath string) {
	for dir := parent(filePath); dir != ""; dir = parent(dir) {
		if _, explicit := vfs.items[dir]; explicit {
			return
		}

		for p := range vfs.items {
			if strings.HasPrefix(p, dir+"/") {
				return
			}
		}
		for d := range vfs.dirs {
			if strings.HasPrefix(d, dir+"/") {
				return
			}
		}

		delete(vfs.dirs, dir)
	}
}

// Close closes the underlying store
func (vfs *VirtualFS) Close() error {
	return vfs.store.Close()
}
