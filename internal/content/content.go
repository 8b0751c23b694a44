// Package content turns raw disk listings into normalized entries and
// applies the ACL filter when it is enabled.
package content

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"diskbrowser/internal/acl"
	"diskbrowser/internal/disk"
	"diskbrowser/internal/logging"
	"diskbrowser/internal/metrics"
	"diskbrowser/internal/pathinfo"
	"diskbrowser/pkg/types"
)

// Disks resolves a disk name to its adapter. *disk.Registry implements it.
type Disks interface {
	Disk(name string) (disk.Adapter, error)
}

// Options configures a Service.
type Options struct {
	// Resolver is required when ACLEnabled is set.
	Resolver acl.Resolver
	// ACLEnabled annotates every entry with its access level.
	ACLEnabled bool
	// HideZeroAccess drops entries whose access level is none.
	HideZeroAccess bool
	Logger         *zap.Logger
}

// Service answers listing and property requests. It keeps no per-call
// state and is safe for concurrent use.
type Service struct {
	disks  Disks
	opts   Options
	logger *zap.Logger
}

func New(disks Disks, opts Options) (*Service, error) {
	if disks == nil {
		return nil, fmt.Errorf("disk registry is required")
	}
	if opts.ACLEnabled && opts.Resolver == nil {
		return nil, fmt.Errorf("acl is enabled but no resolver was given")
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	return &Service{disks: disks, opts: opts, logger: logger.Named("content")}, nil
}

func (s *Service) observe(op, diskName, p string, start time.Time, n int, err error) {
	metrics.RecordOperation(op, diskName, start, n, err)
	if err != nil {
		s.logger.Debug("operation failed",
			zap.String("op", op), logging.Disk(diskName), logging.Path(p),
			zap.Duration("duration", time.Since(start)), zap.Error(err))
		return
	}
	s.logger.Debug("operation done",
		zap.String("op", op), logging.Disk(diskName), logging.Path(p),
		zap.Int("entries", n), zap.Duration("duration", time.Since(start)))
}

// ListDirectory returns the directories and files directly below p.
func (s *Service) ListDirectory(ctx context.Context, diskName, p string) (listing types.Listing, err error) {
	start := time.Now()
	defer func() {
		s.observe("content", diskName, p, start, len(listing.Directories)+len(listing.Files), err)
	}()

	adapter, raw, err := s.list(ctx, diskName, p)
	if err != nil {
		return types.Listing{}, err
	}

	dirs, err := s.directories(ctx, diskName, raw)
	if err != nil {
		return types.Listing{}, err
	}
	files, err := s.files(ctx, adapter, diskName, raw)
	if err != nil {
		return types.Listing{}, err
	}
	return types.Listing{Directories: dirs, Files: files}, nil
}

// DirectoriesOnly returns the directories directly below p.
func (s *Service) DirectoriesOnly(ctx context.Context, diskName, p string) (dirs []types.Entry, err error) {
	start := time.Now()
	defer func() { s.observe("directories", diskName, p, start, len(dirs), err) }()

	_, raw, err := s.list(ctx, diskName, p)
	if err != nil {
		return nil, err
	}
	return s.directories(ctx, diskName, raw)
}

// FilesOnly returns the files directly below p.
func (s *Service) FilesOnly(ctx context.Context, diskName, p string) (files []types.Entry, err error) {
	start := time.Now()
	defer func() { s.observe("files", diskName, p, start, len(files), err) }()

	adapter, raw, err := s.list(ctx, diskName, p)
	if err != nil {
		return nil, err
	}
	return s.files(ctx, adapter, diskName, raw)
}

// DirectoryTree returns the directories below p, each with
// props.hasSubdirectories set.
func (s *Service) DirectoryTree(ctx context.Context, diskName, p string) (dirs []types.Entry, err error) {
	start := time.Now()
	defer func() { s.observe("tree", diskName, p, start, len(dirs), err) }()

	adapter, raw, err := s.list(ctx, diskName, p)
	if err != nil {
		return nil, err
	}
	dirs, err = s.directories(ctx, diskName, raw)
	if err != nil {
		return nil, err
	}

	for i := range dirs {
		sub, err := adapter.Directories(ctx, dirs[i].Path)
		if err != nil {
			return nil, fmt.Errorf("subdirectories of %s: %w", dirs[i].Path, err)
		}
		dirs[i].Props = &types.DirProps{HasSubdirectories: len(sub) > 0}
	}
	return dirs, nil
}

// FileProperties describes a single file without listing its directory.
func (s *Service) FileProperties(ctx context.Context, diskName, p string) (entry types.Entry, err error) {
	start := time.Now()
	defer func() { s.observe("file_properties", diskName, p, start, 1, err) }()

	adapter, err := s.disks.Disk(diskName)
	if err != nil {
		return types.Entry{}, err
	}

	entry, err = NormalizeFile(ctx, adapter, types.RawEntry{Type: types.TypeFile, Path: cleanPath(p)})
	if err != nil {
		return types.Entry{}, err
	}
	return s.single(ctx, diskName, entry)
}

// DirectoryProperties describes a single directory. Backends without
// directory metadata get a synthesized entry instead of an error. A file
// path reads as a missing directory.
func (s *Service) DirectoryProperties(ctx context.Context, diskName, p string) (entry types.Entry, err error) {
	start := time.Now()
	defer func() { s.observe("directory_properties", diskName, p, start, 1, err) }()

	adapter, err := s.disks.Disk(diskName)
	if err != nil {
		return types.Entry{}, err
	}

	clean := cleanPath(p)
	raw, found, err := adapter.Metadata(ctx, clean)
	if err != nil {
		return types.Entry{}, err
	}
	if found && raw.Type != types.TypeDir {
		return types.Entry{}, fmt.Errorf("directory %s: not a directory: %w", clean, types.ErrNotFound)
	}
	if !found {
		metrics.RecordDirectoryFallback()
		s.logger.Debug("no directory metadata, synthesizing entry", logging.Disk(diskName), logging.Path(clean))
		raw = types.RawEntry{Type: types.TypeDir, Path: clean}
	}
	if raw.Path == "" {
		raw.Path = clean
	}

	info := pathinfo.Parse(raw.Path)
	entry = types.Entry{
		Type:      raw.Type,
		Path:      raw.Path,
		Basename:  info.Basename,
		Dirname:   info.Dirname,
		Size:      raw.Size,
		Timestamp: raw.Timestamp,
	}
	return s.single(ctx, diskName, entry)
}

// cleanPath resolves dot segments and strips slashes; "." is the root.
func cleanPath(p string) string {
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}

func (s *Service) list(ctx context.Context, diskName, p string) (disk.Adapter, []types.RawEntry, error) {
	adapter, err := s.disks.Disk(diskName)
	if err != nil {
		return nil, nil, err
	}
	raw, err := adapter.List(ctx, p)
	if err != nil {
		return nil, nil, err
	}
	return adapter, dedupe(raw), nil
}

// dedupe keeps the first raw entry for each path.
func dedupe(raw []types.RawEntry) []types.RawEntry {
	seen := make(map[string]struct{}, len(raw))
	out := raw[:0:0]
	for _, r := range raw {
		if _, dup := seen[r.Path]; dup {
			continue
		}
		seen[r.Path] = struct{}{}
		out = append(out, r)
	}
	return out
}

func (s *Service) directories(ctx context.Context, diskName string, raw []types.RawEntry) ([]types.Entry, error) {
	dirs := make([]types.Entry, 0)
	for _, r := range raw {
		if r.Type != types.TypeDir {
			continue
		}
		info := pathinfo.Parse(r.Path)
		dirs = append(dirs, types.Entry{
			Type:      types.TypeDir,
			Path:      r.Path,
			Basename:  info.Basename,
			Dirname:   info.Dirname,
			Timestamp: r.Timestamp,
		})
	}
	return s.filter(ctx, diskName, dirs)
}

func (s *Service) files(ctx context.Context, adapter disk.Adapter, diskName string, raw []types.RawEntry) ([]types.Entry, error) {
	files := make([]types.Entry, 0)
	for _, r := range raw {
		if r.Type != types.TypeFile {
			continue
		}
		entry, err := NormalizeFile(ctx, adapter, r)
		if err != nil {
			return nil, err
		}
		files = append(files, entry)
	}
	return s.filter(ctx, diskName, files)
}

// NormalizeFile fills a file entry from its path and the adapter's
// per-file metadata. The listed size is used when the backend gave one.
func NormalizeFile(ctx context.Context, adapter disk.Adapter, r types.RawEntry) (types.Entry, error) {
	info := pathinfo.Parse(r.Path)
	entry := types.Entry{
		Type:      types.TypeFile,
		Path:      r.Path,
		Basename:  info.Basename,
		Dirname:   info.Dirname,
		Extension: types.String(info.Extension),
		Filename:  types.String(info.Filename),
		Size:      r.Size,
	}

	if entry.Size == nil {
		size, err := adapter.Size(ctx, r.Path)
		if err != nil {
			return types.Entry{}, err
		}
		entry.Size = types.Int64(size)
	}

	ts, err := adapter.LastModified(ctx, r.Path)
	if err != nil {
		return types.Entry{}, err
	}
	entry.Timestamp = types.Int64(ts)

	visibility, err := adapter.Visibility(ctx, r.Path)
	if err != nil {
		return types.Entry{}, err
	}
	entry.Visibility = visibility

	return entry, nil
}

func (s *Service) filter(ctx context.Context, diskName string, entries []types.Entry) ([]types.Entry, error) {
	if !s.opts.ACLEnabled {
		return entries, nil
	}
	return acl.Filter(ctx, s.opts.Resolver, diskName, entries, s.opts.HideZeroAccess)
}

// single runs one entry through the ACL filter. A hidden entry reads as
// missing.
func (s *Service) single(ctx context.Context, diskName string, entry types.Entry) (types.Entry, error) {
	out, err := s.filter(ctx, diskName, []types.Entry{entry})
	if err != nil {
		return types.Entry{}, err
	}
	if len(out) == 0 {
		return types.Entry{}, fmt.Errorf("%s: %w", entry.Path, types.ErrNotFound)
	}
	return out[0], nil
}
