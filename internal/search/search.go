// Package search finds files and directories on a disk whose name or path
// contains a term. Every search enumerates the whole tree; no index is kept.
package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"diskbrowser/internal/content"
	"diskbrowser/internal/disk"
	"diskbrowser/internal/logging"
	"diskbrowser/internal/metrics"
	"diskbrowser/internal/pathinfo"
	"diskbrowser/pkg/types"
)

// Engine runs searches. It holds no per-search state, so one Engine can
// serve concurrent searches on different disks.
//
// Results are not passed through the ACL filter.
type Engine struct {
	disks  content.Disks
	logger *zap.Logger
}

func New(disks content.Disks, logger *zap.Logger) (*Engine, error) {
	if disks == nil {
		return nil, fmt.Errorf("disk registry is required")
	}
	if logger == nil {
		logger = logging.L()
	}
	return &Engine{disks: disks, logger: logger.Named("search")}, nil
}

// query is everything one search needs; it never outlives the call.
type query struct {
	disk    string
	adapter disk.Adapter
	term    string // lower-cased
	byPath  bool   // term contains "/", match the full path
}

func (q query) matches(p string) bool {
	p = strings.ToLower(p)
	if q.byPath {
		return strings.Contains(p, q.term)
	}
	return strings.Contains(pathinfo.Basename(p), q.term)
}

// Search returns every file and directory on diskName matching term,
// case-insensitively. A term containing "/" is matched against the whole
// path, any other term against the basename only. An empty term matches
// everything.
func (e *Engine) Search(ctx context.Context, diskName, term string) (result types.Listing, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordOperation("search", diskName, start, len(result.Directories)+len(result.Files), err)
		e.logger.Debug("search",
			logging.Disk(diskName), zap.String("term", term),
			zap.Int("directories", len(result.Directories)), zap.Int("files", len(result.Files)),
			zap.Duration("duration", time.Since(start)), zap.Error(err))
	}()

	adapter, err := e.disks.Disk(diskName)
	if err != nil {
		return types.Listing{}, err
	}

	lowered := strings.ToLower(term)
	q := query{
		disk:    diskName,
		adapter: adapter,
		term:    lowered,
		byPath:  strings.Contains(lowered, "/"),
	}

	files, err := q.files(ctx)
	if err != nil {
		return types.Listing{}, err
	}
	dirs, err := q.directories(ctx)
	if err != nil {
		return types.Listing{}, err
	}
	return types.Listing{Directories: dirs, Files: files}, nil
}

func (q query) candidates(all []string) []string {
	metrics.RecordSearchScanned(len(all))

	seen := make(map[string]struct{}, len(all))
	var out []string
	for _, p := range all {
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		if q.matches(p) {
			out = append(out, p)
		}
	}
	return out
}

func (q query) files(ctx context.Context) ([]types.Entry, error) {
	all, err := q.adapter.AllFiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate files on %s: %w", q.disk, err)
	}

	entries := make([]types.Entry, 0)
	for _, p := range q.candidates(all) {
		entry, err := content.NormalizeFile(ctx, q.adapter, types.RawEntry{Type: types.TypeFile, Path: p})
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// directories only get a timestamp when the backend keeps one; object
// stores answer without metadata for plain prefixes.
func (q query) directories(ctx context.Context) ([]types.Entry, error) {
	all, err := q.adapter.AllDirectories(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate directories on %s: %w", q.disk, err)
	}

	entries := make([]types.Entry, 0)
	for _, p := range q.candidates(all) {
		info := pathinfo.Parse(p)
		entry := types.Entry{
			Type:     types.TypeDir,
			Path:     p,
			Basename: info.Basename,
			Dirname:  info.Dirname,
		}

		raw, found, err := q.adapter.Metadata(ctx, p)
		if err != nil {
			return nil, err
		}
		if found {
			entry.Timestamp = raw.Timestamp
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
