// Package acl annotates entries with access levels and hides the ones a
// caller may not see.
package acl

import (
	"context"
	"fmt"

	"diskbrowser/internal/metrics"
	"diskbrowser/pkg/types"
)

// Level is the access a caller has on a path.
type Level int

const (
	LevelNone      Level = 0
	LevelRead      Level = 1
	LevelReadWrite Level = 2
)

func (l Level) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelRead:
		return "read"
	case LevelReadWrite:
		return "read/write"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// Resolver decides the access level for a path on a disk.
type Resolver interface {
	AccessLevel(ctx context.Context, disk, path string) (Level, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, disk, path string) (Level, error)

func (f ResolverFunc) AccessLevel(ctx context.Context, disk, path string) (Level, error) {
	return f(ctx, disk, path)
}

// Filter sets ACL on every entry, then drops entries with no access when
// hideZeroAccess is set. Order of the remaining entries is kept. The input
// slice is not modified.
func Filter(ctx context.Context, resolver Resolver, disk string, entries []types.Entry, hideZeroAccess bool) ([]types.Entry, error) {
	annotated := make([]types.Entry, len(entries))
	for i, entry := range entries {
		level, err := resolver.AccessLevel(ctx, disk, entry.Path)
		if err != nil {
			return nil, fmt.Errorf("acl %s: %w", entry.Path, err)
		}
		access := int(level)
		entry.ACL = &access
		annotated[i] = entry
	}

	if !hideZeroAccess {
		return annotated, nil
	}

	visible := annotated[:0]
	for _, entry := range annotated {
		keep := *entry.ACL != int(LevelNone)
		metrics.RecordACLDecision(keep)
		if keep {
			visible = append(visible, entry)
		}
	}
	return visible, nil
}
