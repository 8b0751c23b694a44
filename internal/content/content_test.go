package content

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"diskbrowser/internal/acl"
	"diskbrowser/internal/disk"
	"diskbrowser/internal/disk/disktest"
	"diskbrowser/internal/disk/local"
	"diskbrowser/pkg/types"
)

func newFake() *disktest.Fake {
	return disktest.New().
		AddDir("docs", 50).
		AddPrefix("media").
		AddFile("docs/guide.md", 12, 100, types.VisibilityPublic).
		AddFile("media/photos/cat.jpg", 2048, 200, types.VisibilityPrivate).
		AddFile("archive.tar.gz", 4096, 300, types.VisibilityPublic).
		AddFile(".env", 8, 400, types.VisibilityPrivate)
}

func newService(t *testing.T, fake *disktest.Fake, opts Options) *Service {
	t.Helper()
	registry := disk.NewRegistry()
	require.NoError(t, registry.Register("public", fake))

	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	svc, err := New(registry, opts)
	require.NoError(t, err)
	return svc
}

func paths(entries []types.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Path)
	}
	return out
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, Options{})
	assert.Error(t, err)

	_, err = New(disk.NewRegistry(), Options{ACLEnabled: true})
	assert.Error(t, err, "acl without resolver")
}

func TestListDirectory_Partitions(t *testing.T) {
	svc := newService(t, newFake(), Options{})

	listing, err := svc.ListDirectory(context.Background(), "public", "")
	require.NoError(t, err)

	assert.Equal(t, []string{"docs", "media"}, paths(listing.Directories))
	assert.Equal(t, []string{"archive.tar.gz", ".env"}, paths(listing.Files), "backend order is kept")
}

func TestListDirectory_FieldPresence(t *testing.T) {
	svc := newService(t, newFake(), Options{})

	listing, err := svc.ListDirectory(context.Background(), "public", "")
	require.NoError(t, err)

	for _, d := range listing.Directories {
		assert.Equal(t, types.TypeDir, d.Type)
		assert.Nil(t, d.Extension)
		assert.Nil(t, d.Filename)
		assert.Nil(t, d.Size)
		assert.Empty(t, d.Visibility)
		assert.Nil(t, d.ACL, "acl only appears when enabled")
		assert.Equal(t, "", d.Dirname)
	}
	assert.Equal(t, int64(50), *listing.Directories[0].Timestamp, "docs has metadata")
	assert.Nil(t, listing.Directories[1].Timestamp, "media is a bare prefix")

	archive := listing.Files[0]
	assert.Equal(t, "archive.tar.gz", archive.Basename)
	assert.Equal(t, "gz", *archive.Extension)
	assert.Equal(t, "archive.tar", *archive.Filename)
	assert.Equal(t, int64(4096), *archive.Size)
	assert.Equal(t, int64(300), *archive.Timestamp)
	assert.Equal(t, types.VisibilityPublic, archive.Visibility)

	env := listing.Files[1]
	assert.Equal(t, "", *env.Extension, "dotfiles have no extension")
	assert.Equal(t, ".env", *env.Filename)

	raw, err := json.Marshal(listing.Directories[1])
	require.NoError(t, err)
	for _, key := range []string{"extension", "filename", "size", "visibility", "timestamp", "acl", "props"} {
		assert.NotContains(t, string(raw), `"`+key+`"`)
	}
}

func TestListDirectory_Nested(t *testing.T) {
	svc := newService(t, newFake(), Options{})

	listing, err := svc.ListDirectory(context.Background(), "public", "media/photos")
	require.NoError(t, err)
	require.Len(t, listing.Files, 1)

	cat := listing.Files[0]
	assert.Equal(t, "media/photos/cat.jpg", cat.Path)
	assert.Equal(t, "media/photos", cat.Dirname)
	assert.Equal(t, types.VisibilityPrivate, cat.Visibility)
	assert.Empty(t, listing.Directories)
	assert.NotNil(t, listing.Directories, "empty categories encode as []")
}

func TestListDirectory_SizeFallback(t *testing.T) {
	fake := newFake()
	fake.BareListing = true
	svc := newService(t, fake, Options{})

	files, err := svc.FilesOnly(context.Background(), "public", "docs")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, int64(12), *files[0].Size)
	assert.Equal(t, int64(100), *files[0].Timestamp)
	assert.Equal(t, 1, fake.Calls("Size"))
}

func TestListDirectory_DropsDuplicatePaths(t *testing.T) {
	fake := newFake()
	fake.DuplicateListing = true
	svc := newService(t, fake, Options{})

	listing, err := svc.ListDirectory(context.Background(), "public", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"docs", "media"}, paths(listing.Directories))
	assert.Equal(t, []string{"archive.tar.gz", ".env"}, paths(listing.Files))
}

func TestListDirectory_Errors(t *testing.T) {
	ctx := context.Background()

	svc := newService(t, newFake(), Options{})
	_, err := svc.ListDirectory(ctx, "missing", "")
	assert.ErrorIs(t, err, types.ErrUnknownDisk)

	_, err = svc.ListDirectory(ctx, "public", "nope")
	assert.ErrorIs(t, err, types.ErrNotFound)

	fake := newFake().Fail("Visibility", "archive.tar.gz", fmt.Errorf("acl read: %w", types.ErrBackendUnavailable))
	svc = newService(t, fake, Options{})
	_, err = svc.ListDirectory(ctx, "public", "")
	assert.ErrorIs(t, err, types.ErrBackendUnavailable, "no partial results")
}

func TestDirectoriesAndFilesOnly(t *testing.T) {
	svc := newService(t, newFake(), Options{})
	ctx := context.Background()

	dirs, err := svc.DirectoriesOnly(ctx, "public", "/")
	require.NoError(t, err)
	assert.Equal(t, []string{"docs", "media"}, paths(dirs))

	files, err := svc.FilesOnly(ctx, "public", "/")
	require.NoError(t, err)
	assert.Equal(t, []string{"archive.tar.gz", ".env"}, paths(files))
}

func TestDirectoryTree(t *testing.T) {
	fake := newFake().AddPrefix("docs/drafts")
	svc := newService(t, fake, Options{})

	dirs, err := svc.DirectoryTree(context.Background(), "public", "")
	require.NoError(t, err)
	require.Len(t, dirs, 2)

	for _, d := range dirs {
		require.NotNil(t, d.Props)
		assert.True(t, d.Props.HasSubdirectories, "%s has a subdirectory", d.Path)
	}

	leaves, err := svc.DirectoryTree(context.Background(), "public", "media")
	require.NoError(t, err)
	require.Len(t, leaves, 1)
	assert.False(t, leaves[0].Props.HasSubdirectories)

	raw, err := json.Marshal(leaves[0])
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"props":{"hasSubdirectories":false}`)
}

func TestFileProperties(t *testing.T) {
	fake := newFake()
	svc := newService(t, fake, Options{})

	entry, err := svc.FileProperties(context.Background(), "public", "media/photos/cat.jpg")
	require.NoError(t, err)

	assert.Equal(t, types.TypeFile, entry.Type)
	assert.Equal(t, "cat.jpg", entry.Basename)
	assert.Equal(t, "media/photos", entry.Dirname)
	assert.Equal(t, "jpg", *entry.Extension)
	assert.Equal(t, "cat", *entry.Filename)
	assert.Equal(t, int64(2048), *entry.Size)
	assert.Equal(t, int64(200), *entry.Timestamp)
	assert.Equal(t, types.VisibilityPrivate, entry.Visibility)
	assert.Zero(t, fake.Calls("List"), "property lookups do not list")

	_, err = svc.FileProperties(context.Background(), "public", "ghost.txt")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestDirectoryProperties(t *testing.T) {
	svc := newService(t, newFake(), Options{})
	ctx := context.Background()

	docs, err := svc.DirectoryProperties(ctx, "public", "docs")
	require.NoError(t, err)
	assert.Equal(t, types.TypeDir, docs.Type)
	assert.Equal(t, int64(50), *docs.Timestamp)

	photos, err := svc.DirectoryProperties(ctx, "public", "media/photos")
	require.NoError(t, err, "missing metadata is not an error")
	assert.Equal(t, types.Entry{
		Type:     types.TypeDir,
		Path:     "media/photos",
		Basename: "photos",
		Dirname:  "media",
	}, photos)

	_, err = svc.DirectoryProperties(ctx, "public", "nowhere")
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = svc.DirectoryProperties(ctx, "public", "docs/guide.md")
	assert.ErrorIs(t, err, types.ErrNotFound, "a file is not a directory")
}

func TestFileProperties_DirectoryIsNotAFile(t *testing.T) {
	svc := newService(t, newFake(), Options{})

	_, err := svc.FileProperties(context.Background(), "public", "docs")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestLocalDisk_PathsAreBackendRelative(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("abc"), 0o644))

	adapter, err := local.New(local.Config{Root: root})
	require.NoError(t, err)
	registry := disk.NewRegistry()
	require.NoError(t, registry.Register("l", adapter))
	svc, err := New(registry, Options{Logger: zap.NewNop()})
	require.NoError(t, err)
	ctx := context.Background()

	for _, p := range []string{".", "./", "sub/..", ".."} {
		listing, err := svc.ListDirectory(ctx, "l", p)
		require.NoError(t, err, p)
		require.Len(t, listing.Directories, 1, p)
		require.Len(t, listing.Files, 1, p)
		assert.Equal(t, "sub", listing.Directories[0].Path, p)
		assert.Equal(t, "", listing.Directories[0].Dirname, p)
		assert.Equal(t, "a.txt", listing.Files[0].Path, p)
		assert.Equal(t, "", listing.Files[0].Dirname, p)
	}

	_, err = svc.FileProperties(ctx, "l", "sub")
	assert.ErrorIs(t, err, types.ErrNotFound, "a directory is not a file")

	_, err = svc.DirectoryProperties(ctx, "l", "a.txt")
	assert.ErrorIs(t, err, types.ErrNotFound, "a file is not a directory")

	entry, err := svc.FileProperties(ctx, "l", "./a.txt")
	require.NoError(t, err)
	assert.Equal(t, "a.txt", entry.Path)
	assert.Equal(t, int64(3), *entry.Size)
}

// denySecret hides .env and anything below media.
var denySecret = acl.ResolverFunc(func(_ context.Context, _ string, p string) (acl.Level, error) {
	if p == ".env" || strings.HasPrefix(p, "media") {
		return acl.LevelNone, nil
	}
	return acl.LevelRead, nil
})

func TestACL_AnnotateAll(t *testing.T) {
	svc := newService(t, newFake(), Options{Resolver: denySecret, ACLEnabled: true})

	listing, err := svc.ListDirectory(context.Background(), "public", "")
	require.NoError(t, err)
	require.Len(t, listing.Directories, 2)
	require.Len(t, listing.Files, 2)

	for _, e := range append(listing.Directories, listing.Files...) {
		require.NotNil(t, e.ACL, "%s should be annotated", e.Path)
	}
	assert.Equal(t, 0, *listing.Files[1].ACL)
}

func TestACL_HideZeroAccess(t *testing.T) {
	svc := newService(t, newFake(), Options{Resolver: denySecret, ACLEnabled: true, HideZeroAccess: true})
	ctx := context.Background()

	listing, err := svc.ListDirectory(ctx, "public", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"docs"}, paths(listing.Directories))
	assert.Equal(t, []string{"archive.tar.gz"}, paths(listing.Files))

	_, err = svc.FileProperties(ctx, "public", ".env")
	assert.ErrorIs(t, err, types.ErrNotFound, "hidden entries read as missing")

	_, err = svc.DirectoryProperties(ctx, "public", "media")
	assert.ErrorIs(t, err, types.ErrNotFound)

	visible, err := svc.FileProperties(ctx, "public", "archive.tar.gz")
	require.NoError(t, err)
	assert.Equal(t, 1, *visible.ACL)
}

func TestOperationsAreIdempotent(t *testing.T) {
	svc := newService(t, newFake(), Options{Resolver: denySecret, ACLEnabled: true})
	ctx := context.Background()

	first, err := svc.ListDirectory(ctx, "public", "")
	require.NoError(t, err)
	second, err := svc.ListDirectory(ctx, "public", "")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	tree1, err := svc.DirectoryTree(ctx, "public", "")
	require.NoError(t, err)
	tree2, err := svc.DirectoryTree(ctx, "public", "")
	require.NoError(t, err)
	assert.Equal(t, tree1, tree2)
}
