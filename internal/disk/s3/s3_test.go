package s3

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"diskbrowser/pkg/types"
)

type object struct {
	size     int64
	modified time.Time
	public   bool
}

// fakeAPI serves a bucket from a map. Flat listings are paged by pageSize
// keys so paginator handling is exercised.
type fakeAPI struct {
	objects  map[string]object
	pageSize int
	err      error
	lists    int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{objects: make(map[string]object), pageSize: 2}
}

func (f *fakeAPI) put(key string, size int64, ts int64, public bool) {
	f.objects[key] = object{size: size, modified: time.Unix(ts, 0), public: public}
}

func (f *fakeAPI) sortedKeys(prefix string) []string {
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func (f *fakeAPI) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.lists++
	if f.err != nil {
		return nil, f.err
	}

	prefix := aws.ToString(in.Prefix)
	delim := aws.ToString(in.Delimiter)
	keys := f.sortedKeys(prefix)
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}

	if delim != "" {
		seen := map[string]bool{}
		for _, k := range keys {
			rest := k[len(prefix):]
			if idx := strings.Index(rest, delim); idx >= 0 {
				cp := prefix + rest[:idx+1]
				if !seen[cp] {
					seen[cp] = true
					out.CommonPrefixes = append(out.CommonPrefixes, s3types.CommonPrefix{Prefix: aws.String(cp)})
				}
				continue
			}
			out.Contents = append(out.Contents, f.toObject(k))
		}
		return out, nil
	}

	start := 0
	if token := aws.ToString(in.ContinuationToken); token != "" {
		start = sort.SearchStrings(keys, token) + 1
	}
	limit := f.pageSize
	if in.MaxKeys != nil && int(*in.MaxKeys) < limit {
		limit = int(*in.MaxKeys)
	}
	end := start + limit
	if end < len(keys) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(keys[end-1])
	} else {
		end = len(keys)
	}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, f.toObject(k))
	}
	return out, nil
}

func (f *fakeAPI) toObject(k string) s3types.Object {
	obj := f.objects[k]
	return s3types.Object{Key: aws.String(k), Size: aws.Int64(obj.size), LastModified: aws.Time(obj.modified)}
}

func (f *fakeAPI) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(obj.size), LastModified: aws.Time(obj.modified)}, nil
}

func (f *fakeAPI) GetObjectAcl(_ context.Context, in *s3.GetObjectAclInput, _ ...func(*s3.Options)) (*s3.GetObjectAclOutput, error) {
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NoSuchKey", Message: "missing"}
	}
	out := &s3.GetObjectAclOutput{
		Grants: []s3types.Grant{{
			Grantee:    &s3types.Grantee{Type: s3types.TypeCanonicalUser, ID: aws.String("owner")},
			Permission: s3types.PermissionFullControl,
		}},
	}
	if obj.public {
		out.Grants = append(out.Grants, s3types.Grant{
			Grantee:    &s3types.Grantee{Type: s3types.TypeGroup, URI: aws.String(allUsersURI)},
			Permission: s3types.PermissionRead,
		})
	}
	return out, nil
}

func newTestDisk(t *testing.T, keyPrefix string) (*Disk, *fakeAPI) {
	t.Helper()
	api := newFakeAPI()
	p := ""
	if keyPrefix != "" {
		p = keyPrefix + "/"
	}
	api.put(p+"a/b/foo.txt", 5, 100, true)
	api.put(p+"foo/bar.txt", 8, 200, false)
	api.put(p+"marked/", 0, 300, false)
	api.put(p+"top.md", 1, 400, true)
	api.put("outside/ignored.txt", 1, 1, false)

	d, err := New(api, "bucket", keyPrefix)
	require.NoError(t, err)
	return d, api
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, "bucket", "")
	assert.Error(t, err)
	_, err = New(newFakeAPI(), "", "")
	assert.Error(t, err)
}

func TestDisk_ListRoot(t *testing.T) {
	d, _ := newTestDisk(t, "")

	entries, err := d.List(context.Background(), "")
	require.NoError(t, err)

	byPath := map[string]types.RawEntry{}
	for _, e := range entries {
		byPath[e.Path] = e
	}
	assert.Equal(t, types.TypeDir, byPath["a"].Type)
	assert.Nil(t, byPath["a"].Timestamp, "prefixes carry no timestamp")
	assert.Equal(t, types.TypeDir, byPath["marked"].Type)
	assert.Equal(t, types.TypeFile, byPath["top.md"].Type)
	assert.Equal(t, int64(1), *byPath["top.md"].Size)
	assert.Equal(t, int64(400), *byPath["top.md"].Timestamp)
}

func TestDisk_ListWithKeyPrefix(t *testing.T) {
	d, _ := newTestDisk(t, "tenant")

	entries, err := d.List(context.Background(), "a/b")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a/b/foo.txt", entries[0].Path)

	root, err := d.List(context.Background(), "/")
	require.NoError(t, err)
	for _, e := range root {
		assert.NotContains(t, e.Path, "outside")
		assert.NotContains(t, e.Path, "tenant")
	}
}

func TestDisk_ListMarkerAndMissing(t *testing.T) {
	d, _ := newTestDisk(t, "")
	ctx := context.Background()

	entries, err := d.List(ctx, "marked")
	require.NoError(t, err, "an empty directory with a marker exists")
	assert.Empty(t, entries)

	_, err = d.List(ctx, "ghost")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestDisk_FileMetadata(t *testing.T) {
	d, _ := newTestDisk(t, "")
	ctx := context.Background()

	size, err := d.Size(ctx, "foo/bar.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(8), size)

	ts, err := d.LastModified(ctx, "/foo/bar.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(200), ts)

	vis, err := d.Visibility(ctx, "foo/bar.txt")
	require.NoError(t, err)
	assert.Equal(t, types.VisibilityPrivate, vis)

	vis, err = d.Visibility(ctx, "top.md")
	require.NoError(t, err)
	assert.Equal(t, types.VisibilityPublic, vis)

	_, err = d.Size(ctx, "nope")
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = d.Visibility(ctx, "nope")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestDisk_Metadata(t *testing.T) {
	d, _ := newTestDisk(t, "")
	ctx := context.Background()

	tests := []struct {
		name      string
		path      string
		wantFound bool
		wantType  types.EntryType
		wantTS    *int64
		wantErr   error
	}{
		{name: "file", path: "top.md", wantFound: true, wantType: types.TypeFile, wantTS: types.Int64(400)},
		{name: "marker", path: "marked", wantFound: true, wantType: types.TypeDir, wantTS: types.Int64(300)},
		{name: "prefix only", path: "a/b", wantFound: false},
		{name: "root", path: "", wantFound: false},
		{name: "missing", path: "ghost", wantErr: types.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry, found, err := d.Metadata(ctx, tt.path)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantFound, found)
			if found {
				assert.Equal(t, tt.wantType, entry.Type)
				assert.Equal(t, tt.wantTS, entry.Timestamp)
			}
		})
	}
}

func TestDisk_TreeEnumerationPaginates(t *testing.T) {
	d, api := newTestDisk(t, "")
	ctx := context.Background()

	files, err := d.AllFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a/b/foo.txt", "foo/bar.txt", "outside/ignored.txt", "top.md"}, files)
	assert.Greater(t, api.lists, 1, "listing should span several pages")

	dirs, err := d.AllDirectories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "a/b", "foo", "marked", "outside"}, dirs)

	sub, err := d.Directories(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/b"}, sub)
}

func TestDisk_BackendFailure(t *testing.T) {
	d, api := newTestDisk(t, "")
	api.err = errors.New("connection refused")

	_, err := d.List(context.Background(), "")
	assert.ErrorIs(t, err, types.ErrBackendUnavailable)

	_, _, err = d.Metadata(context.Background(), "a")
	assert.ErrorIs(t, err, types.ErrBackendUnavailable)
}
