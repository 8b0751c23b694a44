// Package s3 provides a read-only disk over an S3 bucket. Directories are
// key prefixes; a zero-byte object whose key ends in "/" acts as a
// directory marker and is the only way a directory carries a timestamp.
package s3

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"diskbrowser/pkg/types"
)

const allUsersURI = "http://acs.amazonaws.com/groups/global/AllUsers"

// API is the subset of the S3 client the disk calls.
type API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObjectAcl(ctx context.Context, params *s3.GetObjectAclInput, optFns ...func(*s3.Options)) (*s3.GetObjectAclOutput, error)
}

// Config holds S3 disk settings. Credentials fall back to the default
// AWS chain when empty.
type Config struct {
	Bucket          string `mapstructure:"bucket" validate:"required"`
	Region          string `mapstructure:"region" validate:"required"`
	Endpoint        string `mapstructure:"endpoint" validate:"omitempty,url"`
	KeyPrefix       string `mapstructure:"key_prefix"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

type Disk struct {
	client API
	bucket string
	prefix string // "" or "some/prefix/"
}

// New creates a disk over an existing client.
func New(client API, bucket, keyPrefix string) (*Disk, error) {
	if client == nil {
		return nil, fmt.Errorf("s3 client is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	prefix := strings.Trim(keyPrefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &Disk{client: client, bucket: bucket, prefix: prefix}, nil
}

// NewFromConfig builds an S3 client from cfg and wraps it in a disk.
// A custom endpoint (MinIO, Localstack) switches to path-style addressing.
func NewFromConfig(ctx context.Context, cfg Config) (*Disk, error) {
	var opts []func(*awsConfig.LoadOptions) error
	opts = append(opts, awsConfig.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return New(client, cfg.Bucket, cfg.KeyPrefix)
}

func clean(p string) string {
	return strings.TrimPrefix(path.Clean("/"+strings.TrimPrefix(p, "/")), "/")
}

func (d *Disk) key(p string) string {
	return d.prefix + clean(p)
}

// dirPrefix is the key prefix of the children of p.
func (d *Disk) dirPrefix(p string) string {
	p = clean(p)
	if p == "" {
		return d.prefix
	}
	return d.prefix + p + "/"
}

func (d *Disk) relPath(key string) string {
	return strings.TrimSuffix(strings.TrimPrefix(key, d.prefix), "/")
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

func wrap(op, p string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%s %s: %w", op, p, types.ErrNotFound)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s %s: %w", op, p, err)
	}
	return fmt.Errorf("%s %s: %w: %v", op, p, types.ErrBackendUnavailable, err)
}

func (d *Disk) List(ctx context.Context, p string) ([]types.RawEntry, error) {
	prefix := d.dirPrefix(p)

	paginator := s3.NewListObjectsV2Paginator(d.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(d.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})

	var (
		entries []types.RawEntry
		marker  bool
	)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, wrap("list", p, err)
		}

		for _, cp := range page.CommonPrefixes {
			entries = append(entries, types.RawEntry{
				Type: types.TypeDir,
				Path: d.relPath(aws.ToString(cp.Prefix)),
			})
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == prefix {
				marker = true
				continue
			}
			entries = append(entries, objectEntry(d.relPath(key), obj))
		}
	}

	if len(entries) == 0 && !marker && clean(p) != "" {
		return nil, fmt.Errorf("list %s: %w", p, types.ErrNotFound)
	}
	return entries, nil
}

func objectEntry(p string, obj s3types.Object) types.RawEntry {
	entry := types.RawEntry{
		Type: types.TypeFile,
		Path: p,
		Size: types.Int64(aws.ToInt64(obj.Size)),
	}
	if obj.LastModified != nil {
		entry.Timestamp = types.Int64(obj.LastModified.Unix())
	}
	return entry
}

func (d *Disk) head(ctx context.Context, op, p string) (*s3.HeadObjectOutput, error) {
	out, err := d.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(p)),
	})
	if err != nil {
		return nil, wrap(op, p, err)
	}
	return out, nil
}

func (d *Disk) Size(ctx context.Context, p string) (int64, error) {
	out, err := d.head(ctx, "size", p)
	if err != nil {
		return 0, err
	}
	return aws.ToInt64(out.ContentLength), nil
}

func (d *Disk) LastModified(ctx context.Context, p string) (int64, error) {
	out, err := d.head(ctx, "last modified", p)
	if err != nil {
		return 0, err
	}
	if out.LastModified == nil {
		return 0, nil
	}
	return out.LastModified.Unix(), nil
}

// Visibility is public when the object ACL grants AllUsers read access.
func (d *Disk) Visibility(ctx context.Context, p string) (types.Visibility, error) {
	out, err := d.client.GetObjectAcl(ctx, &s3.GetObjectAclInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(p)),
	})
	if err != nil {
		return "", wrap("visibility", p, err)
	}

	for _, grant := range out.Grants {
		if grant.Grantee == nil || aws.ToString(grant.Grantee.URI) != allUsersURI {
			continue
		}
		if grant.Permission == s3types.PermissionRead || grant.Permission == s3types.PermissionFullControl {
			return types.VisibilityPublic, nil
		}
	}
	return types.VisibilityPrivate, nil
}

// Metadata tries the object, then the directory marker, then whether any
// key lives below the prefix. A prefix without marker has no metadata.
func (d *Disk) Metadata(ctx context.Context, p string) (types.RawEntry, bool, error) {
	rel := clean(p)
	if rel == "" {
		return types.RawEntry{}, false, nil
	}

	out, err := d.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(rel)),
	})
	if err == nil {
		entry := types.RawEntry{Type: types.TypeFile, Path: rel, Size: types.Int64(aws.ToInt64(out.ContentLength))}
		if out.LastModified != nil {
			entry.Timestamp = types.Int64(out.LastModified.Unix())
		}
		return entry, true, nil
	}
	if !isNotFound(err) {
		return types.RawEntry{}, false, wrap("metadata", p, err)
	}

	out, err = d.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.dirPrefix(rel)),
	})
	if err == nil {
		entry := types.RawEntry{Type: types.TypeDir, Path: rel}
		if out.LastModified != nil {
			entry.Timestamp = types.Int64(out.LastModified.Unix())
		}
		return entry, true, nil
	}
	if !isNotFound(err) {
		return types.RawEntry{}, false, wrap("metadata", p, err)
	}

	page, err := d.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(d.bucket),
		Prefix:  aws.String(d.dirPrefix(rel)),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return types.RawEntry{}, false, wrap("metadata", p, err)
	}
	if len(page.Contents) > 0 || len(page.CommonPrefixes) > 0 {
		return types.RawEntry{}, false, nil
	}
	return types.RawEntry{}, false, fmt.Errorf("metadata %s: %w", p, types.ErrNotFound)
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
	files, _, err := d.scan(ctx)
	return files, err
}

func (d *Disk) AllDirectories(ctx context.Context) ([]string, error) {
	_, dirs, err := d.scan(ctx)
	return dirs, err
}

// scan lists every key below the disk prefix. Directories are derived from
// markers and from the parents of every key.
func (d *Disk) scan(ctx context.Context) ([]string, []string, error) {
	paginator := s3.NewListObjectsV2Paginator(d.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(d.bucket),
		Prefix: aws.String(d.prefix),
	})

	var files []string
	dirSet := make(map[string]struct{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, nil, wrap("scan", "", err)
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			rel := d.relPath(key)
			if rel == "" {
				continue
			}
			if strings.HasSuffix(key, "/") {
				dirSet[rel] = struct{}{}
			} else {
				files = append(files, rel)
			}
			for dir := path.Dir(rel); dir != "." && dir != "/"; dir = path.Dir(dir) {
				dirSet[dir] = struct{}{}
			}
		}
	}

	dirs := make([]string, 0, len(dirSet))
	for dir := range dirSet {
		dirs = append(dirs, dir)
	}
	sort.Strings(files)
	sort.Strings(dirs)
	return files, dirs, nil
}
