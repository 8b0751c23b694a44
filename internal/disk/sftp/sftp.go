// Package sftp provides a read-only disk over an SFTP session.
package sftp

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"diskbrowser/pkg/types"
)

// Config holds SFTP disk settings. One of Password or KeyFile is needed.
// Host keys are checked against KnownHosts unless InsecureIgnoreHostKey.
type Config struct {
	Host                  string `mapstructure:"host" validate:"required"`
	Port                  int    `mapstructure:"port" validate:"omitempty,gte=1,lte=65535"`
	User                  string `mapstructure:"user" validate:"required"`
	Password              string `mapstructure:"password"`
	KeyFile               string `mapstructure:"key_file"`
	KnownHosts            string `mapstructure:"known_hosts"`
	InsecureIgnoreHostKey bool   `mapstructure:"insecure_ignore_host_key"`
	Root                  string `mapstructure:"root"`
}

type Disk struct {
	client *sftp.Client
	conn   *ssh.Client // nil when the client was handed in
	root   string
}

// New wraps an open SFTP client. Close closes it.
func New(client *sftp.Client, root string) (*Disk, error) {
	if client == nil {
		return nil, fmt.Errorf("sftp client is required")
	}
	if root == "" {
		root = "/"
	}
	return &Disk{client: client, root: path.Clean(root)}, nil
}

// Dial opens an SSH connection and an SFTP session on it.
func Dial(cfg Config) (*Disk, error) {
	auth, err := authMethods(cfg)
	if err != nil {
		return nil, err
	}

	hostKeys, err := hostKeyCallback(cfg)
	if err != nil {
		return nil, err
	}

	port := cfg.Port
	if port == 0 {
		port = 22
	}

	conn, err := ssh.Dial("tcp", net.JoinHostPort(cfg.Host, strconv.Itoa(port)), &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKeys,
	})
	if err != nil {
		return nil, fmt.Errorf("SSH connection failed: %w", err)
	}

	client, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("SFTP session creation failed: %w", err)
	}

	d, err := New(client, cfg.Root)
	if err != nil {
		client.Close()
		conn.Close()
		return nil, err
	}
	d.conn = conn
	return d, nil
}

func authMethods(cfg Config) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if cfg.KeyFile != "" {
		key, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("read key file %s: %w", cfg.KeyFile, err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse key file %s: %w", cfg.KeyFile, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		methods = append(methods, ssh.Password(cfg.Password))
	}

	if len(methods) == 0 {
		return nil, fmt.Errorf("no SSH authentication method configured (password or key_file)")
	}
	return methods, nil
}

func hostKeyCallback(cfg Config) (ssh.HostKeyCallback, error) {
	if cfg.KnownHosts != "" {
		cb, err := knownhosts.New(cfg.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("load known hosts %s: %w", cfg.KnownHosts, err)
		}
		return cb, nil
	}
	if cfg.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	return nil, fmt.Errorf("known_hosts is required unless insecure_ignore_host_key is set")
}

func (d *Disk) fullPath(p string) string {
	return path.Join(d.root, path.Clean("/"+strings.TrimPrefix(p, "/")))
}

func (d *Disk) relPath(full string) string {
	return strings.TrimPrefix(strings.TrimPrefix(full, d.root), "/")
}

func wrap(op, p string, err error) error {
	if errors.Is(err, fs.ErrNotExist) || os.IsNotExist(err) {
		return fmt.Errorf("%s %s: %w", op, p, types.ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w: %v", op, p, types.ErrBackendUnavailable, err)
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

func (d *Disk) List(ctx context.Context, p string) ([]types.RawEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	full := d.fullPath(p)
	infos, err := d.client.ReadDir(full)
	if err != nil {
		return nil, wrap("list", p, err)
	}

	entries := make([]types.RawEntry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, rawEntry(d.relPath(path.Join(full, info.Name())), info))
	}
	return entries, nil
}

func (d *Disk) stat(ctx context.Context, op, p string) (fs.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := d.client.Stat(d.fullPath(p))
	if err != nil {
		return nil, wrap(op, p, err)
	}
	return info, nil
}

// fileStat is stat for operations defined on files only. A directory reads
// as a missing file.
func (d *Disk) fileStat(ctx context.Context, op, p string) (fs.FileInfo, error) {
	info, err := d.stat(ctx, op, p)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s %s: is a directory: %w", op, p, types.ErrNotFound)
	}
	return info, nil
}

func (d *Disk) Size(ctx context.Context, p string) (int64, error) {
	info, err := d.fileStat(ctx, "size", p)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (d *Disk) LastModified(ctx context.Context, p string) (int64, error) {
	info, err := d.stat(ctx, "last modified", p)
	if err != nil {
		return 0, err
	}
	return info.ModTime().Unix(), nil
}

// Visibility is public when the remote file is world readable.
func (d *Disk) Visibility(ctx context.Context, p string) (types.Visibility, error) {
	info, err := d.fileStat(ctx, "visibility", p)
	if err != nil {
		return "", err
	}
	if info.Mode().Perm()&0o004 != 0 {
		return types.VisibilityPublic, nil
	}
	return types.VisibilityPrivate, nil
}

func (d *Disk) Metadata(ctx context.Context, p string) (types.RawEntry, bool, error) {
	info, err := d.stat(ctx, "metadata", p)
	if err != nil {
		return types.RawEntry{}, false, err
	}
	return rawEntry(d.relPath(d.fullPath(p)), info), true, nil
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

func (d *Disk) walk(ctx context.Context, wantDirs bool) ([]string, error) {
	var paths []string

	walker := d.client.Walk(d.root)
	for walker.Step() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := walker.Err(); err != nil {
			return nil, wrap("walk", walker.Path(), err)
		}

		full := walker.Path()
		if full == d.root {
			continue
		}
		if walker.Stat().IsDir() == wantDirs {
			paths = append(paths, d.relPath(full))
		}
	}

	sort.Strings(paths)
	return paths, nil
}

// Close ends the SFTP session and, when Dial opened it, the SSH connection.
func (d *Disk) Close() error {
	var errs []error
	if err := d.client.Close(); err != nil {
		errs = append(errs, err)
	}
	if d.conn != nil {
		if err := d.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
