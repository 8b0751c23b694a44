package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexflint/go-arg"
	"go.uber.org/zap"

	"diskbrowser/internal/config"
	"diskbrowser/internal/content"
	"diskbrowser/internal/disk"
	"diskbrowser/internal/filesystem"
	"diskbrowser/internal/logging"
	"diskbrowser/internal/metrics"
	"diskbrowser/internal/search"
	"diskbrowser/pkg/types"
)

// Build information (set by linker flags during build)
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

type ContentCmd struct {
	Disk string `arg:"positional,required" help:"disk name"`
	Path string `arg:"positional" help:"directory path, empty for the root"`
	Only string `arg:"--only" help:"dirs or files"`
}

type TreeCmd struct {
	Disk string `arg:"positional,required" help:"disk name"`
	Path string `arg:"positional" help:"directory path, empty for the root"`
}

type PropsCmd struct {
	Disk string `arg:"positional,required" help:"disk name"`
	Path string `arg:"positional,required" help:"file or directory path"`
	Dir  bool   `arg:"--dir" help:"describe a directory instead of a file"`
}

type SearchCmd struct {
	Disk string `arg:"positional,required" help:"disk name"`
	Term string `arg:"positional" help:"search term; a term with / matches full paths"`
}

type DisksCmd struct{}

type PutCmd struct {
	Disk      string `arg:"positional,required" help:"virtual disk name"`
	Path      string `arg:"positional,required" help:"entry path"`
	Size      int64  `arg:"--size" help:"file size in bytes"`
	Timestamp int64  `arg:"--timestamp" help:"modification time, epoch seconds (default now)"`
	Private   bool   `arg:"--private" help:"mark the file private"`
	Dir       bool   `arg:"--dir" help:"create a directory instead of a file"`
}

type RmCmd struct {
	Disk string `arg:"positional,required" help:"virtual disk name"`
	Path string `arg:"positional,required" help:"file path"`
}

type args struct {
	Config string `arg:"-c,--config,env:DISKBROWSER_CONFIG" default:"diskbrowser.yaml" help:"configuration file (yaml or toml)"`

	Content *ContentCmd `arg:"subcommand:content" help:"list a directory"`
	Tree    *TreeCmd    `arg:"subcommand:tree" help:"list subdirectories with tree hints"`
	Props   *PropsCmd   `arg:"subcommand:props" help:"show file or directory properties"`
	Search  *SearchCmd  `arg:"subcommand:search" help:"search a disk"`
	Disks   *DisksCmd   `arg:"subcommand:disks" help:"list configured disks"`
	Put     *PutCmd     `arg:"subcommand:put" help:"add an entry to a virtual disk"`
	Rm      *RmCmd      `arg:"subcommand:rm" help:"remove a file from a virtual disk"`
}

func (args) Version() string {
	return fmt.Sprintf("diskbrowser %s (commit %s, built %s)", version, commit, date)
}

func (args) Description() string {
	return "Browse and search storage disks with normalized metadata."
}

func main() {
	var a args
	p := arg.MustParse(&a)
	if p.Subcommand() == nil {
		p.Fail("missing subcommand")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, a, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "diskbrowser: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, a args, out io.Writer) (err error) {
	cfg, err := config.Load(a.Config)
	if err != nil {
		return err
	}

	if err := logging.Init(logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logging.Sync() //nolint:errcheck

	if cfg.Metrics.Textfile != "" {
		defer func() {
			if werr := metrics.WriteTextfile(cfg.Metrics.Textfile); werr != nil {
				logging.Warn("failed to write metrics textfile", zap.String("path", cfg.Metrics.Textfile), zap.Error(werr))
			}
		}()
	}

	registry, err := disk.Open(ctx, cfg.Disks)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := registry.Close(); cerr != nil {
			logging.Warn("failed to close disks", zap.Error(cerr))
		}
	}()

	resolver, closeResolver, err := buildResolver(ctx, cfg.ACL)
	if err != nil {
		return err
	}
	defer closeResolver()

	svc, err := content.New(registry, content.Options{
		Resolver:       resolver,
		ACLEnabled:     cfg.ACL.Enabled,
		HideZeroAccess: cfg.ACL.HideFromFM,
	})
	if err != nil {
		return err
	}

	logging.Debug("configuration loaded",
		zap.String("config", a.Config), zap.Strings("disks", registry.Names()), zap.Bool("acl", cfg.ACL.Enabled))

	var result any
	switch {
	case a.Content != nil:
		switch a.Content.Only {
		case "":
			result, err = svc.ListDirectory(ctx, a.Content.Disk, a.Content.Path)
		case "dirs":
			result, err = svc.DirectoriesOnly(ctx, a.Content.Disk, a.Content.Path)
		case "files":
			result, err = svc.FilesOnly(ctx, a.Content.Disk, a.Content.Path)
		default:
			return fmt.Errorf("--only must be dirs or files, got %q", a.Content.Only)
		}

	case a.Tree != nil:
		result, err = svc.DirectoryTree(ctx, a.Tree.Disk, a.Tree.Path)

	case a.Props != nil:
		if a.Props.Dir {
			result, err = svc.DirectoryProperties(ctx, a.Props.Disk, a.Props.Path)
		} else {
			result, err = svc.FileProperties(ctx, a.Props.Disk, a.Props.Path)
		}

	case a.Search != nil:
		engine, serr := search.New(registry, nil)
		if serr != nil {
			return serr
		}
		result, err = engine.Search(ctx, a.Search.Disk, a.Search.Term)

	case a.Disks != nil:
		result = registry.Names()

	case a.Put != nil:
		result, err = put(registry, a.Put)

	case a.Rm != nil:
		result, err = rm(registry, a.Rm)

	default:
		return fmt.Errorf("missing subcommand")
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func virtualDisk(registry *disk.Registry, name string) (*filesystem.VirtualFS, error) {
	adapter, err := registry.Disk(name)
	if err != nil {
		return nil, err
	}
	vfs, ok := adapter.(*filesystem.VirtualFS)
	if !ok {
		return nil, fmt.Errorf("disk %s is not a virtual disk", name)
	}
	return vfs, nil
}

// put adds an entry to a virtual disk and returns the stored record.
func put(registry *disk.Registry, cmd *PutCmd) (types.FileRecord, error) {
	vfs, err := virtualDisk(registry, cmd.Disk)
	if err != nil {
		return types.FileRecord{}, err
	}

	ts := cmd.Timestamp
	if ts == 0 {
		ts = time.Now().Unix()
	}

	if cmd.Dir {
		if err := vfs.MakeDir(cmd.Path, ts); err != nil {
			return types.FileRecord{}, err
		}
		logging.Info("directory created", logging.Disk(cmd.Disk), logging.Path(filesystem.Clean(cmd.Path)))
		return types.FileRecord{Path: filesystem.Clean(cmd.Path), Type: types.TypeDir, Timestamp: ts}, nil
	}

	record := types.FileRecord{
		Path:       filesystem.Clean(cmd.Path),
		Type:       types.TypeFile,
		Size:       cmd.Size,
		Timestamp:  ts,
		Visibility: types.VisibilityPublic,
	}
	if cmd.Private {
		record.Visibility = types.VisibilityPrivate
	}
	if err := vfs.PutFile(record); err != nil {
		return types.FileRecord{}, err
	}
	logging.Info("file stored", logging.Disk(cmd.Disk), logging.Path(record.Path), zap.Int64("size", record.Size))
	return record, nil
}

// rm removes a file from a virtual disk and returns the removed path.
func rm(registry *disk.Registry, cmd *RmCmd) (string, error) {
	vfs, err := virtualDisk(registry, cmd.Disk)
	if err != nil {
		return "", err
	}
	p := filesystem.Clean(cmd.Path)
	if err := vfs.RemoveFile(p); err != nil {
		return "", err
	}
	logging.Info("file removed", logging.Disk(cmd.Disk), logging.Path(p))
	return p, nil
}
