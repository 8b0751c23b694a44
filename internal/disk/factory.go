package disk

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"

	"diskbrowser/internal/disk/local"
	"diskbrowser/internal/disk/s3"
	"diskbrowser/internal/disk/sftp"
	"diskbrowser/internal/filesystem"
	"diskbrowser/internal/storage"
)

// Driver names accepted in Config.Driver.
const (
	DriverLocal   = "local"
	DriverS3      = "s3"
	DriverSFTP    = "sftp"
	DriverVirtual = "virtual"
)

// Config selects a driver and carries its driver-specific options.
type Config struct {
	Driver  string         `mapstructure:"driver" validate:"required,oneof=local s3 sftp virtual"`
	Options map[string]any `mapstructure:"options"`
}

// VirtualConfig holds options for the virtual driver.
type VirtualConfig struct {
	DataDir  string `mapstructure:"data_dir" validate:"required_without=InMemory"`
	InMemory bool   `mapstructure:"in_memory"`
}

var validate = validator.New()

// Open builds a registry with one adapter per configured disk. On failure
// every disk opened so far is closed.
func Open(ctx context.Context, configs map[string]Config) (*Registry, error) {
	names := make([]string, 0, len(configs))
	for name := range configs {
		names = append(names, name)
	}
	sort.Strings(names)

	registry := NewRegistry()
	for _, name := range names {
		adapter, err := New(ctx, configs[name])
		if err != nil {
			registry.Close()
			return nil, fmt.Errorf("disk %s: %w", name, err)
		}
		if err := registry.Register(name, adapter); err != nil {
			if c, ok := adapter.(Closer); ok {
				c.Close()
			}
			registry.Close()
			return nil, err
		}
	}
	return registry, nil
}

// New creates a single adapter from its config.
func New(ctx context.Context, cfg Config) (Adapter, error) {
	switch cfg.Driver {
	case DriverLocal:
		var opts local.Config
		if err := decode(cfg.Options, &opts); err != nil {
			return nil, err
		}
		return local.New(opts)

	case DriverS3:
		var opts s3.Config
		if err := decode(cfg.Options, &opts); err != nil {
			return nil, err
		}
		return s3.NewFromConfig(ctx, opts)

	case DriverSFTP:
		var opts sftp.Config
		if err := decode(cfg.Options, &opts); err != nil {
			return nil, err
		}
		return sftp.Dial(opts)

	case DriverVirtual:
		var opts VirtualConfig
		if err := decode(cfg.Options, &opts); err != nil {
			return nil, err
		}
		return OpenVirtual(opts)

	default:
		return nil, fmt.Errorf("unknown driver: %q", cfg.Driver)
	}
}

// OpenVirtual opens the badger store behind a virtual disk and indexes it.
func OpenVirtual(cfg VirtualConfig) (*filesystem.VirtualFS, error) {
	var (
		store *storage.PersistentStore
		err   error
	)
	if cfg.InMemory {
		store, err = storage.NewInMemory()
	} else {
		store, err = storage.New(cfg.DataDir)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open virtual disk store: %w", err)
	}

	vfs, err := filesystem.New(store)
	if err != nil {
		store.Close()
		return nil, err
	}
	return vfs, nil
}

// decode maps a driver option table onto a typed config and validates it.
// Weak typing lets env overrides such as "22" land in int fields.
func decode(options map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return fmt.Errorf("failed to create options decoder: %w", err)
	}
	if err := decoder.Decode(options); err != nil {
		return fmt.Errorf("failed to decode driver options: %w", err)
	}
	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("invalid driver options: %w", err)
	}
	return nil
}
