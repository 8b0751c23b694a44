package types

import "errors"

var (
	// ErrNotFound is returned when a path does not exist on a disk
	ErrNotFound = errors.New("path not found")
	// ErrBackendUnavailable wraps driver I/O failures (network, permission)
	ErrBackendUnavailable = errors.New("storage backend unavailable")
	// ErrUnknownDisk is returned when a disk name is not registered
	ErrUnknownDisk = errors.New("unknown disk")
)

// EntryType distinguishes files from directories
type EntryType string

const (
	TypeFile EntryType = "file"
	TypeDir  EntryType = "dir"
)

// Visibility is the backend-reported access mode of a file
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// RawEntry is a single item as reported by a storage adapter listing
type RawEntry struct {
	Type      EntryType `json:"type"`
	Path      string    `json:"path"`
	Size      *int64    `json:"size,omitempty"`
	Timestamp *int64    `json:"timestamp,omitempty"`
}

// DirProps carries tree-view hints for a directory entry
type DirProps struct {
	HasSubdirectories bool `json:"hasSubdirectories"`
}

// Entry is the normalized description of one file or directory.
// Pointer fields are nil when the value does not apply to the entry type
// or the backend could not provide it.
type Entry struct {
	Type       EntryType  `json:"type"`
	Path       string     `json:"path"`
	Basename   string     `json:"basename"`
	Dirname    string     `json:"dirname"`
	Extension  *string    `json:"extension,omitempty"`
	Filename   *string    `json:"filename,omitempty"`
	Size       *int64     `json:"size,omitempty"`
	Timestamp  *int64     `json:"timestamp,omitempty"`
	Visibility Visibility `json:"visibility,omitempty"`
	ACL        *int       `json:"acl,omitempty"`
	Props      *DirProps  `json:"props,omitempty"`
}

// Listing groups entries by category
type Listing struct {
	Directories []Entry `json:"directories"`
	Files       []Entry `json:"files"`
}

// FileRecord is a persisted item of a virtual disk
type FileRecord struct {
	Path       string     `json:"path"`
	Type       EntryType  `json:"type"`
	Size       int64      `json:"size"`
	Timestamp  int64      `json:"timestamp"`
	Visibility Visibility `json:"visibility"`
}

// ACLRule grants an access level to paths of a disk matching a pattern
type ACLRule struct {
	Disk   string `json:"disk" mapstructure:"disk" validate:"required"`
	Path   string `json:"path" mapstructure:"path" validate:"required"`
	Access int    `json:"access" mapstructure:"access" validate:"gte=0,lte=2"`
}

// Int64 returns a pointer to v
func Int64(v int64) *int64 {
	return &v
}

// String returns a pointer to v
func String(v string) *string {
	return &v
}
