// Package rconfig holds the ReceiptBuilder's build-time options. It never
// appears in the BOM wire format; it is ambient configuration for the
// builder itself, in the same spirit (validated struct, JSON sidecar file,
// atomic save) as the teacher storage engine's own pkg/config.
package rconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const CurrentOptionsVersion = 1

var (
	// ErrInvalidOptions is returned when a build option combination or
	// value cannot be honored.
	ErrInvalidOptions = errors.New("invalid builder options")
	// ErrOptionsNotFound is returned when LoadOptions is pointed at a
	// path with no sidecar file.
	ErrOptionsNotFound = errors.New("builder options file not found")
)

// Filter decides whether a relative path should be included in the build.
// A nil Filter (the default) includes everything.
type Filter func(relPath string) bool

// Options controls how ReceiptBuilder.Create walks and encodes a directory.
type Options struct {
	Version int `json:"version"`

	// CRC enables POSIX cksum computation for file contents and link
	// targets. Disabling it still records size/mode/ownership but sets
	// checksum fields to zero, matching mkbom's -k-less behavior applied
	// per invocation rather than per file.
	CRC bool `json:"crc"`

	// FollowSymlinks makes the walker stat through symlinks instead of
	// recording them as Link entries.
	FollowSymlinks bool `json:"follow_symlinks"`

	// PathOnly builds a receipt whose metadata records carry no body
	// (mkbom -s), matching scenario S6.
	PathOnly bool `json:"path_only"`

	// TreeBlockSize overrides the page size used for the Paths and
	// HLIndex trees. Zero means "use the format default" (4096).
	TreeBlockSize int `json:"tree_block_size,omitempty"`

	// Filter, when set, is consulted for every walked entry; entries for
	// which it returns false are excluded from the receipt. It is not
	// serialized: a predicate has no stable on-disk representation.
	Filter Filter `json:"-"`

	mu sync.RWMutex
}

// NewDefaultOptions returns the ReceiptBuilder defaults spec.md prescribes:
// CRC on, follow-symlinks off, path-only off, no filter.
func NewDefaultOptions() *Options {
	return &Options{
		Version:        CurrentOptionsVersion,
		CRC:            true,
		FollowSymlinks: false,
		PathOnly:       false,
	}
}

// Validate reports whether the options are internally consistent.
func (o *Options) Validate() error {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if o.Version <= 0 {
		return fmt.Errorf("%w: invalid version %d", ErrInvalidOptions, o.Version)
	}
	if o.TreeBlockSize != 0 {
		if o.TreeBlockSize < 128 || o.TreeBlockSize&(o.TreeBlockSize-1) != 0 {
			return fmt.Errorf("%w: tree block size %d must be a power of two >= 128", ErrInvalidOptions, o.TreeBlockSize)
		}
	}
	return nil
}

// Update applies fn under the write lock, then re-validates.
func (o *Options) Update(fn func(*Options)) error {
	o.mu.Lock()
	fn(o)
	o.mu.Unlock()
	return o.Validate()
}

// Snapshot returns a copy safe to read without holding any lock.
func (o *Options) Snapshot() Options {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return Options{
		Version:        o.Version,
		CRC:            o.CRC,
		FollowSymlinks: o.FollowSymlinks,
		PathOnly:       o.PathOnly,
		TreeBlockSize:  o.TreeBlockSize,
		Filter:         o.Filter,
	}
}

// Save writes the options to <path> as JSON, atomically (temp file plus
// rename), mirroring the block store's own atomic-write discipline.
func (o *Options) Save(path string) error {
	if err := o.Validate(); err != nil {
		return err
	}
	o.mu.RLock()
	data, err := json.MarshalIndent(o, "", "  ")
	o.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal builder options: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create options directory: %w", err)
	}
	tmpPath := filepath.Join(dir, "."+filepath.Base(path)+".tmp")
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write builder options: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename builder options: %w", err)
	}
	return nil
}

// LoadOptions reads options previously written by Save.
func LoadOptions(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrOptionsNotFound
		}
		return nil, fmt.Errorf("read builder options: %w", err)
	}
	var o Options
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return &o, nil
}
