// Package bomerr defines the sentinel error kinds shared by every layer of
// gobom, so callers can classify a failure with errors.Is/errors.As instead
// of parsing message text.
package bomerr

import "errors"

var (
	// ErrBadMagic is returned when a BOM or tree header's magic bytes do
	// not match what the format expects.
	ErrBadMagic = errors.New("bad magic")

	// ErrBadVersion is returned when a header's version field is not the
	// one this implementation supports.
	ErrBadVersion = errors.New("unsupported version")

	// ErrBlockOutOfRange is returned when a stored index refers to a
	// block beyond the occupied table.
	ErrBlockOutOfRange = errors.New("block index out of range")

	// ErrTreeInvariant is returned when a tree's accumulated entry count
	// disagrees with its declared num_entries, or a cycle is detected in
	// its data-node chain.
	ErrTreeInvariant = errors.New("tree invariant violated")

	// ErrMetadataInvariant is returned when a metadata record's
	// entry_type, flags, and mode disagree, or a variant tail is
	// malformed.
	ErrMetadataInvariant = errors.New("metadata invariant violated")

	// ErrPathInvariant is returned when a path component contains a
	// forbidden byte or the parent chain cycles without reaching the
	// root.
	ErrPathInvariant = errors.New("path invariant violated")

	// ErrUnsupported is returned for an entry type, flags value, or
	// cpu_type this implementation refuses to encode or decode.
	ErrUnsupported = errors.New("unsupported value")

	// ErrArchiveInvariant is returned when a compressed archive stream's
	// record framing is truncated or malformed.
	ErrArchiveInvariant = errors.New("archive invariant violated")
)
