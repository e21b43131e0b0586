// Package receipt assembles and parses the top-level BOM aggregate: the
// Paths tree, the hard-link index, the 64-bit size overflow index, the
// BomInfo statistics record, and the (currently empty) VIndex — on top
// of pkg/bomfile's block store and pkg/tree's paged codec.
package receipt

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/bomkit/gobom/pkg/bomerr"
	"github.com/bomkit/gobom/pkg/bomfile"
	"github.com/bomkit/gobom/pkg/common/iterator"
	"github.com/bomkit/gobom/pkg/tree"
)

// Entry is one reconstructed (rooted path, metadata) pair, in the same
// dense seq_no order the builder assigned.
type Entry struct {
	Path     string
	Metadata Metadata
	// TrueSize is the entry's full 64-bit size. It equals
	// uint64(Metadata.Size) unless the entry overflowed 32 bits, in
	// which case it comes from the Size64 side index.
	TrueSize uint64
}

// Receipt is an immutable, fully decoded BOM aggregate.
type Receipt struct {
	store   *bomfile.Store
	entries []Entry
	bomInfo BomInfo
}

// BomInfo returns the receipt's decoded per-cpu_type size statistics.
func (r *Receipt) BomInfo() BomInfo {
	return r.bomInfo
}

// Store returns the underlying block store, for callers that need
// lower-level access (e.g. tooling that inspects raw blocks).
func (r *Receipt) Store() *bomfile.Store {
	return r.store
}

// Entries returns every (path, metadata) pair in Paths-tree key order,
// which is the same dense sequence used at build time.
func (r *Receipt) Entries() []Entry {
	return append([]Entry(nil), r.entries...)
}

// Iterator returns a forward-traversal view over Entries satisfying
// iterator.PositionedSequence, for callers using this module's common
// iteration idiom instead of a plain slice.
func (r *Receipt) Iterator() *EntryIterator {
	return newEntryIterator(r.entries)
}

// WriteTo emits the receipt's underlying BOM file to w.
func (r *Receipt) WriteTo(w io.Writer) (int64, error) {
	return r.store.WriteTo(w)
}

// WriteFile atomically writes the receipt's underlying BOM file to path.
func (r *Receipt) WriteFile(path string) error {
	return r.store.WriteFile(path)
}

// Read decodes a complete Receipt from r.
func Read(r io.Reader) (*Receipt, error) {
	store, err := bomfile.Read(r)
	if err != nil {
		return nil, fmt.Errorf("receipt: %w", err)
	}
	return fromStore(store)
}

// Open reads and decodes the Receipt stored at path.
func Open(path string) (*Receipt, error) {
	store, err := bomfile.Open(path)
	if err != nil {
		return nil, fmt.Errorf("receipt: %w", err)
	}
	return fromStore(store)
}

func fromStore(store *bomfile.Store) (*Receipt, error) {
	pathsIdx, ok := store.Named("Paths")
	if !ok {
		return nil, fmt.Errorf("receipt: %w: missing Paths block", bomerr.ErrUnsupported)
	}
	pairs, err := tree.Read(store, pathsIdx)
	if err != nil {
		return nil, fmt.Errorf("receipt: Paths tree: %w", err)
	}

	size64, err := readSize64(store)
	if err != nil {
		return nil, err
	}

	info, err := readBomInfoBlock(store)
	if err != nil {
		return nil, err
	}
	if err := requireVIndex(store); err != nil {
		return nil, err
	}

	pathEntries := make([]PathEntry, 0, len(pairs))
	for _, p := range pairs {
		keyBuf, err := store.Read(p.Key)
		if err != nil {
			return nil, fmt.Errorf("receipt: paths-key block %d: %w", p.Key, err)
		}
		seqNo, metaIdx, err := decodePathsKey(keyBuf)
		if err != nil {
			return nil, err
		}

		valBuf, err := store.Read(p.Value)
		if err != nil {
			return nil, fmt.Errorf("receipt: paths-value block %d: %w", p.Value, err)
		}
		parent, name, err := decodePathsValue(valBuf)
		if err != nil {
			return nil, err
		}

		pathEntries = append(pathEntries, PathEntry{
			SeqNo:         seqNo,
			Parent:        parent,
			Name:          name,
			MetadataIndex: metaIdx,
		})
	}

	sort.SliceStable(pathEntries, func(i, j int) bool {
		return pathEntries[i].SeqNo < pathEntries[j].SeqNo
	})

	resolvedPaths, err := resolvePaths(pathEntries)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, len(pathEntries))
	for i, pe := range pathEntries {
		metaBuf, err := store.Read(pe.MetadataIndex)
		if err != nil {
			return nil, fmt.Errorf("receipt: metadata block %d (seq_no %d): %w", pe.MetadataIndex, pe.SeqNo, err)
		}
		meta, err := DecodeMetadata(metaBuf)
		if err != nil {
			return nil, fmt.Errorf("receipt: metadata block %d (seq_no %d): %w", pe.MetadataIndex, pe.SeqNo, err)
		}

		trueSize := uint64(meta.Size)
		if s, ok := size64[pe.MetadataIndex]; ok {
			trueSize = s
		}

		entries[i] = Entry{
			Path:     resolvedPaths[pe.SeqNo],
			Metadata: meta,
			TrueSize: trueSize,
		}
	}

	return &Receipt{store: store, entries: entries, bomInfo: info}, nil
}

// readBomInfoBlock reads and decodes the BomInfo named block. Like Paths,
// it is required: a store missing it did not come from this package's
// writers.
func readBomInfoBlock(store *bomfile.Store) (BomInfo, error) {
	idx, ok := store.Named("BomInfo")
	if !ok {
		return BomInfo{}, fmt.Errorf("receipt: %w: missing BomInfo block", bomerr.ErrUnsupported)
	}
	data, err := store.Read(idx)
	if err != nil {
		return BomInfo{}, fmt.Errorf("receipt: BomInfo block: %w", err)
	}
	info, err := DecodeBomInfo(data)
	if err != nil {
		return BomInfo{}, fmt.Errorf("receipt: BomInfo block: %w", err)
	}
	return info, nil
}

// requireVIndex confirms the VIndex named block is present. This package
// never populates VIndex's content-matching rules, so beyond presence and
// its fixed 16-byte header there is nothing further to validate.
func requireVIndex(store *bomfile.Store) error {
	idx, ok := store.Named("VIndex")
	if !ok {
		return fmt.Errorf("receipt: %w: missing VIndex block", bomerr.ErrUnsupported)
	}
	data, err := store.Read(idx)
	if err != nil {
		return fmt.Errorf("receipt: VIndex block: %w", err)
	}
	if len(data) < 16 {
		return fmt.Errorf("%w: VIndex block too short (%d bytes)", bomerr.ErrMetadataInvariant, len(data))
	}
	return nil
}

func readSize64(store *bomfile.Store) (map[uint32]uint64, error) {
	idx, ok := store.Named("Size64")
	if !ok {
		return nil, nil
	}
	pairs, err := tree.Read(store, idx)
	if err != nil {
		return nil, fmt.Errorf("receipt: Size64 tree: %w", err)
	}
	out := make(map[uint32]uint64, len(pairs))
	for _, p := range pairs {
		sizeBuf, err := store.Read(p.Key)
		if err != nil {
			return nil, fmt.Errorf("receipt: Size64 size block %d: %w", p.Key, err)
		}
		if len(sizeBuf) != 8 {
			return nil, fmt.Errorf("%w: Size64 size block %d is %d bytes, want 8", bomerr.ErrMetadataInvariant, p.Key, len(sizeBuf))
		}
		out[p.Value] = binary.BigEndian.Uint64(sizeBuf)
	}
	return out, nil
}

func decodePathsKey(buf []byte) (seqNo, metadataIndex uint32, err error) {
	if len(buf) < 8 {
		return 0, 0, fmt.Errorf("%w: paths-key block too short (%d bytes)", bomerr.ErrMetadataInvariant, len(buf))
	}
	return binary.BigEndian.Uint32(buf[0:4]), binary.BigEndian.Uint32(buf[4:8]), nil
}

func encodePathsKey(seqNo, metadataIndex uint32) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf[0:4], seqNo)
	binary.BigEndian.PutUint32(buf[4:8], metadataIndex)
	return buf
}

func decodePathsValue(buf []byte) (parent uint32, name string, err error) {
	if len(buf) < 5 {
		return 0, "", fmt.Errorf("%w: paths-value block too short (%d bytes)", bomerr.ErrMetadataInvariant, len(buf))
	}
	parent = binary.BigEndian.Uint32(buf[0:4])
	nameBytes := buf[4:]
	nulAt := -1
	for i, b := range nameBytes {
		if b == 0 {
			nulAt = i
			break
		}
	}
	if nulAt < 0 {
		return 0, "", fmt.Errorf("%w: paths-value name is not NUL-terminated", bomerr.ErrPathInvariant)
	}
	return parent, string(nameBytes[:nulAt]), nil
}

func encodePathsValue(parent uint32, name string) []byte {
	buf := make([]byte, 4+len(name)+1)
	binary.BigEndian.PutUint32(buf[0:4], parent)
	copy(buf[4:], name)
	return buf
}

// EntryIterator is a forward-only view over a Receipt's entries,
// satisfying iterator.PositionedSequence with domain-named accessors in
// place of the generic byte-slice Key/Value pair.
type EntryIterator struct {
	entries []Entry
	pos     int
}

var _ iterator.PositionedSequence = (*EntryIterator)(nil)

func newEntryIterator(entries []Entry) *EntryIterator {
	return &EntryIterator{entries: entries, pos: -1}
}

func (it *EntryIterator) SeekToFirst() { it.pos = 0 }

func (it *EntryIterator) SeekToLast() { it.pos = len(it.entries) - 1 }

func (it *EntryIterator) Next() bool {
	if it.pos < 0 {
		it.pos = 0
	} else {
		it.pos++
	}
	return it.Valid()
}

func (it *EntryIterator) Valid() bool {
	return it.pos >= 0 && it.pos < len(it.entries)
}

// Path returns the current entry's rooted path.
func (it *EntryIterator) Path() string {
	if !it.Valid() {
		return ""
	}
	return it.entries[it.pos].Path
}

// Metadata returns the current entry's metadata record.
func (it *EntryIterator) Metadata() Metadata {
	if !it.Valid() {
		return Metadata{}
	}
	return it.entries[it.pos].Metadata
}
