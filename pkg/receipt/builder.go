package receipt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"path"
	"sort"

	"github.com/bomkit/gobom/pkg/bomfile"
	"github.com/bomkit/gobom/pkg/cksum"
	"github.com/bomkit/gobom/pkg/rconfig"
	"github.com/bomkit/gobom/pkg/receipt/walk"
	"github.com/bomkit/gobom/pkg/tree"
)

const (
	pathsBlockSize        = 4096
	hlIndexBlockSize      = 4096
	hlIndexInnerBlockSize = 128
	size64BlockSize       = 128
	vindexBlockSize       = 128
)

// DirWalker produces the deterministic pre-order stream of filesystem
// entries a ReceiptBuilder consumes. walk.Walker is the library's own
// default implementation.
type DirWalker interface {
	Walk(root string) ([]walk.Entry, error)
}

type hardlinkKey struct {
	Dev, Ino uint64
}

type hardlinkGroup struct {
	names         []string
	metadataIndex uint32
}

// ReceiptBuilder accumulates entries from a directory walk into a fresh
// BlockStore, then finalises the five named blocks a Receipt requires.
type ReceiptBuilder struct {
	opts   rconfig.Options
	store  *bomfile.Store
	walker DirWalker

	seqNo       uint32
	numPaths    uint32
	pathPairs   []tree.Pair
	size64Pairs []tree.Pair
	bomInfo     map[uint32]uint32
	hardlinks   map[hardlinkKey]*hardlinkGroup
}

// NewReceiptBuilder returns a builder configured with opts (nil selects
// rconfig.NewDefaultOptions) and the library's default directory walker.
func NewReceiptBuilder(opts *rconfig.Options) *ReceiptBuilder {
	o := rconfig.NewDefaultOptions().Snapshot()
	if opts != nil {
		o = opts.Snapshot()
	}
	return &ReceiptBuilder{
		opts:      o,
		store:     bomfile.New(),
		walker:    walk.Walker{FollowSymlinks: o.FollowSymlinks},
		bomInfo:   make(map[uint32]uint32),
		hardlinks: make(map[hardlinkKey]*hardlinkGroup),
	}
}

// WithWalker overrides the directory walker Create uses, for callers
// traversing something other than the real filesystem.
func (b *ReceiptBuilder) WithWalker(w DirWalker) *ReceiptBuilder {
	b.walker = w
	return b
}

// Create traverses root and builds a Receipt from its contents.
func (b *ReceiptBuilder) Create(root string) (*Receipt, error) {
	items, err := b.walker.Walk(root)
	if err != nil {
		return nil, fmt.Errorf("receipt: walk %s: %w", root, err)
	}

	parentSeq := make(map[string]uint32, len(items))
	entries := make([]Entry, 0, len(items))

	for _, item := range items {
		if b.opts.Filter != nil && item.RelPath != "." && !b.opts.Filter(item.RelPath) {
			continue
		}

		var parent uint32
		var name string
		if item.RelPath == "." {
			parent, name = 0, "."
		} else {
			parent, name = parentSeq[path.Dir(item.RelPath)], path.Base(item.RelPath)
		}

		seqNo := b.nextSeqNo()
		parentSeq[item.RelPath] = seqNo

		meta, trueSize, err := b.buildMetadata(item)
		if err != nil {
			return nil, fmt.Errorf("receipt: %s: %w", item.RelPath, err)
		}

		metaBytes, err := EncodeMetadata(meta)
		if err != nil {
			return nil, fmt.Errorf("receipt: %s: %w", item.RelPath, err)
		}
		metaIndex := b.store.Allocate(metaBytes)

		if trueSize > math.MaxUint32 {
			sizeBytes := make([]byte, 8)
			binary.BigEndian.PutUint64(sizeBytes, trueSize)
			sizeIndex := b.store.Allocate(sizeBytes)
			b.size64Pairs = append(b.size64Pairs, tree.Pair{Key: sizeIndex, Value: metaIndex})
		}

		keyIndex := b.store.Allocate(encodePathsKey(seqNo, metaIndex))
		valIndex := b.store.Allocate(encodePathsValue(parent, name))
		b.pathPairs = append(b.pathPairs, tree.Pair{Key: keyIndex, Value: valIndex})
		b.numPaths++

		if !b.opts.PathOnly {
			b.bomInfo[0] += meta.Size
		}
		if item.Type != walk.Directory && item.Ino != 0 {
			b.trackHardlink(item, metaIndex)
		}

		entries = append(entries, Entry{Path: item.RelPath, Metadata: meta, TrueSize: trueSize})
	}

	info, err := b.finalize()
	if err != nil {
		return nil, err
	}

	return &Receipt{store: b.store, entries: entries, bomInfo: info}, nil
}

func (b *ReceiptBuilder) nextSeqNo() uint32 {
	b.seqNo++
	return b.seqNo
}

func (b *ReceiptBuilder) buildMetadata(item walk.Entry) (Metadata, uint64, error) {
	typ, err := entryTypeOf(item.Type)
	if err != nil {
		return Metadata{}, 0, err
	}

	if b.opts.PathOnly {
		return Metadata{Type: typ, PathOnly: true}, item.Size, nil
	}

	m := Metadata{
		Type:  typ,
		Mode:  item.Mode,
		Uid:   item.Uid,
		Gid:   item.Gid,
		Mtime: item.Mtime,
		Size:  uint32(item.Size),
	}

	switch typ {
	case EntryFile:
		if b.opts.CRC && item.Open != nil {
			crc, err := checksumReader(item.Open)
			if err != nil {
				return Metadata{}, 0, err
			}
			m.Checksum = crc
		}
	case EntryLink:
		m.Target = item.LinkTarget
		m.TargetLen = uint32(len(item.LinkTarget) + 1)
		if b.opts.CRC {
			crc, _ := cksum.Sum([]byte(item.LinkTarget))
			m.Checksum = crc
		}
	case EntryDevice:
		m.Dev = item.Rdev
	case EntryDirectory:
	}

	return m, item.Size, nil
}

func entryTypeOf(t walk.FileType) (EntryType, error) {
	switch t {
	case walk.File:
		return EntryFile, nil
	case walk.Directory:
		return EntryDirectory, nil
	case walk.Link:
		return EntryLink, nil
	case walk.Device:
		return EntryDevice, nil
	default:
		return 0, fmt.Errorf("receipt: unrecognised walker file type %d", t)
	}
}

func checksumReader(open func() (io.ReadCloser, error)) (uint32, error) {
	f, err := open()
	if err != nil {
		return 0, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return 0, err
	}
	crc, _ := cksum.Sum(data)
	return crc, nil
}

func (b *ReceiptBuilder) trackHardlink(item walk.Entry, metaIndex uint32) {
	key := hardlinkKey{Dev: item.Dev, Ino: item.Ino}
	g, ok := b.hardlinks[key]
	if !ok {
		g = &hardlinkGroup{metadataIndex: metaIndex}
		b.hardlinks[key] = g
	}
	g.names = append(g.names, item.RelPath)
}

func (b *ReceiptBuilder) treeBlockSize(defaultSize int) int {
	if b.opts.TreeBlockSize != 0 {
		return b.opts.TreeBlockSize
	}
	return defaultSize
}

func (b *ReceiptBuilder) finalize() (BomInfo, error) {
	pathsRoot, err := tree.Write(b.store, b.treeBlockSize(pathsBlockSize), b.pathPairs)
	if err != nil {
		return BomInfo{}, fmt.Errorf("receipt: write Paths tree: %w", err)
	}
	if err := b.store.Register("Paths", pathsRoot); err != nil {
		return BomInfo{}, err
	}

	hlPairs, err := b.buildHLIndexPairs()
	if err != nil {
		return BomInfo{}, err
	}
	hlRoot, err := tree.Write(b.store, b.treeBlockSize(hlIndexBlockSize), hlPairs)
	if err != nil {
		return BomInfo{}, fmt.Errorf("receipt: write HLIndex tree: %w", err)
	}
	if err := b.store.Register("HLIndex", hlRoot); err != nil {
		return BomInfo{}, err
	}

	size64Root, err := tree.Write(b.store, size64BlockSize, b.size64Pairs)
	if err != nil {
		return BomInfo{}, fmt.Errorf("receipt: write Size64 tree: %w", err)
	}
	if err := b.store.Register("Size64", size64Root); err != nil {
		return BomInfo{}, err
	}

	info := b.buildBomInfo()
	if _, err := b.store.AllocateNamed("BomInfo", EncodeBomInfo(info)); err != nil {
		return BomInfo{}, fmt.Errorf("receipt: allocate BomInfo: %w", err)
	}

	vIndexBytes, err := b.buildVIndex()
	if err != nil {
		return BomInfo{}, err
	}
	if _, err := b.store.AllocateNamed("VIndex", vIndexBytes); err != nil {
		return BomInfo{}, fmt.Errorf("receipt: allocate VIndex: %w", err)
	}

	return info, nil
}

func (b *ReceiptBuilder) buildBomInfo() BomInfo {
	info := BomInfo{Version: 1, NumPaths: b.numPaths}

	cpuTypes := make([]uint32, 0, len(b.bomInfo))
	for cpuType := range b.bomInfo {
		cpuTypes = append(cpuTypes, cpuType)
	}
	sort.Slice(cpuTypes, func(i, j int) bool { return cpuTypes[i] < cpuTypes[j] })

	for _, cpuType := range cpuTypes {
		info.Entries = append(info.Entries, BomInfoEntry{CPUType: cpuType, TotalSize: b.bomInfo[cpuType]})
	}
	info.NumEntries = uint32(len(info.Entries))
	return info
}

// buildHLIndexPairs assembles the HLIndex tree: one entry per inode with
// two or more names, keyed by a pointer block to an inner tree of the
// group's names, valued by the group's shared metadata block index.
func (b *ReceiptBuilder) buildHLIndexPairs() ([]tree.Pair, error) {
	keys := make([]hardlinkKey, 0)
	for k, g := range b.hardlinks {
		if len(g.names) >= 2 {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Dev != keys[j].Dev {
			return keys[i].Dev < keys[j].Dev
		}
		return keys[i].Ino < keys[j].Ino
	})

	pairs := make([]tree.Pair, 0, len(keys))
	for _, k := range keys {
		g := b.hardlinks[k]
		names := append([]string(nil), g.names...)
		sort.Strings(names)

		innerPairs := make([]tree.Pair, 0, len(names))
		for _, name := range names {
			nameIndex := b.store.Allocate(append([]byte(name), 0))
			innerPairs = append(innerPairs, tree.Pair{Key: nameIndex, Value: 0})
		}
		innerRoot, err := tree.Write(b.store, hlIndexInnerBlockSize, innerPairs)
		if err != nil {
			return nil, fmt.Errorf("receipt: write HLIndex inner tree: %w", err)
		}

		ptrBuf := make([]byte, 4)
		binary.BigEndian.PutUint32(ptrBuf, innerRoot)
		ptrIndex := b.store.Allocate(ptrBuf)

		pairs = append(pairs, tree.Pair{Key: ptrIndex, Value: g.metadataIndex})
	}
	return pairs, nil
}

// buildVIndex writes an empty regex-list tree: this implementation never
// populates VIndex's content-matching rules (no scenario in this
// module's contract exercises them), but the named block and its
// packed-record shape are still emitted for structural completeness.
func (b *ReceiptBuilder) buildVIndex() ([]byte, error) {
	vTreeRoot, err := tree.Write(b.store, vindexBlockSize, nil)
	if err != nil {
		return nil, fmt.Errorf("receipt: write VIndex tree: %w", err)
	}
	buf := &bytes.Buffer{}
	writeU32(buf, 1) // version
	writeU32(buf, vTreeRoot)
	writeU32(buf, 0) // unknown
	writeU32(buf, 0) // unknown
	return buf.Bytes(), nil
}
