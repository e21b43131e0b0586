package receipt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"path"

	"github.com/bomkit/gobom/pkg/bomfile"
	"github.com/bomkit/gobom/pkg/tree"
)

// FromEntries rebuilds a Receipt's block store from a flat list of
// already-decoded (path, metadata) entries, in the order given. It is
// the inverse of Entries for callers that reconstruct a receipt from a
// representation other than the BOM wire format (pkg/archive's record
// stream, most notably), where per-inode hard-link identity is not
// preserved: the rebuilt store's HLIndex is always empty, since Metadata
// carries no device/inode fields to regroup by.
func FromEntries(entries []Entry) (*Receipt, error) {
	store := bomfile.New()

	parentSeq := make(map[string]uint32, len(entries))
	var pathPairs, size64Pairs []tree.Pair
	var fileTotal uint32
	var numPaths uint32
	var hasBomInfo bool

	for i, e := range entries {
		seqNo := uint32(i + 1)
		parentSeq[e.Path] = seqNo

		var parent uint32
		var name string
		if e.Path == "." {
			parent, name = 0, "."
		} else {
			parent, name = parentSeq[path.Dir(e.Path)], path.Base(e.Path)
		}

		metaBytes, err := EncodeMetadata(e.Metadata)
		if err != nil {
			return nil, fmt.Errorf("receipt: %s: %w", e.Path, err)
		}
		metaIndex := store.Allocate(metaBytes)

		if e.TrueSize > math.MaxUint32 {
			sizeBytes := make([]byte, 8)
			binary.BigEndian.PutUint64(sizeBytes, e.TrueSize)
			sizeIndex := store.Allocate(sizeBytes)
			size64Pairs = append(size64Pairs, tree.Pair{Key: sizeIndex, Value: metaIndex})
		}

		keyIndex := store.Allocate(encodePathsKey(seqNo, metaIndex))
		valIndex := store.Allocate(encodePathsValue(parent, name))
		pathPairs = append(pathPairs, tree.Pair{Key: keyIndex, Value: valIndex})
		numPaths++

		if !e.Metadata.PathOnly {
			fileTotal += e.Metadata.Size
			hasBomInfo = true
		}
	}

	info, err := finalizeStore(store, pathPairs, size64Pairs, numPaths, fileTotal, hasBomInfo)
	if err != nil {
		return nil, err
	}

	return &Receipt{store: store, entries: append([]Entry(nil), entries...), bomInfo: info}, nil
}

// finalizeStore writes the same five named blocks ReceiptBuilder.finalize
// writes, minus hard-link grouping (the caller has no device/inode
// identity to group by).
func finalizeStore(store *bomfile.Store, pathPairs, size64Pairs []tree.Pair, numPaths, fileTotal uint32, hasBomInfo bool) (BomInfo, error) {
	pathsRoot, err := tree.Write(store, pathsBlockSize, pathPairs)
	if err != nil {
		return BomInfo{}, fmt.Errorf("receipt: write Paths tree: %w", err)
	}
	if err := store.Register("Paths", pathsRoot); err != nil {
		return BomInfo{}, err
	}

	hlRoot, err := tree.Write(store, hlIndexBlockSize, nil)
	if err != nil {
		return BomInfo{}, fmt.Errorf("receipt: write HLIndex tree: %w", err)
	}
	if err := store.Register("HLIndex", hlRoot); err != nil {
		return BomInfo{}, err
	}

	size64Root, err := tree.Write(store, size64BlockSize, size64Pairs)
	if err != nil {
		return BomInfo{}, fmt.Errorf("receipt: write Size64 tree: %w", err)
	}
	if err := store.Register("Size64", size64Root); err != nil {
		return BomInfo{}, err
	}

	info := BomInfo{Version: 1, NumPaths: numPaths}
	if hasBomInfo {
		info.Entries = []BomInfoEntry{{CPUType: 0, TotalSize: fileTotal}}
	}
	info.NumEntries = uint32(len(info.Entries))
	if _, err := store.AllocateNamed("BomInfo", EncodeBomInfo(info)); err != nil {
		return BomInfo{}, fmt.Errorf("receipt: allocate BomInfo: %w", err)
	}

	vTreeRoot, err := tree.Write(store, vindexBlockSize, nil)
	if err != nil {
		return BomInfo{}, fmt.Errorf("receipt: write VIndex tree: %w", err)
	}
	vBuf := &bytes.Buffer{}
	writeU32(vBuf, 1) // version
	writeU32(vBuf, vTreeRoot)
	writeU32(vBuf, 0) // unknown
	writeU32(vBuf, 0) // unknown
	if _, err := store.AllocateNamed("VIndex", vBuf.Bytes()); err != nil {
		return BomInfo{}, fmt.Errorf("receipt: allocate VIndex: %w", err)
	}

	return info, nil
}
